package recommend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"shop-assistant/internal/conversation"
	"shop-assistant/internal/domain"
	"shop-assistant/internal/integrations/openai"
)

type mockLLM struct {
	answer    string
	err       error
	flagged   bool
	modErr    error
	gotModel  string
	gotPrompt []domain.ChatMessage
}

func (m *mockLLM) Chat(_ context.Context, model string, messages []domain.ChatMessage) (string, error) {
	m.gotModel = model
	m.gotPrompt = messages
	return m.answer, m.err
}

func (m *mockLLM) Moderate(_ context.Context, _ string) (bool, error) {
	return m.flagged, m.modErr
}

func TestNewService_NilClient(t *testing.T) {
	_, err := NewService(nil)
	require.ErrorContains(t, err, "nil")
}

func TestNewService_Options(t *testing.T) {
	s, err := NewService(&mockLLM{}, WithModel(" gpt-4o-mini "), WithCatalogLimit(5), WithStoreName("EVOLOVE"), WithCatalogLimit(0), WithModel(""))
	require.NoError(t, err)
	require.Equal(t, "gpt-4o-mini", s.model)
	require.Equal(t, 5, s.catalogLimit)
	require.Equal(t, "EVOLOVE", s.storeName)
}

func TestRecommend_Success(t *testing.T) {
	llm := &mockLLM{answer: "  Try the robe.  "}
	s, err := NewService(llm)
	require.NoError(t, err)

	history := []domain.Turn{
		domain.AssistantTurn("Welcome!"),
		domain.UserTurn("something warm", "Ana"),
	}
	reply, err := s.Recommend(context.Background(), "something warm", []domain.Product{{ID: "P1", Name: "Robe", Price: 40}}, history)
	require.NoError(t, err)
	require.Equal(t, "Try the robe.", reply)
	require.Equal(t, DefaultModel, llm.gotModel)

	require.Len(t, llm.gotPrompt, 3)
	require.Equal(t, "system", llm.gotPrompt[0].Role)
	require.Contains(t, llm.gotPrompt[0].Content, "Name: Robe")
	require.Equal(t, domain.ChatMessage{Role: "assistant", Content: "Welcome!"}, llm.gotPrompt[1])
	require.Equal(t, domain.ChatMessage{Role: "user", Content: "something warm"}, llm.gotPrompt[2])
}

func TestRecommend_EmptyUtterance(t *testing.T) {
	s, err := NewService(&mockLLM{answer: "x"})
	require.NoError(t, err)
	_, err = s.Recommend(context.Background(), "  ", nil, nil)
	require.Equal(t, conversation.ErrorInvalidInput, conversation.CodeOf(err))
}

func TestRecommend_EmptyReplyIsMalformed(t *testing.T) {
	s, err := NewService(&mockLLM{answer: " \n "})
	require.NoError(t, err)
	_, err = s.Recommend(context.Background(), "robes", nil, nil)
	require.Equal(t, conversation.ErrorMalformedResponse, conversation.CodeOf(err))
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestRecommend_ClassifiesFailures(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		code   conversation.ErrorCode
		reason string
	}{
		{"rate limited", fmt.Errorf("openai: request failed: %w", &openai.HTTPStatusError{StatusCode: http.StatusTooManyRequests}), conversation.ErrorRateLimited, "openai_rate_limited"},
		{"server error", &openai.HTTPStatusError{StatusCode: http.StatusBadGateway}, conversation.ErrorUpstreamUnavailable, "openai_error"},
		{"unauthorized", &openai.HTTPStatusError{StatusCode: http.StatusUnauthorized}, conversation.ErrorUpstreamUnavailable, "openai_error"},
		{"deadline", fmt.Errorf("openai: request failed: %w", context.DeadlineExceeded), conversation.ErrorNetwork, "openai_network_error"},
		{"cancelled", fmt.Errorf("openai: request failed: %w", context.Canceled), conversation.ErrorNetwork, "openai_cancelled"},
		{"net error", &url.Error{Op: "Post", URL: "https://api.openai.com", Err: timeoutErr{}}, conversation.ErrorNetwork, "openai_network_error"},
		{"malformed", fmt.Errorf("%w: no choices in response", openai.ErrMalformedResponse), conversation.ErrorMalformedResponse, "openai_malformed_response"},
		{"other", errors.New("openai: fetch api key: denied"), conversation.ErrorUpstreamUnavailable, "openai_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := NewService(&mockLLM{err: tc.err})
			require.NoError(t, err)

			_, err = s.Recommend(context.Background(), "robes", nil, nil)
			var ce *conversation.Error
			require.True(t, errors.As(err, &ce))
			require.Equal(t, tc.code, ce.Code)
			require.Equal(t, tc.reason, ce.Reason)
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestModerate(t *testing.T) {
	s, err := NewService(&mockLLM{flagged: true})
	require.NoError(t, err)
	flagged, err := s.Moderate(context.Background(), "x")
	require.NoError(t, err)
	require.True(t, flagged)

	s, err = NewService(&mockLLM{modErr: &openai.HTTPStatusError{StatusCode: http.StatusTooManyRequests}})
	require.NoError(t, err)
	_, err = s.Moderate(context.Background(), "x")
	var ce *conversation.Error
	require.True(t, errors.As(err, &ce))
	require.Equal(t, conversation.ErrorRateLimited, ce.Code)
	require.Equal(t, "moderation_rate_limited", ce.Reason)
}
