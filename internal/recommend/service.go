// Package recommend turns a user utterance, the catalog and recent history
// into a model-written product recommendation.
package recommend

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"shop-assistant/internal/conversation"
	"shop-assistant/internal/domain"
	"shop-assistant/internal/integrations/openai"
)

const (
	DefaultModel        = "gpt-3.5-turbo"
	DefaultCatalogLimit = 50
	defaultStoreName    = "our store"
)

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
	Moderate(ctx context.Context, input string) (bool, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

type Service struct {
	llm          LLMClient
	model        string
	catalogLimit int
	storeName    string
}

type Option func(*Service)

func WithModel(model string) Option {
	return func(s *Service) {
		if model = strings.TrimSpace(model); model != "" {
			s.model = model
		}
	}
}

// WithCatalogLimit caps how many products are described to the model.
func WithCatalogLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.catalogLimit = n
		}
	}
}

func WithStoreName(name string) Option {
	return func(s *Service) {
		if name = strings.TrimSpace(name); name != "" {
			s.storeName = name
		}
	}
}

func NewService(llm LLMClient, opts ...Option) (*Service, error) {
	if llm == nil {
		return nil, errors.New("recommend: llm client must not be nil")
	}
	s := &Service{
		llm:          llm,
		model:        DefaultModel,
		catalogLimit: DefaultCatalogLimit,
		storeName:    defaultStoreName,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Recommend asks the model for a reply. Failures come back as
// *conversation.Error with a model error code.
func (s *Service) Recommend(ctx context.Context, utterance string, catalog []domain.Product, history []domain.Turn) (string, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return "", conversation.NewError(conversation.ErrorInvalidInput, "empty_utterance", nil)
	}
	messages := buildPromptMessages(s.storeName, catalog, s.catalogLimit, utterance, history)

	reply, err := s.llm.Chat(ctx, s.model, messages)
	if err != nil {
		return "", classify("openai", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", conversation.NewError(conversation.ErrorMalformedResponse, "openai_empty_reply", nil)
	}
	return reply, nil
}

// Moderate reports whether input is flagged, classifying failures the same
// way as Recommend.
func (s *Service) Moderate(ctx context.Context, input string) (bool, error) {
	flagged, err := s.llm.Moderate(ctx, input)
	if err != nil {
		return false, classify("moderation", err)
	}
	return flagged, nil
}

func classify(source string, err error) error {
	var classified *conversation.Error
	if errors.As(err, &classified) {
		return classified
	}
	if errors.Is(err, openai.ErrMalformedResponse) {
		return conversation.NewError(conversation.ErrorMalformedResponse, source+"_malformed_response", err)
	}
	if status, ok := upstreamStatusCode(err); ok {
		if status == http.StatusTooManyRequests {
			return conversation.NewError(conversation.ErrorRateLimited, source+"_rate_limited", err)
		}
		return conversation.NewError(conversation.ErrorUpstreamUnavailable, source+"_error", err)
	}
	if errors.Is(err, context.Canceled) {
		return conversation.NewError(conversation.ErrorNetwork, source+"_cancelled", err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return conversation.NewError(conversation.ErrorNetwork, source+"_network_error", err)
	}
	return conversation.NewError(conversation.ErrorUpstreamUnavailable, source+"_error", err)
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
