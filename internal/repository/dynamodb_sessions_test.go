package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"shop-assistant/internal/domain"
)

func mustNewSessions(t *testing.T, db *fakeDynamo, window int) *DynamoSessions {
	t.Helper()
	s, err := NewDynamoSessions(db, "state-table", window, time.Hour)
	require.NoError(t, err)
	return s
}

func TestNewDynamoSessions_Validation(t *testing.T) {
	_, err := NewDynamoSessions(nil, "t", 10, 0)
	require.ErrorContains(t, err, "must not be nil")
	_, err = NewDynamoSessions(newFakeDynamo(), " ", 10, 0)
	require.ErrorContains(t, err, "must not be empty")

	s, err := NewDynamoSessions(newFakeDynamo(), "t", 0, 0)
	require.NoError(t, err)
	require.Equal(t, 10, s.window)
	require.Equal(t, 24*time.Hour, s.ttl)
}

func TestDynamoSessions_GetMissing(t *testing.T) {
	s := mustNewSessions(t, newFakeDynamo(), 10)
	turns, err := s.Get(context.Background(), "15551234567")
	require.NoError(t, err)
	require.NotNil(t, turns)
	require.Empty(t, turns)
}

func TestDynamoSessions_AppendAndGet(t *testing.T) {
	db := newFakeDynamo()
	s := mustNewSessions(t, db, 10)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "k", domain.AssistantTurn("welcome")))
	require.Equal(t, "attribute_not_exists(PK)", *db.lastPutInput.ConditionExpression)

	require.NoError(t, s.Append(ctx, "k", domain.UserTurn("robes?", "Ana"), domain.AssistantTurn("here")))
	require.Equal(t, "#version = :v", *db.lastPutInput.ConditionExpression)

	turns, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Len(t, turns, 3)
	require.Equal(t, "welcome", turns[0].Text)
	require.Equal(t, "Ana", turns[1].DisplayName)
	require.Equal(t, domain.RoleAssistant, turns[2].Role)

	item := db.items["SESSION#k|"+skSession]
	version, err := int64Attr(item, "version")
	require.NoError(t, err)
	require.Equal(t, int64(2), version)
	ttl, err := int64Attr(item, "ttl")
	require.NoError(t, err)
	require.Greater(t, ttl, time.Now().Unix())
}

func TestDynamoSessions_AppendTruncatesToWindow(t *testing.T) {
	s := mustNewSessions(t, newFakeDynamo(), 4)
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		require.NoError(t, s.Append(ctx, "k", domain.UserTurn(fmt.Sprintf("m%d", i), "")))
	}
	turns, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Len(t, turns, 4)
	require.Equal(t, "m3", turns[0].Text)
	require.Equal(t, "m6", turns[3].Text)
}

func TestDynamoSessions_AppendRetriesOnConflict(t *testing.T) {
	db := newFakeDynamo()
	s := mustNewSessions(t, db, 10)
	db.putConflicts = 2

	require.NoError(t, s.Append(context.Background(), "k", domain.UserTurn("hi", "")))
	require.Equal(t, 3, db.puts)
}

func TestDynamoSessions_AppendGivesUpAfterConflicts(t *testing.T) {
	db := newFakeDynamo()
	s := mustNewSessions(t, db, 10)
	db.putConflicts = maxAppendAttempts

	err := s.Append(context.Background(), "k", domain.UserTurn("hi", ""))
	require.Error(t, err)
	require.True(t, isConditionFailed(err))
	require.Equal(t, maxAppendAttempts, db.puts)
}

func TestDynamoSessions_AppendNothing(t *testing.T) {
	db := newFakeDynamo()
	s := mustNewSessions(t, db, 10)
	require.NoError(t, s.Append(context.Background(), "k"))
	require.Equal(t, 0, db.puts)
}

func TestDynamoSessions_ExpiredItemReadsEmpty(t *testing.T) {
	db := newFakeDynamo()
	s := mustNewSessions(t, db, 10)
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, "k", domain.UserTurn("old", "")))

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	turns, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Empty(t, turns)

	require.NoError(t, s.Append(ctx, "k", domain.UserTurn("new", "")))
	turns, err = s.Get(ctx, "k")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	require.Equal(t, "new", turns[0].Text)
}

func TestDynamoSessions_Clear(t *testing.T) {
	db := newFakeDynamo()
	s := mustNewSessions(t, db, 10)
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, "k", domain.UserTurn("hi", "")))
	require.NoError(t, s.Clear(ctx, "k"))
	require.NoError(t, s.Clear(ctx, "k"))

	turns, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.Empty(t, turns)
}

func TestDynamoSessions_Errors(t *testing.T) {
	ctx := context.Background()

	db := newFakeDynamo()
	db.getErr = errBoom
	s := mustNewSessions(t, db, 10)
	_, err := s.Get(ctx, "k")
	require.ErrorContains(t, err, "session Get")
	require.ErrorIs(t, err, errBoom)

	db = newFakeDynamo()
	db.putErr = errBoom
	s = mustNewSessions(t, db, 10)
	require.ErrorIs(t, s.Append(ctx, "k", domain.UserTurn("hi", "")), errBoom)
	require.Equal(t, 1, db.puts)

	db = newFakeDynamo()
	db.deleteErr = errBoom
	s = mustNewSessions(t, db, 10)
	require.ErrorContains(t, s.Clear(ctx, "k"), "session Clear")
}

func TestDynamoSessions_MalformedTurns(t *testing.T) {
	db := newFakeDynamo()
	db.items["SESSION#k|"+skSession] = map[string]types.AttributeValue{
		"PK":      strValue("SESSION#k"),
		"SK":      strValue(skSession),
		"version": numValue(1),
		"turns":   strValue("not json"),
	}
	s := mustNewSessions(t, db, 10)
	_, err := s.Get(context.Background(), "k")
	require.ErrorContains(t, err, "decode turns")
}

func TestSessionPK(t *testing.T) {
	require.Equal(t, "SESSION#15551234567", sessionPK("15551234567"))
}
