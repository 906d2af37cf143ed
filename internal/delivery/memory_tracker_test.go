package delivery

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"shop-assistant/internal/domain"
)

func TestRecord_CreatesSentRecord(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tr := NewMemoryTracker(WithClock(func() time.Time { return now }))

	require.NoError(t, tr.Record(ctx, "SM1", "15551234567", 2, 3))

	rec, ok, err := tr.Get(ctx, "SM1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.DeliveryRecord{
		ID:          "SM1",
		Recipient:   "15551234567",
		Status:      domain.StatusSent,
		CreatedAt:   now,
		UpdatedAt:   now,
		Chunk:       2,
		TotalChunks: 3,
	}, rec)
}

func TestRecord_OverwritesSilently(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker()
	require.NoError(t, tr.Record(ctx, "SM1", "a", 1, 1))
	require.NoError(t, tr.UpdateStatus(ctx, "SM1", domain.StatusRead, "", ""))
	require.NoError(t, tr.Record(ctx, "SM1", "b", 1, 2))

	rec, ok, err := tr.Get(ctx, "SM1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "b", rec.Recipient)
	require.Equal(t, domain.StatusSent, rec.Status)
	require.Equal(t, 1, tr.Len())
}

func TestUpdateStatus_UnknownIDIsNoop(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker()
	require.NoError(t, tr.Record(ctx, "SM1", "a", 1, 1))

	require.NoError(t, tr.UpdateStatus(ctx, "SM-missing", domain.StatusDelivered, "30003", "unreachable"))

	require.Equal(t, 1, tr.Len())
	_, ok, err := tr.Get(ctx, "SM-missing")
	require.NoError(t, err)
	require.False(t, ok)
	rec, _, err := tr.Get(ctx, "SM1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusSent, rec.Status)
}

func TestUpdateStatus_OverwritesAndAttachesErrors(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tr := NewMemoryTracker(WithClock(func() time.Time { return now }))
	require.NoError(t, tr.Record(ctx, "SM1", "a", 1, 1))

	now = now.Add(time.Minute)
	require.NoError(t, tr.UpdateStatus(ctx, "SM1", domain.StatusDelivered, "", ""))
	rec, _, _ := tr.Get(ctx, "SM1")
	require.Equal(t, domain.StatusDelivered, rec.Status)
	require.Equal(t, now, rec.UpdatedAt)
	require.Empty(t, rec.ErrorCode)

	// Regressions are accepted as-is.
	require.NoError(t, tr.UpdateStatus(ctx, "SM1", domain.StatusUndelivered, "30003", "Unreachable destination handset"))
	rec, _, _ = tr.Get(ctx, "SM1")
	require.Equal(t, domain.StatusUndelivered, rec.Status)
	require.Equal(t, "30003", rec.ErrorCode)
	require.Equal(t, "Unreachable destination handset", rec.ErrorMessage)

	require.NoError(t, tr.UpdateStatus(ctx, "SM1", domain.StatusSent, "", ""))
	rec, _, _ = tr.Get(ctx, "SM1")
	require.Equal(t, domain.StatusSent, rec.Status)
	require.Equal(t, "30003", rec.ErrorCode)
}

func TestStats_AggregatesAndFilters(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker()
	statuses := []domain.DeliveryStatus{
		domain.StatusSent, domain.StatusDelivered, domain.StatusRead,
		domain.StatusFailed, domain.StatusUndelivered, "queued",
	}
	for i, st := range statuses {
		recipient := "alice"
		if i%2 == 1 {
			recipient = "bob"
		}
		id := fmt.Sprintf("SM%d", i)
		require.NoError(t, tr.Record(ctx, id, recipient, 1, 1))
		require.NoError(t, tr.UpdateStatus(ctx, id, st, "", ""))
	}

	all, err := tr.Stats(ctx, "")
	require.NoError(t, err)
	require.Equal(t, domain.DeliveryStats{Total: 6, Sent: 1, Delivered: 1, Read: 1, Failed: 1, Undelivered: 1, Other: 1}, all)
	require.Equal(t, all.Total, all.Sent+all.Delivered+all.Read+all.Failed+all.Undelivered+all.Other)

	alice, err := tr.Stats(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.DeliveryStats{Total: 3, Sent: 1, Read: 1, Undelivered: 1}, alice)

	none, err := tr.Stats(ctx, "carol")
	require.NoError(t, err)
	require.Equal(t, domain.DeliveryStats{}, none)
}

func TestMemoryTracker_PrunesExpiredAndCaps(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tr := NewMemoryTracker(
		WithTTL(time.Hour),
		WithMaxRecords(3),
		WithClock(func() time.Time { return now }),
	)

	require.NoError(t, tr.Record(ctx, "old", "a", 1, 1))
	now = now.Add(2 * time.Hour)
	require.NoError(t, tr.Record(ctx, "new1", "a", 1, 1))
	_, ok, _ := tr.Get(ctx, "old")
	require.False(t, ok)

	now = now.Add(time.Second)
	require.NoError(t, tr.Record(ctx, "new2", "a", 1, 1))
	now = now.Add(time.Second)
	require.NoError(t, tr.Record(ctx, "new3", "a", 1, 1))
	now = now.Add(time.Second)
	require.NoError(t, tr.Record(ctx, "new4", "a", 1, 1))

	require.Equal(t, 3, tr.Len())
	_, ok, _ = tr.Get(ctx, "new1")
	require.False(t, ok)
	_, ok, _ = tr.Get(ctx, "new4")
	require.True(t, ok)
}
