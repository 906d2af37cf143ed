package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"shop-assistant/internal/domain"
)

func mustNewDeliveries(t *testing.T, db *fakeDynamo) *DynamoDeliveries {
	t.Helper()
	d, err := NewDynamoDeliveries(db, "delivery-table", time.Hour)
	require.NoError(t, err)
	return d
}

func TestNewDynamoDeliveries_Validation(t *testing.T) {
	_, err := NewDynamoDeliveries(nil, "t", 0)
	require.ErrorContains(t, err, "must not be nil")
	d, err := NewDynamoDeliveries(newFakeDynamo(), "t", 0)
	require.NoError(t, err)
	require.Equal(t, 72*time.Hour, d.ttl)
}

func TestDynamoDeliveries_RecordAndGet(t *testing.T) {
	d := mustNewDeliveries(t, newFakeDynamo())
	ctx := context.Background()

	require.NoError(t, d.Record(ctx, "SM1", "+15551234567", 2, 3))
	rec, ok, err := d.Get(ctx, "SM1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "SM1", rec.ID)
	require.Equal(t, "+15551234567", rec.Recipient)
	require.Equal(t, domain.StatusSent, rec.Status)
	require.Equal(t, 2, rec.Chunk)
	require.Equal(t, 3, rec.TotalChunks)
	require.False(t, rec.CreatedAt.IsZero())
	require.Equal(t, rec.CreatedAt, rec.UpdatedAt)

	_, ok, err = d.Get(ctx, "SM-missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDynamoDeliveries_UpdateStatus(t *testing.T) {
	db := newFakeDynamo()
	d := mustNewDeliveries(t, db)
	ctx := context.Background()
	require.NoError(t, d.Record(ctx, "SM1", "+15551234567", 1, 1))

	require.NoError(t, d.UpdateStatus(ctx, "SM1", domain.StatusDelivered, "", "ignored"))
	require.Equal(t, "SET #status = :status, lastUpdated = :updated", *db.lastUpdateInput.UpdateExpression)
	rec, _, err := d.Get(ctx, "SM1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusDelivered, rec.Status)
	require.Empty(t, rec.ErrorMessage)

	require.NoError(t, d.UpdateStatus(ctx, "SM1", domain.StatusUndelivered, "63016", "outside window"))
	rec, _, err = d.Get(ctx, "SM1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusUndelivered, rec.Status)
	require.Equal(t, "63016", rec.ErrorCode)
	require.Equal(t, "outside window", rec.ErrorMessage)
}

func TestDynamoDeliveries_UpdateUnknownIsNoop(t *testing.T) {
	db := newFakeDynamo()
	d := mustNewDeliveries(t, db)
	require.NoError(t, d.UpdateStatus(context.Background(), "SM-unknown", domain.StatusRead, "", ""))
	require.Empty(t, db.items)
	require.Equal(t, "attribute_exists(PK)", *db.lastUpdateInput.ConditionExpression)
}

func TestDynamoDeliveries_UpdateError(t *testing.T) {
	db := newFakeDynamo()
	db.updateErr = errBoom
	d := mustNewDeliveries(t, db)
	err := d.UpdateStatus(context.Background(), "SM1", domain.StatusRead, "", "")
	require.ErrorIs(t, err, errBoom)
}

func TestDynamoDeliveries_StatsPaginates(t *testing.T) {
	db := newFakeDynamo()
	db.pageSize = 2
	d := mustNewDeliveries(t, db)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Record(ctx, fmt.Sprintf("SM%d", i), "+1555000000"+fmt.Sprint(i%2), 1, 1))
	}
	require.NoError(t, d.UpdateStatus(ctx, "SM0", domain.StatusDelivered, "", ""))
	require.NoError(t, d.UpdateStatus(ctx, "SM1", domain.StatusFailed, "30008", "unknown"))
	require.NoError(t, d.UpdateStatus(ctx, "SM2", "queued", "", ""))

	all, err := d.Stats(ctx, "")
	require.NoError(t, err)
	require.Equal(t, domain.DeliveryStats{Total: 5, Sent: 2, Delivered: 1, Failed: 1, Other: 1}, all)
	require.Equal(t, 3, db.scans)

	one, err := d.Stats(ctx, "+15550000001")
	require.NoError(t, err)
	require.Equal(t, domain.DeliveryStats{Total: 2, Sent: 1, Failed: 1}, one)
	require.Contains(t, *db.lastScanInput.FilterExpression, "recipient = :recipient")
}

func TestDynamoDeliveries_StatsSkipsExpired(t *testing.T) {
	d := mustNewDeliveries(t, newFakeDynamo())
	ctx := context.Background()
	require.NoError(t, d.Record(ctx, "SM1", "+1", 1, 1))

	d.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	stats, err := d.Stats(ctx, "")
	require.NoError(t, err)
	require.Equal(t, 0, stats.Total)

	_, ok, err := d.Get(ctx, "SM1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDynamoDeliveries_Errors(t *testing.T) {
	ctx := context.Background()
	db := newFakeDynamo()
	db.putErr = errBoom
	db.getErr = errBoom
	db.scanErr = errBoom
	d := mustNewDeliveries(t, db)

	require.ErrorContains(t, d.Record(ctx, "SM1", "+1", 1, 1), "delivery Record")
	_, _, err := d.Get(ctx, "SM1")
	require.ErrorContains(t, err, "delivery Get")
	_, err = d.Stats(ctx, "")
	require.ErrorContains(t, err, "delivery Stats")
}
