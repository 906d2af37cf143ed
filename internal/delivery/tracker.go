// Package delivery tracks the transport-reported status of outbound messages.
package delivery

import (
	"context"

	"shop-assistant/internal/domain"
)

// Tracker holds per-message delivery records keyed by the transport's
// delivery id.
//
// Record silently overwrites an existing id. UpdateStatus on an unknown id is
// a no-op and returns nil: callbacks for untracked or expired messages are
// dropped. Any status overwrite is accepted; transitions are not validated.
type Tracker interface {
	Record(ctx context.Context, id, recipient string, chunk, totalChunks int) error
	UpdateStatus(ctx context.Context, id string, status domain.DeliveryStatus, errorCode, errorMessage string) error
	Get(ctx context.Context, id string) (domain.DeliveryRecord, bool, error)
	Stats(ctx context.Context, recipient string) (domain.DeliveryStats, error)
}
