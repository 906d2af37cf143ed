// Package session keeps short-lived conversation history per session key and
// serializes turns that share a key.
package session

import (
	"context"

	"shop-assistant/internal/domain"
)

// DefaultWindow is the number of turns retained per session (five exchanges).
const DefaultWindow = 10

// Store holds ordered conversation turns per session key.
//
// Get returns an empty slice for an unknown key. Append keeps only the most
// recent window of turns after every call. Clear on an unknown key is a no-op.
type Store interface {
	Get(ctx context.Context, key string) ([]domain.Turn, error)
	Append(ctx context.Context, key string, turns ...domain.Turn) error
	Clear(ctx context.Context, key string) error
}

// Truncate returns the last window turns of turns, preserving order.
func Truncate(turns []domain.Turn, window int) []domain.Turn {
	if window <= 0 || len(turns) <= window {
		return turns
	}
	out := make([]domain.Turn, window)
	copy(out, turns[len(turns)-window:])
	return out
}
