// Package history defines the session history store contract.
package history

import (
	"context"
	"errors"

	"github.com/chatgraph/chatgraph/internal/domain"
)

// ErrNotFound means the session has no stored history yet. This is the
// normal first-turn case and is distinct from the store being down.
var ErrNotFound = errors.New("history: session not found")

// ErrUnavailable means the store could not serve the request at all.
// The pipeline degrades to empty history on read and swallows it on write.
var ErrUnavailable = errors.New("history: store unavailable")

// Store persists ordered message sequences per session.
type Store interface {
	// Get returns the stored messages for a session in chronological order.
	// Returns ErrNotFound for a new session, ErrUnavailable if the store
	// cannot be reached.
	Get(ctx context.Context, sessionID string) ([]domain.Message, error)

	// Put replaces the stored messages for a session, trimmed to the last
	// maxLen entries (oldest evicted first). maxLen <= 0 means unlimited.
	Put(ctx context.Context, sessionID string, msgs []domain.Message, maxLen int) error

	Close() error
}

// Trim returns the last maxLen messages of msgs. It does not copy when no
// trimming is needed.
func Trim(msgs []domain.Message, maxLen int) []domain.Message {
	if maxLen <= 0 || len(msgs) <= maxLen {
		return msgs
	}
	return msgs[len(msgs)-maxLen:]
}
