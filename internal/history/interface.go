// Package history persists session transcripts.
package history

import (
	"context"
	"time"

	"github.com/vimcodex/vimcodex/internal/engine/router"
)

// Store persists transcript messages per session. Appending a message with
// a sequence number already stored for the session replaces that entry, so
// coalesced streaming deltas converge to their final text.
type Store interface {
	Append(ctx context.Context, sessionID string, msg router.Message) error
	Messages(ctx context.Context, sessionID string, limit int, since time.Time) ([]router.Message, error)
	Delete(ctx context.Context, sessionID string) error
	Close() error
}
