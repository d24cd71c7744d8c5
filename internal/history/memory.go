package history

import (
	"context"
	"sync"
	"time"

	"github.com/vimcodex/vimcodex/internal/engine/router"
)

// MemoryStore is an in-memory implementation of Store
type MemoryStore struct {
	messages      map[string][]router.Message
	mu            sync.RWMutex
	maxPerSession int
}

// Ensure MemoryStore implements Store interface
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory history store
func NewMemoryStore(maxPerSession int) *MemoryStore {
	if maxPerSession <= 0 {
		maxPerSession = 1000
	}
	return &MemoryStore{
		messages:      make(map[string][]router.Message),
		maxPerSession: maxPerSession,
	}
}

// Append saves one transcript message, replacing an entry with the same
// sequence number
func (s *MemoryStore) Append(ctx context.Context, sessionID string, msg router.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages := s.messages[sessionID]

	// Streaming deltas re-append with the same seq; search from the tail
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Seq == msg.Seq {
			messages[i] = msg
			s.messages[sessionID] = messages
			return nil
		}
	}

	messages = append(messages, msg)

	// Trim if exceeding max
	if len(messages) > s.maxPerSession {
		messages = messages[len(messages)-s.maxPerSession:]
	}

	s.messages[sessionID] = messages
	return nil
}

// Messages retrieves transcript messages for a session
func (s *MemoryStore) Messages(ctx context.Context, sessionID string, limit int, since time.Time) ([]router.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := s.messages[sessionID]
	if messages == nil {
		return []router.Message{}, nil
	}

	var filtered []router.Message
	for _, msg := range messages {
		if msg.Timestamp.After(since) {
			filtered = append(filtered, msg)
		}
	}

	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}

	result := make([]router.Message, len(filtered))
	copy(result, filtered)
	return result, nil
}

// Delete removes all messages for a session
func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, sessionID)
	return nil
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error {
	return nil
}
