package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ MessageStore = (*MemStore)(nil)

// MemStore is an in-memory [MessageStore]. The zero value is ready to use.
type MemStore struct {
	mu       sync.RWMutex
	sessions map[string][]StoredMessage
}

// NewMemStore returns an empty [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{sessions: make(map[string][]StoredMessage)}
}

// SaveMessage implements [MessageStore].
func (s *MemStore) SaveMessage(_ context.Context, msg StoredMessage) (StoredMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.UIComponents = slices.Clone(msg.UIComponents)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions == nil {
		s.sessions = make(map[string][]StoredMessage)
	}
	s.sessions[msg.SessionID] = append(s.sessions[msg.SessionID], msg)
	return msg, nil
}

// MessagesBySession implements [MessageStore].
func (s *MemStore) MessagesBySession(_ context.Context, sessionID string, limit int) ([]StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.sessions[sessionID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]StoredMessage, len(all))
	copy(out, all)
	return out, nil
}
