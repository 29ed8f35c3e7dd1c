// Package mock provides an in-memory test double for [memory.MessageStore].
//
// The mock records every method call for assertion in tests and exposes
// exported fields that control what it returns. It is safe for concurrent use
// via an internal [sync.Mutex].
//
// Typical usage:
//
//	store := &mock.Store{}
//	store.MessagesBySessionResult = []memory.StoredMessage{{Content: "hello"}}
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("SaveMessage"); got != 2 {
//	    t.Errorf("expected 2 SaveMessage calls, got %d", got)
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/colloquy/pkg/memory"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Store is a configurable test double for [memory.MessageStore].
type Store struct {
	mu sync.Mutex

	calls []Call
	saved []memory.StoredMessage

	// SaveMessageErr is returned by [Store.SaveMessage] when non-nil.
	SaveMessageErr error

	// SaveMessageFunc, when non-nil, replaces the default SaveMessage
	// behaviour. It runs without the mock's lock held.
	SaveMessageFunc func(ctx context.Context, msg memory.StoredMessage) (memory.StoredMessage, error)

	// MessagesBySessionResult is returned by [Store.MessagesBySession].
	// When nil, the messages saved so far for the session are returned.
	MessagesBySessionResult []memory.StoredMessage

	// MessagesBySessionErr is returned by [Store.MessagesBySession] when non-nil.
	MessagesBySessionErr error
}

var _ memory.MessageStore = (*Store)(nil)

// SaveMessage implements [memory.MessageStore]. Successfully saved messages
// are kept and can be read back via [Store.Saved].
func (s *Store) SaveMessage(ctx context.Context, msg memory.StoredMessage) (memory.StoredMessage, error) {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: "SaveMessage", Args: []any{msg}})
	fn := s.SaveMessageFunc
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, msg)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveMessageErr != nil {
		return memory.StoredMessage{}, s.SaveMessageErr
	}
	s.saved = append(s.saved, msg)
	return msg, nil
}

// MessagesBySession implements [memory.MessageStore].
func (s *Store) MessagesBySession(_ context.Context, sessionID string, limit int) ([]memory.StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: "MessagesBySession", Args: []any{sessionID, limit}})
	if s.MessagesBySessionErr != nil {
		return nil, s.MessagesBySessionErr
	}
	if s.MessagesBySessionResult != nil {
		out := make([]memory.StoredMessage, len(s.MessagesBySessionResult))
		copy(out, s.MessagesBySessionResult)
		return out, nil
	}
	out := []memory.StoredMessage{}
	for _, m := range s.saved {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out, nil
}

// Saved returns every message accepted by SaveMessage, in order.
func (s *Store) Saved() []memory.StoredMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]memory.StoredMessage, len(s.saved))
	copy(out, s.saved)
	return out
}

// Calls returns a copy of all recorded method invocations.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (s *Store) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears recorded calls and saved messages.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
	s.saved = nil
}
