// Package mock provides a recording test double for [event.Sink].
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/colloquy/internal/event"
)

// Sink records every emitted event in order. It is safe for concurrent use.
type Sink struct {
	mu     sync.Mutex
	events []event.Event

	// EmitErr, if non-nil, is returned by Emit after the event is recorded.
	EmitErr error
}

var _ event.Sink = (*Sink)(nil)

// Emit implements [event.Sink].
func (s *Sink) Emit(_ context.Context, e event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.EmitErr
}

// Events returns a copy of the recorded events.
func (s *Sink) Events() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Types returns the type of every recorded event in order.
func (s *Sink) Types() []event.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.Type, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

// Reset clears the recorded events.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}
