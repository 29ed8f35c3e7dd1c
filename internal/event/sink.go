package event

import (
	"context"
	"errors"
	"sync"
)

// ErrChannelClosed is returned by [Channel.Emit] after the channel was closed.
var ErrChannelClosed = errors.New("event: channel closed")

// ErrStreamActive is returned by [Hub.Open] when the session already has an
// open channel.
var ErrStreamActive = errors.New("event: stream already active for session")

// Sink receives stream events for one session.
type Sink interface {
	// Emit delivers e. It blocks until e is accepted, ctx is done or the sink
	// is closed.
	Emit(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(ctx context.Context, e Event) error

// Emit implements [Sink].
func (f SinkFunc) Emit(ctx context.Context, e Event) error { return f(ctx, e) }

// Nop discards every event. It is used when a turn runs without a live client.
type Nop struct{}

// Emit implements [Sink].
func (Nop) Emit(context.Context, Event) error { return nil }

var (
	_ Sink = Nop{}
	_ Sink = (*Channel)(nil)
	_ Sink = SinkFunc(nil)
)

// ─────────────────────────────────────────────────────────────────────────────
// Channel
// ─────────────────────────────────────────────────────────────────────────────

// Channel is a [Sink] backed by a buffered Go channel. The producer calls
// Emit and finally Close; the consumer ranges over Events until it is closed.
type Channel struct {
	sessionID string

	mu     sync.RWMutex
	ch     chan Event
	done   chan struct{}
	closed bool
	once   sync.Once

	onClose func()
}

// NewChannel returns an open channel with the given buffer size.
func NewChannel(sessionID string, buffer int) *Channel {
	if buffer < 0 {
		buffer = 0
	}
	return &Channel{
		sessionID: sessionID,
		ch:        make(chan Event, buffer),
		done:      make(chan struct{}),
	}
}

// SessionID returns the session the channel belongs to.
func (c *Channel) SessionID() string { return c.sessionID }

// Events returns the receive side. It is closed by [Channel.Close].
func (c *Channel) Events() <-chan Event { return c.ch }

// Done is closed as soon as Close is called.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Emit implements [Sink].
func (c *Channel) Emit(ctx context.Context, e Event) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrChannelClosed
	}
	select {
	case c.ch <- e:
		return nil
	case <-c.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the channel. Blocked emitters return [ErrChannelClosed].
// Calling Close more than once is a no-op.
func (c *Channel) Close() {
	c.once.Do(func() {
		close(c.done)
		c.mu.Lock()
		c.closed = true
		close(c.ch)
		c.mu.Unlock()
		if c.onClose != nil {
			c.onClose()
		}
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Hub
// ─────────────────────────────────────────────────────────────────────────────

// Hub hands out at most one open [Channel] per session so a session's live
// channel only ever has a single writing turn.
type Hub struct {
	buffer int

	mu     sync.Mutex
	active map[string]*Channel
}

// NewHub returns a hub whose channels are created with the given buffer size.
func NewHub(buffer int) *Hub {
	return &Hub{buffer: buffer, active: make(map[string]*Channel)}
}

// Open creates the channel for sessionID. It returns [ErrStreamActive] while a
// previous channel of the same session is still open. Closing the returned
// channel releases the session.
func (h *Hub) Open(sessionID string) (*Channel, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.active[sessionID]; ok {
		return nil, ErrStreamActive
	}
	c := NewChannel(sessionID, h.buffer)
	c.onClose = func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.active[sessionID] == c {
			delete(h.active, sessionID)
		}
	}
	h.active[sessionID] = c
	return c, nil
}

// Active returns the number of open channels.
func (h *Hub) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.active)
}

// CloseAll closes every open channel. It is used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	open := make([]*Channel, 0, len(h.active))
	for _, c := range h.active {
		open = append(open, c)
	}
	h.mu.Unlock()

	for _, c := range open {
		c.Close()
	}
}
