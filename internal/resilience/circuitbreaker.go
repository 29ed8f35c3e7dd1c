// Package resilience protects the conversation pipeline from failing model
// backends.
//
// [Breaker] is a three-state circuit breaker (closed, open, half-open). Once
// a backend has failed MaxFailures times in a row the breaker rejects calls
// with [ErrCircuitOpen] until the cool-down elapses, so a dead vendor costs a
// turn nothing instead of a full request timeout. Cancellation of the
// caller's own context is never counted as a backend failure: a turn that hit
// its deadline says nothing about the backend's health.
//
// [Chain] tries an ordered list of backends, each guarded by its own breaker,
// and [LLMChain] applies it to [llm.Provider]. Every backend is attempted at
// most once per call.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a breaker rejects a call without running it.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls until the cool-down elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker, any failure re-opens it.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields take defaults.
type BreakerConfig struct {
	// Name labels log lines, usually the provider name.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default 5.
	MaxFailures int

	// Cooldown is how long the breaker stays open. Default 30s.
	Cooldown time.Duration

	// Probes is the number of successful half-open calls needed to close the
	// breaker again. Default 1.
	Probes int

	// OnStateChange, if set, is called after every transition. It runs with
	// the breaker unlocked.
	OnStateChange func(name string, from, to State)
}

// Breaker is a circuit breaker. The zero value is not usable; call
// [NewBreaker].
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	inFlight  int
	successes int
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Name returns the configured name.
func (b *Breaker) Name() string { return b.cfg.Name }

// Do runs fn unless the breaker is open. fn's error is returned unchanged.
// Errors caused by ctx ending are returned but not recorded.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)

	switch {
	case err == nil:
		b.onSuccess(probe)
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		b.release(probe)
	default:
		b.onFailure(probe)
	}
	return err
}

// admit decides whether a call may run and whether it is a half-open probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	var from State
	changed := false
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		from, changed = b.state, true
		b.state = StateHalfOpen
		b.inFlight = 0
		b.successes = 0
	}

	switch b.state {
	case StateOpen:
		b.mu.Unlock()
		return false, ErrCircuitOpen
	case StateHalfOpen:
		if b.inFlight >= b.cfg.Probes {
			b.mu.Unlock()
			b.notify(changed, from, StateHalfOpen)
			return false, ErrCircuitOpen
		}
		b.inFlight++
		b.mu.Unlock()
		b.notify(changed, from, StateHalfOpen)
		return true, nil
	}
	b.mu.Unlock()
	return false, nil
}

func (b *Breaker) onSuccess(probe bool) {
	b.mu.Lock()
	if !probe {
		b.failures = 0
		b.mu.Unlock()
		return
	}
	if b.state != StateHalfOpen {
		b.mu.Unlock()
		return
	}
	b.inFlight--
	b.successes++
	if b.successes < b.cfg.Probes {
		b.mu.Unlock()
		return
	}
	b.state = StateClosed
	b.failures = 0
	b.mu.Unlock()
	b.notify(true, StateHalfOpen, StateClosed)
}

func (b *Breaker) onFailure(probe bool) {
	b.mu.Lock()
	from := b.state
	switch {
	case probe && b.state == StateHalfOpen:
		b.trip()
	case !probe && b.state == StateClosed:
		b.failures++
		if b.failures < b.cfg.MaxFailures {
			b.mu.Unlock()
			return
		}
		b.trip()
	default:
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	b.notify(true, from, StateOpen)
}

// release gives back a probe slot without judging the backend.
func (b *Breaker) release(probe bool) {
	if !probe {
		return
	}
	b.mu.Lock()
	if b.state == StateHalfOpen && b.inFlight > 0 {
		b.inFlight--
	}
	b.mu.Unlock()
}

// trip opens the breaker. Must be called with b.mu held.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.inFlight = 0
	b.successes = 0
}

func (b *Breaker) notify(changed bool, from, to State) {
	if !changed || from == to {
		return
	}
	level := slog.LevelInfo
	if to == StateOpen {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "resilience: circuit state changed",
		"name", b.cfg.Name,
		"from", from.String(),
		"to", to.String(),
	)
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}

// State returns the current state. An open breaker whose cool-down has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.inFlight = 0
	b.successes = 0
	b.mu.Unlock()
	b.notify(true, from, StateClosed)
}
