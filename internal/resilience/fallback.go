package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry of a [Chain] failed or had an open
// breaker. The individual errors are joined onto it.
var ErrAllFailed = errors.New("resilience: all backends failed")

// ChainConfig configures the breaker created for every entry of a [Chain].
// Breaker.Name is overwritten with the entry name.
type ChainConfig struct {
	Breaker BreakerConfig
}

type chainEntry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Chain holds a primary backend and zero or more fallbacks of the same type.
// Entries are tried in registration order and each is attempted at most once
// per call.
//
// Entries must be registered before the chain is shared between goroutines.
type Chain[T any] struct {
	entries []chainEntry[T]
	cfg     ChainConfig
}

// NewChain returns a chain with primary as its first entry.
func NewChain[T any](primaryName string, primary T, cfg ChainConfig) *Chain[T] {
	c := &Chain[T]{cfg: cfg}
	c.Add(primaryName, primary)
	return c
}

// Add appends a fallback entry.
func (c *Chain[T]) Add(name string, value T) {
	bcfg := c.cfg.Breaker
	bcfg.Name = name
	c.entries = append(c.entries, chainEntry[T]{
		name:    name,
		value:   value,
		breaker: NewBreaker(bcfg),
	})
}

// Len returns the number of entries.
func (c *Chain[T]) Len() int { return len(c.entries) }

// Primary returns the first entry's value.
func (c *Chain[T]) Primary() T { return c.entries[0].value }

// States reports the breaker state of every entry by name.
func (c *Chain[T]) States() map[string]State {
	out := make(map[string]State, len(c.entries))
	for _, e := range c.entries {
		out[e.name] = e.breaker.State()
	}
	return out
}

// Do runs fn against each entry until one succeeds. When ctx ends the chain
// stops and returns ctx's error without trying the remaining entries.
func (c *Chain[T]) Do(ctx context.Context, fn func(context.Context, T) error) error {
	_, err := Call(ctx, c, func(ctx context.Context, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, v)
	})
	return err
}

// Call is [Chain.Do] for functions that return a value. It is a package-level
// function because methods cannot declare type parameters.
func Call[T, R any](ctx context.Context, c *Chain[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero R
		errs []error
	)
	for i := range c.entries {
		e := &c.entries[i]
		var out R
		err := e.breaker.Do(ctx, func(ctx context.Context) error {
			var err error
			out, err = fn(ctx, e.value)
			return err
		})
		if err == nil {
			return out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping backend, circuit open", "backend", e.name)
			continue
		}
		slog.Warn("resilience: backend failed, trying next", "backend", e.name, "err", err)
	}
	return zero, errors.Join(append([]error{ErrAllFailed}, errs...)...)
}
