package cache

import (
	"context"
	"errors"
	"time"

	"github.com/tallyhq/tally/internal/circuitbreaker"
)

const breakerKey = "cache"

// Guarded wraps a remote Cache with a circuit breaker. While the breaker is
// open, reads report a miss so callers go straight to the store, and writes
// fail fast with circuitbreaker.ErrOpen. Ping always reaches the backend so
// health checks see its real state.
type Guarded struct {
	inner   Cache
	breaker *circuitbreaker.Breaker
}

var _ Cache = (*Guarded)(nil)

// NewGuarded opens the circuit after threshold consecutive backend errors
// and probes again after cooldown.
func NewGuarded(inner Cache, threshold int, cooldown time.Duration) *Guarded {
	return &Guarded{inner: inner, breaker: circuitbreaker.New(threshold, cooldown)}
}

func isMiss(err error) bool { return errors.Is(err, ErrMiss) }

func (g *Guarded) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := g.breaker.Do(breakerKey, func() error {
		var err error
		out, err = g.inner.Get(ctx, key)
		return err
	}, isMiss)
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return nil, ErrMiss
	}
	return out, err
}

func (g *Guarded) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return g.breaker.Do(breakerKey, func() error {
		return g.inner.Set(ctx, key, value, ttl)
	}, nil)
}

func (g *Guarded) Delete(ctx context.Context, keys ...string) error {
	return g.breaker.Do(breakerKey, func() error {
		return g.inner.Delete(ctx, keys...)
	}, nil)
}

func (g *Guarded) Ping(ctx context.Context) error { return g.inner.Ping(ctx) }

func (g *Guarded) Close() error { return g.inner.Close() }

// State reports the breaker state.
func (g *Guarded) State() circuitbreaker.State { return g.breaker.State(breakerKey) }
