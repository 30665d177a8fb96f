package cuesheet

import (
	"context"
	"errors"

	"github.com/tobfel/stagecue/internal/resilience"
)

// GuardedStore wraps a [Store] with a circuit breaker so a flapping backend
// (typically Postgres) fails fast instead of stalling every stream
// handshake. While the breaker is open, calls return [resilience.ErrOpen]
// immediately, which also flips the readiness probe.
//
// Domain errors ([ErrNotFound], [ErrDuplicateID]) pass through to the
// caller without counting as breaker failures.
type GuardedStore struct {
	inner   Store
	breaker *resilience.CircuitBreaker
}

var _ Store = (*GuardedStore)(nil)

// NewGuardedStore wraps inner with cb. A nil cb gets default breaker
// settings.
func NewGuardedStore(inner Store, cb *resilience.CircuitBreaker) *GuardedStore {
	if cb == nil {
		cb = resilience.New(resilience.Config{Name: "cuesheet-store"})
	}
	return &GuardedStore{inner: inner, breaker: cb}
}

// Breaker returns the underlying circuit breaker.
func (g *GuardedStore) Breaker() *resilience.CircuitBreaker { return g.breaker }

// infraErr reports err to the breaker only when it signals a backend
// problem rather than an expected domain outcome.
func infraErr(err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateID) {
		return nil
	}
	return err
}

func (g *GuardedStore) Add(ctx context.Context, sheet Sheet) (Sheet, error) {
	var out Sheet
	var opErr error
	if err := g.breaker.Do(func() error {
		out, opErr = g.inner.Add(ctx, sheet)
		return infraErr(opErr)
	}); errors.Is(err, resilience.ErrOpen) {
		return Sheet{}, err
	}
	return out, opErr
}

func (g *GuardedStore) Get(ctx context.Context, id string) (Sheet, error) {
	var out Sheet
	var opErr error
	if err := g.breaker.Do(func() error {
		out, opErr = g.inner.Get(ctx, id)
		return infraErr(opErr)
	}); errors.Is(err, resilience.ErrOpen) {
		return Sheet{}, err
	}
	return out, opErr
}

func (g *GuardedStore) GetBySpeaker(ctx context.Context, speakerID string) (Sheet, error) {
	var out Sheet
	var opErr error
	if err := g.breaker.Do(func() error {
		out, opErr = g.inner.GetBySpeaker(ctx, speakerID)
		return infraErr(opErr)
	}); errors.Is(err, resilience.ErrOpen) {
		return Sheet{}, err
	}
	return out, opErr
}

func (g *GuardedStore) List(ctx context.Context) ([]Sheet, error) {
	var out []Sheet
	var opErr error
	if err := g.breaker.Do(func() error {
		out, opErr = g.inner.List(ctx)
		return infraErr(opErr)
	}); errors.Is(err, resilience.ErrOpen) {
		return nil, err
	}
	return out, opErr
}

func (g *GuardedStore) Update(ctx context.Context, sheet Sheet) error {
	var opErr error
	if err := g.breaker.Do(func() error {
		opErr = g.inner.Update(ctx, sheet)
		return infraErr(opErr)
	}); errors.Is(err, resilience.ErrOpen) {
		return err
	}
	return opErr
}

func (g *GuardedStore) Remove(ctx context.Context, id string) error {
	var opErr error
	if err := g.breaker.Do(func() error {
		opErr = g.inner.Remove(ctx, id)
		return infraErr(opErr)
	}); errors.Is(err, resilience.ErrOpen) {
		return err
	}
	return opErr
}
