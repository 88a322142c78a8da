package store

import (
	"context"

	apperrors "chanlun-engine/internal/errors"
	"chanlun-engine/internal/models"
	"chanlun-engine/internal/resilience"
)

// GuardedStore wraps a StateStore in a circuit breaker. Once the backend
// fails repeatedly, calls fail fast with a StoreError instead of waiting
// on network timeouts, so a batch degrades quickly instead of stalling.
type GuardedStore struct {
	inner   StateStore
	breaker *resilience.Breaker
}

// NewGuardedStore wraps inner with a breaker configured by cfg.
func NewGuardedStore(inner StateStore, cfg resilience.Config) *GuardedStore {
	return &GuardedStore{
		inner:   inner,
		breaker: resilience.NewBreaker(inner.Backend(), cfg),
	}
}

// backendFault reports whether err says something about backend health.
// Cancellation and errors returned by Update callbacks do not.
func backendFault(err error) bool {
	if apperrors.Is(err, context.Canceled) {
		return false
	}
	return apperrors.Is(err, apperrors.ErrStateStore)
}

func (g *GuardedStore) guard(op, code string, fn func() error) error {
	err := g.breaker.Do(fn, backendFault)
	if apperrors.Is(err, resilience.ErrOpen) {
		return apperrors.NewStoreError(g.inner.Backend(), op, code, err)
	}
	return err
}

func (g *GuardedStore) Load(ctx context.Context, code string) (*models.ChanState, error) {
	var s *models.ChanState
	err := g.guard("load", code, func() error {
		var err error
		s, err = g.inner.Load(ctx, code)
		return err
	})
	return s, err
}

func (g *GuardedStore) Update(ctx context.Context, code string, fn func(*models.ChanState) error) error {
	return g.guard("update", code, func() error {
		return g.inner.Update(ctx, code, fn)
	})
}

func (g *GuardedStore) Save(ctx context.Context, state *models.ChanState) error {
	return g.guard("save", state.Code, func() error {
		return g.inner.Save(ctx, state)
	})
}

func (g *GuardedStore) Codes(ctx context.Context) ([]string, error) {
	var codes []string
	err := g.guard("codes", "", func() error {
		var err error
		codes, err = g.inner.Codes(ctx)
		return err
	})
	return codes, err
}

func (g *GuardedStore) Backend() string { return g.inner.Backend() }

// Breaker exposes the breaker for inspection.
func (g *GuardedStore) Breaker() *resilience.Breaker { return g.breaker }

func (g *GuardedStore) Close() error { return g.inner.Close() }
