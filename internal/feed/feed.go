// Package feed supplies daily bar history to the analysis engine.
package feed

import (
	"context"

	"chanlun-engine/internal/models"
)

// Provider returns the full daily bar history of an instrument, oldest first.
type Provider interface {
	Bars(ctx context.Context, code string) ([]models.Bar, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, code string) ([]models.Bar, error)

// Bars calls f.
func (f ProviderFunc) Bars(ctx context.Context, code string) ([]models.Bar, error) {
	return f(ctx, code)
}
