package cache

import (
	"context"
	"errors"

	"github.com/dreadwing5/Restore/internal/domain"
)

// BasketCache is the server-side read cache in front of the repository.
type BasketCache interface {
	Get(ctx context.Context, basketID string) (*domain.Basket, error)
	// Set stores a committed basket. An entry holding the same or a newer
	// version is left alone.
	Set(ctx context.Context, basket *domain.Basket) error
	// Fill stores a basket read from the repository under the same version
	// rule and reports whether it stored anything.
	Fill(ctx context.Context, basket *domain.Basket) (bool, error)
	Delete(ctx context.Context, basketID string) error
}

var ErrCacheMiss = errors.New("cache miss")

// NoopCache always misses. Used when no Redis address is configured.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) (*domain.Basket, error) { return nil, ErrCacheMiss }
func (NoopCache) Set(context.Context, *domain.Basket) error { return nil }
func (NoopCache) Fill(context.Context, *domain.Basket) (bool, error) { return false, nil }
func (NoopCache) Delete(context.Context, string) error { return nil }
