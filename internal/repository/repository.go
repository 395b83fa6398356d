package repository

import (
	"context"
	"errors"

	"github.com/dreadwing5/Restore/internal/domain"
)

var (
	ErrBasketExists    = errors.New("basket already exists")
	ErrVersionConflict = errors.New("basket was modified concurrently")
)

// BasketRepository is the persistence port of the basket store.
// Implementations return domain.ErrBasketNotFound for unknown ids.
type BasketRepository interface {
	GetBasket(ctx context.Context, id string) (*domain.Basket, error)
	// CreateBasket inserts a new basket at version 0.
	CreateBasket(ctx context.Context, basket *domain.Basket) error
	// SaveBasket replaces the stored basket if its version still equals
	// basket.Version, then bumps basket.Version. A stale version yields
	// ErrVersionConflict and nothing is written.
	SaveBasket(ctx context.Context, basket *domain.Basket) error
}
