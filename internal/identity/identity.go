package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dreadwing5/Restore/internal/domain"
	"github.com/dreadwing5/Restore/internal/repository"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// mintAttempts bounds retries when a freshly generated token collides.
const mintAttempts = 3

// Ref points at a basket bound to a token.
type Ref struct {
	BasketID string
}

// Channel carries the basket token between client and server.
type Channel interface {
	// Token returns the token presented with r, or "" if none.
	Token(r *http.Request) string
	// Issue delivers token to the client, starting a fresh validity window.
	Issue(w http.ResponseWriter, token string)
}

// Baskets is the part of the basket store identity resolution needs.
type Baskets interface {
	Get(ctx context.Context, basketID string) (domain.Basket, error)
	Create(ctx context.Context, basketID string) (domain.Basket, error)
}

type Resolver struct {
	baskets  Baskets
	newToken func() string
	logger   zerolog.Logger
}

func NewResolver(baskets Baskets, logger zerolog.Logger) *Resolver {
	return &Resolver{
		baskets:  baskets,
		newToken: uuid.NewString,
		logger:   logger,
	}
}

// Lookup resolves token without minting. found is false when the token is
// empty or no longer maps to a basket.
func (r *Resolver) Lookup(ctx context.Context, token string) (Ref, bool, error) {
	if scope := scopeFrom(ctx); scope != nil {
		scope.mu.Lock()
		defer scope.mu.Unlock()
		if scope.resolved {
			return scope.ref, true, nil
		}
	}
	return r.lookup(ctx, token)
}

// Resolve returns the basket bound to token, minting a token and an empty
// basket when there is none. Within one request scope the first result is
// reused, so a request mints at most once.
func (r *Resolver) Resolve(ctx context.Context, token string) (Ref, bool, error) {
	scope := scopeFrom(ctx)
	if scope == nil {
		return r.resolve(ctx, token)
	}

	scope.mu.Lock()
	defer scope.mu.Unlock()
	if scope.resolved {
		return scope.ref, scope.minted, nil
	}

	ref, isNew, err := r.resolve(ctx, token)
	if err != nil {
		return Ref{}, false, err
	}
	scope.ref, scope.minted, scope.resolved = ref, isNew, true
	return ref, isNew, nil
}

func (r *Resolver) resolve(ctx context.Context, token string) (Ref, bool, error) {
	ref, found, err := r.lookup(ctx, token)
	if err != nil {
		return Ref{}, false, err
	}
	if found {
		return ref, false, nil
	}

	ref, err = r.mint(ctx)
	if err != nil {
		return Ref{}, false, err
	}
	return ref, true, nil
}

func (r *Resolver) lookup(ctx context.Context, token string) (Ref, bool, error) {
	if token == "" {
		return Ref{}, false, nil
	}

	_, err := r.baskets.Get(ctx, token)
	if errors.Is(err, domain.ErrBasketNotFound) {
		return Ref{}, false, nil
	}
	if err != nil {
		return Ref{}, false, fmt.Errorf("lookup basket: %w", err)
	}
	return Ref{BasketID: token}, true, nil
}

func (r *Resolver) mint(ctx context.Context) (Ref, error) {
	for range mintAttempts {
		token := r.newToken()
		_, err := r.baskets.Create(ctx, token)
		if errors.Is(err, repository.ErrBasketExists) {
			r.logger.Warn().Msg("basket token collision, regenerating")
			continue
		}
		if err != nil {
			return Ref{}, fmt.Errorf("create basket: %w", err)
		}
		r.logger.Debug().Str("basket_id", token).Msg("minted basket")
		return Ref{BasketID: token}, nil
	}
	return Ref{}, fmt.Errorf("create basket: %w", repository.ErrBasketExists)
}
