package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dreadwing5/Restore/internal/domain"
	"github.com/dreadwing5/Restore/internal/identity"
	"github.com/dreadwing5/Restore/internal/logger"
	"github.com/rs/zerolog"
)

const basketPath = "/api/basket"

type BasketStore interface {
	Get(ctx context.Context, basketID string) (domain.Basket, error)
	Apply(ctx context.Context, basketID string, op domain.Operation) (domain.Basket, error)
}

type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (identity.Ref, bool, error)
	Lookup(ctx context.Context, token string) (identity.Ref, bool, error)
}

type BasketHandler struct {
	store    BasketStore
	resolver IdentityResolver
	channel  identity.Channel
	timeout  time.Duration
	logger   zerolog.Logger
}

func NewBasketHandler(store BasketStore, resolver IdentityResolver, channel identity.Channel, timeout time.Duration, log zerolog.Logger) *BasketHandler {
	return &BasketHandler{
		store:    store,
		resolver: resolver,
		channel:  channel,
		timeout:  timeout,
		logger:   log,
	}
}

func (h *BasketHandler) GetBasket(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	log := logger.FromContext(ctx, h.logger)

	ref, found, err := h.resolver.Lookup(ctx, h.channel.Token(r))
	if err != nil {
		handleStoreError(w, log, err)
		return
	}
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	basket, err := h.store.Get(ctx, ref.BasketID)
	if errors.Is(err, domain.ErrBasketNotFound) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		handleStoreError(w, log, err)
		return
	}

	respondJSON(w, http.StatusOK, toBasketDTO(basket))
}

func (h *BasketHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	log := logger.FromContext(ctx, h.logger)

	productID, quantity, ok := parseItemQuery(w, r)
	if !ok {
		return
	}

	ref, isNew, err := h.resolver.Resolve(ctx, h.channel.Token(r))
	if err != nil {
		handleStoreError(w, log, err)
		return
	}
	if isNew {
		// Deliver the token even if the add fails, so the next request
		// reuses this basket instead of minting another.
		h.channel.Issue(w, ref.BasketID)
	}

	basket, err := h.store.Apply(ctx, ref.BasketID, domain.Operation{
		Kind:      domain.OpAddItem,
		ProductID: productID,
		Quantity:  quantity,
	})
	if err != nil {
		handleStoreError(w, log, err)
		return
	}
	if !isNew {
		h.channel.Issue(w, ref.BasketID)
	}

	log.Info().Str("basket_id", ref.BasketID).Int64("product_id", productID).Int("quantity", quantity).Msg("item added to basket")
	w.Header().Set("Location", basketPath)
	respondJSON(w, http.StatusCreated, toBasketDTO(basket))
}

func (h *BasketHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	log := logger.FromContext(ctx, h.logger)

	productID, quantity, ok := parseItemQuery(w, r)
	if !ok {
		return
	}

	ref, found, err := h.resolver.Lookup(ctx, h.channel.Token(r))
	if err != nil {
		handleStoreError(w, log, err)
		return
	}
	if !found {
		handleStoreError(w, log, domain.ErrBasketNotFound)
		return
	}

	basket, err := h.store.Apply(ctx, ref.BasketID, domain.RemoveItem(productID, quantity))
	if err != nil {
		handleStoreError(w, log, err)
		return
	}
	h.channel.Issue(w, ref.BasketID)

	log.Info().Str("basket_id", ref.BasketID).Int64("product_id", productID).Int("quantity", quantity).Msg("item removed from basket")
	respondJSON(w, http.StatusOK, toBasketDTO(basket))
}

// parseItemQuery reads productId and quantity, writing a 400 when either is
// malformed or the quantity is below one.
func parseItemQuery(w http.ResponseWriter, r *http.Request) (int64, int, bool) {
	q := r.URL.Query()

	productID, err := strconv.ParseInt(q.Get("productId"), 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "productId must be a positive integer")
		return 0, 0, false
	}

	quantity, err := strconv.Atoi(q.Get("quantity"))
	if err != nil {
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, "quantity must be an integer")
		return 0, 0, false
	}
	if quantity < 1 {
		respondError(w, http.StatusBadRequest, CodeInvalidQuantity, domain.ErrInvalidQuantity.Error())
		return 0, 0, false
	}

	return productID, quantity, true
}
