package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dreadwing5/Restore/internal/domain"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// Error codes shared with the basket client.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeInvalidQuantity    = "invalid_quantity"
	CodeProductNotFound    = "product_not_found"
	CodeLineNotFound       = "line_not_found"
	CodeBasketNotFound     = "basket_not_found"
	CodePersistenceFailure = "persistence_failure"
	CodeTimeout            = "timeout"
	CodeInternal           = "internal_error"
)

type BasketDTO struct {
	BasketID string        `json:"basketId"`
	Items    []domain.Line `json:"items"`
}

func toBasketDTO(b domain.Basket) BasketDTO {
	items := b.Lines
	if items == nil {
		items = []domain.Line{}
	}
	return BasketDTO{BasketID: b.ID, Items: items}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zlog.Error().Err(err).Msg("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleStoreError converts store and identity errors to HTTP responses.
func handleStoreError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidQuantity):
		respondError(w, http.StatusBadRequest, CodeInvalidQuantity, err.Error())
	case errors.Is(err, domain.ErrProductNotFound):
		respondError(w, http.StatusBadRequest, CodeProductNotFound, "problem adding item to basket: product not found")
	case errors.Is(err, domain.ErrLineNotFound):
		respondError(w, http.StatusBadRequest, CodeLineNotFound, "problem removing item from basket: item not in basket")
	case errors.Is(err, domain.ErrBasketNotFound):
		respondError(w, http.StatusBadRequest, CodeBasketNotFound, "unable to retrieve basket")
	case errors.Is(err, domain.ErrUnknownOperation):
		respondError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn().Err(err).Msg("basket request timed out")
		respondError(w, http.StatusGatewayTimeout, CodeTimeout, "request timed out")
	case errors.Is(err, domain.ErrPersistenceFailure):
		logger.Error().Err(err).Msg("basket write did not commit")
		respondError(w, http.StatusInternalServerError, CodePersistenceFailure, "problem saving basket")
	default:
		logger.Error().Err(err).Msg("basket request failed")
		respondError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
	}
}
