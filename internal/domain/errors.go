package domain

import "errors"

var (
	ErrInvalidQuantity    = errors.New("quantity must be at least 1")
	ErrProductNotFound    = errors.New("product not found")
	ErrLineNotFound       = errors.New("item not found in basket")
	ErrBasketNotFound     = errors.New("basket not found")
	ErrUnknownOperation   = errors.New("unknown basket operation")
	ErrPersistenceFailure = errors.New("basket could not be saved")
	ErrNetworkFailure     = errors.New("basket service unreachable")
)

// IsValidationError reports whether err was raised before any state changed.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrLineNotFound) ||
		errors.Is(err, ErrUnknownOperation)
}
