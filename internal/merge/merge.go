// Package merge applies basket operations. Every function returns a new
// basket value and leaves its input untouched, so the client can replay an
// operation on a published cache value and get the same shape the server
// will persist.
package merge

import (
	"fmt"

	"github.com/dreadwing5/Restore/internal/domain"
)

// AddItem increments the line for product or appends a new one.
// An existing line keeps the snapshot it was created with.
func AddItem(b domain.Basket, product domain.ProductSnapshot, quantity int) (domain.Basket, error) {
	if quantity < 1 {
		return b, domain.ErrInvalidQuantity
	}

	out := b.Clone()
	if i := out.FindLine(product.ProductID); i >= 0 {
		out.Lines[i].Quantity += quantity
		return out, nil
	}

	out.Lines = append(out.Lines, domain.Line{
		ProductID:  product.ProductID,
		Name:       product.Name,
		UnitPrice:  product.UnitPrice,
		PictureURL: product.PictureURL,
		Quantity:   quantity,
	})
	return out, nil
}

// RemoveItem decrements the line for productID, clamping at zero. A line
// that reaches zero is dropped and the remaining lines keep their order.
func RemoveItem(b domain.Basket, productID int64, quantity int) (domain.Basket, error) {
	if quantity < 1 {
		return b, domain.ErrInvalidQuantity
	}

	idx := b.FindLine(productID)
	if idx < 0 {
		return b, fmt.Errorf("product %d: %w", productID, domain.ErrLineNotFound)
	}

	remaining := b.Lines[idx].Quantity - quantity
	if remaining > 0 {
		out := b.Clone()
		out.Lines[idx].Quantity = remaining
		return out, nil
	}

	out := b
	if len(b.Lines) == 1 {
		// an emptied basket carries no line slice, like a new one
		out.Lines = nil
		return out, nil
	}
	out.Lines = make([]domain.Line, 0, len(b.Lines)-1)
	out.Lines = append(out.Lines, b.Lines[:idx]...)
	out.Lines = append(out.Lines, b.Lines[idx+1:]...)
	return out, nil
}

// Apply dispatches op. An add without a product snapshot is rejected, the
// caller is expected to resolve the product first.
func Apply(b domain.Basket, op domain.Operation) (domain.Basket, error) {
	switch op.Kind {
	case domain.OpAddItem:
		if op.Product == nil {
			return b, fmt.Errorf("product %d: %w", op.ProductID, domain.ErrProductNotFound)
		}
		return AddItem(b, *op.Product, op.Quantity)
	case domain.OpRemoveItem:
		return RemoveItem(b, op.ProductID, op.Quantity)
	default:
		return b, fmt.Errorf("%q: %w", op.Kind, domain.ErrUnknownOperation)
	}
}
