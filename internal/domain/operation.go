package domain

import "fmt"

type OperationKind string

const (
	OpAddItem    OperationKind = "add"
	OpRemoveItem OperationKind = "remove"
)

// Operation is a single basket mutation. Product is only used by OpAddItem;
// the server fills it from the catalog, the client from what it displays.
type Operation struct {
	Kind      OperationKind
	ProductID int64
	Quantity  int
	Product   *ProductSnapshot
}

func AddItem(product ProductSnapshot, quantity int) Operation {
	return Operation{
		Kind:      OpAddItem,
		ProductID: product.ProductID,
		Quantity:  quantity,
		Product:   &product,
	}
}

func RemoveItem(productID int64, quantity int) Operation {
	return Operation{
		Kind:      OpRemoveItem,
		ProductID: productID,
		Quantity:  quantity,
	}
}

func (o Operation) String() string {
	return fmt.Sprintf("%s(product=%d, qty=%d)", o.Kind, o.ProductID, o.Quantity)
}
