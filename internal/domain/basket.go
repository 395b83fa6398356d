package domain

import "time"

// Basket is one visitor's basket. ID is the opaque token handed to the client.
type Basket struct {
	ID        string    `bson:"_id" json:"basketId"`
	Lines     []Line    `bson:"lines" json:"items"`
	Version   int64     `bson:"version" json:"-"`
	CreatedAt time.Time `bson:"created_at" json:"-"`
	UpdatedAt time.Time `bson:"updated_at" json:"-"`
}

// Line is a product entry. Name, UnitPrice and PictureURL are captured when
// the line is created and are not refreshed from the catalog afterwards.
type Line struct {
	ProductID  int64  `bson:"product_id" json:"productId"`
	Name       string `bson:"name" json:"name"`
	UnitPrice  int64  `bson:"unit_price" json:"price"`
	PictureURL string `bson:"picture_url" json:"pictureUrl"`
	Quantity   int    `bson:"quantity" json:"quantity"`
}

// ProductSnapshot is the catalog data needed to create a line.
type ProductSnapshot struct {
	ProductID  int64  `json:"productId"`
	Name       string `json:"name"`
	UnitPrice  int64  `json:"price"`
	PictureURL string `json:"pictureUrl"`
}

func NewBasket(id string) Basket {
	return Basket{ID: id}
}

// FindLine returns the index of the line for productID, or -1.
func (b Basket) FindLine(productID int64) int {
	for i, l := range b.Lines {
		if l.ProductID == productID {
			return i
		}
	}
	return -1
}

// Quantity returns the quantity held for productID, 0 if absent.
func (b Basket) Quantity(productID int64) int {
	if i := b.FindLine(productID); i >= 0 {
		return b.Lines[i].Quantity
	}
	return 0
}

// Clone returns a deep copy so callers can hand it out without sharing the line slice.
func (b Basket) Clone() Basket {
	c := b
	if b.Lines != nil {
		c.Lines = make([]Line, len(b.Lines))
		copy(c.Lines, b.Lines)
	}
	return c
}
