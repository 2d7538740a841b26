package product

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrInsufficientStock is returned by the catalog when at least one requested
// line cannot be covered by available stock.
var ErrInsufficientStock = errors.New("insufficient stock")

// ErrReservationUnconfirmed is returned when a purchase call ended without a
// usable answer, for example on timeout or a short response. The catalog may
// have reserved some or all of the lines.
var ErrReservationUnconfirmed = errors.New("reservation outcome unknown")

// UnknownProductError indicates a purchase request referenced a product the
// catalog does not know.
type UnknownProductError struct {
	ProductID int64
}

func (e *UnknownProductError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

// PurchaseRequest asks the catalog to reserve a quantity of one product.
type PurchaseRequest struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

// PurchasedProduct is the catalog's snapshot of a reserved product line.
type PurchasedProduct struct {
	ProductID   int64           `json:"productId"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
}

// Catalog reserves and releases product stock. PurchaseProducts is
// all-or-nothing: either every line is reserved or none is.
type Catalog interface {
	PurchaseProducts(ctx context.Context, reqs []PurchaseRequest) ([]PurchasedProduct, error)
	// ReleaseProducts returns previously reserved stock. It is the
	// compensating action for PurchaseProducts.
	ReleaseProducts(ctx context.Context, reqs []PurchaseRequest) error
}
