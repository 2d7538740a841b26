package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-faster/errors"

	"github.com/xenking/order-pipeline/internal/domain/product"
)

var _ product.Catalog = (*ProductClient)(nil)

// ProductClient reserves and releases stock in the product service.
type ProductClient struct {
	c baseClient
}

// NewProductClient returns a ProductClient.
func NewProductClient(cfg Config) (*ProductClient, error) {
	c, err := newBaseClient("product", cfg)
	if err != nil {
		return nil, err
	}
	return &ProductClient{c: c}, nil
}

// PurchaseProducts reserves every line in one call. A 404 naming a product
// becomes *product.UnknownProductError and a 409 becomes
// product.ErrInsufficientStock. A timeout, an undecodable 2xx body or a
// response that does not cover every line wraps
// product.ErrReservationUnconfirmed.
func (c *ProductClient) PurchaseProducts(ctx context.Context, reqs []product.PurchaseRequest) ([]product.PurchasedProduct, error) {
	var out []product.PurchasedProduct
	eb, err := c.c.do(ctx, http.MethodPost, "/api/v1/products/purchase", reqs, &out)
	if err != nil {
		return nil, purchaseError(eb, err)
	}
	if len(out) != len(reqs) {
		return nil, fmt.Errorf("%w: reserved %d of %d lines", product.ErrReservationUnconfirmed, len(out), len(reqs))
	}
	return out, nil
}

// ReleaseProducts returns stock reserved by PurchaseProducts.
func (c *ProductClient) ReleaseProducts(ctx context.Context, reqs []product.PurchaseRequest) error {
	if _, err := c.c.do(ctx, http.MethodPost, "/api/v1/products/release", reqs, nil); err != nil {
		return errors.Wrap(err, "release products")
	}
	return nil
}

func purchaseError(eb *errorBody, err error) error {
	var se *StatusError
	if !errors.As(err, &se) {
		if isTimeout(err) || errors.Is(err, errMalformedResponse) {
			return fmt.Errorf("%w: %w", product.ErrReservationUnconfirmed, err)
		}
		return err
	}
	switch {
	case se.Status == http.StatusNotFound && eb != nil && eb.ProductID != nil:
		return &product.UnknownProductError{ProductID: *eb.ProductID}
	case se.Status == http.StatusConflict:
		return fmt.Errorf("%w: %s", product.ErrInsufficientStock, se.Message)
	default:
		return err
	}
}
