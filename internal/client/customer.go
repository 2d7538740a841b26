package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-faster/errors"

	"github.com/xenking/order-pipeline/internal/domain/customer"
)

var _ customer.Directory = (*CustomerClient)(nil)

// CustomerClient resolves customers from the customer service.
type CustomerClient struct {
	c baseClient
}

// NewCustomerClient returns a CustomerClient.
func NewCustomerClient(cfg Config) (*CustomerClient, error) {
	c, err := newBaseClient("customer", cfg)
	if err != nil {
		return nil, err
	}
	return &CustomerClient{c: c}, nil
}

// FindCustomerByID returns customer.ErrNotFound when the service answers 404.
func (c *CustomerClient) FindCustomerByID(ctx context.Context, id string) (*customer.Customer, error) {
	var out customer.Customer
	_, err := c.c.do(ctx, http.MethodGet, "/api/v1/customers/"+url.PathEscape(id), nil, &out)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Status == http.StatusNotFound {
			return nil, customer.ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}
