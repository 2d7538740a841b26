package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/xenking/order-pipeline/internal/domain/payment"
)

var _ payment.Gateway = (*PaymentClient)(nil)

// PaymentClient initiates payments in the payment service.
type PaymentClient struct {
	c baseClient
}

// NewPaymentClient returns a PaymentClient.
func NewPaymentClient(cfg Config) (*PaymentClient, error) {
	c, err := newBaseClient("payment", cfg)
	if err != nil {
		return nil, err
	}
	return &PaymentClient{c: c}, nil
}

// RequestOrderPayment returns the id the payment service assigned. A timeout
// wraps payment.ErrOutcomeUnknown.
func (c *PaymentClient) RequestOrderPayment(ctx context.Context, req payment.Request) (int64, error) {
	var out struct {
		ID int64 `json:"id"`
	}
	if _, err := c.c.do(ctx, http.MethodPost, "/api/v1/payments", req, &out); err != nil {
		if isTimeout(err) {
			return 0, fmt.Errorf("%w: %w", payment.ErrOutcomeUnknown, err)
		}
		return 0, err
	}
	return out.ID, nil
}
