// Package payment defines the contract of the payment service as seen from
// the order pipeline.
package payment

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/order-pipeline/internal/domain/customer"
)

// Method enumerates the accepted payment methods.
type Method string

const (
	MethodPaypal     Method = "PAYPAL"
	MethodCreditCard Method = "CREDIT_CARD"
	MethodVisa       Method = "VISA"
	MethodMasterCard Method = "MASTER_CARD"
	MethodBitcoin    Method = "BITCOIN"
)

// Valid reports whether m is one of the known payment methods.
func (m Method) Valid() bool {
	switch m {
	case MethodPaypal, MethodCreditCard, MethodVisa, MethodMasterCard, MethodBitcoin:
		return true
	default:
		return false
	}
}

// ParseMethod converts a raw string into a Method.
func ParseMethod(s string) (Method, error) {
	m := Method(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown payment method %q", s)
	}
	return m, nil
}

// Request is sent once per order to initiate payment. It is not persisted by
// the order service.
type Request struct {
	Amount         decimal.Decimal   `json:"amount"`
	PaymentMethod  Method            `json:"paymentMethod"`
	OrderID        int64             `json:"orderId"`
	OrderReference string            `json:"orderReference"`
	Customer       customer.Customer `json:"customer"`
}

// ErrOutcomeUnknown is returned when the payment request timed out. The
// payment may still have been initiated.
var ErrOutcomeUnknown = errors.New("payment outcome unknown")

// Gateway initiates payments. Failure causes are opaque to the caller except
// for ErrOutcomeUnknown.
type Gateway interface {
	RequestOrderPayment(ctx context.Context, req Request) (int64, error)
}
