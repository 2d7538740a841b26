package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/order-pipeline/internal/domain/payment"
	"github.com/xenking/order-pipeline/internal/domain/product"
	"github.com/xenking/order-pipeline/internal/event"
)

// Status tracks where an order is in the placement saga.
type Status string

const (
	// StatusPending is set when the order and its lines are committed but
	// payment has not been initiated yet.
	StatusPending Status = "PENDING"
	// StatusConfirmed is set once payment was initiated successfully.
	StatusConfirmed Status = "CONFIRMED"
	// StatusPaymentFailed marks a committed order whose payment could not be
	// initiated. The reserved stock is released unless the payment outcome
	// is unknown.
	StatusPaymentFailed Status = "PAYMENT_FAILED"
)

// Failure taxonomy of order placement. Errors returned by Service wrap one of
// these together with the underlying cause.
var (
	ErrInvalidRequest           = errors.New("invalid order request")
	ErrDuplicateReference       = errors.New("order reference already exists")
	ErrCustomerNotFound         = errors.New("customer not found")
	ErrProductReservationFailed = errors.New("product reservation failed")
	ErrPersistence              = errors.New("order persistence failed")
	ErrPaymentInitiationFailed  = errors.New("payment initiation failed")
	ErrPublishFailed            = errors.New("order confirmation publish failed")
	ErrNotFound                 = errors.New("order not found")
)

// ErrUnknownOrder is returned by a Store when an order line references an
// order id that does not exist.
var ErrUnknownOrder = errors.New("referenced order does not exist")

// InvalidQuantityError indicates a requested product line has a non-positive
// quantity.
type InvalidQuantityError struct {
	ProductID int64
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %d", e.ProductID)
}

// Is makes InvalidQuantityError match ErrInvalidRequest.
func (e *InvalidQuantityError) Is(target error) bool {
	return target == ErrInvalidRequest
}

// Order is the persisted order row. It is created once per successful
// placement and only its Status changes afterwards.
type Order struct {
	ID            int64
	Reference     string
	Amount        decimal.Decimal
	PaymentMethod payment.Method
	CustomerID    string
	Status        Status
	CreatedAt     time.Time
}

// Line is one persisted order line. OrderID always references an existing
// Order.
type Line struct {
	ID        int64
	OrderID   int64
	ProductID int64
	Quantity  int
}

// Tx is the set of writes that run inside one local transaction.
type Tx interface {
	// InsertOrder assigns o.ID and o.CreatedAt and persists the row.
	InsertOrder(ctx context.Context, o *Order) error
	// InsertOrderLine assigns l.ID and persists the row. It returns
	// ErrUnknownOrder when l.OrderID does not reference an existing order.
	InsertOrderLine(ctx context.Context, l *Line) error
}

// Store is the durable storage of orders and order lines.
type Store interface {
	// InTx runs fn inside a transaction. If fn returns an error every write
	// made through tx is discarded.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	FindByID(ctx context.Context, id int64) (*Order, error)
	FindByReference(ctx context.Context, reference string) (*Order, error)
	FindAll(ctx context.Context) ([]Order, error)
	FindLines(ctx context.Context, orderID int64) ([]Line, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
}

// ConfirmationPublisher hands order confirmations to the message bus.
type ConfirmationPublisher interface {
	PublishOrderConfirmation(ctx context.Context, c event.OrderConfirmation) error
}

// CreateOrderRequest is the input of order placement.
type CreateOrderRequest struct {
	CustomerID    string
	Reference     string
	Amount        decimal.Decimal
	PaymentMethod payment.Method
	Products      []product.PurchaseRequest
}

// Amount bounds of the orders table, NUMERIC(12, 2).
const (
	amountScale     = 2
	amountIntDigits = 10
)

var maxAmount = decimal.New(1, amountIntDigits)

// Validate checks the request shape before any remote call is made.
func (r CreateOrderRequest) Validate() error {
	switch {
	case r.CustomerID == "":
		return errors.Wrap(ErrInvalidRequest, "customer id required")
	case r.Reference == "":
		return errors.Wrap(ErrInvalidRequest, "reference required")
	case !r.Amount.IsPositive():
		return errors.Wrap(ErrInvalidRequest, "amount must be positive")
	case !r.Amount.Equal(r.Amount.Truncate(amountScale)):
		return errors.Wrapf(ErrInvalidRequest, "amount %s has more than %d decimal places", r.Amount, amountScale)
	case r.Amount.GreaterThanOrEqual(maxAmount):
		return errors.Wrapf(ErrInvalidRequest, "amount %s exceeds %d integer digits", r.Amount, amountIntDigits)
	case !r.PaymentMethod.Valid():
		return errors.Wrapf(ErrInvalidRequest, "unknown payment method %q", r.PaymentMethod)
	case len(r.Products) == 0:
		return errors.Wrap(ErrInvalidRequest, "products required")
	}
	for _, p := range r.Products {
		if p.Quantity <= 0 {
			return &InvalidQuantityError{ProductID: p.ProductID}
		}
	}
	return nil
}

// StepOutcome reports how a best-effort downstream step ended.
type StepOutcome string

const (
	OutcomeSucceeded StepOutcome = "succeeded"
	OutcomeFailed    StepOutcome = "failed"
	OutcomeSkipped   StepOutcome = "skipped"
)

// CreateOrderResult separates the committed order from the outcome of the
// steps that run after the local commit.
type CreateOrderResult struct {
	OrderID      int64
	Reference    string
	Status       Status
	Payment      StepOutcome
	Confirmation StepOutcome
}
