package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/order-pipeline/internal/domain/customer"
	"github.com/xenking/order-pipeline/internal/domain/payment"
	"github.com/xenking/order-pipeline/internal/domain/product"
	"github.com/xenking/order-pipeline/internal/event"
)

const instrumentationName = "github.com/xenking/order-pipeline/internal/domain/order"

// Saga step names, used for spans, metrics and log fields.
const (
	stepReference    = "reference"
	stepCustomer     = "customer"
	stepReservation  = "reservation"
	stepPersist      = "persist"
	stepPayment      = "payment"
	stepConfirmation = "confirmation"
	stepCompensation = "compensation"
)

// Timeouts bounds every remote call made while placing an order. A zero
// value leaves the call bounded only by the caller's context.
type Timeouts struct {
	Customer     time.Duration
	Product      time.Duration
	Payment      time.Duration
	Publish      time.Duration
	Compensation time.Duration
}

// ServiceConfig holds non-dependency configuration for the Service.
type ServiceConfig struct {
	Timeouts       Timeouts
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Service places orders by coordinating the customer directory, the product
// catalog, local storage, the payment gateway and the confirmation bus.
type Service struct {
	customers     customer.Directory
	products      product.Catalog
	payments      payment.Gateway
	orders        Store
	confirmations ConfirmationPublisher

	timeouts Timeouts
	tracer   trace.Tracer

	created    metric.Int64Counter
	failed     metric.Int64Counter
	downstream metric.Int64Counter
}

// NewService creates an order Service with the required collaborators.
func NewService(
	cfg ServiceConfig,
	customers customer.Directory,
	products product.Catalog,
	payments payment.Gateway,
	orders Store,
	confirmations ConfirmationPublisher,
) (*Service, error) {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = tracenoop.NewTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = metricnoop.NewMeterProvider()
	}
	meter := cfg.MeterProvider.Meter(instrumentationName)

	s := &Service{
		customers:     customers,
		products:      products,
		payments:      payments,
		orders:        orders,
		confirmations: confirmations,
		timeouts:      cfg.Timeouts,
		tracer:        cfg.TracerProvider.Tracer(instrumentationName),
	}

	var err error
	if s.created, err = meter.Int64Counter("orders.created",
		metric.WithDescription("Orders committed to storage"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.created counter")
	}
	if s.failed, err = meter.Int64Counter("orders.failed",
		metric.WithDescription("Order placements that failed, by step"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.failed counter")
	}
	if s.downstream, err = meter.Int64Counter("orders.downstream",
		metric.WithDescription("Post-commit step outcomes, by step and outcome"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.downstream counter")
	}
	return s, nil
}

// CreateOrder runs the placement saga:
//
//  1. resolve the customer;
//  2. reserve all products in one catalog call;
//  3. insert the order and every line in one local transaction;
//  4. initiate payment;
//  5. publish the order confirmation.
//
// Failures in 1-3 leave no order behind; a reservation made in 2 is released
// if 3 fails, or if 2 itself ended without a definite answer. A payment
// failure in 4 keeps the committed order, marks it PAYMENT_FAILED, releases the
// reservation and returns ErrPaymentInitiationFailed along with a non-nil
// result. When the payment outcome is unknown the reservation is kept. A
// publish failure in 5 is logged and reported in the result only.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "order.CreateOrder",
		trace.WithAttributes(
			attribute.String("order.reference", req.Reference),
			attribute.String("order.customer_id", req.CustomerID),
			attribute.Int("order.lines", len(req.Products)),
		),
	)
	defer span.End()

	ctx = zctx.With(ctx,
		zap.String("reference", req.Reference),
		zap.String("customer_id", req.CustomerID),
	)

	if err := s.checkReference(ctx, req.Reference); err != nil {
		return nil, s.abort(ctx, span, stepReference, err)
	}

	cust, err := s.resolveCustomer(ctx, req.CustomerID)
	if err != nil {
		return nil, s.abort(ctx, span, stepCustomer, err)
	}

	purchased, err := s.reserveProducts(ctx, req.Products)
	if err != nil {
		return nil, s.abort(ctx, span, stepReservation, err)
	}

	o, err := s.persist(ctx, req)
	if err != nil {
		s.releaseProducts(ctx, req.Products)
		return nil, s.abort(ctx, span, stepPersist, err)
	}
	s.created.Add(ctx, 1)
	span.SetAttributes(attribute.Int64("order.id", o.ID))
	ctx = zctx.With(ctx, zap.Int64("order_id", o.ID))

	result := &CreateOrderResult{
		OrderID:      o.ID,
		Reference:    o.Reference,
		Status:       StatusPending,
		Payment:      OutcomeSkipped,
		Confirmation: OutcomeSkipped,
	}

	if err := s.initiatePayment(ctx, o, cust); err != nil {
		result.Payment = OutcomeFailed
		s.recordDownstream(ctx, stepPayment, OutcomeFailed)
		if s.setStatus(ctx, o.ID, StatusPaymentFailed) {
			result.Status = StatusPaymentFailed
		}
		if errors.Is(err, payment.ErrOutcomeUnknown) || errors.Is(err, context.DeadlineExceeded) {
			// The payment may still go through; its stock must stay reserved.
			zctx.From(ctx).Error("Payment outcome unknown, reservation kept for reconciliation", zap.Error(err))
		} else {
			s.releaseProducts(ctx, req.Products)
		}
		return result, s.abort(ctx, span, stepPayment, err)
	}
	result.Payment = OutcomeSucceeded
	s.recordDownstream(ctx, stepPayment, OutcomeSucceeded)
	if s.setStatus(ctx, o.ID, StatusConfirmed) {
		result.Status = StatusConfirmed
	}

	confirmation := event.OrderConfirmation{
		OrderReference: req.Reference,
		TotalAmount:    req.Amount,
		PaymentMethod:  req.PaymentMethod,
		Customer:       *cust,
		Products:       purchased,
	}
	if err := s.publishConfirmation(ctx, confirmation); err != nil {
		result.Confirmation = OutcomeFailed
		s.recordDownstream(ctx, stepConfirmation, OutcomeFailed)
		zctx.From(ctx).Error("Order confirmation lost", zap.Error(err))
		span.AddEvent("confirmation publish failed", trace.WithAttributes(
			attribute.String("error", err.Error()),
		))
		return result, nil
	}
	result.Confirmation = OutcomeSucceeded
	s.recordDownstream(ctx, stepConfirmation, OutcomeSucceeded)

	zctx.From(ctx).Info("Order placed", zap.String("status", string(result.Status)))
	return result, nil
}

// FindByID returns a single order. It returns ErrNotFound when no order has
// the given id.
func (s *Service) FindByID(ctx context.Context, id int64) (*Order, error) {
	o, err := s.orders.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "find order %d", id)
	}
	return o, nil
}

// FindAll returns every order in storage order.
func (s *Service) FindAll(ctx context.Context) ([]Order, error) {
	orders, err := s.orders.FindAll(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "find orders")
	}
	return orders, nil
}

// FindLines returns the lines of an existing order.
func (s *Service) FindLines(ctx context.Context, orderID int64) ([]Line, error) {
	if _, err := s.FindByID(ctx, orderID); err != nil {
		return nil, err
	}
	lines, err := s.orders.FindLines(ctx, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "find lines of order %d", orderID)
	}
	return lines, nil
}

func (s *Service) checkReference(ctx context.Context, reference string) error {
	_, err := s.orders.FindByReference(ctx, reference)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %q", ErrDuplicateReference, reference)
	case errors.Is(err, ErrNotFound):
		return nil
	default:
		return fmt.Errorf("%w: lookup reference: %w", ErrPersistence, err)
	}
}

func (s *Service) resolveCustomer(ctx context.Context, id string) (*customer.Customer, error) {
	ctx, cancel := withTimeout(ctx, s.timeouts.Customer)
	defer cancel()

	cust, err := s.customers.FindCustomerByID(ctx, id)
	if err != nil {
		if errors.Is(err, customer.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCustomerNotFound, id)
		}
		return nil, errors.Wrapf(err, "resolve customer %s", id)
	}
	return cust, nil
}

func (s *Service) reserveProducts(ctx context.Context, reqs []product.PurchaseRequest) ([]product.PurchasedProduct, error) {
	ctx, cancel := withTimeout(ctx, s.timeouts.Product)
	defer cancel()

	purchased, err := s.products.PurchaseProducts(ctx, reqs)
	if err != nil {
		if errors.Is(err, product.ErrReservationUnconfirmed) || errors.Is(err, context.DeadlineExceeded) {
			s.releaseProducts(ctx, reqs)
		}
		return nil, fmt.Errorf("%w: %w", ErrProductReservationFailed, err)
	}
	return purchased, nil
}

// persist writes the order and all of its lines atomically.
func (s *Service) persist(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	o := &Order{
		Reference:     req.Reference,
		Amount:        req.Amount,
		PaymentMethod: req.PaymentMethod,
		CustomerID:    req.CustomerID,
		Status:        StatusPending,
	}
	err := s.orders.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertOrder(ctx, o); err != nil {
			return errors.Wrap(err, "insert order")
		}
		for _, p := range req.Products {
			line := &Line{
				OrderID:   o.ID,
				ProductID: p.ProductID,
				Quantity:  p.Quantity,
			}
			if err := tx.InsertOrderLine(ctx, line); err != nil {
				return errors.Wrapf(err, "insert line for product %d", p.ProductID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return o, nil
}

func (s *Service) initiatePayment(ctx context.Context, o *Order, cust *customer.Customer) error {
	ctx, cancel := withTimeout(ctx, s.timeouts.Payment)
	defer cancel()

	paymentID, err := s.payments.RequestOrderPayment(ctx, payment.Request{
		Amount:         o.Amount,
		PaymentMethod:  o.PaymentMethod,
		OrderID:        o.ID,
		OrderReference: o.Reference,
		Customer:       *cust,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPaymentInitiationFailed, err)
	}
	zctx.From(ctx).Debug("Payment initiated", zap.Int64("payment_id", paymentID))
	return nil
}

func (s *Service) publishConfirmation(ctx context.Context, c event.OrderConfirmation) error {
	ctx, cancel := withTimeout(ctx, s.timeouts.Publish)
	defer cancel()

	if err := s.confirmations.PublishOrderConfirmation(ctx, c); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// releaseProducts compensates a reservation. It detaches from the caller's
// cancellation so a cancelled request still returns its stock.
func (s *Service) releaseProducts(ctx context.Context, reqs []product.PurchaseRequest) {
	ctx, cancel := withTimeout(context.WithoutCancel(ctx), s.timeouts.Compensation)
	defer cancel()

	if err := s.products.ReleaseProducts(ctx, reqs); err != nil {
		s.recordDownstream(ctx, stepCompensation, OutcomeFailed)
		zctx.From(ctx).Error("Product reservation not released, stock needs reconciliation",
			zap.Error(err),
		)
		return
	}
	s.recordDownstream(ctx, stepCompensation, OutcomeSucceeded)
}

// setStatus updates the order status and reports whether it was stored. A
// failed update leaves the previous status visible and is only logged.
func (s *Service) setStatus(ctx context.Context, id int64, status Status) bool {
	ctx = context.WithoutCancel(ctx)
	if err := s.orders.UpdateStatus(ctx, id, status); err != nil {
		zctx.From(ctx).Error("Order status not updated",
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return false
	}
	return true
}

func (s *Service) abort(ctx context.Context, span trace.Span, step string, err error) error {
	s.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("step", step)))
	span.RecordError(err)
	span.SetStatus(codes.Error, step+" failed")
	zctx.From(ctx).Warn("Order placement failed", zap.String("step", step), zap.Error(err))
	return err
}

func (s *Service) recordDownstream(ctx context.Context, step string, outcome StepOutcome) {
	s.downstream.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step", step),
		attribute.String("outcome", string(outcome)),
	))
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
