// Package event defines the messages exchanged over the bus between the
// order, payment and notification services.
package event

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/order-pipeline/internal/domain/customer"
	"github.com/xenking/order-pipeline/internal/domain/payment"
	"github.com/xenking/order-pipeline/internal/domain/product"
)

// Bus topics.
const (
	TopicOrder   = "order-topic"
	TopicPayment = "payment-topic"
)

// OrderConfirmation is published once per placed order after the order and
// all of its lines are committed.
type OrderConfirmation struct {
	OrderReference string
	TotalAmount    decimal.Decimal
	PaymentMethod  payment.Method
	Customer       customer.Customer
	Products       []product.PurchasedProduct
}

// PaymentConfirmation is published by the payment service once a payment
// succeeds.
type PaymentConfirmation struct {
	OrderReference    string
	Amount            decimal.Decimal
	PaymentMethod     payment.Method
	CustomerFirstname string
	CustomerLastname  string
	CustomerEmail     string
}
