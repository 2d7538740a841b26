// Package mail renders confirmation emails and sends them over SMTP.
package mail

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"mime"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/order-pipeline/internal/domain/notification"
	"github.com/xenking/order-pipeline/internal/domain/product"
	"github.com/xenking/order-pipeline/internal/event"
)

const (
	subjectOrderConfirmation   = "Order confirmation"
	subjectPaymentConfirmation = "Payment successfully processed"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"money": func(d decimal.Decimal) string { return d.StringFixed(2) },
}).ParseFS(templateFS, "templates/*.html"))

// Transport delivers a rendered message.
type Transport interface {
	Send(ctx context.Context, from string, to []string, msg []byte) error
}

var _ notification.Sender = (*Sender)(nil)

// Sender renders confirmation emails and hands them to a Transport.
type Sender struct {
	from      string
	transport Transport
	now       func() time.Time
}

// NewSender returns a Sender writing from the given address.
func NewSender(from string, transport Transport) *Sender {
	return &Sender{from: from, transport: transport, now: time.Now}
}

type orderData struct {
	CustomerName   string
	OrderReference string
	TotalAmount    decimal.Decimal
	Products       []product.PurchasedProduct
}

type paymentData struct {
	CustomerName   string
	OrderReference string
	Amount         decimal.Decimal
}

// SendOrderConfirmation emails the product list and total of an order.
func (s *Sender) SendOrderConfirmation(ctx context.Context, c event.OrderConfirmation) error {
	return s.send(ctx, c.Customer.Email, subjectOrderConfirmation, "order-confirmation.html", orderData{
		CustomerName:   c.Customer.FullName(),
		OrderReference: c.OrderReference,
		TotalAmount:    c.TotalAmount,
		Products:       c.Products,
	})
}

// SendPaymentConfirmation emails the amount and reference of a payment.
func (s *Sender) SendPaymentConfirmation(ctx context.Context, c event.PaymentConfirmation) error {
	return s.send(ctx, c.CustomerEmail, subjectPaymentConfirmation, "payment-confirmation.html", paymentData{
		CustomerName:   c.CustomerFirstname + " " + c.CustomerLastname,
		OrderReference: c.OrderReference,
		Amount:         c.Amount,
	})
}

func (s *Sender) send(ctx context.Context, to, subject, tmpl string, data any) error {
	var body bytes.Buffer
	if err := templates.ExecuteTemplate(&body, tmpl, data); err != nil {
		return errors.Wrapf(err, "render %s", tmpl)
	}

	msg := s.compose(to, subject, body.Bytes())
	if err := s.transport.Send(ctx, s.from, []string{to}, msg); err != nil {
		return errors.Wrapf(err, "send %q to %s", subject, to)
	}

	zctx.From(ctx).Debug("Email sent", zap.String("to", to), zap.String("subject", subject))
	return nil
}

func (s *Sender) compose(to, subject string, body []byte) []byte {
	var b bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&b, "%s: %s\r\n", k, v) }
	header("From", s.from)
	header("To", to)
	header("Subject", mime.QEncoding.Encode("utf-8", subject))
	header("Date", s.now().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/html; charset="utf-8"`)
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(string(body), "\n", "\r\n"))
	return b.Bytes()
}
