package handler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/order-pipeline/internal/domain/order"
	"github.com/xenking/order-pipeline/internal/domain/payment"
	"github.com/xenking/order-pipeline/internal/handler"
)

type mockOrderService struct {
	createReq    order.CreateOrderRequest
	createResult *order.CreateOrderResult
	createErr    error
	orders       map[int64]order.Order
	lines        map[int64][]order.Line
	findErr      error
}

func (m *mockOrderService) CreateOrder(_ context.Context, req order.CreateOrderRequest) (*order.CreateOrderResult, error) {
	m.createReq = req
	return m.createResult, m.createErr
}

func (m *mockOrderService) FindByID(_ context.Context, id int64) (*order.Order, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return &o, nil
}

func (m *mockOrderService) FindAll(_ context.Context) ([]order.Order, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	out := make([]order.Order, 0, len(m.orders))
	for id := int64(1); id <= int64(len(m.orders)); id++ {
		out = append(out, m.orders[id])
	}
	return out, nil
}

func (m *mockOrderService) FindLines(_ context.Context, id int64) ([]order.Line, error) {
	return m.lines[id], nil
}

func newRouter(svc handler.OrderService) http.Handler {
	r := chi.NewRouter()
	handler.NewHandler(svc).Routes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const validBody = `{
	"customerId": "C1",
	"reference": "ORD-1",
	"amount": 99.99,
	"paymentMethod": "VISA",
	"products": [{"productId": 7, "quantity": 2}]
}`

func TestCreateOrder(t *testing.T) {
	svc := &mockOrderService{createResult: &order.CreateOrderResult{
		OrderID:      1,
		Reference:    "ORD-1",
		Status:       order.StatusConfirmed,
		Payment:      order.OutcomeSucceeded,
		Confirmation: order.OutcomeSucceeded,
	}}

	rec := do(t, newRouter(svc), http.MethodPost, "/api/v1/orders", validBody)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{
		"id": 1,
		"reference": "ORD-1",
		"status": "CONFIRMED",
		"payment": "succeeded",
		"confirmation": "succeeded"
	}`, rec.Body.String())

	assert.Equal(t, "C1", svc.createReq.CustomerID)
	assert.True(t, decimal.RequireFromString("99.99").Equal(svc.createReq.Amount))
	assert.Equal(t, payment.MethodVisa, svc.createReq.PaymentMethod)
	require.Len(t, svc.createReq.Products, 1)
	assert.Equal(t, int64(7), svc.createReq.Products[0].ProductID)
	assert.Equal(t, 2, svc.createReq.Products[0].Quantity)
}

func TestCreateOrder_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"Invalid", fmt.Errorf("%w: reference is required", order.ErrInvalidRequest), http.StatusBadRequest},
		{"InvalidQuantity", &order.InvalidQuantityError{ProductID: 7}, http.StatusBadRequest},
		{"CustomerNotFound", fmt.Errorf("%w: C1", order.ErrCustomerNotFound), http.StatusNotFound},
		{"DuplicateReference", fmt.Errorf("%w: %q", order.ErrDuplicateReference, "ORD-1"), http.StatusConflict},
		{"Reservation", fmt.Errorf("%w: insufficient stock", order.ErrProductReservationFailed), http.StatusUnprocessableEntity},
		{"Persistence", fmt.Errorf("%w: disk full", order.ErrPersistence), http.StatusInternalServerError},
		{"Unexpected", errors.New("resolve customer C1: connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockOrderService{createErr: tt.err}
			rec := do(t, newRouter(svc), http.MethodPost, "/api/v1/orders", validBody)
			require.Equal(t, tt.status, rec.Code)

			var body struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.status, body.Code)
			assert.NotEmpty(t, body.Message)
			if tt.status == http.StatusInternalServerError {
				assert.NotContains(t, body.Message, "disk full")
			}
		})
	}
}

func TestCreateOrder_PaymentFailedCarriesOrder(t *testing.T) {
	svc := &mockOrderService{
		createResult: &order.CreateOrderResult{
			OrderID:      5,
			Reference:    "ORD-5",
			Status:       order.StatusPaymentFailed,
			Payment:      order.OutcomeFailed,
			Confirmation: order.OutcomeSkipped,
		},
		createErr: fmt.Errorf("%w: gateway timeout", order.ErrPaymentInitiationFailed),
	}

	rec := do(t, newRouter(svc), http.MethodPost, "/api/v1/orders", validBody)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{
		"code": 502,
		"message": "payment initiation failed",
		"order": {
			"id": 5,
			"reference": "ORD-5",
			"status": "PAYMENT_FAILED",
			"payment": "failed",
			"confirmation": "skipped"
		}
	}`, rec.Body.String())
}

func TestCreateOrder_MalformedBody(t *testing.T) {
	svc := &mockOrderService{}
	rec := do(t, newRouter(svc), http.MethodPost, "/api/v1/orders", `{"customerId":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.createReq.CustomerID)
}

func TestGetOrder(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := &mockOrderService{
		orders: map[int64]order.Order{1: {
			ID:            1,
			Reference:     "ORD-1",
			Amount:        decimal.RequireFromString("99.99"),
			PaymentMethod: payment.MethodVisa,
			CustomerID:    "C1",
			Status:        order.StatusConfirmed,
			CreatedAt:     created,
		}},
		lines: map[int64][]order.Line{1: {
			{ID: 1, OrderID: 1, ProductID: 7, Quantity: 2},
			{ID: 2, OrderID: 1, ProductID: 8, Quantity: 1},
		}},
	}
	router := newRouter(svc)

	rec := do(t, router, http.MethodGet, "/api/v1/orders/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"id": 1,
		"reference": "ORD-1",
		"amount": 99.99,
		"paymentMethod": "VISA",
		"customerId": "C1",
		"status": "CONFIRMED",
		"createdAt": "2026-03-01T12:00:00Z",
		"lines": [
			{"productId": 7, "quantity": 2},
			{"productId": 8, "quantity": 1}
		]
	}`, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/api/v1/orders/2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/v1/orders/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetOrder_StoreError(t *testing.T) {
	svc := &mockOrderService{findErr: errors.New("connection reset")}
	rec := do(t, newRouter(svc), http.MethodGet, "/api/v1/orders/1", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")
}

func TestListOrders(t *testing.T) {
	svc := &mockOrderService{orders: map[int64]order.Order{
		1: {ID: 1, Reference: "ORD-1", Amount: decimal.NewFromInt(10), Status: order.StatusConfirmed},
		2: {ID: 2, Reference: "ORD-2", Amount: decimal.NewFromInt(20), Status: order.StatusPaymentFailed},
	}}

	rec := do(t, newRouter(svc), http.MethodGet, "/api/v1/orders", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body []struct {
		ID        int64  `json:"id"`
		Reference string `json:"reference"`
		Status    string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 2)
	assert.Equal(t, "ORD-1", body[0].Reference)
	assert.Equal(t, "PAYMENT_FAILED", body[1].Status)
}

func TestListOrders_Empty(t *testing.T) {
	rec := do(t, newRouter(&mockOrderService{}), http.MethodGet, "/api/v1/orders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}
