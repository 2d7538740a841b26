// Package handler exposes the order service over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/order-pipeline/internal/domain/order"
)

// maxBodySize caps request bodies.
const maxBodySize = 1 << 20

// OrderService is the subset of order.Service used by the handlers.
type OrderService interface {
	CreateOrder(ctx context.Context, req order.CreateOrderRequest) (*order.CreateOrderResult, error)
	FindByID(ctx context.Context, id int64) (*order.Order, error)
	FindAll(ctx context.Context) ([]order.Order, error)
	FindLines(ctx context.Context, orderID int64) ([]order.Line, error)
}

// Handler serves the order API.
type Handler struct {
	orders OrderService
}

// NewHandler constructs a Handler backed by the order service.
func NewHandler(orders OrderService) *Handler {
	return &Handler{orders: orders}
}

// Routes mounts the order API on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrder)
		r.Get("/", h.ListOrders)
		r.Get("/{id}", h.GetOrder)
	})
}

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zctx.From(ctx).Warn("Write response", zap.Error(err))
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, message string) {
	writeJSON(ctx, w, status, errorResponse{Code: status, Message: message})
}
