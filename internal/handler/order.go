package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/order-pipeline/internal/domain/order"
	"github.com/xenking/order-pipeline/internal/domain/payment"
	"github.com/xenking/order-pipeline/internal/domain/product"
)

type createOrderRequest struct {
	CustomerID    string                    `json:"customerId"`
	Reference     string                    `json:"reference"`
	Amount        decimal.Decimal           `json:"amount"`
	PaymentMethod string                    `json:"paymentMethod"`
	Products      []product.PurchaseRequest `json:"products"`
}

type createOrderResponse struct {
	ID           int64             `json:"id"`
	Reference    string            `json:"reference"`
	Status       order.Status      `json:"status"`
	Payment      order.StepOutcome `json:"payment"`
	Confirmation order.StepOutcome `json:"confirmation"`
}

type paymentFailedResponse struct {
	errorResponse
	Order createOrderResponse `json:"order"`
}

type orderLineResponse struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

type orderResponse struct {
	ID            int64               `json:"id"`
	Reference     string              `json:"reference"`
	Amount        json.Number         `json:"amount"`
	PaymentMethod payment.Method      `json:"paymentMethod"`
	CustomerID    string              `json:"customerId"`
	Status        order.Status        `json:"status"`
	CreatedAt     time.Time           `json:"createdAt"`
	Lines         []orderLineResponse `json:"lines,omitempty"`
}

// CreateOrder places an order. A payment failure still answers with the
// committed order so the caller can follow up on it.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createOrderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.orders.CreateOrder(ctx, order.CreateOrderRequest{
		CustomerID:    req.CustomerID,
		Reference:     req.Reference,
		Amount:        req.Amount,
		PaymentMethod: payment.Method(req.PaymentMethod),
		Products:      req.Products,
	})
	if err != nil {
		h.writeCreateError(w, r, result, err)
		return
	}

	writeJSON(ctx, w, http.StatusCreated, toCreateOrderResponse(result))
}

func (h *Handler) writeCreateError(w http.ResponseWriter, r *http.Request, result *order.CreateOrderResult, err error) {
	ctx := r.Context()

	switch {
	case errors.Is(err, order.ErrInvalidRequest):
		writeError(ctx, w, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrCustomerNotFound):
		writeError(ctx, w, http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrDuplicateReference):
		writeError(ctx, w, http.StatusConflict, err.Error())
	case errors.Is(err, order.ErrProductReservationFailed):
		writeError(ctx, w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, order.ErrPaymentInitiationFailed) && result != nil:
		writeJSON(ctx, w, http.StatusBadGateway, paymentFailedResponse{
			errorResponse: errorResponse{Code: http.StatusBadGateway, Message: order.ErrPaymentInitiationFailed.Error()},
			Order:         toCreateOrderResponse(result),
		})
	default:
		zctx.From(ctx).Error("Create order", zap.Error(err))
		writeError(ctx, w, http.StatusInternalServerError, "internal error")
	}
}

// GetOrder returns one order with its lines.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(ctx, w, http.StatusBadRequest, "invalid order id")
		return
	}

	o, err := h.orders.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(ctx, w, http.StatusNotFound, err.Error())
			return
		}
		zctx.From(ctx).Error("Get order", zap.Int64("order_id", id), zap.Error(err))
		writeError(ctx, w, http.StatusInternalServerError, "internal error")
		return
	}

	lines, err := h.orders.FindLines(ctx, id)
	if err != nil {
		zctx.From(ctx).Error("Get order lines", zap.Int64("order_id", id), zap.Error(err))
		writeError(ctx, w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := toOrderResponse(*o)
	resp.Lines = make([]orderLineResponse, len(lines))
	for i, l := range lines {
		resp.Lines[i] = orderLineResponse{ProductID: l.ProductID, Quantity: l.Quantity}
	}
	writeJSON(ctx, w, http.StatusOK, resp)
}

// ListOrders returns every order without lines.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orders, err := h.orders.FindAll(ctx)
	if err != nil {
		zctx.From(ctx).Error("List orders", zap.Error(err))
		writeError(ctx, w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := make([]orderResponse, len(orders))
	for i, o := range orders {
		resp[i] = toOrderResponse(o)
	}
	writeJSON(ctx, w, http.StatusOK, resp)
}

func toCreateOrderResponse(r *order.CreateOrderResult) createOrderResponse {
	return createOrderResponse{
		ID:           r.OrderID,
		Reference:    r.Reference,
		Status:       r.Status,
		Payment:      r.Payment,
		Confirmation: r.Confirmation,
	}
}

func toOrderResponse(o order.Order) orderResponse {
	return orderResponse{
		ID:            o.ID,
		Reference:     o.Reference,
		Amount:        json.Number(o.Amount.String()),
		PaymentMethod: o.PaymentMethod,
		CustomerID:    o.CustomerID,
		Status:        o.Status,
		CreatedAt:     o.CreatedAt,
	}
}
