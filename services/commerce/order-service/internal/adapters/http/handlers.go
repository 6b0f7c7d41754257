package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/commerce-mesh/platform/httpx"
	"github.com/viralforge/commerce-mesh/services/commerce/order-service/internal/application"
	"github.com/viralforge/commerce-mesh/services/commerce/order-service/internal/domain"
)

type orderLineResponse struct {
	EntityID  string `json:"entity_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type orderResponse struct {
	OrderID   string              `json:"order_id"`
	UserID    string              `json:"user_id"`
	Status    string              `json:"status"`
	Version   int64               `json:"version"`
	Total     int64               `json:"total"`
	Items     []orderLineResponse `json:"items"`
	ExpiresAt time.Time           `json:"expires_at"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

func toResponse(o domain.Order) orderResponse {
	items := make([]orderLineResponse, 0, len(o.Items))
	for _, l := range o.Items {
		items = append(items, orderLineResponse{EntityID: l.EntityID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	return orderResponse{
		OrderID:   o.ID,
		UserID:    o.UserID,
		Status:    string(o.Status),
		Version:   o.Version,
		Total:     o.Total,
		Items:     items,
		ExpiresAt: o.ExpiresAt,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req application.PlaceOrderInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	req.TraceID = httpx.RequestIDFromContext(r.Context())
	order, err := h.service.PlaceOrder(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusCreated, toResponse(order))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.GetOrder(r.Context(), chi.URLParam(r, "order_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, toResponse(order))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListOrders(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toResponse(o))
	}
	httpx.WriteSuccess(w, http.StatusOK, out)
}

func (h *Handler) availability(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entity_id")
	available, err := h.service.Accountant().Available(r.Context(), entityID, "")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, map[string]any{"entity_id": entityID, "available": available})
}

func (h *Handler) confirmOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.ConfirmOrder)
}

func (h *Handler) beginPayment(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.BeginPayment)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.CancelOrder)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id string) (domain.Order, error)) {
	order, err := fn(r.Context(), chi.URLParam(r, "order_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, toResponse(order))
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapDomainError(err)
	httpx.WriteError(w, r, status, code, msg)
}

func mapDomainError(err error) (int, string, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "resource not found"
	case errors.Is(err, domain.ErrUnknownItem):
		return http.StatusUnprocessableEntity, "UNKNOWN_ITEM", err.Error()
	case errors.Is(err, domain.ErrInsufficientInventory):
		return http.StatusConflict, "INSUFFICIENT_INVENTORY", err.Error()
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION", err.Error()
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "CONFLICT", err.Error()
	case errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "service unavailable"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
	}
}
