package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/commerce-mesh/platform/httpx"
	"github.com/viralforge/commerce-mesh/services/commerce/payment-service/internal/application"
	"github.com/viralforge/commerce-mesh/services/commerce/payment-service/internal/domain"
)

type Handler struct {
	service *application.Service
}

func NewHandler(service *application.Service) *Handler {
	return &Handler{service: service}
}

func NewRouter(handler *Handler, logger *slog.Logger) http.Handler {
	r := httpx.NewRouter(logger)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/payments", handler.createPayment)
		r.Get("/payments/{payment_id}", handler.getPayment)
		r.Get("/orders/{order_id}/payment", handler.paymentForOrder)
	})
	return r
}

type paymentResponse struct {
	PaymentID string    `json:"payment_id"`
	OrderID   string    `json:"order_id"`
	UserID    string    `json:"user_id"`
	Amount    int64     `json:"amount"`
	ChargeID  string    `json:"charge_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func toResponse(p domain.Payment) paymentResponse {
	return paymentResponse{
		PaymentID: p.ID,
		OrderID:   p.OrderID,
		UserID:    p.UserID,
		Amount:    p.Amount,
		ChargeID:  p.ChargeID,
		Status:    string(p.Status),
		CreatedAt: p.CreatedAt,
	}
}

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	var req application.CreatePaymentInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	req.TraceID = httpx.RequestIDFromContext(r.Context())
	p, err := h.service.CreatePayment(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusCreated, toResponse(p))
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.GetPayment(r.Context(), chi.URLParam(r, "payment_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, toResponse(p))
}

func (h *Handler) paymentForOrder(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.PaymentForOrder(r.Context(), chi.URLParam(r, "order_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, toResponse(p))
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		httpx.WriteError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "resource not found")
	case errors.Is(err, domain.ErrUnknownOrder):
		httpx.WriteError(w, r, http.StatusNotFound, "UNKNOWN_ORDER", err.Error())
	case errors.Is(err, domain.ErrOrderNotPayable):
		httpx.WriteError(w, r, http.StatusConflict, "ORDER_NOT_PAYABLE", err.Error())
	case errors.Is(err, domain.ErrConflict):
		httpx.WriteError(w, r, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, domain.ErrStorageUnavailable):
		httpx.WriteError(w, r, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "service unavailable")
	default:
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}
