package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/commerce-mesh/platform/httpx"
	"github.com/viralforge/commerce-mesh/services/commerce/cart-service/internal/application"
	"github.com/viralforge/commerce-mesh/services/commerce/cart-service/internal/domain"
)

type Handler struct {
	service *application.Service
}

func NewHandler(service *application.Service) *Handler {
	return &Handler{service: service}
}

func NewRouter(handler *Handler, logger *slog.Logger) http.Handler {
	r := httpx.NewRouter(logger)
	r.Route("/v1/carts", func(r chi.Router) {
		r.Post("/", handler.createCart)
		r.Get("/{cart_id}", handler.getCart)
		r.Put("/{cart_id}/items/{entity_id}", handler.setItem)
		r.Delete("/{cart_id}/items/{entity_id}", handler.removeItem)
		r.Post("/{cart_id}/checkout", handler.checkout)
	})
	return r
}

type cartResponse struct {
	CartID    string        `json:"cart_id"`
	UserID    string        `json:"user_id"`
	Status    string        `json:"status"`
	Version   int64         `json:"version"`
	Lines     []domain.Line `json:"lines"`
	Total     int64         `json:"total"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func toResponse(c domain.Cart) cartResponse {
	lines := c.Lines
	if lines == nil {
		lines = []domain.Line{}
	}
	return cartResponse{
		CartID:    c.ID,
		UserID:    c.UserID,
		Status:    string(c.Status),
		Version:   c.Version,
		Lines:     lines,
		Total:     c.Total(),
		UpdatedAt: c.UpdatedAt,
	}
}

func (h *Handler) createCart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	cart, err := h.service.CreateCart(r.Context(), req.UserID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusCreated, toResponse(cart))
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.service.GetCart(r.Context(), chi.URLParam(r, "cart_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, toResponse(cart))
}

func (h *Handler) setItem(w http.ResponseWriter, r *http.Request) {
	var req application.SetItemInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	cart, err := h.service.SetItem(r.Context(), chi.URLParam(r, "cart_id"), chi.URLParam(r, "entity_id"), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, toResponse(cart))
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	cart, err := h.service.RemoveItem(r.Context(), chi.URLParam(r, "cart_id"), chi.URLParam(r, "entity_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, toResponse(cart))
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	cart, err := h.service.Checkout(r.Context(), chi.URLParam(r, "cart_id"), httpx.RequestIDFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusAccepted, toResponse(cart))
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		httpx.WriteError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "resource not found")
	case errors.Is(err, domain.ErrUnknownItem):
		httpx.WriteError(w, r, http.StatusUnprocessableEntity, "UNKNOWN_ITEM", err.Error())
	case errors.Is(err, domain.ErrCartClosed):
		httpx.WriteError(w, r, http.StatusConflict, "CART_CLOSED", err.Error())
	case errors.Is(err, domain.ErrConflict):
		httpx.WriteError(w, r, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, domain.ErrStorageUnavailable):
		httpx.WriteError(w, r, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "service unavailable")
	default:
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}
