package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/commerce-mesh/platform/httpx"
	"github.com/viralforge/commerce-mesh/services/commerce/catalog-service/internal/application"
	"github.com/viralforge/commerce-mesh/services/commerce/catalog-service/internal/domain"
)

type Handler struct {
	service *application.Service
}

func NewHandler(service *application.Service) *Handler {
	return &Handler{service: service}
}

func NewRouter(handler *Handler, logger *slog.Logger) http.Handler {
	r := httpx.NewRouter(logger)
	r.Route("/v1/items", func(r chi.Router) {
		r.Post("/", handler.createItem)
		r.Get("/", handler.listItems)
		r.Get("/{item_id}", handler.getItem)
		r.Patch("/{item_id}", handler.updateItem)
	})
	return r
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	var req application.CreateItemInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	req.TraceID = httpx.RequestIDFromContext(r.Context())
	item, err := h.service.CreateItem(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusCreated, item)
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	var req application.UpdateItemInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	if raw := r.Header.Get("If-Match"); raw != "" && req.ExpectedVersion == nil {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "If-Match must be a version number")
			return
		}
		req.ExpectedVersion = &v
	}
	req.TraceID = httpx.RequestIDFromContext(r.Context())
	item, err := h.service.UpdateItem(r.Context(), chi.URLParam(r, "item_id"), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, item)
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.GetItem(r.Context(), chi.URLParam(r, "item_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, item)
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.service.ListItems(r.Context(), r.URL.Query().Get("seller_id"), limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, items)
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		httpx.WriteError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "resource not found")
	case errors.Is(err, domain.ErrConflict):
		httpx.WriteError(w, r, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, domain.ErrStorageUnavailable):
		httpx.WriteError(w, r, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "service unavailable")
	default:
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}
