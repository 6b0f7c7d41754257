package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/commerce-mesh/platform/httpx"
	"github.com/viralforge/commerce-mesh/services/commerce/order-service/internal/application"
)

type Handler struct {
	service *application.Service
}

func NewHandler(service *application.Service) *Handler {
	return &Handler{service: service}
}

func NewRouter(handler *Handler, logger *slog.Logger) http.Handler {
	r := httpx.NewRouter(logger)
	r.Route("/v1/orders", func(r chi.Router) {
		r.Post("/", handler.placeOrder)
		r.Get("/", handler.listOrders)
		r.Get("/{order_id}", handler.getOrder)
		r.Get("/availability/{entity_id}", handler.availability)
		r.Post("/{order_id}/confirm", handler.confirmOrder)
		r.Post("/{order_id}/payment", handler.beginPayment)
		r.Post("/{order_id}/cancel", handler.cancelOrder)
	})
	return r
}
