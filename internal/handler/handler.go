// Package handler implements the JSON HTTP API of orders and their line
// items on top of the cart service.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dotandbo/spree/internal/domain/cart"
	"github.com/dotandbo/spree/internal/domain/order"
	"github.com/dotandbo/spree/internal/domain/promotion"
)

// Cart is the set of operations exposed over HTTP.
type Cart interface {
	CreateOrder(ctx context.Context, creds cart.Credentials) (*order.Order, error)
	Show(ctx context.Context, number string, creds cart.Credentials) (*order.Order, error)
	CreateLineItem(ctx context.Context, number string, creds cart.Credentials, req cart.CreateLineItemRequest) (*cart.LineItemResult, error)
	UpdateLineItem(ctx context.Context, number string, creds cart.Credentials, req cart.UpdateLineItemRequest) (*cart.LineItemResult, error)
	DestroyLineItem(ctx context.Context, number string, creds cart.Credentials, id int64) error
	ProposeShipments(ctx context.Context, number string, creds cart.Credentials) (*order.Order, error)
	ApplyCouponCode(ctx context.Context, number string, creds cart.Credentials, code string) (*order.Order, []*promotion.Promotion, error)
}

var _ Cart = (*cart.Service)(nil)

// Handler serves the API.
type Handler struct {
	cart Cart
	auth *Authenticator
}

// NewHandler constructs a Handler.
func NewHandler(c Cart, auth *Authenticator) *Handler {
	return &Handler{cart: c, auth: auth}
}

// Mount registers the API routes under /api.
func (h *Handler) Mount(r chi.Router) {
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, msgNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "Method not allowed.")
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(h.authenticate)

		r.Post("/orders", h.createOrder)
		r.Route("/orders/{order_id}", func(r chi.Router) {
			r.Get("/", h.showOrder)
			r.Post("/shipments", h.proposeShipments)
			r.Put("/apply_coupon_code", h.applyCouponCode)

			r.Post("/line_items", h.createLineItem)
			r.Put("/line_items/{id}", h.updateLineItem)
			r.Patch("/line_items/{id}", h.updateLineItem)
			r.Delete("/line_items/{id}", h.destroyLineItem)
		})
	})
}

func orderNumber(r *http.Request) string {
	return chi.URLParam(r, "order_id")
}
