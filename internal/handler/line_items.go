package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/dotandbo/spree/internal/domain/cart"
	"github.com/dotandbo/spree/internal/domain/order"
)

// lineItemID parses the id route parameter. Unparsable ids resolve to 0,
// which matches no line item.
func lineItemID(r *http.Request) int64 {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func (h *Handler) createLineItem(w http.ResponseWriter, r *http.Request) {
	p, err := decodeLineItem(r)
	if err != nil {
		mapError(w, r, err)
		return
	}

	req := cart.CreateLineItemRequest{Quantity: p.Quantity}
	if p.VariantID != nil {
		req.VariantID = *p.VariantID
	}
	res, err := h.cart.CreateLineItem(r.Context(), orderNumber(r), credentials(r), req)
	if err != nil {
		mapError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, func(e *jx.Encoder) { encodeLineItem(e, res.Order, res.LineItem) })
}

func (h *Handler) updateLineItem(w http.ResponseWriter, r *http.Request) {
	p, err := decodeLineItem(r)
	if err != nil {
		mapError(w, r, err)
		return
	}

	req := cart.UpdateLineItemRequest{
		ID: lineItemID(r),
		Attrs: order.LineItemAttrs{
			Quantity:          p.Quantity,
			VariantID:         p.VariantID,
			Price:             p.Price,
			EstimatedShipDate: p.EstimatedShipDate,
		},
	}
	res, err := h.cart.UpdateLineItem(r.Context(), orderNumber(r), credentials(r), req)
	if err != nil {
		mapError(w, r, err)
		return
	}
	respond(w, http.StatusOK, func(e *jx.Encoder) { encodeLineItem(e, res.Order, res.LineItem) })
}

func (h *Handler) destroyLineItem(w http.ResponseWriter, r *http.Request) {
	if err := h.cart.DestroyLineItem(r.Context(), orderNumber(r), credentials(r), lineItemID(r)); err != nil {
		mapError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
