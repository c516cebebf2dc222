package handler

import (
	"net/http"

	"github.com/go-faster/jx"
)

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.cart.CreateOrder(r.Context(), credentials(r))
	if err != nil {
		mapError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (h *Handler) showOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.cart.Show(r.Context(), orderNumber(r), credentials(r))
	if err != nil {
		mapError(w, r, err)
		return
	}
	respond(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// proposeShipments moves the order to delivery with one flat rate shipment.
func (h *Handler) proposeShipments(w http.ResponseWriter, r *http.Request) {
	o, err := h.cart.ProposeShipments(r.Context(), orderNumber(r), credentials(r))
	if err != nil {
		mapError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o) })
}

const msgCouponApplied = "The coupon code was successfully applied to your order."

func (h *Handler) applyCouponCode(w http.ResponseWriter, r *http.Request) {
	p, err := decodeCoupon(r)
	if err != nil {
		mapError(w, r, err)
		return
	}
	o, promos, err := h.cart.ApplyCouponCode(r.Context(), orderNumber(r), credentials(r), p.CouponCode)
	if err != nil {
		mapError(w, r, err)
		return
	}
	respond(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("successful", func(e *jx.Encoder) { e.Bool(true) })
			e.Field("success", func(e *jx.Encoder) { e.Str(msgCouponApplied) })
			e.Field("promotions", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, p := range promos {
						encodePromotion(e, p)
					}
				})
			})
			e.Field("order", func(e *jx.Encoder) { encodeOrder(e, o) })
		})
	})
}
