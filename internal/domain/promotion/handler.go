package promotion

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/dotandbo/spree/internal/domain/order"
)

// FreeShippingHandler activates free shipping promotions for an order.
type FreeShippingHandler struct {
	repo Repository
}

// NewFreeShippingHandler returns a handler backed by repo.
func NewFreeShippingHandler(repo Repository) *FreeShippingHandler {
	return &FreeShippingHandler{repo: repo}
}

// Activate activates every active free shipping promotion without a path
// that is eligible for o and either has no code or matches o's coupon code.
// It returns the promotions that were activated.
func (h *FreeShippingHandler) Activate(ctx context.Context, o *order.Order, now time.Time) ([]*Promotion, error) {
	promos, err := h.repo.ListFreeShipping(ctx, now)
	if err != nil {
		return nil, errors.Wrap(err, "list free shipping promotions")
	}

	var activated []*Promotion
	for _, p := range promos {
		if p.Path != "" || !p.Active(now) {
			continue
		}
		if p.Code != "" && !strings.EqualFold(p.Code, o.CouponCode) {
			continue
		}
		if !p.Eligible(o, now) {
			continue
		}
		if p.Activate(o, now) {
			activated = append(activated, p)
		}
	}
	return activated, nil
}
