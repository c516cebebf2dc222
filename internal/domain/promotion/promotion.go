// Package promotion implements promotions, their eligibility rules and the
// actions they perform on orders.
package promotion

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dotandbo/spree/internal/domain/order"
)

// MatchPolicy decides how rules combine.
type MatchPolicy string

const (
	MatchAll MatchPolicy = "all"
	MatchAny MatchPolicy = "any"
)

// Rule is an eligibility condition of a promotion.
type Rule interface {
	Eligible(o *order.Order) bool
}

// Action is an effect a promotion has on an order. Perform reports whether
// the action applies to the order.
type Action interface {
	ActionID() int64
	Perform(o *order.Order, now time.Time) bool
}

// Promotion groups rules and actions.
type Promotion struct {
	ID          int64
	Name        string
	Code        string
	Path        string
	StartsAt    *time.Time
	ExpiresAt   *time.Time
	UsageLimit  int
	Uses        int
	MatchPolicy MatchPolicy
	Rules       []Rule
	Actions     []Action
}

// Active reports whether now falls within the promotion's window.
func (p *Promotion) Active(now time.Time) bool {
	if p.StartsAt != nil && now.Before(*p.StartsAt) {
		return false
	}
	return !p.Expired(now)
}

// Expired reports whether the promotion's window has closed.
func (p *Promotion) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && !now.Before(*p.ExpiresAt)
}

// UsageLimitExceeded reports whether the promotion was used up by other
// orders.
func (p *Promotion) UsageLimitExceeded(o *order.Order) bool {
	if p.UsageLimit <= 0 {
		return false
	}
	uses := p.Uses
	if o.HasPromotion(p.ID) && uses > 0 {
		uses--
	}
	return uses >= p.UsageLimit
}

// Eligible reports whether the promotion can apply to o at now.
func (p *Promotion) Eligible(o *order.Order, now time.Time) bool {
	if p.Expired(now) || p.UsageLimitExceeded(o) {
		return false
	}
	return p.rulesPass(o)
}

func (p *Promotion) rulesPass(o *order.Order) bool {
	if len(p.Rules) == 0 {
		return true
	}
	if p.MatchPolicy == MatchAny {
		for _, r := range p.Rules {
			if r.Eligible(o) {
				return true
			}
		}
		return false
	}
	for _, r := range p.Rules {
		if !r.Eligible(o) {
			return false
		}
	}
	return true
}

// Activate performs every action on o and attaches the promotion when at
// least one of them applied. Orders past checkout are left alone.
func (p *Promotion) Activate(o *order.Order, now time.Time) bool {
	if !activatable(o) {
		return false
	}

	taken := false
	for _, a := range p.Actions {
		if a.Perform(o, now) {
			taken = true
		}
	}
	if taken {
		o.AttachPromotion(p.ID)
		o.UpdatedAt = now
	}
	return taken
}

func activatable(o *order.Order) bool {
	if o == nil {
		return false
	}
	switch o.State {
	case order.StateComplete, order.StateAwaitingReturn, order.StateReturned:
		return false
	default:
		return true
	}
}

// Operator compares an order value with a rule's amount.
type Operator string

const (
	OperatorGT  Operator = "gt"
	OperatorGTE Operator = "gte"
)

// ItemTotalRule requires the order's item total to exceed an amount.
type ItemTotalRule struct {
	Operator Operator
	Amount   decimal.Decimal
}

// Eligible implements Rule.
func (r ItemTotalRule) Eligible(o *order.Order) bool {
	if r.Operator == OperatorGT {
		return o.ItemTotal.GreaterThan(r.Amount)
	}
	return o.ItemTotal.GreaterThanOrEqual(r.Amount)
}

// Repository loads promotions with their rules and actions.
type Repository interface {
	// ListFreeShipping returns promotions without a path that carry a free
	// shipping action and are active at now.
	ListFreeShipping(ctx context.Context, now time.Time) ([]*Promotion, error)
	// ListByIDs returns the promotions with the given ids.
	ListByIDs(ctx context.Context, ids []int64) ([]*Promotion, error)
}
