package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/dotandbo/spree/internal/domain/adjustment"
	"github.com/dotandbo/spree/internal/domain/money"
	"github.com/dotandbo/spree/internal/domain/order"
	"github.com/dotandbo/spree/internal/domain/promotion"
)

func encodeMoney(e *jx.Encoder, d decimal.Decimal) {
	e.Str(d.StringFixed(2))
}

func encodeTime(e *jx.Encoder, t time.Time) {
	if t.IsZero() {
		e.Null()
		return
	}
	e.Str(t.UTC().Format(time.RFC3339))
}

func adjustableType(k adjustment.AdjustableKind) string {
	switch k {
	case adjustment.KindOrder:
		return "Spree::Order"
	case adjustment.KindShipment:
		return "Spree::Shipment"
	case adjustment.KindLineItem:
		return "Spree::LineItem"
	default:
		return ""
	}
}

func sourceType(k adjustment.SourceKind) string {
	switch k {
	case adjustment.SourcePromotionAction:
		return "Spree::PromotionAction"
	case adjustment.SourceTaxRate:
		return "Spree::TaxRate"
	default:
		return ""
	}
}

func encodeAdjustments(e *jx.Encoder, list []*adjustment.Adjustment, currency string) {
	e.Arr(func(e *jx.Encoder) {
		for _, a := range list {
			encodeAdjustment(e, a, currency)
		}
	})
}

func encodeAdjustment(e *jx.Encoder, a *adjustment.Adjustment, currency string) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(a.ID) })
		e.Field("source_type", func(e *jx.Encoder) {
			if a.Source.IsZero() {
				e.Null()
				return
			}
			e.Str(sourceType(a.Source.Kind))
		})
		e.Field("source_id", func(e *jx.Encoder) {
			if a.Source.IsZero() {
				e.Null()
				return
			}
			e.Int64(a.Source.ID)
		})
		e.Field("adjustable_type", func(e *jx.Encoder) { e.Str(adjustableType(a.AdjustableKind())) })
		e.Field("adjustable_id", func(e *jx.Encoder) {
			if a.Adjustable == nil {
				e.Null()
				return
			}
			e.Int64(a.Adjustable.AdjustableID())
		})
		e.Field("amount", func(e *jx.Encoder) { encodeMoney(e, a.Amount) })
		e.Field("display_amount", func(e *jx.Encoder) { e.Str(money.Format(a.Amount, a.Currency(currency))) })
		e.Field("label", func(e *jx.Encoder) { e.Str(a.Label) })
		e.Field("mandatory", func(e *jx.Encoder) { e.Bool(a.Mandatory) })
		e.Field("eligible", func(e *jx.Encoder) { e.Bool(a.Eligible) })
		e.Field("included", func(e *jx.Encoder) { e.Bool(a.Included) })
		e.Field("state", func(e *jx.Encoder) { e.Str(string(a.State)) })
		if a.PromotionID != 0 {
			e.Field("promotion_id", func(e *jx.Encoder) { e.Int64(a.PromotionID) })
		}
		e.Field("created_at", func(e *jx.Encoder) { encodeTime(e, a.CreatedAt) })
		e.Field("updated_at", func(e *jx.Encoder) { encodeTime(e, a.UpdatedAt) })
	})
}

func encodeLineItem(e *jx.Encoder, o *order.Order, li *order.LineItem) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(li.ID) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(li.Quantity) })
		e.Field("price", func(e *jx.Encoder) { encodeMoney(e, li.UnitPrice()) })
		e.Field("variant_id", func(e *jx.Encoder) { e.Int64(li.VariantID) })
		e.Field("single_display_amount", func(e *jx.Encoder) { e.Str(li.SingleDisplayAmount()) })
		e.Field("display_amount", func(e *jx.Encoder) { e.Str(li.DisplayAmount()) })
		e.Field("total", func(e *jx.Encoder) { encodeMoney(e, li.Total()) })
		e.Field("promo_total", func(e *jx.Encoder) { encodeMoney(e, li.PromoTotal) })
		e.Field("additional_tax_total", func(e *jx.Encoder) { encodeMoney(e, li.AdditionalTaxTotal) })
		e.Field("included_tax_total", func(e *jx.Encoder) { encodeMoney(e, li.IncludedTaxTotal) })
		e.Field("estimated_ship_date", func(e *jx.Encoder) {
			if li.EstimatedShipDate == nil {
				e.Null()
				return
			}
			e.Str(li.EstimatedShipDate.Format(time.DateOnly))
		})
		e.Field("adjustments", func(e *jx.Encoder) {
			encodeAdjustments(e, o.AdjustmentsFor(li), li.Currency)
		})
	})
}

func encodeShipment(e *jx.Encoder, o *order.Order, s *order.Shipment) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(s.ID) })
		e.Field("number", func(e *jx.Encoder) { e.Str(s.Number) })
		e.Field("state", func(e *jx.Encoder) { e.Str(string(s.State)) })
		e.Field("cost", func(e *jx.Encoder) { encodeMoney(e, s.Cost) })
		e.Field("display_cost", func(e *jx.Encoder) { e.Str(money.Format(s.Cost, s.Currency)) })
		e.Field("final_price", func(e *jx.Encoder) { encodeMoney(e, s.FinalCost()) })
		e.Field("adjustments", func(e *jx.Encoder) {
			encodeAdjustments(e, o.AdjustmentsFor(s), s.Currency)
		})
	})
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(o.ID) })
		e.Field("number", func(e *jx.Encoder) { e.Str(o.Number) })
		e.Field("token", func(e *jx.Encoder) { e.Str(o.Token) })
		e.Field("state", func(e *jx.Encoder) { e.Str(string(o.State)) })
		e.Field("currency", func(e *jx.Encoder) { e.Str(o.Currency) })
		e.Field("coupon_code", func(e *jx.Encoder) {
			if o.CouponCode == "" {
				e.Null()
				return
			}
			e.Str(o.CouponCode)
		})
		e.Field("item_count", func(e *jx.Encoder) { e.Int(o.ItemCount) })
		e.Field("item_total", func(e *jx.Encoder) { encodeMoney(e, o.ItemTotal) })
		e.Field("ship_total", func(e *jx.Encoder) { encodeMoney(e, o.ShipmentTotal) })
		e.Field("promo_total", func(e *jx.Encoder) { encodeMoney(e, o.PromoTotal) })
		e.Field("additional_tax_total", func(e *jx.Encoder) { encodeMoney(e, o.AdditionalTaxTotal) })
		e.Field("included_tax_total", func(e *jx.Encoder) { encodeMoney(e, o.IncludedTaxTotal) })
		e.Field("adjustment_total", func(e *jx.Encoder) { encodeMoney(e, o.AdjustmentTotal) })
		e.Field("total", func(e *jx.Encoder) { encodeMoney(e, o.Total) })
		e.Field("display_total", func(e *jx.Encoder) { e.Str(money.Format(o.Total, o.Currency)) })
		e.Field("line_items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, li := range o.LineItems {
					encodeLineItem(e, o, li)
				}
			})
		})
		e.Field("shipments", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, s := range o.Shipments {
					encodeShipment(e, o, s)
				}
			})
		})
		e.Field("adjustments", func(e *jx.Encoder) {
			encodeAdjustments(e, o.AdjustmentsFor(o), o.Currency)
		})
		e.Field("created_at", func(e *jx.Encoder) { encodeTime(e, o.CreatedAt) })
		e.Field("updated_at", func(e *jx.Encoder) { encodeTime(e, o.UpdatedAt) })
	})
}

func encodePromotion(e *jx.Encoder, p *promotion.Promotion) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(p.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("code", func(e *jx.Encoder) {
			if p.Code == "" {
				e.Null()
				return
			}
			e.Str(p.Code)
		})
	})
}

func respond(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encode(e)
	writeJSON(w, status, e)
}
