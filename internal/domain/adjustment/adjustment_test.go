package adjustment

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	id int64
}

func (i *item) AdjustableKind() AdjustableKind { return KindLineItem }
func (i *item) AdjustableID() int64            { return i.id }
func (i *item) AdjustableCurrency() string     { return "USD" }

type fixed struct {
	amount decimal.Decimal
}

func (f fixed) ComputeAmount(Adjustable) decimal.Decimal { return f.amount }

type promo struct {
	amount   decimal.Decimal
	eligible bool
}

func (p promo) ComputeAmount(Adjustable) decimal.Decimal { return p.amount }
func (p promo) EligibleFor(Adjustable) bool              { return p.eligible }

var now = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var (
	taxRef   = SourceRef{Kind: SourceTaxRate, ID: 1}
	promoRef = SourceRef{Kind: SourcePromotionAction, ID: 2}
)

func TestAdjustment_ClosedNeverChanges(t *testing.T) {
	target := &item{id: 1}
	a := New(target, taxRef, dec("5.00"), "Tax")
	require.NoError(t, a.Close())

	got := a.Update(fixed{amount: dec("10.00")}, nil, now)

	assert.True(t, got.Equal(dec("5.00")))
	assert.True(t, a.Amount.Equal(dec("5.00")))
	assert.True(t, a.UpdatedAt.IsZero())
}

func TestAdjustment_UpdateRecomputes(t *testing.T) {
	target := &item{id: 1}
	a := New(target, taxRef, dec("5.00"), "Tax")

	got := a.Update(fixed{amount: dec("7.25")}, nil, now)

	assert.True(t, got.Equal(dec("7.25")))
	assert.True(t, a.Amount.Equal(dec("7.25")))
	assert.True(t, a.Eligible)
	assert.Equal(t, now, a.UpdatedAt)
}

func TestAdjustment_UpdateWithoutSource(t *testing.T) {
	a := New(&item{id: 1}, SourceRef{}, dec("-3.00"), "Manual")

	got := a.Update(nil, nil, now)

	assert.True(t, got.Equal(dec("-3.00")))
}

func TestAdjustment_IneligiblePromotionZeroed(t *testing.T) {
	a := New(&item{id: 1}, promoRef, dec("-5.00"), "Promotion")

	got := a.Update(promo{amount: dec("-5.00"), eligible: false}, nil, now)

	assert.True(t, got.IsZero())
	assert.False(t, a.Eligible)

	got = a.Update(promo{amount: dec("-5.00"), eligible: true}, nil, now)
	assert.True(t, got.Equal(dec("-5.00")))
	assert.True(t, a.Eligible)
}

func TestAdjustment_Transitions(t *testing.T) {
	a := New(&item{id: 1}, taxRef, decimal.Zero, "Tax")

	require.ErrorIs(t, a.Open(), ErrInvalidTransition)
	require.NoError(t, a.Close())
	assert.True(t, a.Closed())
	require.ErrorIs(t, a.Close(), ErrInvalidTransition)
	require.NoError(t, a.Open())
	assert.False(t, a.Closed())
}

func TestAdjustment_Currency(t *testing.T) {
	assert.Equal(t, "USD", New(&item{}, taxRef, decimal.Zero, "").Currency("EUR"))
	assert.Equal(t, "EUR", (&Adjustment{}).Currency("EUR"))
}

func TestRecalculate(t *testing.T) {
	target := &item{id: 1}
	small := New(target, SourceRef{Kind: SourcePromotionAction, ID: 10}, decimal.Zero, "Small")
	big := New(target, SourceRef{Kind: SourcePromotionAction, ID: 11}, decimal.Zero, "Big")
	additional := New(target, SourceRef{Kind: SourceTaxRate, ID: 20}, decimal.Zero, "Sales Tax")
	included := New(target, SourceRef{Kind: SourceTaxRate, ID: 21}, decimal.Zero, "VAT")
	included.Included = true

	sources := SourceMap{}
	sources.Add(small.Source, promo{amount: dec("-5.00"), eligible: true})
	sources.Add(big.Source, promo{amount: dec("-10.00"), eligible: true})
	sources.Add(additional.Source, fixed{amount: dec("2.00")})
	sources.Add(included.Source, fixed{amount: dec("1.00")})

	totals := Recalculate([]*Adjustment{small, big, additional, included}, target, sources, now)

	assert.True(t, totals.PromoTotal.Equal(dec("-10.00")))
	assert.True(t, totals.AdditionalTaxTotal.Equal(dec("2.00")))
	assert.True(t, totals.IncludedTaxTotal.Equal(dec("1.00")))
	assert.True(t, totals.AdjustmentTotal.Equal(dec("-8.00")))

	assert.True(t, big.Eligible)
	assert.False(t, small.Eligible)
}

func TestRecalculate_TieGoesToNewest(t *testing.T) {
	target := &item{id: 1}
	older := New(target, SourceRef{Kind: SourcePromotionAction, ID: 1}, decimal.Zero, "Older")
	older.CreatedAt = now.Add(-time.Hour)
	newer := New(target, SourceRef{Kind: SourcePromotionAction, ID: 2}, decimal.Zero, "Newer")
	newer.CreatedAt = now

	sources := SourceMap{
		older.Source: promo{amount: dec("-4.00"), eligible: true},
		newer.Source: promo{amount: dec("-4.00"), eligible: true},
	}
	totals := Recalculate([]*Adjustment{older, newer}, target, sources, now)

	assert.True(t, totals.PromoTotal.Equal(dec("-4.00")))
	assert.True(t, newer.Eligible)
	assert.False(t, older.Eligible)
}

func TestRecalculate_ZeroPromotionsIgnored(t *testing.T) {
	target := &item{id: 1}
	a := New(target, promoRef, dec("-3.00"), "Promotion")

	totals := Recalculate([]*Adjustment{a}, target, SourceMap{promoRef: promo{eligible: false}}, now)

	assert.True(t, totals.PromoTotal.IsZero())
	assert.True(t, totals.AdjustmentTotal.IsZero())
}

func TestRecalculate_ClosedKeepsAmount(t *testing.T) {
	target := &item{id: 1}
	a := New(target, taxRef, dec("1.50"), "Tax")
	require.NoError(t, a.Close())

	totals := Recalculate([]*Adjustment{a}, target, SourceMap{taxRef: fixed{amount: dec("9.99")}}, now)

	assert.True(t, totals.AdditionalTaxTotal.Equal(dec("1.50")))
}

func TestFilters(t *testing.T) {
	first, second := &item{id: 1}, &item{id: 2}
	charge := New(first, taxRef, dec("1.00"), "Tax")
	credit := New(first, promoRef, dec("-2.00"), "Promo")
	other := New(second, taxRef, dec("3.00"), "Tax")
	other.Included = true
	list := []*Adjustment{charge, credit, other}

	assert.Equal(t, []*Adjustment{charge, credit}, Select(list, BelongsTo(first)))
	assert.Equal(t, []*Adjustment{credit}, Select(list, IsCredit))
	assert.Equal(t, []*Adjustment{charge, other}, Select(list, IsTax, IsCharge))
	assert.Equal(t, []*Adjustment{other}, Select(list, IsIncluded))
	assert.True(t, Any(list, IsPromotion, BelongsTo(first)))
	assert.False(t, Any(list, IsPromotion, BelongsTo(second)))
	assert.True(t, Sum(list).Equal(dec("2.00")))
	assert.Len(t, Select(list, IsPrice), 3)
	assert.Empty(t, Select(list, IsShipping))
}
