package seed

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotandbo/spree/internal/domain/auth"
	"github.com/dotandbo/spree/internal/domain/promotion"
	"github.com/dotandbo/spree/internal/domain/tax"
	"github.com/dotandbo/spree/internal/domain/variant"
)

type memStore[T any] struct {
	items []T
	err   error
	set   func(T, int64)
}

func (m *memStore[T]) Upsert(_ context.Context, v T) error {
	if m.err != nil {
		return m.err
	}
	m.items = append(m.items, v)
	m.set(v, int64(len(m.items)))
	return nil
}

type stores struct {
	variants   *memStore[*variant.Variant]
	rates      *memStore[*tax.Rate]
	promotions *memStore[*promotion.Promotion]
	keys       *memStore[*auth.APIUser]
}

func newStores() *stores {
	return &stores{
		variants:   &memStore[*variant.Variant]{set: func(v *variant.Variant, id int64) { v.ID = id }},
		rates:      &memStore[*tax.Rate]{set: func(r *tax.Rate, id int64) { r.ID = id }},
		promotions: &memStore[*promotion.Promotion]{set: func(p *promotion.Promotion, id int64) { p.ID = id }},
		keys:       &memStore[*auth.APIUser]{set: func(u *auth.APIUser, id int64) { u.KeyID = id }},
	}
}

func (s *stores) Stores() Stores {
	return Stores{Variants: s.variants, TaxRates: s.rates, Promotions: s.promotions, APIKeys: s.keys}
}

func TestLoadAndApply_Fixtures(t *testing.T) {
	f, err := os.Open("../../db/seed/fixtures.yaml")
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	fixture, err := Load(f)
	require.NoError(t, err)

	s := newStores()
	require.NoError(t, Apply(context.Background(), s.Stores(), fixture, []byte("pepper")))

	require.Len(t, s.variants.items, 3)
	shirt := s.variants.items[0]
	assert.Equal(t, "TSHIRT-BLK-M", shirt.SKU)
	assert.True(t, decimal.RequireFromString("19.99").Equal(shirt.Price))
	assert.Equal(t, "USD", shirt.Currency)
	assert.True(t, s.variants.items[2].GiftCard)

	require.Len(t, s.rates.items, 1)
	assert.Equal(t, "Sales Tax 8.25%", s.rates.items[0].Label())

	require.Len(t, s.promotions.items, 2)
	auto := s.promotions.items[0]
	assert.Empty(t, auto.Code)
	require.Len(t, auto.Rules, 1)
	assert.Equal(t, promotion.ItemTotalRule{Operator: promotion.OperatorGTE, Amount: decimal.RequireFromString("50.00")}, auto.Rules[0])
	require.Len(t, auto.Actions, 1)
	fs, ok := auto.Actions[0].(*promotion.FreeShipping)
	require.True(t, ok)
	assert.Same(t, auto, fs.Promotion)
	assert.Equal(t, "SHIPFREE", s.promotions.items[1].Code)

	require.Len(t, s.keys.items, 2)
	admin := s.keys.items[0]
	assert.True(t, admin.Admin)
	assert.Equal(t, auth.HashKey("spree-admin-dev-key", []byte("pepper")), admin.KeyHash)
	assert.False(t, s.keys.items[1].Admin)
}

type fakeCache struct {
	dropped []int64
	err     error
}

func (c *fakeCache) Invalidate(_ context.Context, id int64) error {
	c.dropped = append(c.dropped, id)
	return c.err
}

func TestApply_InvalidatesVariantCache(t *testing.T) {
	fixture, err := Load(strings.NewReader(`
variants:
  - sku: A
    price: "1.00"
  - sku: B
    price: "2.00"
`))
	require.NoError(t, err)

	s := newStores()
	cache := &fakeCache{}
	stores := s.Stores()
	stores.Cache = cache
	require.NoError(t, Apply(context.Background(), stores, fixture, nil))
	assert.Equal(t, []int64{1, 2}, cache.dropped)

	// Cache failures do not fail the seed.
	s = newStores()
	cache = &fakeCache{err: errors.New("redis down")}
	stores = s.Stores()
	stores.Cache = cache
	require.NoError(t, Apply(context.Background(), stores, fixture, nil))
	assert.Len(t, s.variants.items, 2)
	assert.Len(t, cache.dropped, 2)
}

func TestLoad(t *testing.T) {
	t.Run("empty document", func(t *testing.T) {
		f, err := Load(strings.NewReader(""))
		require.NoError(t, err)
		assert.Empty(t, f.Variants)
	})

	t.Run("unknown field", func(t *testing.T) {
		_, err := Load(strings.NewReader("variants:\n  - sku: A\n    colour: red\n"))
		assert.Error(t, err)
	})
}

func TestApply_Invalid(t *testing.T) {
	for _, tt := range []struct {
		name    string
		fixture string
		want    string
	}{
		{name: "bad price", fixture: "variants:\n  - sku: A\n    price: ten\n", want: `variant "A"`},
		{name: "missing sku", fixture: "variants:\n  - name: A\n", want: "sku is required"},
		{name: "bad operator", fixture: "promotions:\n  - name: P\n    rules:\n      - item_total: {operator: lt, amount: '1'}\n", want: `unknown operator "lt"`},
		{name: "bad action", fixture: "promotions:\n  - name: P\n    actions: [percent_off]\n", want: `unknown action "percent_off"`},
		{name: "bad policy", fixture: "promotions:\n  - name: P\n    match_policy: most\n", want: "unknown match policy"},
		{name: "empty key", fixture: "api_keys:\n  - name: K\n", want: "key is required"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Load(strings.NewReader(tt.fixture))
			require.NoError(t, err)
			err = Apply(context.Background(), newStores().Stores(), f, nil)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestApply_StoreError(t *testing.T) {
	s := newStores()
	s.rates.err = errors.New("db down")

	f := &Fixture{TaxRates: []TaxRate{{Name: "VAT", Amount: "0.2"}}}
	err := Apply(context.Background(), s.Stores(), f, nil)
	assert.ErrorContains(t, err, "db down")
}
