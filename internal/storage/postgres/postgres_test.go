package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotandbo/spree/internal/domain/adjustment"
	"github.com/dotandbo/spree/internal/domain/auth"
	"github.com/dotandbo/spree/internal/domain/order"
	"github.com/dotandbo/spree/internal/domain/tax"
	"github.com/dotandbo/spree/internal/domain/variant"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

var uniqueErr = &pgconn.PgError{Code: uniqueViolation, Message: "duplicate key value"}

func TestRunMigrations(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS variants").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, RunMigrations(context.Background(), mock))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(errors.Wrap(uniqueErr, "insert")))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("boom")))
}

// --- Variants ---

var variantCols = []string{
	"id", "sku", "name", "price", "cost_price", "currency", "tax_category_id",
	"gift_card", "track_inventory", "backorderable", "count_on_hand", "deleted_at",
}

func TestVariantRepository_GetByID(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		mock := newMock(t)
		deleted := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
		mock.ExpectQuery("SELECT .+ FROM variants WHERE id").
			WithArgs(int64(1)).
			WillReturnRows(pgxmock.NewRows(variantCols).
				AddRow(int64(1), "SHIRT", "Shirt", "10.00", "4.00", "USD", int64(2), false, true, false, 3, &deleted))

		v, err := NewVariantRepository(mock).GetByID(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, "SHIRT", v.SKU)
		assert.True(t, decimal.RequireFromString("10").Equal(v.Price))
		assert.True(t, decimal.RequireFromString("4").Equal(v.CostPrice))
		assert.Equal(t, int64(2), v.TaxCategoryID)
		assert.True(t, v.TrackInventory)
		assert.Equal(t, 3, v.CountOnHand)
		require.NotNil(t, v.DeletedAt)
		assert.True(t, deleted.Equal(*v.DeletedAt))
	})

	t.Run("not found", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery("SELECT .+ FROM variants WHERE id").
			WithArgs(int64(99)).
			WillReturnRows(pgxmock.NewRows(variantCols))

		_, err := NewVariantRepository(mock).GetByID(context.Background(), 99)
		assert.ErrorIs(t, err, variant.ErrNotFound)
	})

	t.Run("query error", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery("SELECT .+ FROM variants WHERE id").
			WithArgs(int64(1)).
			WillReturnError(errors.New("connection refused"))

		_, err := NewVariantRepository(mock).GetByID(context.Background(), 1)
		require.Error(t, err)
		assert.NotErrorIs(t, err, variant.ErrNotFound)
		assert.Contains(t, err.Error(), "get variant 1")
	})
}

func TestVariantRepository_Upsert(t *testing.T) {
	mock := newMock(t)
	v := &variant.Variant{SKU: "MUG", Name: "Mug", Price: decimal.RequireFromString("7.50"), Currency: "USD", TaxCategoryID: 1}

	args := append([]any{"MUG", "Mug"}, anyArgs(2)...)
	args = append(args, "USD", int64(1), false, false, false, 0)
	mock.ExpectQuery("INSERT INTO variants").
		WithArgs(args...).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	require.NoError(t, NewVariantRepository(mock).Upsert(context.Background(), v))
	assert.Equal(t, int64(7), v.ID)
}

// --- API keys ---

func TestAPIKeyRepository_FindByHash(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery("SELECT .+ FROM api_keys WHERE key_hash").
			WithArgs("abc").
			WillReturnRows(pgxmock.NewRows([]string{"id", "key_hash", "name", "user_id", "admin"}).
				AddRow(int64(3), "abc", "admin", int64(1), true))

		u, err := NewAPIKeyRepository(mock).FindByHash(context.Background(), "abc")
		require.NoError(t, err)
		assert.Equal(t, &auth.APIUser{KeyID: 3, KeyHash: "abc", Name: "admin", UserID: 1, Admin: true}, u)
	})

	t.Run("not found", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery("SELECT .+ FROM api_keys WHERE key_hash").
			WithArgs("nope").
			WillReturnError(pgx.ErrNoRows)

		_, err := NewAPIKeyRepository(mock).FindByHash(context.Background(), "nope")
		assert.ErrorIs(t, err, auth.ErrKeyNotFound)
	})
}

func TestAPIKeyRepository_Upsert(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("INSERT INTO api_keys").
		WithArgs("hash", "storefront", int64(2), false).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(5)))

	u := &auth.APIUser{KeyHash: "hash", Name: "storefront", UserID: 2}
	require.NoError(t, NewAPIKeyRepository(mock).Upsert(context.Background(), u))
	assert.Equal(t, int64(5), u.KeyID)
}

// --- Tax rates ---

func TestTaxRateRepository_ListByZone(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("SELECT .+ FROM tax_rates WHERE zone_id").
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "zone_id", "tax_category_id", "amount", "included_in_price"}).
			AddRow(int64(1), "Sales Tax", int64(1), int64(1), "0.0825", false).
			AddRow(int64(2), "VAT", int64(1), int64(2), "0.2", true))

	rates, err := NewTaxRateRepository(mock).ListByZone(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, rates, 2)
	assert.Equal(t, "Sales Tax 8.25%", rates[0].Label())
	assert.Equal(t, "VAT 20% (Included in Price)", rates[1].Label())
}

func TestTaxRateRepository_Upsert(t *testing.T) {
	mock := newMock(t)
	args := append([]any{"VAT", int64(1), int64(2)}, anyArgs(1)...)
	args = append(args, true)
	mock.ExpectQuery("INSERT INTO tax_rates").
		WithArgs(args...).
		WillReturnError(errors.New("connection refused"))

	r := &tax.Rate{Name: "VAT", ZoneID: 1, TaxCategoryID: 2, Amount: decimal.RequireFromString("0.2"), IncludedInPrice: true}
	err := NewTaxRateRepository(mock).Upsert(context.Background(), r)
	assert.ErrorContains(t, err, `upsert tax rate "VAT"`)
}

// --- Orders ---

func TestOrderRepository_GetByNumber_NotFound(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("SELECT .+ FROM orders WHERE number").
		WithArgs("R000000001").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err := NewOrderRepository(mock).GetByNumber(context.Background(), "R000000001")
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestOrderRepository_Save_New(t *testing.T) {
	mock := newMock(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	price := decimal.RequireFromString("10")
	li := &order.LineItem{VariantID: 1, Quantity: 2, Price: &price, Currency: "USD"}
	o := &order.Order{
		Number: "R000000001", Token: "tok", State: order.StateCart, Currency: "USD",
		LineItems: []*order.LineItem{li}, PromotionIDs: []int64{4},
		CreatedAt: now, UpdatedAt: now,
	}
	charge := adjustment.New(li, adjustment.SourceRef{Kind: adjustment.SourceTaxRate, ID: 1}, decimal.RequireFromString("1.65"), "Sales Tax 8.25%")
	o.Adjustments = []*adjustment.Adjustment{charge}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO orders").
		WithArgs(anyArgs(17)...).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(9)))
	mock.ExpectQuery("INSERT INTO line_items").
		WithArgs(append([]any{int64(9), int64(1)}, anyArgs(14)...)...).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(21)))
	mock.ExpectQuery("INSERT INTO adjustments").
		WithArgs(append([]any{int64(9), "line_item", int64(21), "tax_rate", int64(1), int64(0)}, anyArgs(8)...)...).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(31)))
	mock.ExpectExec("INSERT INTO order_promotions").
		WithArgs(int64(9), int64(4)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, NewOrderRepository(mock).Save(context.Background(), o))
	assert.Equal(t, int64(9), o.ID)
	assert.Equal(t, int64(9), li.OrderID)
	assert.Equal(t, int64(21), li.ID)
	assert.Equal(t, int64(31), charge.ID)
	assert.Equal(t, int64(9), charge.OrderID)
}

func TestOrderRepository_Save_Update(t *testing.T) {
	o := &order.Order{ID: 5, Number: "R000000005", State: order.StateCart, LockVersion: 2}

	t.Run("bumps lock version", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE orders").
			WithArgs(append([]any{int64(5), 2}, anyArgs(11)...)...).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		o := *o
		require.NoError(t, NewOrderRepository(mock).Save(context.Background(), &o))
		assert.Equal(t, 3, o.LockVersion)
	})

	t.Run("stale lock version", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE orders").
			WithArgs(append([]any{int64(5), 2}, anyArgs(11)...)...).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectRollback()

		o := *o
		err := NewOrderRepository(mock).Save(context.Background(), &o)
		assert.ErrorIs(t, err, order.ErrConflict)
		assert.Equal(t, 2, o.LockVersion)
	})

	t.Run("duplicate promotion credit", func(t *testing.T) {
		mock := newMock(t)
		s := &order.Shipment{ID: 3, OrderID: 5, Number: "H00000000001", Cost: decimal.RequireFromString("5")}
		credit := adjustment.New(s, adjustment.SourceRef{Kind: adjustment.SourcePromotionAction, ID: 10}, decimal.RequireFromString("-5"), "Promotion: Free Shipping")
		credit.PromotionID = 1

		o := *o
		o.Shipments = []*order.Shipment{s}
		o.Adjustments = []*adjustment.Adjustment{credit}

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE orders").
			WithArgs(anyArgs(13)...).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec("UPDATE shipments").
			WithArgs(anyArgs(6)...).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectQuery("INSERT INTO adjustments").
			WithArgs(anyArgs(14)...).
			WillReturnError(uniqueErr)
		mock.ExpectRollback()

		err := NewOrderRepository(mock).Save(context.Background(), &o)
		assert.ErrorIs(t, err, order.ErrConflict)
	})
}

func TestOrderRepository_Save_DeletesRemoved(t *testing.T) {
	mock := newMock(t)

	price := decimal.RequireFromString("10")
	li := &order.LineItem{ID: 7, OrderID: 5, VariantID: 1, Quantity: 1, Price: &price}
	o := &order.Order{ID: 5, Number: "R000000005", LockVersion: 1, LineItems: []*order.LineItem{li}}
	o.Adjustments = []*adjustment.Adjustment{{ID: 9, OrderID: 5, Adjustable: li, State: adjustment.StateOpen}}
	_, err := order.NewContents(o, nil, adjustment.SourceMap{}, time.Now).Remove(&variant.Variant{ID: 1}, 1)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE orders").
		WithArgs(anyArgs(13)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("DELETE FROM adjustments").
		WithArgs([]int64{9}).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM line_items").
		WithArgs([]int64{7}).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	require.NoError(t, NewOrderRepository(mock).Save(context.Background(), o))
	assert.True(t, o.Removed().Empty())
}
