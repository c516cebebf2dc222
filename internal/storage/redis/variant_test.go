package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotandbo/spree/internal/domain/variant"
)

type countingRepo struct {
	variants map[int64]*variant.Variant
	calls    int
}

func (r *countingRepo) GetByID(_ context.Context, id int64) (*variant.Variant, error) {
	r.calls++
	v, ok := r.variants[id]
	if !ok {
		return nil, variant.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func sampleVariant() *variant.Variant {
	deleted := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return &variant.Variant{
		ID:             7,
		SKU:            "TSHIRT-M",
		Name:           "T-Shirt",
		Price:          decimal.RequireFromString("19.99"),
		CostPrice:      decimal.RequireFromString("7.50"),
		Currency:       "USD",
		TaxCategoryID:  2,
		TrackInventory: true,
		CountOnHand:    12,
		DeletedAt:      &deleted,
	}
}

func setupCache(t *testing.T) (*VariantCache, *countingRepo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := &countingRepo{variants: map[int64]*variant.Variant{7: sampleVariant()}}
	return NewVariantCache(client, repo, time.Hour), repo, mr
}

func TestVariantCache_ReadThrough(t *testing.T) {
	cache, repo, mr := setupCache(t)
	ctx := context.Background()

	first, err := cache.GetByID(ctx, 7)
	require.NoError(t, err)
	assert.True(t, mr.Exists("spree:variant:7"))
	assert.Equal(t, time.Hour, mr.TTL("spree:variant:7"))

	second, err := cache.GetByID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.calls)

	assert.Equal(t, first.SKU, second.SKU)
	assert.True(t, first.Price.Equal(second.Price))
	assert.True(t, first.CostPrice.Equal(second.CostPrice))
	assert.Equal(t, first.CountOnHand, second.CountOnHand)
	require.NotNil(t, second.DeletedAt)
	assert.True(t, first.DeletedAt.Equal(*second.DeletedAt))
}

func TestVariantCache_NotFoundIsNotCached(t *testing.T) {
	cache, repo, mr := setupCache(t)

	_, err := cache.GetByID(context.Background(), 99)
	require.ErrorIs(t, err, variant.ErrNotFound)
	assert.False(t, mr.Exists("spree:variant:99"))
	assert.Equal(t, 1, repo.calls)
}

func TestVariantCache_CorruptEntryFallsThrough(t *testing.T) {
	cache, repo, mr := setupCache(t)
	require.NoError(t, mr.Set("spree:variant:7", "{not json"))

	v, err := cache.GetByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "TSHIRT-M", v.SKU)
	assert.Equal(t, 1, repo.calls)
}

func TestVariantCache_RedisDown(t *testing.T) {
	cache, repo, mr := setupCache(t)
	mr.Close()

	v, err := cache.GetByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v.ID)
	assert.Equal(t, 1, repo.calls)
}

func TestVariantCache_Invalidate(t *testing.T) {
	cache, repo, mr := setupCache(t)
	ctx := context.Background()

	_, err := cache.GetByID(ctx, 7)
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx, 7))
	assert.False(t, mr.Exists("spree:variant:7"))

	_, err = cache.GetByID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.calls)
}
