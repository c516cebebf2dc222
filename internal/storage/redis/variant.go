// Package redis caches catalog lookups in Redis.
package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dotandbo/spree/internal/domain/variant"
)

const keyPrefix = "spree:variant:"

var _ variant.Repository = (*VariantCache)(nil)

// VariantCache is a read-through cache in front of a variant.Repository.
// Cache failures are logged and fall through to the backing repository.
type VariantCache struct {
	client *redis.Client
	next   variant.Repository
	ttl    time.Duration
}

// NewVariantCache wraps next with a cache entry lifetime of ttl.
func NewVariantCache(client *redis.Client, next variant.Repository, ttl time.Duration) *VariantCache {
	return &VariantCache{client: client, next: next, ttl: ttl}
}

func key(id int64) string {
	return keyPrefix + strconv.FormatInt(id, 10)
}

// GetByID implements variant.Repository.
func (c *VariantCache) GetByID(ctx context.Context, id int64) (*variant.Variant, error) {
	lg := zctx.From(ctx)

	data, err := c.client.Get(ctx, key(id)).Bytes()
	switch {
	case err == nil:
		v, err := decodeVariant(data)
		if err == nil {
			return v, nil
		}
		lg.Warn("Discarding corrupt cached variant", zap.Int64("variant_id", id), zap.Error(err))
	case !errors.Is(err, redis.Nil):
		lg.Warn("Variant cache read failed", zap.Int64("variant_id", id), zap.Error(err))
	}

	v, err := c.next.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.client.Set(ctx, key(id), encodeVariant(v), c.ttl).Err(); err != nil {
		lg.Warn("Variant cache write failed", zap.Int64("variant_id", id), zap.Error(err))
	}
	return v, nil
}

// Invalidate drops the cached entry of a variant.
func (c *VariantCache) Invalidate(ctx context.Context, id int64) error {
	if err := c.client.Del(ctx, key(id)).Err(); err != nil {
		return errors.Wrapf(err, "invalidate variant %d", id)
	}
	return nil
}

func encodeVariant(v *variant.Variant) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(v.ID)
	e.FieldStart("sku")
	e.Str(v.SKU)
	e.FieldStart("name")
	e.Str(v.Name)
	e.FieldStart("price")
	e.Str(v.Price.String())
	e.FieldStart("cost_price")
	e.Str(v.CostPrice.String())
	e.FieldStart("currency")
	e.Str(v.Currency)
	e.FieldStart("tax_category_id")
	e.Int64(v.TaxCategoryID)
	e.FieldStart("gift_card")
	e.Bool(v.GiftCard)
	e.FieldStart("track_inventory")
	e.Bool(v.TrackInventory)
	e.FieldStart("backorderable")
	e.Bool(v.Backorderable)
	e.FieldStart("count_on_hand")
	e.Int(v.CountOnHand)
	e.FieldStart("deleted_at")
	if v.DeletedAt != nil {
		e.Str(v.DeletedAt.Format(time.RFC3339Nano))
	} else {
		e.Null()
	}
	e.ObjEnd()
	return e.Bytes()
}

func decodeVariant(data []byte) (*variant.Variant, error) {
	var v variant.Variant
	d := jx.DecodeBytes(data)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			v.ID, err = d.Int64()
		case "sku":
			v.SKU, err = d.Str()
		case "name":
			v.Name, err = d.Str()
		case "price":
			v.Price, err = decodeDecimal(d)
		case "cost_price":
			v.CostPrice, err = decodeDecimal(d)
		case "currency":
			v.Currency, err = d.Str()
		case "tax_category_id":
			v.TaxCategoryID, err = d.Int64()
		case "gift_card":
			v.GiftCard, err = d.Bool()
		case "track_inventory":
			v.TrackInventory, err = d.Bool()
		case "backorderable":
			v.Backorderable, err = d.Bool()
		case "count_on_hand":
			v.CountOnHand, err = d.Int()
		case "deleted_at":
			if d.Next() == jx.Null {
				return d.Null()
			}
			s, err := d.Str()
			if err != nil {
				return err
			}
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return err
			}
			v.DeletedAt = &t
		default:
			return d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode variant")
	}
	return &v, nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	s, err := d.Str()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(s)
}
