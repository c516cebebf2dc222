package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/dotandbo/spree/internal/domain/variant"
)

const (
	variantColumns = `id, sku, name, price, cost_price, currency, tax_category_id,
	gift_card, track_inventory, backorderable, count_on_hand, deleted_at`

	getVariantByIDSQL = `SELECT ` + variantColumns + ` FROM variants WHERE id = $1`

	upsertVariantSQL = `INSERT INTO variants (sku, name, price, cost_price, currency, tax_category_id,
		gift_card, track_inventory, backorderable, count_on_hand)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (sku) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price,
		cost_price = EXCLUDED.cost_price, currency = EXCLUDED.currency,
		tax_category_id = EXCLUDED.tax_category_id, gift_card = EXCLUDED.gift_card,
		track_inventory = EXCLUDED.track_inventory, backorderable = EXCLUDED.backorderable,
		count_on_hand = EXCLUDED.count_on_hand, deleted_at = NULL
	RETURNING id`
)

var _ variant.Repository = (*VariantRepository)(nil)

// VariantRepository implements variant.Repository backed by PostgreSQL.
type VariantRepository struct {
	db DBTX
}

// NewVariantRepository returns a VariantRepository that uses the given pool.
func NewVariantRepository(db DBTX) *VariantRepository {
	return &VariantRepository{db: db}
}

// GetByID returns the variant, including soft-deleted ones.
func (r *VariantRepository) GetByID(ctx context.Context, id int64) (*variant.Variant, error) {
	rows, err := r.db.Query(ctx, getVariantByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get variant %d", id)
	}

	v, err := pgx.CollectExactlyOneRow(rows, scanVariant)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, variant.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get variant %d", id)
	}
	return &v, nil
}

// Upsert stores v keyed by SKU and sets v.ID.
func (r *VariantRepository) Upsert(ctx context.Context, v *variant.Variant) error {
	err := r.db.QueryRow(ctx, upsertVariantSQL,
		v.SKU, v.Name, v.Price, v.CostPrice, v.Currency, v.TaxCategoryID,
		v.GiftCard, v.TrackInventory, v.Backorderable, v.CountOnHand,
	).Scan(&v.ID)
	if err != nil {
		return errors.Wrapf(err, "upsert variant %q", v.SKU)
	}
	return nil
}

func scanVariant(row pgx.CollectableRow) (variant.Variant, error) {
	var v variant.Variant
	err := row.Scan(
		&v.ID, &v.SKU, &v.Name, &v.Price, &v.CostPrice, &v.Currency, &v.TaxCategoryID,
		&v.GiftCard, &v.TrackInventory, &v.Backorderable, &v.CountOnHand, &v.DeletedAt,
	)
	return v, err
}
