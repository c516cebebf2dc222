package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/dotandbo/spree/internal/domain/tax"
)

const (
	listTaxRatesByZoneSQL = `SELECT id, name, zone_id, tax_category_id, amount, included_in_price
	FROM tax_rates WHERE zone_id = $1 ORDER BY id`

	upsertTaxRateSQL = `INSERT INTO tax_rates (name, zone_id, tax_category_id, amount, included_in_price)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (zone_id, tax_category_id, name) DO UPDATE SET amount = EXCLUDED.amount,
		included_in_price = EXCLUDED.included_in_price
	RETURNING id`
)

var _ tax.Repository = (*TaxRateRepository)(nil)

// TaxRateRepository implements tax.Repository backed by PostgreSQL.
type TaxRateRepository struct {
	db DBTX
}

// NewTaxRateRepository returns a TaxRateRepository that uses the given pool.
func NewTaxRateRepository(db DBTX) *TaxRateRepository {
	return &TaxRateRepository{db: db}
}

// ListByZone returns the rates of a tax zone ordered by id.
func (r *TaxRateRepository) ListByZone(ctx context.Context, zoneID int64) ([]tax.Rate, error) {
	rows, err := r.db.Query(ctx, listTaxRatesByZoneSQL, zoneID)
	if err != nil {
		return nil, errors.Wrapf(err, "list tax rates of zone %d", zoneID)
	}
	rates, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (tax.Rate, error) {
		var r tax.Rate
		err := row.Scan(&r.ID, &r.Name, &r.ZoneID, &r.TaxCategoryID, &r.Amount, &r.IncludedInPrice)
		return r, err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scan tax rates of zone %d", zoneID)
	}
	return rates, nil
}

// Upsert stores rate keyed by zone, category and name and sets its ID.
func (r *TaxRateRepository) Upsert(ctx context.Context, rate *tax.Rate) error {
	err := r.db.QueryRow(ctx, upsertTaxRateSQL,
		rate.Name, rate.ZoneID, rate.TaxCategoryID, rate.Amount, rate.IncludedInPrice,
	).Scan(&rate.ID)
	if err != nil {
		return errors.Wrapf(err, "upsert tax rate %q", rate.Name)
	}
	return nil
}
