package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/dotandbo/spree/internal/domain/adjustment"
	"github.com/dotandbo/spree/internal/domain/order"
)

const (
	orderColumns = `id, number, token, user_id, state, currency, tax_zone_id, coupon_code,
	item_total, item_count, shipment_total, promo_total, additional_tax_total, included_tax_total,
	adjustment_total, total, lock_version, created_at, updated_at`

	getOrderByNumberSQL = `SELECT ` + orderColumns + ` FROM orders WHERE number = $1`

	insertOrderSQL = `INSERT INTO orders (number, token, user_id, state, currency, tax_zone_id, coupon_code,
		item_total, item_count, shipment_total, promo_total, additional_tax_total, included_tax_total,
		adjustment_total, total, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	RETURNING id`

	updateOrderSQL = `UPDATE orders SET state = $3, coupon_code = $4,
		item_total = $5, item_count = $6, shipment_total = $7, promo_total = $8,
		additional_tax_total = $9, included_tax_total = $10, adjustment_total = $11, total = $12,
		updated_at = $13, lock_version = lock_version + 1
	WHERE id = $1 AND lock_version = $2`

	lineItemColumns = `id, order_id, variant_id, tax_category_id, quantity, price, cost_price, currency,
	gift_card, estimated_ship_date, adjustment_total, promo_total, additional_tax_total, included_tax_total,
	pre_tax_amount, created_at, updated_at`

	listLineItemsSQL = `SELECT ` + lineItemColumns + ` FROM line_items WHERE order_id = $1 ORDER BY id`

	insertLineItemSQL = `INSERT INTO line_items (order_id, variant_id, tax_category_id, quantity, price, cost_price,
		currency, gift_card, estimated_ship_date, adjustment_total, promo_total, additional_tax_total,
		included_tax_total, pre_tax_amount, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	RETURNING id`

	updateLineItemSQL = `UPDATE line_items SET variant_id = $2, tax_category_id = $3, quantity = $4, price = $5,
		cost_price = $6, currency = $7, gift_card = $8, estimated_ship_date = $9, adjustment_total = $10,
		promo_total = $11, additional_tax_total = $12, included_tax_total = $13, pre_tax_amount = $14,
		updated_at = $15
	WHERE id = $1`

	deleteLineItemsSQL = `DELETE FROM line_items WHERE id = ANY($1)`

	shipmentColumns = `id, order_id, number, cost, state, currency, adjustment_total, promo_total,
	created_at, updated_at`

	listShipmentsSQL = `SELECT ` + shipmentColumns + ` FROM shipments WHERE order_id = $1 ORDER BY id`

	insertShipmentSQL = `INSERT INTO shipments (order_id, number, cost, state, currency, adjustment_total,
		promo_total, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	RETURNING id`

	updateShipmentSQL = `UPDATE shipments SET cost = $2, state = $3, adjustment_total = $4, promo_total = $5,
		updated_at = $6
	WHERE id = $1`

	deleteShipmentsSQL = `DELETE FROM shipments WHERE id = ANY($1)`

	adjustmentColumns = `id, adjustable_type, adjustable_id, source_type, source_id, COALESCE(promotion_id, 0),
	amount, label, eligible, mandatory, included, state, created_at, updated_at`

	listAdjustmentsSQL = `SELECT ` + adjustmentColumns + ` FROM adjustments WHERE order_id = $1 ORDER BY id`

	insertAdjustmentSQL = `INSERT INTO adjustments (order_id, adjustable_type, adjustable_id, source_type,
		source_id, promotion_id, amount, label, eligible, mandatory, included, state, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, NULLIF($6, 0), $7, $8, $9, $10, $11, $12, $13, $14)
	RETURNING id`

	updateAdjustmentSQL = `UPDATE adjustments SET amount = $2, label = $3, eligible = $4, state = $5,
		updated_at = $6
	WHERE id = $1`

	deleteAdjustmentsSQL = `DELETE FROM adjustments WHERE id = ANY($1)`

	listOrderPromotionsSQL = `SELECT promotion_id FROM order_promotions WHERE order_id = $1 ORDER BY promotion_id`

	attachPromotionSQL = `INSERT INTO order_promotions (order_id, promotion_id) VALUES ($1, $2)
	ON CONFLICT DO NOTHING`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	db DBTX
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(db DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

// GetByNumber loads the order aggregate. Adjustments whose adjustable no
// longer exists are skipped.
func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (*order.Order, error) {
	rows, err := r.db.Query(ctx, getOrderByNumberSQL, number)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %q", number)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %q", number)
	}

	if o.LineItems, err = r.listLineItems(ctx, o.ID); err != nil {
		return nil, err
	}
	if o.Shipments, err = r.listShipments(ctx, o.ID); err != nil {
		return nil, err
	}
	if o.Adjustments, err = r.listAdjustments(ctx, o); err != nil {
		return nil, err
	}
	if o.PromotionIDs, err = r.listPromotionIDs(ctx, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *OrderRepository) listLineItems(ctx context.Context, orderID int64) ([]*order.LineItem, error) {
	rows, err := r.db.Query(ctx, listLineItemsSQL, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "list line items")
	}
	items, err := pgx.CollectRows(rows, scanLineItem)
	if err != nil {
		return nil, errors.Wrap(err, "scan line items")
	}
	return items, nil
}

func (r *OrderRepository) listShipments(ctx context.Context, orderID int64) ([]*order.Shipment, error) {
	rows, err := r.db.Query(ctx, listShipmentsSQL, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "list shipments")
	}
	shipments, err := pgx.CollectRows(rows, scanShipment)
	if err != nil {
		return nil, errors.Wrap(err, "scan shipments")
	}
	return shipments, nil
}

func (r *OrderRepository) listAdjustments(ctx context.Context, o *order.Order) ([]*adjustment.Adjustment, error) {
	rows, err := r.db.Query(ctx, listAdjustmentsSQL, o.ID)
	if err != nil {
		return nil, errors.Wrap(err, "list adjustments")
	}
	defer rows.Close()

	items := make(map[int64]*order.LineItem, len(o.LineItems))
	for _, li := range o.LineItems {
		items[li.ID] = li
	}
	shipments := make(map[int64]*order.Shipment, len(o.Shipments))
	for _, s := range o.Shipments {
		shipments[s.ID] = s
	}

	var list []*adjustment.Adjustment
	for rows.Next() {
		var (
			a              adjustment.Adjustment
			adjustableType string
			adjustableID   int64
			sourceType     string
			state          string
		)
		err := rows.Scan(
			&a.ID, &adjustableType, &adjustableID, &sourceType, &a.Source.ID, &a.PromotionID,
			&a.Amount, &a.Label, &a.Eligible, &a.Mandatory, &a.Included, &state, &a.CreatedAt, &a.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "scan adjustment")
		}
		a.OrderID = o.ID
		a.Source.Kind = adjustment.SourceKind(sourceType)
		a.State = adjustment.State(state)

		switch adjustment.AdjustableKind(adjustableType) {
		case adjustment.KindOrder:
			a.Adjustable = o
		case adjustment.KindLineItem:
			li, ok := items[adjustableID]
			if !ok {
				continue
			}
			a.Adjustable = li
		case adjustment.KindShipment:
			s, ok := shipments[adjustableID]
			if !ok {
				continue
			}
			a.Adjustable = s
		default:
			continue
		}
		list = append(list, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate adjustments")
	}
	return list, nil
}

func (r *OrderRepository) listPromotionIDs(ctx context.Context, orderID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx, listOrderPromotionsSQL, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "list order promotions")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, errors.Wrap(err, "scan order promotions")
	}
	return ids, nil
}

// Save writes the aggregate in one transaction. Existing orders are updated
// only when their lock version is unchanged; the version is bumped on
// success.
func (r *OrderRepository) Save(ctx context.Context, o *order.Order) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := saveOrder(ctx, tx, o); err != nil {
		return err
	}
	if err := deleteRemoved(ctx, tx, o.Removed()); err != nil {
		return err
	}
	for _, li := range o.LineItems {
		li.OrderID = o.ID
		if err := saveLineItem(ctx, tx, li); err != nil {
			return err
		}
	}
	for _, s := range o.Shipments {
		s.OrderID = o.ID
		if err := saveShipment(ctx, tx, s); err != nil {
			return err
		}
	}
	for _, a := range o.Adjustments {
		a.OrderID = o.ID
		if err := saveAdjustment(ctx, tx, a); err != nil {
			return err
		}
	}
	for _, id := range o.PromotionIDs {
		if _, err := tx.Exec(ctx, attachPromotionSQL, o.ID, id); err != nil {
			return errors.Wrapf(err, "attach promotion %d", id)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return order.ErrConflict
		}
		return errors.Wrap(err, "commit")
	}
	o.MarkPersisted()
	return nil
}

func saveOrder(ctx context.Context, tx pgx.Tx, o *order.Order) error {
	if o.ID == 0 {
		err := tx.QueryRow(ctx, insertOrderSQL,
			o.Number, o.Token, o.UserID, string(o.State), o.Currency, o.TaxZoneID, o.CouponCode,
			o.ItemTotal, o.ItemCount, o.ShipmentTotal, o.PromoTotal, o.AdditionalTaxTotal, o.IncludedTaxTotal,
			o.AdjustmentTotal, o.Total, o.CreatedAt, o.UpdatedAt,
		).Scan(&o.ID)
		if err != nil {
			if isUniqueViolation(err) {
				return order.ErrConflict
			}
			return errors.Wrapf(err, "insert order %q", o.Number)
		}
		return nil
	}

	tag, err := tx.Exec(ctx, updateOrderSQL,
		o.ID, o.LockVersion, string(o.State), o.CouponCode,
		o.ItemTotal, o.ItemCount, o.ShipmentTotal, o.PromoTotal,
		o.AdditionalTaxTotal, o.IncludedTaxTotal, o.AdjustmentTotal, o.Total,
		o.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "update order %q", o.Number)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrConflict
	}
	o.LockVersion++
	return nil
}

func deleteRemoved(ctx context.Context, tx pgx.Tx, removed order.Removals) error {
	if removed.Empty() {
		return nil
	}
	if len(removed.AdjustmentIDs) > 0 {
		if _, err := tx.Exec(ctx, deleteAdjustmentsSQL, removed.AdjustmentIDs); err != nil {
			return errors.Wrap(err, "delete adjustments")
		}
	}
	if len(removed.LineItemIDs) > 0 {
		if _, err := tx.Exec(ctx, deleteLineItemsSQL, removed.LineItemIDs); err != nil {
			return errors.Wrap(err, "delete line items")
		}
	}
	if len(removed.ShipmentIDs) > 0 {
		if _, err := tx.Exec(ctx, deleteShipmentsSQL, removed.ShipmentIDs); err != nil {
			return errors.Wrap(err, "delete shipments")
		}
	}
	return nil
}

func saveLineItem(ctx context.Context, tx pgx.Tx, li *order.LineItem) error {
	if li.ID == 0 {
		err := tx.QueryRow(ctx, insertLineItemSQL,
			li.OrderID, li.VariantID, li.TaxCategoryID, li.Quantity, li.Price, li.CostPrice,
			li.Currency, li.GiftCard, li.EstimatedShipDate, li.AdjustmentTotal, li.PromoTotal,
			li.AdditionalTaxTotal, li.IncludedTaxTotal, li.PreTaxAmount, li.CreatedAt, li.UpdatedAt,
		).Scan(&li.ID)
		if err != nil {
			return errors.Wrapf(err, "insert line item for variant %d", li.VariantID)
		}
		return nil
	}

	_, err := tx.Exec(ctx, updateLineItemSQL,
		li.ID, li.VariantID, li.TaxCategoryID, li.Quantity, li.Price,
		li.CostPrice, li.Currency, li.GiftCard, li.EstimatedShipDate, li.AdjustmentTotal,
		li.PromoTotal, li.AdditionalTaxTotal, li.IncludedTaxTotal, li.PreTaxAmount,
		li.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "update line item %d", li.ID)
	}
	return nil
}

func saveShipment(ctx context.Context, tx pgx.Tx, s *order.Shipment) error {
	if s.ID == 0 {
		err := tx.QueryRow(ctx, insertShipmentSQL,
			s.OrderID, s.Number, s.Cost, string(s.State), s.Currency, s.AdjustmentTotal,
			s.PromoTotal, s.CreatedAt, s.UpdatedAt,
		).Scan(&s.ID)
		if err != nil {
			return errors.Wrapf(err, "insert shipment %q", s.Number)
		}
		return nil
	}

	_, err := tx.Exec(ctx, updateShipmentSQL,
		s.ID, s.Cost, string(s.State), s.AdjustmentTotal, s.PromoTotal, s.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "update shipment %d", s.ID)
	}
	return nil
}

func saveAdjustment(ctx context.Context, tx pgx.Tx, a *adjustment.Adjustment) error {
	if a.Adjustable == nil {
		return errors.Errorf("adjustment %q has no adjustable", a.Label)
	}
	if a.ID == 0 {
		err := tx.QueryRow(ctx, insertAdjustmentSQL,
			a.OrderID, string(a.Adjustable.AdjustableKind()), a.Adjustable.AdjustableID(),
			string(a.Source.Kind), a.Source.ID, a.PromotionID,
			a.Amount, a.Label, a.Eligible, a.Mandatory, a.Included, string(a.State),
			a.CreatedAt, a.UpdatedAt,
		).Scan(&a.ID)
		if err != nil {
			if isUniqueViolation(err) {
				return order.ErrConflict
			}
			return errors.Wrapf(err, "insert adjustment %q", a.Label)
		}
		return nil
	}

	_, err := tx.Exec(ctx, updateAdjustmentSQL,
		a.ID, a.Amount, a.Label, a.Eligible, string(a.State), a.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "update adjustment %d", a.ID)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (*order.Order, error) {
	var (
		o     order.Order
		state string
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.Token, &o.UserID, &state, &o.Currency, &o.TaxZoneID, &o.CouponCode,
		&o.ItemTotal, &o.ItemCount, &o.ShipmentTotal, &o.PromoTotal, &o.AdditionalTaxTotal, &o.IncludedTaxTotal,
		&o.AdjustmentTotal, &o.Total, &o.LockVersion, &o.CreatedAt, &o.UpdatedAt,
	)
	o.State = order.State(state)
	return &o, err
}

func scanLineItem(row pgx.CollectableRow) (*order.LineItem, error) {
	var li order.LineItem
	err := row.Scan(
		&li.ID, &li.OrderID, &li.VariantID, &li.TaxCategoryID, &li.Quantity, &li.Price, &li.CostPrice, &li.Currency,
		&li.GiftCard, &li.EstimatedShipDate, &li.AdjustmentTotal, &li.PromoTotal, &li.AdditionalTaxTotal,
		&li.IncludedTaxTotal, &li.PreTaxAmount, &li.CreatedAt, &li.UpdatedAt,
	)
	return &li, err
}

func scanShipment(row pgx.CollectableRow) (*order.Shipment, error) {
	var (
		s     order.Shipment
		state string
	)
	err := row.Scan(
		&s.ID, &s.OrderID, &s.Number, &s.Cost, &state, &s.Currency, &s.AdjustmentTotal, &s.PromoTotal,
		&s.CreatedAt, &s.UpdatedAt,
	)
	s.State = order.ShipmentState(state)
	return &s, err
}
