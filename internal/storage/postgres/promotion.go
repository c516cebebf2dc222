package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/dotandbo/spree/internal/domain/promotion"
)

const (
	ruleItemTotal      = "item_total"
	actionFreeShipping = "free_shipping"
)

const (
	promotionColumns = `p.id, p.name, p.code, p.path, p.starts_at, p.expires_at, p.usage_limit, p.match_policy,
	(SELECT COUNT(*) FROM order_promotions op WHERE op.promotion_id = p.id)`

	listFreeShippingSQL = `SELECT ` + promotionColumns + `
	FROM promotions p
	WHERE p.path = ''
		AND (p.starts_at IS NULL OR p.starts_at <= $1)
		AND (p.expires_at IS NULL OR p.expires_at > $1)
		AND EXISTS (SELECT 1 FROM promotion_actions a WHERE a.promotion_id = p.id AND a.type = 'free_shipping')
	ORDER BY p.id`

	listPromotionsByIDsSQL = `SELECT ` + promotionColumns + ` FROM promotions p WHERE p.id = ANY($1) ORDER BY p.id`

	listRulesSQL = `SELECT promotion_id, type, operator, amount
	FROM promotion_rules WHERE promotion_id = ANY($1) ORDER BY id`

	listActionsSQL = `SELECT id, promotion_id, type
	FROM promotion_actions WHERE promotion_id = ANY($1) ORDER BY id`

	upsertPromotionSQL = `INSERT INTO promotions (name, code, path, starts_at, expires_at, usage_limit, match_policy)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT ((LOWER(code))) WHERE code <> '' DO UPDATE SET name = EXCLUDED.name, path = EXCLUDED.path,
		starts_at = EXCLUDED.starts_at, expires_at = EXCLUDED.expires_at,
		usage_limit = EXCLUDED.usage_limit, match_policy = EXCLUDED.match_policy
	RETURNING id`

	insertPromotionSQL = `INSERT INTO promotions (name, code, path, starts_at, expires_at, usage_limit, match_policy)
	VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`

	deleteRulesSQL = `DELETE FROM promotion_rules WHERE promotion_id = $1`

	insertRuleSQL = `INSERT INTO promotion_rules (promotion_id, type, operator, amount) VALUES ($1, $2, $3, $4)`

	// Actions are referenced by adjustments, so an existing action is reused.
	ensureActionSQL = `WITH existing AS (
		SELECT id FROM promotion_actions WHERE promotion_id = $1 AND type = $2 ORDER BY id LIMIT 1
	), inserted AS (
		INSERT INTO promotion_actions (promotion_id, type)
		SELECT $1, $2 WHERE NOT EXISTS (SELECT 1 FROM existing)
		RETURNING id
	)
	SELECT id FROM existing UNION ALL SELECT id FROM inserted`
)

var _ promotion.Repository = (*PromotionRepository)(nil)

// PromotionRepository implements promotion.Repository backed by PostgreSQL.
type PromotionRepository struct {
	db DBTX
}

// NewPromotionRepository returns a PromotionRepository that uses the given pool.
func NewPromotionRepository(db DBTX) *PromotionRepository {
	return &PromotionRepository{db: db}
}

// ListFreeShipping implements promotion.Repository.
func (r *PromotionRepository) ListFreeShipping(ctx context.Context, now time.Time) ([]*promotion.Promotion, error) {
	return r.list(ctx, listFreeShippingSQL, now)
}

// ListByIDs implements promotion.Repository.
func (r *PromotionRepository) ListByIDs(ctx context.Context, ids []int64) ([]*promotion.Promotion, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.list(ctx, listPromotionsByIDsSQL, ids)
}

func (r *PromotionRepository) list(ctx context.Context, query string, arg any) ([]*promotion.Promotion, error) {
	rows, err := r.db.Query(ctx, query, arg)
	if err != nil {
		return nil, errors.Wrap(err, "list promotions")
	}
	promos, err := pgx.CollectRows(rows, scanPromotion)
	if err != nil {
		return nil, errors.Wrap(err, "scan promotions")
	}
	if len(promos) == 0 {
		return nil, nil
	}

	byID := make(map[int64]*promotion.Promotion, len(promos))
	ids := make([]int64, 0, len(promos))
	for _, p := range promos {
		byID[p.ID] = p
		ids = append(ids, p.ID)
	}
	if err := r.loadRules(ctx, ids, byID); err != nil {
		return nil, err
	}
	if err := r.loadActions(ctx, ids, byID); err != nil {
		return nil, err
	}
	return promos, nil
}

func (r *PromotionRepository) loadRules(ctx context.Context, ids []int64, byID map[int64]*promotion.Promotion) error {
	rows, err := r.db.Query(ctx, listRulesSQL, ids)
	if err != nil {
		return errors.Wrap(err, "list promotion rules")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			promotionID int64
			kind, op    string
			amount      decimal.Decimal
		)
		if err := rows.Scan(&promotionID, &kind, &op, &amount); err != nil {
			return errors.Wrap(err, "scan promotion rule")
		}
		p, ok := byID[promotionID]
		if !ok || kind != ruleItemTotal {
			continue
		}
		p.Rules = append(p.Rules, promotion.ItemTotalRule{Operator: promotion.Operator(op), Amount: amount})
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "iterate promotion rules")
	}
	return nil
}

func (r *PromotionRepository) loadActions(ctx context.Context, ids []int64, byID map[int64]*promotion.Promotion) error {
	rows, err := r.db.Query(ctx, listActionsSQL, ids)
	if err != nil {
		return errors.Wrap(err, "list promotion actions")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id, promotionID int64
			kind            string
		)
		if err := rows.Scan(&id, &promotionID, &kind); err != nil {
			return errors.Wrap(err, "scan promotion action")
		}
		p, ok := byID[promotionID]
		if !ok || kind != actionFreeShipping {
			continue
		}
		p.Actions = append(p.Actions, &promotion.FreeShipping{ID: id, Promotion: p})
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "iterate promotion actions")
	}
	return nil
}

// Upsert stores p with its rules and actions, keyed by code when it has one,
// and sets the IDs of p and its actions.
func (r *PromotionRepository) Upsert(ctx context.Context, p *promotion.Promotion) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := insertPromotionSQL
	if p.Code != "" {
		query = upsertPromotionSQL
	}
	policy := p.MatchPolicy
	if policy == "" {
		policy = promotion.MatchAll
	}
	err = tx.QueryRow(ctx, query,
		p.Name, p.Code, p.Path, p.StartsAt, p.ExpiresAt, p.UsageLimit, string(policy),
	).Scan(&p.ID)
	if err != nil {
		return errors.Wrapf(err, "upsert promotion %q", p.Name)
	}

	if _, err := tx.Exec(ctx, deleteRulesSQL, p.ID); err != nil {
		return errors.Wrap(err, "delete promotion rules")
	}

	for _, rule := range p.Rules {
		it, ok := rule.(promotion.ItemTotalRule)
		if !ok {
			return errors.Errorf("unsupported rule %T", rule)
		}
		if _, err := tx.Exec(ctx, insertRuleSQL, p.ID, ruleItemTotal, string(it.Operator), it.Amount); err != nil {
			return errors.Wrap(err, "insert promotion rule")
		}
	}
	for _, action := range p.Actions {
		fs, ok := action.(*promotion.FreeShipping)
		if !ok {
			return errors.Errorf("unsupported action %T", action)
		}
		if err := tx.QueryRow(ctx, ensureActionSQL, p.ID, actionFreeShipping).Scan(&fs.ID); err != nil {
			return errors.Wrap(err, "ensure promotion action")
		}
		fs.Promotion = p
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}

func scanPromotion(row pgx.CollectableRow) (*promotion.Promotion, error) {
	var (
		p      promotion.Promotion
		policy string
		uses   int64
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Code, &p.Path, &p.StartsAt, &p.ExpiresAt, &p.UsageLimit, &policy, &uses,
	)
	p.MatchPolicy = promotion.MatchPolicy(policy)
	p.Uses = int(uses)
	return &p, err
}
