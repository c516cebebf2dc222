// Package seed loads catalog, tax, promotion and API key fixtures into the
// store.
package seed

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/dotandbo/spree/internal/domain/auth"
	"github.com/dotandbo/spree/internal/domain/promotion"
	"github.com/dotandbo/spree/internal/domain/tax"
	"github.com/dotandbo/spree/internal/domain/variant"
)

// Fixture is the YAML document read by Load.
type Fixture struct {
	Variants   []Variant   `yaml:"variants"`
	TaxRates   []TaxRate   `yaml:"tax_rates"`
	Promotions []Promotion `yaml:"promotions"`
	APIKeys    []APIKey    `yaml:"api_keys"`
}

// Variant is a variant fixture. Amounts are decimal strings.
type Variant struct {
	SKU            string `yaml:"sku"`
	Name           string `yaml:"name"`
	Price          string `yaml:"price"`
	CostPrice      string `yaml:"cost_price"`
	Currency       string `yaml:"currency"`
	TaxCategoryID  int64  `yaml:"tax_category_id"`
	GiftCard       bool   `yaml:"gift_card"`
	TrackInventory bool   `yaml:"track_inventory"`
	Backorderable  bool   `yaml:"backorderable"`
	CountOnHand    int    `yaml:"count_on_hand"`
}

// TaxRate is a tax rate fixture; amount is a fraction, e.g. "0.0825".
type TaxRate struct {
	Name            string `yaml:"name"`
	ZoneID          int64  `yaml:"zone_id"`
	TaxCategoryID   int64  `yaml:"tax_category_id"`
	Amount          string `yaml:"amount"`
	IncludedInPrice bool   `yaml:"included_in_price"`
}

// Promotion is a promotion fixture.
type Promotion struct {
	Name        string     `yaml:"name"`
	Code        string     `yaml:"code"`
	Path        string     `yaml:"path"`
	StartsAt    *time.Time `yaml:"starts_at"`
	ExpiresAt   *time.Time `yaml:"expires_at"`
	UsageLimit  int        `yaml:"usage_limit"`
	MatchPolicy string     `yaml:"match_policy"`
	Rules       []Rule     `yaml:"rules"`
	Actions     []string   `yaml:"actions"`
}

// Rule is an item total rule fixture.
type Rule struct {
	ItemTotal *ItemTotal `yaml:"item_total"`
}

// ItemTotal requires the item total to pass operator against amount.
type ItemTotal struct {
	Operator string `yaml:"operator"`
	Amount   string `yaml:"amount"`
}

// APIKey is an API key fixture. The plain key is hashed before storage.
type APIKey struct {
	Name   string `yaml:"name"`
	Key    string `yaml:"key"`
	UserID int64  `yaml:"user_id"`
	Admin  bool   `yaml:"admin"`
}

// Load decodes a fixture document.
func Load(r io.Reader) (*Fixture, error) {
	var f Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, errors.Wrap(err, "decode fixture")
	}
	return &f, nil
}

// VariantStore stores variants.
type VariantStore interface {
	Upsert(ctx context.Context, v *variant.Variant) error
}

// TaxRateStore stores tax rates.
type TaxRateStore interface {
	Upsert(ctx context.Context, r *tax.Rate) error
}

// PromotionStore stores promotions.
type PromotionStore interface {
	Upsert(ctx context.Context, p *promotion.Promotion) error
}

// APIKeyStore stores API keys.
type APIKeyStore interface {
	Upsert(ctx context.Context, u *auth.APIUser) error
}

// VariantCache holds copies of variants served by the API.
type VariantCache interface {
	Invalidate(ctx context.Context, id int64) error
}

// Stores receive the fixture records. Cache is optional; when set, the
// cached copy of every upserted variant is dropped.
type Stores struct {
	Variants   VariantStore
	TaxRates   TaxRateStore
	Promotions PromotionStore
	APIKeys    APIKeyStore
	Cache      VariantCache
}

// Apply upserts every record of f. API keys are hashed with pepper.
func Apply(ctx context.Context, s Stores, f *Fixture, pepper []byte) error {
	lg := zctx.From(ctx)

	for _, fv := range f.Variants {
		v, err := fv.variant()
		if err != nil {
			return errors.Wrapf(err, "variant %q", fv.SKU)
		}
		if err := s.Variants.Upsert(ctx, v); err != nil {
			return err
		}
		lg.Info("Upserted variant", zap.Int64("id", v.ID), zap.String("sku", v.SKU))
		if s.Cache != nil {
			if err := s.Cache.Invalidate(ctx, v.ID); err != nil {
				lg.Warn("Variant cache invalidation failed", zap.Int64("id", v.ID), zap.Error(err))
			}
		}
	}

	for _, fr := range f.TaxRates {
		r, err := fr.rate()
		if err != nil {
			return errors.Wrapf(err, "tax rate %q", fr.Name)
		}
		if err := s.TaxRates.Upsert(ctx, r); err != nil {
			return err
		}
		lg.Info("Upserted tax rate", zap.Int64("id", r.ID), zap.String("label", r.Label()))
	}

	for _, fp := range f.Promotions {
		p, err := fp.promotion()
		if err != nil {
			return errors.Wrapf(err, "promotion %q", fp.Name)
		}
		if err := s.Promotions.Upsert(ctx, p); err != nil {
			return err
		}
		lg.Info("Upserted promotion", zap.Int64("id", p.ID), zap.String("name", p.Name), zap.String("code", p.Code))
	}

	for _, fk := range f.APIKeys {
		if fk.Key == "" {
			return errors.Errorf("api key %q: key is required", fk.Name)
		}
		u := &auth.APIUser{
			KeyHash: auth.HashKey(fk.Key, pepper),
			Name:    fk.Name,
			UserID:  fk.UserID,
			Admin:   fk.Admin,
		}
		if err := s.APIKeys.Upsert(ctx, u); err != nil {
			return err
		}
		lg.Info("Upserted API key", zap.Int64("id", u.KeyID), zap.String("name", u.Name), zap.Bool("admin", u.Admin))
	}
	return nil
}

func parseAmount(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse %s", field)
	}
	return d, nil
}

func (fv Variant) variant() (*variant.Variant, error) {
	if fv.SKU == "" {
		return nil, errors.New("sku is required")
	}
	price, err := parseAmount("price", fv.Price)
	if err != nil {
		return nil, err
	}
	cost, err := parseAmount("cost_price", fv.CostPrice)
	if err != nil {
		return nil, err
	}
	currency := strings.ToUpper(fv.Currency)
	if currency == "" {
		currency = "USD"
	}
	return &variant.Variant{
		SKU:            fv.SKU,
		Name:           fv.Name,
		Price:          price,
		CostPrice:      cost,
		Currency:       currency,
		TaxCategoryID:  fv.TaxCategoryID,
		GiftCard:       fv.GiftCard,
		TrackInventory: fv.TrackInventory,
		Backorderable:  fv.Backorderable,
		CountOnHand:    fv.CountOnHand,
	}, nil
}

func (fr TaxRate) rate() (*tax.Rate, error) {
	amount, err := parseAmount("amount", fr.Amount)
	if err != nil {
		return nil, err
	}
	return &tax.Rate{
		Name:            fr.Name,
		ZoneID:          fr.ZoneID,
		TaxCategoryID:   fr.TaxCategoryID,
		Amount:          amount,
		IncludedInPrice: fr.IncludedInPrice,
	}, nil
}

func (fp Promotion) promotion() (*promotion.Promotion, error) {
	p := &promotion.Promotion{
		Name:       fp.Name,
		Code:       fp.Code,
		Path:       fp.Path,
		StartsAt:   fp.StartsAt,
		ExpiresAt:  fp.ExpiresAt,
		UsageLimit: fp.UsageLimit,
	}
	if p.Code != "" {
		p.Code = strings.ToUpper(strings.TrimSpace(p.Code))
	}
	switch promotion.MatchPolicy(fp.MatchPolicy) {
	case "", promotion.MatchAll:
		p.MatchPolicy = promotion.MatchAll
	case promotion.MatchAny:
		p.MatchPolicy = promotion.MatchAny
	default:
		return nil, errors.Errorf("unknown match policy %q", fp.MatchPolicy)
	}

	for _, r := range fp.Rules {
		if r.ItemTotal == nil {
			return nil, errors.New("rule without item_total")
		}
		op := promotion.Operator(r.ItemTotal.Operator)
		if op != promotion.OperatorGT && op != promotion.OperatorGTE {
			return nil, errors.Errorf("unknown operator %q", r.ItemTotal.Operator)
		}
		amount, err := parseAmount("item_total.amount", r.ItemTotal.Amount)
		if err != nil {
			return nil, err
		}
		p.Rules = append(p.Rules, promotion.ItemTotalRule{Operator: op, Amount: amount})
	}

	for _, a := range fp.Actions {
		if a != "free_shipping" {
			return nil, errors.Errorf("unknown action %q", a)
		}
		p.Actions = append(p.Actions, &promotion.FreeShipping{Promotion: p})
	}
	return p, nil
}
