package cli

import (
	"os"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dotandbo/spree/internal/seed"
	"github.com/dotandbo/spree/internal/storage/postgres"
	rediscache "github.com/dotandbo/spree/internal/storage/redis"
)

func newSeedCmd(g *globals) *cobra.Command {
	var file, redisAddr string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load variants, tax rates, promotions and API keys from a YAML fixture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			lg := zctx.From(ctx)

			f, err := os.Open(file)
			if err != nil {
				return errors.Wrap(err, "open fixture")
			}
			defer func() { _ = f.Close() }()

			fixture, err := seed.Load(f)
			if err != nil {
				return err
			}

			pool, err := g.connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			variants := postgres.NewVariantRepository(pool)
			stores := seed.Stores{
				Variants:   variants,
				TaxRates:   postgres.NewTaxRateRepository(pool),
				Promotions: postgres.NewPromotionRepository(pool),
				APIKeys:    postgres.NewAPIKeyRepository(pool),
			}
			if redisAddr == "" {
				redisAddr = os.Getenv("SPREE_REDIS_ADDR")
			}
			if redisAddr != "" {
				rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
				defer func() { _ = rdb.Close() }()
				stores.Cache = rediscache.NewVariantCache(rdb, variants, 0)
			}
			if err := seed.Apply(ctx, stores, fixture, g.apiKeyPepper()); err != nil {
				return errors.Wrap(err, "seed")
			}
			lg.Info("Seed completed",
				zap.Int("variants", len(fixture.Variants)),
				zap.Int("tax_rates", len(fixture.TaxRates)),
				zap.Int("promotions", len(fixture.Promotions)),
				zap.Int("api_keys", len(fixture.APIKeys)),
			)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "db/seed/fixtures.yaml", "Path to the YAML fixture")
	cmd.Flags().StringVar(&redisAddr, "redis-addr", "", "Redis address of the variant cache to invalidate (or SPREE_REDIS_ADDR)")
	return cmd
}
