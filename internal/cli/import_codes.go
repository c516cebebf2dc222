package cli

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dotandbo/spree/internal/codes"
	"github.com/dotandbo/spree/internal/domain/promotion"
	"github.com/dotandbo/spree/internal/storage/postgres"
)

func newImportCodesCmd(g *globals) *cobra.Command {
	var (
		opts       codes.Options
		name       string
		usageLimit int
		dryRun     bool
	)
	cmd := &cobra.Command{
		Use:   "import-codes <list.gz> [list.gz]...",
		Short: "Create free shipping coupons for codes shared by partner lists",
		Long: "Streams gzip-compressed partner code lists and creates a free shipping " +
			"coupon promotion for every code found in at least --quorum lists.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			lg := zctx.From(ctx)

			found, err := codes.Find(ctx, args, opts)
			if err != nil {
				return err
			}
			lg.Info("Codes found", zap.Int("count", len(found)))

			if dryRun {
				for _, code := range found {
					if _, err := fmt.Fprintln(cmd.OutOrStdout(), code); err != nil {
						return err
					}
				}
				return nil
			}
			if len(found) == 0 {
				return nil
			}

			pool, err := g.connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			repo := postgres.NewPromotionRepository(pool)
			for i, code := range found {
				p := &promotion.Promotion{
					Name:        name,
					Code:        code,
					UsageLimit:  usageLimit,
					MatchPolicy: promotion.MatchAll,
				}
				p.Actions = []promotion.Action{&promotion.FreeShipping{Promotion: p}}
				if err := repo.Upsert(ctx, p); err != nil {
					return errors.Wrapf(err, "import code %s", code)
				}
				if (i+1)%100 == 0 || i+1 == len(found) {
					lg.Info("Import progress", zap.Int("written", i+1), zap.Int("total", len(found)))
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.Quorum, "quorum", 2, "Number of lists a code must appear in")
	cmd.Flags().IntVar(&opts.MinLen, "min-len", 8, "Minimum code length")
	cmd.Flags().IntVar(&opts.MaxLen, "max-len", 10, "Maximum code length")
	cmd.Flags().UintVar(&opts.Capacity, "capacity", 10_000_000, "Expected codes per list")
	cmd.Flags().Float64Var(&opts.FalsePositiveRate, "fpr", 0.001, "Bloom filter false positive rate")
	cmd.Flags().StringVar(&name, "name", "Partner Free Shipping", "Name of the created promotions")
	cmd.Flags().IntVar(&usageLimit, "usage-limit", 1, "Usage limit of each code, 0 for unlimited")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the codes instead of importing them")
	return cmd
}
