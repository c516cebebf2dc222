// Package cli implements the spree-admin command.
package cli

import (
	"context"
	"os"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dotandbo/spree/internal/storage/postgres"
)

type globals struct {
	databaseURL string
	pepper      string
	verbose     bool
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:           "spree-admin",
		Short:         "Administer the spree order database",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			lg, err := newLogger(g.verbose)
			if err != nil {
				return err
			}
			cmd.SetContext(zctx.Base(cmd.Context(), lg))
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&g.databaseURL, "database-url", "", "PostgreSQL connection URL (or SPREE_DATABASE_URL, DATABASE_URL)")
	cmd.PersistentFlags().StringVar(&g.pepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SPREE_API_KEY_PEPPER)")
	cmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Log at debug level")

	cmd.AddCommand(newSeedCmd(g))
	cmd.AddCommand(newImportCodesCmd(g))
	return cmd
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	lg, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	return lg, nil
}

func (g *globals) dbURL() (string, error) {
	for _, v := range []string{g.databaseURL, os.Getenv("SPREE_DATABASE_URL"), os.Getenv("DATABASE_URL")} {
		if v != "" {
			return v, nil
		}
	}
	return "", errors.New("database URL is required: set --database-url, SPREE_DATABASE_URL or DATABASE_URL")
}

func (g *globals) apiKeyPepper() []byte {
	if g.pepper != "" {
		return []byte(g.pepper)
	}
	return []byte(os.Getenv("SPREE_API_KEY_PEPPER"))
}

// connect opens the database and migrates it.
func (g *globals) connect(ctx context.Context) (*pgxpool.Pool, error) {
	url, err := g.dbURL()
	if err != nil {
		return nil, err
	}
	zctx.From(ctx).Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, url)
	if err != nil {
		return nil, errors.Wrap(err, "connect to database")
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	return pool, nil
}
