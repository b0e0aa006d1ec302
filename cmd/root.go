package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/bqaudit-cli/internal/config"
	"github.com/sells-group/bqaudit-cli/internal/store"
	"github.com/sells-group/bqaudit-cli/pkg/bq"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "bqaudit",
	Short: "Audit recent BigQuery jobs across regions",
	Long:  "Scans the per-region INFORMATION_SCHEMA job views, ranks jobs by billed bytes and slot time, and exports the most expensive ones for cost review.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// initStore opens and migrates the run-history store.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// initClient builds the metadata query client from configuration.
func initClient() bq.Client {
	return bq.New(cfg.BigQuery.Token,
		bq.WithBaseURL(cfg.BigQuery.BaseURL),
		bq.WithRateLimit(cfg.BigQuery.RateQPS, cfg.BigQuery.Burst),
		bq.WithPageTimeout(time.Duration(cfg.Audit.PageTimeoutSecs)*time.Second),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
