package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oakvale/lakehouse-jobs/internal/catalog"
)

var migrateDryRun bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply catalog schema migrations",
	Long:  "Applies pending SQL migrations to the lake schema in filename order. With --dry-run, only lists them.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		ctx := cmd.Context()

		dsn := cfg.Catalog.DatabaseURL
		if dsn == "" {
			dsn = cfg.StateDatabaseURL()
		}
		pool, err := openPool(ctx, dsn)
		if err != nil {
			return err
		}
		defer pool.Close()

		if migrateDryRun {
			pending, err := catalog.Pending(ctx, pool)
			if err != nil {
				return eris.Wrap(err, "migrate: list pending")
			}
			for _, name := range pending {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		}

		if err := catalog.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "migrate")
		}
		zap.L().Info("catalog migrations complete")
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "list pending migrations without applying them")
	rootCmd.AddCommand(migrateCmd)
}
