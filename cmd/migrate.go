package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Connect to the configured database and apply pending schema migrations.
The other commands migrate on startup as well; this one only migrates
and lists the applied schema files. The SQLite backend migrates through
GORM and keeps no version table.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		store, err := openStore(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Ping(ctx); err != nil {
			return err
		}
		fmt.Printf("Database schema is up to date (%s)\n", cfg.Database.Driver)

		migrator, ok := store.(database.Migrator)
		if !ok {
			return nil
		}
		applied, err := migrator.AppliedMigrations(ctx)
		if err != nil {
			return err
		}
		for _, v := range applied {
			fmt.Printf("  %s\n", v)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
