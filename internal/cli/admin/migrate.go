package admin

import (
	"fmt"

	"github.com/cloo-solutions/creditrust/internal/cli"
	"github.com/cloo-solutions/creditrust/internal/config"
	"github.com/cloo-solutions/creditrust/internal/database"
	"github.com/cloo-solutions/creditrust/internal/domain"
	"github.com/spf13/cobra"
)

// MigrateCmd applies the pgvector schema migrations.
func MigrateCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pgvector schema migrations",
		Long:  "Applies pending migrations to CREDITRUST_DATABASE_URL. Only used by the pgvector backend.",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := cli.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			defer rt.Close()

			if rt.Config.DatabaseURL == "" {
				return domain.NewConfigurationError("DATABASE_URL", "must be set to run migrations")
			}
			if dir == "" {
				dir = rt.Config.MigrationsPath
			}
			if rt.Config.StoreBackend != config.BackendPgVector {
				rt.Log.Warn().Str("backend", rt.Config.StoreBackend).Msg("store backend is not pgvector; migrating anyway")
			}

			version, err := database.Migrate(rt.Config.DatabaseURL, dir, rt.Log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Migrations directory (overrides CREDITRUST_MIGRATIONS_PATH)")
	cli.OverridesEnv(cmd, "dir", "CREDITRUST_MIGRATIONS_PATH")

	return cmd
}
