package migrate

import (
	"context"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/ulists/internal/config"
	registrymigrate "github.com/chirino/ulists/internal/registry/migrate"
	registrystore "github.com/chirino/ulists/internal/registry/store"
	"github.com/urfave/cli/v3"

	// Store plugins register their migrators alongside their stores.
	_ "github.com/chirino/ulists/internal/plugin/store/postgres"
	_ "github.com/chirino/ulists/internal/plugin/store/sqlite"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply the datastore schema, including the list change trigger on postgres",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "db-url",
				Sources:  cli.EnvVars("ULISTS_DB_URL"),
				Usage:    "Database connection URL (postgres) or file path (sqlite)",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "db-kind",
				Sources: cli.EnvVars("ULISTS_DB_KIND"),
				Usage:   "Store backend (" + strings.Join(registrystore.Names(), "|") + ")",
				Value:   "postgres",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.DefaultConfig()
			cfg.DBURL = cmd.String("db-url")
			cfg.DatastoreType = cmd.String("db-kind")
			if err := cfg.ApplyEnv(); err != nil {
				return err
			}
			// Running this command is an explicit request to migrate.
			cfg.DatastoreMigrateAtStart = true
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations...", "db", cfg.DatastoreType)
			if err := registrymigrate.RunAll(ctx, cfg.DatastoreType); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
