package db

import (
	"database/sql"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/audiolens/audiolens/internal/config"
	"github.com/audiolens/audiolens/internal/store"
	"github.com/audiolens/audiolens/internal/util/command"

	// Import postgres driver for database/sql package
	_ "github.com/lib/pq"
)

// New returns the database maintenance command group.
func New() *cobra.Command {
	return command.NewSubcommandGroup("db",
		newMigrate(),
	)
}

func newMigrate() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Applies the embedded schema migrations",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.DefaultServiceConfigFromEnv()

			db, err := sql.Open("postgres", cfg.Database.ConnectionString())
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to open database")
			}
			defer db.Close()

			if err := store.Migrate(cmd.Context(), db); err != nil {
				log.Fatal().Err(err).Msg("Migration failed")
			}

			log.Info().Msg("Migrations applied")
		},
	}
}
