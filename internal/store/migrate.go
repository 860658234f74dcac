package store

import (
	"context"
	"database/sql"
	"embed"
	"sort"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies the embedded schema files in lexical order. All statements
// are idempotent, so re-running is safe.
func Migrate(ctx context.Context, db *sql.DB) error {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return errors.Wrap(err, "failed to list migrations")
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return errors.Wrapf(err, "failed to read migration %s", name)
		}
		if _, err := db.ExecContext(ctx, string(data)); err != nil {
			return errors.Wrapf(err, "failed to apply migration %s", name)
		}
		log.Info().Str("migration", name).Msg("Applied migration")
	}

	return nil
}
