package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"
)

//go:embed postgres/*.sql mysql/*.sql
var files embed.FS

// dialects maps DB_DRIVER values to goose dialects.
var dialects = map[string]goose.Dialect{
	"postgres": goose.DialectPostgres,
	"mysql":    goose.DialectMySQL,
}

// Files returns the migration set for driver.
func Files(driver string) (fs.FS, error) {
	if _, ok := dialects[driver]; !ok {
		return nil, fmt.Errorf("no migrations for driver %q", driver)
	}
	return fs.Sub(files, driver)
}

// Apply brings db up to the latest embedded version for driver.
func Apply(ctx context.Context, db *sql.DB, driver string) error {
	sub, err := Files(driver)
	if err != nil {
		return err
	}
	p, err := goose.NewProvider(dialects[driver], db, sub)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	results, err := p.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		log.Info().Str("driver", driver).Str("migration", r.Source.Path).Dur("took", r.Duration).Msg("migration applied")
	}
	return nil
}
