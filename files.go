package onboarding

import (
	"context"
	"embed"
	"io/fs"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

//go:embed data/sql/migrations
var migrationsFS embed.FS

// GetMigrationsFS returns the migration files for this package
func GetMigrationsFS() embed.FS {
	return migrationsFS
}

// Migrations returns the embedded migrations ready for a bun migrator.
func Migrations() (*migrate.Migrations, error) {
	sub, err := fs.Sub(migrationsFS, "data/sql/migrations")
	if err != nil {
		return nil, err
	}

	migrations := migrate.NewMigrations()
	if err := migrations.Discover(sub); err != nil {
		return nil, err
	}
	return migrations, nil
}

// Migrate applies every pending migration to db.
func Migrate(ctx context.Context, db *bun.DB) error {
	migrations, err := Migrations()
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load migrations")
	}

	migrator := migrate.NewMigrator(db, migrations)
	if err := migrator.Init(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to initialize migrations table")
	}

	if _, err := migrator.Migrate(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to apply migrations")
	}

	return nil
}
