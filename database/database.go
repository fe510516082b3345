// Package database opens the bun database the onboarding stores run on.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-onboarding"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects the driver and connection.
type Config struct {
	Driver       string
	DSN          string
	Debug        bool
	MaxOpenConns int
	PingTimeout  time.Duration
}

// Open connects, pings and returns a bun DB for cfg.
func Open(ctx context.Context, cfg Config) (*bun.DB, error) {
	var (
		sqldb *sql.DB
		db    *bun.DB
		err   error
	)

	switch cfg.Driver {
	case DriverSQLite, "":
		sqldb, err = sql.Open(sqliteshim.ShimName, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("database: failed to open sqlite: %w", err)
		}
		// sqlite serializes writers; in-memory databases also need a
		// single connection to see one schema.
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())

		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("database: failed to enable foreign keys: %w", err)
		}
	case DriverPostgres:
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("database: failed to open postgres: %w", err)
		}
		if cfg.MaxOpenConns > 0 {
			sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		return nil, fmt.Errorf("database: unsupported driver %q", cfg.Driver)
	}

	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database: ping failed: %w", err)
	}

	return db, nil
}

// OpenAndMigrate opens the database and applies the embedded migrations.
func OpenAndMigrate(ctx context.Context, cfg Config) (*bun.DB, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := onboarding.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// InMemory returns a migrated private sqlite database. Each call yields an
// independent database.
func InMemory(ctx context.Context, name string) (*bun.DB, error) {
	name = strings.NewReplacer("/", "_", " ", "_").Replace(name)
	return OpenAndMigrate(ctx, Config{
		Driver: DriverSQLite,
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
	})
}
