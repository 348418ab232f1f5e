// Package store persists district records and the sync ledger in Postgres
// or SQLite.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/vaishaligoyal05/awaaz-e-punjab/internal/mgnrega"
)

// Store is a record store and sync ledger sharing one database.
type Store interface {
	mgnrega.RecordStore
	mgnrega.Ledger

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Driver      string
	DatabaseURL string
	Pool        PoolConfig
}

// Open connects to the backend named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "sqlite":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = "awaaz.db"
		}
		st, err := NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres", "":
		if cfg.DatabaseURL == "" {
			return nil, eris.New("store: database url is required for postgres")
		}
		st, err := NewPostgres(ctx, cfg.DatabaseURL, &cfg.Pool)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, eris.Errorf("store: unsupported driver: %s", cfg.Driver)
	}
}

// recordColumns is the column order shared by writes and reads.
var recordColumns = []string{
	"state_name", "state_code", "district_code", "district_name",
	"fin_year", "month", "raw", "fetched_at", "updated_at",
}

var recordConflictKeys = []string{"state_name", "district_code", "fin_year", "month"}
