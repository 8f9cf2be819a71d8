package store

import (
	"context"
	"fmt"
	"path/filepath"
)

// Options selects and configures a backend.
type Options struct {
	Backend string
	DataDir string
	// DSN is the Postgres connection string.
	DSN string
	// SQLiteDriver is "cgo" (mattn/go-sqlite3, default) or "pure" (modernc.org/sqlite).
	SQLiteDriver string
}

// New creates a Store based on the backend name.
//
// Supported backends:
//
//	"json"     - JSON files in DataDir (default)
//	"sqlite"   - SQLite database at DataDir/masterlist.db
//	"postgres" - PostgreSQL at DSN
//	"memory"   - In-memory (ephemeral, for testing)
func New(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "json", "":
		return NewJsonFileStore(opts.DataDir)
	case "sqlite":
		driver, err := sqliteDriver(opts.SQLiteDriver)
		if err != nil {
			return nil, err
		}
		return NewSqliteStore(driver, filepath.Join(opts.DataDir, "masterlist.db"))
	case "postgres":
		if opts.DSN == "" {
			return nil, fmt.Errorf("postgres backend requires a DSN")
		}
		return NewPostgresStore(ctx, opts.DSN)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %q (supported: json, sqlite, postgres, memory)", opts.Backend)
	}
}

func sqliteDriver(name string) (string, error) {
	switch name {
	case "cgo", "", DriverCgo:
		return DriverCgo, nil
	case "pure", DriverPure:
		return DriverPure, nil
	default:
		return "", fmt.Errorf("unknown sqlite driver: %q (supported: cgo, pure)", name)
	}
}
