// Copyright 2024-2026 Aiku AI

// Package database persists the bridge token to room mapping.
package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"

	// Drivers for the two supported dialects.
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/aiku/mautrix-minecraft/pkg/connector/database/upgrades"
)

const owner = "mautrix-minecraft"

// Database wraps the dbutil database with the bridge table queries.
type Database struct {
	*dbutil.Database
	Bridge *BridgeQuery
}

// New wraps an already opened dbutil database.
func New(db *dbutil.Database, log zerolog.Logger) *Database {
	db.UpgradeTable = upgrades.Table
	db.VersionTable = "minecraft_version"
	db.Owner = owner
	db.Log = dbutil.ZeroLogger(log)
	return &Database{
		Database: db,
		Bridge: &BridgeQuery{
			QueryHelper: dbutil.MakeQueryHelper(db, newBridge),
		},
	}
}

// Open connects to the configured database. Type is either "sqlite" (pure Go
// driver) or "postgres".
func Open(cfg dbutil.Config, log zerolog.Logger) (*Database, error) {
	raw, err := dbutil.NewFromConfig(owner, cfg, dbutil.ZeroLogger(log))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Type, err)
	}
	return New(raw, log), nil
}

// OpenSQLite opens a SQLite database file with the pragmas the store relies
// on for durable, serialized writes.
func OpenSQLite(path string, log zerolog.Logger) (*Database, error) {
	return Open(dbutil.Config{PoolConfig: dbutil.PoolConfig{
		Type:         "sqlite",
		URI:          SQLiteURI(path),
		MaxOpenConns: 4,
		MaxIdleConns: 1,
	}}, log)
}

// SQLiteURI builds a DSN for the pure Go SQLite driver.
func SQLiteURI(path string) string {
	return "file:" + path +
		"?_txlock=immediate" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(FULL)" +
		"&_pragma=foreign_keys(1)"
}

// Upgrade applies all pending schema migrations.
func (db *Database) Upgrade(ctx context.Context) error {
	if err := db.Database.Upgrade(ctx); err != nil {
		return fmt.Errorf("failed to upgrade database: %w", err)
	}
	return nil
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n, nil
}
