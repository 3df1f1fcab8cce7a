// Package postgres opens the relational backend behind the repository
// adapters. Two SQL drivers are supported and selected at composition time;
// the store code issues identical queries against either.
package postgres

import (
	"database/sql"
	"fmt"
	"time"

	// Registered drivers for the DB_DRIVER selection.
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"

	"auditoria/internal/platform/config"
)

// Open connects using the configured driver. Returns nil if no DSN is set
// (memory stores are composed instead).
func Open(cfg config.DBConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, nil
	}

	driver, err := driverName(cfg.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

func driverName(configured string) (string, error) {
	switch configured {
	case "", "pgx":
		return "pgx", nil
	case "pq", "postgres":
		return "postgres", nil
	default:
		return "", fmt.Errorf("unknown db driver %q (want pgx or pq)", configured)
	}
}
