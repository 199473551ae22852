// Package db opens the DuckDB database that holds the tile coverage index.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb"
)

// Config holds database configuration.
type Config struct {
	DataDir string
	// DBName is the database file name without extension. Empty opens an
	// in-memory database.
	DBName string
}

// Open opens the DuckDB database described by cfg, creating the duckdb
// directory under DataDir if needed.
func Open(cfg Config) (*sql.DB, error) {
	if cfg.DBName == "" {
		return ping(sql.Open("duckdb", ""))
	}

	duckdbDir := filepath.Join(cfg.DataDir, "duckdb")
	if err := os.MkdirAll(duckdbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create duckdb directory: %w", err)
	}
	return ping(sql.Open("duckdb", filepath.Join(duckdbDir, cfg.DBName+".duckdb")))
}

func ping(db *sql.DB, err error) (*sql.DB, error) {
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("duckdb unavailable: %w", err)
	}
	return db, nil
}
