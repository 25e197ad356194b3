package db

import (
	"database/sql"
	"fmt"

	"github.com/chainindexor/blockindexer/pkg/config"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// NewPostgresPoolFromConfig opens a connection pool against the configured
// Postgres database and applies the configured pool limits.
func NewPostgresPoolFromConfig(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// TotalRelationSize returns the on-disk size in bytes of a table including its
// indexes and TOAST data, the Postgres analogue of the teacher's SQLite file-size
// check.
func TotalRelationSize(db *sql.DB, table string) (int64, error) {
	var size int64
	if err := db.QueryRow(`SELECT pg_total_relation_size($1)`, table).Scan(&size); err != nil {
		return 0, fmt.Errorf("failed to query relation size for %s: %w", table, err)
	}
	return size, nil
}
