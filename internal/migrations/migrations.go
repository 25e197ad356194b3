// Package migrations embeds the schema for the blocks, sync_checkpoints,
// sync_status, sync_gaps, and app_locks tables and wires them into
// internal/db's migration runner.
package migrations

import (
	"database/sql"
	_ "embed"

	"github.com/chainindexor/blockindexer/internal/db"
)

//go:embed 001_blocks.sql
var mig001 string

//go:embed 002_sync_checkpoints.sql
var mig002 string

//go:embed 003_sync_status.sql
var mig003 string

//go:embed 004_sync_gaps.sql
var mig004 string

//go:embed 005_app_locks.sql
var mig005 string

// All returns every migration, in apply order, for the block indexer schema.
func All() []db.Migration {
	return []db.Migration{
		{ID: "001_blocks.sql", SQL: mig001},
		{ID: "002_sync_checkpoints.sql", SQL: mig002},
		{ID: "003_sync_status.sql", SQL: mig003},
		{ID: "004_sync_gaps.sql", SQL: mig004},
		{ID: "005_app_locks.sql", SQL: mig005},
	}
}

// Run applies every migration against the given Postgres connection pool.
func Run(conn *sql.DB) error {
	return db.RunMigrations(conn, All())
}
