package migrations

import (
	"database/sql"
	_ "embed"

	"github.com/goran-ethernal/BlockHarvester/internal/db"
	"github.com/goran-ethernal/BlockHarvester/internal/logger"
)

//go:embed 001_sync_store.sql
var mig001 string

//go:embed 002_filter_intervals.sql
var mig002 string

// RunMigrations applies the sync store schema to the database.
func RunMigrations(log *logger.Logger, database *sql.DB) error {
	migrations := []db.Migration{
		{
			ID:  "001_sync_store.sql",
			SQL: mig001,
		},
		{
			ID:  "002_filter_intervals.sql",
			SQL: mig002,
		},
	}

	return db.RunMigrationsDB(log, database, migrations)
}
