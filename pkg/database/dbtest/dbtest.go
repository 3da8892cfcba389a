// Package dbtest opens migrated in-memory SQLite databases for repository tests.
package dbtest

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sorrel/pkg/database"
)

// MigrationsDir is the absolute path of db/migrations in this module.
func MigrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "..", "db", "migrations")
}

// Logger discards everything.
func Logger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
}

// New returns an empty in-memory database with every migration applied.
// It is closed when the test ends.
func New(t *testing.T) database.DB {
	t.Helper()
	db := Open(t)
	ms := database.NewMigrationService(Logger(), &database.MigrationConfig{MigrationFolderPath: MigrationsDir()})
	require.NoError(t, ms.MigrateDB(db))
	return db
}

// Open returns an unmigrated in-memory database.
func Open(t *testing.T) database.DB {
	t.Helper()
	db, err := database.Open(context.Background(), database.Config{Driver: database.DriverSQLite, DSN: ":memory:"}, Logger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}
