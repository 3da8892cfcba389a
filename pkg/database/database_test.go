package database_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/huandu/go-sqlbuilder"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sorrel/pkg/database"
	"github.com/Ramsey-B/sorrel/pkg/database/dbtest"
)

func count(t *testing.T, db database.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.GetContext(context.Background(), &n, "SELECT COUNT(*) FROM "+table))
	return n
}

func TestOpen(t *testing.T) {
	t.Run("sqlite", func(t *testing.T) {
		db := dbtest.Open(t)
		assert.Equal(t, database.DriverSQLite, db.DriverName())
		assert.Equal(t, sqlbuilder.SQLite, db.Flavor())
		assert.NoError(t, db.PingContext(context.Background()))
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, err := database.Open(context.Background(), database.Config{Driver: "oracle"}, dbtest.Logger())
		assert.Error(t, err)
	})
}

func TestConfig_ConnectionString(t *testing.T) {
	assert.Equal(t, "file:raw.db", database.Config{Driver: "sqlite3", DSN: "file:raw.db"}.ConnectionString())
	assert.Equal(t, ":memory:", database.Config{Driver: "sqlite3"}.ConnectionString())
	assert.Equal(t,
		"host=db port=5432 user=sorrel password=pw dbname=sorrel sslmode=disable",
		database.Config{Driver: "postgres", Host: "db", Port: "5432", User: "sorrel", Password: "pw", Name: "sorrel"}.ConnectionString())
}

func TestFlavorFor(t *testing.T) {
	assert.Equal(t, sqlbuilder.SQLite, database.FlavorFor("sqlite3"))
	assert.Equal(t, sqlbuilder.PostgreSQL, database.FlavorFor("postgres"))
	assert.Equal(t, sqlbuilder.PostgreSQL, database.FlavorFor(""))
}

func TestInsertBuilder_OnConflict(t *testing.T) {
	t.Run("update", func(t *testing.T) {
		ib := database.NewInsertBuilder(sqlbuilder.PostgreSQL)
		ib.InsertInto("entity_map").Cols("collection", "record_id", "canonical_id").Values("donors", "1", "1")
		ib.OnConflictUpdate([]string{"collection", "record_id"}, "canonical_id")
		query, args := ib.Build()
		assert.Contains(t, query, "VALUES ($1, $2, $3)")
		assert.Contains(t, query, "ON CONFLICT (collection, record_id) DO UPDATE SET canonical_id = EXCLUDED.canonical_id")
		assert.Len(t, args, 3)
	})

	t.Run("nothing", func(t *testing.T) {
		ib := database.NewInsertBuilder(sqlbuilder.SQLite)
		ib.InsertInto("t").Cols("a").Values(1)
		ib.OnConflictDoNothing()
		query, _ := ib.Build()
		assert.Contains(t, query, "VALUES (?) ON CONFLICT DO NOTHING")
	})
}

func TestMigrationService(t *testing.T) {
	t.Run("applies every migration and is idempotent", func(t *testing.T) {
		db := dbtest.Open(t)
		ms := database.NewMigrationService(dbtest.Logger(), &database.MigrationConfig{MigrationFolderPath: dbtest.MigrationsDir()})
		require.NoError(t, ms.MigrateDB(db))
		require.NoError(t, ms.MigrateDB(db))

		for _, table := range []string{"pipeline_runs", "entity_map", "record_links"} {
			assert.Equal(t, 0, count(t, db, table), table)
		}
	})

	t.Run("missing folder", func(t *testing.T) {
		db := dbtest.Open(t)
		ms := database.NewMigrationService(dbtest.Logger(), &database.MigrationConfig{MigrationFolderPath: filepath.Join(t.TempDir(), "nope")})
		assert.Error(t, ms.MigrateDB(db))
	})
}

func TestRunInTx(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	_, err := db.ExecContext(ctx, "CREATE TABLE items (id TEXT PRIMARY KEY)")
	require.NoError(t, err)

	insert := func(ctx context.Context, tx database.Tx, id string) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO items (id) VALUES (?)", id)
		return err
	}

	t.Run("commits on success", func(t *testing.T) {
		err := database.RunInTx(ctx, db, func(ctx context.Context, tx database.Tx) error {
			return insert(ctx, tx, "a")
		})
		require.NoError(t, err)
		assert.Equal(t, 1, count(t, db, "items"))
	})

	t.Run("rolls back on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := database.RunInTx(ctx, db, func(ctx context.Context, tx database.Tx) error {
			require.NoError(t, insert(ctx, tx, "b"))
			return boom
		})
		assert.True(t, errors.Is(err, boom))
		assert.Equal(t, 1, count(t, db, "items"))
	})

	t.Run("nested calls share the outer transaction", func(t *testing.T) {
		boom := errors.New("boom")
		err := database.RunInTx(ctx, db, func(ctx context.Context, tx database.Tx) error {
			require.NoError(t, database.RunInTx(ctx, db, func(ctx context.Context, inner database.Tx) error {
				return insert(ctx, inner, "c")
			}))
			return boom
		})
		assert.Error(t, err)
		assert.Equal(t, 1, count(t, db, "items"))
	})
}

func TestJSONB(t *testing.T) {
	var j database.JSONB[map[string]any]
	require.NoError(t, j.Scan([]byte(`{"mode":"dedupe"}`)))
	assert.Equal(t, "dedupe", j.Data["mode"])

	require.NoError(t, j.Scan(`{"mode":"link"}`))
	assert.Equal(t, "link", j.Data["mode"])

	require.NoError(t, j.Scan(nil))
	assert.Nil(t, j.Data)

	assert.Error(t, j.Scan(42))

	v, err := database.NewJSONB([]string{"name"}).Value()
	require.NoError(t, err)
	assert.Equal(t, `["name"]`, v)
}
