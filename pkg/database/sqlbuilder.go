package database

import (
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"
)

// FlavorFor maps a driver name to its go-sqlbuilder dialect.
func FlavorFor(driverName string) sqlbuilder.Flavor {
	switch strings.ToLower(driverName) {
	case DriverSQLite, "sqlite":
		return sqlbuilder.SQLite
	default:
		return sqlbuilder.PostgreSQL
	}
}

// Excluded references the row proposed for insertion inside an upsert.
func Excluded(column string) string {
	return fmt.Sprintf("EXCLUDED.%s", column)
}

// InsertBuilder adds the ON CONFLICT clauses shared by PostgreSQL and SQLite.
type InsertBuilder struct {
	*sqlbuilder.InsertBuilder
}

func NewInsertBuilder(flavor sqlbuilder.Flavor) *InsertBuilder {
	return &InsertBuilder{flavor.NewInsertBuilder()}
}

// OnConflictUpdate overwrites columns from the proposed row when the conflict
// target already exists.
func (b *InsertBuilder) OnConflictUpdate(target []string, columns ...string) *InsertBuilder {
	sets := make([]string, len(columns))
	for i, c := range columns {
		sets[i] = fmt.Sprintf("%s = %s", c, Excluded(c))
	}
	b.SQL(fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(target, ", "), strings.Join(sets, ", ")))
	return b
}

func (b *InsertBuilder) OnConflictDoNothing() *InsertBuilder {
	b.SQL("ON CONFLICT DO NOTHING")
	return b
}
