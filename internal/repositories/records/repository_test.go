package records

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sorrel/pkg/database"
	"github.com/Ramsey-B/sorrel/pkg/database/dbtest"
	"github.com/Ramsey-B/sorrel/pkg/models"
)

func seed(t *testing.T) database.DB {
	t.Helper()
	ctx := context.Background()
	db := dbtest.Open(t)
	_, err := db.ExecContext(ctx, `CREATE TABLE contributions (
		id INTEGER PRIMARY KEY,
		contributor_name TEXT,
		address TEXT,
		amount TEXT,
		receipt_date TEXT
	)`)
	require.NoError(t, err)
	rows := [][]any{
		{1, "Jane Doe", "123 Main St", "$1,250.00", "2024-03-01"},
		{2, "JANE DOE", "123 Main Street", "250", "03/02/2024"},
		{3, "John Roe", nil, "lots", "not a date"},
		{10, "Acme PAC", "9 Elm Ave", "(40.00)", ""},
	}
	for _, r := range rows {
		_, err := db.ExecContext(ctx, "INSERT INTO contributions VALUES (?, ?, ?, ?, ?)", r...)
		require.NoError(t, err)
	}
	return db
}

func contributions() models.SourceQuery {
	return models.SourceQuery{
		Name:  "contributions",
		Table: "contributions",
		Fields: []models.SourceField{
			{Name: "name", Column: "contributor_name", Type: models.FieldTypeText},
			{Name: "address", Type: models.FieldTypeText},
			{Name: "amount", Type: models.FieldTypeNumber},
			{Name: "date", Column: "receipt_date", Type: models.FieldTypeDate},
		},
	}
}

func TestRepository_All(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(seed(t), dbtest.Logger())

	t.Run("loads and coerces every row", func(t *testing.T) {
		c, err := repo.All(ctx, contributions())
		require.NoError(t, err)
		require.Equal(t, 4, c.Len())
		assert.Equal(t, []string{"1", "2", "3", "10"}, c.IDs())

		jane, ok := c.Get("1")
		require.True(t, ok)
		name, _ := jane.String("name")
		assert.Equal(t, "Jane Doe", name)
		amount, ok := jane.Float("amount")
		require.True(t, ok)
		assert.Equal(t, 1250.0, amount)
		date, ok := jane.Time("date")
		require.True(t, ok)
		assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), date)

		other, _ := c.Get("2")
		date, ok = other.Time("date")
		require.True(t, ok)
		assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), date)
	})

	t.Run("malformed values become null", func(t *testing.T) {
		c, err := repo.All(ctx, contributions())
		require.NoError(t, err)

		john, _ := c.Get("3")
		_, ok := john.Value("amount")
		assert.False(t, ok)
		_, ok = john.Value("date")
		assert.False(t, ok)
		_, ok = john.Value("address")
		assert.False(t, ok)
		name, _ := john.String("name")
		assert.Equal(t, "John Roe", name)
	})

	t.Run("accounting negatives and blank dates", func(t *testing.T) {
		c, err := repo.All(ctx, contributions())
		require.NoError(t, err)

		acme, _ := c.Get("10")
		amount, ok := acme.Float("amount")
		require.True(t, ok)
		assert.Equal(t, -40.0, amount)
		_, ok = acme.Value("date")
		assert.False(t, ok)
	})

	t.Run("where and limit", func(t *testing.T) {
		q := contributions()
		q.Where = "id < 10"
		q.Limit = 2
		c, err := repo.All(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, []string{"1", "2"}, c.IDs())
	})

	t.Run("unknown table", func(t *testing.T) {
		q := contributions()
		q.Table = "expenditures"
		_, err := repo.All(ctx, q)
		assert.Error(t, err)
	})
}

func TestRepository_Get(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(seed(t), dbtest.Logger())

	t.Run("found", func(t *testing.T) {
		rec, err := repo.Get(ctx, contributions(), "2")
		require.NoError(t, err)
		assert.Equal(t, "2", rec.ID)
		addr, _ := rec.String("address")
		assert.Equal(t, "123 Main Street", addr)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := repo.Get(ctx, contributions(), "99")
		assert.True(t, errors.Is(err, models.ErrRecordNotFound))
	})
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in      string
		want    any
		wantErr bool
	}{
		{in: "12", want: 12.0},
		{in: " $1,000.50 ", want: 1000.5},
		{in: "(3)", want: -3.0},
		{in: "", want: nil},
		{in: "n/a", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseNumber(tt.in)
			if tt.wantErr {
				assert.True(t, errors.Is(err, models.ErrMalformedInput))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
