package records

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/sorrel/pkg/database"
	"github.com/Ramsey-B/sorrel/pkg/metrics"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

// dateLayouts are tried in order when a date column holds text.
var dateLayouts = []string{
	models.DateLayout,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"01/02/2006",
	"1/2/2006",
	"20060102",
}

// Repository reads record collections from the read-only source store.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new record repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// All loads every row the query selects. Unparseable numbers and dates are
// logged, counted and loaded as null.
func (r *Repository) All(ctx context.Context, q models.SourceQuery) (*models.Collection, error) {
	ctx, span := tracing.StartSpan(ctx, "records.Repository.All")
	defer span.End()

	sb := r.selectBuilder(q)
	if q.Where != "" {
		sb.Where(q.Where)
	}
	sb.OrderBy(q.ID())
	if q.Limit > 0 {
		sb.Limit(q.Limit)
	}

	query, args := sb.Build()
	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": q.Table}).Error("Failed to query source records")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("failed to query %s", q.Table))
	}
	defer rows.Close()

	var (
		records   []models.Record
		malformed int
	)
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": q.Table}).Error("Failed to scan source row")
			return nil, httperror.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("failed to read %s", q.Table))
		}
		rec, bad := r.toRecord(ctx, q, values)
		malformed += bad
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": q.Table}).Error("Failed to iterate source rows")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("failed to read %s", q.Table))
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"collection": q.Name,
		"table":      q.Table,
		"records":    len(records),
		"malformed":  malformed,
	}).Info("Loaded source records")

	return models.NewCollection(q.Name, records)
}

// Get fetches one record by id.
func (r *Repository) Get(ctx context.Context, q models.SourceQuery, id string) (models.Record, error) {
	ctx, span := tracing.StartSpan(ctx, "records.Repository.Get")
	defer span.End()

	sb := r.selectBuilder(q)
	sb.Where(sb.Equal(q.ID(), id))
	sb.Limit(1)

	query, args := sb.Build()
	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"table": q.Table, "id": id}).Error("Failed to get source record")
		return models.Record{}, httperror.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("failed to query %s", q.Table))
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return models.Record{}, httperror.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("failed to read %s", q.Table))
		}
		return models.Record{}, errors.Wrapf(models.ErrRecordNotFound, "%s %s", q.Name, id)
	}
	values, err := rows.SliceScan()
	if err != nil {
		return models.Record{}, httperror.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("failed to read %s", q.Table))
	}
	rec, _ := r.toRecord(ctx, q, values)
	return rec, nil
}

func (r *Repository) selectBuilder(q models.SourceQuery) *sqlbuilder.SelectBuilder {
	cols := make([]string, 0, len(q.Fields)+1)
	cols = append(cols, q.ID())
	for _, f := range q.Fields {
		cols = append(cols, f.ColumnName())
	}
	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(cols...)
	sb.From(q.Table)
	return sb
}

// toRecord converts a scanned row, returning how many values were malformed.
func (r *Repository) toRecord(ctx context.Context, q models.SourceQuery, values []any) (models.Record, int) {
	id, _ := coerceText(values[0])
	rec := models.Record{ID: id, Fields: make(map[string]any, len(q.Fields))}

	bad := 0
	for i, f := range q.Fields {
		v, err := coerce(f.Type, values[i+1])
		if err != nil {
			bad++
			metrics.MalformedValuesTotal.WithLabelValues(q.Table, f.Name).Inc()
			r.logger.WithContext(ctx).WithFields(map[string]any{
				"table":  q.Table,
				"id":     id,
				"field":  f.Name,
				"reason": err.Error(),
			}).Warn("Malformed source value set to null")
			v = nil
		}
		rec.Fields[f.Name] = v
	}
	return rec, bad
}

func coerce(t models.FieldType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case models.FieldTypeNumber:
		return coerceNumber(v)
	case models.FieldTypeDate:
		return coerceDate(v)
	default:
		s, _ := coerceText(v)
		return s, nil
	}
}

func coerceText(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case []byte:
		return string(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case time.Time:
		return t.Format(models.DateLayout), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return fmt.Sprintf("%v", t), true
	}
}

func coerceNumber(v any) (any, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int64:
		return float64(t), nil
	case string, []byte:
		s, _ := coerceText(t)
		return parseNumber(s)
	default:
		return nil, errors.Wrapf(models.ErrMalformedInput, "unexpected %T for number", v)
	}
}

// parseNumber accepts plain and currency-formatted amounts such as "$1,250.00"
// and "(40.00)". Blank text is null.
func parseNumber(s string) (any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	negative := strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")")
	s = strings.Trim(s, "()")
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, errors.Wrapf(models.ErrMalformedInput, "invalid number %q", s)
	}
	if negative {
		f = -f
	}
	return f, nil
}

func coerceDate(v any) (any, error) {
	switch t := v.(type) {
	case time.Time:
		// go-sqlite3 yields the zero time for a DATE column it cannot parse.
		if t.IsZero() {
			return nil, errors.Wrap(models.ErrMalformedInput, "unparseable date")
		}
		return t.UTC(), nil
	case string, []byte:
		s, _ := coerceText(t)
		return parseDate(s)
	default:
		return nil, errors.Wrapf(models.ErrMalformedInput, "unexpected %T for date", v)
	}
}

func parseDate(s string) (any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return nil, errors.Wrapf(models.ErrMalformedInput, "invalid date %q", s)
}
