package entitymap

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/sorrel/pkg/database"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

// batchSize keeps multi-row inserts under every driver's bind-variable limit.
const batchSize = 500

var entryColumns = []string{"collection", "record_id", "canonical_id", "cluster_score", "run_id", "created_at"}

var linkColumns = []string{"collection", "left_id", "right_id", "score", "run_id", "created_at"}

// ClusterSize is one row of the largest-clusters report.
type ClusterSize struct {
	CanonicalID string  `json:"canonical_id" db:"canonical_id"`
	Members     int     `json:"members" db:"members"`
	MaxScore    float64 `json:"max_score" db:"max_score"`
}

// Repository persists the canonical-entity map and cross-collection links.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new entity map repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// ReplaceClusters swaps the collection's canonical map for the given clusters
// in one transaction. Only matched records get rows.
func (r *Repository) ReplaceClusters(ctx context.Context, collection, runID string, clusters []models.EntityCluster) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "entitymap.Repository.ReplaceClusters")
	defer span.End()

	now := time.Now().UTC()
	rows := make([][]any, 0)
	for _, c := range clusters {
		for _, m := range c.Members {
			rows = append(rows, []any{collection, m.RecordID, c.CanonicalID, m.Score, runID, now})
		}
	}

	err := database.RunInTx(ctx, r.db, func(ctx context.Context, tx database.Tx) error {
		if err := r.deleteCollection(ctx, tx, "entity_map", collection); err != nil {
			return err
		}
		return r.insertBatches(ctx, tx, "entity_map", entryColumns, rows)
	})
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"collection": collection, "run_id": runID}).Error("Failed to replace entity map")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to replace entity map")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"collection": collection,
		"run_id":     runID,
		"clusters":   len(clusters),
		"rows":       len(rows),
	}).Info("Replaced entity map")
	return len(rows), nil
}

// ReplaceLinks swaps the collection's accepted links.
func (r *Repository) ReplaceLinks(ctx context.Context, collection, runID string, decisions []models.MatchDecision) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "entitymap.Repository.ReplaceLinks")
	defer span.End()

	now := time.Now().UTC()
	rows := make([][]any, 0, len(decisions))
	for _, d := range decisions {
		if !d.Accepted {
			continue
		}
		rows = append(rows, []any{collection, d.Pair.Left, d.Pair.Right, d.Score, runID, now})
	}

	err := database.RunInTx(ctx, r.db, func(ctx context.Context, tx database.Tx) error {
		if err := r.deleteCollection(ctx, tx, "record_links", collection); err != nil {
			return err
		}
		return r.insertBatches(ctx, tx, "record_links", linkColumns, rows)
	})
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"collection": collection, "run_id": runID}).Error("Failed to replace record links")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to replace record links")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"collection": collection,
		"run_id":     runID,
		"links":      len(rows),
	}).Info("Replaced record links")
	return len(rows), nil
}

// Lookup resolves a record to its canonical entry. A record with no row is its
// own singleton: the entry carries its own id and found is false.
func (r *Repository) Lookup(ctx context.Context, collection, recordID string) (entry models.CanonicalEntry, found bool, err error) {
	ctx, span := tracing.StartSpan(ctx, "entitymap.Repository.Lookup")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(entryColumns...)
	sb.From("entity_map")
	sb.Where(sb.Equal("collection", collection), sb.Equal("record_id", recordID))

	query, args := sb.Build()
	if err := r.db.GetContext(ctx, &entry, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.CanonicalEntry{Collection: collection, RecordID: recordID, CanonicalID: recordID}, false, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"collection": collection, "record_id": recordID}).Error("Failed to look up canonical entity")
		return models.CanonicalEntry{}, false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to look up canonical entity")
	}
	return entry, true, nil
}

// Members lists a cluster's rows ordered by record id.
func (r *Repository) Members(ctx context.Context, collection, canonicalID string) ([]models.CanonicalEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "entitymap.Repository.Members")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(entryColumns...)
	sb.From("entity_map")
	sb.Where(sb.Equal("collection", collection), sb.Equal("canonical_id", canonicalID))

	query, args := sb.Build()
	var entries []models.CanonicalEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"collection": collection, "canonical_id": canonicalID}).Error("Failed to list cluster members")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list cluster members")
	}
	if len(entries) == 0 {
		return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("cluster %s not found", canonicalID))
	}

	sortEntries(entries)
	return entries, nil
}

// CanonicalMap returns record id to canonical id for every matched record of a
// collection. Unmatched records are absent; callers treat them as singletons.
func (r *Repository) CanonicalMap(ctx context.Context, collection string) (map[string]string, error) {
	ctx, span := tracing.StartSpan(ctx, "entitymap.Repository.CanonicalMap")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(entryColumns...)
	sb.From("entity_map")
	sb.Where(sb.Equal("collection", collection))

	query, args := sb.Build()
	var entries []models.CanonicalEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"collection": collection}).Error("Failed to load canonical map")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to load canonical map")
	}

	canonical := make(map[string]string, len(entries))
	for _, e := range entries {
		canonical[e.RecordID] = e.CanonicalID
	}
	return canonical, nil
}

// TopClusters returns the n largest clusters, ties broken by canonical id.
func (r *Repository) TopClusters(ctx context.Context, collection string, n int) ([]ClusterSize, error) {
	ctx, span := tracing.StartSpan(ctx, "entitymap.Repository.TopClusters")
	defer span.End()

	if n < 1 {
		n = 10
	}

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select("canonical_id", "COUNT(*) AS members", "MAX(cluster_score) AS max_score")
	sb.From("entity_map")
	sb.Where(sb.Equal("collection", collection))
	sb.GroupBy("canonical_id")
	sb.OrderBy("members DESC", "canonical_id ASC")
	sb.Limit(n)

	query, args := sb.Build()
	var sizes []ClusterSize
	if err := r.db.SelectContext(ctx, &sizes, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"collection": collection}).Error("Failed to list top clusters")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list top clusters")
	}
	return sizes, nil
}

// Links returns the accepted links touching a record on either side.
func (r *Repository) Links(ctx context.Context, collection, recordID string) ([]models.RecordLink, error) {
	ctx, span := tracing.StartSpan(ctx, "entitymap.Repository.Links")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(linkColumns...)
	sb.From("record_links")
	sb.Where(
		sb.Equal("collection", collection),
		sb.Or(sb.Equal("left_id", recordID), sb.Equal("right_id", recordID)),
	)
	sb.OrderBy("score DESC")

	query, args := sb.Build()
	var links []models.RecordLink
	if err := r.db.SelectContext(ctx, &links, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"collection": collection, "record_id": recordID}).Error("Failed to list record links")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list record links")
	}
	return links, nil
}

func (r *Repository) deleteCollection(ctx context.Context, tx database.Tx, table, collection string) error {
	db := r.db.Flavor().NewDeleteBuilder()
	db.DeleteFrom(table)
	db.Where(db.Equal("collection", collection))

	query, args := db.Build()
	_, err := tx.ExecContext(ctx, query, args...)
	return errors.Wrapf(err, "failed to clear %s", table)
}

func (r *Repository) insertBatches(ctx context.Context, tx database.Tx, table string, cols []string, rows [][]any) error {
	for start := 0; start < len(rows); start += batchSize {
		end := min(start+batchSize, len(rows))

		ib := database.NewInsertBuilder(r.db.Flavor())
		ib.InsertInto(table)
		ib.Cols(cols...)
		for _, row := range rows[start:end] {
			ib.Values(row...)
		}

		query, args := ib.Build()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return errors.Wrapf(err, "failed to insert into %s", table)
		}
	}
	return nil
}

func sortEntries(entries []models.CanonicalEntry) {
	sort.Slice(entries, func(i, j int) bool { return models.LessID(entries[i].RecordID, entries[j].RecordID) })
}
