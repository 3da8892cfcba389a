package graph

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

// DefaultBatchSize is the number of clusters sent per UNWIND statement.
const DefaultBatchSize = 500

const upsertClusters = `
UNWIND $rows AS row
MERGE (e:Entity {collection: $collection, canonical_id: row.canonical_id})
SET e.size = row.size, e.run_id = $run_id
WITH e, row
UNWIND row.members AS m
MERGE (r:Record {collection: $collection, id: m.id})
MERGE (r)-[s:SAME_AS]->(e)
SET s.score = m.score, s.run_id = $run_id
`

const pruneStale = `
MATCH (:Record {collection: $collection})-[s:SAME_AS]->(e:Entity {collection: $collection})
WHERE s.run_id <> $run_id
DELETE s
WITH DISTINCT e
WHERE e.run_id <> $run_id
DETACH DELETE e
`

// Statement is one parameterised Cypher query.
type Statement struct {
	Cypher string
	Params map[string]any
}

// Executor runs statements atomically. *Client implements it.
type Executor interface {
	Execute(ctx context.Context, statements []Statement) error
}

// ClusterExporter writes clusters as (:Record)-[:SAME_AS]->(:Entity).
type ClusterExporter struct {
	exec      Executor
	logger    ectologger.Logger
	batchSize int
}

// NewClusterExporter creates an exporter. batchSize <= 0 uses DefaultBatchSize.
func NewClusterExporter(exec Executor, logger ectologger.Logger, batchSize int) *ClusterExporter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &ClusterExporter{exec: exec, logger: logger, batchSize: batchSize}
}

// Export upserts every cluster of the run, then removes edges and entities
// left over from earlier runs of the same collection.
func (e *ClusterExporter) Export(ctx context.Context, collection, runID string, clusters []models.EntityCluster) error {
	ctx, span := tracing.StartSpan(ctx, "graph.ClusterExporter.Export")
	defer span.End()

	start := time.Now()
	statements := Statements(collection, runID, clusters, e.batchSize)
	if err := e.exec.Execute(ctx, statements); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"collection": collection, "run_id": runID}).Error("Failed to export clusters to graph")
		return errors.Wrap(err, "failed to export clusters to graph")
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"collection":  collection,
		"run_id":      runID,
		"clusters":    len(clusters),
		"statements":  len(statements),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Exported clusters to graph")
	return nil
}

// Statements builds the batched upserts followed by the prune.
func Statements(collection, runID string, clusters []models.EntityCluster, batchSize int) []Statement {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	var out []Statement
	for start := 0; start < len(clusters); start += batchSize {
		end := min(start+batchSize, len(clusters))
		rows := make([]map[string]any, 0, end-start)
		for _, c := range clusters[start:end] {
			members := make([]map[string]any, len(c.Members))
			for i, m := range c.Members {
				members[i] = map[string]any{"id": m.RecordID, "score": m.Score}
			}
			rows = append(rows, map[string]any{
				"canonical_id": c.CanonicalID,
				"size":         int64(len(c.Members)),
				"members":      members,
			})
		}
		out = append(out, Statement{
			Cypher: upsertClusters,
			Params: map[string]any{"collection": collection, "run_id": runID, "rows": rows},
		})
	}

	return append(out, Statement{
		Cypher: pruneStale,
		Params: map[string]any{"collection": collection, "run_id": runID},
	})
}
