package runs

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/sorrel/pkg/database"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

var runColumns = []string{
	"id", "definition", "fingerprint", "status", "settings", "candidate_pairs", "accepted_pairs",
	"clusters", "feature_cache_hit", "error", "started_at", "finished_at",
}

// Repository records pipeline runs.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new pipeline run repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Start inserts a running row. Restarting an existing id resets it.
func (r *Repository) Start(ctx context.Context, run *models.PipelineRun) (*models.PipelineRun, error) {
	ctx, span := tracing.StartSpan(ctx, "runs.Repository.Start")
	defer span.End()

	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	run.Status = models.PipelineRunStatusRunning
	run.StartedAt = time.Now().UTC()
	run.FinishedAt = nil
	run.Error = nil
	run.CandidatePairs, run.AcceptedPairs, run.Clusters = 0, 0, 0
	run.FeatureCacheHit = false

	ib := database.NewInsertBuilder(r.db.Flavor())
	ib.InsertInto("pipeline_runs")
	ib.Cols(runColumns...)
	ib.Values(run.ID, run.Definition, run.Fingerprint, run.Status, run.Settings, 0, 0, 0, false, nil, run.StartedAt, nil)
	ib.OnConflictUpdate([]string{"id"}, runColumns[1:]...)

	query, args := ib.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": run.ID}).Error("Failed to start pipeline run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to start pipeline run")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"run_id": run.ID, "definition": run.Definition}).Debug("Started pipeline run")
	return run, nil
}

// Finish stores the run's counts and outcome. A non-nil runErr marks it failed.
func (r *Repository) Finish(ctx context.Context, run *models.PipelineRun, runErr error) error {
	ctx, span := tracing.StartSpan(ctx, "runs.Repository.Finish")
	defer span.End()

	now := time.Now().UTC()
	run.FinishedAt = &now
	run.Status = models.PipelineRunStatusSucceeded
	if runErr != nil {
		msg := runErr.Error()
		run.Status = models.PipelineRunStatusFailed
		run.Error = &msg
	}

	ub := r.db.Flavor().NewUpdateBuilder()
	ub.Update("pipeline_runs")
	ub.Set(
		ub.Assign("status", run.Status),
		ub.Assign("candidate_pairs", run.CandidatePairs),
		ub.Assign("accepted_pairs", run.AcceptedPairs),
		ub.Assign("clusters", run.Clusters),
		ub.Assign("feature_cache_hit", run.FeatureCacheHit),
		ub.Assign("error", run.Error),
		ub.Assign("finished_at", now),
	)
	ub.Where(ub.Equal("id", run.ID))

	query, args := ub.Build()
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": run.ID}).Error("Failed to finish pipeline run")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to finish pipeline run")
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("pipeline run %s not found", run.ID))
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":      run.ID,
		"status":      run.Status,
		"duration_ms": now.Sub(run.StartedAt).Milliseconds(),
	}).Info("Finished pipeline run")
	return nil
}

// Get retrieves a run by id.
func (r *Repository) Get(ctx context.Context, id string) (*models.PipelineRun, error) {
	ctx, span := tracing.StartSpan(ctx, "runs.Repository.Get")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(runColumns...)
	sb.From("pipeline_runs")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var run models.PipelineRun
	if err := r.db.GetContext(ctx, &run, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("pipeline run %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": id}).Error("Failed to get pipeline run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get pipeline run")
	}
	return &run, nil
}

// Latest returns the most recent run of a definition, or nil when it never ran.
func (r *Repository) Latest(ctx context.Context, definition string) (*models.PipelineRun, error) {
	ctx, span := tracing.StartSpan(ctx, "runs.Repository.Latest")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(runColumns...)
	sb.From("pipeline_runs")
	sb.Where(sb.Equal("definition", definition))
	sb.OrderBy("started_at DESC")
	sb.Limit(1)

	query, args := sb.Build()
	var run models.PipelineRun
	if err := r.db.GetContext(ctx, &run, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"definition": definition}).Error("Failed to get latest pipeline run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get latest pipeline run")
	}
	return &run, nil
}
