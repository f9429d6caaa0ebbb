package postgres

import (
	"context"

	"fluxcov/models"
	"fluxcov/ports"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ResultsRepositoryImpl implements ResultsRepository for PostgreSQL
type ResultsRepositoryImpl struct {
	db *sqlx.DB
}

// NewResultsRepository creates a new PostgreSQL results repository
func NewResultsRepository(db *sqlx.DB) ports.ResultsRepository {
	return &ResultsRepositoryImpl{db: db}
}

// EnsureSchema creates the ledger tables when they do not exist. Safe to
// call on every startup.
func (r *ResultsRepositoryImpl) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS analysis_runs (
			id UUID PRIMARY KEY,
			config_digest TEXT NOT NULL,
			nominal_run INTEGER NOT NULL,
			pca_threshold DOUBLE PRECISION NOT NULL,
			axis_len INTEGER NOT NULL,
			universes INTEGER NOT NULL,
			retained_components INTEGER NOT NULL,
			warnings BIGINT NOT NULL DEFAULT 0,
			workbook_path TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			duration_ms BIGINT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_analysis_runs_started_at
			ON analysis_runs (started_at DESC);

		CREATE TABLE IF NOT EXISTS run_summaries (
			run_id UUID NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
			source TEXT NOT NULL,
			horn TEXT NOT NULL,
			column_name TEXT NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (run_id, source, horn, column_name)
		);
	`)
	return err
}

// SaveRun persists one run manifest
func (r *ResultsRepositoryImpl) SaveRun(ctx context.Context, run *models.AnalysisRun) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO analysis_runs (
			id, config_digest, nominal_run, pca_threshold, axis_len,
			universes, retained_components, warnings, workbook_path,
			started_at, finished_at, duration_ms
		) VALUES (
			:id, :config_digest, :nominal_run, :pca_threshold, :axis_len,
			:universes, :retained_components, :warnings, :workbook_path,
			:started_at, :finished_at, :duration_ms
		)
	`, run)
	return err
}

// SaveSummary replaces the summary cells of a run in one transaction
func (r *ResultsRepositoryImpl) SaveSummary(ctx context.Context, runID uuid.UUID, cells []models.SummaryCell) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_summaries WHERE run_id = $1`, runID); err != nil {
		return err
	}

	for _, cell := range cells {
		cell.RunID = runID
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO run_summaries (run_id, source, horn, column_name, value)
			VALUES (:run_id, :source, :horn, :column_name, :value)
		`, cell)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RunSummary returns the persisted summary cells of one run
func (r *ResultsRepositoryImpl) RunSummary(ctx context.Context, runID uuid.UUID) ([]models.SummaryCell, error) {
	var cells []models.SummaryCell
	err := r.db.SelectContext(ctx, &cells, `
		SELECT run_id, source, horn, column_name, value
		FROM run_summaries
		WHERE run_id = $1
		ORDER BY horn, source, column_name
	`, runID)
	return cells, err
}

// RecentRuns lists the latest run manifests, newest first
func (r *ResultsRepositoryImpl) RecentRuns(ctx context.Context, limit int) ([]models.AnalysisRun, error) {
	if limit <= 0 {
		limit = 20
	}

	var runs []models.AnalysisRun
	err := r.db.SelectContext(ctx, &runs, `
		SELECT id, config_digest, nominal_run, pca_threshold, axis_len,
		       universes, retained_components, warnings, workbook_path,
		       started_at, finished_at, duration_ms
		FROM analysis_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	return runs, err
}
