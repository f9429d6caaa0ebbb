package ports

import (
	"context"

	"github.com/google/uuid"

	"fluxcov/models"
)

// ResultsRepository persists run manifests and summary tables. The pipeline
// works without one; persistence is switched on by configuration.
type ResultsRepository interface {
	// EnsureSchema creates the backing tables if they do not exist.
	EnsureSchema(ctx context.Context) error

	// SaveRun persists one run manifest.
	SaveRun(ctx context.Context, run *models.AnalysisRun) error

	// SaveSummary persists the summary-table cells of a run.
	SaveSummary(ctx context.Context, runID uuid.UUID, cells []models.SummaryCell) error

	// RecentRuns lists the latest run manifests, newest first.
	RecentRuns(ctx context.Context, limit int) ([]models.AnalysisRun, error)

	// RunSummary returns the persisted summary cells of one run.
	RunSummary(ctx context.Context, runID uuid.UUID) ([]models.SummaryCell, error)
}
