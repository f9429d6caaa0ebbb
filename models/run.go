package models

import (
	"time"

	"github.com/google/uuid"
)

// AnalysisRun is the persisted manifest of one pipeline execution.
type AnalysisRun struct {
	ID           uuid.UUID `json:"id" db:"id"`
	ConfigDigest string    `json:"config_digest" db:"config_digest"`
	NominalRun   int       `json:"nominal_run" db:"nominal_run"`
	PCAThreshold float64   `json:"pca_threshold" db:"pca_threshold"`
	AxisLen      int       `json:"axis_len" db:"axis_len"`
	Universes    int       `json:"universes" db:"universes"`
	Retained     int       `json:"retained_components" db:"retained_components"`
	Warnings     int64     `json:"warnings" db:"warnings"`
	WorkbookPath string    `json:"workbook_path" db:"workbook_path"`
	StartedAt    time.Time `json:"started_at" db:"started_at"`
	FinishedAt   time.Time `json:"finished_at" db:"finished_at"`
	DurationMS   int64     `json:"duration_ms" db:"duration_ms"`
}

// SummaryCell is one cell of a persisted range-integrated uncertainty table.
type SummaryCell struct {
	RunID  uuid.UUID `json:"run_id" db:"run_id"`
	Source string    `json:"source" db:"source"`
	Horn   string    `json:"horn" db:"horn"`
	Column string    `json:"column_name" db:"column_name"`
	Value  float64   `json:"value" db:"value"`
}
