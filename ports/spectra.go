package ports

import (
	"context"

	"fluxcov/domain/flux"
)

// SpectraRequest points the preprocessor at a directory of per-run spectra
// files.
type SpectraRequest struct {
	SourcesPath string
	// Workers bounds the file fan-out; zero or less means one worker per file.
	Workers int
}

// SpectraFile records the provenance of one ingested source file.
type SpectraFile struct {
	Path  string
	RunID int
	Horn  flux.HornPolarity
	POT   float64
	Rows  int
}

// SpectraBundle is the preprocessor's aggregated output: one tidy table
// covering every run found, plus per-file exposure bookkeeping for the
// run report.
type SpectraBundle struct {
	Table *flux.Table
	Files []SpectraFile
}

// SpectraReaderPort loads per-run spectra files into the tidy table the
// systematics engines consume. Implementations normalize flux by exposure
// and drop ignored histogram categories at read time.
type SpectraReaderPort interface {
	ReadSpectra(ctx context.Context, req SpectraRequest) (*SpectraBundle, error)
}
