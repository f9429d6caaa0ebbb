package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fluxcov/domain/flux"
	"fluxcov/internal"
	"fluxcov/internal/analysis"
	"fluxcov/internal/beam"
	"fluxcov/internal/config"
	apperrors "fluxcov/internal/errors"
	"fluxcov/internal/hadron"
	"fluxcov/internal/pca"
	"fluxcov/models"
	"fluxcov/ports"
	"fluxcov/ui"
)

// maxEigenvectorProducts caps the per-component CSV exports. The eigenvalue
// spectrum beyond the leading components carries negligible variance.
const maxEigenvectorProducts = 50

// AnalysisService orchestrates one full uncertainty-propagation run:
// spectra ingestion, hadron-production and beam-focusing systematics, PCA
// compression, total covariance assembly, product export, the run report
// and the optional results ledger.
type AnalysisService struct {
	reader  ports.SpectraReaderPort
	writer  ports.ProductsWriterPort
	results ports.ResultsRepository
	logger  *internal.Logger
}

// AnalysisRequest defines inputs for one analysis run
type AnalysisRequest struct {
	Config *config.AnalysisConfig
	// ConfigSource is the raw TOML the config was parsed from; it feeds the
	// manifest digest. Optional.
	ConfigSource []byte
	// Workers bounds the spectra read fan-out. Zero lets the reader pick.
	Workers int
}

// AnalysisResult summarizes a finished run
type AnalysisResult struct {
	RunID          uuid.UUID
	AxisLen        int
	Universes      int
	Categories     []string
	BeamCategories []string
	TotalRank      int
	Retained       int
	Warnings       int64
	WorkbookPath   string
	CSVCount       int
	ReportPath     string
	RuntimeMs      int64
}

// NewAnalysisService creates an analysis service. results may be nil when no
// ledger is configured.
func NewAnalysisService(reader ports.SpectraReaderPort, writer ports.ProductsWriterPort, results ports.ResultsRepository, logger *internal.Logger) *AnalysisService {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &AnalysisService{
		reader:  reader,
		writer:  writer,
		results: results,
		logger:  logger,
	}
}

// Run executes the pipeline end to end and returns the run manifest.
func (s *AnalysisService) Run(ctx context.Context, req AnalysisRequest) (*AnalysisResult, error) {
	if req.Config == nil {
		return nil, apperrors.ConfigInvalid("analysis request needs a configuration")
	}
	cfg := req.Config

	startTime := time.Now()
	runID := uuid.New()
	runDir := cfg.RunDirectory()
	s.logger.ResetWarnings()
	s.logger.Info("Run %s: reading spectra from %s", runID, cfg.SourcesPath)

	axis, err := flux.NewAxisFromBinning(cfg.Horns, cfg.Binning)
	if err != nil {
		return nil, apperrors.WithCode(apperrors.CodeConfigInvalid, err)
	}

	bundle, err := s.reader.ReadSpectra(ctx, ports.SpectraRequest{
		SourcesPath: cfg.SourcesPath,
		Workers:     req.Workers,
	})
	if err != nil {
		return nil, apperrors.Wrap(err, "reading spectra")
	}
	s.logger.Info("Loaded %d source files covering %d runs", len(bundle.Files), len(bundle.Table.RunIDs()))

	// Hadron production stage.
	hs, err := hadron.New(bundle.Table, axis, cfg.NominalRun, s.logger)
	if err != nil {
		return nil, err
	}
	if err := hs.Compute(); err != nil {
		return nil, err
	}

	var fits []hadron.UniverseFit
	if cfg.UniverseFit {
		if fits, err = hs.FitUniverseDistributions(); err != nil {
			return nil, apperrors.Wrap(err, "fitting universe distributions")
		}
	}

	totalFrac, err := hs.FractionalCovariance(flux.CategoryTotal)
	if err != nil {
		return nil, err
	}
	pcaResult, err := pca.Fit(totalFrac, cfg.PCAThreshold, s.logger)
	if err != nil {
		return nil, err
	}

	// Beam focusing stage; skipped when no variation runs are present.
	bs, err := s.beamStage(bundle.Table, axis, cfg)
	if err != nil {
		return nil, err
	}

	// Total covariance assembly.
	corrected, err := hs.CorrectedFlux(flux.CategoryTotal)
	if err != nil {
		return nil, err
	}
	weights, err := hs.FluxWeights()
	if err != nil {
		return nil, err
	}
	statUncert, err := bundle.Table.StatUncertSeries(axis, cfg.NominalRun, flux.CategoryNominal)
	if err != nil {
		return nil, apperrors.WithCode(apperrors.CodeInputShape,
			apperrors.Wrap(err, "statistical uncertainties for the nominal run"))
	}
	var beamTotal *flux.Matrix
	if bs != nil {
		if beamTotal, err = bs.TotalAbsoluteCovariance(); err != nil {
			return nil, err
		}
	}

	total, err := analysis.AssembleTotal(analysis.TotalInputs{
		Axis:             axis,
		CorrectedMean:    corrected.Mean,
		HadronFractional: pcaResult.Reconstructed,
		StatUncert:       statUncert,
		Weights:          weights,
		BeamTotal:        beamTotal,
	}, s.logger)
	if err != nil {
		return nil, err
	}

	elow, ehigh := summaryRange(cfg.Binning)
	summary, err := analysis.UncertaintyTable(total, cfg.Binning, cfg.Horns, elow, ehigh)
	if err != nil {
		return nil, err
	}
	descriptor, err := analysis.BinningDescriptor(axis, cfg.Binning)
	if err != nil {
		return nil, err
	}

	// Export.
	productsReq, err := buildProducts(runDir, cfg, hs, bs, pcaResult, total, summary, descriptor)
	if err != nil {
		return nil, err
	}
	written, err := s.writer.WriteProducts(ctx, productsReq)
	if err != nil {
		return nil, err
	}

	var beamCategories []string
	if bs != nil {
		beamCategories = bs.Categories()
	}
	warnings := s.logger.WarningCount()

	reportPath, _, err := ui.WriteReport(runDir, ui.ReportData{
		RunID:          runID.String(),
		GeneratedAt:    time.Now(),
		SourcesPath:    cfg.SourcesPath,
		NominalRun:     cfg.NominalRun,
		PCAThreshold:   cfg.PCAThreshold,
		AxisLen:        axis.Len(),
		Universes:      hs.Universes(),
		Warnings:       warnings,
		DurationMS:     time.Since(startTime).Milliseconds(),
		Categories:     hs.Categories(),
		BeamCategories: beamCategories,
		TotalRank:      pcaResult.TotalRank,
		Components:     productsReq.Components,
		Summaries:      productsReq.Summaries,
		Fits:           fits,
	})
	if err != nil {
		return nil, err
	}

	finished := time.Now()
	runtimeMs := finished.Sub(startTime).Milliseconds()

	if s.results != nil {
		manifest := &models.AnalysisRun{
			ID:           runID,
			ConfigDigest: configDigest(req.ConfigSource),
			NominalRun:   cfg.NominalRun,
			PCAThreshold: cfg.PCAThreshold,
			AxisLen:      axis.Len(),
			Universes:    hs.Universes(),
			Retained:     pcaResult.RetainedCount(),
			Warnings:     warnings,
			WorkbookPath: written.WorkbookPath,
			StartedAt:    startTime,
			FinishedAt:   finished,
			DurationMS:   runtimeMs,
		}
		if err := s.persist(ctx, manifest, summary); err != nil {
			return nil, err
		}
	}

	s.logger.Info("Run %s complete in %d ms: %d bins, %d universes, %d/%d components retained, %d warnings",
		runID, runtimeMs, axis.Len(), hs.Universes(), pcaResult.RetainedCount(), pcaResult.TotalRank, warnings)

	return &AnalysisResult{
		RunID:          runID,
		AxisLen:        axis.Len(),
		Universes:      hs.Universes(),
		Categories:     hs.Categories(),
		BeamCategories: beamCategories,
		TotalRank:      pcaResult.TotalRank,
		Retained:       pcaResult.RetainedCount(),
		Warnings:       warnings,
		WorkbookPath:   written.WorkbookPath,
		CSVCount:       len(written.CSVPaths),
		ReportPath:     reportPath,
		RuntimeMs:      runtimeMs,
	}, nil
}

// beamStage computes beam-focusing systematics when the spectra include
// variation runs beyond the nominal one. Categories whose runs are absent
// from the dataset are skipped, not failed: partial beam datasets are
// routine.
func (s *AnalysisService) beamStage(table *flux.Table, axis *flux.Axis, cfg *config.AnalysisConfig) (*beam.Systematics, error) {
	if !cfg.Beam.Enabled {
		s.logger.Info("Beam systematics disabled by configuration")
		return nil, nil
	}
	runIDs := table.RunIDs()
	if len(runIDs) <= 1 {
		s.logger.Info("Single-run dataset; skipping beam systematics")
		return nil, nil
	}

	present := make(map[int]bool, len(runIDs))
	for _, id := range runIDs {
		present[id] = true
	}

	available := make(map[string][]int, len(cfg.Beam.Runs))
	for category, runs := range cfg.Beam.Runs {
		complete := true
		for _, id := range runs {
			if !present[id] {
				complete = false
				break
			}
		}
		if !complete {
			s.logger.Warn("Beam category %q skipped: runs %v not all present", category, runs)
			continue
		}
		available[category] = runs
	}
	if len(available) == 0 {
		s.logger.Info("No catalogued beam variation runs present; skipping beam systematics")
		return nil, nil
	}

	specs, err := beam.ParseCatalogue(available)
	if err != nil {
		return nil, err
	}
	windows := make([]beam.Window, 0, len(cfg.Beam.Windows))
	for _, w := range cfg.Beam.Windows {
		if _, ok := available[w.Category]; ok {
			windows = append(windows, beam.Window{Category: w.Category, Low: w.Low, High: w.High})
		}
	}

	bs, err := beam.New(table, axis, cfg.Binning, beam.Params{
		NominalRun: cfg.NominalRun,
		Runs:       specs,
		Windows:    windows,
		Smoothing:  cfg.Beam.Smoothing,
	}, s.logger)
	if err != nil {
		return nil, err
	}
	if err := bs.Compute(); err != nil {
		return nil, err
	}
	return bs, nil
}

// buildProducts names every export of the run. The writer receives the full
// list and formats it; nothing here touches the filesystem.
func buildProducts(dir string, cfg *config.AnalysisConfig, hs *hadron.Systematics, bs *beam.Systematics, pcaResult *pca.Result, total *analysis.Total, summary *analysis.SummaryTable, descriptor string) (ports.ProductsRequest, error) {
	req := ports.ProductsRequest{
		Directory:    dir,
		WorkbookName: cfg.OutputFileName,
		Descriptor:   descriptor,
		Mean:         total.Prediction.Mean,
		Sigma:        total.Prediction.Sigma,
	}

	rows := make([]ports.SummaryRowProduct, 0, len(summary.Rows))
	for _, r := range summary.Rows {
		rows = append(rows, ports.SummaryRowProduct{Source: r.Source, Horn: r.Horn, Values: r.Values})
	}
	req.Summaries = []ports.SummaryProduct{{
		Title:   "uncertainty_summary",
		ELow:    summary.ELow,
		EHigh:   summary.EHigh,
		Columns: summary.Columns,
		Rows:    rows,
	}}

	for i, c := range pcaResult.Components {
		req.Components = append(req.Components, ports.ComponentProduct{
			Rank:       i,
			Eigenvalue: c.Eigenvalue,
			Fractional: c.Fractional,
			Cumulative: c.Cumulative,
		})
		if i < maxEigenvectorProducts {
			req.Vectors = append(req.Vectors,
				ports.SeriesProduct{Name: fmt.Sprintf("pca/eigenvectors/hevec_%d", i), Series: c.Evec},
				ports.SeriesProduct{Name: fmt.Sprintf("pca/principal_components/hpc_%d", i), Series: c.EvecScaled},
			)
		}
	}

	req.Matrices = append(req.Matrices,
		ports.MatrixProduct{Name: "covariance_matrices/hcov_total_abs", Matrix: total.Absolute},
		ports.MatrixProduct{Name: "covariance_matrices/hcov_total", Matrix: total.Fractional},
		ports.MatrixProduct{Name: "covariance_matrices/hcorr_total", Matrix: total.Correlation},
		ports.MatrixProduct{Name: "pca/hcov_pca", Matrix: pcaResult.Reconstructed},
	)

	req.Vectors = append(req.Vectors,
		ports.SeriesProduct{Name: "flux_prediction/hflux", Series: total.Prediction.Mean},
		ports.SeriesProduct{Name: "flux_prediction/hflux_uncert", Series: total.Prediction.Sigma},
		ports.SeriesProduct{Name: "statistical_uncertainties/hstat_abs", Series: total.StatUncert},
	)
	weights, err := hs.FluxWeights()
	if err != nil {
		return req, err
	}
	req.Vectors = append(req.Vectors,
		ports.SeriesProduct{Name: "ppfx_flux_weights/hweights", Series: weights})

	for _, category := range hs.Categories() {
		covFrac, err := hs.FractionalCovariance(category)
		if err != nil {
			return req, err
		}
		covAbs, err := hs.AbsoluteCovariance(category)
		if err != nil {
			return req, err
		}
		corr, err := hs.Correlation(category)
		if err != nil {
			return req, err
		}
		uncert, err := hs.FractionalUncertainty(category)
		if err != nil {
			return req, err
		}
		base := "covariance_matrices/hadron/" + category + "/"
		req.Matrices = append(req.Matrices,
			ports.MatrixProduct{Name: base + "hcov_" + category, Matrix: covFrac},
			ports.MatrixProduct{Name: base + "hcov_" + category + "_abs", Matrix: covAbs},
			ports.MatrixProduct{Name: base + "hcorr_" + category, Matrix: corr},
		)
		req.Vectors = append(req.Vectors, ports.SeriesProduct{
			Name:   "fractional_uncertainties/hadron/" + category + "/hfrac_hadron_" + category,
			Series: uncert,
		})
	}

	if bs != nil {
		if err := appendBeamProducts(&req, bs); err != nil {
			return req, err
		}
	}

	return req, nil
}

func appendBeamProducts(req *ports.ProductsRequest, bs *beam.Systematics) error {
	for _, category := range bs.Categories() {
		covFrac, err := bs.FractionalCovariance(category)
		if err != nil {
			return err
		}
		covAbs, err := bs.AbsoluteCovariance(category)
		if err != nil {
			return err
		}
		corr, err := bs.Correlation(category)
		if err != nil {
			return err
		}
		shift, err := bs.AbsoluteShift(category)
		if err != nil {
			return err
		}
		uncert, err := bs.FractionalUncertainty(category)
		if err != nil {
			return err
		}
		base := "covariance_matrices/beam/" + category + "/"
		req.Matrices = append(req.Matrices,
			ports.MatrixProduct{Name: base + "hcov_" + category, Matrix: covFrac},
			ports.MatrixProduct{Name: base + "hcov_" + category + "_abs", Matrix: covAbs},
			ports.MatrixProduct{Name: base + "hcorr_" + category, Matrix: corr},
		)
		req.Vectors = append(req.Vectors,
			ports.SeriesProduct{Name: "beam_systematic_shifts/hsyst_beam_" + category, Series: shift},
			ports.SeriesProduct{
				Name:   "fractional_uncertainties/beam/" + category + "/hfrac_beam_" + category,
				Series: uncert,
			},
		)
	}

	totalAbs, err := bs.TotalAbsoluteCovariance()
	if err != nil {
		return err
	}
	totalFrac, err := bs.TotalFractionalCovariance()
	if err != nil {
		return err
	}
	totalCorr, err := bs.TotalCorrelation()
	if err != nil {
		return err
	}
	totalUncert, err := bs.TotalFractionalUncertainty()
	if err != nil {
		return err
	}
	req.Matrices = append(req.Matrices,
		ports.MatrixProduct{Name: "covariance_matrices/beam/hcov_beam_total_abs", Matrix: totalAbs},
		ports.MatrixProduct{Name: "covariance_matrices/beam/hcov_beam_total", Matrix: totalFrac},
		ports.MatrixProduct{Name: "covariance_matrices/beam/hcorr_beam_total", Matrix: totalCorr},
	)
	req.Vectors = append(req.Vectors,
		ports.SeriesProduct{Name: "fractional_uncertainties/beam/hfrac_beam_total", Series: totalUncert})
	return nil
}

// persist writes the manifest and summary cells through the results ledger.
func (s *AnalysisService) persist(ctx context.Context, manifest *models.AnalysisRun, summary *analysis.SummaryTable) error {
	if err := s.results.EnsureSchema(ctx); err != nil {
		return apperrors.WithCode(apperrors.CodeDatabaseError, apperrors.Wrap(err, "ensuring ledger schema"))
	}
	if err := s.results.SaveRun(ctx, manifest); err != nil {
		return apperrors.WithCode(apperrors.CodeDatabaseError, apperrors.Wrap(err, "persisting run manifest"))
	}

	cells := make([]models.SummaryCell, 0, len(summary.Rows)*len(summary.Columns))
	for _, row := range summary.Rows {
		for i, column := range summary.Columns {
			if i >= len(row.Values) {
				break
			}
			cells = append(cells, models.SummaryCell{
				RunID:  manifest.ID,
				Source: row.Source,
				Horn:   string(row.Horn),
				Column: column,
				Value:  row.Values[i],
			})
		}
	}
	if err := s.results.SaveSummary(ctx, manifest.ID, cells); err != nil {
		return apperrors.WithCode(apperrors.CodeDatabaseError, apperrors.Wrap(err, "persisting summary table"))
	}
	s.logger.Info("Run %s persisted to the results ledger (%d summary cells)", manifest.ID, len(cells))
	return nil
}

// summaryRange is the headline integration range: the full extent of the
// muon-neutrino binning.
func summaryRange(binning *flux.Binning) (float64, float64) {
	edges := binning.Edges(flux.ModeNuMu)
	return edges[0], edges[len(edges)-1]
}

func configDigest(src []byte) string {
	if len(src) == 0 {
		return ""
	}
	sum := sha256.Sum256(src)
	return hex.EncodeToString(sum[:])
}
