package hadron

import (
	"fmt"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"

	"fluxcov/domain/flux"
	"fluxcov/internal"
	"fluxcov/internal/covariance"
	apperrors "fluxcov/internal/errors"
)

// CorrectedFlux pairs the per-bin universe mean and sample spread for one
// PPFX category.
type CorrectedFlux struct {
	Mean  *flux.Series
	Sigma *flux.Series
}

// Systematics derives hadron-production covariance, correlation and
// uncertainty products from the PPFX universe ensemble of the designated
// nominal run. Construction validates the inputs; Compute populates every
// derived product exactly once. Accessors fail until Compute has run.
type Systematics struct {
	table      *flux.Table
	axis       *flux.Axis
	nominalRun int
	logger     *internal.Logger

	computed bool

	categories []string
	universes  int
	corrected  map[string]CorrectedFlux
	weights    *flux.Series
	covAbs     map[string]*flux.Matrix
	covFrac    map[string]*flux.Matrix
	corr       map[string]*flux.Matrix
	fracUncert map[string]*flux.Series
}

// New validates the universe ensemble against the axis and returns an
// engine ready for Compute. The table must contain universe rows for the
// nominal run, including the "total" category, plus the nominal run's
// unweighted flux rows.
func New(table *flux.Table, axis *flux.Axis, nominalRun int, logger *internal.Logger) (*Systematics, error) {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	if table == nil || table.Len() == 0 {
		return nil, apperrors.WithCode(apperrors.CodeInputShape, flux.ErrEmptyTable)
	}
	if err := table.Validate(axis); err != nil {
		return nil, apperrors.WithCode(apperrors.CodeInputShape, err)
	}

	categories := table.UniverseCategories(nominalRun)
	if len(categories) == 0 {
		return nil, apperrors.InputShape(fmt.Sprintf("no universe ensemble found for nominal run %d", nominalRun))
	}
	hasTotal := false
	for _, c := range categories {
		if c == flux.CategoryTotal {
			hasTotal = true
			break
		}
	}
	if !hasTotal {
		return nil, apperrors.InputShape(fmt.Sprintf("universe ensemble for run %d has no %q category", nominalRun, flux.CategoryTotal))
	}
	if _, err := table.NominalSeries(axis, nominalRun, flux.CategoryNominal); err != nil {
		return nil, apperrors.WithCode(apperrors.CodeInputShape,
			apperrors.Wrapf(err, "nominal flux for run %d is incomplete", nominalRun))
	}

	return &Systematics{
		table:      table,
		axis:       axis,
		nominalRun: nominalRun,
		logger:     logger,
		categories: categories,
	}, nil
}

// Compute populates every derived product. A second call is a no-op.
func (s *Systematics) Compute() error {
	if s.computed {
		return nil
	}

	s.corrected = make(map[string]CorrectedFlux, len(s.categories))
	s.covAbs = make(map[string]*flux.Matrix, len(s.categories))
	s.covFrac = make(map[string]*flux.Matrix, len(s.categories))
	s.corr = make(map[string]*flux.Matrix, len(s.categories))
	s.fracUncert = make(map[string]*flux.Series, len(s.categories))

	for _, category := range s.categories {
		universes, _, err := s.table.UniverseMatrix(s.axis, s.nominalRun, category)
		if err != nil {
			return apperrors.WithCode(apperrors.CodeInputShape,
				apperrors.Wrapf(err, "universe table for category %q", category))
		}
		if category == flux.CategoryTotal {
			rows, _ := universes.Dims()
			s.universes = rows
		}

		corrected, err := s.columnMoments(universes)
		if err != nil {
			return err
		}
		s.corrected[category] = corrected

		covAbs, err := flux.NewMatrixFrom(s.axis, covariance.Sample(universes))
		if err != nil {
			return apperrors.Wrapf(err, "absolute covariance for category %q", category)
		}
		covFrac, err := flux.NewMatrixFrom(s.axis, covariance.Fractional(universes))
		if err != nil {
			return apperrors.Wrapf(err, "fractional covariance for category %q", category)
		}
		corr, err := flux.NewMatrixFrom(s.axis, covariance.Correlation(covAbs.Sym))
		if err != nil {
			return apperrors.Wrapf(err, "correlation for category %q", category)
		}

		s.covAbs[category] = covAbs
		s.covFrac[category] = covFrac
		s.corr[category] = corr

		uncert, err := flux.NewSeries(s.axis, covFrac.SqrtDiagonal())
		if err != nil {
			return apperrors.Wrapf(err, "fractional uncertainty for category %q", category)
		}
		s.fracUncert[category] = uncert
	}

	weights, err := s.fluxWeights()
	if err != nil {
		return err
	}
	s.weights = weights

	s.computed = true
	s.logger.Debug("Hadron systematics computed for %d categories over %d bins", len(s.categories), s.axis.Len())
	return nil
}

// columnMoments computes the per-bin universe mean and sample standard
// deviation. A single-universe ensemble has zero spread; the covariance
// path logs the degeneracy.
func (s *Systematics) columnMoments(universes *mat.Dense) (CorrectedFlux, error) {
	rows, cols := universes.Dims()

	meanVals := make([]float64, cols)
	sigmaVals := make([]float64, cols)
	for j := 0; j < cols; j++ {
		col := mat.Col(nil, j, universes)
		mean, err := stats.Mean(col)
		if err != nil {
			return CorrectedFlux{}, apperrors.WithCode(apperrors.CodeInputShape,
				apperrors.Wrapf(err, "universe mean for bin %s", s.axis.At(j)))
		}
		meanVals[j] = mean
		if rows < 2 {
			continue
		}
		sigma, err := stats.StandardDeviationSample(col)
		if err != nil {
			return CorrectedFlux{}, apperrors.WithCode(apperrors.CodeInputShape,
				apperrors.Wrapf(err, "universe spread for bin %s", s.axis.At(j)))
		}
		sigmaVals[j] = sigma
	}

	meanSeries, err := flux.NewSeries(s.axis, meanVals)
	if err != nil {
		return CorrectedFlux{}, apperrors.Wrap(err, "corrected flux mean")
	}
	sigmaSeries, err := flux.NewSeries(s.axis, sigmaVals)
	if err != nil {
		return CorrectedFlux{}, apperrors.Wrap(err, "corrected flux sigma")
	}
	return CorrectedFlux{Mean: meanSeries, Sigma: sigmaSeries}, nil
}

// fluxWeights divides the total-category corrected mean by the nominal
// unweighted flux, bin by bin. Bins with zero nominal flux get weight 0.
func (s *Systematics) fluxWeights() (*flux.Series, error) {
	total, ok := s.corrected[flux.CategoryTotal]
	if !ok {
		return nil, apperrors.InputShape("corrected flux missing the total category")
	}
	nominal, err := s.table.NominalSeries(s.axis, s.nominalRun, flux.CategoryNominal)
	if err != nil {
		return nil, apperrors.WithCode(apperrors.CodeInputShape, err)
	}

	values := make([]float64, s.axis.Len())
	for i := range values {
		values[i] = covariance.SafeDivide(total.Mean.Values[i], nominal.Values[i])
	}
	return flux.NewSeries(s.axis, values)
}

// Categories lists the PPFX categories found in the ensemble, sorted.
func (s *Systematics) Categories() []string {
	out := make([]string, len(s.categories))
	copy(out, s.categories)
	return out
}

// Axis returns the flavor-energy axis every product is indexed by.
func (s *Systematics) Axis() *flux.Axis { return s.axis }

// Universes returns the ensemble size of the total category. Zero until
// Compute has run.
func (s *Systematics) Universes() int { return s.universes }

// CorrectedFlux returns the per-bin universe mean and spread for a category.
func (s *Systematics) CorrectedFlux(category string) (CorrectedFlux, error) {
	if !s.computed {
		return CorrectedFlux{}, flux.ErrNotComputed
	}
	corrected, ok := s.corrected[category]
	if !ok {
		return CorrectedFlux{}, flux.NewUnknownCategoryError(category)
	}
	return corrected, nil
}

// FluxWeights returns the PPFX correction weights (total mean / nominal).
func (s *Systematics) FluxWeights() (*flux.Series, error) {
	if !s.computed {
		return nil, flux.ErrNotComputed
	}
	return s.weights, nil
}

// AbsoluteCovariance returns a category's covariance in raw flux units.
func (s *Systematics) AbsoluteCovariance(category string) (*flux.Matrix, error) {
	if !s.computed {
		return nil, flux.ErrNotComputed
	}
	m, ok := s.covAbs[category]
	if !ok {
		return nil, flux.NewUnknownCategoryError(category)
	}
	return m, nil
}

// FractionalCovariance returns a category's covariance of mean-normalized
// universes.
func (s *Systematics) FractionalCovariance(category string) (*flux.Matrix, error) {
	if !s.computed {
		return nil, flux.ErrNotComputed
	}
	m, ok := s.covFrac[category]
	if !ok {
		return nil, flux.NewUnknownCategoryError(category)
	}
	return m, nil
}

// Correlation returns a category's correlation matrix.
func (s *Systematics) Correlation(category string) (*flux.Matrix, error) {
	if !s.computed {
		return nil, flux.ErrNotComputed
	}
	m, ok := s.corr[category]
	if !ok {
		return nil, flux.NewUnknownCategoryError(category)
	}
	return m, nil
}

// FractionalUncertainty returns sqrt(diag) of a category's fractional
// covariance.
func (s *Systematics) FractionalUncertainty(category string) (*flux.Series, error) {
	if !s.computed {
		return nil, flux.ErrNotComputed
	}
	u, ok := s.fracUncert[category]
	if !ok {
		return nil, flux.NewUnknownCategoryError(category)
	}
	return u, nil
}
