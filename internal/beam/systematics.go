package beam

import (
	"fmt"

	"fluxcov/domain/flux"
	"fluxcov/internal"
	"fluxcov/internal/covariance"
	apperrors "fluxcov/internal/errors"
)

// CategoryBeamPower is the beam category tracked and reported on its own but
// excluded from the total beam-focusing covariance. Downstream consumers
// treat beam power as an independent, non-focusing systematic.
const CategoryBeamPower = "beam_power"

// Window zeroes a category's shifts outside a physically relevant energy
// range. Bins whose lower edge falls outside [Low, High) are forced to zero,
// independently per beam polarity and neutrino flavor.
type Window struct {
	Category string
	Low      float64
	High     float64
}

// Params selects the runs, zeroing windows and smoothing policy for one
// beam-focusing analysis.
type Params struct {
	// NominalRun identifies the reference beamline configuration every
	// other run is shifted against.
	NominalRun int
	// Runs is the category to run catalogue. Runs absent from it are
	// dropped before any shift arithmetic.
	Runs map[string]RunSpec
	// Windows lists the per-category zeroing windows.
	Windows []Window
	// Smoothing runs the 353QH-twice smoother over each fractional shift
	// before covariances are formed.
	Smoothing bool
}

// Systematics derives the beam-focusing covariance, correlation and
// uncertainty products from a catalogue of discrete beamline configuration
// runs. Each category contributes exactly one shift vector against the
// nominal run, so its covariance is the rank-1 outer product of that vector
// with itself. Construction validates the inputs; Compute populates every
// derived product exactly once. Accessors fail until Compute has run.
type Systematics struct {
	table   *flux.Table
	axis    *flux.Axis
	binning *flux.Binning
	params  Params
	logger  *internal.Logger

	computed bool

	categories  []string
	nominal     *flux.Series
	shiftAbs    map[string]*flux.Series
	shiftFrac   map[string]*flux.Series
	covAbs      map[string]*flux.Matrix
	covFrac     map[string]*flux.Matrix
	corr        map[string]*flux.Matrix
	fracUncert  map[string]*flux.Series
	totalAbs    *flux.Matrix
	totalFrac   *flux.Matrix
	totalCorr   *flux.Matrix
	totalUncert *flux.Series
}

// New validates the run table against the axis and the catalogue against the
// run table, and returns an engine ready for Compute. Every catalogue run,
// and the nominal run, must have a complete nominal flux row set.
func New(table *flux.Table, axis *flux.Axis, binning *flux.Binning, params Params, logger *internal.Logger) (*Systematics, error) {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	if table == nil || table.Len() == 0 {
		return nil, apperrors.WithCode(apperrors.CodeInputShape, flux.ErrEmptyTable)
	}
	if err := table.Validate(axis); err != nil {
		return nil, apperrors.WithCode(apperrors.CodeInputShape, err)
	}
	if binning == nil {
		return nil, apperrors.ConfigInvalid("beam systematics needs an energy binning")
	}
	if _, err := table.NominalSeries(axis, params.NominalRun, flux.CategoryNominal); err != nil {
		return nil, apperrors.WithCode(apperrors.CodeInputShape,
			apperrors.Wrapf(err, "nominal flux for run %d is incomplete", params.NominalRun))
	}
	if len(params.Runs) == 0 {
		return nil, apperrors.ConfigInvalid("beam run catalogue is empty")
	}
	for _, category := range sortedCategories(params.Runs) {
		for _, runID := range params.Runs[category].RunIDs() {
			if runID == params.NominalRun {
				return nil, apperrors.ConfigInvalid(
					fmt.Sprintf("beam category %q maps to the nominal run %d", category, runID))
			}
			if _, err := table.NominalSeries(axis, runID, flux.CategoryNominal); err != nil {
				return nil, apperrors.WithCode(apperrors.CodeConfigInvalid,
					apperrors.Wrapf(err, "beam category %q references run %d", category, runID))
			}
		}
	}
	if err := validateWindows(params, binning); err != nil {
		return nil, err
	}

	return &Systematics{
		table:      table,
		axis:       axis,
		binning:    binning,
		params:     params,
		logger:     logger,
		categories: sortedCategories(params.Runs),
	}, nil
}

// validateWindows rejects windows for unlisted categories and windows that
// select no bins in any flavor.
func validateWindows(params Params, binning *flux.Binning) error {
	for _, w := range params.Windows {
		if _, ok := params.Runs[w.Category]; !ok {
			return apperrors.ConfigInvalid(
				fmt.Sprintf("zeroing window names category %q, which has no run mapping", w.Category))
		}
		matched := false
		for _, mode := range binning.Modes() {
			start, stop, err := binning.BinRange(mode, w.Low, w.High)
			if err != nil {
				return apperrors.WithCode(apperrors.CodeConfigInvalid,
					apperrors.Wrapf(err, "zeroing window for category %q", w.Category))
			}
			if stop > start {
				matched = true
			}
		}
		if !matched {
			return apperrors.ConfigInvalid(
				fmt.Sprintf("zeroing window [%g, %g) for category %q matches no energy bins", w.Low, w.High, w.Category))
		}
	}
	return nil
}

// Compute populates every derived product. A second call is a no-op.
func (s *Systematics) Compute() error {
	if s.computed {
		return nil
	}

	nominal, err := s.table.NominalSeries(s.axis, s.params.NominalRun, flux.CategoryNominal)
	if err != nil {
		return apperrors.WithCode(apperrors.CodeInputShape, err)
	}
	s.nominal = nominal

	runShifts, err := s.runShifts()
	if err != nil {
		return err
	}

	s.shiftAbs = make(map[string]*flux.Series, len(s.categories))
	s.shiftFrac = make(map[string]*flux.Series, len(s.categories))
	s.covAbs = make(map[string]*flux.Matrix, len(s.categories))
	s.covFrac = make(map[string]*flux.Matrix, len(s.categories))
	s.corr = make(map[string]*flux.Matrix, len(s.categories))
	s.fracUncert = make(map[string]*flux.Series, len(s.categories))

	for _, category := range s.categories {
		shift, err := s.params.Runs[category].CombineShifts(runShifts)
		if err != nil {
			return apperrors.Wrapf(err, "combining shifts for category %q", category)
		}
		if err := s.zeroOutsideWindows(category, shift); err != nil {
			return err
		}
		s.shiftAbs[category] = shift

		frac, err := s.fractionalShift(shift)
		if err != nil {
			return apperrors.Wrapf(err, "fractional shift for category %q", category)
		}
		s.shiftFrac[category] = frac

		covAbs, err := flux.NewMatrixFrom(s.axis, covariance.Outer(shift.Values))
		if err != nil {
			return apperrors.Wrapf(err, "absolute covariance for category %q", category)
		}
		covFrac, err := flux.NewMatrixFrom(s.axis,
			covariance.FractionalFromAbsolute(covAbs.Sym, nominal.Values))
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

	if err := s.assembleTotal(); err != nil {
		return err
	}

	s.computed = true
	s.logger.Debug("Beam systematics computed for %d categories over %d bins", len(s.categories), s.axis.Len())
	return nil
}

// runShifts computes the absolute shift of every catalogued run against the
// nominal flux. When smoothing is on, each fractional shift is smoothed per
// polarity-flavor block and converted back to absolute scale; the zeroing
// windows are applied afterwards, so smoothing never leaks signal into a
// zeroed bin.
func (s *Systematics) runShifts() (map[int]*flux.Series, error) {
	ids := make(map[int]struct{})
	for _, spec := range s.params.Runs {
		for _, id := range spec.RunIDs() {
			ids[id] = struct{}{}
		}
	}

	shifts := make(map[int]*flux.Series, len(ids))
	for id := range ids {
		run, err := s.table.NominalSeries(s.axis, id, flux.CategoryNominal)
		if err != nil {
			return nil, apperrors.WithCode(apperrors.CodeConfigInvalid,
				apperrors.Wrapf(err, "beam run %d", id))
		}
		values := make([]float64, s.axis.Len())
		for i := range values {
			values[i] = run.Values[i] - s.nominal.Values[i]
		}
		if s.params.Smoothing {
			s.smoothShift(values)
		}
		shift, err := flux.NewSeries(s.axis, values)
		if err != nil {
			return nil, apperrors.Wrapf(err, "shift for beam run %d", id)
		}
		shifts[id] = shift
	}
	return shifts, nil
}

// smoothShift runs the 353QH-twice smoother over each polarity-flavor block
// of the fractional shift, then converts back to absolute scale in place.
func (s *Systematics) smoothShift(absolute []float64) {
	for _, horn := range s.axis.Horns() {
		for _, mode := range flux.AllNeutrinoModes() {
			block := s.axis.Block(horn, mode)
			if len(block) < 3 {
				continue
			}
			frac := make([]float64, len(block))
			for k, p := range block {
				frac[k] = covariance.SafeDivide(absolute[p], s.nominal.Values[p])
			}
			Smooth353QH(frac)
			for k, p := range block {
				absolute[p] = frac[k] * s.nominal.Values[p]
			}
		}
	}
}

// zeroOutsideWindows forces the category's shift to zero in every bin whose
// lower energy edge falls outside a configured window for that category,
// independently per polarity and flavor. Categories without a window keep
// every bin.
func (s *Systematics) zeroOutsideWindows(category string, shift *flux.Series) error {
	for _, w := range s.params.Windows {
		if w.Category != category {
			continue
		}
		for _, horn := range s.axis.Horns() {
			for _, mode := range s.binning.Modes() {
				start, stop, err := s.binning.BinRange(mode, w.Low, w.High)
				if err != nil {
					return apperrors.WithCode(apperrors.CodeConfigInvalid,
						apperrors.Wrapf(err, "zeroing window for category %q", category))
				}
				for _, p := range s.axis.Block(horn, mode) {
					bin := s.axis.At(p).Bin - 1
					if bin < start || bin >= stop {
						shift.Values[p] = 0
					}
				}
			}
		}
	}
	return nil
}

// fractionalShift divides the absolute shift by the nominal flux, bin by
// bin, emitting 0 wherever the nominal flux is 0.
func (s *Systematics) fractionalShift(shift *flux.Series) (*flux.Series, error) {
	values := make([]float64, len(shift.Values))
	for i, v := range shift.Values {
		f := covariance.SafeDivide(v, s.nominal.Values[i])
		if f == 0 {
			f = 0 // collapse -0.0
		}
		values[i] = f
	}
	return flux.NewSeries(s.axis, values)
}

// assembleTotal sums the per-category absolute covariances, leaving out the
// beam power category, and derives the fractional, correlation and
// uncertainty views of the sum.
func (s *Systematics) assembleTotal() error {
	total := flux.NewMatrix(s.axis)
	for _, category := range s.categories {
		if category == CategoryBeamPower {
			continue
		}
		if err := total.Add(s.covAbs[category]); err != nil {
			return apperrors.Wrapf(err, "total beam covariance at category %q", category)
		}
	}
	s.totalAbs = total

	totalFrac, err := flux.NewMatrixFrom(s.axis,
		covariance.FractionalFromAbsolute(total.Sym, s.nominal.Values))
	if err != nil {
		return apperrors.Wrap(err, "total fractional beam covariance")
	}
	totalCorr, err := flux.NewMatrixFrom(s.axis, covariance.Correlation(total.Sym))
	if err != nil {
		return apperrors.Wrap(err, "total beam correlation")
	}
	totalUncert, err := flux.NewSeries(s.axis, totalFrac.SqrtDiagonal())
	if err != nil {
		return apperrors.Wrap(err, "total beam fractional uncertainty")
	}
	s.totalFrac = totalFrac
	s.totalCorr = totalCorr
	s.totalUncert = totalUncert
	return nil
}

// Categories lists the catalogued beam categories, sorted.
func (s *Systematics) Categories() []string {
	out := make([]string, len(s.categories))
	copy(out, s.categories)
	return out
}

// Axis returns the flavor-energy axis every product is indexed by.
func (s *Systematics) Axis() *flux.Axis { return s.axis }

// NominalFlux returns the nominal run's flux.
func (s *Systematics) NominalFlux() (*flux.Series, error) {
	if !s.computed {
		return nil, flux.ErrNotComputed
	}
	return s.nominal, nil
}

// AbsoluteShift returns a category's shift against the nominal flux, after
// averaging, smoothing and zeroing.
func (s *Systematics) AbsoluteShift(category string) (*flux.Series, error) {
	if !s.computed {
		return nil, flux.ErrNotComputed
	}
	shift, ok := s.shiftAbs[category]
	if !ok {
		return nil, flux.NewUnknownCategoryError(category)
	}
	return shift, nil
}

// FractionalShift returns a category's shift relative to the nominal flux.
func (s *Systematics) FractionalShift(category string) (*flux.Series, error) {
	if !s.computed {
		return nil, flux.ErrNotComputed
	}
	shift, ok := s.shiftFrac[category]
	if !ok {
		return nil, flux.NewUnknownCategoryError(category)
	}
	return shift, nil
}

// AbsoluteCovariance returns a category's rank-1 covariance in absolute
// scale.
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

// FractionalCovariance returns a category's covariance relative to the
// nominal flux.
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

// FractionalUncertainty returns the square root of the diagonal of a
// category's fractional covariance.
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

// TotalAbsoluteCovariance returns the summed covariance of every category
// except beam power.
func (s *Systematics) TotalAbsoluteCovariance() (*flux.Matrix, error) {
	if !s.computed {
		return nil, flux.ErrNotComputed
	}
	return s.totalAbs, nil
}

// TotalFractionalCovariance returns the total covariance relative to the
// nominal flux.
func (s *Systematics) TotalFractionalCovariance() (*flux.Matrix, error) {
	if !s.computed {
		return nil, flux.ErrNotComputed
	}
	return s.totalFrac, nil
}

// TotalCorrelation returns the correlation matrix of the total covariance.
func (s *Systematics) TotalCorrelation() (*flux.Matrix, error) {
	if !s.computed {
		return nil, flux.ErrNotComputed
	}
	return s.totalCorr, nil
}

// TotalFractionalUncertainty returns the square root of the diagonal of the
// total fractional covariance.
func (s *Systematics) TotalFractionalUncertainty() (*flux.Series, error) {
	if !s.computed {
		return nil, flux.ErrNotComputed
	}
	return s.totalUncert, nil
}
