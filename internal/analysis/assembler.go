package analysis

import (
	"gonum.org/v1/gonum/mat"

	"fluxcov/domain/flux"
	"fluxcov/internal"
	"fluxcov/internal/covariance"
	apperrors "fluxcov/internal/errors"
)

// TotalInputs carries the per-source products the total covariance is
// assembled from. BeamTotal may be nil when no beam variation data was
// supplied; the beam contribution is then a zero matrix.
type TotalInputs struct {
	Axis *flux.Axis
	// CorrectedMean is the universe-mean flux of the hadron total category.
	CorrectedMean *flux.Series
	// HadronFractional is the PCA-reconstructed fractional covariance of
	// the hadron total category.
	HadronFractional *flux.Matrix
	// StatUncert is the nominal sample's statistical uncertainty per bin,
	// before re-weighting.
	StatUncert *flux.Series
	// Weights rescales the nominal sample to the corrected flux.
	Weights *flux.Series
	// BeamTotal is the beam-focusing covariance in absolute scale.
	BeamTotal *flux.Matrix
}

// FluxPrediction pairs the corrected mean flux with the total uncertainty
// per bin.
type FluxPrediction struct {
	Mean  *flux.Series
	Sigma *flux.Series
}

// Total is the assembled covariance in absolute scale together with its
// fractional and correlation views, the per-source terms that went into it,
// and the resulting flux prediction.
type Total struct {
	Axis           *flux.Axis
	Absolute       *flux.Matrix
	Fractional     *flux.Matrix
	Correlation    *flux.Matrix
	HadronAbsolute *flux.Matrix
	Statistical    *flux.Matrix
	Beam           *flux.Matrix
	StatUncert     *flux.Series
	Prediction     FluxPrediction
}

// HasBeam reports whether a beam contribution was part of the sum.
func (t *Total) HasBeam() bool { return t.Beam != nil }

// AssembleTotal sums the hadron, statistical and beam contributions in
// absolute scale. The hadron term is the fractional covariance rescaled by
// the corrected mean flux; the statistical term is a diagonal matrix of the
// squared re-weighted statistical uncertainties.
func AssembleTotal(in TotalInputs, logger *internal.Logger) (*Total, error) {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	if err := validateInputs(in); err != nil {
		return nil, err
	}

	mean := in.CorrectedMean.Values
	n := in.Axis.Len()

	weighted := make([]float64, n)
	statDiag := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		weighted[i] = in.StatUncert.Values[i] * in.Weights.Values[i]
		statDiag.SetSym(i, i, weighted[i]*weighted[i])
	}
	statUncert, err := flux.NewSeries(in.Axis, weighted)
	if err != nil {
		return nil, apperrors.Wrap(err, "weighted statistical uncertainty")
	}
	statistical, err := flux.NewMatrixFrom(in.Axis, statDiag)
	if err != nil {
		return nil, apperrors.Wrap(err, "statistical covariance")
	}

	hadronAbs, err := flux.NewMatrixFrom(in.Axis,
		covariance.OuterRescale(in.HadronFractional.Sym, mean))
	if err != nil {
		return nil, apperrors.Wrap(err, "hadron covariance rescale")
	}

	total := hadronAbs.Clone()
	if err := total.Add(statistical); err != nil {
		return nil, apperrors.Wrap(err, "adding statistical covariance")
	}
	if in.BeamTotal != nil {
		if err := total.Add(in.BeamTotal); err != nil {
			return nil, apperrors.Wrap(err, "adding beam covariance")
		}
	}

	fractional, err := flux.NewMatrixFrom(in.Axis,
		covariance.FractionalFromAbsolute(total.Sym, mean))
	if err != nil {
		return nil, apperrors.Wrap(err, "total fractional covariance")
	}
	correlation, err := flux.NewMatrixFrom(in.Axis, covariance.Correlation(total.Sym))
	if err != nil {
		return nil, apperrors.Wrap(err, "total correlation")
	}
	sigma, err := flux.NewSeries(in.Axis, total.SqrtDiagonal())
	if err != nil {
		return nil, apperrors.Wrap(err, "total flux uncertainty")
	}

	logger.Debug("Total covariance assembled over %d bins (beam present: %v)", n, in.BeamTotal != nil)

	return &Total{
		Axis:           in.Axis,
		Absolute:       total,
		Fractional:     fractional,
		Correlation:    correlation,
		HadronAbsolute: hadronAbs,
		Statistical:    statistical,
		Beam:           in.BeamTotal,
		StatUncert:     statUncert,
		Prediction:     FluxPrediction{Mean: in.CorrectedMean, Sigma: sigma},
	}, nil
}

func validateInputs(in TotalInputs) error {
	if in.Axis == nil || in.Axis.Len() == 0 {
		return apperrors.InputShape("total covariance needs a non-empty axis")
	}
	if in.CorrectedMean == nil || in.HadronFractional == nil || in.StatUncert == nil || in.Weights == nil {
		return apperrors.InputShape("total covariance needs the corrected mean, hadron covariance, statistical uncertainties and flux weights")
	}
	for _, axis := range []*flux.Axis{
		in.CorrectedMean.Axis,
		in.HadronFractional.Axis,
		in.StatUncert.Axis,
		in.Weights.Axis,
	} {
		if !in.Axis.Equal(axis) {
			return apperrors.WithCode(apperrors.CodeInputShape, flux.ErrAxisMismatch)
		}
	}
	if in.BeamTotal != nil && !in.Axis.Equal(in.BeamTotal.Axis) {
		return apperrors.WithCode(apperrors.CodeInputShape, flux.ErrAxisMismatch)
	}
	return nil
}
