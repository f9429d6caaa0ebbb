package analysis

import (
	"math"

	"fluxcov/domain/flux"
	"fluxcov/internal/covariance"
	apperrors "fluxcov/internal/errors"
)

var (
	electronModes = []flux.NeutrinoMode{flux.ModeNuE, flux.ModeNuEBar}
	muonModes     = []flux.NeutrinoMode{flux.ModeNuMu, flux.ModeNuMuBar}
)

// RangeUncertainty integrates a covariance matrix over the energy window
// [elow, ehigh) for one horn and flavor group, returning the fractional
// uncertainty of the integrated flux: sqrt(sum of the covariance sub-block)
// divided by the squared flux sum, zero when the integrated flux is zero.
func RangeUncertainty(cov *flux.Matrix, prediction *flux.Series, binning *flux.Binning, horn flux.HornPolarity, modes []flux.NeutrinoMode, elow, ehigh float64) (float64, error) {
	positions, err := groupPositions(cov.Axis, binning, horn, modes, elow, ehigh)
	if err != nil {
		return 0, err
	}
	covSum := cov.SumBlock(positions, positions)
	fluxSum := prediction.SumAt(positions)
	return sqrtClamped(covariance.SafeDivide(covSum, fluxSum*fluxSum)), nil
}

// RatioUncertainty propagates the covariance into the fractional uncertainty
// of the (nue+nuebar)/(numu+numubar) flux ratio over [elow, ehigh). Blocks
// within a flavor family enter with +1 over that family's squared flux,
// cross-family blocks with -1 over the product of the two fluxes; both
// cross directions are summed, which carries the factor 2 of the usual
// ratio error propagation.
func RatioUncertainty(cov *flux.Matrix, prediction *flux.Series, binning *flux.Binning, horn flux.HornPolarity, elow, ehigh float64) (float64, error) {
	electron, err := groupPositions(cov.Axis, binning, horn, electronModes, elow, ehigh)
	if err != nil {
		return 0, err
	}
	muon, err := groupPositions(cov.Axis, binning, horn, muonModes, elow, ehigh)
	if err != nil {
		return 0, err
	}

	electronFlux := prediction.SumAt(electron)
	muonFlux := prediction.SumAt(muon)

	variance := covariance.SafeDivide(cov.SumBlock(electron, electron), electronFlux*electronFlux) +
		covariance.SafeDivide(cov.SumBlock(muon, muon), muonFlux*muonFlux) -
		2*covariance.SafeDivide(cov.SumBlock(electron, muon), electronFlux*muonFlux)
	return sqrtClamped(variance), nil
}

// groupPositions lists the axis positions of the horn-flavor blocks whose
// bins lie inside [elow, ehigh), in axis order.
func groupPositions(axis *flux.Axis, binning *flux.Binning, horn flux.HornPolarity, modes []flux.NeutrinoMode, elow, ehigh float64) ([]int, error) {
	var out []int
	for _, mode := range modes {
		if binning.Bins(mode) == 0 {
			continue
		}
		start, stop, err := binning.BinRange(mode, elow, ehigh)
		if err != nil {
			return nil, apperrors.WithCode(apperrors.CodeConfigInvalid,
				apperrors.Wrapf(err, "energy range for %s %s", horn, mode))
		}
		for _, p := range axis.Block(horn, mode) {
			if bin := axis.At(p).Bin - 1; bin >= start && bin < stop {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

// sqrtClamped treats tiny negative variances from float cancellation as
// zero.
func sqrtClamped(v float64) float64 {
	if v < 0 {
		return 0
	}
	return math.Sqrt(v)
}
