package hadron

import (
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"fluxcov/domain/flux"
	"fluxcov/internal/covariance"
	apperrors "fluxcov/internal/errors"
)

// UniverseFit reports how Gaussian one bin's universe distribution is: the
// sample moments, the fitted Gaussian parameters, their fractional
// disagreement, and a chi-squared over the binned counts.
type UniverseFit struct {
	Key           flux.Key
	Universes     int
	UniverseMean  float64
	UniverseSigma float64
	FitMean       float64
	FitSigma      float64
	MeanFracErr   float64
	SigmaFracErr  float64
	Chi2          float64
	NDF           int
}

// Chi2PerNDF returns the reduced chi-squared, 0 when no degrees of freedom
// survive the fit.
func (f *UniverseFit) Chi2PerNDF() float64 {
	if f.NDF <= 0 {
		return 0
	}
	return f.Chi2 / float64(f.NDF)
}

// FitUniverseDistributions fits a Gaussian to the total-category universe
// distribution of every flavor-energy bin. It is a diagnostics pass: results
// feed the run report and never alter the covariance products.
func (s *Systematics) FitUniverseDistributions() ([]UniverseFit, error) {
	if !s.computed {
		return nil, flux.ErrNotComputed
	}
	universes, _, err := s.table.UniverseMatrix(s.axis, s.nominalRun, flux.CategoryTotal)
	if err != nil {
		return nil, apperrors.WithCode(apperrors.CodeInputShape,
			apperrors.Wrap(err, "universe table for fit diagnostics"))
	}

	_, cols := universes.Dims()
	fits := make([]UniverseFit, cols)
	for j := 0; j < cols; j++ {
		col := mat.Col(nil, j, universes)
		fits[j] = fitUniverseColumn(s.axis.At(j), col)
	}
	return fits, nil
}

// fitUniverseColumn histograms one bin's universes into ceil(sqrt(N))+2 bins
// spanning [min, max] and fits a Gaussian by weighted least squares on the
// log counts (Caruana's parabola, count-squared weights). Degenerate columns
// fall back to the sample moments with zero degrees of freedom.
func fitUniverseColumn(key flux.Key, values []float64) UniverseFit {
	fit := UniverseFit{Key: key, Universes: len(values)}

	mean, err := stats.Mean(values)
	if err != nil {
		return fit
	}
	fit.UniverseMean = mean
	fit.FitMean = mean
	if len(values) < 2 {
		return fit
	}
	sigma, err := stats.StandardDeviationSample(values)
	if err != nil || sigma == 0 {
		return fit
	}
	fit.UniverseSigma = sigma
	fit.FitSigma = sigma

	lo, _ := stats.Min(values)
	hi, _ := stats.Max(values)
	if hi <= lo {
		return fit
	}

	nbins := int(math.Ceil(math.Sqrt(float64(len(values))))) + 2
	width := (hi - lo) / float64(nbins)
	counts := make([]float64, nbins)
	for _, v := range values {
		idx := int((v - lo) / width)
		if idx >= nbins {
			idx = nbins - 1
		}
		counts[idx]++
	}

	centers := make([]float64, nbins)
	for i := range centers {
		centers[i] = lo + (float64(i)+0.5)*width
	}

	if mu, sg, ok := caruanaFit(centers, counts); ok {
		fit.FitMean = mu
		fit.FitSigma = sg
	}

	fit.MeanFracErr = covariance.SafeDivide(math.Abs(fit.FitMean-fit.UniverseMean), math.Abs(fit.UniverseMean))
	fit.SigmaFracErr = covariance.SafeDivide(math.Abs(fit.FitSigma-fit.UniverseSigma), fit.UniverseSigma)
	fit.Chi2, fit.NDF = binnedChi2(counts, lo, width, float64(len(values)), fit.FitMean, fit.FitSigma)

	return fit
}

// caruanaFit solves the weighted normal equations of the parabola
// ln y = a + b x + c x², weighting each point by y² so low-count bins do not
// dominate the log scale. A Gaussian requires c < 0; mean = -b/(2c) and
// sigma = sqrt(-1/(2c)).
func caruanaFit(x, y []float64) (mu, sigma float64, ok bool) {
	var m [3][3]float64
	var r [3]float64
	points := 0
	for i := range x {
		if y[i] <= 0 {
			continue
		}
		points++
		w := y[i] * y[i]
		logy := math.Log(y[i])
		powers := [5]float64{1, x[i], x[i] * x[i], 0, 0}
		powers[3] = powers[2] * x[i]
		powers[4] = powers[3] * x[i]
		for a := 0; a < 3; a++ {
			for b := 0; b < 3; b++ {
				m[a][b] += w * powers[a+b]
			}
			r[a] += w * logy * powers[a]
		}
	}
	if points < 3 {
		return 0, 0, false
	}

	normal := mat.NewDense(3, 3, []float64{
		m[0][0], m[0][1], m[0][2],
		m[1][0], m[1][1], m[1][2],
		m[2][0], m[2][1], m[2][2],
	})
	rhs := mat.NewVecDense(3, r[:])

	var coef mat.VecDense
	if err := coef.SolveVec(normal, rhs); err != nil {
		return 0, 0, false
	}

	b, c := coef.AtVec(1), coef.AtVec(2)
	if c >= 0 {
		return 0, 0, false
	}
	mu = -b / (2 * c)
	sigma = math.Sqrt(-1 / (2 * c))
	if math.IsNaN(mu) || math.IsInf(mu, 0) || math.IsNaN(sigma) || math.IsInf(sigma, 0) {
		return 0, 0, false
	}
	return mu, sigma, true
}

// binnedChi2 compares observed bin counts with the counts expected from the
// fitted Gaussian, integrating the density over each bin. Three parameters
// are charged against the degrees of freedom.
func binnedChi2(counts []float64, lo, width, n, mu, sigma float64) (float64, int) {
	if sigma <= 0 {
		return 0, 0
	}
	dist := distuv.Normal{Mu: mu, Sigma: sigma}

	const minExpected = 1e-9
	chi2 := 0.0
	used := 0
	for i, observed := range counts {
		lower := lo + float64(i)*width
		expected := n * (dist.CDF(lower+width) - dist.CDF(lower))
		if expected < minExpected {
			continue
		}
		delta := observed - expected
		chi2 += delta * delta / expected
		used++
	}
	ndf := used - 3
	if ndf < 0 {
		ndf = 0
	}
	return chi2, ndf
}
