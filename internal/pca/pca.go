package pca

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"fluxcov/domain/flux"
	"fluxcov/internal"
	"fluxcov/internal/covariance"
	apperrors "fluxcov/internal/errors"
)

// retentionTolerance keeps the component whose cumulative variance share
// lands on the threshold itself, so a threshold of 1 retains every
// positive-eigenvalue component despite rounding in the running sum.
const retentionTolerance = 1e-12

// Component is one retained principal component of a fractional covariance
// matrix. EvecScaled is the eigenvector weighted by sqrt(eigenvalue), the
// systematic shift the component contributes in fractional flux units.
type Component struct {
	Eigenvalue float64
	Fractional float64
	Cumulative float64
	Evec       *flux.Series
	EvecScaled *flux.Series
}

// Result carries the retained components, in descending eigenvalue order,
// and the covariance matrix reconstructed from them alone.
type Result struct {
	Axis          *flux.Axis
	Components    []Component
	TotalRank     int
	Reconstructed *flux.Matrix
}

// RetainedCount returns the number of components that survived the
// threshold and positivity cuts.
func (r *Result) RetainedCount() int { return len(r.Components) }

// Fit eigendecomposes a fractional covariance matrix and keeps the leading
// components: those with positive eigenvalue whose cumulative variance share
// is still under the threshold. Numerically negative eigenvalues are dropped
// by the positivity cut instead of failing the fit. The reconstruction is
// V·diag(λ)·Vᵀ over the retained set; at threshold 1 on a positive
// semi-definite input it reproduces the input matrix.
func Fit(cov *flux.Matrix, threshold float64, logger *internal.Logger) (*Result, error) {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	if cov == nil || cov.Dim() == 0 {
		return nil, apperrors.InputShape("pca needs a non-empty covariance matrix")
	}
	if threshold <= 0 || threshold > 1 {
		return nil, apperrors.ConfigInvalid(fmt.Sprintf("pca threshold must be in (0, 1], got %g", threshold))
	}

	var eigen mat.EigenSym
	if ok := eigen.Factorize(cov.Sym, true); !ok {
		return nil, apperrors.SingularMatrix("eigendecomposition of the covariance matrix did not converge")
	}

	n := cov.Dim()
	ascending := eigen.Values(nil)
	var vectors mat.Dense
	eigen.VectorsTo(&vectors)

	var sum float64
	for _, v := range ascending {
		sum += v
	}

	// the solver emits ascending eigenvalues; walk the columns backwards
	components := make([]Component, 0, n)
	var cumulative float64
	for i := 0; i < n; i++ {
		col := n - 1 - i
		value := ascending[col]
		fractional := covariance.SafeDivide(value, sum)
		cumulative += fractional
		if value <= 0 || cumulative >= threshold+retentionTolerance {
			continue
		}

		evec := mat.Col(nil, col, &vectors)
		scaled := make([]float64, n)
		root := math.Sqrt(value)
		for k, v := range evec {
			scaled[k] = root * v
		}
		evecSeries, err := flux.NewSeries(cov.Axis, evec)
		if err != nil {
			return nil, apperrors.Wrapf(err, "eigenvector for component %d", i)
		}
		scaledSeries, err := flux.NewSeries(cov.Axis, scaled)
		if err != nil {
			return nil, apperrors.Wrapf(err, "scaled eigenvector for component %d", i)
		}
		components = append(components, Component{
			Eigenvalue: value,
			Fractional: fractional,
			Cumulative: cumulative,
			Evec:       evecSeries,
			EvecScaled: scaledSeries,
		})
	}

	reconstructed, err := reconstruct(cov.Axis, components)
	if err != nil {
		return nil, err
	}

	if len(components) == 0 {
		logger.Warn("PCA retained no components of %d; reconstructed covariance is zero", n)
	} else {
		logger.Debug("PCA retained %d of %d components at threshold %g", len(components), n, threshold)
	}

	return &Result{
		Axis:          cov.Axis,
		Components:    components,
		TotalRank:     n,
		Reconstructed: reconstructed,
	}, nil
}

// reconstruct multiplies the retained scaled eigenvectors against their own
// transpose, which is V·diag(λ)·Vᵀ for positive eigenvalues.
func reconstruct(axis *flux.Axis, components []Component) (*flux.Matrix, error) {
	n := axis.Len()
	if len(components) == 0 {
		return flux.NewMatrix(axis), nil
	}

	scaled := mat.NewDense(n, len(components), nil)
	for j, c := range components {
		scaled.SetCol(j, c.EvecScaled.Values)
	}
	var product mat.Dense
	product.Mul(scaled, scaled.T())

	return flux.NewMatrixFrom(axis, covariance.Symmetrize(&product))
}
