package covariance

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"fluxcov/internal"
)

var logger = internal.DefaultLogger

// SafeDivide returns num/den, or 0 when the denominator is zero. Matrix
// arithmetic in this package never relies on IEEE NaN propagation; every
// division through a possibly-zero flux goes through here.
func SafeDivide(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// Sample computes the sample covariance matrix of a table whose rows are
// universes and whose columns are flavor-energy bins, using the N-1
// normalization. Fewer than two universes is degenerate: the zero matrix is
// returned and a warning logged.
func Sample(universes mat.Matrix) *mat.SymDense {
	rows, cols := universes.Dims()
	dst := mat.NewSymDense(cols, nil)
	if rows < 2 {
		logger.Warn("Sample covariance over %d universe(s) is degenerate, substituting zero matrix", rows)
		return dst
	}
	stat.CovarianceMatrix(dst, universes, nil)
	return dst
}

// MeanNormalize returns a copy of the universe table with every column
// divided by its own column mean. Columns with zero mean become all zero.
func MeanNormalize(universes mat.Matrix) *mat.Dense {
	rows, cols := universes.Dims()
	dst := mat.NewDense(rows, cols, nil)
	for j := 0; j < cols; j++ {
		mean := 0.0
		for i := 0; i < rows; i++ {
			mean += universes.At(i, j)
		}
		mean /= float64(rows)
		for i := 0; i < rows; i++ {
			dst.Set(i, j, SafeDivide(universes.At(i, j), mean))
		}
	}
	return dst
}

// Fractional computes the sample covariance of the mean-normalized universe
// table. This is a genuinely different quantity from rescaling the absolute
// covariance after the fact: each column is divided by its own universe mean
// before any covariance is taken.
func Fractional(universes mat.Matrix) *mat.SymDense {
	return Sample(MeanNormalize(universes))
}

// Correlation converts a covariance matrix into a correlation matrix by
// dividing through the outer product of the diagonal square roots. Entries
// whose row or column has zero variance become 0, including the diagonal.
func Correlation(cov *mat.SymDense) *mat.SymDense {
	n := cov.SymmetricDim()
	sigma := make([]float64, n)
	for i := 0; i < n; i++ {
		v := cov.At(i, i)
		if v > 0 {
			sigma[i] = math.Sqrt(v)
		}
	}
	dst := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			dst.SetSym(i, j, SafeDivide(cov.At(i, j), sigma[i]*sigma[j]))
		}
	}
	return dst
}

// Outer returns the rank-1 matrix v vᵀ. Negative zeros are normalized so
// downstream equality checks and exports see a plain 0.
func Outer(v []float64) *mat.SymDense {
	n := len(v)
	dst := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			p := v[i] * v[j]
			if p == 0 {
				p = 0 // collapse -0.0
			}
			dst.SetSym(i, j, p)
		}
	}
	return dst
}

// OuterRescale converts a fractional covariance to absolute scale by
// multiplying element-wise with the outer product of the scale vector.
func OuterRescale(frac *mat.SymDense, scale []float64) *mat.SymDense {
	n := frac.SymmetricDim()
	dst := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			dst.SetSym(i, j, frac.At(i, j)*scale[i]*scale[j])
		}
	}
	return dst
}

// FractionalFromAbsolute converts an absolute covariance to fractional scale
// by dividing element-wise through the outer product of the scale vector,
// zero-guarded.
func FractionalFromAbsolute(abs *mat.SymDense, scale []float64) *mat.SymDense {
	n := abs.SymmetricDim()
	dst := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			dst.SetSym(i, j, SafeDivide(abs.At(i, j), scale[i]*scale[j]))
		}
	}
	return dst
}

// Symmetrize maps an arbitrary square matrix onto its symmetric part
// (C + Cᵀ)/2 and clamps numerically negative diagonal entries to zero, so a
// square root of the diagonal is always defined.
func Symmetrize(m mat.Matrix) *mat.SymDense {
	rows, cols := m.Dims()
	if rows != cols {
		panic("covariance: Symmetrize requires a square matrix")
	}
	dst := mat.NewSymDense(rows, nil)
	for i := 0; i < rows; i++ {
		for j := i; j < rows; j++ {
			v := 0.5 * (m.At(i, j) + m.At(j, i))
			if i == j && v < 0 {
				v = 0
			}
			dst.SetSym(i, j, v)
		}
	}
	return dst
}
