package pca

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"fluxcov/domain/flux"
	apperrors "fluxcov/internal/errors"
)

func twoBinAxis(t *testing.T) *flux.Axis {
	t.Helper()
	axis, err := flux.NewAxis([]flux.Key{
		{Horn: flux.HornFHC, Mode: flux.ModeNuE, Bin: 1},
		{Horn: flux.HornFHC, Mode: flux.ModeNuE, Bin: 2},
	})
	if err != nil {
		t.Fatalf("Failed to build axis: %v", err)
	}
	return axis
}

func symMatrix(t *testing.T, axis *flux.Axis, data []float64) *flux.Matrix {
	t.Helper()
	m, err := flux.NewMatrixFrom(axis, mat.NewSymDense(axis.Len(), data))
	if err != nil {
		t.Fatalf("Failed to build matrix: %v", err)
	}
	return m
}

func TestFit_RoundTripAtFullThreshold(t *testing.T) {
	axis := twoBinAxis(t)
	cov := symMatrix(t, axis, []float64{1, 0.5, 0.5, 1})

	result, err := Fit(cov, 1.0, nil)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	if result.RetainedCount() != 2 || result.TotalRank != 2 {
		t.Fatalf("Expected 2 of 2 components retained, got %d of %d", result.RetainedCount(), result.TotalRank)
	}
	if math.Abs(result.Components[0].Eigenvalue-1.5) > 1e-12 {
		t.Errorf("Expected leading eigenvalue 1.5, got %g", result.Components[0].Eigenvalue)
	}
	if math.Abs(result.Components[1].Eigenvalue-0.5) > 1e-12 {
		t.Errorf("Expected trailing eigenvalue 0.5, got %g", result.Components[1].Eigenvalue)
	}
	if math.Abs(result.Components[0].Fractional-0.75) > 1e-12 {
		t.Errorf("Expected leading variance share 0.75, got %g", result.Components[0].Fractional)
	}
	if math.Abs(result.Components[1].Cumulative-1.0) > 1e-12 {
		t.Errorf("Expected full cumulative share, got %g", result.Components[1].Cumulative)
	}

	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if math.Abs(result.Reconstructed.At(i, j)-cov.At(i, j)) > 1e-9 {
				t.Errorf("Expected round-trip identity at (%d,%d): want %g, got %g",
					i, j, cov.At(i, j), result.Reconstructed.At(i, j))
			}
		}
	}
}

func TestFit_ThresholdDropsVarianceTail(t *testing.T) {
	axis := twoBinAxis(t)
	cov := symMatrix(t, axis, []float64{1, 0.5, 0.5, 1})

	result, err := Fit(cov, 0.8, nil)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	if result.RetainedCount() != 1 {
		t.Fatalf("Expected only the leading component, got %d", result.RetainedCount())
	}
	if math.Abs(result.Components[0].Eigenvalue-1.5) > 1e-12 {
		t.Errorf("Expected eigenvalue 1.5, got %g", result.Components[0].Eigenvalue)
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if math.Abs(result.Reconstructed.At(i, j)-0.75) > 1e-9 {
				t.Errorf("Expected rank-1 reconstruction 0.75 at (%d,%d), got %g",
					i, j, result.Reconstructed.At(i, j))
			}
		}
	}
}

func TestFit_NegativeEigenvalueExcluded(t *testing.T) {
	axis := twoBinAxis(t)
	cov := symMatrix(t, axis, []float64{0, 1, 1, 0})

	result, err := Fit(cov, 1.0, nil)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	if result.RetainedCount() != 1 {
		t.Fatalf("Expected the negative eigenvalue to be dropped, got %d components", result.RetainedCount())
	}
	if math.Abs(result.Components[0].Eigenvalue-1.0) > 1e-12 {
		t.Errorf("Expected the positive eigenvalue 1, got %g", result.Components[0].Eigenvalue)
	}
	if result.Components[0].Fractional != 0 {
		t.Errorf("Expected the zero eigenvalue sum to be guarded to share 0, got %g", result.Components[0].Fractional)
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if math.Abs(result.Reconstructed.At(i, j)-0.5) > 1e-9 {
				t.Errorf("Expected reconstruction 0.5 at (%d,%d), got %g", i, j, result.Reconstructed.At(i, j))
			}
		}
	}
}

func TestFit_ZeroMatrixRetainsNothing(t *testing.T) {
	axis := twoBinAxis(t)
	cov := symMatrix(t, axis, []float64{0, 0, 0, 0})

	result, err := Fit(cov, 1.0, nil)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if result.RetainedCount() != 0 {
		t.Fatalf("Expected no components from a zero matrix, got %d", result.RetainedCount())
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if result.Reconstructed.At(i, j) != 0 {
				t.Errorf("Expected a zero reconstruction, got %g at (%d,%d)", result.Reconstructed.At(i, j), i, j)
			}
		}
	}
}

func TestFit_ScaledEigenvectorWeights(t *testing.T) {
	axis := twoBinAxis(t)
	cov := symMatrix(t, axis, []float64{2, 0.3, 0.3, 1})

	result, err := Fit(cov, 1.0, nil)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	for n, component := range result.Components {
		root := math.Sqrt(component.Eigenvalue)
		var norm float64
		for i, v := range component.Evec.Values {
			norm += v * v
			if math.Abs(component.EvecScaled.Values[i]-root*v) > 1e-12 {
				t.Errorf("Expected component %d weight sqrt(lambda)*v at bin %d, got %g",
					n, i, component.EvecScaled.Values[i])
			}
		}
		if math.Abs(norm-1) > 1e-12 {
			t.Errorf("Expected component %d eigenvector to be unit norm, got %g", n, norm)
		}
	}
}

func TestFit_Rejections(t *testing.T) {
	axis := twoBinAxis(t)
	cov := symMatrix(t, axis, []float64{1, 0, 0, 1})

	if _, err := Fit(nil, 1.0, nil); apperrors.GetCode(err) != apperrors.CodeInputShape {
		t.Errorf("Expected INPUT_SHAPE for a nil matrix, got %v", err)
	}
	if _, err := Fit(cov, 0, nil); apperrors.GetCode(err) != apperrors.CodeConfigInvalid {
		t.Errorf("Expected CONFIG_INVALID for threshold 0, got %v", err)
	}
	if _, err := Fit(cov, 1.2, nil); apperrors.GetCode(err) != apperrors.CodeConfigInvalid {
		t.Errorf("Expected CONFIG_INVALID for threshold above 1, got %v", err)
	}
}
