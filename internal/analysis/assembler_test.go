package analysis

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"fluxcov/domain/flux"
	apperrors "fluxcov/internal/errors"
)

func testAxis(t *testing.T, modes []flux.NeutrinoMode, bins int, hi float64) (*flux.Axis, *flux.Binning) {
	t.Helper()
	edges := make([]float64, bins+1)
	for i := range edges {
		edges[i] = hi * float64(i) / float64(bins)
	}
	edges[bins] = hi
	byMode := make(map[flux.NeutrinoMode][]float64, len(modes))
	for _, m := range modes {
		byMode[m] = edges
	}
	binning, err := flux.NewBinning(byMode)
	if err != nil {
		t.Fatalf("Failed to build binning: %v", err)
	}
	axis, err := flux.NewAxisFromBinning([]flux.HornPolarity{flux.HornFHC}, binning)
	if err != nil {
		t.Fatalf("Failed to build axis: %v", err)
	}
	return axis, binning
}

func series(t *testing.T, axis *flux.Axis, values []float64) *flux.Series {
	t.Helper()
	s, err := flux.NewSeries(axis, values)
	if err != nil {
		t.Fatalf("Failed to build series: %v", err)
	}
	return s
}

func symMatrix(t *testing.T, axis *flux.Axis, data []float64) *flux.Matrix {
	t.Helper()
	m, err := flux.NewMatrixFrom(axis, mat.NewSymDense(axis.Len(), data))
	if err != nil {
		t.Fatalf("Failed to build matrix: %v", err)
	}
	return m
}

func TestAssembleTotal_SumsContributions(t *testing.T) {
	axis, _ := testAxis(t, []flux.NeutrinoMode{flux.ModeNuE}, 2, 20)

	in := TotalInputs{
		Axis:             axis,
		CorrectedMean:    series(t, axis, []float64{2, 4}),
		HadronFractional: symMatrix(t, axis, []float64{0.01, 0, 0, 0.04}),
		StatUncert:       series(t, axis, []float64{0.1, 0.2}),
		Weights:          series(t, axis, []float64{1, 0.5}),
		BeamTotal:        symMatrix(t, axis, []float64{0.01, 0, 0, 0.01}),
	}

	total, err := AssembleTotal(in, nil)
	if err != nil {
		t.Fatalf("AssembleTotal failed: %v", err)
	}
	if !total.HasBeam() {
		t.Error("Expected the beam contribution to be recorded")
	}

	// hadron term rescaled by outer(mean): 0.01*4 and 0.04*16
	if math.Abs(total.HadronAbsolute.At(0, 0)-0.04) > 1e-15 {
		t.Errorf("Expected hadron variance 0.04, got %g", total.HadronAbsolute.At(0, 0))
	}
	if math.Abs(total.HadronAbsolute.At(1, 1)-0.64) > 1e-15 {
		t.Errorf("Expected hadron variance 0.64, got %g", total.HadronAbsolute.At(1, 1))
	}

	// statistical term: (0.1*1)^2 and (0.2*0.5)^2
	if math.Abs(total.Statistical.At(0, 0)-0.01) > 1e-15 {
		t.Errorf("Expected statistical variance 0.01, got %g", total.Statistical.At(0, 0))
	}
	if math.Abs(total.Statistical.At(1, 1)-0.01) > 1e-15 {
		t.Errorf("Expected statistical variance 0.01, got %g", total.Statistical.At(1, 1))
	}
	if total.Statistical.At(0, 1) != 0 {
		t.Errorf("Expected a diagonal statistical covariance, got %g off diagonal", total.Statistical.At(0, 1))
	}

	if math.Abs(total.Absolute.At(0, 0)-0.06) > 1e-15 {
		t.Errorf("Expected total variance 0.06, got %g", total.Absolute.At(0, 0))
	}
	if math.Abs(total.Absolute.At(1, 1)-0.66) > 1e-15 {
		t.Errorf("Expected total variance 0.66, got %g", total.Absolute.At(1, 1))
	}

	if math.Abs(total.Fractional.At(0, 0)-0.06/4) > 1e-15 {
		t.Errorf("Expected fractional variance %g, got %g", 0.06/4, total.Fractional.At(0, 0))
	}
	if math.Abs(total.Fractional.At(1, 1)-0.66/16) > 1e-15 {
		t.Errorf("Expected fractional variance %g, got %g", 0.66/16, total.Fractional.At(1, 1))
	}

	if math.Abs(total.Prediction.Sigma.Values[0]-math.Sqrt(0.06)) > 1e-15 {
		t.Errorf("Expected sigma sqrt(0.06), got %g", total.Prediction.Sigma.Values[0])
	}
	if total.Prediction.Mean.Values[0] != 2 {
		t.Errorf("Expected the corrected mean to pass through, got %g", total.Prediction.Mean.Values[0])
	}
	if total.Correlation.At(0, 0) != 1 || total.Correlation.At(1, 1) != 1 {
		t.Errorf("Expected unit correlation diagonal, got %g and %g",
			total.Correlation.At(0, 0), total.Correlation.At(1, 1))
	}
}

func TestAssembleTotal_WithoutBeam(t *testing.T) {
	axis, _ := testAxis(t, []flux.NeutrinoMode{flux.ModeNuE}, 2, 20)

	total, err := AssembleTotal(TotalInputs{
		Axis:             axis,
		CorrectedMean:    series(t, axis, []float64{2, 4}),
		HadronFractional: symMatrix(t, axis, []float64{0.01, 0, 0, 0.04}),
		StatUncert:       series(t, axis, []float64{0.1, 0.2}),
		Weights:          series(t, axis, []float64{1, 0.5}),
	}, nil)
	if err != nil {
		t.Fatalf("AssembleTotal failed: %v", err)
	}
	if total.HasBeam() {
		t.Error("Expected no beam contribution")
	}
	if math.Abs(total.Absolute.At(0, 0)-0.05) > 1e-15 {
		t.Errorf("Expected total variance 0.05 without beam, got %g", total.Absolute.At(0, 0))
	}
}

func TestAssembleTotal_ZeroMeanBinIsGuarded(t *testing.T) {
	axis, _ := testAxis(t, []flux.NeutrinoMode{flux.ModeNuE}, 2, 20)

	total, err := AssembleTotal(TotalInputs{
		Axis:             axis,
		CorrectedMean:    series(t, axis, []float64{2, 0}),
		HadronFractional: symMatrix(t, axis, []float64{0.01, 0.02, 0.02, 0.04}),
		StatUncert:       series(t, axis, []float64{0.1, 0.2}),
		Weights:          series(t, axis, []float64{1, 1}),
	}, nil)
	if err != nil {
		t.Fatalf("AssembleTotal failed: %v", err)
	}

	// the zero-mean bin keeps its statistical variance in absolute scale
	if math.Abs(total.Absolute.At(1, 1)-0.04) > 1e-15 {
		t.Errorf("Expected only the statistical term at the empty bin, got %g", total.Absolute.At(1, 1))
	}
	// but its fractional view is zero, not NaN
	if v := total.Fractional.At(1, 1); v != 0 {
		t.Errorf("Expected a guarded fractional entry, got %g", v)
	}
}

func TestAssembleTotal_Rejections(t *testing.T) {
	axis, _ := testAxis(t, []flux.NeutrinoMode{flux.ModeNuE}, 2, 20)
	other, _ := testAxis(t, []flux.NeutrinoMode{flux.ModeNuMu}, 2, 20)

	base := TotalInputs{
		Axis:             axis,
		CorrectedMean:    series(t, axis, []float64{2, 4}),
		HadronFractional: symMatrix(t, axis, []float64{0.01, 0, 0, 0.04}),
		StatUncert:       series(t, axis, []float64{0.1, 0.2}),
		Weights:          series(t, axis, []float64{1, 1}),
	}

	missing := base
	missing.HadronFractional = nil
	if _, err := AssembleTotal(missing, nil); apperrors.GetCode(err) != apperrors.CodeInputShape {
		t.Errorf("Expected INPUT_SHAPE for missing hadron covariance, got %v", err)
	}

	mismatched := base
	mismatched.CorrectedMean = series(t, other, []float64{2, 4})
	if _, err := AssembleTotal(mismatched, nil); apperrors.GetCode(err) != apperrors.CodeInputShape {
		t.Errorf("Expected INPUT_SHAPE for an axis mismatch, got %v", err)
	}

	crossBeam := base
	crossBeam.BeamTotal = symMatrix(t, other, []float64{1, 0, 0, 1})
	if _, err := AssembleTotal(crossBeam, nil); apperrors.GetCode(err) != apperrors.CodeInputShape {
		t.Errorf("Expected INPUT_SHAPE for a beam axis mismatch, got %v", err)
	}
}
