package beam

import (
	"math"
	"testing"
)

func TestSmooth353QH_ConstantIsFixedPoint(t *testing.T) {
	values := []float64{3, 3, 3, 3, 3}
	Smooth353QH(values)
	for i, v := range values {
		if v != 3 {
			t.Errorf("Expected constant series to be unchanged, got %g at %d", v, i)
		}
	}
}

func TestSmooth353QH_LinearIsFixedPoint(t *testing.T) {
	values := make([]float64, 8)
	for i := range values {
		values[i] = 1 + 0.5*float64(i)
	}
	Smooth353QH(values)
	for i, v := range values {
		expected := 1 + 0.5*float64(i)
		if math.Abs(v-expected) > 1e-12 {
			t.Errorf("Expected linear series to be unchanged, got %g at %d (want %g)", v, i, expected)
		}
	}
}

func TestSmooth353QH_SuppressesIsolatedSpike(t *testing.T) {
	values := []float64{0, 0, 0, 10, 0, 0, 0}
	Smooth353QH(values)
	for i, v := range values {
		if v != 0 {
			t.Errorf("Expected the spike to be removed entirely, got %g at %d", v, i)
		}
	}
}

func TestSmooth353QH_ShortSeriesUnchanged(t *testing.T) {
	values := []float64{5, 7}
	Smooth353QH(values)
	if values[0] != 5 || values[1] != 7 {
		t.Errorf("Expected series shorter than 3 to be untouched, got %v", values)
	}
}

func TestSmooth353QH_KeepsNonNegativeInputNonNegative(t *testing.T) {
	values := []float64{0, 1, 0, 2, 0, 3, 0, 2, 0, 1, 0}
	Smooth353QH(values)
	for i, v := range values {
		if v < 0 {
			t.Errorf("Expected non-negative output, got %g at %d", v, i)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("Expected finite output, got %g at %d", v, i)
		}
	}
}
