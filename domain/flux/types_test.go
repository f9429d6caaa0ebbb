package flux

import (
	"math"
	"testing"
)

func TestNewHornPolarity(t *testing.T) {
	for _, s := range []string{"fhc", "rhc"} {
		if _, err := NewHornPolarity(s); err != nil {
			t.Errorf("NewHornPolarity(%q) unexpected error: %v", s, err)
		}
	}
	if _, err := NewHornPolarity("lhc"); err == nil {
		t.Error("NewHornPolarity(\"lhc\") should fail")
	}
}

func TestNewNeutrinoMode(t *testing.T) {
	for _, s := range []string{"nue", "nuebar", "numu", "numubar"} {
		if _, err := NewNeutrinoMode(s); err != nil {
			t.Errorf("NewNeutrinoMode(%q) unexpected error: %v", s, err)
		}
	}
	if _, err := NewNeutrinoMode("nutau"); err == nil {
		t.Error("NewNeutrinoMode(\"nutau\") should fail")
	}
}

func TestPDGCodes(t *testing.T) {
	want := map[NeutrinoMode]int{
		ModeNuE:     12,
		ModeNuEBar:  -12,
		ModeNuMu:    14,
		ModeNuMuBar: -14,
	}
	for mode, code := range want {
		if got := mode.PDGCode(); got != code {
			t.Errorf("PDGCode(%s) = %d, want %d", mode, got, code)
		}
	}
}

func TestUniformBinning(t *testing.T) {
	b, err := UniformBinning(20, 0, 20)
	if err != nil {
		t.Fatalf("UniformBinning failed: %v", err)
	}
	if got := b.Bins(ModeNuE); got != 20 {
		t.Errorf("Bins(nue) = %d, want 20", got)
	}
	edges := b.Edges(ModeNuMu)
	if len(edges) != 21 {
		t.Fatalf("edge count = %d, want 21", len(edges))
	}
	if edges[0] != 0 || edges[20] != 20 {
		t.Errorf("edge endpoints = [%g, %g], want [0, 20]", edges[0], edges[20])
	}
	if math.Abs(edges[7]-7.0) > 1e-12 {
		t.Errorf("edge[7] = %g, want 7", edges[7])
	}
}

func TestNewBinningRejectsBadEdges(t *testing.T) {
	_, err := NewBinning(map[NeutrinoMode][]float64{ModeNuE: {0, 1, 1}})
	if err == nil {
		t.Error("non-increasing edges should be rejected")
	}
	_, err = NewBinning(map[NeutrinoMode][]float64{ModeNuE: {0}})
	if err == nil {
		t.Error("single edge should be rejected")
	}
	_, err = NewBinning(nil)
	if err == nil {
		t.Error("empty binning should be rejected")
	}
}

func TestBinRangeWindows(t *testing.T) {
	b, err := UniformBinning(20, 0, 20)
	if err != nil {
		t.Fatalf("UniformBinning failed: %v", err)
	}

	// Water-layer window [1, 20): bin position 0 (the [0,1) bin) is outside.
	start, stop, err := b.BinRange(ModeNuE, 1, 20)
	if err != nil {
		t.Fatalf("BinRange failed: %v", err)
	}
	if start != 1 || stop != 20 {
		t.Errorf("water-layer range = [%d, %d), want [1, 20)", start, stop)
	}

	// Beam-divergence window [0, 1): only bin position 0 is inside.
	start, stop, err = b.BinRange(ModeNuE, 0, 1)
	if err != nil {
		t.Fatalf("BinRange failed: %v", err)
	}
	if start != 0 || stop != 1 {
		t.Errorf("beam-div range = [%d, %d), want [0, 1)", start, stop)
	}

	if _, _, err := b.BinRange(ModeNuE, 5, 5); err == nil {
		t.Error("degenerate window should be rejected")
	}
	if _, _, err := b.BinRange(ModeNuMuBar, 3, 1); err == nil {
		t.Error("inverted window should be rejected")
	}
}

func TestAxisFromBinning(t *testing.T) {
	b, _ := UniformBinning(3, 0, 3)
	axis, err := NewAxisFromBinning([]HornPolarity{HornFHC, HornRHC}, b)
	if err != nil {
		t.Fatalf("NewAxisFromBinning failed: %v", err)
	}
	if axis.Len() != 2*4*3 {
		t.Fatalf("axis length = %d, want 24", axis.Len())
	}
	// Horn-major, canonical flavor order, ascending 1-based bins.
	if axis.At(0) != (Key{HornFHC, ModeNuE, 1}) {
		t.Errorf("first key = %s", axis.At(0))
	}
	if axis.At(3) != (Key{HornFHC, ModeNuEBar, 1}) {
		t.Errorf("key 3 = %s, want fhc/nuebar/1", axis.At(3))
	}
	if axis.At(12) != (Key{HornRHC, ModeNuE, 1}) {
		t.Errorf("key 12 = %s, want rhc/nue/1", axis.At(12))
	}

	pos, ok := axis.Index(Key{HornRHC, ModeNuMuBar, 3})
	if !ok || pos != 23 {
		t.Errorf("Index(rhc/numubar/3) = (%d, %v), want (23, true)", pos, ok)
	}

	block := axis.Block(HornFHC, ModeNuMu)
	if len(block) != 3 || block[0] != 6 || block[2] != 8 {
		t.Errorf("Block(fhc, numu) = %v, want [6 7 8]", block)
	}
}

func TestAxisRejectsDuplicatesAndBadKeys(t *testing.T) {
	k := Key{HornFHC, ModeNuE, 1}
	if _, err := NewAxis([]Key{k, k}); err == nil {
		t.Error("duplicate keys should be rejected")
	}
	if _, err := NewAxis([]Key{{HornFHC, ModeNuE, 0}}); err == nil {
		t.Error("bin label 0 should be rejected")
	}
	if _, err := NewAxis(nil); err == nil {
		t.Error("empty axis should be rejected")
	}
}

func TestAxisEqual(t *testing.T) {
	b, _ := UniformBinning(2, 0, 2)
	a1, _ := NewAxisFromBinning([]HornPolarity{HornFHC}, b)
	a2, _ := NewAxisFromBinning([]HornPolarity{HornFHC}, b)
	a3, _ := NewAxisFromBinning([]HornPolarity{HornRHC}, b)
	if !a1.Equal(a2) {
		t.Error("identically built axes should be equal")
	}
	if a1.Equal(a3) {
		t.Error("axes with different horns should differ")
	}
	if a1.Equal(nil) {
		t.Error("axis should not equal nil")
	}
}

func TestSeriesValidation(t *testing.T) {
	b, _ := UniformBinning(2, 0, 2)
	axis, _ := NewAxisFromBinning([]HornPolarity{HornFHC}, b)
	if _, err := NewSeries(axis, make([]float64, axis.Len())); err != nil {
		t.Errorf("NewSeries unexpected error: %v", err)
	}
	if _, err := NewSeries(axis, []float64{1}); err == nil {
		t.Error("length mismatch should be rejected")
	}
	s := ZeroSeries(axis)
	s.Values[0] = 2
	s.Values[1] = 3
	if got := s.Sum(); got != 5 {
		t.Errorf("Sum = %g, want 5", got)
	}
	if got := s.SumAt([]int{1}); got != 3 {
		t.Errorf("SumAt = %g, want 3", got)
	}
	c := s.Clone()
	c.Values[0] = 99
	if s.Values[0] != 2 {
		t.Error("Clone should not alias values")
	}
}

func TestMatrixOps(t *testing.T) {
	b, _ := UniformBinning(2, 0, 2)
	axis, _ := NewAxisFromBinning([]HornPolarity{HornFHC}, b)
	m := NewMatrix(axis)
	m.Sym.SetSym(0, 0, 4)
	m.Sym.SetSym(0, 1, -1)
	m.Sym.SetSym(1, 1, 9)

	d := m.Diagonal()
	if d[0] != 4 || d[1] != 9 {
		t.Errorf("Diagonal = %v", d)
	}
	sd := m.SqrtDiagonal()
	if sd[0] != 2 || sd[1] != 3 {
		t.Errorf("SqrtDiagonal = %v", sd)
	}

	// Negative diagonal noise clamps to zero before the square root.
	m.Sym.SetSym(2, 2, -1e-18)
	if got := m.SqrtDiagonal()[2]; got != 0 {
		t.Errorf("clamped sqrt = %g, want 0", got)
	}

	other := NewMatrix(axis)
	other.Sym.SetSym(0, 0, 1)
	if err := m.Add(other); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if m.At(0, 0) != 5 {
		t.Errorf("Add result (0,0) = %g, want 5", m.At(0, 0))
	}

	axis2, _ := NewAxisFromBinning([]HornPolarity{HornRHC}, b)
	if err := m.Add(NewMatrix(axis2)); err == nil {
		t.Error("Add across mismatched axes should fail")
	}

	clone := m.Clone()
	clone.Sym.SetSym(0, 0, 100)
	if m.At(0, 0) != 5 {
		t.Error("Clone should not alias payload")
	}

	if got := m.SumBlock([]int{0, 1}, []int{0, 1}); got != 5+(-1)+(-1)+9 {
		t.Errorf("SumBlock = %g, want 12", got)
	}
}
