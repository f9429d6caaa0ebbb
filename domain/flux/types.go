package flux

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// ============================================================================
// COORDINATE PRIMITIVES (Canonical, never change)
// ============================================================================

// HornPolarity identifies the focusing-horn current polarity of a beam sample.
type HornPolarity string

const (
	HornFHC HornPolarity = "fhc" // forward horn current (neutrino mode)
	HornRHC HornPolarity = "rhc" // reverse horn current (antineutrino mode)
)

// NewHornPolarity validates and returns a horn polarity.
func NewHornPolarity(s string) (HornPolarity, error) {
	switch HornPolarity(s) {
	case HornFHC, HornRHC:
		return HornPolarity(s), nil
	}
	return "", fmt.Errorf("invalid horn polarity %q (expected fhc|rhc)", s)
}

// MustNewHornPolarity panics on invalid input. Use only in tests and defaults.
func MustNewHornPolarity(s string) HornPolarity {
	h, err := NewHornPolarity(s)
	if err != nil {
		panic(err)
	}
	return h
}

// AllHornPolarities returns the canonical horn ordering.
func AllHornPolarities() []HornPolarity {
	return []HornPolarity{HornFHC, HornRHC}
}

// NeutrinoMode identifies the neutrino flavor of a flux histogram.
type NeutrinoMode string

const (
	ModeNuE     NeutrinoMode = "nue"
	ModeNuEBar  NeutrinoMode = "nuebar"
	ModeNuMu    NeutrinoMode = "numu"
	ModeNuMuBar NeutrinoMode = "numubar"
)

// NewNeutrinoMode validates and returns a neutrino mode.
func NewNeutrinoMode(s string) (NeutrinoMode, error) {
	switch NeutrinoMode(s) {
	case ModeNuE, ModeNuEBar, ModeNuMu, ModeNuMuBar:
		return NeutrinoMode(s), nil
	}
	return "", fmt.Errorf("invalid neutrino mode %q (expected nue|nuebar|numu|numubar)", s)
}

// MustNewNeutrinoMode panics on invalid input. Use only in tests and defaults.
func MustNewNeutrinoMode(s string) NeutrinoMode {
	m, err := NewNeutrinoMode(s)
	if err != nil {
		panic(err)
	}
	return m
}

// AllNeutrinoModes returns the canonical flavor ordering used by every axis.
func AllNeutrinoModes() []NeutrinoMode {
	return []NeutrinoMode{ModeNuE, ModeNuEBar, ModeNuMu, ModeNuMuBar}
}

// PDGCode returns the PDG particle code for the mode.
func (m NeutrinoMode) PDGCode() int {
	switch m {
	case ModeNuE:
		return 12
	case ModeNuEBar:
		return -12
	case ModeNuMu:
		return 14
	case ModeNuMuBar:
		return -14
	}
	return 0
}

// Key is the flavor-energy-bin coordinate: the fundamental index of every
// vector and matrix in the engine. Bin labels are 1-based, matching the
// preprocessor's tidy-table convention.
type Key struct {
	Horn HornPolarity `json:"horn_polarity"`
	Mode NeutrinoMode `json:"neutrino_mode"`
	Bin  int          `json:"bin"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%d", k.Horn, k.Mode, k.Bin)
}

// ============================================================================
// BINNING
// ============================================================================

// Binning carries the energy bin edges per neutrino mode. Edges are strictly
// increasing; bin label k (1-based) spans [edges[k-1], edges[k]).
type Binning struct {
	edges map[NeutrinoMode][]float64
}

// NewBinning validates edges per mode. Every mode in use must have at least
// two strictly increasing edges.
func NewBinning(edges map[NeutrinoMode][]float64) (*Binning, error) {
	if len(edges) == 0 {
		return nil, fmt.Errorf("binning: no modes defined")
	}
	own := make(map[NeutrinoMode][]float64, len(edges))
	for mode, e := range edges {
		if _, err := NewNeutrinoMode(string(mode)); err != nil {
			return nil, fmt.Errorf("binning: %w", err)
		}
		if len(e) < 2 {
			return nil, fmt.Errorf("binning: mode %s needs at least 2 edges, got %d", mode, len(e))
		}
		for i := 1; i < len(e); i++ {
			if e[i] <= e[i-1] {
				return nil, fmt.Errorf("binning: mode %s edges not strictly increasing at index %d", mode, i)
			}
		}
		cp := make([]float64, len(e))
		copy(cp, e)
		own[mode] = cp
	}
	return &Binning{edges: own}, nil
}

// UniformBinning returns n equal-width bins over [lo, hi) for every mode.
func UniformBinning(n int, lo, hi float64) (*Binning, error) {
	if n < 1 {
		return nil, fmt.Errorf("binning: bin count must be >= 1, got %d", n)
	}
	if hi <= lo {
		return nil, fmt.Errorf("binning: hi must exceed lo (%g <= %g)", hi, lo)
	}
	edges := make([]float64, n+1)
	step := (hi - lo) / float64(n)
	for i := range edges {
		edges[i] = lo + float64(i)*step
	}
	edges[n] = hi
	all := make(map[NeutrinoMode][]float64, 4)
	for _, m := range AllNeutrinoModes() {
		all[m] = edges
	}
	return NewBinning(all)
}

// Edges returns the edge slice for a mode, or nil when the mode is unknown.
func (b *Binning) Edges(mode NeutrinoMode) []float64 {
	return b.edges[mode]
}

// Bins returns the number of bins for a mode.
func (b *Binning) Bins(mode NeutrinoMode) int {
	e := b.edges[mode]
	if e == nil {
		return 0
	}
	return len(e) - 1
}

// Modes returns the modes with defined edges in canonical order.
func (b *Binning) Modes() []NeutrinoMode {
	out := make([]NeutrinoMode, 0, len(b.edges))
	for _, m := range AllNeutrinoModes() {
		if _, ok := b.edges[m]; ok {
			out = append(out, m)
		}
	}
	return out
}

// BinRange maps an energy window [elow, ehigh) to the 0-based half-open bin
// position range [start, stop) of the bins inside the window. A bin is inside
// when its lower edge is >= elow and < ehigh.
func (b *Binning) BinRange(mode NeutrinoMode, elow, ehigh float64) (start, stop int, err error) {
	e := b.edges[mode]
	if e == nil {
		return 0, 0, fmt.Errorf("bin range: no binning for mode %s", mode)
	}
	if ehigh <= elow {
		return 0, 0, fmt.Errorf("%w: [%g, %g)", ErrBadWindow, elow, ehigh)
	}
	n := len(e) - 1
	start = sort.SearchFloat64s(e[:n], elow)
	stop = sort.SearchFloat64s(e[:n], ehigh)
	return start, stop, nil
}

// ============================================================================
// AXIS
// ============================================================================

// Axis is the ordered flavor-energy-bin coordinate set shared by every matrix
// and series in one analysis. Combining objects with different axes is an
// input-shape error; the order is load-bearing for energy integration.
type Axis struct {
	keys  []Key
	index map[Key]int
}

// NewAxis builds an axis from an ordered key list. Duplicate or invalid keys
// are rejected.
func NewAxis(keys []Key) (*Axis, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("axis: %w", ErrEmptyTable)
	}
	idx := make(map[Key]int, len(keys))
	for i, k := range keys {
		if _, err := NewHornPolarity(string(k.Horn)); err != nil {
			return nil, fmt.Errorf("axis key %d: %w", i, err)
		}
		if _, err := NewNeutrinoMode(string(k.Mode)); err != nil {
			return nil, fmt.Errorf("axis key %d: %w", i, err)
		}
		if k.Bin < 1 {
			return nil, fmt.Errorf("axis key %d: bin label must be >= 1, got %d", i, k.Bin)
		}
		if _, dup := idx[k]; dup {
			return nil, fmt.Errorf("axis key %d: duplicate key %s", i, k)
		}
		idx[k] = i
	}
	own := make([]Key, len(keys))
	copy(own, keys)
	return &Axis{keys: own, index: idx}, nil
}

// NewAxisFromBinning lays out keys horn-major, then flavor in canonical
// order, then bin label ascending. Every exported matrix uses this ordering.
func NewAxisFromBinning(horns []HornPolarity, binning *Binning) (*Axis, error) {
	if len(horns) == 0 {
		return nil, fmt.Errorf("axis: no horn polarities given")
	}
	var keys []Key
	for _, h := range horns {
		for _, m := range binning.Modes() {
			for bin := 1; bin <= binning.Bins(m); bin++ {
				keys = append(keys, Key{Horn: h, Mode: m, Bin: bin})
			}
		}
	}
	return NewAxis(keys)
}

// Len returns the number of flavor-energy bins.
func (a *Axis) Len() int { return len(a.keys) }

// At returns the key at position i.
func (a *Axis) At(i int) Key { return a.keys[i] }

// Index returns the position of a key.
func (a *Axis) Index(k Key) (int, bool) {
	i, ok := a.index[k]
	return i, ok
}

// Keys returns the ordered key list. Callers must not mutate it.
func (a *Axis) Keys() []Key { return a.keys }

// Equal reports whether two axes carry identical keys in identical order.
func (a *Axis) Equal(other *Axis) bool {
	if a == other {
		return true
	}
	if other == nil || len(a.keys) != len(other.keys) {
		return false
	}
	for i, k := range a.keys {
		if other.keys[i] != k {
			return false
		}
	}
	return true
}

// Block returns the 0-based positions of the contiguous (horn, mode) block.
// Axis layout guarantees contiguity; an empty result means the block is not
// on this axis.
func (a *Axis) Block(horn HornPolarity, mode NeutrinoMode) []int {
	var out []int
	for i, k := range a.keys {
		if k.Horn == horn && k.Mode == mode {
			out = append(out, i)
		}
	}
	return out
}

// Horns returns the distinct horn polarities on the axis in first-seen order.
func (a *Axis) Horns() []HornPolarity {
	seen := make(map[HornPolarity]bool, 2)
	var out []HornPolarity
	for _, k := range a.keys {
		if !seen[k.Horn] {
			seen[k.Horn] = true
			out = append(out, k.Horn)
		}
	}
	return out
}

// ============================================================================
// LABELED VECTORS AND MATRICES
// ============================================================================

// Series is a vector of one value per flavor-energy bin.
type Series struct {
	Axis   *Axis
	Values []float64
}

// NewSeries validates length against the axis.
func NewSeries(axis *Axis, values []float64) (*Series, error) {
	if axis == nil {
		return nil, fmt.Errorf("series: nil axis")
	}
	if len(values) != axis.Len() {
		return nil, fmt.Errorf("%w: series has %d values, axis has %d bins",
			ErrAxisMismatch, len(values), axis.Len())
	}
	return &Series{Axis: axis, Values: values}, nil
}

// ZeroSeries returns an all-zero series over the axis.
func ZeroSeries(axis *Axis) *Series {
	return &Series{Axis: axis, Values: make([]float64, axis.Len())}
}

// Clone returns a deep copy sharing the axis.
func (s *Series) Clone() *Series {
	v := make([]float64, len(s.Values))
	copy(v, s.Values)
	return &Series{Axis: s.Axis, Values: v}
}

// Sum returns the plain sum of all values.
func (s *Series) Sum() float64 {
	var t float64
	for _, v := range s.Values {
		t += v
	}
	return t
}

// SumAt sums the values at the given positions.
func (s *Series) SumAt(positions []int) float64 {
	var t float64
	for _, i := range positions {
		t += s.Values[i]
	}
	return t
}

// Matrix is a symmetric matrix over the flavor-energy-bin axis.
type Matrix struct {
	Axis *Axis
	Sym  *mat.SymDense
}

// NewMatrix returns a zero matrix over the axis.
func NewMatrix(axis *Axis) *Matrix {
	return &Matrix{Axis: axis, Sym: mat.NewSymDense(axis.Len(), nil)}
}

// NewMatrixFrom wraps an existing symmetric payload, validating its size.
func NewMatrixFrom(axis *Axis, sym *mat.SymDense) (*Matrix, error) {
	if sym.SymmetricDim() != axis.Len() {
		return nil, fmt.Errorf("%w: matrix is %dx%d, axis has %d bins",
			ErrAxisMismatch, sym.SymmetricDim(), sym.SymmetricDim(), axis.Len())
	}
	return &Matrix{Axis: axis, Sym: sym}, nil
}

// At returns element (i, j).
func (m *Matrix) At(i, j int) float64 { return m.Sym.At(i, j) }

// Dim returns the matrix dimension.
func (m *Matrix) Dim() int { return m.Sym.SymmetricDim() }

// Diagonal returns a copy of the diagonal.
func (m *Matrix) Diagonal() []float64 {
	n := m.Dim()
	d := make([]float64, n)
	for i := 0; i < n; i++ {
		d[i] = m.Sym.At(i, i)
	}
	return d
}

// SqrtDiagonal returns sqrt of the diagonal with negatives clamped to zero
// first. Tiny negative diagonals can survive float summation; they are noise,
// not variance.
func (m *Matrix) SqrtDiagonal() []float64 {
	d := m.Diagonal()
	for i, v := range d {
		if v < 0 {
			v = 0
		}
		d[i] = math.Sqrt(v)
	}
	return d
}

// Add accumulates other into m. Axes must match.
func (m *Matrix) Add(other *Matrix) error {
	if !m.Axis.Equal(other.Axis) {
		return fmt.Errorf("matrix add: %w", ErrAxisMismatch)
	}
	m.Sym.AddSym(m.Sym, other.Sym)
	return nil
}

// Clone returns a deep copy sharing the axis.
func (m *Matrix) Clone() *Matrix {
	n := m.Dim()
	cp := mat.NewSymDense(n, nil)
	cp.CopySym(m.Sym)
	return &Matrix{Axis: m.Axis, Sym: cp}
}

// SumBlock sums the sub-block over rows in rowPos and columns in colPos.
func (m *Matrix) SumBlock(rowPos, colPos []int) float64 {
	var t float64
	for _, i := range rowPos {
		for _, j := range colPos {
			t += m.Sym.At(i, j)
		}
	}
	return t
}
