package flux

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// NoUniverse marks a tidy-table row that carries no universe index
// (a nominal histogram rather than a re-weighting draw).
const NoUniverse = -1

// CategoryNominal labels the unweighted nominal histogram rows.
// CategoryTotal labels the aggregate re-weighting ensemble.
const (
	CategoryNominal      = "nominal"
	CategoryCentralValue = "central_value"
	CategoryTotal        = "total"
)

// Record is one row of the preprocessor's tidy table.
type Record struct {
	Flux       float64      `json:"flux"`
	StatUncert float64      `json:"stat_uncert"`
	Bin        int          `json:"bin"`
	Category   string       `json:"category"`
	Mode       NeutrinoMode `json:"neutrino_mode"`
	Horn       HornPolarity `json:"horn_polarity"`
	RunID      int          `json:"run_id"`
	Universe   int          `json:"universe"` // NoUniverse when unset
}

// Table is the columnar tidy table every systematics component consumes.
// It is filled once by the preprocessor and read-only afterwards.
type Table struct {
	flux       []float64
	statUncert []float64
	bin        []int
	category   []string
	mode       []NeutrinoMode
	horn       []HornPolarity
	runID      []int
	universe   []int
}

// NewTable returns an empty table with capacity hint n.
func NewTable(n int) *Table {
	return &Table{
		flux:       make([]float64, 0, n),
		statUncert: make([]float64, 0, n),
		bin:        make([]int, 0, n),
		category:   make([]string, 0, n),
		mode:       make([]NeutrinoMode, 0, n),
		horn:       make([]HornPolarity, 0, n),
		runID:      make([]int, 0, n),
		universe:   make([]int, 0, n),
	}
}

// Append adds one row.
func (t *Table) Append(r Record) {
	t.flux = append(t.flux, r.Flux)
	t.statUncert = append(t.statUncert, r.StatUncert)
	t.bin = append(t.bin, r.Bin)
	t.category = append(t.category, r.Category)
	t.mode = append(t.mode, r.Mode)
	t.horn = append(t.horn, r.Horn)
	t.runID = append(t.runID, r.RunID)
	t.universe = append(t.universe, r.Universe)
}

// AppendTable adds every row of other.
func (t *Table) AppendTable(other *Table) {
	t.flux = append(t.flux, other.flux...)
	t.statUncert = append(t.statUncert, other.statUncert...)
	t.bin = append(t.bin, other.bin...)
	t.category = append(t.category, other.category...)
	t.mode = append(t.mode, other.mode...)
	t.horn = append(t.horn, other.horn...)
	t.runID = append(t.runID, other.runID...)
	t.universe = append(t.universe, other.universe...)
}

// Len returns the row count.
func (t *Table) Len() int { return len(t.flux) }

// Row materializes row i.
func (t *Table) Row(i int) Record {
	return Record{
		Flux:       t.flux[i],
		StatUncert: t.statUncert[i],
		Bin:        t.bin[i],
		Category:   t.category[i],
		Mode:       t.mode[i],
		Horn:       t.horn[i],
		RunID:      t.runID[i],
		Universe:   t.universe[i],
	}
}

// key assembles the flavor-energy coordinate of row i.
func (t *Table) key(i int) Key {
	return Key{Horn: t.horn[i], Mode: t.mode[i], Bin: t.bin[i]}
}

// Validate checks that every row's coordinate lies on the axis. A stray
// coordinate means the preprocessor and the configuration disagree about
// binning, which poisons every matrix downstream.
func (t *Table) Validate(axis *Axis) error {
	if t.Len() == 0 {
		return ErrEmptyTable
	}
	for i := 0; i < t.Len(); i++ {
		if _, ok := axis.Index(t.key(i)); !ok {
			return NewMissingEntryError(t.key(i), "row coordinate not on analysis axis")
		}
	}
	return nil
}

// RunIDs returns the distinct run ids among nominal (universe-free) rows,
// ascending.
func (t *Table) RunIDs() []int {
	seen := make(map[int]bool)
	for i := 0; i < t.Len(); i++ {
		if t.universe[i] == NoUniverse {
			seen[t.runID[i]] = true
		}
	}
	out := make([]int, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// UniverseCategories returns the distinct categories that carry universe rows
// for the given run, sorted.
func (t *Table) UniverseCategories(runID int) []string {
	seen := make(map[string]bool)
	for i := 0; i < t.Len(); i++ {
		if t.runID[i] == runID && t.universe[i] != NoUniverse {
			seen[t.category[i]] = true
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// HasUniverses reports whether any universe rows exist for the run.
func (t *Table) HasUniverses(runID int) bool {
	for i := 0; i < t.Len(); i++ {
		if t.runID[i] == runID && t.universe[i] != NoUniverse {
			return true
		}
	}
	return false
}

// UniverseMatrix pivots the ensemble of one (run, category) into a dense
// matrix with one row per universe (ascending universe index) and one column
// per axis position. Every universe must cover every axis key; a hole is an
// input-shape error, not a NaN.
func (t *Table) UniverseMatrix(axis *Axis, runID int, category string) (*mat.Dense, []int, error) {
	byUniverse := make(map[int][]float64)
	counts := make(map[int]int)
	for i := 0; i < t.Len(); i++ {
		if t.runID[i] != runID || t.universe[i] == NoUniverse || t.category[i] != category {
			continue
		}
		pos, ok := axis.Index(t.key(i))
		if !ok {
			return nil, nil, NewMissingEntryError(t.key(i), fmt.Sprintf("universe row off axis in category %q", category))
		}
		u := t.universe[i]
		row := byUniverse[u]
		if row == nil {
			row = make([]float64, axis.Len())
			byUniverse[u] = row
		}
		row[pos] = t.flux[i]
		counts[u]++
	}
	if len(byUniverse) == 0 {
		return nil, nil, fmt.Errorf("category %q run %d: %w", category, runID, ErrEmptyTable)
	}
	universes := make([]int, 0, len(byUniverse))
	for u := range byUniverse {
		universes = append(universes, u)
	}
	sort.Ints(universes)
	data := mat.NewDense(len(universes), axis.Len(), nil)
	for r, u := range universes {
		if counts[u] != axis.Len() {
			return nil, nil, fmt.Errorf("category %q universe %d covers %d of %d bins: %w",
				category, u, counts[u], axis.Len(), ErrMissingEntry)
		}
		data.SetRow(r, byUniverse[u])
	}
	return data, universes, nil
}

// NominalSeries pivots the flux of universe-free rows for (run, category)
// into a series over the axis. Every axis key must be covered.
func (t *Table) NominalSeries(axis *Axis, runID int, category string) (*Series, error) {
	return t.pivotNominal(axis, runID, category, t.flux)
}

// StatUncertSeries pivots the statistical uncertainty of universe-free rows
// for (run, category) into a series over the axis.
func (t *Table) StatUncertSeries(axis *Axis, runID int, category string) (*Series, error) {
	return t.pivotNominal(axis, runID, category, t.statUncert)
}

func (t *Table) pivotNominal(axis *Axis, runID int, category string, column []float64) (*Series, error) {
	values := make([]float64, axis.Len())
	filled := make([]bool, axis.Len())
	n := 0
	for i := 0; i < t.Len(); i++ {
		if t.runID[i] != runID || t.universe[i] != NoUniverse || t.category[i] != category {
			continue
		}
		pos, ok := axis.Index(t.key(i))
		if !ok {
			return nil, NewMissingEntryError(t.key(i), fmt.Sprintf("nominal row off axis in category %q", category))
		}
		values[pos] = column[i]
		filled[pos] = true
		n++
	}
	if n == 0 {
		return nil, fmt.Errorf("category %q run %d: %w", category, runID, ErrEmptyTable)
	}
	for pos, ok := range filled {
		if !ok {
			return nil, NewMissingEntryError(axis.At(pos), fmt.Sprintf("no nominal row for run %d category %q", runID, category))
		}
	}
	return &Series{Axis: axis, Values: values}, nil
}
