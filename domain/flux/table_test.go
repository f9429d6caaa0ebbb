package flux

import (
	"errors"
	"testing"
)

func twoBinAxis(t *testing.T) *Axis {
	t.Helper()
	b, err := UniformBinning(2, 0, 2)
	if err != nil {
		t.Fatalf("UniformBinning failed: %v", err)
	}
	axis, err := NewAxisFromBinning([]HornPolarity{HornFHC}, b)
	if err != nil {
		t.Fatalf("NewAxisFromBinning failed: %v", err)
	}
	return axis
}

func appendUniverseRows(tbl *Table, runID int, category string, universe int, axis *Axis, values []float64) {
	for i, k := range axis.Keys() {
		tbl.Append(Record{
			Flux:     values[i],
			Bin:      k.Bin,
			Category: category,
			Mode:     k.Mode,
			Horn:     k.Horn,
			RunID:    runID,
			Universe: universe,
		})
	}
}

func appendNominalRows(tbl *Table, runID int, category string, axis *Axis, flux, stat []float64) {
	for i, k := range axis.Keys() {
		tbl.Append(Record{
			Flux:       flux[i],
			StatUncert: stat[i],
			Bin:        k.Bin,
			Category:   category,
			Mode:       k.Mode,
			Horn:       k.Horn,
			RunID:      runID,
			Universe:   NoUniverse,
		})
	}
}

func TestUniverseMatrixPivot(t *testing.T) {
	axis := twoBinAxis(t)
	tbl := NewTable(64)
	// Deliberately append universes out of order; pivot must sort them.
	appendUniverseRows(tbl, 15, "total", 1, axis, []float64{2, 2, 2, 2, 2, 2, 2, 2})
	appendUniverseRows(tbl, 15, "total", 0, axis, []float64{1, 1, 1, 1, 1, 1, 1, 1})

	data, universes, err := tbl.UniverseMatrix(axis, 15, "total")
	if err != nil {
		t.Fatalf("UniverseMatrix failed: %v", err)
	}
	if len(universes) != 2 || universes[0] != 0 || universes[1] != 1 {
		t.Errorf("universes = %v, want [0 1]", universes)
	}
	r, c := data.Dims()
	if r != 2 || c != axis.Len() {
		t.Fatalf("dims = %dx%d, want 2x%d", r, c, axis.Len())
	}
	if data.At(0, 0) != 1 || data.At(1, 0) != 2 {
		t.Errorf("rows not sorted by universe: col0 = [%g, %g]", data.At(0, 0), data.At(1, 0))
	}
}

func TestUniverseMatrixRejectsHoles(t *testing.T) {
	axis := twoBinAxis(t)
	tbl := NewTable(8)
	// Universe 0 misses every key but the first.
	tbl.Append(Record{Flux: 1, Bin: 1, Category: "total", Mode: ModeNuE, Horn: HornFHC, RunID: 15, Universe: 0})

	_, _, err := tbl.UniverseMatrix(axis, 15, "total")
	if !errors.Is(err, ErrMissingEntry) {
		t.Errorf("expected ErrMissingEntry, got %v", err)
	}
}

func TestUniverseMatrixEmptyCategory(t *testing.T) {
	axis := twoBinAxis(t)
	tbl := NewTable(1)
	_, _, err := tbl.UniverseMatrix(axis, 15, "mesinc")
	if !errors.Is(err, ErrEmptyTable) {
		t.Errorf("expected ErrEmptyTable, got %v", err)
	}
}

func TestNominalSeriesPivot(t *testing.T) {
	axis := twoBinAxis(t)
	flux := []float64{10, 20, 5, 1, 8, 4, 3, 2}
	stat := []float64{1, 2, 0.5, 0.1, 0.8, 0.4, 0.3, 0.2}
	tbl := NewTable(16)
	appendNominalRows(tbl, 15, CategoryNominal, axis, flux, stat)

	s, err := tbl.NominalSeries(axis, 15, CategoryNominal)
	if err != nil {
		t.Fatalf("NominalSeries failed: %v", err)
	}
	for i, want := range flux {
		if s.Values[i] != want {
			t.Errorf("flux[%d] = %g, want %g", i, s.Values[i], want)
		}
	}

	u, err := tbl.StatUncertSeries(axis, 15, CategoryNominal)
	if err != nil {
		t.Fatalf("StatUncertSeries failed: %v", err)
	}
	if u.Values[1] != 2 {
		t.Errorf("stat[1] = %g, want 2", u.Values[1])
	}
}

func TestNominalSeriesMissingBin(t *testing.T) {
	axis := twoBinAxis(t)
	tbl := NewTable(4)
	tbl.Append(Record{Flux: 1, Bin: 1, Category: CategoryNominal, Mode: ModeNuE, Horn: HornFHC, RunID: 15, Universe: NoUniverse})

	_, err := tbl.NominalSeries(axis, 15, CategoryNominal)
	if !errors.Is(err, ErrMissingEntry) {
		t.Errorf("expected ErrMissingEntry, got %v", err)
	}
}

func TestRunIDsAndCategories(t *testing.T) {
	axis := twoBinAxis(t)
	n := axis.Len()
	ones := make([]float64, n)
	tbl := NewTable(4 * n)
	appendNominalRows(tbl, 15, CategoryNominal, axis, ones, ones)
	appendNominalRows(tbl, 8, CategoryNominal, axis, ones, ones)
	appendUniverseRows(tbl, 15, "total", 0, axis, ones)
	appendUniverseRows(tbl, 15, "mesinc", 0, axis, ones)

	runs := tbl.RunIDs()
	if len(runs) != 2 || runs[0] != 8 || runs[1] != 15 {
		t.Errorf("RunIDs = %v, want [8 15]", runs)
	}
	cats := tbl.UniverseCategories(15)
	if len(cats) != 2 || cats[0] != "mesinc" || cats[1] != "total" {
		t.Errorf("UniverseCategories = %v, want [mesinc total]", cats)
	}
	if !tbl.HasUniverses(15) {
		t.Error("HasUniverses(15) = false, want true")
	}
	if tbl.HasUniverses(8) {
		t.Error("HasUniverses(8) = true, want false")
	}
}

func TestTableValidate(t *testing.T) {
	axis := twoBinAxis(t)
	tbl := NewTable(1)
	if err := tbl.Validate(axis); !errors.Is(err, ErrEmptyTable) {
		t.Errorf("empty table: expected ErrEmptyTable, got %v", err)
	}
	tbl.Append(Record{Flux: 1, Bin: 7, Category: CategoryNominal, Mode: ModeNuE, Horn: HornFHC, RunID: 15, Universe: NoUniverse})
	if err := tbl.Validate(axis); !errors.Is(err, ErrMissingEntry) {
		t.Errorf("off-axis bin: expected ErrMissingEntry, got %v", err)
	}
}
