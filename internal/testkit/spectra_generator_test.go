package testkit

import (
	"math"
	"testing"

	"fluxcov/domain/flux"
	"fluxcov/internal/hadron"
)

func TestRand_NormalMoments(t *testing.T) {
	rng := NewRand(7)

	const n = 10000
	var sum, sumSq float64
	for i := 0; i < n; i++ {
		z := rng.Norm()
		sum += z
		sumSq += z * z
	}
	mean := sum / n
	variance := sumSq/n - mean*mean

	if math.Abs(mean) > 0.05 {
		t.Errorf("Expected near-zero mean over %d draws, got %v", n, mean)
	}
	if math.Abs(variance-1) > 0.1 {
		t.Errorf("Expected near-unit variance over %d draws, got %v", n, variance)
	}
}

func TestGenerate_SameSeedSameTable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bins = 4

	first, err := Generate(cfg)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	second, err := Generate(cfg)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if first.Table.Len() != second.Table.Len() {
		t.Fatalf("Expected equal row counts, got %d and %d", first.Table.Len(), second.Table.Len())
	}
	for i := 0; i < first.Table.Len(); i++ {
		if first.Table.Row(i) != second.Table.Row(i) {
			t.Fatalf("Expected identical rows at %d, got %+v and %+v", i, first.Table.Row(i), second.Table.Row(i))
		}
	}

	cfg.Seed++
	third, err := Generate(cfg)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	same := true
	for i := 0; i < first.Table.Len(); i++ {
		if first.Table.Row(i) != third.Table.Row(i) {
			same = false
			break
		}
	}
	if same {
		t.Error("Expected a different seed to change the ensemble")
	}
}

func TestGenerate_TableCoversAxisAndRuns(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bins = 3

	dataset, err := Generate(cfg)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if err := dataset.Table.Validate(dataset.Axis); err != nil {
		t.Fatalf("Expected every generated row on the axis: %v", err)
	}

	runs := dataset.Table.RunIDs()
	expected := map[int]bool{15: true, 10: true, 11: true, 21: true, 22: true, 32: true}
	if len(runs) != len(expected) {
		t.Fatalf("Expected %d distinct runs, got %v", len(expected), runs)
	}
	for _, id := range runs {
		if !expected[id] {
			t.Errorf("Unexpected run id %d", id)
		}
	}

	if !dataset.Table.HasUniverses(cfg.NominalRun) {
		t.Error("Expected universe rows for the nominal run")
	}
	for _, id := range []int{10, 21} {
		if dataset.Table.HasUniverses(id) {
			t.Errorf("Expected no universe rows for beam run %d", id)
		}
	}
}

func TestGenerate_UniverseSpreadMatchesAmplitude(t *testing.T) {
	cfg := Config{
		Horns:      []flux.HornPolarity{flux.HornFHC},
		Modes:      []flux.NeutrinoMode{flux.ModeNuMu},
		Bins:       4,
		EnergyMax:  20,
		Universes:  100,
		Categories: map[string]float64{flux.CategoryTotal: 0.05},
		NominalRun: 15,
		Seed:       1905,
	}

	dataset, err := Generate(cfg)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	engine, err := hadron.New(dataset.Table, dataset.Axis, cfg.NominalRun, nil)
	if err != nil {
		t.Fatalf("Failed to construct hadron engine on generated table: %v", err)
	}
	if err := engine.Compute(); err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	uncert, err := engine.FractionalUncertainty(flux.CategoryTotal)
	if err != nil {
		t.Fatalf("FractionalUncertainty failed: %v", err)
	}
	amplitude := cfg.Categories[flux.CategoryTotal]
	for pos, u := range uncert.Values {
		if u < 0.6*amplitude || u > 1.4*amplitude {
			t.Errorf("Expected recovered spread near %g at %s, got %g", amplitude, dataset.Axis.At(pos), u)
		}
	}

	weights, err := engine.FluxWeights()
	if err != nil {
		t.Fatalf("FluxWeights failed: %v", err)
	}
	for pos, w := range weights.Values {
		if math.Abs(w-1) > 0.05 {
			t.Errorf("Expected near-unit flux weight at %s, got %g", dataset.Axis.At(pos), w)
		}
	}
}

func TestGenerate_BeamRunsCarryKnownShifts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bins = 5

	dataset, err := Generate(cfg)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	for _, runID := range beamRunIDs(cfg.BeamRuns) {
		run, err := dataset.Table.NominalSeries(dataset.Axis, runID, flux.CategoryNominal)
		if err != nil {
			t.Fatalf("Missing nominal rows for beam run %d: %v", runID, err)
		}
		scale := dataset.BeamScale[runID]
		tilt := dataset.BeamTilt[runID]
		for pos := range run.Values {
			k := dataset.Axis.At(pos)
			center := binCenter(dataset.Binning, k)
			want := dataset.Truth.Values[pos] * (1 + scale + tilt*(center/cfg.EnergyMax-0.5))
			if math.Abs(run.Values[pos]-want) > 1e-12*math.Abs(want) {
				t.Fatalf("Expected run %d flux %g at %s, got %g", runID, want, k, run.Values[pos])
			}
		}
	}
}

func TestGenerate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero bins", func(c *Config) { c.Bins = 0 }},
		{"zero energy range", func(c *Config) { c.EnergyMax = 0 }},
		{"negative universes", func(c *Config) { c.Universes = -1 }},
		{"zero nominal run", func(c *Config) { c.NominalRun = 0 }},
		{"universes without total", func(c *Config) {
			c.Categories = map[string]float64{"mesinc": 0.03}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if _, err := Generate(cfg); err == nil {
				t.Error("Expected generation to fail")
			}
		})
	}
}
