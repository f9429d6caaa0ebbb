package testkit

import (
	"fmt"
	"math"
	"sort"

	"fluxcov/domain/flux"
)

// Config controls the synthetic spectra generator.
type Config struct {
	Horns     []flux.HornPolarity
	Modes     []flux.NeutrinoMode
	Bins      int
	EnergyMax float64

	// Universe ensemble for the nominal run: category name to the coherent
	// fractional amplitude its universes fluctuate with. Must include the
	// aggregate "total" category whenever Universes > 0.
	Universes  int
	Categories map[string]float64

	NominalRun int
	BeamRuns   map[string][]int // beam category -> 1 or 2 shifted run ids

	StatRelative float64 // per-bin statistical uncertainty, relative to flux
	Seed         int64
}

// DefaultConfig returns a small but complete fixture: one horn, all four
// flavors, a coarse energy grid, a hundred universes and a three-category
// beam catalogue around nominal run 15.
func DefaultConfig() Config {
	return Config{
		Horns:     []flux.HornPolarity{flux.HornFHC},
		Modes:     flux.AllNeutrinoModes(),
		Bins:      12,
		EnergyMax: 20,
		Universes: 100,
		Categories: map[string]float64{
			flux.CategoryTotal: 0.05,
			"mesinc":           0.03,
			"attenuation":      0.01,
		},
		NominalRun: 15,
		BeamRuns: map[string][]int{
			"horn1_x":     {10, 11},
			"water_layer": {21, 22},
			"beam_div":    {32},
		},
		StatRelative: 0.01,
		Seed:         1905,
	}
}

// Dataset is a generated tidy table plus the truth it was drawn around, so
// tests can check recovered statistics against known inputs.
type Dataset struct {
	Table   *flux.Table
	Axis    *flux.Axis
	Binning *flux.Binning

	// Truth is the noiseless flux of the nominal run.
	Truth *flux.Series
	// BeamScale and BeamTilt hold each shifted run's flat scale offset and
	// its linear tilt across the energy range, both fractional.
	BeamScale map[int]float64
	BeamTilt  map[int]float64
}

// Generate builds a deterministic synthetic spectra table: nominal and
// central-value rows for the nominal run, a normal universe ensemble per
// category, and one nominal row set per shifted beam run with a known
// scale-plus-tilt distortion.
func Generate(cfg Config) (*Dataset, error) {
	if cfg.Bins <= 0 {
		return nil, fmt.Errorf("bins must be > 0")
	}
	if cfg.EnergyMax <= 0 {
		return nil, fmt.Errorf("energy max must be > 0")
	}
	if cfg.Universes < 0 {
		return nil, fmt.Errorf("universe count must be >= 0")
	}
	if cfg.NominalRun <= 0 {
		return nil, fmt.Errorf("nominal run id must be > 0")
	}
	if cfg.Universes > 0 {
		if _, ok := cfg.Categories[flux.CategoryTotal]; !ok {
			return nil, fmt.Errorf("universe categories must include %q", flux.CategoryTotal)
		}
	}

	axis, binning, err := UniformAxis(cfg.Horns, cfg.Modes, cfg.Bins, cfg.EnergyMax)
	if err != nil {
		return nil, err
	}

	rng := NewRand(cfg.Seed)
	truth := truthFlux(axis, binning)

	rowsPerRun := axis.Len()
	capacity := rowsPerRun * (2 + cfg.Universes*len(cfg.Categories) + len(beamRunIDs(cfg.BeamRuns)))
	table := flux.NewTable(capacity)

	appendNominal(table, axis, truth.Values, cfg.NominalRun, flux.CategoryNominal, cfg.StatRelative)
	appendNominal(table, axis, truth.Values, cfg.NominalRun, flux.CategoryCentralValue, cfg.StatRelative)

	for _, category := range sortedAmplitudes(cfg.Categories) {
		amplitude := cfg.Categories[category]
		for u := 0; u < cfg.Universes; u++ {
			coherent := 1 + amplitude*rng.Norm()
			for pos := 0; pos < axis.Len(); pos++ {
				k := axis.At(pos)
				value := truth.Values[pos] * (coherent + 0.2*amplitude*rng.Norm())
				table.Append(flux.Record{
					Flux:     value,
					Bin:      k.Bin,
					Category: category,
					Mode:     k.Mode,
					Horn:     k.Horn,
					RunID:    cfg.NominalRun,
					Universe: u,
				})
			}
		}
	}

	scales := make(map[int]float64)
	tilts := make(map[int]float64)
	for _, runID := range beamRunIDs(cfg.BeamRuns) {
		scale := 0.02 * (rng.Float64() - 0.5)
		tilt := 0.04 * (rng.Float64() - 0.5)
		scales[runID] = scale
		tilts[runID] = tilt

		shifted := make([]float64, axis.Len())
		for pos := 0; pos < axis.Len(); pos++ {
			k := axis.At(pos)
			center := binCenter(binning, k)
			shifted[pos] = truth.Values[pos] * (1 + scale + tilt*(center/cfg.EnergyMax-0.5))
		}
		appendNominal(table, axis, shifted, runID, flux.CategoryNominal, cfg.StatRelative)
	}

	return &Dataset{
		Table:     table,
		Axis:      axis,
		Binning:   binning,
		Truth:     truth,
		BeamScale: scales,
		BeamTilt:  tilts,
	}, nil
}

// truthFlux evaluates a beam-like spectrum at each bin center: a rise to a
// peak near 2 GeV and an exponential tail, scaled per flavor with the
// wrong-sign and electron components suppressed. RHC swaps the sign roles.
func truthFlux(axis *flux.Axis, binning *flux.Binning) *flux.Series {
	values := make([]float64, axis.Len())
	for pos := 0; pos < axis.Len(); pos++ {
		k := axis.At(pos)
		e := binCenter(binning, k)
		values[pos] = modeScale(k.Horn, k.Mode) * (e / 2) * math.Exp(1-e/2)
	}
	return &flux.Series{Axis: axis, Values: values}
}

func modeScale(horn flux.HornPolarity, mode flux.NeutrinoMode) float64 {
	right := horn == flux.HornFHC
	switch mode {
	case flux.ModeNuMu:
		if right {
			return 1.0
		}
		return 0.05
	case flux.ModeNuMuBar:
		if right {
			return 0.05
		}
		return 1.0
	case flux.ModeNuE:
		if right {
			return 0.01
		}
		return 0.002
	default: // nuebar
		if right {
			return 0.002
		}
		return 0.01
	}
}

func binCenter(binning *flux.Binning, k flux.Key) float64 {
	edges := binning.Edges(k.Mode)
	return (edges[k.Bin-1] + edges[k.Bin]) / 2
}

func appendNominal(table *flux.Table, axis *flux.Axis, values []float64, runID int, category string, statRelative float64) {
	for pos := 0; pos < axis.Len(); pos++ {
		k := axis.At(pos)
		table.Append(flux.Record{
			Flux:       values[pos],
			StatUncert: statRelative * values[pos],
			Bin:        k.Bin,
			Category:   category,
			Mode:       k.Mode,
			Horn:       k.Horn,
			RunID:      runID,
			Universe:   flux.NoUniverse,
		})
	}
}

func sortedAmplitudes(categories map[string]float64) []string {
	names := make([]string, 0, len(categories))
	for name := range categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func beamRunIDs(runs map[string][]int) []int {
	seen := make(map[int]bool)
	for _, ids := range runs {
		for _, id := range ids {
			seen[id] = true
		}
	}
	out := make([]int, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}
