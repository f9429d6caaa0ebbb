package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"fluxcov/domain/flux"
	"fluxcov/internal/errors"
)

// AnalysisConfig is the validated analysis configuration. It is built from a
// TOML project file and never mutated afterwards; every numeric stage trusts
// it blindly, so all validation happens here.
type AnalysisConfig struct {
	OutputFileName string
	SourcesPath    string
	ResultsPath    string
	Horns          []flux.HornPolarity
	NominalRun     int
	PCAThreshold   float64
	UniverseFit    bool
	Binning        *flux.Binning
	PPFX           PPFXConfig
	Beam           BeamConfig
}

// BeamConfig holds the beam-focusing catalogue: which run ids feed each
// systematic category and which energy windows each category is confined to.
type BeamConfig struct {
	Enabled   bool
	Smoothing bool
	Runs      map[string][]int
	Windows   []EnergyWindow
}

// EnergyWindow confines a beam category to [Low, High); shifts outside the
// window are forced to zero.
type EnergyWindow struct {
	Category string  `toml:"category"`
	Low      float64 `toml:"low"`
	High     float64 `toml:"high"`
}

// PPFXConfig selects which hadron-production sub-categories participate.
// Disabled categories are dropped at read time, before any statistics.
type PPFXConfig struct {
	Enabled map[string]bool `toml:"enabled"`
}

// rawAnalysisConfig mirrors the TOML document layout before validation
type rawAnalysisConfig struct {
	OutputFileName string         `toml:"output_file_name"`
	Sources        string         `toml:"sources"`
	Results        string         `toml:"results"`
	Horns          []string       `toml:"horns"`
	NominalRun     *int           `toml:"nominal_run"`
	PCAThreshold   *float64       `toml:"pca_threshold"`
	UniverseFit    bool           `toml:"universe_fit"`
	Binning        map[string]any `toml:"binning"`
	PPFX           PPFXConfig     `toml:"ppfx"`
	Beam           rawBeamConfig  `toml:"beam"`
}

type rawBeamConfig struct {
	Enabled   *bool            `toml:"enabled"`
	Smoothing bool             `toml:"smoothing"`
	Runs      map[string][]int `toml:"runs"`
	Windows   []EnergyWindow   `toml:"windows"`
}

const (
	defaultOutputFileName = "flux_covariance.xlsx"
	defaultNominalRun     = 15
	defaultPCAThreshold   = 1.0
	defaultBinCount       = 200
	defaultEnergyLow      = 0.0
	defaultEnergyHigh     = 20.0
)

// DefaultBeamRuns returns the standard beamline-variation catalogue. A
// single id is a one-sided variation; a pair is a symmetric +/-1 sigma pair
// whose shifts are averaged.
func DefaultBeamRuns() map[string][]int {
	return map[string][]int{
		"beam_power":         {1},
		"horn_current_plus":  {8},
		"horn1_x":            {10, 11},
		"horn1_y":            {12, 13},
		"beam_spot":          {14, 16},
		"water_layer":        {21, 22},
		"beam_shift_x":       {24, 25},
		"beam_shift_y_plus":  {26},
		"beam_shift_y_minus": {27},
		"beam_div":           {32},
	}
}

// DefaultEnergyWindows returns the standard zeroing policy: the water-layer
// variation only acts between 1 and 20 GeV, beam divergence only below 1 GeV.
func DefaultEnergyWindows() []EnergyWindow {
	return []EnergyWindow{
		{Category: "water_layer", Low: 1.0, High: 20.0},
		{Category: "beam_div", Low: 0.0, High: 1.0},
	}
}

// LoadAnalysisConfig reads and validates a TOML project file
func LoadAnalysisConfig(path string) (*AnalysisConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", path)
	}
	cfg, err := ParseAnalysisConfig(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseAnalysisConfig validates a TOML document held in memory
func ParseAnalysisConfig(data []byte) (*AnalysisConfig, error) {
	var raw rawAnalysisConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, errors.WithCode(errors.CodeConfigInvalid,
			errors.Wrap(err, "failed to parse TOML configuration"))
	}
	return buildAnalysisConfig(&raw)
}

func buildAnalysisConfig(raw *rawAnalysisConfig) (*AnalysisConfig, error) {
	cfg := &AnalysisConfig{
		OutputFileName: raw.OutputFileName,
		SourcesPath:    raw.Sources,
		ResultsPath:    raw.Results,
		UniverseFit:    raw.UniverseFit,
		PPFX:           raw.PPFX,
	}

	if cfg.OutputFileName == "" {
		cfg.OutputFileName = defaultOutputFileName
	}
	if cfg.SourcesPath == "" {
		return nil, errors.ConfigInvalid("sources path is required")
	}
	if cfg.ResultsPath == "" {
		cfg.ResultsPath = filepath.Dir(cfg.SourcesPath)
	}

	horns, err := resolveHorns(raw.Horns)
	if err != nil {
		return nil, err
	}
	cfg.Horns = horns

	cfg.NominalRun = defaultNominalRun
	if raw.NominalRun != nil {
		cfg.NominalRun = *raw.NominalRun
	}
	if cfg.NominalRun <= 0 {
		return nil, errors.ConfigInvalid(fmt.Sprintf("nominal_run must be positive, got %d", cfg.NominalRun))
	}

	cfg.PCAThreshold = defaultPCAThreshold
	if raw.PCAThreshold != nil {
		cfg.PCAThreshold = *raw.PCAThreshold
	}
	if cfg.PCAThreshold <= 0 || cfg.PCAThreshold > 1 {
		return nil, errors.ConfigInvalid(fmt.Sprintf("pca_threshold must be in (0, 1], got %g", cfg.PCAThreshold))
	}

	binning, err := resolveBinning(raw.Binning)
	if err != nil {
		return nil, err
	}
	cfg.Binning = binning

	beam, err := resolveBeam(&raw.Beam, cfg.NominalRun)
	if err != nil {
		return nil, err
	}
	cfg.Beam = *beam

	return cfg, nil
}

func resolveHorns(names []string) ([]flux.HornPolarity, error) {
	if len(names) == 0 {
		return flux.AllHornPolarities(), nil
	}
	horns := make([]flux.HornPolarity, 0, len(names))
	seen := make(map[flux.HornPolarity]bool, len(names))
	for _, name := range names {
		horn, err := flux.NewHornPolarity(name)
		if err != nil {
			return nil, errors.WithCode(errors.CodeConfigInvalid, err)
		}
		if seen[horn] {
			return nil, errors.ConfigInvalid(fmt.Sprintf("duplicate horn polarity %q", name))
		}
		seen[horn] = true
		horns = append(horns, horn)
	}
	return horns, nil
}

// resolveBinning accepts, per neutrino mode, either an integer bin count
// (uniform bins over [0, 20]) or an explicit edge array. Unmentioned modes
// fall back to the default uniform binning.
func resolveBinning(spec map[string]any) (*flux.Binning, error) {
	edges := make(map[flux.NeutrinoMode][]float64, len(flux.AllNeutrinoModes()))
	for _, mode := range flux.AllNeutrinoModes() {
		edges[mode] = uniformEdges(defaultBinCount)
	}

	for name, value := range spec {
		mode, err := flux.NewNeutrinoMode(name)
		if err != nil {
			return nil, errors.WithCode(errors.CodeConfigInvalid, err)
		}
		switch v := value.(type) {
		case int64:
			if v <= 0 {
				return nil, errors.ConfigInvalid(fmt.Sprintf("binning.%s: bin count must be positive, got %d", name, v))
			}
			edges[mode] = uniformEdges(int(v))
		case []any:
			parsed, err := coerceEdges(name, v)
			if err != nil {
				return nil, err
			}
			edges[mode] = parsed
		default:
			return nil, errors.ConfigInvalid(fmt.Sprintf("binning.%s: expected an integer bin count or an array of edges, got %T", name, value))
		}
	}

	binning, err := flux.NewBinning(edges)
	if err != nil {
		return nil, errors.WithCode(errors.CodeConfigInvalid, err)
	}
	return binning, nil
}

func uniformEdges(bins int) []float64 {
	edges := make([]float64, bins+1)
	step := (defaultEnergyHigh - defaultEnergyLow) / float64(bins)
	for i := range edges {
		edges[i] = defaultEnergyLow + float64(i)*step
	}
	edges[bins] = defaultEnergyHigh
	return edges
}

func coerceEdges(name string, values []any) ([]float64, error) {
	edges := make([]float64, len(values))
	for i, v := range values {
		switch n := v.(type) {
		case float64:
			edges[i] = n
		case int64:
			edges[i] = float64(n)
		default:
			return nil, errors.ConfigInvalid(fmt.Sprintf("binning.%s[%d]: expected a number, got %T", name, i, v))
		}
	}
	return edges, nil
}

func resolveBeam(raw *rawBeamConfig, nominalRun int) (*BeamConfig, error) {
	beam := &BeamConfig{
		Enabled:   true,
		Smoothing: raw.Smoothing,
	}
	if raw.Enabled != nil {
		beam.Enabled = *raw.Enabled
	}

	if raw.Runs == nil {
		beam.Runs = DefaultBeamRuns()
	} else {
		beam.Runs = raw.Runs
	}
	for category, runs := range beam.Runs {
		if len(runs) < 1 || len(runs) > 2 {
			return nil, errors.ConfigInvalid(fmt.Sprintf("beam.runs.%s: expected 1 or 2 run ids, got %d", category, len(runs)))
		}
		for _, id := range runs {
			if id <= 0 {
				return nil, errors.ConfigInvalid(fmt.Sprintf("beam.runs.%s: run ids must be positive, got %d", category, id))
			}
			if id == nominalRun {
				return nil, errors.ConfigInvalid(fmt.Sprintf("beam.runs.%s: run %d is the nominal run", category, id))
			}
		}
	}

	if raw.Windows == nil {
		for _, window := range DefaultEnergyWindows() {
			if _, ok := beam.Runs[window.Category]; ok {
				beam.Windows = append(beam.Windows, window)
			}
		}
	} else {
		beam.Windows = raw.Windows
	}
	for _, window := range beam.Windows {
		if _, ok := beam.Runs[window.Category]; !ok {
			return nil, errors.ConfigInvalid(fmt.Sprintf("beam.windows: category %q has no run mapping", window.Category))
		}
		if window.Low >= window.High {
			return nil, errors.ConfigInvalid(fmt.Sprintf("beam.windows.%s: window [%g, %g) is empty", window.Category, window.Low, window.High))
		}
	}

	return beam, nil
}

// Categories returns the beam category names in deterministic order
func (b *BeamConfig) Categories() []string {
	names := make([]string, 0, len(b.Runs))
	for name := range b.Runs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunDirectory returns the dated products directory a run writes into,
// e.g. results/2026-08-25_flux_covariance. The workbook, the CSV tree and
// the report all land beneath it.
func (c *AnalysisConfig) RunDirectory() string {
	stem := strings.TrimSuffix(c.OutputFileName, filepath.Ext(c.OutputFileName))
	name := fmt.Sprintf("%s_%s", time.Now().Format("2006-01-02"), stem)
	return filepath.Join(c.ResultsPath, name)
}

// IgnoredHistogramNames lists histogram-name fragments to skip at read time.
// The exposure counter is always skipped; disabled PPFX categories contribute
// their histogram prefixes.
func (p *PPFXConfig) IgnoredHistogramNames() []string {
	keys := []string{"hpot"}
	names := make([]string, 0, len(p.Enabled))
	for name := range p.Enabled {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if p.Enabled[name] {
			continue
		}
		switch name {
		case "thintarget":
			keys = append(keys, "hthin_nue", "hthin_numu")
		case "mippnumi":
			keys = append(keys, "mipp")
		default:
			keys = append(keys, name)
		}
	}
	return keys
}

// KeepHistogram reports whether a histogram name survives the ignore list
func (p *PPFXConfig) KeepHistogram(name string) bool {
	lower := strings.ToLower(name)
	for _, ignored := range p.IgnoredHistogramNames() {
		if strings.Contains(lower, strings.ToLower(ignored)) {
			return false
		}
	}
	return true
}
