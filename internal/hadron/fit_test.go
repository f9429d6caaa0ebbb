package hadron

import (
	"math"
	"math/rand"
	"testing"

	"fluxcov/domain/flux"
)

func singleBinEngine(t *testing.T, universes []float64) *Systematics {
	t.Helper()
	axis, err := flux.NewAxis([]flux.Key{{Horn: flux.HornFHC, Mode: flux.ModeNuE, Bin: 1}})
	if err != nil {
		t.Fatalf("Failed to build axis: %v", err)
	}

	table := flux.NewTable(len(universes) + 1)
	for u, value := range universes {
		table.Append(flux.Record{
			Flux: value, Bin: 1, Category: flux.CategoryTotal,
			Mode: flux.ModeNuE, Horn: flux.HornFHC,
			RunID: nominalRun, Universe: u,
		})
	}
	table.Append(flux.Record{
		Flux: 1, Bin: 1, Category: flux.CategoryNominal,
		Mode: flux.ModeNuE, Horn: flux.HornFHC,
		RunID: nominalRun, Universe: flux.NoUniverse,
	})

	engine, err := New(table, axis, nominalRun, nil)
	if err != nil {
		t.Fatalf("Failed to construct engine: %v", err)
	}
	if err := engine.Compute(); err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	return engine
}

// TestFitUniverseDistributions_GaussianEnsemble checks the fit recovers the
// parameters of a genuinely Gaussian universe ensemble to reasonable
// precision and reports a sane reduced chi-squared.
func TestFitUniverseDistributions_GaussianEnsemble(t *testing.T) {
	rng := rand.New(rand.NewSource(1905))
	universes := make([]float64, 256)
	for i := range universes {
		universes[i] = 10.0 + 0.5*rng.NormFloat64()
	}

	engine := singleBinEngine(t, universes)

	fits, err := engine.FitUniverseDistributions()
	if err != nil {
		t.Fatalf("FitUniverseDistributions failed: %v", err)
	}
	if len(fits) != 1 {
		t.Fatalf("Expected one fit per axis key, got %d", len(fits))
	}

	fit := fits[0]
	if fit.Universes != 256 {
		t.Errorf("Expected 256 universes, got %d", fit.Universes)
	}
	if math.Abs(fit.UniverseMean-10.0) > 0.2 {
		t.Errorf("Expected universe mean near 10, got %v", fit.UniverseMean)
	}
	if fit.FitSigma <= 0 {
		t.Fatalf("Expected positive fitted sigma, got %v", fit.FitSigma)
	}
	if fit.MeanFracErr > 0.05 {
		t.Errorf("Expected fitted mean within 5%% of the sample mean, got %v", fit.MeanFracErr)
	}
	if fit.SigmaFracErr > 0.5 {
		t.Errorf("Expected fitted sigma within 50%% of the sample spread, got %v", fit.SigmaFracErr)
	}
	if fit.NDF < 1 {
		t.Fatalf("Expected at least one degree of freedom, got %d", fit.NDF)
	}
	reduced := fit.Chi2PerNDF()
	if math.IsNaN(reduced) || math.IsInf(reduced, 0) || reduced > 10 {
		t.Errorf("Expected a finite, modest reduced chi-squared, got %v", reduced)
	}
}

func TestFitUniverseDistributions_ConstantEnsemble(t *testing.T) {
	universes := []float64{3, 3, 3, 3}

	engine := singleBinEngine(t, universes)

	fits, err := engine.FitUniverseDistributions()
	if err != nil {
		t.Fatalf("FitUniverseDistributions failed: %v", err)
	}

	fit := fits[0]
	if fit.FitMean != 3 || fit.FitSigma != 0 {
		t.Errorf("Expected degenerate fit to fall back to the moments, got mean %v sigma %v", fit.FitMean, fit.FitSigma)
	}
	if fit.NDF != 0 {
		t.Errorf("Expected zero degrees of freedom, got %d", fit.NDF)
	}
	if got := fit.Chi2PerNDF(); got != 0 {
		t.Errorf("Expected zero reduced chi-squared, got %v", got)
	}
}

func TestFitUniverseDistributions_TooFewBinsFallsBack(t *testing.T) {
	engine := singleBinEngine(t, []float64{1, 2})

	fits, err := engine.FitUniverseDistributions()
	if err != nil {
		t.Fatalf("FitUniverseDistributions failed: %v", err)
	}

	fit := fits[0]
	if fit.FitMean != fit.UniverseMean {
		t.Errorf("Expected fallback fit mean %v, got %v", fit.UniverseMean, fit.FitMean)
	}
	if fit.SigmaFracErr != 0 {
		t.Errorf("Expected zero sigma disagreement on fallback, got %v", fit.SigmaFracErr)
	}
}

func TestFitUniverseDistributions_RequiresCompute(t *testing.T) {
	axis, err := flux.NewAxis([]flux.Key{{Horn: flux.HornFHC, Mode: flux.ModeNuE, Bin: 1}})
	if err != nil {
		t.Fatalf("Failed to build axis: %v", err)
	}
	table := flux.NewTable(4)
	table.Append(flux.Record{
		Flux: 1, Bin: 1, Category: flux.CategoryTotal,
		Mode: flux.ModeNuE, Horn: flux.HornFHC, RunID: nominalRun, Universe: 0,
	})
	table.Append(flux.Record{
		Flux: 1, Bin: 1, Category: flux.CategoryNominal,
		Mode: flux.ModeNuE, Horn: flux.HornFHC, RunID: nominalRun, Universe: flux.NoUniverse,
	})

	engine, err := New(table, axis, nominalRun, nil)
	if err != nil {
		t.Fatalf("Failed to construct engine: %v", err)
	}

	if _, err := engine.FitUniverseDistributions(); err == nil {
		t.Fatal("Expected fit diagnostics to fail before Compute")
	}
}
