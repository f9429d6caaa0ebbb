package spectra

import (
	"testing"

	"fluxcov/domain/flux"
)

func TestParseHistName_Grammar(t *testing.T) {
	cases := []struct {
		name     string
		category string
		mode     flux.NeutrinoMode
		universe int
		ok       bool
	}{
		{"hnom_nue", flux.CategoryNominal, flux.ModeNuE, flux.NoUniverse, true},
		{"hnom_numubar", flux.CategoryNominal, flux.ModeNuMuBar, flux.NoUniverse, true},
		{"hcv_numu", flux.CategoryCentralValue, flux.ModeNuMu, flux.NoUniverse, true},
		{"hnom_nue_pipm", "pipm", flux.ModeNuE, flux.NoUniverse, true},
		{"htotal_numu_42", "total", flux.ModeNuMu, 42, true},
		{"hmesinc_nuebar_0", "mesinc", flux.ModeNuEBar, 0, true},
		{"hthin_na49_nue_7", "na49", flux.ModeNuE, 7, true},
		{"hthin_na49_qel_numu_3", "na49_qel", flux.ModeNuMu, 3, true},
		{"hpot", "", "", 0, false},
		{"nom_nue", "", "", 0, false},
		{"htotal_nutau_1", "", "", 0, false},
		{"htotal_numu_x", "", "", 0, false},
		{"htotal_numu_-3", "", "", 0, false},
		{"hnom_nue_pipm_extra", "", "", 0, false},
		{"h", "", "", 0, false},
	}

	for _, tc := range cases {
		info, ok := parseHistName(tc.name)
		if ok != tc.ok {
			t.Errorf("parseHistName(%q): expected ok=%v, got %v", tc.name, tc.ok, ok)
			continue
		}
		if !tc.ok {
			continue
		}
		if info.category != tc.category {
			t.Errorf("parseHistName(%q): expected category %q, got %q", tc.name, tc.category, info.category)
		}
		if info.mode != tc.mode {
			t.Errorf("parseHistName(%q): expected mode %s, got %s", tc.name, tc.mode, info.mode)
		}
		if info.universe != tc.universe {
			t.Errorf("parseHistName(%q): expected universe %d, got %d", tc.name, tc.universe, info.universe)
		}
	}
}

func TestParseFileName_RunAndHorn(t *testing.T) {
	cases := []struct {
		path  string
		runID int
		horn  flux.HornPolarity
		ok    bool
	}{
		{"flux_450.37_0015_-0200i.csv", 15, flux.HornRHC, true},
		{"flux_450.37_0015_0200i.csv", 15, flux.HornFHC, true},
		{"spectra_15_rhc.xlsx", 15, flux.HornRHC, true},
		{"spectra_8_fhc.csv", 8, flux.HornFHC, true},
		{"/some/dir/spectra_22_FHC.csv", 22, flux.HornFHC, true},
		{"noruns.csv", 0, "", false},
		{"flux_abc_fhc.csv", 0, "", false},
		{"flux_0_fhc.csv", 0, "", false},
	}

	for _, tc := range cases {
		runID, horn, err := parseFileName(tc.path)
		if tc.ok && err != nil {
			t.Errorf("parseFileName(%q): unexpected error %v", tc.path, err)
			continue
		}
		if !tc.ok {
			if err == nil {
				t.Errorf("parseFileName(%q): expected an error", tc.path)
			}
			continue
		}
		if runID != tc.runID {
			t.Errorf("parseFileName(%q): expected run %d, got %d", tc.path, tc.runID, runID)
		}
		if horn != tc.horn {
			t.Errorf("parseFileName(%q): expected horn %s, got %s", tc.path, tc.horn, horn)
		}
	}
}
