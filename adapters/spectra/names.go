package spectra

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"fluxcov/domain/flux"
	apperrors "fluxcov/internal/errors"
)

// histInfo is the decoded identity of one spectra histogram.
type histInfo struct {
	category string
	mode     flux.NeutrinoMode
	universe int // flux.NoUniverse unless the name carries a universe index
}

// parseHistName decodes the histogram naming convention: hnom_nue (nominal),
// hcv_numu (central value), hnom_nue_pipm (nominal split by parent),
// htotal_numubar_42 (universe row), hthin_na49_nue_7 (thin-target universe
// row with a compound category). Names outside the grammar report ok=false
// and are skipped by the reader.
func parseHistName(name string) (histInfo, bool) {
	if !strings.HasPrefix(name, "h") || len(name) < 2 {
		return histInfo{}, false
	}
	parts := strings.Split(name[1:], "_")

	switch {
	case len(parts) == 2 && parts[0] == "nom":
		return nominalInfo(flux.CategoryNominal, parts[1])
	case len(parts) == 2 && parts[0] == "cv":
		return nominalInfo(flux.CategoryCentralValue, parts[1])
	case len(parts) == 3 && parts[0] == "nom":
		return nominalInfo(parts[2], parts[1])
	case len(parts) >= 4 && parts[0] == "thin":
		category := strings.Join(parts[1:len(parts)-2], "_")
		return universeInfo(category, parts[len(parts)-2], parts[len(parts)-1])
	case len(parts) == 3:
		return universeInfo(parts[0], parts[1], parts[2])
	default:
		return histInfo{}, false
	}
}

func nominalInfo(category, modeName string) (histInfo, bool) {
	mode, err := flux.NewNeutrinoMode(modeName)
	if err != nil {
		return histInfo{}, false
	}
	return histInfo{category: category, mode: mode, universe: flux.NoUniverse}, true
}

func universeInfo(category, modeName, universeName string) (histInfo, bool) {
	mode, err := flux.NewNeutrinoMode(modeName)
	if err != nil {
		return histInfo{}, false
	}
	universe, err := strconv.Atoi(universeName)
	if err != nil || universe < 0 {
		return histInfo{}, false
	}
	return histInfo{category: category, mode: mode, universe: universe}, true
}

// parseFileName extracts the run id and horn polarity from a spectra file
// name. The run id is the second-to-last underscore segment; the polarity is
// reversed when the trailing segment carries a minus sign (a negative horn
// current) or spells rhc outright, e.g. flux_450.37_0015_-0200i.csv and
// spectra_15_rhc.xlsx are both RHC run 15.
func parseFileName(path string) (int, flux.HornPolarity, error) {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	parts := strings.Split(base, "_")
	if len(parts) < 2 {
		return 0, "", apperrors.InvalidInput(fmt.Sprintf("spectra file name %q has no run id segment", filepath.Base(path)))
	}

	horn := flux.HornFHC
	last := parts[len(parts)-1]
	if strings.Contains(last, "-") || strings.EqualFold(last, string(flux.HornRHC)) {
		horn = flux.HornRHC
	}

	runID, err := strconv.Atoi(parts[len(parts)-2])
	if err != nil || runID <= 0 {
		return 0, "", apperrors.InvalidInput(fmt.Sprintf("spectra file name %q has no run id before its final segment", filepath.Base(path)))
	}
	return runID, horn, nil
}
