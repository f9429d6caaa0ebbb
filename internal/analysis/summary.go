package analysis

import (
	"fmt"
	"strings"

	"fluxcov/domain/flux"
	apperrors "fluxcov/internal/errors"
)

// SummaryColumns are the flavor groups of the uncertainty table, in export
// order. The last column is the electron-to-muon flavor ratio.
var SummaryColumns = []string{
	"nue", "nuebar", "nue+nuebar",
	"numu", "numubar", "numu+numubar",
	"nue+nuebar/numu+numubar",
}

// SummaryRow is one uncertainty source integrated over the table's energy
// range for one horn polarity. Values align with SummaryColumns.
type SummaryRow struct {
	Source string
	Horn   flux.HornPolarity
	Values []float64
}

// SummaryTable tabulates fractional uncertainties per source, horn and
// flavor group over one energy range.
type SummaryTable struct {
	ELow    float64
	EHigh   float64
	Columns []string
	Rows    []SummaryRow
}

// UncertaintyTable integrates every uncertainty source over [elow, ehigh)
// and tabulates the fractional uncertainties per flavor group and horn.
// Sources appear in fixed order: Hadron, Beamline (when beam data was
// present), Statistical, Total.
func UncertaintyTable(total *Total, binning *flux.Binning, horns []flux.HornPolarity, elow, ehigh float64) (*SummaryTable, error) {
	if total == nil {
		return nil, apperrors.InputShape("uncertainty table needs an assembled total covariance")
	}
	sources := []struct {
		name string
		cov  *flux.Matrix
	}{
		{"Hadron", total.HadronAbsolute},
		{"Beamline", total.Beam},
		{"Statistical", total.Statistical},
		{"Total", total.Absolute},
	}

	table := &SummaryTable{ELow: elow, EHigh: ehigh, Columns: SummaryColumns}
	for _, source := range sources {
		if source.cov == nil {
			continue
		}
		for _, horn := range horns {
			row, err := summaryRow(source.name, source.cov, total.Prediction.Mean, binning, horn, elow, ehigh)
			if err != nil {
				return nil, apperrors.Wrapf(err, "summary row %s %s", source.name, horn)
			}
			table.Rows = append(table.Rows, row)
		}
	}
	return table, nil
}

func summaryRow(name string, cov *flux.Matrix, mean *flux.Series, binning *flux.Binning, horn flux.HornPolarity, elow, ehigh float64) (SummaryRow, error) {
	groups := [][]flux.NeutrinoMode{
		{flux.ModeNuE},
		{flux.ModeNuEBar},
		{flux.ModeNuE, flux.ModeNuEBar},
		{flux.ModeNuMu},
		{flux.ModeNuMuBar},
		{flux.ModeNuMu, flux.ModeNuMuBar},
	}
	values := make([]float64, 0, len(SummaryColumns))
	for _, modes := range groups {
		u, err := RangeUncertainty(cov, mean, binning, horn, modes, elow, ehigh)
		if err != nil {
			return SummaryRow{}, err
		}
		values = append(values, u)
	}
	ratio, err := RatioUncertainty(cov, mean, binning, horn, elow, ehigh)
	if err != nil {
		return SummaryRow{}, err
	}
	values = append(values, ratio)

	return SummaryRow{Source: name, Horn: horn, Values: values}, nil
}

// BinningDescriptor renders the axis layout in the text format downstream
// fitting frameworks consume: a header naming the variables, then one
// "isRHC pdg elow ehigh" line per matrix bin, in axis order.
func BinningDescriptor(axis *flux.Axis, binning *flux.Binning) (string, error) {
	lines := make([]string, 0, axis.Len()+1)
	lines = append(lines, "variables: isRHC NeutrinoCode Enu Enu")
	for _, k := range axis.Keys() {
		isRHC := 0
		if k.Horn == flux.HornRHC {
			isRHC = 1
		}
		edges := binning.Edges(k.Mode)
		if k.Bin < 1 || k.Bin > len(edges)-1 {
			return "", apperrors.InputShape(
				fmt.Sprintf("bin %d of %s %s has no edges in the binning", k.Bin, k.Horn, k.Mode))
		}
		lines = append(lines, fmt.Sprintf("%d %d %g %g", isRHC, k.Mode.PDGCode(), edges[k.Bin-1], edges[k.Bin]))
	}
	return strings.Join(lines, "\n"), nil
}
