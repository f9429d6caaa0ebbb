package testkit

import (
	"fmt"

	"fluxcov/domain/flux"
)

// UniformAxis builds an n-bin uniform [0, energyMax) binning for exactly the
// given modes and lays the horn-major axis over it.
func UniformAxis(horns []flux.HornPolarity, modes []flux.NeutrinoMode, bins int, energyMax float64) (*flux.Axis, *flux.Binning, error) {
	if len(modes) == 0 {
		return nil, nil, fmt.Errorf("no neutrino modes given")
	}
	if bins < 1 {
		return nil, nil, fmt.Errorf("bin count must be >= 1, got %d", bins)
	}
	if energyMax <= 0 {
		return nil, nil, fmt.Errorf("energy max must be > 0, got %g", energyMax)
	}
	edges := make([]float64, bins+1)
	step := energyMax / float64(bins)
	for i := range edges {
		edges[i] = float64(i) * step
	}
	edges[bins] = energyMax
	perMode := make(map[flux.NeutrinoMode][]float64, len(modes))
	for _, m := range modes {
		perMode[m] = edges
	}
	binning, err := flux.NewBinning(perMode)
	if err != nil {
		return nil, nil, err
	}
	axis, err := flux.NewAxisFromBinning(horns, binning)
	if err != nil {
		return nil, nil, err
	}
	return axis, binning, nil
}
