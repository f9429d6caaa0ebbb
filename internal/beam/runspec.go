package beam

import (
	"fmt"
	"sort"

	"fluxcov/domain/flux"
	apperrors "fluxcov/internal/errors"
)

// RunSpec names the beamline configuration run(s) measuring one systematic
// category: either a single one-sided variation, or a symmetric pair of
// opposite variations whose shifts are averaged.
type RunSpec struct {
	a, b   int
	paired bool
}

// Single builds the one-sided variant.
func Single(runID int) RunSpec { return RunSpec{a: runID} }

// Paired builds the symmetric two-run variant.
func Paired(runA, runB int) RunSpec { return RunSpec{a: runA, b: runB, paired: true} }

// ParseRunSpec converts a configured run id list into the matching variant.
func ParseRunSpec(runIDs []int) (RunSpec, error) {
	switch len(runIDs) {
	case 1:
		return Single(runIDs[0]), nil
	case 2:
		return Paired(runIDs[0], runIDs[1]), nil
	default:
		return RunSpec{}, apperrors.ConfigInvalid(
			fmt.Sprintf("a beam category maps to one or two run ids, got %d", len(runIDs)))
	}
}

// ParseCatalogue converts the configured category to run-id-list map into a
// RunSpec catalogue.
func ParseCatalogue(runs map[string][]int) (map[string]RunSpec, error) {
	catalogue := make(map[string]RunSpec, len(runs))
	for category, ids := range runs {
		spec, err := ParseRunSpec(ids)
		if err != nil {
			return nil, apperrors.Wrapf(err, "beam category %q", category)
		}
		catalogue[category] = spec
	}
	return catalogue, nil
}

// IsPaired reports whether the variant carries two runs.
func (r RunSpec) IsPaired() bool { return r.paired }

// RunIDs lists the run ids the variant carries.
func (r RunSpec) RunIDs() []int {
	if r.paired {
		return []int{r.a, r.b}
	}
	return []int{r.a}
}

func (r RunSpec) String() string {
	if r.paired {
		return fmt.Sprintf("runs %d/%d", r.a, r.b)
	}
	return fmt.Sprintf("run %d", r.a)
}

// CombineShifts applies the variant's averaging rule to the per-run shift
// series: the single variant passes its run's shift through, the paired
// variant averages the two. Negative zero is collapsed so zeroed bins stay
// exactly zero.
func (r RunSpec) CombineShifts(shifts map[int]*flux.Series) (*flux.Series, error) {
	first, ok := shifts[r.a]
	if !ok {
		return nil, flux.NewUnknownRunError(r.a)
	}
	if !r.paired {
		return first.Clone(), nil
	}
	second, ok := shifts[r.b]
	if !ok {
		return nil, flux.NewUnknownRunError(r.b)
	}
	values := make([]float64, len(first.Values))
	for i := range values {
		v := 0.5 * (first.Values[i] + second.Values[i])
		if v == 0 {
			v = 0 // collapse -0.0
		}
		values[i] = v
	}
	return flux.NewSeries(first.Axis, values)
}

func sortedCategories(runs map[string]RunSpec) []string {
	out := make([]string, 0, len(runs))
	for category := range runs {
		out = append(out, category)
	}
	sort.Strings(out)
	return out
}
