package dataset

import (
	"fmt"
	"math"
)

// pascal is one Pascal expressed in energy-per-volume model units
// (eV/Angstrom^3), used to report stress errors in MPa.
const pascal = 6.241509125883258e-12

// Supported metric names.
const (
	MetricMAE  = "mae"
	MetricRMSE = "rmse"
	MetricMax  = "max"
)

// Supported property names.
const (
	PropertyEnergy = "energy"
	PropertyForces = "forces"
	PropertyStress = "stress"
)

// ErrorOptions selects what Errors compares and how.
type ErrorOptions struct {
	// AtomIndices restricts the comparison to the given atoms; only
	// meaningful for forces.
	AtomIndices []int
	// Elements restricts the comparison to atoms of the given species;
	// only meaningful for forces.
	Elements []string
	// Metric is one of mae, rmse, max.
	Metric string
	// Properties lists the properties to compare; defaults to energy,
	// forces and stress when empty.
	Properties []string
}

// computeMetrics produces the (configurations x properties) error array.
// With second nil, the comparison is intrinsic: each property is compared
// against zero, reporting raw magnitudes. Structure mismatches between the
// two datasets are caller contract violations and fail the computation.
func computeMetrics(first, second []*Configuration, opts ErrorOptions) ([][]float64, error) {
	properties := opts.Properties
	if len(properties) == 0 {
		properties = []string{PropertyEnergy, PropertyForces, PropertyStress}
	}
	metric := opts.Metric
	if metric == "" {
		metric = MetricRMSE
	}

	intrinsic := second == nil
	if intrinsic {
		second = make([]*Configuration, len(first))
		for i, c := range first {
			ref := c.Copy()
			if ref.Energy != nil {
				zero := 0.0
				ref.Energy = &zero
			}
			if ref.Forces != nil {
				ref.Forces = make([][3]float64, len(ref.Numbers))
			}
			if ref.Stress != nil {
				ref.Stress = &[3][3]float64{}
			}
			second[i] = ref
		}
	}
	if len(first) != len(second) {
		return nil, fmt.Errorf("datasets differ in length: %d vs %d", len(first), len(second))
	}

	masked := len(opts.AtomIndices) > 0 || len(opts.Elements) > 0
	if masked {
		for _, p := range properties {
			if p != PropertyForces {
				return nil, fmt.Errorf("atom or element subsets only make sense for forces, not %q", p)
			}
		}
	}

	var errors [][]float64
	anyRow := false
	for i := range first {
		a, b := first[i], second[i]
		if err := assertSameStructure(a, b, i); err != nil {
			return nil, err
		}
		mask, err := selectionMask(a, opts.AtomIndices, opts.Elements)
		if err != nil {
			return nil, err
		}
		if !anySelected(mask) {
			// No target atoms in this configuration; the row is excluded
			// from the aggregate.
			continue
		}
		anyRow = true
		row := make([]float64, len(properties))
		for j, property := range properties {
			diffs, err := propertyDiffs(a, b, property, mask, i)
			if err != nil {
				return nil, err
			}
			row[j], err = aggregate(diffs, metric)
			if err != nil {
				return nil, err
			}
		}
		errors = append(errors, row)
	}
	if !anyRow {
		return nil, fmt.Errorf("no configuration contained atoms of interest")
	}
	return errors, nil
}

func assertSameStructure(a, b *Configuration, index int) error {
	if len(a.Numbers) != len(b.Numbers) {
		return fmt.Errorf("configuration %d: atom counts differ (%d vs %d)", index, len(a.Numbers), len(b.Numbers))
	}
	for k := range a.Numbers {
		if a.Numbers[k] != b.Numbers[k] {
			return fmt.Errorf("configuration %d: species differ at atom %d", index, k)
		}
		for x := 0; x < 3; x++ {
			if math.Abs(a.Positions[k][x]-b.Positions[k][x]) > 1e-8 {
				return fmt.Errorf("configuration %d: positions differ at atom %d", index, k)
			}
		}
	}
	if (a.Cell == nil) != (b.Cell == nil) {
		return fmt.Errorf("configuration %d: periodicity differs", index)
	}
	if a.Cell != nil {
		for r := 0; r < 3; r++ {
			for x := 0; x < 3; x++ {
				if math.Abs(a.Cell[r][x]-b.Cell[r][x]) > 1e-8 {
					return fmt.Errorf("configuration %d: cells differ", index)
				}
			}
		}
	}
	return nil
}

// selectionMask marks the atoms selected by index list and/or element
// list; with neither given, all atoms are selected.
func selectionMask(c *Configuration, atomIndices []int, elements []string) ([]bool, error) {
	mask := make([]bool, c.Len())
	if len(atomIndices) == 0 && len(elements) == 0 {
		for i := range mask {
			mask[i] = true
		}
		return mask, nil
	}
	byIndex := make([]bool, c.Len())
	if len(atomIndices) == 0 {
		for i := range byIndex {
			byIndex[i] = true
		}
	} else {
		for _, i := range atomIndices {
			if i < 0 || i >= c.Len() {
				return nil, fmt.Errorf("atom index %d out of range", i)
			}
			byIndex[i] = true
		}
	}
	byElement := make([]bool, c.Len())
	if len(elements) == 0 {
		for i := range byElement {
			byElement[i] = true
		}
	} else {
		wanted := make(map[int]bool, len(elements))
		for _, symbol := range elements {
			z, err := AtomicNumber(symbol)
			if err != nil {
				return nil, err
			}
			wanted[z] = true
		}
		for i, z := range c.Numbers {
			byElement[i] = wanted[z]
		}
	}
	for i := range mask {
		mask[i] = byIndex[i] && byElement[i]
	}
	return mask, nil
}

// propertyDiffs returns rows of componentwise differences in reporting
// units: meV/atom for energy, meV/Angstrom for forces, MPa for stress.
func propertyDiffs(a, b *Configuration, property string, mask []bool, index int) ([][]float64, error) {
	switch property {
	case PropertyEnergy:
		if a.Energy == nil || b.Energy == nil {
			return nil, fmt.Errorf("configuration %d: energy requested but absent", index)
		}
		perAtom := (*a.Energy/float64(a.Len()) - *b.Energy/float64(b.Len())) * 1000
		return [][]float64{{perAtom}}, nil
	case PropertyForces:
		if a.Forces == nil || b.Forces == nil {
			return nil, fmt.Errorf("configuration %d: forces requested but absent", index)
		}
		var rows [][]float64
		for k := range a.Forces {
			if !mask[k] {
				continue
			}
			rows = append(rows, []float64{
				(a.Forces[k][0] - b.Forces[k][0]) * 1000,
				(a.Forces[k][1] - b.Forces[k][1]) * 1000,
				(a.Forces[k][2] - b.Forces[k][2]) * 1000,
			})
		}
		return rows, nil
	case PropertyStress:
		if a.Stress == nil || b.Stress == nil {
			return nil, fmt.Errorf("configuration %d: stress requested but absent", index)
		}
		row := make([]float64, 0, 9)
		for r := 0; r < 3; r++ {
			for x := 0; x < 3; x++ {
				row = append(row, (a.Stress[r][x]-b.Stress[r][x])/(1e6*pascal))
			}
		}
		return [][]float64{row}, nil
	default:
		return nil, fmt.Errorf("unknown property %q", property)
	}
}

// aggregate folds difference rows into one scalar: mae is the mean
// absolute component, rmse the mean row norm, max the largest row norm.
func aggregate(rows [][]float64, metric string) (float64, error) {
	switch metric {
	case MetricMAE:
		sum, n := 0.0, 0
		for _, row := range rows {
			for _, v := range row {
				sum += math.Abs(v)
				n++
			}
		}
		if n == 0 {
			return 0, nil
		}
		return sum / float64(n), nil
	case MetricRMSE:
		sum := 0.0
		for _, row := range rows {
			sum += norm(row)
		}
		if len(rows) == 0 {
			return 0, nil
		}
		return sum / float64(len(rows)), nil
	case MetricMax:
		best := 0.0
		for _, row := range rows {
			if n := norm(row); n > best {
				best = n
			}
		}
		return best, nil
	default:
		return 0, fmt.Errorf("unknown metric %q", metric)
	}
}

func norm(row []float64) float64 {
	sum := 0.0
	for _, v := range row {
		sum += v * v
	}
	return math.Sqrt(sum)
}

func anySelected(mask []bool) bool {
	for _, m := range mask {
		if m {
			return true
		}
	}
	return false
}
