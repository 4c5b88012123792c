package potential

import (
	"context"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vk/atomflow/internal/dataset"
	"github.com/vk/atomflow/internal/execution"
	"github.com/vk/atomflow/internal/future"
)

// springParams is the persisted artifact content of a Spring model.
type springParams struct {
	Constant   float64 `yaml:"constant"`
	RestLength float64 `yaml:"rest_length"`
	// Stress toggles stress support, so tests can exercise both the
	// supported and the unsupported path.
	Stress bool `yaml:"stress"`
}

// Spring is a pairwise harmonic calculator. It is not a physical model;
// it is the cheap stand-in used by tests and the CLI demo, the role the
// original project gave its EMT reference.
type Spring struct {
	params springParams
}

// NewSpring builds a spring calculator directly, without an artifact.
func NewSpring(constant, restLength float64, stress bool) *Spring {
	return &Spring{params: springParams{Constant: constant, RestLength: restLength, Stress: stress}}
}

// Compute evaluates energy and forces.
func (s *Spring) Compute(c *dataset.Configuration) (Result, error) {
	if err := c.Validate(); err != nil {
		return Result{}, err
	}
	n := c.Len()
	res := Result{Forces: make([][3]float64, n)}
	var virial [3][3]float64
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			var d [3]float64
			r := 0.0
			for x := 0; x < 3; x++ {
				d[x] = c.Positions[i][x] - c.Positions[j][x]
				r += d[x] * d[x]
			}
			r = math.Sqrt(r)
			if r == 0 {
				return Result{}, fmt.Errorf("atoms %d and %d coincide", i, j)
			}
			stretch := r - s.params.RestLength
			res.Energy += 0.5 * s.params.Constant * stretch * stretch
			scale := -s.params.Constant * stretch / r
			for x := 0; x < 3; x++ {
				f := scale * d[x]
				res.Forces[i][x] += f
				res.Forces[j][x] -= f
				for y := 0; y < 3; y++ {
					virial[x][y] += d[x] * scale * d[y]
				}
			}
		}
	}
	if s.params.Stress && c.Cell != nil {
		volume := cellVolume(c.Cell)
		var stress [3][3]float64
		for x := 0; x < 3; x++ {
			for y := 0; y < 3; y++ {
				stress[x][y] = -virial[x][y] / volume
			}
		}
		res.Stress = &stress
	}
	return res, nil
}

// ComputeStress evaluates including stress, or reports the capability gap.
func (s *Spring) ComputeStress(c *dataset.Configuration) (Result, error) {
	if !s.params.Stress {
		return Result{}, fmt.Errorf("spring calculator: %w", ErrStressUnsupported)
	}
	if c.Cell == nil {
		return Result{}, fmt.Errorf("stress of a non-periodic configuration is undefined")
	}
	return s.Compute(c)
}

func cellVolume(cell *[3][3]float64) float64 {
	a, b, c := cell[0], cell[1], cell[2]
	return math.Abs(a[0]*(b[1]*c[2]-b[2]*c[1]) - a[1]*(b[0]*c[2]-b[2]*c[0]) + a[2]*(b[0]*c[1]-b[1]*c[0]))
}

// SpringModel is the Model implementation wrapping Spring: deployment
// writes the parameters as a yaml artifact, loading reads them back.
type SpringModel struct {
	ec        *execution.Context
	params    springParams
	artifacts map[string]*future.Future[execution.File]
}

// NewSpringModel creates an undeployed model bound to a context.
func NewSpringModel(ec *execution.Context, constant, restLength float64, stress bool) *SpringModel {
	return &SpringModel{
		ec:        ec,
		params:    springParams{Constant: constant, RestLength: restLength, Stress: stress},
		artifacts: make(map[string]*future.Future[execution.File]),
	}
}

// Deploy writes the model artifact for each requested precision.
func (m *SpringModel) Deploy(dtypes ...string) error {
	for _, dtype := range dtypes {
		out, err := m.ec.NewFile("model_", ".yaml")
		if err != nil {
			return err
		}
		params := m.params
		m.artifacts[dtype] = execution.Submit(m.ec, "default", nil, func(ctx context.Context) (execution.File, error) {
			raw, err := yaml.Marshal(params)
			if err != nil {
				return execution.File{}, err
			}
			if err := os.WriteFile(out.Path(), raw, 0o644); err != nil {
				return execution.File{}, err
			}
			return out, nil
		})
	}
	return nil
}

// Artifact returns the deployed artifact for a precision.
func (m *SpringModel) Artifact(dtype string) (*future.Future[execution.File], error) {
	artifact, ok := m.artifacts[dtype]
	if !ok {
		return nil, fmt.Errorf("model not deployed for dtype %q", dtype)
	}
	return artifact, nil
}

// Load implements the calculator loading contract.
func (m *SpringModel) Load() LoadFunc {
	return func(artifactPath, device, dtype string) (Calculator, error) {
		raw, err := os.ReadFile(artifactPath)
		if err != nil {
			return nil, fmt.Errorf("reading model artifact: %w", err)
		}
		var params springParams
		if err := yaml.Unmarshal(raw, &params); err != nil {
			return nil, fmt.Errorf("parsing model artifact: %w", err)
		}
		return &Spring{params: params}, nil
	}
}
