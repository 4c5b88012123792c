package potential

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/atomflow/internal/ctxlog"
	"github.com/vk/atomflow/internal/dataset"
	"github.com/vk/atomflow/internal/execution"
)

func testContext(t *testing.T) *execution.Context {
	t.Helper()
	ctx := ctxlog.WithLogger(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	ec, err := execution.NewContext(ctx, &execution.Config{
		Lanes: []execution.LaneConfig{{Name: "default", Workers: 2}},
	}, t.TempDir())
	require.NoError(t, err)
	return ec
}

func dimer(separation float64) *dataset.Configuration {
	return &dataset.Configuration{
		Numbers: []int{1, 1},
		Positions: [][3]float64{
			{0, 0, 0},
			{separation, 0, 0},
		},
		Cell: &[3][3]float64{{10, 0, 0}, {0, 10, 0}, {0, 0, 10}},
	}
}

func TestSpringEnergyAndForces(t *testing.T) {
	t.Parallel()

	spring := NewSpring(2.0, 1.0, false)

	// At the rest length the dimer is in equilibrium.
	res, err := spring.Compute(dimer(1.0))
	require.NoError(t, err)
	assert.InDelta(t, 0.0, res.Energy, 1e-12)
	assert.InDelta(t, 0.0, res.Forces[0][0], 1e-12)

	// Stretched by 0.5: E = 0.5 * k * dx^2, force pulls the atoms together.
	res, err = spring.Compute(dimer(1.5))
	require.NoError(t, err)
	assert.InDelta(t, 0.25, res.Energy, 1e-12)
	assert.InDelta(t, 1.0, res.Forces[0][0], 1e-12)
	assert.InDelta(t, -1.0, res.Forces[1][0], 1e-12)
	assert.Nil(t, res.Stress, "stress disabled")
}

func TestSpringForcesMatchNumericalGradient(t *testing.T) {
	t.Parallel()

	spring := NewSpring(3.0, 0.9, false)
	c := &dataset.Configuration{
		Numbers: []int{1, 1, 1},
		Positions: [][3]float64{
			{0.1, -0.2, 0.3},
			{1.1, 0.2, -0.1},
			{-0.4, 0.9, 0.5},
		},
	}
	res, err := spring.Compute(c)
	require.NoError(t, err)

	const h = 1e-6
	for i := range c.Positions {
		for x := 0; x < 3; x++ {
			bumped := c.Copy()
			bumped.Positions[i][x] += h
			plus, err := spring.Compute(bumped)
			require.NoError(t, err)
			bumped.Positions[i][x] -= 2 * h
			minus, err := spring.Compute(bumped)
			require.NoError(t, err)
			numerical := -(plus.Energy - minus.Energy) / (2 * h)
			assert.InDelta(t, numerical, res.Forces[i][x], 1e-5)
		}
	}
}

func TestSpringCoincidingAtoms(t *testing.T) {
	t.Parallel()

	spring := NewSpring(1.0, 1.0, false)
	_, err := spring.Compute(dimer(0.0))
	require.Error(t, err)
}

func TestSpringStressSupport(t *testing.T) {
	t.Parallel()

	without := NewSpring(1.0, 1.0, false)
	_, err := without.ComputeStress(dimer(1.5))
	assert.ErrorIs(t, err, ErrStressUnsupported)

	with := NewSpring(1.0, 1.0, true)
	res, err := with.ComputeStress(dimer(1.5))
	require.NoError(t, err)
	require.NotNil(t, res.Stress)
	// A stretched spring in a box of volume 1000 gives a tensile xx stress.
	expected := -(1.5 * (-1.0 * 0.5 / 1.5) * 1.5) / 1000.0
	assert.InDelta(t, expected, res.Stress[0][0], 1e-12)
	assert.False(t, math.IsNaN(res.Stress[1][1]))

	nonPeriodic := dimer(1.5)
	nonPeriodic.Cell = nil
	_, err = with.ComputeStress(nonPeriodic)
	require.Error(t, err)
}

func TestSpringModelDeployAndLoad(t *testing.T) {
	t.Parallel()

	ec := testContext(t)
	model := NewSpringModel(ec, 2.0, 1.0, true)

	_, err := model.Artifact("float32")
	require.Error(t, err, "artifacts exist only after deployment")

	require.NoError(t, model.Deploy("float32", "float64"))
	artifact, err := model.Artifact("float32")
	require.NoError(t, err)
	file, err := artifact.Result(context.Background())
	require.NoError(t, err)

	calc, err := model.Load()(file.Path(), "cpu", "float32")
	require.NoError(t, err)

	res, err := calc.Compute(dimer(1.5))
	require.NoError(t, err)
	assert.InDelta(t, 0.25, res.Energy, 1e-12)

	_, err = calc.ComputeStress(dimer(1.5))
	require.NoError(t, err, "stress support survives the artifact round trip")
}
