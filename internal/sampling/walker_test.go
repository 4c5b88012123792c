package sampling

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/atomflow/internal/ctxlog"
	"github.com/vk/atomflow/internal/dataset"
	"github.com/vk/atomflow/internal/execution"
	"github.com/vk/atomflow/internal/potential"
)

func testContext(t *testing.T) *execution.Context {
	t.Helper()
	ctx := ctxlog.WithLogger(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	ec, err := execution.NewContext(ctx, &execution.Config{
		Lanes: []execution.LaneConfig{
			{Name: "default", Workers: 4},
			{Name: "model", Workers: 4},
		},
		Definitions: []execution.Definition{
			&execution.ModelExecution{Lane: "model", Device: "cpu", Dtype: "float32"},
		},
	}, t.TempDir())
	require.NoError(t, err)
	return ec
}

func hydrogenCluster() *dataset.Configuration {
	return &dataset.Configuration{
		Numbers: []int{1, 1, 1},
		Positions: [][3]float64{
			{0, 0, 0},
			{1.2, 0, 0},
			{0, 1.2, 0},
		},
		Cell: &[3][3]float64{{8, 0, 0}, {0, 8, 0}, {0, 0, 8}},
	}
}

func deployedSpring(t *testing.T, ec *execution.Context, stress bool) *potential.SpringModel {
	t.Helper()
	model := potential.NewSpringModel(ec, 1.0, 1.0, stress)
	require.NoError(t, model.Deploy("float32", "float64"))
	return model
}

// stubEngine is a scriptable dynamics engine. It moves the first atom by
// a fixed displacement per call and can fail its first few calls.
type stubEngine struct {
	displacement float64
	failFirst    int32
	hardErr      error
	appendBias   string
	calls        atomic.Int32
}

func (e *stubEngine) Run(ctx context.Context, req EngineRequest) (EngineResult, error) {
	call := e.calls.Add(1)
	for _, path := range sortedPaths(req.BiasArtifacts) {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return EngineResult{}, err
		}
		if _, err := f.WriteString(e.appendBias); err != nil {
			f.Close()
			return EngineResult{}, err
		}
		f.Close()
	}
	if e.hardErr != nil {
		return EngineResult{}, e.hardErr
	}
	first := req.State.Copy()
	moved := req.State.Copy()
	moved.Positions[0][0] += e.displacement
	if call <= e.failFirst {
		return EngineResult{Frames: []*dataset.Configuration{first}}, fmt.Errorf("atom 0: %w", ErrForceExceeded)
	}
	return EngineResult{Frames: []*dataset.Configuration{first, moved}}, nil
}

func sortedPaths(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	return out
}

func TestRandomWalkerSeedDeterminism(t *testing.T) {
	t.Parallel()

	ec := testContext(t)
	pars := DefaultParameters()
	pars.Seed = 17

	a := New(ec, RandomKind{}, hydrogenCluster(), pars)
	a.Parameters = pars
	b := New(ec, RandomKind{}, hydrogenCluster(), pars)
	b.Parameters = pars

	stateA, _, err := a.Propagate(PropagateOptions{})
	require.NoError(t, err)
	stateB, _, err := b.Propagate(PropagateOptions{})
	require.NoError(t, err)

	ca, err := stateA.Result(context.Background())
	require.NoError(t, err)
	cb, err := stateB.Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ca.Positions, cb.Positions, "identical seeds walk identically")

	tag, err := a.TagFuture().Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TagSafe, tag)

	// A different seed diverges.
	c := New(ec, RandomKind{}, hydrogenCluster(), pars)
	c.Parameters.Seed = 18
	stateC, _, err := c.Propagate(PropagateOptions{})
	require.NoError(t, err)
	cc, err := stateC.Result(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, ca.Positions, cc.Positions)
}

func TestWalkerCopyIsIndependent(t *testing.T) {
	t.Parallel()

	ec := testContext(t)
	original := New(ec, RandomKind{}, hydrogenCluster(), DefaultParameters())
	replica := original.Copy()
	replica.Parameters.Seed = 99

	_, _, err := replica.Propagate(PropagateOptions{})
	require.NoError(t, err)

	// The original walker still sits on its start configuration.
	c, err := original.State().Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, hydrogenCluster().Positions, c.Positions)
	assert.EqualValues(t, 0, original.Parameters.Seed)
}

func TestDynamicWalkerPropagates(t *testing.T) {
	t.Parallel()

	ec := testContext(t)
	engine := &stubEngine{displacement: 0.3}
	model := deployedSpring(t, ec, false)

	w := New(ec, DynamicKind{Engine: engine}, hydrogenCluster(), DefaultParameters())
	state, traj, err := w.Propagate(PropagateOptions{Model: model, KeepTrajectory: true})
	require.NoError(t, err)

	c, err := state.Result(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.3, c.Positions[0][0], 1e-12)
	assert.Nil(t, c.Energy, "propagation output carries no stale properties")

	tag, err := w.TagFuture().Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TagSafe, tag)

	require.NotNil(t, traj)
	frames, err := traj.AsList(context.Background())
	require.NoError(t, err)
	assert.Len(t, frames, 2)
}

func TestDynamicWalkerForceViolationIsUnsafe(t *testing.T) {
	t.Parallel()

	ec := testContext(t)
	engine := &stubEngine{displacement: 0.3, failFirst: 1}
	model := deployedSpring(t, ec, false)

	w := New(ec, DynamicKind{Engine: engine}, hydrogenCluster(), DefaultParameters())
	state, _, err := w.Propagate(PropagateOptions{Model: model})
	require.NoError(t, err)

	_, err = state.Result(context.Background())
	require.NoError(t, err, "a force violation is recovered, not surfaced")
	tag, err := w.TagFuture().Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TagUnsafe, tag)

	reset, err := w.IsReset().Result(context.Background())
	require.NoError(t, err)
	assert.False(t, reset)

	w.ResetIfUnsafe()
	c, err := w.State().Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, hydrogenCluster().Positions, c.Positions, "reset reverts to the start configuration")
	reset, err = w.IsReset().Result(context.Background())
	require.NoError(t, err)
	assert.True(t, reset)
}

func TestResetIfUnsafeIsNoOpWhenSafe(t *testing.T) {
	t.Parallel()

	ec := testContext(t)
	w := New(ec, RandomKind{}, hydrogenCluster(), DefaultParameters())
	state, _, err := w.Propagate(PropagateOptions{})
	require.NoError(t, err)
	propagated, err := state.Result(context.Background())
	require.NoError(t, err)

	w.ResetIfUnsafe()
	c, err := w.State().Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, propagated.Positions, c.Positions)
	tag, err := w.TagFuture().Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TagSafe, tag)
}

func TestDynamicWalkerPressureNeedsStress(t *testing.T) {
	t.Parallel()

	ec := testContext(t)
	engine := &stubEngine{displacement: 0.3}
	model := deployedSpring(t, ec, false)

	pars := DefaultParameters()
	pressure := 0.0
	pars.Pressure = &pressure

	w := New(ec, DynamicKind{Engine: engine}, hydrogenCluster(), pars)
	w.Parameters = pars
	state, _, err := w.Propagate(PropagateOptions{Model: model})
	require.NoError(t, err)

	_, err = state.Result(context.Background())
	require.ErrorIs(t, err, potential.ErrStressUnsupported,
		"a stress-less model cannot drive pressure-controlled dynamics")
}

func TestSafetyCheckDiscardsUnsafeState(t *testing.T) {
	t.Parallel()

	ec := testContext(t)
	engine := &stubEngine{displacement: 0.3, failFirst: 1}
	model := deployedSpring(t, ec, false)

	w := New(ec, DynamicKind{Engine: engine}, hydrogenCluster(), DefaultParameters())
	state, _, err := w.Propagate(PropagateOptions{Model: model}, SafetyCheck{})
	require.NoError(t, err)

	c, err := state.Result(context.Background())
	require.NoError(t, err)
	assert.Nil(t, c, "the check discards the state without failing")

	// The walker's own state is untouched by the check chain.
	own, err := w.State().Result(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, own)
}

func TestDistanceCheck(t *testing.T) {
	t.Parallel()

	ec := testContext(t)
	w := New(ec, RandomKind{}, hydrogenCluster(), DefaultParameters())

	state, _, err := w.Propagate(PropagateOptions{}, DistanceCheck{Threshold: 0.3})
	require.NoError(t, err)
	c, err := state.Result(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, c, "atoms 1.2 apart pass a 0.3 threshold")

	state, _, err = w.Propagate(PropagateOptions{}, DistanceCheck{Threshold: 5.0})
	require.NoError(t, err)
	c, err = state.Result(context.Background())
	require.NoError(t, err)
	assert.Nil(t, c, "an aggressive threshold rejects the cluster")
}

// stubOptimizer relaxes by snapping the first atom to the origin, or gives
// up when told to.
type stubOptimizer struct {
	converge bool
}

func (o *stubOptimizer) Run(ctx context.Context, req OptimizeRequest) (OptimizeResult, error) {
	relaxed := req.State.Copy()
	relaxed.Positions[0] = [3]float64{0, 0, 0}
	frames := []*dataset.Configuration{req.State.Copy(), relaxed}
	if !o.converge {
		return OptimizeResult{Frames: frames}, fmt.Errorf("fmax %g: %w", req.Fmax, ErrNotConverged)
	}
	return OptimizeResult{Frames: frames}, nil
}

func TestOptimizationWalker(t *testing.T) {
	t.Parallel()

	ec := testContext(t)
	model := deployedSpring(t, ec, false)

	start := hydrogenCluster()
	start.Positions[0] = [3]float64{0.4, 0.4, 0}
	w := New(ec, OptimizationKind{Optimizer: &stubOptimizer{converge: true}}, start, DefaultParameters())

	state, _, err := w.Propagate(PropagateOptions{Model: model})
	require.NoError(t, err)
	c, err := state.Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [3]float64{0, 0, 0}, c.Positions[0])

	tag, err := w.TagFuture().Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TagSafe, tag)
}

func TestOptimizationWalkerNonConvergenceIsUnsafe(t *testing.T) {
	t.Parallel()

	ec := testContext(t)
	model := deployedSpring(t, ec, false)

	w := New(ec, OptimizationKind{Optimizer: &stubOptimizer{}}, hydrogenCluster(), DefaultParameters())
	state, _, err := w.Propagate(PropagateOptions{Model: model})
	require.NoError(t, err)
	_, err = state.Result(context.Background())
	require.NoError(t, err)

	tag, err := w.TagFuture().Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TagUnsafe, tag)
}

func TestOptimizationCellNeedsStress(t *testing.T) {
	t.Parallel()

	ec := testContext(t)
	model := deployedSpring(t, ec, false)

	pars := DefaultParameters()
	pars.OptimizeCell = true
	w := New(ec, OptimizationKind{Optimizer: &stubOptimizer{converge: true}}, hydrogenCluster(), pars)
	w.Parameters = pars

	state, _, err := w.Propagate(PropagateOptions{Model: model})
	require.NoError(t, err)
	_, err = state.Result(context.Background())
	require.ErrorIs(t, err, potential.ErrStressUnsupported)
}

func TestBiasArtifactThreading(t *testing.T) {
	t.Parallel()

	ec := testContext(t)
	engine := &stubEngine{displacement: 0.1, appendBias: "HILL 1\n"}
	model := deployedSpring(t, ec, false)

	seedFile, err := ec.NewFile("bias_", ".txt")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(seedFile.Path(), []byte("HEADER\n"), 0o644))

	b := NewBias(ec, "metad: cv distance")
	b.AttachArtifact("hills", seedFile)

	w := New(ec, DynamicKind{Engine: engine}, hydrogenCluster(), DefaultParameters())
	state, _, err := w.Propagate(PropagateOptions{Model: model, Bias: b})
	require.NoError(t, err)
	_, err = state.Result(context.Background())
	require.NoError(t, err)

	current, err := b.Artifact("hills")
	require.NoError(t, err)
	file, err := current.Result(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, seedFile.Path(), file.Path(), "each propagation produces a fresh artifact version")

	content, err := os.ReadFile(file.Path())
	require.NoError(t, err)
	assert.Equal(t, "HEADER\nHILL 1\n", string(content))

	// The seed version is immutable history.
	original, err := os.ReadFile(seedFile.Path())
	require.NoError(t, err)
	assert.Equal(t, "HEADER\n", string(original))
}

func TestBiasArtifactRestoredOnUnsafeRun(t *testing.T) {
	t.Parallel()

	ec := testContext(t)
	engine := &stubEngine{displacement: 0.1, appendBias: "HILL poisoned\n", failFirst: 1}
	model := deployedSpring(t, ec, false)

	seedFile, err := ec.NewFile("bias_", ".txt")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(seedFile.Path(), []byte("HEADER\n"), 0o644))

	b := NewBias(ec, "metad: cv distance")
	b.AttachArtifact("hills", seedFile)

	w := New(ec, DynamicKind{Engine: engine}, hydrogenCluster(), DefaultParameters())
	state, _, err := w.Propagate(PropagateOptions{Model: model, Bias: b})
	require.NoError(t, err)
	_, err = state.Result(context.Background())
	require.NoError(t, err)

	tag, err := w.TagFuture().Result(context.Background())
	require.NoError(t, err)
	require.Equal(t, TagUnsafe, tag)

	current, err := b.Artifact("hills")
	require.NoError(t, err)
	file, err := current.Result(context.Background())
	require.NoError(t, err)
	content, err := os.ReadFile(file.Path())
	require.NoError(t, err)
	assert.Equal(t, "HEADER\n", string(content), "unsafe runs do not contaminate accumulated bias state")
}
