package sampling

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalkerSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	ec := testContext(t)
	pars := DefaultParameters()
	pars.Seed = 7
	pars.Temperature = 450

	w := New(ec, RandomKind{}, hydrogenCluster(), pars)
	state, _, err := w.Propagate(PropagateOptions{})
	require.NoError(t, err)
	propagated, err := state.Result(context.Background())
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "walker")
	require.NoError(t, w.Save(context.Background(), dir))

	loaded, err := LoadWalker(ec, dir, map[string]Kind{"random": RandomKind{}})
	require.NoError(t, err)
	assert.Equal(t, "random", loaded.Kind().Kind())
	assert.EqualValues(t, 7, loaded.Parameters.Seed)
	assert.InDelta(t, 450.0, loaded.Parameters.Temperature, 1e-12)

	start, err := loaded.Start().Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, hydrogenCluster().Numbers, start.Numbers)

	current, err := loaded.State().Result(context.Background())
	require.NoError(t, err)
	for i := range propagated.Positions {
		assert.InDeltaSlice(t, propagated.Positions[i][:], current.Positions[i][:], 1e-10)
	}
}

func TestLoadWalkerUnknownStrategy(t *testing.T) {
	t.Parallel()

	ec := testContext(t)
	w := New(ec, RandomKind{}, hydrogenCluster(), DefaultParameters())
	dir := filepath.Join(t.TempDir(), "walker")
	require.NoError(t, w.Save(context.Background(), dir))

	_, err := LoadWalker(ec, dir, map[string]Kind{})
	require.Error(t, err)
}

func TestEnsembleSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	ec := testContext(t)
	template := New(ec, RandomKind{}, hydrogenCluster(), DefaultParameters())
	e, err := FromWalker(template, 3)
	require.NoError(t, err)

	// Attach a bias with an on-disk artifact to the middle walker.
	artifact, err := ec.NewFile("bias_", ".txt")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(artifact.Path(), []byte("HEADER\nHILL 1\n"), 0o644))
	b := NewBias(ec, "metad: cv volume")
	b.AttachArtifact("hills", artifact)
	e.Biases()[1] = b

	dir := filepath.Join(t.TempDir(), "ensemble")
	require.NoError(t, e.Save(context.Background(), dir))

	loaded, err := LoadEnsemble(ec, dir, map[string]Kind{"random": RandomKind{}})
	require.NoError(t, err)
	require.Equal(t, 3, loaded.Size())
	for i, w := range loaded.Walkers() {
		assert.EqualValues(t, i, w.Parameters.Seed)
	}

	assert.Nil(t, loaded.Biases()[0])
	require.NotNil(t, loaded.Biases()[1])
	assert.Equal(t, "metad: cv volume", loaded.Biases()[1].Input())

	restored, err := loaded.Biases()[1].Artifact("hills")
	require.NoError(t, err)
	file, err := restored.Result(context.Background())
	require.NoError(t, err)
	content, err := os.ReadFile(file.Path())
	require.NoError(t, err)
	assert.Equal(t, "HEADER\nHILL 1\n", string(content))

	// The persisted artifact is a copy, detached from the run directory.
	assert.NotEqual(t, artifact.Path(), file.Path())
}
