package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePositionalDataPath(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	config, shouldExit, err := Parse([]string{"snapshots.xyz"}, out)
	require.NoError(t, err)
	require.False(t, shouldExit)
	assert.Equal(t, "snapshots.xyz", config.DataPath)
	assert.Equal(t, "atomflow.hcl", config.ConfigPath, "the config path has a default")
	assert.Equal(t, "json", config.LogFormat)
	assert.Equal(t, "info", config.LogLevel)
}

func TestParseFlagsOverrideDefaults(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	config, shouldExit, err := Parse([]string{
		"--data", "snapshots.xyz",
		"--config", "cluster.hcl",
		"--workdir", "/scratch/run42",
		"--log-format", "TEXT",
		"--log-level", "DEBUG",
	}, out)
	require.NoError(t, err)
	require.False(t, shouldExit)
	assert.Equal(t, "snapshots.xyz", config.DataPath)
	assert.Equal(t, "cluster.hcl", config.ConfigPath)
	assert.Equal(t, "/scratch/run42", config.WorkDir)
	assert.Equal(t, "text", config.LogFormat, "format is normalized to lower case")
	assert.Equal(t, "debug", config.LogLevel)
}

func TestParseNoArgumentsPrintsUsage(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	config, shouldExit, err := Parse(nil, out)
	require.NoError(t, err)
	assert.True(t, shouldExit)
	assert.Nil(t, config)
	assert.Contains(t, out.String(), "Usage:")
}

func TestParseInvalidLogSettings(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	_, _, err := Parse([]string{"--log-format", "xml", "data.xyz"}, out)
	require.Error(t, err)
	exitErr, ok := err.(*ExitError)
	require.True(t, ok)
	assert.Equal(t, 2, exitErr.Code)

	_, _, err = Parse([]string{"--log-level", "verbose", "data.xyz"}, out)
	require.Error(t, err)
}

func TestParseShorthandDataFlag(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	config, _, err := Parse([]string{"-d", "short.xyz"}, out)
	require.NoError(t, err)
	assert.Equal(t, "short.xyz", config.DataPath)
}
