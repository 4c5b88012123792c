package dataset

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFrameLayout(t *testing.T) {
	t.Parallel()

	c := water(-7.5)
	c.Info = map[string]string{"origin": "md run 3"}
	var buf bytes.Buffer
	require.NoError(t, WriteConfigurations(&buf, []*Configuration{c}))

	lines := strings.Split(buf.String(), "\n")
	assert.Equal(t, "3", lines[0])
	assert.Contains(t, lines[1], "Lattice=\"")
	assert.Contains(t, lines[1], "Properties=species:S:1:pos:R:3:forces:R:3")
	assert.Contains(t, lines[1], "energy=")
	assert.Contains(t, lines[1], "reference_status=T")
	assert.Contains(t, lines[1], `origin="md run 3"`)
	assert.True(t, strings.HasPrefix(lines[2], "O "), "atom lines carry element symbols")
	assert.True(t, strings.HasPrefix(lines[3], "H "))
}

func TestReadWriteNonPeriodicWithoutProperties(t *testing.T) {
	t.Parallel()

	c := &Configuration{
		Numbers:   []int{6, 8},
		Positions: [][3]float64{{0, 0, 0}, {1.13, 0, 0}},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteConfigurations(&buf, []*Configuration{c}))
	assert.NotContains(t, buf.String(), "Lattice")
	assert.NotContains(t, buf.String(), "forces")

	got, err := ReadConfigurations(&buf)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Cell)
	assert.Nil(t, got[0].Energy)
	assert.Nil(t, got[0].Forces)
	assert.False(t, got[0].Periodic())
	assert.Equal(t, []int{6, 8}, got[0].Numbers)
}

func TestQuotedValuesSurviveRoundTrip(t *testing.T) {
	t.Parallel()

	c := water(-1.0)
	c.ReferenceLog = "line1\nback\\slash and \"quotes\""
	c.Info = map[string]string{"note": "contains = and spaces"}

	var buf bytes.Buffer
	require.NoError(t, WriteConfigurations(&buf, []*Configuration{c}))
	got, err := ReadConfigurations(&buf)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, c.ReferenceLog, got[0].ReferenceLog)
	assert.Equal(t, "contains = and spaces", got[0].Info["note"])
}

func TestReadMultipleFramesWithBlankSeparators(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteConfigurations(&buf, []*Configuration{water(-1), water(-2)}))
	text := strings.Replace(buf.String(), "\n3\n", "\n\n3\n", 1)

	got, err := ReadConfigurations(strings.NewReader(text))
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestReadMalformedInput(t *testing.T) {
	t.Parallel()

	_, err := ReadConfigurations(strings.NewReader("two\ncomment\n"))
	require.Error(t, err)

	_, err = ReadConfigurations(strings.NewReader("2\nProperties=species:S:1:pos:R:3\nH 0 0 0\n"))
	require.Error(t, err, "truncated frames are rejected")

	_, err = ReadConfigurations(strings.NewReader("1\nreference_log=\"unterminated\nH 0 0 0\n"))
	require.Error(t, err)

	_, err = ReadConfigurations(strings.NewReader("1\nProperties=species:S:1:pos:R:3\nXx 0 0 0\n"))
	require.Error(t, err, "unknown element symbols are rejected")
}
