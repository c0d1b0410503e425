package execsession

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressOutput_PassesThroughShortRuns(t *testing.T) {
	t.Parallel()

	lines := []string{"one", "two", "three"}
	result := CompressOutput(lines, true)
	assert.False(t, result.WasCompressed)
	assert.Equal(t, lines, result.Lines)
}

func TestCompressOutput_DisabledPassesThrough(t *testing.T) {
	t.Parallel()

	lines := make([]string, 100)
	for i := range lines {
		lines[i] = strconv.Itoa(i + 1)
	}
	result := CompressOutput(lines, false)
	assert.False(t, result.WasCompressed)
	assert.Len(t, result.Lines, 100)
}

func TestCompressOutput_SequentialCountersCollapse(t *testing.T) {
	t.Parallel()

	lines := make([]string, 30)
	for i := range lines {
		lines[i] = strconv.Itoa(i + 1)
	}
	result := CompressOutput(lines, true)
	require.True(t, result.WasCompressed)
	require.Len(t, result.Lines, 3)
	assert.Equal(t, "1", result.Lines[0])
	assert.Equal(t, "30", result.Lines[2])
	assert.Contains(t, result.Guidance, "stop_pattern")
}

func TestCompressOutput_SequentialDetectionAtLargeScale(t *testing.T) {
	t.Parallel()

	lines := make([]string, 5000)
	for i := range lines {
		lines[i] = strconv.Itoa(i + 1)
	}
	assert.True(t, isSequentialNumbers(lines))

	lines[2495] = "not-a-number-actually"
	assert.False(t, isSequentialNumbers(lines))
}

func TestCompressOutput_NonSequentialLargeRunSamples(t *testing.T) {
	t.Parallel()

	lines := make([]string, 1200)
	for i := range lines {
		lines[i] = "log line " + strconv.Itoa(i)
	}
	result := CompressOutput(lines, true)
	require.True(t, result.WasCompressed)
	assert.Equal(t, "log line 0", result.Lines[0])
	assert.Equal(t, "log line 1199", result.Lines[len(result.Lines)-1])
}
