package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiffHint_IdenticalSequencesReturnNil(t *testing.T) {
	t.Parallel()

	hint := diffHint([]string{"a", "b"}, []string{"a", "b"})
	assert.Nil(t, hint)
}

func TestDiffHint_RendersChangedLine(t *testing.T) {
	t.Parallel()

	hint := diffHint([]string{"alpha", "beta", "gamma"}, []string{"alpha", "BETA", "gamma"})
	assert.Equal(t, []string{"- beta", "+ BETA"}, hint)
}

func TestDiffHint_RendersLengthMismatch(t *testing.T) {
	t.Parallel()

	hint := diffHint([]string{"alpha", "beta"}, []string{"alpha"})
	assert.Equal(t, []string{"- beta"}, hint)
}

func TestDiffHint_CapsLongDiffs(t *testing.T) {
	t.Parallel()

	var expected, actual []string
	for i := 0; i < 30; i++ {
		expected = append(expected, "line")
		actual = append(actual, "LINE")
	}

	hint := diffHint(expected, actual)
	assert.LessOrEqual(t, len(hint), maxDiffHintLines)
}
