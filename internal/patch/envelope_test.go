package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_AddFile(t *testing.T) {
	t.Parallel()

	body := "*** Begin Patch\n" +
		"*** Add File: greeting.txt\n" +
		"+hello\n" +
		"+world\n" +
		"*** End Patch"

	hunks, err := Parse(body)
	require.NoError(t, err)
	require.Len(t, hunks, 1)

	h := hunks[0]
	assert.Equal(t, KindAdd, h.Kind)
	assert.Equal(t, "greeting.txt", h.Path)
	assert.Equal(t, "hello\nworld\n", h.Contents)
}

func TestParse_DeleteFile(t *testing.T) {
	t.Parallel()

	body := "*** Begin Patch\n*** Delete File: obsolete.txt\n*** End Patch"

	hunks, err := Parse(body)
	require.NoError(t, err)
	require.Len(t, hunks, 1)
	assert.Equal(t, KindDelete, hunks[0].Kind)
	assert.Equal(t, "obsolete.txt", hunks[0].Path)
}

func TestParse_UpdateFileWithMove(t *testing.T) {
	t.Parallel()

	body := "*** Begin Patch\n" +
		"*** Update File: old.go\n" +
		"*** Move to: new.go\n" +
		"@@ func Foo() {\n" +
		" line one\n" +
		"-line two\n" +
		"+line replaced\n" +
		" line three\n" +
		"*** End Patch"

	hunks, err := Parse(body)
	require.NoError(t, err)
	require.Len(t, hunks, 1)

	h := hunks[0]
	assert.Equal(t, KindUpdate, h.Kind)
	assert.Equal(t, "old.go", h.Path)
	assert.True(t, h.HasMove)
	assert.Equal(t, "new.go", h.MovePath)
	require.Len(t, h.Chunks, 1)

	chunk := h.Chunks[0]
	assert.True(t, chunk.HasContext)
	assert.Equal(t, "func Foo() {", chunk.ChangeContext)
	assert.Equal(t, []string{"line one", "line two", "line three"}, chunk.OldLines)
	assert.Equal(t, []string{"line one", "line replaced", "line three"}, chunk.NewLines)
}

func TestParse_EndOfFileChunk(t *testing.T) {
	t.Parallel()

	body := "*** Begin Patch\n" +
		"*** Update File: tail.txt\n" +
		"@@\n" +
		"-old tail\n" +
		"+new tail\n" +
		"*** End of File\n" +
		"*** End Patch"

	hunks, err := Parse(body)
	require.NoError(t, err)
	require.Len(t, hunks, 1)
	require.Len(t, hunks[0].Chunks, 1)
	assert.True(t, hunks[0].Chunks[0].IsEndOfFile)
}

func TestParse_MultipleHunks(t *testing.T) {
	t.Parallel()

	body := "*** Begin Patch\n" +
		"*** Add File: a.txt\n" +
		"+a\n" +
		"*** Delete File: b.txt\n" +
		"*** End Patch"

	hunks, err := Parse(body)
	require.NoError(t, err)
	require.Len(t, hunks, 2)
	assert.Equal(t, KindAdd, hunks[0].Kind)
	assert.Equal(t, KindDelete, hunks[1].Kind)
}

func TestParse_RejectsMissingBeginMarker(t *testing.T) {
	t.Parallel()

	_, err := Parse("*** Add File: a.txt\n+a\n*** End Patch")
	require.Error(t, err)
	var invalidPatch *InvalidPatchError
	assert.ErrorAs(t, err, &invalidPatch)
}

func TestParse_RejectsMissingEndMarker(t *testing.T) {
	t.Parallel()

	_, err := Parse("*** Begin Patch\n*** Add File: a.txt\n+a\n")
	require.Error(t, err)
}

func TestParse_RejectsEmptyPatch(t *testing.T) {
	t.Parallel()

	_, err := Parse("*** Begin Patch\n*** End Patch")
	require.Error(t, err)
}

func TestParse_RejectsUnknownHunkHeader(t *testing.T) {
	t.Parallel()

	_, err := Parse("*** Begin Patch\n*** Rename File: a.txt\n*** End Patch")
	require.Error(t, err)
	var invalidHunk *InvalidHunkError
	assert.ErrorAs(t, err, &invalidHunk)
}
