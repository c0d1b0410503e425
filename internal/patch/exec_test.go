package patch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_ApplyAddUpdateDelete(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.txt"), []byte("alpha\nbeta\n"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gone.txt"), []byte("bye\n"), 0o640))

	body := "*** Begin Patch\n" +
		"*** Add File: fresh.txt\n" +
		"+new content\n" +
		"*** Update File: keep.txt\n" +
		"@@\n" +
		"-beta\n" +
		"+BETA\n" +
		"*** Delete File: gone.txt\n" +
		"*** End Patch"

	hunks, err := Parse(body)
	require.NoError(t, err)

	reader := OSFileReader{Root: dir}
	changes, summaries, err := Plan(hunks, reader)
	require.NoError(t, err)

	executor := NewExecutor(dir)
	report, err := executor.Apply(context.Background(), changes, summaries)
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Len(t, report.Operations, 3)

	fresh, err := os.ReadFile(filepath.Join(dir, "fresh.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new content\n", string(fresh))

	kept, err := os.ReadFile(filepath.Join(dir, "keep.txt"))
	require.NoError(t, err)
	assert.Equal(t, "alpha\nBETA\n", string(kept))

	_, err = os.Stat(filepath.Join(dir, "gone.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestExecutor_RollsBackOnFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.txt"), []byte("alpha\nbeta\n"), 0o640))

	// The second hunk targets a file that doesn't exist; Plan would normally
	// catch this, but we construct the change list directly to exercise the
	// executor's own rollback path rather than the planner's validation.
	changes := []PlannedChange{
		{Kind: ChangeUpdate, Path: "keep.txt", DestPath: "keep.txt", NewContents: []byte("alpha\nBETA\n")},
		{Kind: ChangeDelete, Path: "missing.txt", DestPath: "missing.txt"},
	}
	summaries := []OperationSummary{
		{Path: "keep.txt", Kind: ChangeUpdate},
		{Path: "missing.txt", Kind: ChangeDelete},
	}

	executor := NewExecutor(dir)
	_, err := executor.Apply(context.Background(), changes, summaries)
	require.Error(t, err)

	kept, readErr := os.ReadFile(filepath.Join(dir, "keep.txt"))
	require.NoError(t, readErr)
	assert.Equal(t, "alpha\nbeta\n", string(kept), "the first change must be rolled back after the second fails")
}

func TestExecutor_Move(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.txt"), []byte("content\n"), 0o640))

	body := "*** Begin Patch\n" +
		"*** Update File: old.txt\n" +
		"*** Move to: new.txt\n" +
		"@@\n" +
		"-content\n" +
		"+moved content\n" +
		"*** End Patch"

	hunks, err := Parse(body)
	require.NoError(t, err)

	reader := OSFileReader{Root: dir}
	changes, summaries, err := Plan(hunks, reader)
	require.NoError(t, err)

	executor := NewExecutor(dir)
	_, err = executor.Apply(context.Background(), changes, summaries)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "old.txt"))
	assert.True(t, os.IsNotExist(err))

	moved, err := os.ReadFile(filepath.Join(dir, "new.txt"))
	require.NoError(t, err)
	assert.Equal(t, "moved content\n", string(moved))
}
