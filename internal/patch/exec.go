package patch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"

	"github.com/entirecore/agentcore/internal/logging"
)

// backupRecord remembers enough about one file's pre-change state to undo
// a PlannedChange: either the original bytes (for Update/Delete/Move) or
// simply that the path did not previously exist (for Add).
type backupRecord struct {
	change      PlannedChange
	existed     bool
	prior       []byte
	priorMode   os.FileMode
	wroteDest   bool
}

// Executor applies a plan to the real filesystem transactionally: every
// write is preceded by an in-memory backup, and if any step fails every
// completed step is undone in reverse order before the error is returned
// (spec.md §4.3).
type Executor struct {
	Root string
}

// NewExecutor returns an Executor rooted at root. Paths produced by Plan are
// resolved relative to root.
func NewExecutor(root string) *Executor {
	return &Executor{Root: root}
}

// Apply performs every PlannedChange in order. On success it returns a
// Report describing what happened and, if root sits inside a git
// repository, stages the touched paths into the index as a post-success
// hook (spec.md §4.4) — a staging failure is logged but does not fail the
// patch, since the files themselves were already committed to disk
// successfully.
func (ex *Executor) Apply(ctx context.Context, changes []PlannedChange, summaries []OperationSummary) (*Report, error) {
	ctx = logging.WithComponent(ctx, "patch")
	var records []backupRecord

	rollback := func() {
		for i := len(records) - 1; i >= 0; i-- {
			r := records[i]
			dest := ex.abs(r.change.DestPath)
			if r.wroteDest {
				if r.existed && r.change.DestPath == r.change.Path {
					_ = os.WriteFile(dest, r.prior, r.priorMode)
				} else {
					_ = os.Remove(dest)
				}
			}
			if r.change.HadMove && r.existed {
				orig := ex.abs(r.change.Path)
				_ = os.MkdirAll(filepath.Dir(orig), 0o750)
				_ = os.WriteFile(orig, r.prior, r.priorMode)
			}
			if r.change.Kind == ChangeDelete && r.existed {
				orig := ex.abs(r.change.Path)
				_ = os.MkdirAll(filepath.Dir(orig), 0o750)
				_ = os.WriteFile(orig, r.prior, r.priorMode)
			}
		}
	}

	for _, change := range changes {
		rec, err := ex.applyOne(change)
		if err != nil {
			logging.Error(ctx, "patch step failed, rolling back", slog.String("path", change.Path), slog.String("error", err.Error()))
			rollback()
			return nil, &ExecutionError{
				Message: fmt.Sprintf("applying change to %q: %v", change.Path, err),
				Report:  newReport(summaries, false),
			}
		}
		records = append(records, rec)
	}

	report := newReport(summaries, true)
	ex.stageIntoGit(ctx, changes)
	logging.Info(ctx, "patch applied", slog.Int("changes", len(changes)))
	return report, nil
}

func (ex *Executor) applyOne(change PlannedChange) (backupRecord, error) {
	rec := backupRecord{change: change}
	srcPath := ex.abs(change.Path)

	switch change.Kind {
	case ChangeAdd:
		if err := os.MkdirAll(filepath.Dir(srcPath), 0o750); err != nil {
			return rec, err
		}
		if err := writeFileAtomic(srcPath, change.NewContents, 0o640); err != nil {
			return rec, err
		}
		rec.wroteDest = true
		return rec, nil

	case ChangeDelete:
		prior, err := os.ReadFile(srcPath)
		if err != nil {
			return rec, err
		}
		info, err := os.Stat(srcPath)
		if err != nil {
			return rec, err
		}
		rec.existed, rec.prior, rec.priorMode = true, prior, info.Mode()
		if err := os.Remove(srcPath); err != nil {
			return rec, err
		}
		return rec, nil

	case ChangeUpdate:
		prior, err := os.ReadFile(srcPath)
		if err != nil {
			return rec, err
		}
		info, err := os.Stat(srcPath)
		if err != nil {
			return rec, err
		}
		rec.existed, rec.prior, rec.priorMode = true, prior, info.Mode()
		if err := writeFileAtomic(srcPath, change.NewContents, info.Mode()); err != nil {
			return rec, err
		}
		rec.wroteDest = true
		return rec, nil

	case ChangeMove:
		prior, err := os.ReadFile(srcPath)
		if err != nil {
			return rec, err
		}
		info, err := os.Stat(srcPath)
		if err != nil {
			return rec, err
		}
		rec.existed, rec.prior, rec.priorMode = true, prior, info.Mode()

		destPath := ex.abs(change.DestPath)
		if err := os.MkdirAll(filepath.Dir(destPath), 0o750); err != nil {
			return rec, err
		}
		if err := writeFileAtomic(destPath, change.NewContents, info.Mode()); err != nil {
			return rec, err
		}
		rec.wroteDest = true
		if err := os.Remove(srcPath); err != nil {
			return rec, err
		}
		return rec, nil

	default:
		return rec, fmt.Errorf("unrecognized change kind %v", change.Kind)
	}
}

// writeFileAtomic writes data to path via a temp file in the same directory
// followed by fsync and rename, so a crash mid-write never leaves path
// truncated or half-written.
func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".patch-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func (ex *Executor) abs(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(ex.Root, path)
}

// stageIntoGit stages every touched path into the index of the git
// repository containing ex.Root, if any. Absence of a repository is
// silently ignored, and staging errors are swallowed (an unavailable
// worktree or a failed add is logged; a failed removal is not): the patch
// already succeeded on disk and must not be reported as failed over a
// git-index nicety.
func (ex *Executor) stageIntoGit(ctx context.Context, changes []PlannedChange) {
	repo, err := git.PlainOpenWithOptions(ex.Root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return
	}
	wt, err := repo.Worktree()
	if err != nil {
		logging.Warn(ctx, "git worktree unavailable for post-patch staging", slog.String("error", err.Error()))
		return
	}

	for _, change := range changes {
		rel, err := filepath.Rel(wt.Filesystem.Root(), ex.abs(change.DestPath))
		if err != nil {
			continue
		}
		if change.Kind == ChangeDelete {
			_, _ = wt.Remove(rel)
			continue
		}
		if _, err := wt.Add(rel); err != nil {
			logging.Warn(ctx, "failed to stage patched path", slog.String("path", rel), slog.String("error", err.Error()))
		}
	}
}
