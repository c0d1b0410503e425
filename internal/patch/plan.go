package patch

import (
	"bytes"
	"fmt"
	"strings"
)

// ChangeKind mirrors HunkKind but at the filesystem-operation level once a
// hunk has been planned against real file contents.
type ChangeKind int

const (
	ChangeAdd ChangeKind = iota
	ChangeDelete
	ChangeUpdate
	ChangeMove
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdd:
		return "Add"
	case ChangeDelete:
		return "Delete"
	case ChangeUpdate:
		return "Update"
	case ChangeMove:
		return "Move"
	default:
		return "Unknown"
	}
}

// PlannedChange is one fully-resolved file operation: original path, the
// destination path (equal to Path unless the hunk moved the file), and the
// exact bytes to write (nil for Delete).
type PlannedChange struct {
	Kind        ChangeKind
	Path        string
	DestPath    string
	NewContents []byte
	HadMove     bool
}

// OperationSummary is the planner's dry-run output: per-path descriptions of
// what would happen, without touching the filesystem. It backs both the
// text and JSON PatchReport renderings (report.go).
type OperationSummary struct {
	Path      string
	Kind      ChangeKind
	DestPath  string
	AddLines  int
	DelLines  int
}

// FileReader abstracts reading a path's current content so Plan can be
// exercised against an in-memory fixture as well as a real filesystem.
type FileReader interface {
	ReadFile(path string) ([]byte, error)
	Exists(path string) bool
}

// Plan resolves a parsed hunk list against the current state of the
// filesystem (via reader), producing the concrete writes an executor must
// perform. Plan never mutates anything; it is pure with respect to reader.
func Plan(hunks []Hunk, reader FileReader) ([]PlannedChange, []OperationSummary, error) {
	changes := make([]PlannedChange, 0, len(hunks))
	summaries := make([]OperationSummary, 0, len(hunks))

	for _, h := range hunks {
		switch h.Kind {
		case KindAdd:
			if reader.Exists(h.Path) {
				return nil, nil, &InvalidHunkError{Message: fmt.Sprintf("Add File target %q already exists", h.Path)}
			}
			changes = append(changes, PlannedChange{
				Kind:        ChangeAdd,
				Path:        h.Path,
				DestPath:    h.Path,
				NewContents: []byte(h.Contents),
			})
			summaries = append(summaries, OperationSummary{
				Path: h.Path, Kind: ChangeAdd, DestPath: h.Path,
				AddLines: strings.Count(h.Contents, "\n"),
			})

		case KindDelete:
			if !reader.Exists(h.Path) {
				return nil, nil, &InvalidHunkError{Message: fmt.Sprintf("Delete File target %q does not exist", h.Path)}
			}
			changes = append(changes, PlannedChange{Kind: ChangeDelete, Path: h.Path, DestPath: h.Path})
			summaries = append(summaries, OperationSummary{Path: h.Path, Kind: ChangeDelete, DestPath: h.Path})

		case KindUpdate:
			original, err := reader.ReadFile(h.Path)
			if !reader.Exists(h.Path) || err != nil {
				return nil, nil, &InvalidHunkError{Message: fmt.Sprintf("Update File target %q does not exist", h.Path)}
			}
			dest := h.Path
			kind := ChangeUpdate
			if h.HasMove {
				dest = h.MovePath
				kind = ChangeMove
				if reader.Exists(dest) {
					return nil, nil, &InvalidHunkError{Message: fmt.Sprintf("Move destination %q already exists", dest)}
				}
			}

			newContents, add, del, err := applyChunks(h.Path, original, h.Chunks)
			if err != nil {
				return nil, nil, err
			}

			changes = append(changes, PlannedChange{
				Kind: kind, Path: h.Path, DestPath: dest, NewContents: newContents, HadMove: h.HasMove,
			})
			summaries = append(summaries, OperationSummary{
				Path: h.Path, Kind: kind, DestPath: dest, AddLines: add, DelLines: del,
			})

		default:
			return nil, nil, &InvalidHunkError{Message: "unrecognized hunk kind"}
		}
	}

	return changes, summaries, nil
}

// detectLineEnding inspects original's first line break to decide whether
// the file is CRLF, bare CR, or LF (the default for empty/single-line
// files), so applyChunks can round-trip it unchanged.
func detectLineEnding(original []byte) string {
	if i := bytes.IndexByte(original, '\n'); i >= 0 {
		if i > 0 && original[i-1] == '\r' {
			return "\r\n"
		}
		return "\n"
	}
	if bytes.IndexByte(original, '\r') >= 0 {
		return "\r"
	}
	return "\n"
}

// applyChunks walks an Update hunk's chunks in order against original's
// lines, advancing a monotonic cursor. Each chunk anchors itself either on
// its change_context line (searched for starting at the cursor) or, absent
// one, on its own old_lines sequence; IsEndOfFile chunks must match through
// the final line of the file. The file's own line ending (LF/CRLF/CR) is
// detected once up front and restored on the way out, independent of the
// LF-joined envelope text the chunks themselves are written in.
func applyChunks(path string, original []byte, chunks []UpdateFileChunk) ([]byte, int, int, error) {
	lineEnding := detectLineEnding(original)
	normalized := string(original)
	if lineEnding != "\n" {
		normalized = strings.ReplaceAll(normalized, lineEnding, "\n")
	}

	hadTrailingNewline := len(normalized) > 0 && normalized[len(normalized)-1] == '\n'
	src := strings.Split(strings.TrimSuffix(normalized, "\n"), "\n")
	if len(normalized) == 0 {
		src = nil
	}

	var out []string
	cursor := 0
	addTotal, delTotal := 0, 0

	for _, chunk := range chunks {
		start := cursor
		if chunk.HasContext && chunk.ChangeContext != "" {
			pos, ok := findSequence(src, cursor, []string{chunk.ChangeContext})
			if !ok {
				return nil, 0, 0, &ComputeReplacementsError{Diagnostic: &ConflictDiagnostic{
					Path: path, Kind: ContextNotFound, HunkContext: chunk.ChangeContext, HasContext: true,
					messagePrefix: fmt.Sprintf("could not locate context %q in %q", chunk.ChangeContext, path),
				}}
			}
			start = pos + 1
		}

		oldLines, newLines := chunk.OldLines, chunk.NewLines

		var pos int
		var ok bool
		switch {
		case len(oldLines) == 0:
			// A pure insertion: spec.md places it at end-of-file (src has
			// already had its terminal empty line dropped above).
			pos, ok = len(src), true
		case chunk.IsEndOfFile:
			pos = len(src) - len(oldLines)
			ok = pos >= start && sequenceEqual(src[pos:], oldLines)
		default:
			pos, ok = findSequence(src, start, oldLines)
			if !ok && oldLines[len(oldLines)-1] == "" {
				// The final old_lines element represents a terminal newline
				// sentinel; retry the seek with it (and its new_lines
				// counterpart) dropped.
				retryOld := oldLines[:len(oldLines)-1]
				if p, found := findSequence(src, start, retryOld); found {
					pos, ok = p, true
					oldLines = retryOld
					if len(newLines) > 0 && newLines[len(newLines)-1] == "" {
						newLines = newLines[:len(newLines)-1]
					}
				}
			}
		}
		if !ok {
			actual := windowAfter(src, start, len(oldLines))
			return nil, 0, 0, &ComputeReplacementsError{Diagnostic: &ConflictDiagnostic{
				Path: path, Kind: UnexpectedContent, HunkContext: chunk.ChangeContext, HasContext: chunk.HasContext,
				Expected: oldLines, Actual: actual, DiffHint: diffHint(oldLines, actual),
				messagePrefix: fmt.Sprintf("chunk content did not match %q at or after line %d", path, start+1),
			}}
		}

		out = append(out, src[cursor:pos]...)
		out = append(out, newLines...)
		cursor = pos + len(oldLines)
		addTotal += len(newLines)
		delTotal += len(oldLines)
	}
	out = append(out, src[cursor:]...)

	result := strings.Join(out, "\n")
	if hadTrailingNewline || len(out) == 0 {
		result += "\n"
	}
	if lineEnding != "\n" {
		result = strings.ReplaceAll(result, "\n", lineEnding)
	}
	return []byte(result), addTotal, delTotal, nil
}

func windowAfter(lines []string, from, n int) []string {
	end := from + n
	if end > len(lines) {
		end = len(lines)
	}
	if from > len(lines) {
		from = len(lines)
	}
	return lines[from:end]
}
