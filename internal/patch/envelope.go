package patch

import (
	"fmt"
	"strings"
)

const (
	beginMarker    = "*** Begin Patch"
	endMarker      = "*** End Patch"
	addFilePrefix  = "*** Add File: "
	delFilePrefix  = "*** Delete File: "
	updFilePrefix  = "*** Update File: "
	moveToPrefix   = "*** Move to: "
	endOfFileMark  = "*** End of File"
	chunkSeparator = "@@"
)

// Parse tokenizes a patch envelope (spec.md §6.1) into an ordered list of
// Hunks. Parsing is total and deterministic: any malformed envelope or hunk
// yields an error, never a partial result.
func Parse(body string) ([]Hunk, error) {
	lines := splitLines(body)
	if len(lines) == 0 || strings.TrimRight(lines[0], "\r") != beginMarker {
		return nil, &InvalidPatchError{Message: "patch body must begin with '*** Begin Patch'"}
	}

	last := len(lines) - 1
	for last > 0 && strings.TrimSpace(lines[last]) == "" {
		last--
	}
	if strings.TrimRight(lines[last], "\r") != endMarker {
		return nil, &InvalidPatchError{Message: "patch body must end with '*** End Patch'"}
	}

	var hunks []Hunk
	i := 1
	for i < last {
		line := strings.TrimRight(lines[i], "\r")
		switch {
		case strings.HasPrefix(line, addFilePrefix):
			path := strings.TrimPrefix(line, addFilePrefix)
			if path == "" {
				return nil, &InvalidHunkError{Message: "Add File hunk is missing a path", Line: i + 1}
			}
			i++
			var contentLines []string
			for i < last && strings.HasPrefix(lines[i], "+") {
				contentLines = append(contentLines, strings.TrimPrefix(lines[i], "+"))
				i++
			}
			contents := ""
			if len(contentLines) > 0 {
				contents = strings.Join(contentLines, "\n") + "\n"
			}
			hunks = append(hunks, Hunk{Kind: KindAdd, Path: path, Contents: contents})

		case strings.HasPrefix(line, delFilePrefix):
			path := strings.TrimPrefix(line, delFilePrefix)
			if path == "" {
				return nil, &InvalidHunkError{Message: "Delete File hunk is missing a path", Line: i + 1}
			}
			i++
			hunks = append(hunks, Hunk{Kind: KindDelete, Path: path})

		case strings.HasPrefix(line, updFilePrefix):
			path := strings.TrimPrefix(line, updFilePrefix)
			if path == "" {
				return nil, &InvalidHunkError{Message: "Update File hunk is missing a path", Line: i + 1}
			}
			i++

			hunk := Hunk{Kind: KindUpdate, Path: path}
			if i < last && strings.HasPrefix(lines[i], moveToPrefix) {
				hunk.MovePath = strings.TrimPrefix(lines[i], moveToPrefix)
				hunk.HasMove = true
				i++
			}

			chunks, ni, err := parseChunks(lines, i, last)
			if err != nil {
				return nil, err
			}
			i = ni
			if len(chunks) == 0 {
				return nil, &InvalidHunkError{Message: fmt.Sprintf("Update File hunk for %q has no chunks", path), Line: i + 1}
			}
			hunk.Chunks = chunks
			hunks = append(hunks, hunk)

		default:
			return nil, &InvalidHunkError{Message: fmt.Sprintf("unrecognized hunk header %q", line), Line: i + 1}
		}
	}

	if len(hunks) == 0 {
		return nil, &InvalidPatchError{Message: "patch contains no hunks"}
	}
	return hunks, nil
}

// parseChunks consumes zero or more `@@` chunks starting at index i, up to
// (but not including) index last or the next hunk header, returning the
// parsed chunks and the index immediately following them.
func parseChunks(lines []string, i, last int) ([]UpdateFileChunk, int, error) {
	var chunks []UpdateFileChunk

	for i < last {
		line := lines[i]
		if strings.HasPrefix(line, "*** ") {
			break
		}
		if line != chunkSeparator && !strings.HasPrefix(line, chunkSeparator+" ") {
			if len(chunks) == 0 {
				return nil, i, &InvalidHunkError{Message: fmt.Sprintf("expected '@@' chunk separator, found %q", line), Line: i + 1}
			}
			break
		}

		var chunk UpdateFileChunk
		if strings.HasPrefix(line, chunkSeparator+" ") {
			chunk.ChangeContext = strings.TrimPrefix(line, chunkSeparator+" ")
			chunk.HasContext = true
		}
		i++

		for i < last {
			l := lines[i]
			if l == endOfFileMark {
				chunk.IsEndOfFile = true
				i++
				chunks = append(chunks, chunk)
				return chunks, i, nil
			}
			if l == chunkSeparator || strings.HasPrefix(l, chunkSeparator+" ") || strings.HasPrefix(l, "*** ") {
				break
			}

			switch {
			case strings.HasPrefix(l, " "):
				text := strings.TrimPrefix(l, " ")
				chunk.OldLines = append(chunk.OldLines, text)
				chunk.NewLines = append(chunk.NewLines, text)
			case strings.HasPrefix(l, "-"):
				chunk.OldLines = append(chunk.OldLines, strings.TrimPrefix(l, "-"))
			case strings.HasPrefix(l, "+"):
				chunk.NewLines = append(chunk.NewLines, strings.TrimPrefix(l, "+"))
			case l == "":
				chunk.OldLines = append(chunk.OldLines, "")
				chunk.NewLines = append(chunk.NewLines, "")
			default:
				return nil, i, &InvalidHunkError{Message: fmt.Sprintf("unrecognized chunk line %q", l), Line: i + 1}
			}
			i++
		}

		chunks = append(chunks, chunk)
	}

	return chunks, i, nil
}

// splitLines splits on '\n' without losing information: unlike
// strings.Split followed by dropping a trailing empty element, callers here
// need to know exactly which line index the begin/end markers sit at, so we
// keep a trailing empty element if the body ends with a newline and let the
// caller's trailing-blank-skipping loop handle it.
func splitLines(body string) []string {
	if body == "" {
		return nil
	}
	return strings.Split(body, "\n")
}
