package execsession

import (
	"fmt"
	"strconv"
	"strings"
)

// compressionMinLines is the line count at which smart compression becomes
// eligible: below it, the token savings don't justify the lossy rewrite.
const compressionMinLines = 20

// CompressionResult is the outcome of applying smart compression to a batch
// of polled output lines.
type CompressionResult struct {
	Lines         []string
	WasCompressed bool
	OriginalCount int
	Guidance      string
}

// CompressOutput rewrites long, repetitive output into a compact summary
// when enable is set: sequential numeric counters collapse to a three-line
// summary, and any other run over 1000 lines collapses to a first-5/last-5
// sample. Output under compressionMinLines, or with enable false, passes
// through unchanged.
func CompressOutput(lines []string, enable bool) CompressionResult {
	original := len(lines)
	if !enable || len(lines) < compressionMinLines {
		return CompressionResult{Lines: lines, OriginalCount: original}
	}

	if isSequentialNumbers(lines) {
		return compressSequential(lines)
	}

	if len(lines) > 1000 {
		sampled := make([]string, 0, 11)
		sampled = append(sampled, lines[:5]...)
		sampled = append(sampled, fmt.Sprintf("[... %d lines omitted ...]", len(lines)-10))
		sampled = append(sampled, lines[len(lines)-5:]...)
		return CompressionResult{Lines: sampled, WasCompressed: true, OriginalCount: original}
	}

	return CompressionResult{Lines: lines, OriginalCount: original}
}

// isSequentialNumbers reports whether lines look like a counter (1, 2, 3,
// ...), sampling the first 20/middle 10/last 20 lines once the run is long
// enough that checking every line would be wasteful.
func isSequentialNumbers(lines []string) bool {
	if len(lines) < 10 {
		return false
	}

	if len(lines) <= 50 {
		var prev int64
		havePrev := false
		for _, line := range lines {
			num, err := strconv.ParseInt(strings.TrimSpace(line), 10, 64)
			if err != nil {
				return false
			}
			if havePrev && num != prev+1 {
				return false
			}
			prev, havePrev = num, true
		}
		return true
	}

	sampleCount := 50
	headCount := 20
	tailCount := 20
	midCount := sampleCount - (headCount + tailCount)
	midStart := (len(lines) - tailCount) / 2

	indices := make([]int, 0, sampleCount)
	for i := 0; i < headCount; i++ {
		indices = append(indices, i)
	}
	for i := midStart; i < midStart+midCount; i++ {
		indices = append(indices, i)
	}
	for i := len(lines) - tailCount; i < len(lines); i++ {
		indices = append(indices, i)
	}

	var prevNum int64
	var prevIdx int
	havePrev := false
	for _, idx := range indices {
		num, err := strconv.ParseInt(strings.TrimSpace(lines[idx]), 10, 64)
		if err != nil {
			return false
		}
		if havePrev {
			expected := num - prevNum
			actual := int64(idx - prevIdx)
			if expected != actual {
				return false
			}
		}
		prevNum, prevIdx, havePrev = num, idx, true
	}
	return true
}

// compressSequential collapses a detected numeric counter run to its first
// line, a summary line, and its last line, preserving the original
// formatting of the endpoints.
func compressSequential(lines []string) CompressionResult {
	if len(lines) == 0 {
		return CompressionResult{}
	}

	first := lines[0]
	last := lines[len(lines)-1]
	omitted := len(lines) - 2
	if omitted < 0 {
		omitted = 0
	}

	compressed := []string{
		first,
		fmt.Sprintf("[... %d lines: %s to %s (incrementing numbers) ...]", omitted, strings.TrimSpace(first), strings.TrimSpace(last)),
		last,
	}
	guidance := fmt.Sprintf(
		"Sequential numeric output detected; use stop_pattern=\"^%s$\" (adjust target) or tail_lines=20 for a rolling tail.",
		strings.TrimSpace(last),
	)

	return CompressionResult{
		Lines:         compressed,
		WasCompressed: true,
		OriginalCount: len(lines),
		Guidance:      guidance,
	}
}
