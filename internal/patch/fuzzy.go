package patch

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// punctuationEquivalents maps Unicode punctuation variants that commonly
// appear in model-authored patches (curly quotes, em/en dashes, non-breaking
// spaces) to the ASCII form a source file is likely to actually contain.
// This is the fuzzy fallback spec.md §4.2 requires when an exact match of a
// chunk's context or old_lines fails.
var punctuationEquivalents = map[rune]rune{
	'‐': '-',  // hyphen
	'‑': '-',  // non-breaking hyphen
	'‒': '-',  // figure dash
	'–': '-',  // en dash
	'—': '-',  // em dash
	'―': '-',  // horizontal bar
	'−': '-',  // minus sign
	'‘': '\'', // left single quote
	'’': '\'', // right single quote
	'‚': '\'', // single low-9 quote
	'‛': '\'', // single high-reversed-9 quote
	'“': '"',  // left double quote
	'”': '"',  // right double quote
	'„': '"',  // double low-9 quote
	'‟': '"',  // double high-reversed-9 quote
	' ': ' ',  // non-breaking space
	' ': ' ',  // figure space
	' ': ' ',  // thin space
	'﻿': 0,    // BOM, stripped entirely
}

// normalizeForMatch folds punctuation variants to their ASCII equivalent and
// trims trailing whitespace, which is the comparison spec.md §4.2 calls for
// once an exact, byte-for-byte match of a chunk's old_lines has failed.
func normalizeForMatch(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if repl, ok := punctuationEquivalents[r]; ok {
			if repl == 0 {
				continue
			}
			r = repl
		}
		b.WriteRune(r)
	}
	return strings.TrimRight(b.String(), " \t")
}

// linesEqual reports whether two lines match, first exactly and then, on
// failure, after Unicode-punctuation normalization.
func linesEqual(a, b string) bool {
	if a == b {
		return true
	}
	return normalizeForMatch(a) == normalizeForMatch(b)
}

// sequenceEqual reports whether two line slices match element-wise via
// linesEqual.
func sequenceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !linesEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// findSequence searches lines[from:] for the first position at which needle
// occurs as a contiguous run, trying an exact match across the whole search
// space before falling back to the fuzzy (punctuation-normalized) match.
// This two-pass strategy prevents a fuzzy match from stealing a position
// that an exact match later in the file would have claimed.
func findSequence(lines []string, from int, needle []string) (int, bool) {
	if len(needle) == 0 {
		if from <= len(lines) {
			return from, true
		}
		return 0, false
	}
	if pos, ok := findSequenceExact(lines, from, needle); ok {
		return pos, true
	}
	return findSequenceFuzzy(lines, from, needle)
}

func findSequenceExact(lines []string, from int, needle []string) (int, bool) {
	for i := from; i+len(needle) <= len(lines); i++ {
		match := true
		for j, n := range needle {
			if lines[i+j] != n {
				match = false
				break
			}
		}
		if match {
			return i, true
		}
	}
	return 0, false
}

func findSequenceFuzzy(lines []string, from int, needle []string) (int, bool) {
	for i := from; i+len(needle) <= len(lines); i++ {
		if sequenceEqual(lines[i:i+len(needle)], needle) {
			return i, true
		}
	}
	return 0, false
}

// diffHint produces a short, human-readable nudge toward why a chunk failed
// to match, rendered as a unified-style line diff between what the chunk
// expected and what the file actually contains at the cursor.
func diffHint(expected, actual []string) []string {
	if sequenceEqual(expected, actual) {
		return nil
	}

	dmp := diffmatchpatch.New()
	// Terminate every line, the last one included, so line mode tokenizes
	// "alpha" at the end of one side the same as "alpha" mid-way in the other.
	expectedChars, actualChars, lineArray := dmp.DiffLinesToChars(strings.Join(expected, "\n")+"\n", strings.Join(actual, "\n")+"\n")
	diffs := dmp.DiffMain(expectedChars, actualChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var hint []string
	for _, d := range diffs {
		lines := splitNonEmptyLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			for _, l := range lines {
				hint = append(hint, "- "+l)
			}
		case diffmatchpatch.DiffInsert:
			for _, l := range lines {
				hint = append(hint, "+ "+l)
			}
		}
		if len(hint) >= maxDiffHintLines {
			break
		}
	}
	if len(hint) > maxDiffHintLines {
		hint = hint[:maxDiffHintLines]
	}
	return hint
}

const maxDiffHintLines = 12

func splitNonEmptyLines(s string) []string {
	raw := strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
