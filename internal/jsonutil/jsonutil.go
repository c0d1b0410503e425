// Package jsonutil provides canonical and pretty JSON helpers shared by the
// pipeline, auth, and audit packages, plus the atomic-write pattern used
// whenever on-disk state must never be observed mid-write.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// MarshalIndentWithNewline marshals v as pretty JSON with a trailing newline,
// matching the format editors and `git diff` expect for checked-in JSON.
func MarshalIndentWithNewline(v any, prefix, indent string) ([]byte, error) {
	data, err := json.MarshalIndent(v, prefix, indent)
	if err != nil {
		return nil, fmt.Errorf("marshaling json: %w", err)
	}
	return append(data, '\n'), nil
}

// Canonical marshals v with encoding/json's default (declaration-order,
// no extra whitespace) encoding and strips the trailing newline json.Marshal
// never adds in the first place. It exists as a named entry point so callers
// that sign or hash the result (pipeline manifests) have one documented
// place the "canonical form" is pinned, per spec.md's design notes.
func Canonical(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling canonical json: %w", err)
	}
	return data, nil
}

// WriteFileAtomic writes data to path by writing to a temp file in the same
// directory, fsyncing it, then renaming it over the destination, so readers
// never observe a partially written file. mode is applied to the temp file
// before the rename.
func WriteFileAtomic(path string, data []byte, mode os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsyncing temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err = os.Chmod(tmpPath, mode); err != nil {
		return fmt.Errorf("setting temp file mode: %w", err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming temp file into place: %w", err)
	}
	return nil
}

// PrettyFromCanonical re-serializes already-canonical JSON bytes with
// indentation for storage alongside a bundle (manifests/, signatures/).
func PrettyFromCanonical(canonical []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, canonical, "", "  "); err != nil {
		return nil, fmt.Errorf("pretty-printing json: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
