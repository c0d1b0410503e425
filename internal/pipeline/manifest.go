// Package pipeline implements the knowledge-pack bundle format: a
// content-addressed, Ed25519-signed tar.gz with verify/install/rollback
// against an append-only audit ledger.
package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"
)

const manifestSchemaVersion = 1

var namePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// FileEntry is one payload file's identity within a manifest.
type FileEntry struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	SHA256    string `json:"sha256"`
}

// KnowledgePackManifest describes the contents of one signed pack version.
type KnowledgePackManifest struct {
	SchemaVersion int         `json:"schema_version"`
	Name          string      `json:"name"`
	Version       string      `json:"version"`
	CreatedAt     time.Time   `json:"created_at"`
	FileCount     int         `json:"file_count"`
	TotalBytes    int64       `json:"total_bytes"`
	Files         []FileEntry `json:"files"`
	Notes         string      `json:"notes,omitempty"`
}

// ValidateName reports whether name is a legal pack name: ASCII
// alphanumeric plus `-_.`.
func ValidateName(name string) error {
	if name == "" || !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// normalizeRelPath converts a filesystem-walked path to the manifest's
// forward-slashed, root-relative form, rejecting traversal and absolute
// segments.
func normalizeRelPath(rel string) (string, error) {
	cleaned := path.Clean(filepathToSlash(rel))
	if cleaned == "." || cleaned == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidInput)
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") || path.IsAbs(cleaned) {
		return "", fmt.Errorf("%w: %q escapes the pack root", ErrInvalidInput, rel)
	}
	return cleaned, nil
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// hashFile streams r through SHA-256, returning the hex digest and byte
// count.
func hashFile(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, fmt.Errorf("hashing file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// sortFiles orders manifest entries by path so the manifest's canonical
// JSON form is reproducible across filesystem walk orders.
func sortFiles(files []FileEntry) {
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
}

// ManifestDiff partitions the files of two manifests into added, removed,
// and modified sets.
type ManifestDiff struct {
	Added    []FileEntry        `json:"added"`
	Removed  []FileEntry        `json:"removed"`
	Modified []ModifiedEntry    `json:"modified"`
}

// ModifiedEntry is a file present in both manifests with a changed digest.
type ModifiedEntry struct {
	Path        string `json:"path"`
	PrevSize    int64  `json:"prev_size_bytes"`
	PrevSHA256  string `json:"prev_sha256"`
	NextSize    int64  `json:"next_size_bytes"`
	NextSHA256  string `json:"next_sha256"`
}

// DiffManifests computes the partition of prev against next. prev may be
// nil, in which case every file in next is Added.
func DiffManifests(prev, next *KnowledgePackManifest) ManifestDiff {
	var diff ManifestDiff
	prevByPath := map[string]FileEntry{}
	if prev != nil {
		for _, f := range prev.Files {
			prevByPath[f.Path] = f
		}
	}
	nextByPath := map[string]FileEntry{}
	for _, f := range next.Files {
		nextByPath[f.Path] = f
	}

	for p, nf := range nextByPath {
		pf, existed := prevByPath[p]
		if !existed {
			diff.Added = append(diff.Added, nf)
			continue
		}
		if pf.SHA256 != nf.SHA256 {
			diff.Modified = append(diff.Modified, ModifiedEntry{
				Path: p, PrevSize: pf.SizeBytes, PrevSHA256: pf.SHA256,
				NextSize: nf.SizeBytes, NextSHA256: nf.SHA256,
			})
		}
	}
	for p, pf := range prevByPath {
		if _, stillPresent := nextByPath[p]; !stillPresent {
			diff.Removed = append(diff.Removed, pf)
		}
	}

	sortFiles(diff.Added)
	sortFiles(diff.Removed)
	sort.Slice(diff.Modified, func(i, j int) bool { return diff.Modified[i].Path < diff.Modified[j].Path })
	return diff
}
