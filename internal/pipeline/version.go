package pipeline

import (
	"bytes"
	"fmt"
	"sort"

	"golang.org/x/mod/semver"
)

// ValidateSemver reports whether v is a valid semantic version, accepting a
// bare "1.2.3" the way the original's manifest format does (semver.IsValid
// requires a leading "v").
func ValidateSemver(v string) error {
	if !semver.IsValid(canonicalizeSemver(v)) {
		return fmt.Errorf("%w: %q is not a valid semantic version", ErrVersion, v)
	}
	return nil
}

func canonicalizeSemver(v string) string {
	if len(v) > 0 && v[0] != 'v' {
		return "v" + v
	}
	return v
}

// CompareVersions orders two pack versions using semver precedence.
func CompareVersions(a, b string) int {
	return semver.Compare(canonicalizeSemver(a), canonicalizeSemver(b))
}

// SortVersions orders versions ascending by semver precedence, matching the
// pipeline store's rollback/history listing.
func SortVersions(versions []string) {
	sort.Slice(versions, func(i, j int) bool {
		return CompareVersions(versions[i], versions[j]) < 0
	})
}

func bytesReader(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}

func sortPayload(files []payloadFile) {
	sort.Slice(files, func(i, j int) bool { return files[i].relPath < files[j].relPath })
}
