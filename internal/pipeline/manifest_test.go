package pipeline

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestKnowledgePackManifest_CanonicalFieldOrder pins the exact byte order
// encoding/json produces for a manifest, since a signature is computed over
// this JSON form and any field reordering would silently invalidate every
// previously signed pack.
func TestKnowledgePackManifest_CanonicalFieldOrder(t *testing.T) {
	t.Parallel()

	m := KnowledgePackManifest{
		SchemaVersion: 1,
		Name:          "demo-pack",
		Version:       "1.0.0",
		CreatedAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		FileCount:     1,
		TotalBytes:    5,
		Files: []FileEntry{
			{Path: "a.txt", SizeBytes: 5, SHA256: "deadbeef"},
		},
	}

	data, err := json.Marshal(m)
	require.NoError(t, err)

	const want = `{"schema_version":1,"name":"demo-pack","version":"1.0.0",` +
		`"created_at":"2026-01-02T03:04:05Z","file_count":1,"total_bytes":5,` +
		`"files":[{"path":"a.txt","size_bytes":5,"sha256":"deadbeef"}]}`
	assert.Equal(t, want, string(data))
}

// TestKnowledgePackManifest_CanonicalFieldOrderIncludesNotes checks the
// same ordering guarantee when the optional Notes field is set: its key is
// emitted last, after files. (The test above covers the omitted case.)
func TestKnowledgePackManifest_CanonicalFieldOrderIncludesNotes(t *testing.T) {
	t.Parallel()

	m := KnowledgePackManifest{
		SchemaVersion: 1,
		Name:          "demo-pack",
		Version:       "1.0.0",
		CreatedAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		FileCount:     0,
		TotalBytes:    0,
		Files:         nil,
		Notes:         "rebuilt after rollback",
	}

	data, err := json.Marshal(m)
	require.NoError(t, err)

	const want = `{"schema_version":1,"name":"demo-pack","version":"1.0.0",` +
		`"created_at":"2026-01-02T03:04:05Z","file_count":0,"total_bytes":0,` +
		`"files":null,"notes":"rebuilt after rollback"}`
	assert.Equal(t, want, string(data))
}
