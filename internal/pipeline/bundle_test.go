package pipeline

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// tamperBundlePayload rewrites one payload entry's content in an
// already-signed bundle, leaving the manifest and signature entries
// untouched, to simulate post-signing corruption (spec.md §8 scenario S6).
func tamperBundlePayload(t *testing.T, bundle []byte, relPath, newContent string) []byte {
	t.Helper()

	gz, err := gzip.NewReader(bytes.NewReader(bundle))
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	var out bytes.Buffer
	gw := gzip.NewWriter(&out)
	tw := tar.NewWriter(gw)

	for {
		hdr, err := tr.Next()
		if err != nil {
			break
		}
		content := make([]byte, hdr.Size)
		_, err = io.ReadFull(tr, content)
		require.NoError(t, err)

		if hdr.Name == payloadPrefix+relPath {
			content = []byte(newContent)
			hdr.Size = int64(len(content))
		}

		require.NoError(t, tw.WriteHeader(hdr))
		_, err = tw.Write(content)
		require.NoError(t, err)
	}

	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	return out.Bytes()
}

func TestReadBundle_RejectsUnknownTopLevelEntry(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "manifest.json", Size: 2}))
	_, _ = tw.Write([]byte("{}"))
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "signature.json", Size: 2}))
	_, _ = tw.Write([]byte("{}"))
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "extra.txt", Size: 1}))
	_, _ = tw.Write([]byte("x"))
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())

	_, err := readBundle(buf.Bytes())
	require.Error(t, err)
}
