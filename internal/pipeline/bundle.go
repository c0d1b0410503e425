package pipeline

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/entirecore/agentcore/internal/jsonutil"
)

const (
	manifestEntryName  = "manifest.json"
	signatureEntryName = "signature.json"
	payloadPrefix      = "payload/"
)

// writeBundle renders a manifest, its signature, and a payload file set as
// a gzip+tar bundle with fixed mode 0644 and mtime 0 for every entry
// (spec.md §4.5.1 step 5, §6.5), so identical inputs produce byte-identical
// bundles.
func writeBundle(manifest KnowledgePackManifest, sig SignatureEnvelope, payload []payloadFile) ([]byte, error) {
	manifestJSON, err := jsonutil.Canonical(manifest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	sigJSON, err := jsonutil.Canonical(sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	if err := writeTarEntry(tw, manifestEntryName, manifestJSON); err != nil {
		return nil, err
	}
	if err := writeTarEntry(tw, signatureEntryName, sigJSON); err != nil {
		return nil, err
	}
	for _, f := range payload {
		if err := writeTarEntry(tw, payloadPrefix+f.relPath, f.data); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("%w: closing tar writer: %v", ErrIO, err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("%w: closing gzip writer: %v", ErrIO, err)
	}
	return buf.Bytes(), nil
}

func writeTarEntry(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Name: name,
		Mode: 0o644,
		Size: int64(len(data)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("%w: writing tar header for %s: %v", ErrIO, name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("%w: writing tar entry %s: %v", ErrIO, name, err)
	}
	return nil
}

// UnpackedBundle is a decoded bundle held in memory: the raw manifest and
// signature JSON (for re-hashing) plus every payload file.
type UnpackedBundle struct {
	Manifest     KnowledgePackManifest
	ManifestJSON []byte
	Signature    SignatureEnvelope
	Payload      map[string][]byte
}

// readBundle decodes a gzip+tar bundle, rejecting any top-level entry other
// than manifest.json, signature.json, or payload/<relpath> (spec.md §6.5,
// §4.5.2 step 1).
func readBundle(data []byte) (*UnpackedBundle, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: opening gzip stream: %v", ErrIO, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	out := &UnpackedBundle{Payload: map[string][]byte{}}
	var manifestJSON, sigJSON []byte

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading tar entry: %v", ErrIO, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		content, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", ErrIO, hdr.Name, err)
		}

		switch {
		case hdr.Name == manifestEntryName:
			manifestJSON = content
		case hdr.Name == signatureEntryName:
			sigJSON = content
		case strings.HasPrefix(hdr.Name, payloadPrefix):
			rel := strings.TrimPrefix(hdr.Name, payloadPrefix)
			normalized, err := normalizeRelPath(rel)
			if err != nil {
				return nil, err
			}
			out.Payload[normalized] = content
		default:
			return nil, fmt.Errorf("%w: unexpected bundle entry %q", ErrInvalidInput, hdr.Name)
		}
	}

	if manifestJSON == nil {
		return nil, fmt.Errorf("%w: bundle missing %s", ErrInvalidInput, manifestEntryName)
	}
	if sigJSON == nil {
		return nil, fmt.Errorf("%w: bundle missing %s", ErrInvalidInput, signatureEntryName)
	}

	if err := json.Unmarshal(manifestJSON, &out.Manifest); err != nil {
		return nil, fmt.Errorf("%w: parsing manifest: %v", ErrSerialization, err)
	}
	if err := json.Unmarshal(sigJSON, &out.Signature); err != nil {
		return nil, fmt.Errorf("%w: parsing signature: %v", ErrSerialization, err)
	}
	out.ManifestJSON = manifestJSON

	return out, nil
}
