package pipeline

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/entirecore/agentcore/internal/jsonutil"
)

const signatureSchema = "stellar.pipeline.signature.v1"

// SignatureEnvelope carries the Ed25519 signature over a manifest's
// canonical bytes, plus enough metadata to compute a fingerprint and detect
// replay.
type SignatureEnvelope struct {
	Schema          string    `json:"schema"`
	Signer          string    `json:"signer"`
	SignedAt        time.Time `json:"signed_at"`
	Nonce           string    `json:"nonce"`
	VerifyingKey    string    `json:"verifying_key"`
	Signature       string    `json:"signature"`
	ManifestDigest  string    `json:"manifest_digest"`
}

// Fingerprint is the hex of the first 8 bytes of SHA-256 over a verifying
// key's raw bytes, matching the original's short account-facing identifier.
func Fingerprint(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:8])
}

// SignParams configures one Sign invocation.
type SignParams struct {
	Name      string
	Version   string
	SourceDir string
	SigningKey ed25519.PrivateKey
	Signer    string
	Actor     string
	Timestamp time.Time
	Notes     string
}

// SignResult is everything Sign produces: the manifest, its signature, and
// the rendered bundle bytes ready to write to disk.
type SignResult struct {
	Manifest  KnowledgePackManifest
	Signature SignatureEnvelope
	Bundle    []byte
}

// Sign walks SourceDir, hashes every file, builds and signs a manifest, and
// renders the gzip+tar bundle (spec.md §4.5.1).
func Sign(params SignParams) (*SignResult, error) {
	if err := ValidateName(params.Name); err != nil {
		return nil, err
	}
	if err := ValidateSemver(params.Version); err != nil {
		return nil, err
	}

	entries, payload, err := walkSourceDir(params.SourceDir)
	if err != nil {
		return nil, err
	}

	createdAt := params.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var totalBytes int64
	for _, f := range entries {
		totalBytes += f.SizeBytes
	}

	manifest := KnowledgePackManifest{
		SchemaVersion: manifestSchemaVersion,
		Name:          params.Name,
		Version:       params.Version,
		CreatedAt:     createdAt,
		FileCount:     len(entries),
		TotalBytes:    totalBytes,
		Files:         entries,
		Notes:         params.Notes,
	}

	canonical, err := jsonutil.Canonical(manifest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	digestBytes := sha256.Sum256(canonical)
	digest := hex.EncodeToString(digestBytes[:])

	sig := ed25519.Sign(params.SigningKey, canonical)
	pub, ok := params.SigningKey.Public().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: signing key has no ed25519 public half", ErrSignature)
	}

	signedAt := createdAt
	nonce := deriveNonce(digestBytes[:], params.Signer, signedAt)

	envelope := SignatureEnvelope{
		Schema:         signatureSchema,
		Signer:         params.Signer,
		SignedAt:       signedAt,
		Nonce:          nonce,
		VerifyingKey:   base64.RawURLEncoding.EncodeToString(pub),
		Signature:      base64.RawURLEncoding.EncodeToString(sig),
		ManifestDigest: digest,
	}

	bundle, err := writeBundle(manifest, envelope, payload)
	if err != nil {
		return nil, err
	}

	return &SignResult{Manifest: manifest, Signature: envelope, Bundle: bundle}, nil
}

// deriveNonce computes the first 16 bytes of SHA-256(digest || signer ||
// micro-timestamp), hex-encoded.
func deriveNonce(digest []byte, signer string, at time.Time) string {
	h := sha256.New()
	h.Write(digest)
	h.Write([]byte(signer))
	h.Write([]byte(fmt.Sprintf("%d", at.UnixMicro())))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

// payloadFile is one file read off disk during Sign, paired with its
// manifest-normalized relative path.
type payloadFile struct {
	relPath string
	data    []byte
}

// walkSourceDir walks dir in sorted order, hashing every regular file and
// rejecting anything else (spec.md §4.5.1 step 1).
func walkSourceDir(dir string) ([]FileEntry, []payloadFile, error) {
	var entries []FileEntry
	var payload []payloadFile

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%w: walking %s: %v", ErrIO, p, err)
		}
		if p == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return fmt.Errorf("%w: %s is not a regular file", ErrInvalidInput, rel)
		}

		normalized, err := normalizeRelPath(rel)
		if err != nil {
			return err
		}

		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("%w: reading %s: %v", ErrIO, rel, err)
		}
		digest, size, err := hashFile(bytesReader(data))
		if err != nil {
			return err
		}

		entries = append(entries, FileEntry{Path: normalized, SizeBytes: size, SHA256: digest})
		payload = append(payload, payloadFile{relPath: normalized, data: data})
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	sortFiles(entries)
	sortPayload(payload)
	return entries, payload, nil
}
