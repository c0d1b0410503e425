package pipeline

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// VerifyParams configures one Verify invocation.
type VerifyParams struct {
	Bundle               []byte
	ExpectedFingerprint  string
	HasExpectedFingerprint bool
}

// VerifyResult is the outcome of a successful verification: the decoded
// manifest/signature and a diff against whatever was previously installed.
type VerifyResult struct {
	Manifest  KnowledgePackManifest
	Signature SignatureEnvelope
	Payload   map[string][]byte
	Diff      ManifestDiff
}

// Verify unpacks and validates a bundle against its embedded signature
// (spec.md §4.5.2 steps 1-4). prevManifest may be nil when nothing is
// currently installed for the pack.
func Verify(params VerifyParams, prevManifest *KnowledgePackManifest) (*VerifyResult, error) {
	unpacked, err := readBundle(params.Bundle)
	if err != nil {
		return nil, err
	}

	digestBytes := sha256.Sum256(unpacked.ManifestJSON)
	digest := hex.EncodeToString(digestBytes[:])
	if digest != unpacked.Signature.ManifestDigest {
		return nil, fmt.Errorf("%w: manifest digest mismatch", ErrVerification)
	}

	pub, err := base64.RawURLEncoding.DecodeString(unpacked.Signature.VerifyingKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: malformed verifying key", ErrSignature)
	}
	sig, err := base64.RawURLEncoding.DecodeString(unpacked.Signature.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return nil, fmt.Errorf("%w: malformed signature", ErrSignature)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), unpacked.ManifestJSON, sig) {
		return nil, fmt.Errorf("%w: signature does not match manifest", ErrSignature)
	}

	if params.HasExpectedFingerprint {
		got := Fingerprint(ed25519.PublicKey(pub))
		want := strings.ToLower(params.ExpectedFingerprint)
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			return nil, fmt.Errorf("%w: verifying key fingerprint %s does not match expected %s", ErrVerification, got, want)
		}
	}

	if err := verifyPayload(unpacked.Manifest, unpacked.Payload); err != nil {
		return nil, err
	}

	diff := DiffManifests(prevManifest, &unpacked.Manifest)

	return &VerifyResult{
		Manifest:  unpacked.Manifest,
		Signature: unpacked.Signature,
		Payload:   unpacked.Payload,
		Diff:      diff,
	}, nil
}

// verifyPayload confirms every manifest entry has a matching payload file
// of the right size and digest, and that no extra payload files exist
// (spec.md §4.5.2 step 4).
func verifyPayload(manifest KnowledgePackManifest, payload map[string][]byte) error {
	seen := make(map[string]struct{}, len(manifest.Files))
	for _, entry := range manifest.Files {
		seen[entry.Path] = struct{}{}
		data, ok := payload[entry.Path]
		if !ok {
			return fmt.Errorf("%w: payload missing for %q", ErrVerification, entry.Path)
		}
		if int64(len(data)) != entry.SizeBytes {
			return fmt.Errorf("%w: size mismatch for %q", ErrVerification, entry.Path)
		}
		digest, _, err := hashFile(bytesReader(data))
		if err != nil {
			return err
		}
		if digest != entry.SHA256 {
			return fmt.Errorf("%w: payload mismatch for %q", ErrVerification, entry.Path)
		}
	}
	for p := range payload {
		if _, ok := seen[p]; !ok {
			return fmt.Errorf("%w: unexpected payload entry %q", ErrVerification, p)
		}
	}
	return nil
}
