package pipeline

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/entirecore/agentcore/internal/audit"
	"github.com/entirecore/agentcore/internal/jsonutil"
)

func decodeBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

// Store is a pipeline home directory laid out per spec.md §4.5:
//
//	bundles/<name>/<version>.tar.gz
//	manifests/<name>/<version>.json
//	signatures/<name>/<version>.json
//	installed/<name>/<version>/<payload-tree>
//	state/<name>/current
type Store struct {
	Root   string
	Ledger *audit.Ledger
}

// Open returns a Store rooted at root, creating it if necessary, and an
// audit ledger at <root>/audit.log.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("%w: creating pipeline home: %v", ErrIO, err)
	}
	ledger, err := audit.Open(filepath.Join(root, "audit.log"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAudit, err)
	}
	return &Store{Root: root, Ledger: ledger}, nil
}

func (s *Store) bundlePath(name, version string) string {
	return filepath.Join(s.Root, "bundles", name, version+".tar.gz")
}

func (s *Store) manifestPath(name, version string) string {
	return filepath.Join(s.Root, "manifests", name, version+".json")
}

func (s *Store) signaturePath(name, version string) string {
	return filepath.Join(s.Root, "signatures", name, version+".json")
}

func (s *Store) installedDir(name, version string) string {
	return filepath.Join(s.Root, "installed", name, version)
}

func (s *Store) currentPointerPath(name string) string {
	return filepath.Join(s.Root, "state", name, "current")
}

// CurrentVersion returns the active version for a pack name, or "" if none
// is installed.
func (s *Store) CurrentVersion(name string) (string, error) {
	data, err := os.ReadFile(s.currentPointerPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("%w: reading current pointer: %v", ErrIO, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// CurrentManifest loads the manifest for whatever version is currently
// active, or nil if nothing is installed.
func (s *Store) CurrentManifest(name string) (*KnowledgePackManifest, error) {
	version, err := s.CurrentVersion(name)
	if err != nil {
		return nil, err
	}
	if version == "" {
		return nil, nil
	}
	return s.loadManifest(name, version)
}

func (s *Store) loadManifest(name, version string) (*KnowledgePackManifest, error) {
	data, err := os.ReadFile(s.manifestPath(name, version))
	if err != nil {
		return nil, fmt.Errorf("%w: reading manifest for %s@%s: %v", ErrIO, name, version, err)
	}
	var m KnowledgePackManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return &m, nil
}

// SignAndStore signs a source directory and persists the resulting bundle,
// manifest, and signature into the store, then appends an audit event
// (spec.md §4.5.1).
func (s *Store) SignAndStore(params SignParams) (*SignResult, error) {
	result, err := Sign(params)
	if err != nil {
		return nil, err
	}

	if err := jsonutil.WriteFileAtomic(s.bundlePath(params.Name, params.Version), result.Bundle, 0o640); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	manifestPretty, err := jsonutil.MarshalIndentWithNewline(result.Manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	if err := jsonutil.WriteFileAtomic(s.manifestPath(params.Name, params.Version), manifestPretty, 0o640); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	sigPretty, err := jsonutil.MarshalIndentWithNewline(result.Signature, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	if err := jsonutil.WriteFileAtomic(s.signaturePath(params.Name, params.Version), sigPretty, 0o640); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	pub, _ := params.SigningKey.Public().(ed25519.PublicKey)
	event := audit.NewEvent(audit.SupplyChain, params.Actor, "sign", "knowledge-pack:"+params.Name).
		WithMetadata("version", params.Version).
		WithMetadata("files", strconv.Itoa(result.Manifest.FileCount)).
		WithMetadata("bytes", strconv.FormatInt(result.Manifest.TotalBytes, 10)).
		WithMetadata("fingerprint", Fingerprint(pub)).
		WithMetadata("digest", result.Signature.ManifestDigest)
	if err := s.Ledger.Append(event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAudit, err)
	}

	return result, nil
}

// InstallParams configures one Install invocation.
type InstallParams struct {
	BundlePath           string
	ExpectedFingerprint  string
	HasExpectedFingerprint bool
	Install              bool
	ForceInstall         bool
	Actor                string
}

// InstallResult reports what Install did.
type InstallResult struct {
	Manifest KnowledgePackManifest
	Diff     ManifestDiff
	Installed bool
	PreviousVersion string
}

// VerifyAndInstall verifies a bundle file and, if requested, installs it
// (spec.md §4.5.2). Partial directories created during a failed install are
// removed before returning.
func (s *Store) VerifyAndInstall(params InstallParams) (*InstallResult, error) {
	bundleData, err := os.ReadFile(params.BundlePath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading bundle: %v", ErrIO, err)
	}

	verifyResult, name, err := s.verifyWithDeducedName(bundleData, params)
	if err != nil {
		return nil, err
	}

	result := &InstallResult{Manifest: verifyResult.Manifest, Diff: verifyResult.Diff}

	if !params.Install {
		return result, nil
	}

	version := verifyResult.Manifest.Version
	destDir := s.installedDir(name, version)
	if _, err := os.Stat(destDir); err == nil && !params.ForceInstall {
		return nil, fmt.Errorf("%w: %s@%s is already installed (force_install required)", ErrInvalidInput, name, version)
	}

	if err := os.RemoveAll(destDir); err != nil {
		return nil, fmt.Errorf("%w: clearing previous install: %v", ErrIO, err)
	}
	if err := installPayload(destDir, verifyResult.Payload); err != nil {
		os.RemoveAll(destDir)
		return nil, err
	}

	if err := jsonutil.WriteFileAtomic(s.bundlePath(name, version), bundleData, 0o640); err != nil {
		os.RemoveAll(destDir)
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	manifestPretty, err := jsonutil.MarshalIndentWithNewline(verifyResult.Manifest, "", "  ")
	if err != nil {
		os.RemoveAll(destDir)
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	if err := jsonutil.WriteFileAtomic(s.manifestPath(name, version), manifestPretty, 0o640); err != nil {
		os.RemoveAll(destDir)
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	sigPretty, err := jsonutil.MarshalIndentWithNewline(verifyResult.Signature, "", "  ")
	if err != nil {
		os.RemoveAll(destDir)
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	if err := jsonutil.WriteFileAtomic(s.signaturePath(name, version), sigPretty, 0o640); err != nil {
		os.RemoveAll(destDir)
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	previous, err := s.CurrentVersion(name)
	if err != nil {
		os.RemoveAll(destDir)
		return nil, err
	}
	if err := jsonutil.WriteFileAtomic(s.currentPointerPath(name), []byte(version+"\n"), 0o640); err != nil {
		os.RemoveAll(destDir)
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	event := audit.NewEvent(audit.SupplyChain, params.Actor, "install", "knowledge-pack:"+name).
		WithMetadata("version", version).
		WithMetadata("fingerprint", fingerprintFromSignature(verifyResult.Signature)).
		WithMetadata("files", strconv.Itoa(verifyResult.Manifest.FileCount)).
		WithMetadata("bytes", strconv.FormatInt(verifyResult.Manifest.TotalBytes, 10))
	if previous != "" {
		event = event.WithMetadata("previous", previous)
	}
	if err := s.Ledger.Append(event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAudit, err)
	}

	result.Installed = true
	result.PreviousVersion = previous
	return result, nil
}

// verifyWithDeducedName runs Verify against whatever is currently installed
// for the bundle's own manifest name, returning that name for the caller's
// subsequent install paths.
func (s *Store) verifyWithDeducedName(bundleData []byte, params InstallParams) (*VerifyResult, string, error) {
	peek, err := readBundle(bundleData)
	if err != nil {
		return nil, "", err
	}
	prevManifest, err := s.CurrentManifest(peek.Manifest.Name)
	if err != nil {
		return nil, "", err
	}
	result, err := Verify(VerifyParams{
		Bundle: bundleData, ExpectedFingerprint: params.ExpectedFingerprint,
		HasExpectedFingerprint: params.HasExpectedFingerprint,
	}, prevManifest)
	if err != nil {
		return nil, "", err
	}
	return result, peek.Manifest.Name, nil
}

func fingerprintFromSignature(sig SignatureEnvelope) string {
	pub, err := decodeBase64URL(sig.VerifyingKey)
	if err != nil {
		return ""
	}
	return Fingerprint(ed25519.PublicKey(pub))
}

func installPayload(destDir string, payload map[string][]byte) error {
	for rel, data := range payload {
		dest := filepath.Join(destDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
			return fmt.Errorf("%w: creating payload directory: %v", ErrIO, err)
		}
		if err := os.WriteFile(dest, data, 0o640); err != nil {
			return fmt.Errorf("%w: writing payload file %s: %v", ErrIO, rel, err)
		}
	}
	return nil
}

