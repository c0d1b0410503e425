package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestStore_SignAndInstallRoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	dir := writeSourceTree(t, map[string]string{"README.md": "hello\n"})
	key := newTestKey(t)

	signed, err := store.SignAndStore(SignParams{
		Name: "docs", Version: "1.0.0", SourceDir: dir, SigningKey: key, Signer: "tester", Actor: "ci",
	})
	require.NoError(t, err)

	bundlePath := store.bundlePath("docs", "1.0.0")
	require.FileExists(t, bundlePath)

	result, err := store.VerifyAndInstall(InstallParams{BundlePath: bundlePath, Install: true, Actor: "ci"})
	require.NoError(t, err)
	assert.True(t, result.Installed)
	assert.Equal(t, signed.Manifest.Version, result.Manifest.Version)

	installedFile := filepath.Join(store.installedDir("docs", "1.0.0"), "README.md")
	data, err := os.ReadFile(installedFile)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))

	current, err := store.CurrentVersion("docs")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", current)

	events, err := store.Ledger.Tail()
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "sign", events[0].Action)
	assert.Equal(t, "install", events[1].Action)
}

func TestStore_InstallRefusesOverwriteWithoutForce(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	dir := writeSourceTree(t, map[string]string{"a.txt": "1"})
	key := newTestKey(t)
	store.SignAndStore(SignParams{Name: "pack", Version: "1.0.0", SourceDir: dir, SigningKey: key, Signer: "t", Actor: "ci"})

	bundlePath := store.bundlePath("pack", "1.0.0")
	_, err := store.VerifyAndInstall(InstallParams{BundlePath: bundlePath, Install: true, Actor: "ci"})
	require.NoError(t, err)

	_, err = store.VerifyAndInstall(InstallParams{BundlePath: bundlePath, Install: true, Actor: "ci"})
	require.Error(t, err)

	_, err = store.VerifyAndInstall(InstallParams{BundlePath: bundlePath, Install: true, ForceInstall: true, Actor: "ci"})
	require.NoError(t, err)
}

func TestStore_RollbackMovesPointerWithoutReinstalledPayload(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	key := newTestKey(t)

	dirV1 := writeSourceTree(t, map[string]string{"a.txt": "v1"})
	store.SignAndStore(SignParams{Name: "pack", Version: "1.0.0", SourceDir: dirV1, SigningKey: key, Signer: "t", Actor: "ci"})
	_, err := store.VerifyAndInstall(InstallParams{BundlePath: store.bundlePath("pack", "1.0.0"), Install: true, Actor: "ci"})
	require.NoError(t, err)

	dirV2 := writeSourceTree(t, map[string]string{"a.txt": "v2"})
	store.SignAndStore(SignParams{Name: "pack", Version: "2.0.0", SourceDir: dirV2, SigningKey: key, Signer: "t", Actor: "ci"})
	_, err = store.VerifyAndInstall(InstallParams{BundlePath: store.bundlePath("pack", "2.0.0"), Install: true, Actor: "ci"})
	require.NoError(t, err)

	current, err := store.CurrentVersion("pack")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", current)

	require.NoError(t, store.Rollback(RollbackParams{Name: "pack", Version: "1.0.0", Actor: "ci"}))

	current, err = store.CurrentVersion("pack")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", current)
}

func TestStore_RollbackRejectsUninstalledVersion(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	err := store.Rollback(RollbackParams{Name: "pack", Version: "9.9.9", Actor: "ci"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
