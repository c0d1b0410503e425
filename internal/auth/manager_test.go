package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePoolFile(t *testing.T, path string, pool Pool) {
	t.Helper()
	data, err := json.Marshal(pool)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func TestManager_GetToken_APIKeyMode(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	poolPath := filepath.Join(dir, "auth_pool.json")
	writePoolFile(t, poolPath, Pool{OpenAIAPIKey: "sk-test"})

	m, err := NewManager(poolPath, filepath.Join(dir, "auth.json"), nil)
	require.NoError(t, err)
	require.NoError(t, m.Load())

	token, err := m.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sk-test", token)
}

func TestManager_GetToken_RefreshesStaleChatGPTTokens(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(refreshResponse{
			AccessToken: "new-access", RefreshToken: "new-refresh", IDToken: "new-id",
		})
	}))
	defer server.Close()
	RefreshEndpoint = server.URL

	dir := t.TempDir()
	poolPath := filepath.Join(dir, "auth_pool.json")
	stale := time.Now().Add(-30 * 24 * time.Hour)
	writePoolFile(t, poolPath, Pool{
		Accounts: []AuthAccount{{
			Tokens:      &TokenSet{AccessToken: "old-access", RefreshToken: "old-refresh"},
			LastRefresh: &stale,
		}},
	})

	m, err := NewManager(poolPath, filepath.Join(dir, "auth.json"), server.Client())
	require.NoError(t, err)
	require.NoError(t, m.Load())

	token, err := m.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-access", token)

	data, err := os.ReadFile(poolPath)
	require.NoError(t, err)
	var onDisk Pool
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, "new-access", onDisk.Accounts[0].Tokens.AccessToken)
}

func TestManager_MarkCurrentRateLimitedAndRotate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	poolPath := filepath.Join(dir, "auth_pool.json")
	enabled := true
	idx := 0
	writePoolFile(t, poolPath, Pool{
		Accounts: []AuthAccount{
			{OpenAIAPIKey: "sk-a"},
			{OpenAIAPIKey: "sk-b"},
		},
		CurrentAccountIndex: &idx,
		RotationEnabled:     &enabled,
	})

	m, err := NewManager(poolPath, filepath.Join(dir, "auth.json"), nil)
	require.NoError(t, err)
	require.NoError(t, m.Load())

	require.NoError(t, m.MarkCurrentRateLimited(2*time.Minute))

	switched, err := m.SwitchToNextAccount()
	require.NoError(t, err)
	assert.True(t, switched)

	token, err := m.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sk-b", token)

	data, err := os.ReadFile(poolPath)
	require.NoError(t, err)
	var onDisk Pool
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, 1, *onDisk.CurrentAccountIndex)
	assert.NotNil(t, onDisk.Accounts[0].RateLimitReset)
	assert.Nil(t, onDisk.Accounts[1].RateLimitReset)
}

func TestManager_MarkCurrentRateLimited_NoopOnEmptyPool(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	poolPath := filepath.Join(dir, "auth_pool.json")
	writePoolFile(t, poolPath, Pool{})

	m, err := NewManager(poolPath, filepath.Join(dir, "auth.json"), nil)
	require.NoError(t, err)
	require.NoError(t, m.Load())

	assert.NoError(t, m.MarkCurrentRateLimited(time.Minute))
}

func TestManager_SwitchToNextAccount_NoCandidateReturnsFalse(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	poolPath := filepath.Join(dir, "auth_pool.json")
	enabled := true
	idx := 0
	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	writePoolFile(t, poolPath, Pool{
		Accounts: []AuthAccount{
			{OpenAIAPIKey: "sk-a", RateLimitReset: &past},
			{OpenAIAPIKey: "sk-b", RateLimitReset: &future},
		},
		CurrentAccountIndex: &idx,
		RotationEnabled:     &enabled,
	})

	m, err := NewManager(poolPath, filepath.Join(dir, "auth.json"), nil)
	require.NoError(t, err)
	require.NoError(t, m.Load())

	switched, err := m.SwitchToNextAccount()
	require.NoError(t, err)
	assert.False(t, switched)
}

func TestManager_SwitchToNextAccount_DisabledReturnsFalse(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	poolPath := filepath.Join(dir, "auth_pool.json")
	writePoolFile(t, poolPath, Pool{Accounts: []AuthAccount{{OpenAIAPIKey: "sk-a"}, {OpenAIAPIKey: "sk-b"}}})

	m, err := NewManager(poolPath, filepath.Join(dir, "auth.json"), nil)
	require.NoError(t, err)
	require.NoError(t, m.Load())

	disabled := false
	m.pool.RotationEnabled = &disabled

	switched, err := m.SwitchToNextAccount()
	require.NoError(t, err)
	assert.False(t, switched)
}

func TestManager_LoadMigratesLegacyFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	legacyPath := filepath.Join(dir, "auth.json")
	writePoolFile(t, legacyPath, Pool{OpenAIAPIKey: "sk-legacy"})

	m, err := NewManager(filepath.Join(dir, "auth_pool.json"), legacyPath, nil)
	require.NoError(t, err)
	require.NoError(t, m.Load())

	token, err := m.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sk-legacy", token)
}
