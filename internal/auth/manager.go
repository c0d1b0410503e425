package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/entirecore/agentcore/internal/jsonutil"
)

const refreshAge = 28 * 24 * time.Hour

// AccountPoolState is a point-in-time observability snapshot over the pool,
// refreshed on every disk write (spec.md §4.6).
type AccountPoolState struct {
	Total              int
	Available          int
	Cooldown           int
	Inactive           int
	NextAvailableReset *time.Time
	LastRotation       *time.Time
	LastRateLimit      *time.Time
}

// Manager owns one auth_pool.json file: it caches the parsed pool behind an
// RWMutex and treats every successful disk write as the serialization point
// for rotation and refresh (spec.md §4.6, §5).
type Manager struct {
	path       string
	legacyPath string
	client     *http.Client

	mu    sync.RWMutex
	pool  Pool
	state AccountPoolState
}

// NewManager returns a Manager backed by path, migrating from legacyPath on
// first Load if path does not yet exist.
func NewManager(path, legacyPath string, client *http.Client) (*Manager, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if err := ensureParentDir(path); err != nil {
		return nil, fmt.Errorf("preparing auth pool directory: %w", err)
	}
	return &Manager{path: path, legacyPath: legacyPath, client: client}, nil
}

// Load reads the pool file (migrating the legacy path if needed),
// normalizes it, and refreshes the in-memory snapshot.
func (m *Manager) Load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("reading auth pool: %w", err)
		}
		legacy, legacyErr := os.ReadFile(m.legacyPath)
		if legacyErr != nil {
			if os.IsNotExist(legacyErr) {
				m.mu.Lock()
				m.pool = Pool{}
				m.pool.Normalize()
				m.refreshStateLocked()
				m.mu.Unlock()
				return nil
			}
			return fmt.Errorf("reading legacy auth file: %w", legacyErr)
		}
		data = legacy
	}

	var pool Pool
	if err := json.Unmarshal(data, &pool); err != nil {
		return fmt.Errorf("parsing auth pool: %w", err)
	}
	pool.Normalize()

	m.mu.Lock()
	m.pool = pool
	m.refreshStateLocked()
	m.mu.Unlock()
	return nil
}

// writeLocked persists the pool atomically and refreshes the observability
// snapshot; it must be called with m.mu held for writing.
func (m *Manager) writeLocked() error {
	data, err := jsonutil.MarshalIndentWithNewline(m.pool, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling auth pool: %w", err)
	}
	if err := jsonutil.WriteFileAtomic(m.path, data, 0o600); err != nil {
		return fmt.Errorf("writing auth pool: %w", err)
	}

	reread, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("rereading auth pool: %w", err)
	}
	var pool Pool
	if err := json.Unmarshal(reread, &pool); err != nil {
		return fmt.Errorf("reparsing auth pool: %w", err)
	}
	pool.Normalize()
	m.pool = pool
	m.refreshStateLocked()
	return nil
}

func (m *Manager) refreshStateLocked() {
	now := time.Now()
	state := AccountPoolState{Total: len(m.pool.Accounts)}
	var nextReset *time.Time
	for i := range m.pool.Accounts {
		acc := &m.pool.Accounts[i]
		switch {
		case !acc.HasUsableTokens():
			state.Inactive++
		case !acc.IsAvailable(now):
			state.Cooldown++
			if nextReset == nil || acc.RateLimitReset.Before(*nextReset) {
				nextReset = acc.RateLimitReset
			}
		default:
			state.Available++
		}
	}
	state.NextAvailableReset = nextReset
	state.LastRotation = m.state.LastRotation
	state.LastRateLimit = m.state.LastRateLimit
	m.state = state
}

// AccountPoolSummary returns a copy of the last-refreshed observability
// snapshot.
func (m *Manager) AccountPoolSummary() AccountPoolState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// GetToken returns a usable access token for the active account, refreshing
// ChatGPT-mode tokens that are older than 28 days (spec.md §4.6).
func (m *Manager) GetToken(ctx context.Context) (string, error) {
	m.mu.RLock()
	account, ok := m.pool.Current()
	if !ok {
		m.mu.RUnlock()
		return "", ErrNoCredentials
	}
	if account.OpenAIAPIKey != "" {
		key := account.OpenAIAPIKey
		m.mu.RUnlock()
		return key, nil
	}
	if account.Tokens == nil || account.Tokens.RefreshToken == "" {
		m.mu.RUnlock()
		return "", ErrNoCredentials
	}

	needsRefresh := account.LastRefresh == nil || time.Since(*account.LastRefresh) >= refreshAge
	if !needsRefresh {
		token := account.Tokens.AccessToken
		m.mu.RUnlock()
		return token, nil
	}
	refreshToken := account.Tokens.RefreshToken
	m.mu.RUnlock()

	// The refresh HTTP call runs without the pool mutex held so other
	// readers aren't blocked on network I/O; only the write-back below
	// re-acquires it.
	newTokens, err := RefreshTokens(ctx, m.client, refreshToken)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok = m.pool.Current()
	if !ok {
		return "", ErrNoCredentials
	}
	now := time.Now()
	account.Tokens = newTokens
	account.LastRefresh = &now
	account.RateLimitReset = nil
	if err := m.writeLocked(); err != nil {
		return "", err
	}
	return newTokens.AccessToken, nil
}

// MarkCurrentRateLimited stamps the active account with a cooldown expiring
// after the given duration (default 60s when zero).
func (m *Manager) MarkCurrentRateLimited(d time.Duration) error {
	if d <= 0 {
		d = 60 * time.Second
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pool.Accounts) == 0 {
		// Nothing to rate-limit: a no-op, not an error, so a caller driving
		// an empty pool (API-key mode, or before any account is added) can
		// report a 429 without special-casing it.
		return nil
	}

	account, ok := m.pool.Current()
	if !ok {
		return ErrNoCredentials
	}
	resetAt := time.Now().Add(d)
	account.RateLimitReset = &resetAt
	m.state.LastRateLimit = &resetAt
	return m.writeLocked()
}

// SwitchToNextAccount advances the active-account pointer to the first
// following account (wrapping) with usable tokens and no active cooldown.
// It returns false without error if rotation is disabled, there is only one
// account, or no candidate is available.
func (m *Manager) SwitchToNextAccount() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pool.RotationEnabled == nil || !*m.pool.RotationEnabled || len(m.pool.Accounts) <= 1 {
		return false, nil
	}

	current := 0
	if m.pool.CurrentAccountIndex != nil {
		current = *m.pool.CurrentAccountIndex
	}
	n := len(m.pool.Accounts)
	now := time.Now()

	for step := 1; step < n; step++ {
		idx := (current + step) % n
		candidate := m.pool.Accounts[idx]
		if !candidate.HasUsableTokens() {
			continue
		}
		if !candidate.IsAvailable(now) {
			continue
		}
		m.pool.Accounts[idx].RateLimitReset = nil
		*m.pool.CurrentAccountIndex = idx
		rotatedAt := now
		m.state.LastRotation = &rotatedAt
		if err := m.writeLocked(); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// ensureParentDir is used by callers constructing a Manager's paths ahead
// of first Load/write.
func ensureParentDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o750)
}
