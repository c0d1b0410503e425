// Package auth implements the multi-account OAuth/API-key pool described in
// spec.md §4.6: credential rotation with rate-limit cooldown and atomic
// on-disk state.
package auth

import (
	"time"
)

// TokenSet is the OAuth token triple for one ChatGPT-mode account. The ID
// token is kept as its raw string; ParseIDToken extracts its claims.
type TokenSet struct {
	IDToken      string `json:"id_token,omitempty"`
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// AuthAccount is one credential slot in the pool: either an API key or an
// OAuth token set, with its own cooldown.
type AuthAccount struct {
	OpenAIAPIKey   string     `json:"OPENAI_API_KEY,omitempty"`
	Tokens         *TokenSet  `json:"tokens,omitempty"`
	LastRefresh    *time.Time `json:"last_refresh,omitempty"`
	RateLimitReset *time.Time `json:"rate_limit_reset,omitempty"`
}

// IsAvailable reports whether the account's cooldown, if any, has elapsed.
func (a AuthAccount) IsAvailable(now time.Time) bool {
	if a.RateLimitReset == nil {
		return true
	}
	return !a.RateLimitReset.After(now)
}

// HasUsableTokens reports whether the account carries either an API key or
// a non-empty OAuth token pair usable for rotation.
func (a AuthAccount) HasUsableTokens() bool {
	if a.OpenAIAPIKey != "" {
		return true
	}
	return a.Tokens != nil && a.Tokens.AccessToken != "" && a.Tokens.RefreshToken != ""
}

// Pool is the on-disk `auth_pool.json` document (spec.md §6.6). All
// top-level fields are optional; Normalize fills defaults and promotes the
// legacy single-account shape.
type Pool struct {
	OpenAIAPIKey        string        `json:"OPENAI_API_KEY,omitempty"`
	Tokens              *TokenSet     `json:"tokens,omitempty"`
	LastRefresh         *time.Time    `json:"last_refresh,omitempty"`
	Accounts            []AuthAccount `json:"accounts,omitempty"`
	CurrentAccountIndex *int          `json:"current_account_index,omitempty"`
	RotationEnabled     *bool         `json:"rotation_enabled,omitempty"`
}

// Normalize promotes legacy top-level fields into accounts[0] when no
// accounts array is present, and fills current_account_index/
// rotation_enabled when unset.
func (p *Pool) Normalize() {
	if len(p.Accounts) == 0 && (p.OpenAIAPIKey != "" || p.Tokens != nil) {
		p.Accounts = []AuthAccount{{
			OpenAIAPIKey: p.OpenAIAPIKey,
			Tokens:       p.Tokens,
			LastRefresh:  p.LastRefresh,
		}}
	}
	if p.CurrentAccountIndex == nil {
		idx := 0
		p.CurrentAccountIndex = &idx
	}
	if p.RotationEnabled == nil {
		enabled := len(p.Accounts) > 1
		p.RotationEnabled = &enabled
	}
}

// Current returns the active account, if the index is in range.
func (p *Pool) Current() (*AuthAccount, bool) {
	if p.CurrentAccountIndex == nil || *p.CurrentAccountIndex < 0 || *p.CurrentAccountIndex >= len(p.Accounts) {
		return nil, false
	}
	return &p.Accounts[*p.CurrentAccountIndex], true
}
