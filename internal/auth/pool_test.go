package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPool_NormalizePromotesLegacyFields(t *testing.T) {
	t.Parallel()

	pool := Pool{OpenAIAPIKey: "sk-legacy"}
	pool.Normalize()

	assert.Len(t, pool.Accounts, 1)
	assert.Equal(t, "sk-legacy", pool.Accounts[0].OpenAIAPIKey)
	assert.Equal(t, 0, *pool.CurrentAccountIndex)
	assert.False(t, *pool.RotationEnabled)
}

func TestPool_NormalizeEnablesRotationForMultipleAccounts(t *testing.T) {
	t.Parallel()

	pool := Pool{Accounts: []AuthAccount{{OpenAIAPIKey: "a"}, {OpenAIAPIKey: "b"}}}
	pool.Normalize()

	assert.True(t, *pool.RotationEnabled)
}

func TestAuthAccount_IsAvailable(t *testing.T) {
	t.Parallel()

	now := time.Now()
	future := now.Add(time.Minute)
	past := now.Add(-time.Minute)

	assert.True(t, AuthAccount{}.IsAvailable(now))
	assert.False(t, AuthAccount{RateLimitReset: &future}.IsAvailable(now))
	assert.True(t, AuthAccount{RateLimitReset: &past}.IsAvailable(now))
}

func TestAuthAccount_HasUsableTokens(t *testing.T) {
	t.Parallel()

	assert.True(t, AuthAccount{OpenAIAPIKey: "sk-x"}.HasUsableTokens())
	assert.True(t, AuthAccount{Tokens: &TokenSet{AccessToken: "a", RefreshToken: "r"}}.HasUsableTokens())
	assert.False(t, AuthAccount{}.HasUsableTokens())
	assert.False(t, AuthAccount{Tokens: &TokenSet{AccessToken: "a"}}.HasUsableTokens())
}
