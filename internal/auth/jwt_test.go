package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIDToken_ExtractsClaims(t *testing.T) {
	t.Parallel()

	claims := jwt.MapClaims{
		"email": "dev@example.com",
		"https://api.openai.com/auth": map[string]any{
			"chatgpt_plan_type": "pro",
		},
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	raw, err := token.SignedString([]byte("unused-signing-key"))
	require.NoError(t, err)

	parsed, err := ParseIDToken(raw)
	require.NoError(t, err)
	assert.Equal(t, "dev@example.com", parsed.Email)
	assert.Equal(t, "pro", parsed.ChatGPTPlanType)
	assert.Equal(t, raw, parsed.RawJWT)
}

func TestParseIDToken_RejectsMalformedToken(t *testing.T) {
	t.Parallel()

	_, err := ParseIDToken("not-a-jwt")
	assert.Error(t, err)
}
