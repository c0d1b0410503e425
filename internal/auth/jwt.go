package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// IDTokenClaims is the subset of a ChatGPT ID token's payload the auth
// manager cares about, plus the raw JWT it was parsed from.
type IDTokenClaims struct {
	Email           string
	ChatGPTPlanType string
	RawJWT          string
}

type idTokenPayload struct {
	Email string `json:"email"`
	Auth  struct {
		ChatGPTPlanType string `json:"chatgpt_plan_type"`
	} `json:"https://api.openai.com/auth"`
	jwt.RegisteredClaims
}

// ParseIDToken decodes a ChatGPT ID token's claims without verifying its
// signature — the token was already issued by the provider over a
// connection the refresh flow trusts; the manager only needs the identity
// claims it carries, not to re-authenticate it.
func ParseIDToken(raw string) (*IDTokenClaims, error) {
	var payload idTokenPayload
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, &payload); err != nil {
		return nil, err
	}
	return &IDTokenClaims{
		Email:           payload.Email,
		ChatGPTPlanType: payload.Auth.ChatGPTPlanType,
		RawJWT:          raw,
	}, nil
}
