package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DefaultClientID is this module's own OAuth client identity, distinct from
// any upstream coding-agent's registered client.
const DefaultClientID = "agentcore-cli"

const refreshTimeout = 60 * time.Second

// RefreshEndpoint is where refresh_token grants are exchanged for a new
// access token. Overridable for tests.
var RefreshEndpoint = "https://auth.openai.com/oauth/token"

type refreshRequest struct {
	ClientID     string `json:"client_id"`
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

type refreshResponse struct {
	IDToken      string `json:"id_token"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// RefreshTokens exchanges a refresh token for a new token set, under a 60 s
// timeout (spec.md §4.6, §5). The caller's token mutex must not be held
// across this call — only the refresh token itself needs to be read first.
func RefreshTokens(ctx context.Context, client *http.Client, refreshToken string) (*TokenSet, error) {
	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	body, err := json.Marshal(refreshRequest{
		ClientID:     DefaultClientID,
		GrantType:    "refresh_token",
		RefreshToken: refreshToken,
		Scope:        "openid profile email",
	})
	if err != nil {
		return nil, fmt.Errorf("encoding refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, RefreshEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refreshing tokens: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: token refresh returned status %d", ErrRefreshFailed, resp.StatusCode)
	}

	var parsed refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding refresh response: %w", err)
	}

	return &TokenSet{
		IDToken:      parsed.IDToken,
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.RefreshToken,
	}, nil
}
