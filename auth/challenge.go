package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/streamr-dev/streamr-client-go/crypto"
	"github.com/streamr-dev/streamr-client-go/internal/types"
)

// ChallengeResponse is a TokenProvider that authenticates via the
// network's private-key challenge/response exchange: fetch a challenge for
// the identity's address, sign it, and trade the signature for a session
// token.
type ChallengeResponse struct {
	*exchange

	identity   *crypto.Identity
	authURL    string
	httpClient *http.Client
}

var _ types.TokenProvider = (*ChallengeResponse)(nil)

// NewChallengeResponse constructs a ChallengeResponse provider. authURL is
// the base URL of the broker's authentication endpoint; httpClient
// defaults to http.DefaultClient when nil.
func NewChallengeResponse(identity *crypto.Identity, authURL string, httpClient *http.Client, clk clock.Clock) *ChallengeResponse {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &ChallengeResponse{identity: identity, authURL: authURL, httpClient: httpClient}
	c.exchange = newExchange(clk, c.fetchToken)

	return c
}

type challengeResponsePayload struct {
	Challenge string `json:"challenge"`
}

type sessionTokenPayload struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresInSeconds"`
}

func (c *ChallengeResponse) fetchToken(ctx context.Context) (string, time.Duration, error) {
	challenge, err := c.requestChallenge(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("auth: request challenge: %w", err)
	}

	signature, err := crypto.SignChallenge(c.identity, challenge)
	if err != nil {
		return "", 0, fmt.Errorf("auth: sign challenge: %w", err)
	}

	return c.requestToken(ctx, challenge, signature)
}

func (c *ChallengeResponse) requestChallenge(ctx context.Context) (string, error) {
	endpoint := strings.TrimSuffix(c.authURL, "/") + "/challenge?address=" + url.QueryEscape(c.identity.Address)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("auth: challenge request failed: %s: %s", resp.Status, body)
	}

	var payload challengeResponsePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("auth: decode challenge response: %w", err)
	}

	return payload.Challenge, nil
}

func (c *ChallengeResponse) requestToken(ctx context.Context, challenge, signature string) (string, time.Duration, error) {
	endpoint := strings.TrimSuffix(c.authURL, "/") + "/response"

	body, err := json.Marshal(map[string]string{
		"address":   c.identity.Address,
		"challenge": challenge,
		"signature": signature,
	})
	if err != nil {
		return "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("auth: challenge response rejected: %s: %s", resp.Status, respBody)
	}

	var payload sessionTokenPayload
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return "", 0, fmt.Errorf("auth: decode session token: %w", err)
	}

	return payload.Token, time.Duration(payload.ExpiresIn) * time.Second, nil
}
