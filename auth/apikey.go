package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/streamr-dev/streamr-client-go/internal/types"
)

// APIKey is a TokenProvider that authenticates via API-key exchange:
// trade a long-lived API key for a short-lived session token.
type APIKey struct {
	*exchange

	apiKey     string
	authURL    string
	httpClient *http.Client
}

var _ types.TokenProvider = (*APIKey)(nil)

// NewAPIKey constructs an APIKey provider. authURL is the base URL of the
// broker's authentication endpoint; httpClient defaults to
// http.DefaultClient when nil.
func NewAPIKey(apiKey, authURL string, httpClient *http.Client, clk clock.Clock) *APIKey {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	a := &APIKey{apiKey: apiKey, authURL: authURL, httpClient: httpClient}
	a.exchange = newExchange(clk, a.fetchToken)

	return a
}

func (a *APIKey) fetchToken(ctx context.Context) (string, time.Duration, error) {
	endpoint := strings.TrimSuffix(a.authURL, "/") + "/apikey/exchange"

	body, err := json.Marshal(map[string]string{"apiKey": a.apiKey})
	if err != nil {
		return "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("auth: api key exchange rejected: %s: %s", resp.Status, respBody)
	}

	var payload sessionTokenPayload
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return "", 0, fmt.Errorf("auth: decode session token: %w", err)
	}

	return payload.Token, time.Duration(payload.ExpiresIn) * time.Second, nil
}
