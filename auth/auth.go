// Package auth implements TokenProvider (§6): it supplies the bearer
// session token attached to every authenticated wire request. Three
// concrete providers are implemented, matching the network's real
// authentication methods: a static session token, a private-key
// challenge/response exchange, and an API-key exchange. Both exchange-based
// providers deduplicate concurrent fetches with golang.org/x/sync/
// singleflight, so N simultaneous callers waiting on an expired token
// trigger exactly one token exchange.
package auth

import (
	"context"
	"time"

	"github.com/streamr-dev/streamr-client-go/internal/types"
)

// Static is a TokenProvider that always returns a fixed token, used when
// Config.Auth.SessionToken is supplied directly.
type Static struct {
	token string
}

var _ types.TokenProvider = Static{}

// NewStatic constructs a Static TokenProvider.
func NewStatic(token string) Static { return Static{token: token} }

// SessionToken implements TokenProvider.
func (s Static) SessionToken(_ context.Context) (string, error) { return s.token, nil }

// cachedToken is the shared expiry bookkeeping used by both exchange-based
// providers.
type cachedToken struct {
	value     string
	expiresAt time.Time
}

func (c cachedToken) validAt(now time.Time) bool {
	return c.value != "" && now.Before(c.expiresAt)
}
