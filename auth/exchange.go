package auth

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/singleflight"
)

// exchange is the shared deduplicated-fetch machinery for TokenProviders
// that must exchange credentials for a short-lived session token over
// HTTP. fetch performs one exchange; exchange caches its result until
// expiry and collapses concurrent callers into a single in-flight fetch.
type exchange struct {
	clock clock.Clock
	fetch func(ctx context.Context) (string, time.Duration, error)

	group singleflight.Group

	mu    sync.Mutex
	token cachedToken
}

func newExchange(clk clock.Clock, fetch func(ctx context.Context) (string, time.Duration, error)) *exchange {
	if clk == nil {
		clk = clock.New()
	}

	return &exchange{clock: clk, fetch: fetch}
}

// SessionToken returns the cached token if still valid, otherwise performs
// exactly one fetch on behalf of every concurrent caller.
func (e *exchange) SessionToken(ctx context.Context) (string, error) {
	now := e.clock.Now()

	e.mu.Lock()
	if e.token.validAt(now) {
		tok := e.token.value
		e.mu.Unlock()

		return tok, nil
	}
	e.mu.Unlock()

	v, err, _ := e.group.Do("fetch", func() (any, error) {
		tok, ttl, err := e.fetch(ctx)
		if err != nil {
			return "", err
		}

		e.mu.Lock()
		e.token = cachedToken{value: tok, expiresAt: e.clock.Now().Add(ttl)}
		e.mu.Unlock()

		return tok, nil
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}
