// Package auth implements the Token Cache: a shared credential holder that
// exchanges SAP UAA OAuth2 client-credentials for a bearer token, renews it
// before expiry, and guarantees at most one concurrent UAA exchange.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

// skew is the safety margin subtracted from a token's expiry before it is
// considered stale. Recommended by spec §3: 60s.
const skew = 60 * time.Second

// singleFlightKey is the only key ever used: one Credential per process, so
// there is exactly one cache slot to guard.
const singleFlightKey = "uaa-token"

// BearerToken is an immutable credential returned by GetToken. A refresh
// never mutates a BearerToken in place; it constructs a new one and
// publishes it atomically.
type BearerToken struct {
	AccessToken string
	ExpiresAt   time.Time
}

// expired reports whether t is stale at the given instant, applying skew.
func (t BearerToken) expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt.Add(-skew))
}

// AuthError wraps a failed UAA exchange. Surfaced to inbound callers as
// HTTP 500 per spec §7.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("auth: uaa exchange failed: %v", e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// Cache is the Token Cache. The zero value is not usable; construct with New.
type Cache struct {
	exchange *clientcredentials.Config
	group    singleflight.Group
	log      *slog.Logger

	current atomic.Pointer[BearerToken]
}

// New constructs a Cache that exchanges credentials against tokenURL using
// HTTP Basic auth, per spec §4.1.
func New(tokenURL, clientID, clientSecret string, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		exchange: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		log: log,
	}
}

// GetToken returns an unexpired BearerToken, refreshing it first if
// necessary. Concurrent callers during a refresh window share a single UAA
// exchange (spec invariant 1).
func (c *Cache) GetToken(ctx context.Context) (BearerToken, error) {
	if tok := c.current.Load(); tok != nil && !tok.expired(time.Now()) {
		return *tok, nil
	}

	v, err, _ := c.group.Do(singleFlightKey, func() (any, error) {
		// Re-check: another goroutine may have refreshed while we were
		// waiting to enter Do (the fast path above raced and lost).
		if tok := c.current.Load(); tok != nil && !tok.expired(time.Now()) {
			return *tok, nil
		}
		return c.refresh(ctx)
	})
	if err != nil {
		return BearerToken{}, &AuthError{Err: err}
	}
	return v.(BearerToken), nil
}

// Token returns just the access token string, for callers that only need
// the bearer string (internal/aicore, internal/proxy) without depending on
// this package's BearerToken type.
func (c *Cache) Token(ctx context.Context) (string, error) {
	tok, err := c.GetToken(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

// StringSource adapts Cache to any TokenSource interface shaped like
// `GetToken(ctx) (string, error)` (internal/aicore.TokenSource,
// internal/proxy's equivalent), without those packages importing auth.Cache
// or this package importing them.
type StringSource struct {
	Cache *Cache
}

// GetToken implements the narrow TokenSource interface.
func (s StringSource) GetToken(ctx context.Context) (string, error) {
	return s.Cache.Token(ctx)
}

// Invalidate forwards to the underlying Cache, so StringSource alone
// satisfies a TokenSource interface requiring both GetToken and Invalidate
// (the Proxy Engine's retry-once-on-401 contract).
func (s StringSource) Invalidate() {
	s.Cache.Invalidate()
}

// Invalidate discards the current token, forcing the next GetToken to
// refresh. Used by the Proxy Engine after an upstream 401 (spec §4.5).
func (c *Cache) Invalidate() {
	c.current.Store(nil)
}

func (c *Cache) refresh(ctx context.Context) (BearerToken, error) {
	oauthTok, err := c.exchange.Token(ctx)
	if err != nil {
		return BearerToken{}, err
	}
	tok := BearerToken{
		AccessToken: oauthTok.AccessToken,
		ExpiresAt:   oauthTok.Expiry,
	}
	c.current.Store(&tok)
	return tok, nil
}

// RunBackgroundRefresh starts a pre-refresh loop that wakes at
// expires_at - 2*skew and refreshes proactively, per spec §4.1. It runs
// until ctx is cancelled. Failures are logged, not propagated — the next
// inbound GetToken call retries from scratch.
func (c *Cache) RunBackgroundRefresh(ctx context.Context) {
	// Prime the cache synchronously so the first request doesn't pay the
	// refresh latency, and so we have an ExpiresAt to schedule the next wake.
	if _, err := c.GetToken(ctx); err != nil {
		c.log.ErrorContext(ctx, "token_prefetch_failed", slog.Any("error", err))
	}

	for {
		wait := c.nextWake()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if _, err := c.GetToken(ctx); err != nil {
			c.log.WarnContext(ctx, "token_background_refresh_failed", slog.Any("error", err))
		}
	}
}

func (c *Cache) nextWake() time.Duration {
	tok := c.current.Load()
	if tok == nil {
		return 2 * skew
	}
	wake := tok.ExpiresAt.Add(-2 * skew)
	d := time.Until(wake)
	if d < time.Second {
		d = time.Second
	}
	return d
}
