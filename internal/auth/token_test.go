package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// newUAAStub returns an httptest server simulating the UAA client-credentials
// endpoint and an *int32 counter of POST /oauth/token calls observed.
func newUAAStub(t *testing.T, expiresIn int) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		user, pass, ok := r.BasicAuth()
		if !ok || user == "" || pass == "" {
			http.Error(w, "missing basic auth", http.StatusUnauthorized)
			return
		}
		if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
			http.Error(w, "bad grant_type", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "token-" + time.Now().Format(time.RFC3339Nano),
			"token_type":   "bearer",
			"expires_in":   expiresIn,
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestGetToken_SuccessfulExchange(t *testing.T) {
	srv, calls := newUAAStub(t, 3600)
	c := New(srv.URL, "client", "secret", nil)

	tok, err := c.GetToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok.AccessToken == "" {
		t.Fatal("expected non-empty access token")
	}
	if atomic.LoadInt32(calls) != 1 {
		t.Fatalf("expected 1 UAA call, got %d", *calls)
	}
}

func TestGetToken_CachedUntilExpiry(t *testing.T) {
	srv, calls := newUAAStub(t, 3600)
	c := New(srv.URL, "client", "secret", nil)

	first, err := c.GetToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := c.GetToken(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.AccessToken != second.AccessToken {
		t.Fatal("expected cached token to be reused")
	}
	if atomic.LoadInt32(calls) != 1 {
		t.Fatalf("expected exactly 1 UAA call, got %d", *calls)
	}
}

// TestGetToken_SingleFlight is the core concurrency invariant (spec §8,
// invariant 1 / scenario S5): many concurrent callers during a refresh
// window must observe exactly one UAA POST.
func TestGetToken_SingleFlight(t *testing.T) {
	srv, calls := newUAAStub(t, 3600)
	c := New(srv.URL, "client", "secret", nil)

	const n = 50
	var wg sync.WaitGroup
	errs := make([]error, n)
	toks := make([]BearerToken, n)

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			toks[i], errs[i] = c.GetToken(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		if toks[i].AccessToken != toks[0].AccessToken {
			t.Fatalf("request %d observed a different token than request 0", i)
		}
	}
	if got := atomic.LoadInt32(calls); got != 1 {
		t.Fatalf("expected exactly 1 UAA POST for %d concurrent callers, got %d", n, got)
	}
}

func TestGetToken_ExchangeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_client", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, "client", "wrong-secret", nil)
	_, err := c.GetToken(context.Background())
	if err == nil {
		t.Fatal("expected an AuthError, got nil")
	}
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError, got %T", err)
	}
}

func TestInvalidate_ForcesRefresh(t *testing.T) {
	srv, calls := newUAAStub(t, 3600)
	c := New(srv.URL, "client", "secret", nil)

	if _, err := c.GetToken(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.Invalidate()
	if _, err := c.GetToken(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(calls); got != 2 {
		t.Fatalf("expected 2 UAA calls after Invalidate, got %d", got)
	}
}

func TestExpired_AppliesSkew(t *testing.T) {
	now := time.Now()
	tok := BearerToken{AccessToken: "t", ExpiresAt: now.Add(30 * time.Second)}
	if !tok.expired(now) {
		t.Fatal("token expiring within the 60s skew margin should be considered expired")
	}
	tok2 := BearerToken{AccessToken: "t", ExpiresAt: now.Add(5 * time.Minute)}
	if tok2.expired(now) {
		t.Fatal("token expiring well beyond the skew margin should not be considered expired")
	}
}
