package kis

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"stocklive/config"
	"stocklive/internal/model"
	"stocklive/internal/store"
	"stocklive/logger"
)

func newTokenServer(t *testing.T, expiresIn int64, delay time.Duration, calls *int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth2/tokenP" {
			http.NotFound(w, r)
			return
		}
		atomic.AddInt64(calls, 1)
		if delay > 0 {
			time.Sleep(delay)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"tok-%d","expires_in":%d}`, atomic.LoadInt64(calls), expiresIn)
	}))
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	cfg := config.KISConfig{
		BaseURL:        baseURL,
		AppKey:         "app-key",
		AppSecret:      "app-secret",
		RequestTimeout: 2 * time.Second,
	}
	st := store.NewWithClient(nil, logger.GetLogger())
	return NewClient(cfg, st, nil, logger.GetLogger())
}

func TestGetTokenSingleFlight(t *testing.T) {
	var calls int64
	srv := newTokenServer(t, 86400, 50*time.Millisecond, &calls)
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	const concurrent = 10
	var wg sync.WaitGroup
	tokens := make([]string, concurrent)
	errs := make([]error, concurrent)
	for i := 0; i < concurrent; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = c.GetToken(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < concurrent; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if tokens[i] != tokens[0] {
			t.Errorf("caller %d got a different token: %s vs %s", i, tokens[i], tokens[0])
		}
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("expected exactly 1 upstream token request, got %d", got)
	}
}

func TestGetTokenServedFromCache(t *testing.T) {
	var calls int64
	srv := newTokenServer(t, 86400, 0, &calls)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	if _, err := c.GetToken(ctx); err != nil {
		t.Fatalf("first GetToken failed: %v", err)
	}
	if _, err := c.GetToken(ctx); err != nil {
		t.Fatalf("second GetToken failed: %v", err)
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("expected 1 upstream request, got %d", got)
	}
}

func TestTokenExpiryMargin(t *testing.T) {
	var calls int64
	srv := newTokenServer(t, 3600, 0, &calls)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	base := time.Now()
	c.now = func() time.Time { return base }

	ctx := context.Background()
	if _, err := c.GetToken(ctx); err != nil {
		t.Fatalf("GetToken failed: %v", err)
	}

	var tok model.AccessToken
	if !c.store.Get(ctx, store.KeyToken, &tok) {
		t.Fatalf("token not cached")
	}
	want := base.Add(3600*time.Second - tokenExpiryMargin)
	if !tok.ExpiresAt.Equal(want) {
		t.Errorf("expiry margin not applied: got %s, want %s", tok.ExpiresAt, want)
	}

	// One second past lifetime-minus-margin the cached token must be treated
	// as expired and a fresh one issued, even though the declared lifetime has
	// not elapsed.
	c.now = func() time.Time { return base.Add(3600*time.Second - tokenExpiryMargin + time.Second) }
	if _, err := c.GetToken(ctx); err != nil {
		t.Fatalf("refresh GetToken failed: %v", err)
	}
	if got := atomic.LoadInt64(&calls); got != 2 {
		t.Fatalf("expected a second upstream request after margin expiry, got %d", got)
	}
}

func TestGetTokenAuthErrors(t *testing.T) {
	t.Run("missing credentials", func(t *testing.T) {
		c := newTestClient(t, "http://127.0.0.1:0")
		c.cfg.AppKey = ""
		var authErr *AuthError
		if _, err := c.GetToken(context.Background()); err == nil {
			t.Fatalf("expected error")
		} else if !asAuthError(err, &authErr) {
			t.Fatalf("expected AuthError, got %T", err)
		}
	})

	t.Run("non-2xx", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()
		c := newTestClient(t, srv.URL)
		var authErr *AuthError
		if _, err := c.GetToken(context.Background()); !asAuthError(err, &authErr) {
			t.Fatalf("expected AuthError, got %v", err)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"access_token":""}`)
		}))
		defer srv.Close()
		c := newTestClient(t, srv.URL)
		var authErr *AuthError
		if _, err := c.GetToken(context.Background()); !asAuthError(err, &authErr) {
			t.Fatalf("expected AuthError, got %v", err)
		}
	})
}

func asAuthError(err error, target **AuthError) bool {
	if err == nil {
		return false
	}
	ae, ok := err.(*AuthError)
	if ok {
		*target = ae
	}
	return ok
}
