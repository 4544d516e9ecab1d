package robots

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func serveRobots(t *testing.T, status int, contentType, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchOutcomes(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		status      int
		contentType string
		body        string
		wantOutcome string
		wantAllowed bool
	}{
		{"parsed", http.StatusOK, "text/plain; charset=utf-8", "User-agent: *\nDisallow: /a\n", OutcomeParsed, false},
		{"unauthorized", http.StatusUnauthorized, "text/plain", "", OutcomeDisallowAll, false},
		{"forbidden", http.StatusForbidden, "text/plain", "", OutcomeDisallowAll, false},
		{"not found", http.StatusNotFound, "text/plain", "", OutcomeStatus, true},
		{"server error", http.StatusInternalServerError, "text/plain", "", OutcomeStatus, true},
		{"binary", http.StatusOK, "image/png", "User-agent: *\nDisallow: /\n", OutcomeContentType, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := serveRobots(t, tc.status, tc.contentType, tc.body)
			policy, outcome := Fetch(context.Background(), srv.Client(), srv.URL+"/robots.txt", "linkcheck", nil)
			require.Equal(t, tc.wantOutcome, outcome)
			require.Equal(t, tc.wantAllowed, policy.CanFetch("linkcheck", "/a"))
		})
	}
}

func TestFetchNetworkFailureFailsOpen(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	policy, outcome := Fetch(context.Background(), http.DefaultClient, addr+"/robots.txt", "linkcheck", nil)
	require.Equal(t, OutcomeFailure, outcome)
	require.True(t, policy.AllowAll)
}

func TestCacheFetchesOncePerHost(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	var agent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		agent.Store(r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("User-agent: linkcheck\nDisallow: /private\n"))
	}))
	defer srv.Close()

	cache := NewCache(srv.Client(), "linkcheck/1.0", nil)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, err := url.Parse(srv.URL + "/private/page")
			if err != nil {
				return
			}
			cache.Allowed(context.Background(), u)
		}()
	}
	wg.Wait()

	public, err := url.Parse(srv.URL + "/public")
	require.NoError(t, err)
	private, err := url.Parse(srv.URL + "/private/x")
	require.NoError(t, err)
	require.True(t, cache.Allowed(context.Background(), public))
	require.False(t, cache.Allowed(context.Background(), private))
	require.Equal(t, int32(1), hits.Load())
	require.Equal(t, "linkcheck/1.0", agent.Load())
}

func TestURLFor(t *testing.T) {
	t.Parallel()

	u, err := ParseTarget("HTTPS://Example.com:443/a/b?c#d")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/robots.txt", URLFor(u))

	u, err = ParseTarget("http://example.com:8080/")
	require.NoError(t, err)
	require.Equal(t, "http://example.com:8080/robots.txt", URLFor(u))

	_, err = ParseTarget("mailto:x@y")
	require.ErrorIs(t, err, ErrNoHost)
}
