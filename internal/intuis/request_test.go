package intuis

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient returns a logged-in client pointed at the test server.
func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c := New("user@example.com", "password",
		WithMinRequestDelay(0),
		WithRateLimitDelay(time.Millisecond),
	)
	c.serverDelay = time.Millisecond
	c.baseURL = server.URL
	c.accessToken = "access-token"
	c.refreshToken = "refresh-token"
	c.expiry = time.Now().Add(time.Hour)
	return c
}

func authHandler(token string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"` + token + `","refresh_token":"` + token + `","expires_in":10800}`))
	}
}

func TestClient_Do_RefreshesTokenOn401(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc(authPath, authHandler("fresh-token"))
	mux.HandleFunc("/api/test", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	})

	c := newTestClient(t, mux)
	_, err := c.do(context.Background(), http.MethodGet, "/api/test", "", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "fresh-token", c.bearerToken())
}

func TestClient_Do_SecondUnauthorizedIsTerminal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(authPath, authHandler("fresh-token"))
	mux.HandleFunc("/api/test", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	c := newTestClient(t, mux)
	_, err := c.do(context.Background(), http.MethodGet, "/api/test", "", nil)
	assert.ErrorIs(t, err, ErrAuth)
}

func TestClient_Do_RateLimitBudget(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := c.do(context.Background(), http.MethodGet, "/api/test", "", nil)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int32(defaultRateLimitAttempts), calls.Load())
	// five consecutive 429s blow through the circuit threshold
	assert.True(t, c.breaker.isOpen())
}

func TestClient_Do_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))

	_, err := c.do(context.Background(), http.MethodGet, "/api/test", "", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_Do_ServerErrorBudgetExhausted(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := c.do(context.Background(), http.MethodGet, "/api/test", "", nil)
	var apiError *APIError
	require.ErrorAs(t, err, &apiError)
	assert.Equal(t, http.StatusInternalServerError, apiError.StatusCode)
	assert.Equal(t, int32(defaultServerAttempts), calls.Load())
}

func TestClient_Do_ClientErrorsAreTerminal(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := c.do(context.Background(), http.MethodGet, "/api/test", "", nil)
	var apiError *APIError
	require.ErrorAs(t, err, &apiError)
	assert.Equal(t, http.StatusNotFound, apiError.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_Do_WaitsForOpenCircuit(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))

	const cooldown = 100 * time.Millisecond
	c.breaker.lock.Lock()
	c.breaker.openUntil = time.Now().Add(cooldown)
	c.breaker.lock.Unlock()

	start := time.Now()
	_, err := c.do(context.Background(), http.MethodGet, "/api/test", "", nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), cooldown/2)
}

func TestClient_Do_LogsInLazily(t *testing.T) {
	var authCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc(authPath, func(w http.ResponseWriter, r *http.Request) {
		authCalls.Add(1)
		authHandler("lazy-token")(w, r)
	})
	mux.HandleFunc("/api/test", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer lazy-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	})

	c := newTestClient(t, mux)
	c.accessToken = ""
	c.refreshToken = ""
	c.clusters = []string{c.baseURL}

	_, err := c.do(context.Background(), http.MethodGet, "/api/test", "", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), authCalls.Load())
	assert.Equal(t, "lazy-token", c.bearerToken())

	// the saved tokens are reused on the next call
	_, err = c.do(context.Background(), http.MethodGet, "/api/test", "", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), authCalls.Load())
}

func TestClient_Do_LazyLoginFails(t *testing.T) {
	authServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(authServer.Close)

	c := newTestClient(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	c.accessToken = ""
	c.refreshToken = ""
	c.clusters = []string{authServer.URL}

	_, err := c.do(context.Background(), http.MethodGet, "/api/test", "", nil)
	assert.ErrorIs(t, err, ErrConnectivity)
}

func TestClient_Do_ConnectivityError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	c.baseURL = "http://127.0.0.1:0"

	_, err := c.do(context.Background(), http.MethodGet, "/api/test", "", nil)
	assert.ErrorIs(t, err, ErrConnectivity)
	assert.False(t, errors.Is(err, ErrAuth))
}
