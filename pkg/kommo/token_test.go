package kommo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, srvURL string, tokens TokenState, opts ...Option) *Client {
	t.Helper()
	all := append([]Option{WithBaseURL(srvURL), WithRateLimit(0)}, opts...)
	return NewClient(Config{
		Domain:       "test.example.com",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "https://app.example.com/callback",
		Tokens:       tokens,
	}, all...)
}

func TestRefreshSingleFlight(t *testing.T) {
	var refreshCalls atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth2/access_token", r.URL.Path)

		var req tokenRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "refresh_token", req.GrantType)
		assert.Equal(t, "client-id", req.ClientID)
		assert.Equal(t, "old-refresh", req.RefreshToken)

		refreshCalls.Add(1)
		time.Sleep(50 * time.Millisecond) // hold the flight open so callers pile up

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fresh","refresh_token":"fresh-refresh","expires_in":3600}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, TokenState{AccessToken: "stale", RefreshToken: "old-refresh"})

	const callers = 20
	var wg sync.WaitGroup
	states := make([]TokenState, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			states[i], errs[i] = client.TokenManager().Refresh(context.Background())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), refreshCalls.Load(), "concurrent callers must share one refresh")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "fresh", states[i].AccessToken)
		assert.Equal(t, "fresh-refresh", states[i].RefreshToken)
	}
	assert.Equal(t, "fresh", client.Tokens().AccessToken)
}

func TestRefreshSingleFlightSharesFailure(t *testing.T) {
	var refreshCalls atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		time.Sleep(30 * time.Millisecond)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"hint":"refresh token revoked"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, TokenState{AccessToken: "stale", RefreshToken: "dead"})

	const callers = 10
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = client.TokenManager().Refresh(context.Background())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), refreshCalls.Load())
	for _, err := range errs {
		require.Error(t, err)
		assert.True(t, IsAuthExpired(err), "all queued callers receive the same failure class")
	}
}

func TestRefreshClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		check   func(t *testing.T, err error)
	}{
		{
			name:   "401_auth_expired",
			status: http.StatusUnauthorized,
			body:   `{"hint":"Token has expired"}`,
			check: func(t *testing.T, err error) {
				var ae *AuthExpiredError
				require.ErrorAs(t, err, &ae)
				assert.Contains(t, ae.Detail, "expired")
			},
		},
		{
			name:   "400_bad_credentials_preserves_hint",
			status: http.StatusBadRequest,
			body:   `{"hint":"Check the client_id parameter","error":"invalid_client"}`,
			check: func(t *testing.T, err error) {
				var ce *CredentialsError
				require.ErrorAs(t, err, &ce)
				assert.Equal(t, "Check the client_id parameter", ce.Detail)
			},
		},
		{
			name:   "500_transient",
			status: http.StatusInternalServerError,
			body:   `{"error":"boom"}`,
			check: func(t *testing.T, err error) {
				assert.True(t, IsTransient(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := newTestClient(t, srv.URL, TokenState{AccessToken: "stale", RefreshToken: "r"})
			_, err := client.TokenManager().Refresh(context.Background())
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestEnsureValidRetriesExactlyOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"fresh","refresh_token":"fr"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, TokenState{AccessToken: "stale", RefreshToken: "r"})
	tm := client.TokenManager()

	t.Run("success_after_refresh", func(t *testing.T) {
		calls := 0
		err := tm.EnsureValid(context.Background(), func() error {
			calls++
			if calls == 1 {
				return errUnauthorized
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("second_auth_failure_propagates", func(t *testing.T) {
		calls := 0
		err := tm.EnsureValid(context.Background(), func() error {
			calls++
			return errUnauthorized
		})
		require.Error(t, err)
		assert.Equal(t, 2, calls, "fn is retried exactly once, never more")
	})

	t.Run("non_auth_error_not_retried", func(t *testing.T) {
		calls := 0
		err := tm.EnsureValid(context.Background(), func() error {
			calls++
			return &RateLimitedError{}
		})
		require.Error(t, err)
		assert.True(t, IsRateLimited(err))
		assert.Equal(t, 1, calls)
	})
}

func TestEnsureValidLate401ReusesInstalledToken(t *testing.T) {
	var refreshCalls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		_, _ = w.Write([]byte(`{"access_token":"fresh","refresh_token":"fr","expires_in":60}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, TokenState{AccessToken: "stale", RefreshToken: "r"})
	tm := client.TokenManager()

	calls := 0
	err := tm.EnsureValid(context.Background(), func() error {
		calls++
		if calls == 1 {
			// Another caller's refresh completes while this request's 401
			// is still in flight; by the time the 401 lands, the stored
			// token has already been replaced.
			_, rerr := tm.Refresh(context.Background())
			require.NoError(t, rerr)
			return errUnauthorized
		}
		assert.Equal(t, "fresh", client.Tokens().AccessToken)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, int64(1), refreshCalls.Load(),
		"a 401 carried by an already-replaced token reuses the installed state instead of refreshing again")
}

func TestExchangeCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req tokenRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "authorization_code", req.GrantType)
		assert.Equal(t, "the-code", req.Code)
		assert.Equal(t, "https://app.example.com/callback", req.RedirectURI)

		_, _ = w.Write([]byte(`{"access_token":"a1","refresh_token":"r1","expires_in":86400}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, TokenState{})
	state, err := client.TokenManager().ExchangeCode(context.Background(), "the-code")
	require.NoError(t, err)
	assert.Equal(t, "a1", state.AccessToken)
	assert.Equal(t, "r1", state.RefreshToken)
	assert.False(t, state.ExpiresAt.IsZero())
	assert.Equal(t, "a1", client.Tokens().AccessToken)
}

func TestRevokeNeverFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/oauth2/revoke", r.URL.Path)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, TokenState{AccessToken: "a", RefreshToken: "r"})

	// Best-effort: a 500 from the provider must not panic or surface.
	client.TokenManager().Revoke(context.Background())
}

type capturingPersister struct {
	mu     sync.Mutex
	states []TokenState
}

func (p *capturingPersister) SaveTokens(_ context.Context, s TokenState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, s)
	return nil
}

func TestRefreshPersistsTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"fresh","refresh_token":"fr","expires_in":60}`))
	}))
	defer srv.Close()

	p := &capturingPersister{}
	client := newTestClient(t, srv.URL, TokenState{AccessToken: "stale", RefreshToken: "r"}, WithTokenPersister(p))

	_, err := client.TokenManager().Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, p.states, 1)
	assert.Equal(t, "fresh", p.states[0].AccessToken)
}
