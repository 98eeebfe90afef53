package kommo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// errUnauthorized marks a data-endpoint response rejected with 401. It is the
// signal EnsureValid reacts to; everything else propagates untouched.
var errUnauthorized = errors.New("kommo: access token rejected")

// TokenPersister stores a refreshed token state so a process restart does not
// force interactive re-authorization. A nil persister is valid.
type TokenPersister interface {
	SaveTokens(ctx context.Context, state TokenState) error
}

// tokenStore is the single authoritative TokenState copy for a connection.
// Readers take snapshots; only the TokenManager replaces the state.
type tokenStore struct {
	mu    sync.RWMutex
	state TokenState
}

func (s *tokenStore) snapshot() TokenState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *tokenStore) replace(state TokenState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// TokenManager owns the OAuth2 refresh protocol for one connection. Refreshes
// are single-flight: concurrent callers holding the same stale token share
// one network call and all observe its outcome.
type TokenManager struct {
	authBase     string
	clientID     string
	clientSecret string
	redirectURI  string

	tokens  *tokenStore
	http    *http.Client
	persist TokenPersister
	group   singleflight.Group
}

// tokenRequest is the JSON body of POST /oauth2/access_token.
type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	GrantType    string `json:"grant_type"`
	Code         string `json:"code,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
}

// tokenResponse is the success payload of the token endpoint.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// tokenErrorBody is the failure payload of the token endpoint.
type tokenErrorBody struct {
	Error  string `json:"error"`
	Hint   string `json:"hint"`
	Detail string `json:"detail"`
	Title  string `json:"title"`
}

func (b tokenErrorBody) message() string {
	switch {
	case b.Hint != "":
		return b.Hint
	case b.Detail != "":
		return b.Detail
	case b.Title != "":
		return b.Title
	default:
		return b.Error
	}
}

// Refresh exchanges the stored refresh token for a new token pair. Concurrent
// callers seeing the same stale access token are coalesced onto a single
// network call; every caller receives the resulting state or the same error.
func (m *TokenManager) Refresh(ctx context.Context) (TokenState, error) {
	return m.refreshRejected(ctx, m.tokens.snapshot())
}

// refreshRejected refreshes on behalf of a caller whose request using
// rejected was answered with 401. Both the flight key and the in-flight
// check use the rejected token, not a fresh snapshot: a 401 can arrive
// after another caller's refresh already replaced the state, and that
// late caller must reuse the installed token instead of burning a second
// refresh.
func (m *TokenManager) refreshRejected(ctx context.Context, rejected TokenState) (TokenState, error) {
	v, err, _ := m.group.Do(rejected.AccessToken, func() (any, error) {
		// A flight that completed after the caller's request went out
		// already installed a fresh token; don't refresh again.
		current := m.tokens.snapshot()
		if current.AccessToken != rejected.AccessToken {
			return current, nil
		}

		fresh, err := m.requestToken(ctx, tokenRequest{
			ClientID:     m.clientID,
			ClientSecret: m.clientSecret,
			GrantType:    "refresh_token",
			RefreshToken: current.RefreshToken,
			RedirectURI:  m.redirectURI,
		})
		if err != nil {
			return TokenState{}, err
		}

		m.tokens.replace(fresh)
		if m.persist != nil {
			if perr := m.persist.SaveTokens(ctx, fresh); perr != nil {
				zap.L().Warn("kommo: failed to persist refreshed tokens", zap.Error(perr))
			}
		}
		zap.L().Debug("kommo: token refreshed", zap.Time("expires_at", fresh.ExpiresAt))
		return fresh, nil
	})
	if err != nil {
		return TokenState{}, err
	}
	return v.(TokenState), nil
}

// ExchangeCode trades an authorization code for the initial token pair and
// installs it as the current state.
func (m *TokenManager) ExchangeCode(ctx context.Context, code string) (TokenState, error) {
	state, err := m.requestToken(ctx, tokenRequest{
		ClientID:     m.clientID,
		ClientSecret: m.clientSecret,
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  m.redirectURI,
	})
	if err != nil {
		return TokenState{}, err
	}
	m.tokens.replace(state)
	if m.persist != nil {
		if perr := m.persist.SaveTokens(ctx, state); perr != nil {
			zap.L().Warn("kommo: failed to persist exchanged tokens", zap.Error(perr))
		}
	}
	return state, nil
}

// Revoke invalidates the current refresh token at the provider. It is a
// best-effort cleanup action during disconnect and never returns an error.
func (m *TokenManager) Revoke(ctx context.Context) {
	state := m.tokens.snapshot()
	if state.RefreshToken == "" {
		return
	}

	body, err := json.Marshal(map[string]string{
		"client_id":     m.clientID,
		"client_secret": m.clientSecret,
		"refresh_token": state.RefreshToken,
	})
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.authBase+"/oauth2/revoke", bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		zap.L().Debug("kommo: revoke failed", zap.Error(err))
		return
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 400 {
		zap.L().Debug("kommo: revoke rejected", zap.Int("status", resp.StatusCode))
	}
}

// EnsureValid runs fn; if fn reports a rejected access token, it refreshes
// once and retries fn exactly once, propagating the retry's outcome. The
// token state is snapshotted before fn runs so the refresh is keyed by the
// token fn actually sent, not by whatever is current when the 401 lands.
func (m *TokenManager) EnsureValid(ctx context.Context, fn func() error) error {
	used := m.tokens.snapshot()
	err := fn()
	if !errors.Is(err, errUnauthorized) {
		return err
	}
	if _, rerr := m.refreshRejected(ctx, used); rerr != nil {
		return rerr
	}
	return fn()
}

// requestToken performs one token-endpoint call and classifies failures:
// 401 means the refresh token itself is dead, 400 means the client
// credentials were rejected, anything else is transient.
func (m *TokenManager) requestToken(ctx context.Context, reqBody tokenRequest) (TokenState, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return TokenState{}, eris.Wrap(err, "kommo: marshal token request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.authBase+"/oauth2/access_token", bytes.NewReader(body))
	if err != nil {
		return TokenState{}, eris.Wrap(err, "kommo: create token request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return TokenState{}, &TransientError{Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return TokenState{}, &TransientError{Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized:
		var eb tokenErrorBody
		_ = json.Unmarshal(respBody, &eb)
		return TokenState{}, &AuthExpiredError{Detail: eb.message()}
	case resp.StatusCode == http.StatusBadRequest:
		var eb tokenErrorBody
		_ = json.Unmarshal(respBody, &eb)
		return TokenState{}, &CredentialsError{Detail: eb.message()}
	default:
		return TokenState{}, &TransientError{
			Err:        eris.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(respBody)),
			StatusCode: resp.StatusCode,
		}
	}

	var tr tokenResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return TokenState{}, eris.Wrap(err, "kommo: unmarshal token response")
	}
	if tr.AccessToken == "" {
		return TokenState{}, eris.New("kommo: token endpoint returned empty access token")
	}

	state := TokenState{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
	}
	if tr.ExpiresIn > 0 {
		state.ExpiresAt = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return state, nil
}
