package kommo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// dataTimeout bounds every CRM data call. A timeout surfaces as a
	// TransientError; the caller redoes the whole operation, pagination
	// state is never resumed.
	dataTimeout = 10 * time.Second

	// defaultRateRPS is Kommo's documented per-account request limit.
	defaultRateRPS = 7
)

// Config carries the persisted connection settings a Client is built from.
type Config struct {
	// Domain is the account host, e.g. "acme.kommo.com".
	Domain       string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Tokens       TokenState
}

// LeadCache caches fetched lead sequences keyed by query signature. Entries
// are expected to expire after a short TTL; a nil cache disables caching.
type LeadCache interface {
	Get(key string) ([]Lead, bool)
	Put(key string, leads []Lead)
}

// Client talks to one CRM connection. It injects the current access token
// into every request and transparently retries exactly once after a token
// refresh when the CRM rejects the credential.
type Client struct {
	baseURL   string
	http      *http.Client
	limiter   *rate.Limiter
	tokens    *tokenStore
	tm        *TokenManager
	leadCache LeadCache
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the URL derived from the account domain. Intended
// for tests against a local server.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimit sets a per-second limit for CRM data calls. Zero or negative
// disables throttling.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

// WithLeadCache attaches a short-lived result cache consulted before any
// remote lead fetch.
func WithLeadCache(lc LeadCache) Option {
	return func(c *Client) { c.leadCache = lc }
}

// WithTokenPersister stores refreshed token pairs through p.
func WithTokenPersister(p TokenPersister) Option {
	return func(c *Client) { c.tm.persist = p }
}

// NewClient builds a Client for one CRM connection.
func NewClient(cfg Config, opts ...Option) *Client {
	ts := &tokenStore{state: cfg.Tokens}
	hc := &http.Client{Timeout: dataTimeout}

	c := &Client{
		baseURL: "https://" + cfg.Domain,
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(defaultRateRPS), defaultRateRPS),
		tokens:  ts,
		tm: &TokenManager{
			authBase:     "https://" + cfg.Domain,
			clientID:     cfg.ClientID,
			clientSecret: cfg.ClientSecret,
			redirectURI:  cfg.RedirectURI,
			tokens:       ts,
			http:         hc,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	// Options may replace the base URL or the HTTP client; the token
	// manager shares both, so re-sync after applying them.
	c.tm.authBase = c.baseURL
	c.tm.http = c.http
	return c
}

// TokenManager exposes the client's token lifecycle owner for connect and
// disconnect flows.
func (c *Client) TokenManager() *TokenManager { return c.tm }

// Tokens returns a snapshot of the current token state.
func (c *Client) Tokens() TokenState { return c.tokens.snapshot() }

// get performs an authorized GET against a data endpoint. A 401 triggers a
// single-flight token refresh and exactly one retry of the same request; all
// other failures propagate typed and unretried.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.tm.EnsureValid(ctx, func() error {
		return c.doOnce(ctx, http.MethodGet, path, query, out)
	})
}

// doOnce performs one HTTP round trip with the current token snapshot.
func (c *Client) doOnce(ctx context.Context, method, path string, query url.Values, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "kommo: rate limit")
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return eris.Wrap(err, "kommo: create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.tokens.snapshot().AccessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransientError{Err: err}
	}

	zap.L().Debug("kommo: request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)

	switch {
	case resp.StatusCode == http.StatusOK:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return eris.Wrap(err, fmt.Sprintf("kommo: unmarshal %s", path))
		}
		return nil

	case resp.StatusCode == http.StatusNoContent:
		// Empty result set; leave out untouched.
		return nil

	case isAuthStatus(resp.StatusCode):
		return eris.Wrap(errUnauthorized, path)

	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitedError{RetryAfter: resp.Header.Get("Retry-After")}

	case resp.StatusCode == http.StatusBadRequest:
		return parseValidationError(body)

	case isTransientStatus(resp.StatusCode):
		return &TransientError{
			Err:        eris.Errorf("%s returned %d: %s", path, resp.StatusCode, string(body)),
			StatusCode: resp.StatusCode,
		}

	default:
		return &apiError{StatusCode: resp.StatusCode, Body: string(body)}
	}
}

// validationBody is the CRM's 400 payload carrying field-level detail.
type validationBody struct {
	Detail           string `json:"detail"`
	Title            string `json:"title"`
	ValidationErrors []struct {
		Errors []struct {
			Path   string `json:"path"`
			Detail string `json:"detail"`
		} `json:"errors"`
	} `json:"validation-errors"`
}

func parseValidationError(body []byte) error {
	var vb validationBody
	if err := json.Unmarshal(body, &vb); err != nil {
		return &ValidationError{Detail: string(body)}
	}
	for _, ve := range vb.ValidationErrors {
		for _, e := range ve.Errors {
			return &ValidationError{Field: e.Path, Detail: e.Detail}
		}
	}
	detail := vb.Detail
	if detail == "" {
		detail = vb.Title
	}
	return &ValidationError{Detail: detail}
}
