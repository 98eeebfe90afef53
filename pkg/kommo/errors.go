package kommo

import (
	"errors"
	"fmt"
	"net"
)

// ErrNotConfigured indicates no CRM connection has been set up yet. Callers
// should treat it as "setup required" rather than a failure.
var ErrNotConfigured = errors.New("kommo: no connection configured")

// AuthExpiredError indicates the refresh token itself was rejected. The
// connection must be re-authorized interactively; automatic retries are
// pointless.
type AuthExpiredError struct {
	Detail string
}

func (e *AuthExpiredError) Error() string {
	if e.Detail == "" {
		return "kommo: authorization expired, reconnect required"
	}
	return "kommo: authorization expired: " + e.Detail
}

// CredentialsError indicates the client id/secret pair was rejected by the
// token endpoint. This is a configuration error, not a transient condition.
type CredentialsError struct {
	Detail string
}

func (e *CredentialsError) Error() string {
	return "kommo: invalid client credentials: " + e.Detail
}

// TransientError wraps a network failure, timeout or 5xx response. The caller
// may retry the whole operation later; nothing is retried internally.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("kommo: transient failure (status %d): %v", e.StatusCode, e.Err)
	}
	return "kommo: transient failure: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

// RateLimitedError indicates the CRM returned 429. Callers should back off;
// the client never retries rate-limited requests itself.
type RateLimitedError struct {
	RetryAfter string
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter != "" {
		return "kommo: rate limited, retry after " + e.RetryAfter
	}
	return "kommo: rate limited"
}

// ValidationError carries field-level detail from the CRM's validation-errors
// payload (HTTP 400 on data endpoints).
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "kommo: validation failed: " + e.Detail
	}
	return fmt.Sprintf("kommo: validation failed on %q: %s", e.Field, e.Detail)
}

// apiError is the generic non-401 HTTP failure from a data endpoint.
type apiError struct {
	StatusCode int
	Body       string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("kommo: unexpected status %d: %s", e.StatusCode, e.Body)
}

// IsAuthExpired reports whether err requires interactive re-authorization.
func IsAuthExpired(err error) bool {
	var ae *AuthExpiredError
	return errors.As(err, &ae)
}

// IsTransient reports whether err is safe to retry later: an explicit
// TransientError, a network timeout, or a transient HTTP status.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return isTransientStatus(apiErr.StatusCode)
	}
	return false
}

// IsRateLimited reports whether err is a 429 from the CRM.
func IsRateLimited(err error) bool {
	var re *RateLimitedError
	return errors.As(err, &re)
}

// isAuthStatus reports whether an HTTP status from a data endpoint means the
// access token was rejected and a refresh should be attempted.
func isAuthStatus(status int) bool {
	return status == 401
}

func isTransientStatus(status int) bool {
	switch status {
	case 408, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
