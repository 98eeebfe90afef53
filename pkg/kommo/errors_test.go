package kommo

import (
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestErrorClassificationThroughWrapping(t *testing.T) {
	wrapped := eris.Wrap(&AuthExpiredError{Detail: "token revoked"}, "kommo: fetch leads")
	assert.True(t, IsAuthExpired(wrapped))
	assert.False(t, IsTransient(wrapped))

	transient := eris.Wrap(&TransientError{Err: errors.New("connection reset")}, "kommo: fetch leads")
	assert.True(t, IsTransient(transient))
	assert.False(t, IsAuthExpired(transient))

	limited := eris.Wrap(&RateLimitedError{RetryAfter: "10"}, "kommo: fetch leads")
	assert.True(t, IsRateLimited(limited))
	assert.False(t, IsTransient(limited), "429 is the caller's backoff decision, not a blind retry")
}

func TestTransientStatusTable(t *testing.T) {
	for _, status := range []int{408, 500, 502, 503, 504} {
		assert.True(t, isTransientStatus(status), "status %d", status)
	}
	for _, status := range []int{400, 401, 403, 404, 429} {
		assert.False(t, isTransientStatus(status), "status %d", status)
	}
}

func TestNotConfiguredIsDistinctFromFailure(t *testing.T) {
	err := eris.Wrap(ErrNotConfigured, "acme.kommo.com")
	assert.True(t, errors.Is(err, ErrNotConfigured))
	assert.False(t, IsTransient(err))
	assert.False(t, IsAuthExpired(err))
}

func TestValidationErrorMessageIncludesField(t *testing.T) {
	err := &ValidationError{Field: "filter[created_at]", Detail: "must be an integer"}
	assert.Contains(t, err.Error(), "filter[created_at]")
	assert.Contains(t, err.Error(), "must be an integer")
}
