package usage

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromHeadersCountReset(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h := http.Header{}
	h.Set("x-ratelimit-remaining-requests", "42")
	h.Set("x-ratelimit-limit-requests", "100")
	h.Set("x-ratelimit-reset-requests", "6m0s")

	sig := FromHeaders(h, now)
	require.NotNil(t, sig.Remaining)
	require.NotNil(t, sig.Limit)
	require.NotNil(t, sig.ResetAt)
	assert.Equal(t, 42, *sig.Remaining)
	assert.Equal(t, 100, *sig.Limit)
	assert.Equal(t, now.Add(6*time.Minute), *sig.ResetAt)
	assert.Nil(t, sig.RetryAfterSeconds)
}

func TestFromHeadersNumericSecondsAndEpoch(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h := http.Header{}
	h.Set("x-ratelimit-reset", "30")
	sig := FromHeaders(h, now)
	require.NotNil(t, sig.ResetAt)
	assert.Equal(t, now.Add(30*time.Second), *sig.ResetAt)

	epoch := now.Add(time.Hour).Unix()
	h.Set("x-ratelimit-reset", strconv.FormatInt(epoch, 10))
	sig = FromHeaders(h, now)
	require.NotNil(t, sig.ResetAt)
	assert.Equal(t, now.Add(time.Hour), sig.ResetAt.UTC())
}

func TestFromHeadersISOTimestamp(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h := http.Header{}
	h.Set("anthropic-ratelimit-requests-remaining", "0")
	h.Set("anthropic-ratelimit-requests-limit", "50")
	h.Set("anthropic-ratelimit-requests-reset", "2026-01-01T12:01:00Z")

	sig := FromHeaders(h, now)
	require.NotNil(t, sig.ResetAt)
	assert.Equal(t, 0, *sig.Remaining)
	assert.Equal(t, 50, *sig.Limit)
	assert.True(t, sig.ResetAt.Equal(now.Add(time.Minute)))
}

func TestFromHeadersRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	h := http.Header{}
	h.Set("Retry-After", "30")
	sig := FromHeaders(h, now)
	require.NotNil(t, sig.RetryAfterSeconds)
	assert.Equal(t, 30, *sig.RetryAfterSeconds)
	assert.Nil(t, sig.Remaining)
	assert.Nil(t, sig.Limit)

	h = http.Header{}
	h.Set("Retry-After", now.Add(90*time.Second).Format(http.TimeFormat))
	sig = FromHeaders(h, now)
	require.NotNil(t, sig.RetryAfterSeconds)
	assert.Equal(t, 90, *sig.RetryAfterSeconds)

	h = http.Header{}
	h.Set("retry-after-ms", "1500")
	sig = FromHeaders(h, now)
	require.NotNil(t, sig.RetryAfterSeconds)
	assert.Equal(t, 2, *sig.RetryAfterSeconds)
}

func TestFromHeadersIgnoresGarbage(t *testing.T) {
	h := http.Header{}
	h.Set("x-ratelimit-remaining", "lots")
	h.Set("retry-after", "soon")
	assert.True(t, FromHeaders(h, time.Now()).Empty())
	assert.True(t, FromHeaders(nil, time.Now()).Empty())
}
