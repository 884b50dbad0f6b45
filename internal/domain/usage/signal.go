package usage

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Signal is the normalized rate-limit metadata extracted from one backend response.
// Nil fields were not reported.
type Signal struct {
	Remaining         *int       `json:"remaining,omitempty"`
	Limit             *int       `json:"limit,omitempty"`
	ResetAt           *time.Time `json:"resetAt,omitempty"`
	RetryAfterSeconds *int       `json:"retryAfterSeconds,omitempty"`
}

// Empty reports whether the signal carries no information.
func (s Signal) Empty() bool {
	return s.Remaining == nil && s.Limit == nil && s.ResetAt == nil && s.RetryAfterSeconds == nil
}

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Time returns a pointer to t.
func Time(t time.Time) *time.Time { return &t }

var (
	remainingHeaders = []string{
		"x-ratelimit-remaining-requests",
		"anthropic-ratelimit-requests-remaining",
		"x-ratelimit-remaining",
		"ratelimit-remaining",
	}
	limitHeaders = []string{
		"x-ratelimit-limit-requests",
		"anthropic-ratelimit-requests-limit",
		"x-ratelimit-limit",
		"ratelimit-limit",
	}
	resetHeaders = []string{
		"x-ratelimit-reset-requests",
		"anthropic-ratelimit-requests-reset",
		"x-ratelimit-reset",
		"ratelimit-reset",
	}
)

// epochCutoff separates "seconds until reset" from "unix seconds at reset".
const epochCutoff = 1_000_000_000

// FromHeaders normalizes the rate-limit headers of a response.
//
// Supported shapes: remaining/limit with a reset expressed as a count of seconds
// or a duration ("6m0s"), remaining/limit with an RFC3339 reset timestamp, and a
// bare retry-after in seconds or as an HTTP date.
func FromHeaders(h http.Header, now time.Time) Signal {
	var sig Signal
	if h == nil {
		return sig
	}
	if v, ok := firstInt(h, remainingHeaders); ok {
		sig.Remaining = Int(v)
	}
	if v, ok := firstInt(h, limitHeaders); ok {
		sig.Limit = Int(v)
	}
	for _, name := range resetHeaders {
		if raw := strings.TrimSpace(h.Get(name)); raw != "" {
			if at, ok := parseReset(raw, now); ok {
				sig.ResetAt = Time(at)
				break
			}
		}
	}
	if secs, ok := parseRetryAfter(h, now); ok {
		sig.RetryAfterSeconds = Int(secs)
	}
	return sig
}

func firstInt(h http.Header, names []string) (int, bool) {
	for _, name := range names {
		raw := strings.TrimSpace(h.Get(name))
		if raw == "" {
			continue
		}
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			return v, true
		}
	}
	return 0, false
}

func parseReset(raw string, now time.Time) (time.Time, bool) {
	if f, err := strconv.ParseFloat(raw, 64); err == nil && f >= 0 {
		if f >= epochCutoff {
			return time.Unix(int64(f), 0).UTC(), true
		}
		return now.Add(time.Duration(f * float64(time.Second))), true
	}
	if d, err := time.ParseDuration(raw); err == nil && d >= 0 {
		return now.Add(d), true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	if t, err := http.ParseTime(raw); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func parseRetryAfter(h http.Header, now time.Time) (int, bool) {
	if raw := strings.TrimSpace(h.Get("retry-after-ms")); raw != "" {
		if ms, err := strconv.ParseFloat(raw, 64); err == nil && ms >= 0 {
			return int(math.Ceil(ms / 1000)), true
		}
	}
	raw := strings.TrimSpace(h.Get("retry-after"))
	if raw == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
		return secs, true
	}
	if t, err := http.ParseTime(raw); err == nil {
		secs := int(math.Ceil(t.Sub(now).Seconds()))
		if secs < 0 {
			secs = 0
		}
		return secs, true
	}
	return 0, false
}
