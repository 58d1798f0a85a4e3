package client

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Error types carried by ProviderError.Type.
const (
	ErrTransport = "transport"
	ErrHTTP      = "http_error"
	ErrRateLimit = "rate_limit"
	ErrCircuit   = "circuit"
	ErrDecode    = "decode"
)

// ProviderError is the typed failure returned by the client stack.
// RetryAfter is populated from the Retry-After header when the upstream
// sent one; zero means the caller should use its own backoff schedule.
type ProviderError struct {
	Provider   string
	Type       string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Type, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Type, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Transient reports whether a retry of the same request could succeed:
// transport faults, circuit rejections, 429 and 5xx statuses. Other 4xx
// statuses and decode failures are permanent.
func (e *ProviderError) Transient() bool {
	switch e.Type {
	case ErrTransport, ErrCircuit, ErrRateLimit:
		return true
	case ErrHTTP:
		return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
	}
	return false
}

// Permanent is the complement of Transient for readability at call sites.
func (e *ProviderError) Permanent() bool { return !e.Transient() }

// IsTransient classifies any error from the client stack. Unknown errors
// default to transient so the retry loop, not the classifier, bounds the
// damage.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient()
	}
	return true
}

// RetryAfterHint extracts the upstream retry delay from err, or zero.
func RetryAfterHint(err error) time.Duration {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}

// RetryAfter parses the Retry-After header of resp: either delta-seconds
// or an HTTP date. Missing, malformed, or past values yield zero.
func RetryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
