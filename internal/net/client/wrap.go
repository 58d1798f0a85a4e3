// Package client assembles the outbound HTTP stack for the market-data
// provider: token-bucket pacing, a circuit breaker, and typed errors the
// fetch retry loop can classify.
package client

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/coinpulse/coinpulse/internal/net/ratelimit"
)

const userAgent = "coinpulse/1.0"

// Wrapper is an http.RoundTripper stacking the middleware in order:
// rate limit, circuit breaker, transport, status classification.
type Wrapper struct {
	provider  string
	limiter   *ratelimit.Limiter
	breaker   *gobreaker.CircuitBreaker
	transport http.RoundTripper
}

// NewWrapper builds the stack. limiter and breaker may be nil to skip
// that layer; transport nil means http.DefaultTransport.
func NewWrapper(provider string, limiter *ratelimit.Limiter, breaker *gobreaker.CircuitBreaker, transport http.RoundTripper) *Wrapper {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Wrapper{
		provider:  provider,
		limiter:   limiter,
		breaker:   breaker,
		transport: transport,
	}
}

// NewClient wraps the stack in an http.Client with the per-request
// timeout. The timeout covers the rate-limit wait as well.
func NewClient(provider string, timeout time.Duration, limiter *ratelimit.Limiter, breaker *gobreaker.CircuitBreaker) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: NewWrapper(provider, limiter, breaker, nil),
	}
}

// RoundTrip implements http.RoundTripper. Any non-2xx/3xx response is
// converted to a *ProviderError; callers never see error-status bodies.
func (w *Wrapper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}

	if w.limiter != nil {
		if err := w.limiter.Wait(req.Context()); err != nil {
			return nil, &ProviderError{
				Provider: w.provider,
				Type:     ErrRateLimit,
				Err:      fmt.Errorf("rate limit wait: %w", err),
			}
		}
	}

	if w.breaker == nil {
		return w.execute(req)
	}

	out, err := w.breaker.Execute(func() (interface{}, error) {
		return w.execute(req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &ProviderError{Provider: w.provider, Type: ErrCircuit, Err: err}
		}
		return nil, err
	}
	return out.(*http.Response), nil
}

func (w *Wrapper) execute(req *http.Request) (*http.Response, error) {
	resp, err := w.transport.RoundTrip(req)
	if err != nil {
		return nil, &ProviderError{Provider: w.provider, Type: ErrTransport, Err: err}
	}
	if resp.StatusCode >= 400 {
		retryAfter := RetryAfter(resp)
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &ProviderError{
			Provider:   w.provider,
			Type:       ErrHTTP,
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter,
			Err:        fmt.Errorf("http status %d", resp.StatusCode),
		}
	}
	return resp, nil
}
