package httpclient

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a send is rejected by the client rate limit.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitConfig configures a token bucket shared by every send of a
// pipeline, resends included.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate. 0 disables limiting.
	RequestsPerSecond float64

	// Burst is the bucket size. Values below 1 are raised to 1.
	Burst int

	// WaitOnLimit waits for a token within the request context instead of
	// failing with ErrRateLimited.
	WaitOnLimit bool
}

// DefaultRateLimitConfig allows 100 requests per second with a burst of 10.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             10,
		WaitOnLimit:       true,
	}
}

type rateLimitTransport struct {
	next    http.RoundTripper
	limiter *rate.Limiter
	wait    bool
}

func newRateLimitTransport(next http.RoundTripper, cfg RateLimitConfig) http.RoundTripper {
	if cfg.RequestsPerSecond <= 0 {
		return next
	}
	return &rateLimitTransport{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(cfg.Burst, 1)),
		wait:    cfg.WaitOnLimit,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *rateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.wait {
		if !t.limiter.Allow() {
			return nil, ErrRateLimited
		}
		return t.next.RoundTrip(req)
	}

	if err := t.limiter.Wait(req.Context()); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		// The wait would outlast the context deadline.
		return nil, ErrRateLimited
	}
	return t.next.RoundTrip(req)
}
