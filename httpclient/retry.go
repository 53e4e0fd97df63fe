package httpclient

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kroma-labs/sentinel-apiclient/abstractions"
)

const (
	// DefaultRetryDelay is the base delay before the first resend.
	DefaultRetryDelay = 3 * time.Second

	// DefaultMaxRetries is the default number of resends.
	DefaultMaxRetries = 3

	// MaxRetryDelay is the largest accepted RetryOption.Delay.
	MaxRetryDelay = 180 * time.Second

	// MaxRetryCount is the largest accepted RetryOption.MaxRetries.
	MaxRetryCount = 10

	retryAttemptHeader = "Retry-Attempt"
	retryAfterHeader   = "Retry-After"
)

// ShouldRetryFunc gets the final say on a resend the handler would make.
// attempt counts resends already made for this call.
type ShouldRetryFunc func(delay time.Duration, attempt int, resp *http.Response) bool

// RetryOption configures the retry handler.
//
// Responses with status 429, 503 or 504 are resent while attempts remain.
// The wait before the first resend is the larger of Delay and the server's
// Retry-After; later waits grow as 2^attempt × Delay, still bounded below by
// Retry-After.
//
// Example:
//
//	opt := httpclient.DefaultRetryOption()
//	opt.MaxRetries = 5
//	opt.RetriesTimeLimit = time.Minute
//	info.AddRequestOptions(opt)
type RetryOption struct {
	// Delay is the base wait. At most MaxRetryDelay.
	//
	// Default: 3s
	Delay time.Duration

	// MaxRetries is the number of resends. Zero disables retrying.
	// At most MaxRetryCount.
	//
	// Default: 3
	MaxRetries int

	// RetriesTimeLimit caps the time from the first send to the next resend.
	// Zero means no limit.
	RetriesTimeLimit time.Duration

	// ShouldRetry can veto a resend. Nil allows every eligible resend.
	ShouldRetry ShouldRetryFunc
}

// DefaultRetryOption returns the default retry settings.
func DefaultRetryOption() *RetryOption {
	return &RetryOption{
		Delay:      DefaultRetryDelay,
		MaxRetries: DefaultMaxRetries,
	}
}

// Kind implements abstractions.RequestOption.
func (o *RetryOption) Kind() abstractions.OptionKind { return abstractions.OptionKindRetry }

// Validate reports whether the option is within bounds.
func (o *RetryOption) Validate() error {
	switch {
	case o.Delay < 0 || o.Delay > MaxRetryDelay:
		return invalidOption("retry delay %s outside [0, %s]", o.Delay, MaxRetryDelay)
	case o.MaxRetries < 0 || o.MaxRetries > MaxRetryCount:
		return invalidOption("max retries %d outside [0, %d]", o.MaxRetries, MaxRetryCount)
	case o.RetriesTimeLimit < 0:
		return invalidOption("negative retries time limit %s", o.RetriesTimeLimit)
	}
	return nil
}

// bounded returns a copy clamped into the accepted ranges, for per-call
// options that never went through Validate.
func (o *RetryOption) bounded() RetryOption {
	out := *o
	out.Delay = min(max(out.Delay, 0), MaxRetryDelay)
	out.MaxRetries = min(max(out.MaxRetries, 0), MaxRetryCount)
	out.RetriesTimeLimit = max(out.RetriesTimeLimit, 0)
	return out
}

// isRetryableStatus reports whether a response status is worth resending.
func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// ExponentialDelay returns the wait before the retryNumber-th resend
// (1-based): the base delay, then 2^(retryNumber-1) × base.
func ExponentialDelay(retryNumber int, base time.Duration) time.Duration {
	if retryNumber <= 1 {
		return base
	}
	factor := math.Pow(2, float64(retryNumber-1))
	if d := float64(base) * factor; d < float64(math.MaxInt64) {
		return time.Duration(d)
	}
	return time.Duration(math.MaxInt64)
}

// retryDelay computes the wait before resending after resp, where attempt is
// the number of resends already made.
func retryDelay(attempt int, base time.Duration, resp *http.Response, now time.Time) (time.Duration, error) {
	delay := ExponentialDelay(attempt+1, base)

	retryAfter, ok, err := parseRetryAfter(resp.Header.Get(retryAfterHeader), now)
	if err != nil {
		return 0, err
	}
	if ok && retryAfter > delay {
		delay = retryAfter
	}
	return delay, nil
}

// parseRetryAfter reads a Retry-After value given in seconds or as an HTTP
// date. ok is false when the header is absent.
func parseRetryAfter(value string, now time.Time) (time.Duration, bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false, nil
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if math.IsNaN(secs) || math.IsInf(secs, 0) {
			return 0, false, &RetryAfterError{Value: value}
		}
		if secs < 0 {
			return 0, true, nil
		}
		return time.Duration(secs * float64(time.Second)), true, nil
	}
	if at, err := http.ParseTime(value); err == nil {
		return max(at.Sub(now), 0), true, nil
	}
	return 0, false, &RetryAfterError{Value: value}
}

// retryAttemptOf reads how many resends preceded req.
func retryAttemptOf(req *http.Request) int {
	n, err := strconv.Atoi(req.Header.Get(retryAttemptHeader))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
