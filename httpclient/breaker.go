package httpclient

import (
	"errors"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"
	gobreakerredis "github.com/sony/gobreaker/v2/redis"
)

// NewRedisStore returns a SharedDataStore backed by Redis, letting every
// adapter instance of a service share one breaker state.
//
// Usage:
//
//	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{"localhost:6379"}})
//	adapter, err := httpclient.NewRequestAdapter(auth,
//	    httpclient.WithServiceName("billing-api"),
//	    httpclient.WithBreaker(httpclient.DistributedBreakerConfig(httpclient.NewRedisStore(rdb))),
//	)
func NewRedisStore(client redis.UniversalClient) gobreaker.SharedDataStore {
	return gobreakerredis.NewStoreFromClient(client)
}

// CircuitBreaker is satisfied by gobreaker's local and distributed breakers.
type CircuitBreaker interface {
	Execute(req func() (any, error)) (any, error)
}

// BreakerClassifier reports whether a send counts as a failure for the breaker.
type BreakerClassifier func(resp *http.Response, err error) bool

// BreakerConfig configures the circuit breaker wrapped around the transport.
//
// The breaker sees every network send, so each retry and redirect hop counts
// as a request.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open. 0 means 1.
	MaxRequests uint32

	// Interval clears the counts while closed. 0 never clears them.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration

	// FailureThreshold is the minimum number of requests before the breaker
	// may trip.
	FailureThreshold uint32

	// FailureRatio trips the breaker once reached (0.0 - 1.0).
	FailureRatio float64

	// ConsecutiveFailures trips the breaker once reached. 0 disables the rule.
	ConsecutiveFailures uint32

	// Store shares breaker state between processes. Nil keeps it in memory.
	Store gobreaker.SharedDataStore

	// Classifier defaults to DefaultBreakerClassifier.
	Classifier BreakerClassifier

	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultBreakerConfig returns a local breaker that trips after 5
// consecutive failures, or once half of at least 20 requests failed.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            10 * time.Second,
		Timeout:             10 * time.Second,
		FailureThreshold:    20,
		FailureRatio:        0.5,
		ConsecutiveFailures: 5,
		Classifier:          DefaultBreakerClassifier,
	}
}

// DistributedBreakerConfig returns DefaultBreakerConfig sharing its state
// through store.
func DistributedBreakerConfig(store gobreaker.SharedDataStore) BreakerConfig {
	cfg := DefaultBreakerConfig()
	cfg.Store = store
	return cfg
}

// DefaultBreakerClassifier counts network errors and 5xx responses as
// failures. 429 is left to the retry handler.
func DefaultBreakerClassifier(resp *http.Response, err error) bool {
	if err != nil {
		return isNetworkError(err)
	}
	return resp != nil && resp.StatusCode >= http.StatusInternalServerError
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT)
}

// readyToTrip applies the thresholds of c to the breaker counts.
func (c BreakerConfig) readyToTrip(counts gobreaker.Counts) bool {
	if c.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= c.ConsecutiveFailures {
		return true
	}
	if c.FailureThreshold > 0 && counts.Requests < c.FailureThreshold {
		return false
	}
	if c.FailureRatio > 0 && counts.Requests > 0 {
		return float64(counts.TotalFailures)/float64(counts.Requests) >= c.FailureRatio
	}
	return false
}
