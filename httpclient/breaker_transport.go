package httpclient

import (
	"context"
	"errors"
	"net/http"

	"github.com/sony/gobreaker/v2"
)

const defaultBreakerName = "sentinel-apiclient"

// errSyntheticFailure tells the breaker a send failed although the transport
// returned a response. The response is still handed back to the caller.
var errSyntheticFailure = errors.New("synthetic failure")

// isBreakerRejection reports whether err comes from an open or saturated
// half-open breaker.
func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

type circuitBreakerTransport struct {
	breaker    CircuitBreaker
	next       http.RoundTripper
	classifier BreakerClassifier
	metrics    *metrics
	name       string
}

// newCircuitBreakerTransport wraps next in a breaker named after the service.
// Without a BreakerConfig next is returned unchanged.
func newCircuitBreakerTransport(next http.RoundTripper, cfg *internalConfig) http.RoundTripper {
	if cfg.BreakerConfig == nil {
		return next
	}
	bc := *cfg.BreakerConfig
	if bc.Classifier == nil {
		bc.Classifier = DefaultBreakerClassifier
	}

	name := cfg.ServiceName
	if name == "" {
		name = defaultBreakerName
	}

	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: bc.readyToTrip,
		OnStateChange: func(name string, from, to gobreaker.State) {
			cfg.Logger.Warn().
				Str("breaker", name).
				Stringer("from", from).
				Stringer("to", to).
				Msg("circuit breaker state changed")
			cfg.Metrics.recordBreakerState(context.Background(), name, int64(to))
			if bc.OnStateChange != nil {
				bc.OnStateChange(name, from, to)
			}
		},
	}

	var cb CircuitBreaker = gobreaker.NewCircuitBreaker[any](st)
	if bc.Store != nil {
		dcb, err := gobreaker.NewDistributedCircuitBreaker[any](bc.Store, st)
		if err != nil {
			// Degrade to a process-local breaker rather than none.
			cfg.Logger.Error().Err(err).Str("breaker", name).Msg("distributed circuit breaker unavailable")
		} else {
			cb = dcb
		}
	}

	return &circuitBreakerTransport{
		breaker:    cb,
		next:       next,
		classifier: bc.Classifier,
		metrics:    cfg.Metrics,
		name:       name,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *circuitBreakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	res, err := t.breaker.Execute(func() (any, error) {
		resp, err := t.next.RoundTrip(req) //nolint:bodyclose // returned to the caller
		if t.classifier(resp, err) {
			if err != nil {
				return resp, err
			}
			return resp, errSyntheticFailure
		}
		return resp, err
	})
	resp, _ := res.(*http.Response)

	switch {
	case err == nil:
		t.metrics.recordBreakerRequest(ctx, t.name, "success")
		return resp, nil
	case isBreakerRejection(err):
		t.metrics.recordBreakerRequest(ctx, t.name, "rejected")
		return nil, err
	default:
		t.metrics.recordBreakerRequest(ctx, t.name, "failure")
		if errors.Is(err, errSyntheticFailure) && resp != nil {
			return resp, nil
		}
		return nil, err
	}
}
