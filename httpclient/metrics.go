package httpclient

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// metrics holds the metric instruments for the pipeline and the adapter.
type metrics struct {
	// === Request Duration & Size Metrics ===

	// requestDuration measures a single transport send in seconds.
	// Buckets follow the OTel semconv recommendation for HTTP latencies.
	requestDuration metric.Float64Histogram

	requestBodySize  metric.Int64Histogram
	responseBodySize metric.Int64Histogram

	// === Network Timing Metrics ===

	openConnections    metric.Int64UpDownCounter
	connectionDuration metric.Float64Histogram
	dnsDuration        metric.Float64Histogram
	tlsDuration        metric.Float64Histogram

	// ttfb measures Time To First Byte in seconds.
	ttfb metric.Float64Histogram

	// === Active Request Tracking ===

	activeRequests metric.Int64UpDownCounter

	// === Error Metrics ===

	// requestErrors counts transport errors by error.type.
	requestErrors metric.Int64Counter

	// === Handler Metrics ===

	// retryAttempts is incremented each time a request is resent.
	retryAttempts metric.Int64Counter

	// retryExhausted counts calls still failing once retries ran out.
	// A high value indicates downstream service issues.
	retryExhausted metric.Int64Counter

	// retryDuration measures the time spent in the retry loop, waits included.
	retryDuration metric.Float64Histogram

	redirects           metric.Int64Counter
	compressionFallback metric.Int64Counter
	chaosInjections     metric.Int64Counter

	// reauthentications counts continuous access evaluation challenges answered.
	reauthentications metric.Int64Counter

	// === Circuit Breaker Metrics ===

	breakerRequests metric.Int64Counter
	breakerState    metric.Int64Gauge
}

var (
	latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5, 7.5, 10}
	networkBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	sizeBuckets    = []float64{0, 100, 1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024}
)

// newMetrics creates and registers metric instruments.
func newMetrics(meter metric.Meter) (*metrics, error) {
	m := &metrics{}
	var err error

	if m.requestDuration, err = meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("Duration of HTTP client requests in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if m.requestBodySize, err = meter.Int64Histogram(
		"http.client.request.body.size",
		metric.WithDescription("Size of HTTP client request bodies in bytes"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(sizeBuckets...),
	); err != nil {
		return nil, err
	}
	if m.responseBodySize, err = meter.Int64Histogram(
		"http.client.response.body.size",
		metric.WithDescription("Size of HTTP client response bodies in bytes"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(sizeBuckets...),
	); err != nil {
		return nil, err
	}
	if m.openConnections, err = meter.Int64UpDownCounter(
		"http.client.open_connections",
		metric.WithDescription("Number of HTTP client connections opened"),
		metric.WithUnit("{connection}"),
	); err != nil {
		return nil, err
	}
	if m.connectionDuration, err = meter.Float64Histogram(
		"http.client.connection.duration",
		metric.WithDescription("Time to establish HTTP connection in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(networkBuckets...),
	); err != nil {
		return nil, err
	}
	if m.dnsDuration, err = meter.Float64Histogram(
		"http.client.dns.duration",
		metric.WithDescription("DNS lookup duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(networkBuckets...),
	); err != nil {
		return nil, err
	}
	if m.tlsDuration, err = meter.Float64Histogram(
		"http.client.tls.duration",
		metric.WithDescription("TLS handshake duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(networkBuckets...),
	); err != nil {
		return nil, err
	}
	if m.ttfb, err = meter.Float64Histogram(
		"http.client.ttfb",
		metric.WithDescription("Time to first response byte in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if m.activeRequests, err = meter.Int64UpDownCounter(
		"http.client.active_requests",
		metric.WithDescription("Number of active HTTP client requests"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if m.requestErrors, err = meter.Int64Counter(
		"http.client.request.error",
		metric.WithDescription("Number of HTTP client request errors"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}
	if m.retryAttempts, err = meter.Int64Counter(
		"http.client.retry.attempts",
		metric.WithDescription("Number of HTTP client retry attempts"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, err
	}
	if m.retryExhausted, err = meter.Int64Counter(
		"http.client.retry.exhausted",
		metric.WithDescription("Number of requests that exhausted all retries"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if m.retryDuration, err = meter.Float64Histogram(
		"http.client.retry.duration",
		metric.WithDescription("Total time spent in retry loop in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 180),
	); err != nil {
		return nil, err
	}
	if m.redirects, err = meter.Int64Counter(
		"http.client.redirects",
		metric.WithDescription("Number of redirects followed"),
		metric.WithUnit("{redirect}"),
	); err != nil {
		return nil, err
	}
	if m.compressionFallback, err = meter.Int64Counter(
		"http.client.compression.fallback",
		metric.WithDescription("Number of requests resent uncompressed after a 415"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if m.chaosInjections, err = meter.Int64Counter(
		"http.client.chaos.injections",
		metric.WithDescription("Number of synthetic responses or failures injected"),
		metric.WithUnit("{injection}"),
	); err != nil {
		return nil, err
	}
	if m.reauthentications, err = meter.Int64Counter(
		"http.client.reauthentications",
		metric.WithDescription("Number of claims challenges answered with a fresh token"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if m.breakerRequests, err = meter.Int64Counter(
		"http.client.breaker.requests",
		metric.WithDescription("Number of requests seen by the circuit breaker by result"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if m.breakerState, err = meter.Int64Gauge(
		"http.client.breaker.state",
		metric.WithDescription("Circuit breaker state: 0 closed, 1 half-open, 2 open"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *metrics) recordRequestDuration(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.requestDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

func (m *metrics) recordRequestBodySize(ctx context.Context, size int64, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.requestBodySize.Record(ctx, size, metric.WithAttributes(attrs...))
}

func (m *metrics) recordResponseBodySize(ctx context.Context, size int64, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.responseBodySize.Record(ctx, size, metric.WithAttributes(attrs...))
}

func (m *metrics) recordConnectionOpened(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.openConnections.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metrics) recordConnectionDuration(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.connectionDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

func (m *metrics) recordDNSDuration(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.dnsDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

func (m *metrics) recordTLSDuration(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.tlsDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

func (m *metrics) recordTTFB(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.ttfb.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

func (m *metrics) recordActiveRequestStart(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.activeRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metrics) recordActiveRequestEnd(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.activeRequests.Add(ctx, -1, metric.WithAttributes(attrs...))
}

// recordError records a transport error classified by classifyError.
func (m *metrics) recordError(ctx context.Context, errorType string, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.requestErrors.Add(ctx, 1, metric.WithAttributes(withAttr(attrs, attribute.String("error.type", errorType))...))
}

func (m *metrics) recordRetryAttempt(ctx context.Context, attrs []attribute.KeyValue, attempt int) {
	if m == nil {
		return
	}
	m.retryAttempts.Add(ctx, 1, metric.WithAttributes(withAttr(attrs, attribute.Int("retry.attempt", attempt))...))
}

func (m *metrics) recordRetryExhausted(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.retryExhausted.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metrics) recordRetryDuration(ctx context.Context, attrs []attribute.KeyValue, d time.Duration) {
	if m == nil {
		return
	}
	m.retryDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

func (m *metrics) recordRedirect(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.redirects.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metrics) recordCompressionFallback(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.compressionFallback.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metrics) recordChaosInjection(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.chaosInjections.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metrics) recordReauth(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.reauthentications.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// recordBreakerRequest records the outcome of a call through the breaker:
// "success", "failure" or "rejected".
func (m *metrics) recordBreakerRequest(ctx context.Context, name, result string) {
	if m == nil {
		return
	}
	m.breakerRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker.name", name),
		attribute.String("breaker.result", result),
	))
}

func (m *metrics) recordBreakerState(ctx context.Context, name string, state int64) {
	if m == nil {
		return
	}
	m.breakerState.Record(ctx, state, metric.WithAttributes(attribute.String("breaker.name", name)))
}

// withAttr returns a copy of attrs with extra appended.
func withAttr(attrs []attribute.KeyValue, extra ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs)+len(extra))
	out = append(out, attrs...)
	return append(out, extra...)
}
