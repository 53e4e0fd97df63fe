package httpclient

import (
	"fmt"
	"net/http"
	"net/http/httptrace"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var _ http.RoundTripper = (*otelTransport)(nil)

// otelTransport records a client span and metrics for every send that
// reaches the network, resends and redirect hops included.
type otelTransport struct {
	base http.RoundTripper
	cfg  *internalConfig
}

func newOtelTransport(base http.RoundTripper, cfg *internalConfig) *otelTransport {
	return &otelTransport{base: base, cfg: cfg}
}

// RoundTrip implements http.RoundTripper.
func (t *otelTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	ctx, span := t.cfg.Tracer.Start(req.Context(), "HTTP "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(t.requestAttributes(req)...),
	)
	defer span.End()

	baseAttrs := t.cfg.baseAttributes()
	t.cfg.Metrics.recordActiveRequestStart(ctx, baseAttrs)
	defer t.cfg.Metrics.recordActiveRequestEnd(ctx, baseAttrs)

	if req.ContentLength > 0 {
		t.cfg.Metrics.recordRequestBodySize(ctx, req.ContentLength, baseAttrs)
	}

	var nt *networkTrace
	if t.cfg.EnableNetworkTrace {
		nt = &networkTrace{}
		ctx = httptrace.WithClientTrace(ctx, nt.clientTrace())
	}

	// RoundTrippers must not modify the caller's request.
	req = req.Clone(ctx)
	t.cfg.Propagators.Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start)

	if nt != nil {
		timings := nt.finish()
		timings.addTraceEvents(span)
		timings.recordTimingMetrics(ctx, t.cfg.Metrics, baseAttrs)
	}

	if err != nil {
		errorType := classifyError(err)
		setSpanError(span, err, errorType)
		t.cfg.Metrics.recordError(ctx, errorType, baseAttrs)
		t.cfg.Metrics.recordRequestDuration(ctx, duration,
			withAttr(t.metricsAttributes(req), attribute.String("error.type", errorType)))
		return nil, err
	}

	span.SetAttributes(responseAttributes(resp)...)
	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
		span.SetAttributes(attribute.String("error.type", errorTypeFromStatusCode(resp.StatusCode)))
	}
	if resp.ContentLength > 0 {
		t.cfg.Metrics.recordResponseBodySize(ctx, resp.ContentLength, baseAttrs)
	}

	attrs := withAttr(t.metricsAttributes(req), attribute.Int("http.response.status_code", resp.StatusCode))
	if et := errorTypeFromStatusCode(resp.StatusCode); et != "" {
		attrs = append(attrs, attribute.String("error.type", et))
	}
	t.cfg.Metrics.recordRequestDuration(ctx, duration, attrs)

	return resp, nil
}

// requestAttributes returns span attributes for the request. The full URL is
// only recorded when end user identifiable information is allowed.
func (t *otelTransport) requestAttributes(req *http.Request) []attribute.KeyValue {
	attrs := t.metricsAttributes(req)
	attrs = append(attrs, attribute.String("url.scheme", req.URL.Scheme))
	if t.cfg.Observability != nil && t.cfg.Observability.IncludeEUIIAttributes {
		attrs = append(attrs, attribute.String("url.full", req.URL.Redacted()))
	}
	if req.ContentLength > 0 {
		attrs = append(attrs, attribute.Int64("http.request.body.size", req.ContentLength))
	}
	if ua := req.UserAgent(); ua != "" {
		attrs = append(attrs, attribute.String("user_agent.original", ua))
	}
	if v := req.Header.Get(retryAttemptHeader); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			attrs = append(attrs, attribute.Int("http.request.resend_count", n))
		}
	}
	return attrs
}

// metricsAttributes returns the low-cardinality attributes required by semconv.
func (t *otelTransport) metricsAttributes(req *http.Request) []attribute.KeyValue {
	attrs := withAttr(t.cfg.baseAttributes(), attribute.String("http.request.method", req.Method))
	if host := req.URL.Hostname(); host != "" {
		attrs = append(attrs, attribute.String("server.address", host))
	}
	if port := serverPort(req); port > 0 {
		attrs = append(attrs, attribute.Int("server.port", port))
	}
	return attrs
}

func responseAttributes(resp *http.Response) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.Int("http.response.status_code", resp.StatusCode)}
	if resp.ContentLength > 0 {
		attrs = append(attrs, attribute.Int64("http.response.body.size", resp.ContentLength))
	}
	if resp.Proto != "" {
		version := strings.TrimPrefix(resp.Proto, "HTTP/")
		if version == "2.0" {
			version = "2"
		}
		attrs = append(attrs, attribute.String("network.protocol.version", version))
	}
	return attrs
}

func serverPort(req *http.Request) int {
	if p := req.URL.Port(); p != "" {
		n, _ := strconv.Atoi(p)
		return n
	}
	switch req.URL.Scheme {
	case "http":
		return 80
	case "https":
		return 443
	}
	return 0
}
