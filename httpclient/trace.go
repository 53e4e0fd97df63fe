package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http/httptrace"
	"strconv"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Error type classifications for the error.type attribute.
const (
	ErrorTypeTimeout           = "timeout"
	ErrorTypeConnectionRefused = "connection_refused"
	ErrorTypeDNSError          = "dns_error"
	ErrorTypeTLSError          = "tls_error"
	ErrorTypeCancelled         = "cancelled"
	ErrorTypeConnectionReset   = "connection_reset"
	ErrorTypeEOF               = "eof"
	ErrorTypeCircuitOpen       = "circuit_open"
	ErrorTypeRateLimited       = "rate_limited"
	ErrorTypeChaos             = "chaos"
	ErrorTypeUnknown           = "unknown"
)

// networkTimings holds timings collected from httptrace.ClientTrace for one send.
type networkTimings struct {
	dnsStart, dnsDone         time.Time
	connectStart, connectDone time.Time
	tlsStart, tlsDone         time.Time
	gotConn                   time.Time
	wroteRequest              time.Time
	firstResponseByte         time.Time

	connReused bool
	connIdle   bool
	connRemote string
	tlsProto   string
	dnsAddrs   []string
}

// networkTrace collects networkTimings. The transport write loop can fire
// callbacks after RoundTrip returned, so updates are serialized and dropped
// once finish was called.
type networkTrace struct {
	mu       sync.Mutex
	finished bool
	timings  networkTimings
}

func (nt *networkTrace) update(fn func(t *networkTimings)) {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	if !nt.finished {
		fn(&nt.timings)
	}
}

// finish stops collection and returns what was collected so far.
func (nt *networkTrace) finish() networkTimings {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	nt.finished = true
	out := nt.timings
	out.dnsAddrs = slices.Clone(nt.timings.dnsAddrs)
	return out
}

func (nt *networkTrace) stamp(field func(t *networkTimings) *time.Time) {
	now := time.Now()
	nt.update(func(t *networkTimings) { *field(t) = now })
}

func (nt *networkTrace) clientTrace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			now := time.Now()
			nt.update(func(t *networkTimings) {
				t.gotConn = now
				t.connReused = info.Reused
				t.connIdle = info.WasIdle
				if info.Conn != nil && info.Conn.RemoteAddr() != nil {
					t.connRemote = info.Conn.RemoteAddr().String()
				}
			})
		},
		DNSStart: func(httptrace.DNSStartInfo) {
			nt.stamp(func(t *networkTimings) *time.Time { return &t.dnsStart })
		},
		DNSDone: func(info httptrace.DNSDoneInfo) {
			now := time.Now()
			nt.update(func(t *networkTimings) {
				t.dnsDone = now
				for _, addr := range info.Addrs {
					t.dnsAddrs = append(t.dnsAddrs, addr.String())
				}
			})
		},
		ConnectStart: func(_, _ string) {
			nt.stamp(func(t *networkTimings) *time.Time { return &t.connectStart })
		},
		ConnectDone: func(_, _ string, _ error) {
			nt.stamp(func(t *networkTimings) *time.Time { return &t.connectDone })
		},
		TLSHandshakeStart: func() {
			nt.stamp(func(t *networkTimings) *time.Time { return &t.tlsStart })
		},
		TLSHandshakeDone: func(state tls.ConnectionState, _ error) {
			now := time.Now()
			nt.update(func(t *networkTimings) {
				t.tlsDone = now
				t.tlsProto = state.NegotiatedProtocol
			})
		},
		WroteRequest: func(httptrace.WroteRequestInfo) {
			nt.stamp(func(t *networkTimings) *time.Time { return &t.wroteRequest })
		},
		GotFirstResponseByte: func() {
			nt.stamp(func(t *networkTimings) *time.Time { return &t.firstResponseByte })
		},
	}
}

func spanned(start, end time.Time) bool { return !start.IsZero() && !end.IsZero() }

// addTraceEvents adds span events for the collected network timings.
func (nt networkTimings) addTraceEvents(span trace.Span) {
	if spanned(nt.dnsStart, nt.dnsDone) {
		span.AddEvent("dns.done", trace.WithTimestamp(nt.dnsDone), trace.WithAttributes(
			attribute.Float64("dns.duration_ms", float64(nt.dnsDone.Sub(nt.dnsStart).Milliseconds())),
			attribute.StringSlice("dns.addresses", nt.dnsAddrs),
		))
	}
	if spanned(nt.connectStart, nt.connectDone) {
		span.AddEvent("connect.done", trace.WithTimestamp(nt.connectDone), trace.WithAttributes(
			attribute.Float64("connect.duration_ms", float64(nt.connectDone.Sub(nt.connectStart).Milliseconds())),
		))
	}
	if spanned(nt.tlsStart, nt.tlsDone) {
		span.AddEvent("tls.done", trace.WithTimestamp(nt.tlsDone), trace.WithAttributes(
			attribute.Float64("tls.duration_ms", float64(nt.tlsDone.Sub(nt.tlsStart).Milliseconds())),
			attribute.String("tls.protocol", nt.tlsProto),
		))
	}
	if !nt.gotConn.IsZero() {
		span.AddEvent("got_conn", trace.WithTimestamp(nt.gotConn), trace.WithAttributes(
			attribute.Bool("connection.reused", nt.connReused),
			attribute.Bool("connection.was_idle", nt.connIdle),
			attribute.String("network.peer.address", nt.connRemote),
		))
	}
	if spanned(nt.wroteRequest, nt.firstResponseByte) {
		span.AddEvent("got_first_response_byte", trace.WithTimestamp(nt.firstResponseByte), trace.WithAttributes(
			attribute.Float64("ttfb_ms", float64(nt.firstResponseByte.Sub(nt.wroteRequest).Milliseconds())),
		))
	}
}

// recordTimingMetrics records the collected network timings.
func (nt networkTimings) recordTimingMetrics(ctx context.Context, m *metrics, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	if !nt.connReused && !nt.connectStart.IsZero() {
		m.recordConnectionOpened(ctx, attrs)
	}
	if spanned(nt.dnsStart, nt.dnsDone) {
		m.recordDNSDuration(ctx, nt.dnsDone.Sub(nt.dnsStart), attrs)
	}
	if spanned(nt.connectStart, nt.connectDone) {
		m.recordConnectionDuration(ctx, nt.connectDone.Sub(nt.connectStart), attrs)
	}
	if spanned(nt.tlsStart, nt.tlsDone) {
		m.recordTLSDuration(ctx, nt.tlsDone.Sub(nt.tlsStart), attrs)
	}
	if spanned(nt.wroteRequest, nt.firstResponseByte) {
		m.recordTTFB(ctx, nt.firstResponseByte.Sub(nt.wroteRequest), attrs)
	}
}

// classifyError returns an error.type classification for a transport error.
func classifyError(err error) string {
	if err == nil {
		return ""
	}

	var (
		netErr  net.Error
		dnsErr  *net.DNSError
		recErr  tls.RecordHeaderError
		certErr *tls.CertificateVerificationError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return ErrorTypeCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	case errors.Is(err, ErrChaosInjected):
		return ErrorTypeChaos
	case errors.Is(err, ErrRateLimited):
		return ErrorTypeRateLimited
	case isBreakerRejection(err):
		return ErrorTypeCircuitOpen
	case errors.As(err, &dnsErr):
		return ErrorTypeDNSError
	case errors.As(err, &netErr) && netErr.Timeout():
		return ErrorTypeTimeout
	case errors.As(err, &recErr), errors.As(err, &certErr):
		return ErrorTypeTLSError
	case errors.Is(err, syscall.ECONNREFUSED):
		return ErrorTypeConnectionRefused
	case errors.Is(err, syscall.ECONNRESET):
		return ErrorTypeConnectionReset
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return ErrorTypeEOF
	}

	// Wrapped errors from proxies and dialers only keep their message.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return ErrorTypeTimeout
	case strings.Contains(msg, "connection refused"):
		return ErrorTypeConnectionRefused
	case strings.Contains(msg, "connection reset"):
		return ErrorTypeConnectionReset
	case strings.Contains(msg, "no such host"):
		return ErrorTypeDNSError
	case strings.Contains(msg, "tls"), strings.Contains(msg, "x509"), strings.Contains(msg, "certificate"):
		return ErrorTypeTLSError
	case strings.Contains(msg, "eof"):
		return ErrorTypeEOF
	}
	return ErrorTypeUnknown
}

// errorTypeFromStatusCode follows semconv: the status code is the error type
// of 4xx and 5xx responses.
func errorTypeFromStatusCode(statusCode int) string {
	if statusCode >= 400 {
		return strconv.Itoa(statusCode)
	}
	return ""
}

// setSpanError records err on span with an error status.
func setSpanError(span trace.Span, err error, errorType string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if errorType != "" {
		span.SetAttributes(attribute.String("error.type", errorType))
	}
}
