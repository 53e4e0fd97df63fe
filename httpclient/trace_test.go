package httpclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http/httptrace"
	"sync"
	"syscall"
	"testing"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "given nil, then returns empty", err: nil, want: ""},
		{name: "given context canceled, then returns cancelled", err: context.Canceled, want: ErrorTypeCancelled},
		{name: "given deadline exceeded, then returns timeout", err: context.DeadlineExceeded, want: ErrorTypeTimeout},
		{name: "given wrapped deadline, then returns timeout", err: fmt.Errorf("send: %w", context.DeadlineExceeded), want: ErrorTypeTimeout},
		{name: "given chaos error, then returns chaos", err: &net.OpError{Op: "dial", Err: ErrChaosInjected}, want: ErrorTypeChaos},
		{name: "given rate limit, then returns rate_limited", err: ErrRateLimited, want: ErrorTypeRateLimited},
		{name: "given open breaker, then returns circuit_open", err: gobreaker.ErrOpenState, want: ErrorTypeCircuitOpen},
		{name: "given half-open saturation, then returns circuit_open", err: gobreaker.ErrTooManyRequests, want: ErrorTypeCircuitOpen},
		{name: "given DNS error, then returns dns_error", err: &net.DNSError{Err: "no such host", Name: "api.invalid"}, want: ErrorTypeDNSError},
		{name: "given net timeout, then returns timeout", err: &netError{msg: "i/o", timeout: true}, want: ErrorTypeTimeout},
		{name: "given TLS record error, then returns tls_error", err: tls.RecordHeaderError{Msg: "bad"}, want: ErrorTypeTLSError},
		{name: "given certificate error, then returns tls_error", err: &tls.CertificateVerificationError{Err: x509.UnknownAuthorityError{}}, want: ErrorTypeTLSError},
		{name: "given connection refused, then returns connection_refused", err: &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, want: ErrorTypeConnectionRefused},
		{name: "given connection reset, then returns connection_reset", err: &net.OpError{Op: "read", Err: syscall.ECONNRESET}, want: ErrorTypeConnectionReset},
		{name: "given unexpected EOF, then returns eof", err: io.ErrUnexpectedEOF, want: ErrorTypeEOF},
		{name: "given timeout message, then returns timeout", err: errors.New("proxy: read timeout"), want: ErrorTypeTimeout},
		{name: "given x509 message, then returns tls_error", err: errors.New("x509: certificate has expired"), want: ErrorTypeTLSError},
		{name: "given unrelated error, then returns unknown", err: errors.New("something odd"), want: ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyError(tt.err))
		})
	}
}

func TestErrorTypeFromStatusCode(t *testing.T) {
	assert.Equal(t, "", errorTypeFromStatusCode(200))
	assert.Equal(t, "", errorTypeFromStatusCode(302))
	assert.Equal(t, "404", errorTypeFromStatusCode(404))
	assert.Equal(t, "503", errorTypeFromStatusCode(503))
}

func TestSetSpanError(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	setSpanError(span, errors.New("boom"), ErrorTypeUnknown)
	span.End()

	spans := exporter.GetSpans()
	assert.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "boom", spans[0].Status.Description)
	assert.Contains(t, spanAttributes(spans[0]), "error.type")
	assert.Len(t, spans[0].Events, 1)
}

func spanAttributes(s tracetest.SpanStub) map[string]string {
	out := make(map[string]string, len(s.Attributes))
	for _, kv := range s.Attributes {
		out[string(kv.Key)] = kv.Value.Emit()
	}
	return out
}

func TestNetworkTrace_Finish(t *testing.T) {
	t.Run("given callbacks after finish, then they are dropped", func(t *testing.T) {
		nt := &networkTrace{}
		ct := nt.clientTrace()
		ct.GotConn(httptrace.GotConnInfo{Reused: true})
		ct.DNSDone(httptrace.DNSDoneInfo{Addrs: []net.IPAddr{{IP: net.IPv4(127, 0, 0, 1)}}})

		got := nt.finish()
		ct.WroteRequest(httptrace.WroteRequestInfo{})
		ct.DNSDone(httptrace.DNSDoneInfo{Addrs: []net.IPAddr{{IP: net.IPv4(10, 0, 0, 1)}}})

		assert.True(t, got.connReused)
		assert.False(t, got.gotConn.IsZero())
		assert.True(t, got.wroteRequest.IsZero())
		assert.Equal(t, []string{"127.0.0.1"}, got.dnsAddrs)
		assert.True(t, nt.finish().wroteRequest.IsZero())
	})

	t.Run("given callbacks racing finish, then collection is serialized", func(t *testing.T) {
		nt := &networkTrace{}
		ct := nt.clientTrace()

		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 100 {
					ct.WroteRequest(httptrace.WroteRequestInfo{})
					ct.GotFirstResponseByte()
				}
			}()
		}
		timings := nt.finish()
		timings.addTraceEvents(trace.SpanFromContext(context.Background()))
		wg.Wait()
	})
}
