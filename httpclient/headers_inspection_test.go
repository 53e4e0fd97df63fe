package httpclient

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kroma-labs/sentinel-apiclient/abstractions"
)

func TestHeadersInspectionHandler_Handle(t *testing.T) {
	tests := []struct {
		name        string
		inspectReq  bool
		inspectResp bool
		wantReq     string
		wantResp    string
	}{
		{name: "given both enabled, then captures both", inspectReq: true, inspectResp: true, wantReq: "abc", wantResp: "req-1"},
		{name: "given response only, then leaves request headers empty", inspectResp: true, wantResp: "req-1"},
		{name: "given request only, then leaves response headers empty", inspectReq: true, wantReq: "abc"},
		{name: "given none, then captures nothing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockTransport().StubFunc(func(*http.Request) bool { return true },
				MockResponse{Status: http.StatusOK, Header: http.Header{"X-Request-Id": {"req-1"}}})
			p, _ := newTestPipeline(mock)

			inspect := NewHeadersInspectionOption(tt.inspectReq, tt.inspectResp)
			req := newRequest(t, http.MethodGet, "https://api.example.com/users", nil)
			req.Header.Set("X-Trace", "abc")

			_, err := p.Handle(req, abstractions.NewRequestOptions(inspect))
			require.NoError(t, err)

			assert.Equal(t, tt.wantReq, inspect.RequestHeaders().Get("X-Trace"))
			assert.Equal(t, tt.wantResp, inspect.ResponseHeaders().Get("X-Request-Id"))
		})
	}
}

func TestHeadersInspectionHandler_CapturesFailedResponses(t *testing.T) {
	mock := NewMockTransport().StubFunc(func(*http.Request) bool { return true },
		MockResponse{Status: http.StatusNotFound, Header: http.Header{"X-Request-Id": {"req-404"}}})
	p, _ := newTestPipeline(mock)

	inspect := NewHeadersInspectionOption(false, true)
	_, err := p.Handle(newRequest(t, http.MethodGet, "https://api.example.com/users/9", nil),
		abstractions.NewRequestOptions(inspect))

	var bad *BadResponseError
	require.ErrorAs(t, err, &bad)
	assert.Equal(t, "req-404", inspect.ResponseHeaders().Get("X-Request-Id"))
}

func TestHeadersInspectionHandler_KeepsLastResend(t *testing.T) {
	mock := NewMockTransport().StubSequence(http.MethodGet, "/users",
		MockResponse{Status: http.StatusServiceUnavailable, Header: http.Header{"X-Request-Id": {"first"}}},
		MockResponse{Status: http.StatusOK, Header: http.Header{"X-Request-Id": {"second"}}},
	)
	p, _ := newTestPipeline(mock, WithRetry(&RetryOption{Delay: time.Second, MaxRetries: 1}))

	inspect := NewHeadersInspectionOption(true, true)
	_, err := p.Handle(newRequest(t, http.MethodGet, "https://api.example.com/users", nil),
		abstractions.NewRequestOptions(inspect))
	require.NoError(t, err)

	assert.Equal(t, "second", inspect.ResponseHeaders().Get("X-Request-Id"))
	assert.Equal(t, "1", inspect.RequestHeaders().Get("Retry-Attempt"))
}
