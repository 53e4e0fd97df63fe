package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPipeline_Stages(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		wantOut []string
	}{
		{
			name:    "given defaults, then installs the default stages",
			wantOut: []string{
				"*httpclient.parametersNameDecodingHandler",
				"*httpclient.redirectHandler",
				"*httpclient.userAgentHandler",
				"*httpclient.retryHandler",
				"*httpclient.headersInspectionHandler",
				"*httpclient.executor",
			},
		},
		{
			name: "given every opt-in stage, then orders them from the outside in",
			opts: []Option{
				WithURLReplace(NewURLReplaceOption(nil)),
				WithChaos(DefaultChaosOption()),
				WithCompression(DefaultCompressionOption()),
			},
			wantOut: []string{
				"*httpclient.parametersNameDecodingHandler",
				"*httpclient.redirectHandler",
				"*httpclient.userAgentHandler",
				"*httpclient.retryHandler",
				"*httpclient.urlReplaceHandler",
				"*httpclient.headersInspectionHandler",
				"*httpclient.chaosHandler",
				"*httpclient.compressionHandler",
				"*httpclient.executor",
			},
		},
		{
			name: "given nil defaults, then leaves those stages out",
			opts: []Option{
				WithRetry(nil),
				WithRedirect(nil),
				WithUserAgent(nil),
				WithParametersNameDecoding(nil),
			},
			wantOut: []string{"*httpclient.headersInspectionHandler", "*httpclient.executor"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPipeline(append([]Option{WithTransport(NewMockTransport())}, tt.opts...)...)
			assert.Equal(t, tt.wantOut, stageNames(p.head))
		})
	}
}

// stageNames walks the chain through each stage's next field.
func stageNames(h Handler) []string {
	var names []string
	for h != nil {
		names = append(names, fmt.Sprintf("%T", h))
		switch s := h.(type) {
		case *parametersNameDecodingHandler:
			h = s.next
		case *redirectHandler:
			h = s.next
		case *userAgentHandler:
			h = s.next
		case *retryHandler:
			h = s.next
		case *urlReplaceHandler:
			h = s.next
		case *headersInspectionHandler:
			h = s.next
		case *chaosHandler:
			h = s.next
		case *compressionHandler:
			h = s.next
		default:
			h = nil
		}
	}
	return names
}

func TestExecutor_Handle(t *testing.T) {
	tests := []struct {
		name       string
		httpErrors bool
		status     int
		wantBad    bool
	}{
		{name: "given HTTP errors and 404, then returns BadResponseError", httpErrors: true, status: 404, wantBad: true},
		{name: "given HTTP errors and 302, then returns the response", httpErrors: true, status: 302},
		{name: "given HTTP errors off and 500, then returns the response", httpErrors: false, status: 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockTransport().StubResponse(tt.status, "")
			e := &executor{transport: mock, httpErrors: tt.httpErrors}

			req := newRequest(t, http.MethodGet, "https://api.example.com/users", nil)
			resp, err := e.Handle(req, nil)
			if tt.wantBad {
				var bad *BadResponseError
				require.ErrorAs(t, err, &bad)
				assert.Nil(t, resp)
				assert.Equal(t, tt.status, bad.StatusCode())
				assert.Contains(t, bad.Error(), "GET https://api.example.com/users")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Same(t, req, resp.Request)
		})
	}
}

func TestPipeline_RoundTrip(t *testing.T) {
	t.Run("given failed status, then returns it as a response", func(t *testing.T) {
		mock := NewMockTransport().StubResponse(http.StatusNotFound, "missing")
		p, _ := newTestPipeline(mock)

		resp, err := p.RoundTrip(newRequest(t, http.MethodGet, "https://api.example.com/users/9", nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "missing", readBody(t, resp))
	})

	t.Run("given transport error, then returns it", func(t *testing.T) {
		boom := errors.New("boom")
		mock := NewMockTransport().StubError(boom)
		p, _ := newTestPipeline(mock)

		_, err := p.RoundTrip(newRequest(t, http.MethodGet, "https://api.example.com/users", nil))
		require.ErrorIs(t, err, boom)
	})

	t.Run("given options in context, then applies them", func(t *testing.T) {
		mock := NewMockTransport().StubPath("/people", http.StatusOK, "")
		p, _ := newTestPipeline(mock, WithURLReplace(&URLReplaceOption{}))

		ctx := ContextWithRequestOptions(context.Background(),
			NewURLReplaceOption(map[string]string{"/users": "/people"}))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.example.com/users", nil)
		require.NoError(t, err)

		resp, err := p.RoundTrip(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestContextWithRequestOptions_Merges(t *testing.T) {
	ctx := ContextWithRequestOptions(context.Background(), DefaultRetryOption())
	ctx = ContextWithRequestOptions(ctx, DefaultRedirectOption())

	opts := requestOptionsFromContext(ctx)
	_, hasRetry := opts.Get(DefaultRetryOption().Kind())
	_, hasRedirect := opts.Get(DefaultRedirectOption().Kind())
	assert.True(t, hasRetry)
	assert.True(t, hasRedirect)
	assert.Nil(t, requestOptionsFromContext(context.Background()))
}

func TestNewHTTPClient(t *testing.T) {
	mock := NewMockTransport().
		StubSequence(http.MethodGet, "/old", redirectTo(http.StatusFound, "/new")).
		StubSequence(http.MethodGet, "/new", MockResponse{Status: http.StatusOK, Body: "here"})

	client := NewHTTPClient(WithTransport(mock), WithConfig(LowLatencyConfig()))
	assert.Equal(t, LowLatencyConfig().Timeout, client.Timeout)

	resp, err := client.Get("https://api.example.com/old")
	require.NoError(t, err)
	assert.Equal(t, "here", readBody(t, resp))
	assert.Equal(t, 2, mock.RequestCount())
}
