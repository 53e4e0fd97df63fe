package httpclient

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kroma-labs/sentinel-apiclient/abstractions"
)

func gunzip(t *testing.T, b []byte) string {
	t.Helper()
	zr, err := gzip.NewReader(bytes.NewReader(b))
	require.NoError(t, err)
	out, err := io.ReadAll(zr)
	require.NoError(t, err)
	return string(out)
}

func gzipString(t *testing.T, s string) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, GzipCompressor{}.Compress(&buf, []byte(s)))
	return buf.String()
}

func TestCompressor_RoundTrip(t *testing.T) {
	payload := []byte(strings.Repeat(`{"name":"ada"}`, 50))

	t.Run("given gzip, then output decompresses to the input", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, GzipCompressor{Level: gzip.BestSpeed}.Compress(&buf, payload))
		assert.Equal(t, string(payload), gunzip(t, buf.Bytes()))
	})

	t.Run("given zstd, then output decompresses to the input", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, ZstdCompressor{}.Compress(&buf, payload))

		dec, err := zstd.NewReader(nil)
		require.NoError(t, err)
		defer dec.Close()
		out, err := dec.DecodeAll(buf.Bytes(), nil)
		require.NoError(t, err)
		assert.Equal(t, payload, out)
	})
}

func TestCompressionHandler_Handle(t *testing.T) {
	const payload = `{"name":"ada","role":"admin"}`

	tests := []struct {
		name       string
		responses  []MockResponse
		body       func() io.Reader
		opts       abstractions.RequestOptions
		wantStatus int
		wantBad    int
		check      func(t *testing.T, requests []RecordedRequest)
	}{
		{
			name:       "given body, then sends it gzip encoded",
			responses:  []MockResponse{{Status: http.StatusCreated}},
			body:       func() io.Reader { return strings.NewReader(payload) },
			wantStatus: http.StatusCreated,
			check: func(t *testing.T, requests []RecordedRequest) {
				require.Len(t, requests, 1)
				assert.Equal(t, "gzip", requests[0].Header.Get("Content-Encoding"))
				assert.Equal(t, acceptEncoding, requests[0].Header.Get("Accept-Encoding"))
				assert.Equal(t, payload, gunzip(t, requests[0].Payload))
			},
		},
		{
			name: "given 415 for compressed body, then resends it uncompressed once",
			responses: []MockResponse{
				{Status: http.StatusUnsupportedMediaType},
				{Status: http.StatusCreated},
			},
			body:       func() io.Reader { return strings.NewReader(payload) },
			wantStatus: http.StatusCreated,
			check: func(t *testing.T, requests []RecordedRequest) {
				require.Len(t, requests, 2)
				assert.Equal(t, "gzip", requests[0].Header.Get("Content-Encoding"))
				assert.Empty(t, requests[1].Header.Get("Content-Encoding"))
				assert.Equal(t, payload, string(requests[1].Payload))
			},
		},
		{
			name: "given 415 twice, then returns the second 415",
			responses: []MockResponse{
				{Status: http.StatusUnsupportedMediaType},
			},
			body:    func() io.Reader { return strings.NewReader(payload) },
			wantBad: http.StatusUnsupportedMediaType,
			check: func(t *testing.T, requests []RecordedRequest) {
				assert.Len(t, requests, 2)
			},
		},
		{
			name: "given 415 for one-shot body, then returns the 415",
			responses: []MockResponse{
				{Status: http.StatusUnsupportedMediaType},
			},
			body:    func() io.Reader { return oneShotBody(payload) },
			wantBad: http.StatusUnsupportedMediaType,
			check: func(t *testing.T, requests []RecordedRequest) {
				assert.Len(t, requests, 1)
			},
		},
		{
			name:       "given no body, then sends no Content-Encoding",
			responses:  []MockResponse{{Status: http.StatusOK}},
			wantStatus: http.StatusOK,
			check: func(t *testing.T, requests []RecordedRequest) {
				require.Len(t, requests, 1)
				assert.Empty(t, requests[0].Header.Get("Content-Encoding"))
				assert.Equal(t, acceptEncoding, requests[0].Header.Get("Accept-Encoding"))
			},
		},
		{
			name:       "given disabled per-call option, then sends the body as is",
			responses:  []MockResponse{{Status: http.StatusOK}},
			body:       func() io.Reader { return strings.NewReader(payload) },
			opts:       abstractions.NewRequestOptions(&CompressionOption{Enabled: false}),
			wantStatus: http.StatusOK,
			check: func(t *testing.T, requests []RecordedRequest) {
				require.Len(t, requests, 1)
				assert.Empty(t, requests[0].Header.Get("Content-Encoding"))
				assert.Equal(t, payload, string(requests[0].Payload))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockTransport().StubFunc(func(*http.Request) bool { return true }, tt.responses...)
			p, _ := newTestPipeline(mock, WithCompression(DefaultCompressionOption()))

			var body io.Reader
			if tt.body != nil {
				body = tt.body()
			}
			req := newRequest(t, http.MethodPost, "https://api.example.com/users", body)

			resp, err := p.Handle(req, tt.opts)
			if tt.wantBad != 0 {
				var bad *BadResponseError
				require.ErrorAs(t, err, &bad)
				assert.Equal(t, tt.wantBad, bad.StatusCode())
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantStatus, resp.StatusCode)
			}
			tt.check(t, mock.Requests())
		})
	}
}

func TestCompressionHandler_DecodesResponses(t *testing.T) {
	const text = `{"id":1}`

	var zbuf bytes.Buffer
	require.NoError(t, ZstdCompressor{}.Compress(&zbuf, []byte(text)))

	tests := []struct {
		name     string
		encoding string
		body     string
	}{
		{name: "given gzip response, then body is decoded", encoding: "gzip", body: gzipString(t, text)},
		{name: "given zstd response, then body is decoded", encoding: "zstd", body: zbuf.String()},
		{name: "given identity response, then body is untouched", encoding: "", body: text},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := jsonHeader()
			if tt.encoding != "" {
				header.Set("Content-Encoding", tt.encoding)
			}
			mock := NewMockTransport().StubSequence(http.MethodGet, "/users/1",
				MockResponse{Status: http.StatusOK, Header: header, Body: tt.body})
			p, _ := newTestPipeline(mock, WithCompression(DefaultCompressionOption()))

			resp, err := p.Handle(newRequest(t, http.MethodGet, "https://api.example.com/users/1", nil), nil)
			require.NoError(t, err)
			assert.Empty(t, resp.Header.Get("Content-Encoding"))
			assert.Equal(t, text, readBody(t, resp))
		})
	}
}

func TestCompressionHandler_RetryCompressesEveryResend(t *testing.T) {
	mock := NewMockTransport().StubSequence(http.MethodPut, "/users/1",
		MockResponse{Status: http.StatusServiceUnavailable},
		MockResponse{Status: http.StatusOK},
	)
	p, _ := newTestPipeline(mock,
		WithCompression(DefaultCompressionOption()),
		WithRetry(&RetryOption{MaxRetries: 1}),
	)

	req := newRequest(t, http.MethodPut, "https://api.example.com/users/1", strings.NewReader("payload"))
	resp, err := p.Handle(req, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	requests := mock.Requests()
	require.Len(t, requests, 2)
	for _, r := range requests {
		assert.Equal(t, "gzip", r.Header.Get("Content-Encoding"))
		assert.Equal(t, "payload", gunzip(t, r.Payload))
	}
}
