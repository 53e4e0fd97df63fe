package httpclient

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kroma-labs/sentinel-apiclient/abstractions"
)

func TestDefaultRetryOption(t *testing.T) {
	opt := DefaultRetryOption()

	assert.Equal(t, 3*time.Second, opt.Delay)
	assert.Equal(t, 3, opt.MaxRetries)
	assert.Zero(t, opt.RetriesTimeLimit)
	assert.Nil(t, opt.ShouldRetry)
	assert.Equal(t, abstractions.OptionKindRetry, opt.Kind())
}

func TestRetryOption_Validate(t *testing.T) {
	tests := []struct {
		name    string
		opt     RetryOption
		wantErr bool
	}{
		{
			name: "given default values, then returns nil",
			opt:  *DefaultRetryOption(),
		},
		{
			name: "given the largest delay and count, then returns nil",
			opt:  RetryOption{Delay: MaxRetryDelay, MaxRetries: MaxRetryCount},
		},
		{
			name:    "given delay above 180s, then returns error",
			opt:     RetryOption{Delay: MaxRetryDelay + time.Second, MaxRetries: 1},
			wantErr: true,
		},
		{
			name:    "given negative delay, then returns error",
			opt:     RetryOption{Delay: -time.Second},
			wantErr: true,
		},
		{
			name:    "given more than 10 retries, then returns error",
			opt:     RetryOption{Delay: time.Second, MaxRetries: 11},
			wantErr: true,
		},
		{
			name:    "given negative time limit, then returns error",
			opt:     RetryOption{Delay: time.Second, RetriesTimeLimit: -time.Second},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opt.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidOption)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestExponentialDelay(t *testing.T) {
	tests := []struct {
		name        string
		retryNumber int
		base        time.Duration
		want        time.Duration
	}{
		{name: "given first retry, then returns base", retryNumber: 1, base: 3 * time.Second, want: 3 * time.Second},
		{name: "given second retry, then doubles base", retryNumber: 2, base: 3 * time.Second, want: 6 * time.Second},
		{name: "given third retry, then quadruples base", retryNumber: 3, base: 3 * time.Second, want: 12 * time.Second},
		{name: "given zero retry number, then returns base", retryNumber: 0, base: time.Second, want: time.Second},
		{name: "given zero base, then returns zero", retryNumber: 4, base: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExponentialDelay(tt.retryNumber, tt.base))
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		value   string
		want    time.Duration
		wantOK  bool
		wantErr bool
	}{
		{name: "given empty value, then reports absent", value: ""},
		{name: "given seconds, then returns duration", value: "5", want: 5 * time.Second, wantOK: true},
		{name: "given fractional seconds, then keeps the fraction", value: "1.5", want: 1500 * time.Millisecond, wantOK: true},
		{name: "given negative seconds, then returns zero", value: "-3", want: 0, wantOK: true},
		{
			name:   "given future HTTP date, then returns time until it",
			value:  now.Add(10 * time.Second).Format(http.TimeFormat),
			want:   10 * time.Second,
			wantOK: true,
		},
		{
			name:   "given past HTTP date, then returns zero",
			value:  now.Add(-time.Minute).Format(http.TimeFormat),
			want:   0,
			wantOK: true,
		},
		{name: "given garbage, then returns error", value: "soon", wantErr: true},
		{name: "given NaN, then returns error", value: "NaN", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := parseRetryAfter(tt.value, now)
			if tt.wantErr {
				var raErr *RetryAfterError
				require.ErrorAs(t, err, &raErr)
				assert.Equal(t, strings.TrimSpace(tt.value), raErr.Value)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRetryDelay(t *testing.T) {
	now := time.Now()
	withRetryAfter := func(v string) *http.Response {
		return &http.Response{Header: http.Header{"Retry-After": {v}}}
	}

	tests := []struct {
		name    string
		attempt int
		resp    *http.Response
		want    time.Duration
	}{
		{
			name:    "given no Retry-After on first resend, then returns base",
			attempt: 0,
			resp:    &http.Response{Header: http.Header{}},
			want:    time.Second,
		},
		{
			name:    "given no Retry-After on third resend, then grows exponentially",
			attempt: 2,
			resp:    &http.Response{Header: http.Header{}},
			want:    4 * time.Second,
		},
		{
			name:    "given Retry-After larger than computed, then returns Retry-After",
			attempt: 0,
			resp:    withRetryAfter("10"),
			want:    10 * time.Second,
		},
		{
			name:    "given Retry-After smaller than computed, then returns computed",
			attempt: 2,
			resp:    withRetryAfter("1"),
			want:    4 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := retryDelay(tt.attempt, time.Second, tt.resp, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRetryHandler_Handle(t *testing.T) {
	fastRetry := &RetryOption{Delay: time.Second, MaxRetries: 3}

	tests := []struct {
		name         string
		responses    []MockResponse
		body         func() *http.Request
		retry        *RetryOption
		wantStatus   int
		wantErr      func(t *testing.T, err error)
		wantRequests int
		wantDelays   []time.Duration
	}{
		{
			name: "given success on first send, then does not resend",
			responses: []MockResponse{
				{Status: http.StatusOK, Body: "ok"},
			},
			retry:        fastRetry,
			wantStatus:   http.StatusOK,
			wantRequests: 1,
		},
		{
			name: "given 503 then 200, then resends once after base delay",
			responses: []MockResponse{
				{Status: http.StatusServiceUnavailable},
				{Status: http.StatusOK, Body: "ok"},
			},
			retry:        fastRetry,
			wantStatus:   http.StatusOK,
			wantRequests: 2,
			wantDelays:   []time.Duration{time.Second},
		},
		{
			name: "given 429 with Retry-After, then waits the server delay",
			responses: []MockResponse{
				{Status: http.StatusTooManyRequests, Header: http.Header{"Retry-After": {"7"}}},
				{Status: http.StatusOK},
			},
			retry:        fastRetry,
			wantStatus:   http.StatusOK,
			wantRequests: 2,
			wantDelays:   []time.Duration{7 * time.Second},
		},
		{
			name: "given 504 every time, then stops after max retries",
			responses: []MockResponse{
				{Status: http.StatusGatewayTimeout},
			},
			retry: fastRetry,
			wantErr: func(t *testing.T, err error) {
				var bad *BadResponseError
				require.ErrorAs(t, err, &bad)
				assert.Equal(t, http.StatusGatewayTimeout, bad.StatusCode())
			},
			wantRequests: 4,
			wantDelays:   []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		},
		{
			name: "given 500, then does not resend",
			responses: []MockResponse{
				{Status: http.StatusInternalServerError},
			},
			retry: fastRetry,
			wantErr: func(t *testing.T, err error) {
				var bad *BadResponseError
				require.ErrorAs(t, err, &bad)
				assert.Equal(t, http.StatusInternalServerError, bad.StatusCode())
			},
			wantRequests: 1,
		},
		{
			name: "given transport error, then does not resend",
			responses: []MockResponse{
				{Err: errors.New("connection reset by peer")},
			},
			retry:        fastRetry,
			wantErr:      func(t *testing.T, err error) { require.ErrorContains(t, err, "connection reset") },
			wantRequests: 1,
		},
		{
			name: "given invalid Retry-After, then returns RetryAfterError",
			responses: []MockResponse{
				{Status: http.StatusServiceUnavailable, Header: http.Header{"Retry-After": {"later"}}},
			},
			retry: fastRetry,
			wantErr: func(t *testing.T, err error) {
				var raErr *RetryAfterError
				require.ErrorAs(t, err, &raErr)
				assert.Equal(t, "later", raErr.Value)
			},
			wantRequests: 1,
		},
		{
			name: "given zero max retries, then returns the first response",
			responses: []MockResponse{
				{Status: http.StatusServiceUnavailable},
			},
			retry: &RetryOption{Delay: time.Second},
			wantErr: func(t *testing.T, err error) {
				var bad *BadResponseError
				require.ErrorAs(t, err, &bad)
			},
			wantRequests: 1,
		},
		{
			name: "given ShouldRetry veto, then returns the first response",
			responses: []MockResponse{
				{Status: http.StatusServiceUnavailable},
			},
			retry: &RetryOption{
				Delay:       time.Second,
				MaxRetries:  3,
				ShouldRetry: func(time.Duration, int, *http.Response) bool { return false },
			},
			wantErr: func(t *testing.T, err error) {
				var bad *BadResponseError
				require.ErrorAs(t, err, &bad)
			},
			wantRequests: 1,
		},
		{
			name: "given delay beyond time limit, then returns the response",
			responses: []MockResponse{
				{Status: http.StatusServiceUnavailable, Header: http.Header{"Retry-After": {"30"}}},
			},
			retry: &RetryOption{Delay: time.Second, MaxRetries: 3, RetriesTimeLimit: 10 * time.Second},
			wantErr: func(t *testing.T, err error) {
				var bad *BadResponseError
				require.ErrorAs(t, err, &bad)
			},
			wantRequests: 1,
		},
		{
			name: "given one-shot body, then does not resend",
			responses: []MockResponse{
				{Status: http.StatusServiceUnavailable},
			},
			body: func() *http.Request {
				req, _ := http.NewRequest(http.MethodPost, "https://api.example.com/users", oneShotBody("payload"))
				return req
			},
			retry: fastRetry,
			wantErr: func(t *testing.T, err error) {
				var bad *BadResponseError
				require.ErrorAs(t, err, &bad)
			},
			wantRequests: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockTransport().StubFunc(func(*http.Request) bool { return true }, tt.responses...)
			p, rec := newTestPipeline(mock, WithRetry(tt.retry))

			req := newRequest(t, http.MethodGet, "https://api.example.com/users", nil)
			if tt.body != nil {
				req = tt.body()
			}

			resp, err := p.Handle(req, nil)
			if tt.wantErr != nil {
				tt.wantErr(t, err)
				assert.Nil(t, resp)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantStatus, resp.StatusCode)
			}
			assert.Equal(t, tt.wantRequests, mock.RequestCount())
			assert.Equal(t, tt.wantDelays, rec.Delays())
		})
	}
}

func TestRetryHandler_ResendHeadersAndBody(t *testing.T) {
	mock := NewMockTransport().StubSequence(http.MethodPost, "/users",
		MockResponse{Status: http.StatusServiceUnavailable},
		MockResponse{Status: http.StatusServiceUnavailable},
		MockResponse{Status: http.StatusCreated},
	)
	p, _ := newTestPipeline(mock, WithRetry(&RetryOption{Delay: time.Second, MaxRetries: 3}))

	req := newRequest(t, http.MethodPost, "https://api.example.com/users", strings.NewReader(`{"name":"ada"}`))
	resp, err := p.Handle(req, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	requests := mock.Requests()
	require.Len(t, requests, 3)
	assert.Empty(t, requests[0].Header.Get("Retry-Attempt"))
	assert.Equal(t, "1", requests[1].Header.Get("Retry-Attempt"))
	assert.Equal(t, "2", requests[2].Header.Get("Retry-Attempt"))
	for _, r := range requests {
		assert.JSONEq(t, `{"name":"ada"}`, string(r.Payload))
	}
}

func TestRetryHandler_PerCallOptionOverridesDefault(t *testing.T) {
	mock := NewMockTransport().StubSequence(http.MethodGet, "/users",
		MockResponse{Status: http.StatusServiceUnavailable},
		MockResponse{Status: http.StatusOK},
	)
	p, rec := newTestPipeline(mock, WithRetry(&RetryOption{Delay: time.Second}))

	req := newRequest(t, http.MethodGet, "https://api.example.com/users", nil)
	opts := abstractions.NewRequestOptions(&RetryOption{Delay: 2 * time.Second, MaxRetries: 1})

	resp, err := p.Handle(req, opts)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []time.Duration{2 * time.Second}, rec.Delays())
}

func TestRetryHandler_PlainResponsesWithoutHTTPErrors(t *testing.T) {
	mock := NewMockTransport().StubSequence(http.MethodGet, "/users",
		MockResponse{Status: http.StatusTooManyRequests},
		MockResponse{Status: http.StatusOK, Body: "done"},
	)
	p, _ := newTestPipeline(mock,
		WithHTTPErrors(false),
		WithRetry(&RetryOption{Delay: time.Second, MaxRetries: 2}),
	)

	resp, err := p.Handle(newRequest(t, http.MethodGet, "https://api.example.com/users", nil), nil)
	require.NoError(t, err)
	assert.Equal(t, "done", readBody(t, resp))
	assert.Equal(t, 2, mock.RequestCount())
}
