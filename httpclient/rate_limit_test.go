package httpclient

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitConfig_Default(t *testing.T) {
	cfg := DefaultRateLimitConfig()

	assert.InDelta(t, float64(100), cfg.RequestsPerSecond, 0.0001)
	assert.Equal(t, 10, cfg.Burst)
	assert.True(t, cfg.WaitOnLimit)
}

func TestNewRateLimitTransport(t *testing.T) {
	mock := NewMockTransport()

	t.Run("given zero rate, then returns next unchanged", func(t *testing.T) {
		rt := newRateLimitTransport(mock, RateLimitConfig{})
		assert.Same(t, mock, rt)
	})

	t.Run("given zero burst, then raises it to one", func(t *testing.T) {
		rt := newRateLimitTransport(mock, RateLimitConfig{RequestsPerSecond: 1})
		rl, ok := rt.(*rateLimitTransport)
		require.True(t, ok)
		assert.Equal(t, 1, rl.limiter.Burst())
	})
}

func TestRateLimitTransport_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		cfg     RateLimitConfig
		ctx     func() (context.Context, context.CancelFunc)
		sends   int
		wantErr error
		wantOK  int
	}{
		{
			name:   "given requests within burst, then sends them all",
			cfg:    RateLimitConfig{RequestsPerSecond: 1, Burst: 3},
			sends:  3,
			wantOK: 3,
		},
		{
			name:    "given burst exhausted without waiting, then returns ErrRateLimited",
			cfg:     RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1},
			sends:   2,
			wantErr: ErrRateLimited,
			wantOK:  1,
		},
		{
			name: "given wait longer than the deadline, then returns ErrRateLimited",
			cfg:  RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1, WaitOnLimit: true},
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), time.Second)
			},
			sends:   2,
			wantErr: ErrRateLimited,
			wantOK:  1,
		},
		{
			name: "given cancelled context while waiting, then returns the context error",
			cfg:  RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1, WaitOnLimit: true},
			ctx: func() (context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx, cancel
			},
			sends:   1,
			wantErr: context.Canceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockTransport().StubResponse(http.StatusOK, "")
			rt := newRateLimitTransport(mock, tt.cfg)

			ctx, cancel := context.Background(), context.CancelFunc(func() {})
			if tt.ctx != nil {
				ctx, cancel = tt.ctx()
			}
			defer cancel()

			var lastErr error
			for range tt.sends {
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.example.com", nil)
				require.NoError(t, err)
				resp, err := rt.RoundTrip(req)
				if err != nil {
					lastErr = err
					continue
				}
				_ = resp.Body.Close()
			}

			if tt.wantErr != nil {
				require.ErrorIs(t, lastErr, tt.wantErr)
			} else {
				require.NoError(t, lastErr)
			}
			assert.Equal(t, tt.wantOK, mock.RequestCount())
		})
	}
}

func TestRateLimit_ClassifiedInPipeline(t *testing.T) {
	mock := NewMockTransport().StubResponse(http.StatusOK, "")
	p, _ := newTestPipeline(mock, WithRateLimit(RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}))

	_, err := p.Handle(newRequest(t, http.MethodGet, "https://api.example.com", nil), nil)
	require.NoError(t, err)

	_, err = p.Handle(newRequest(t, http.MethodGet, "https://api.example.com", nil), nil)
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, ErrorTypeRateLimited, classifyError(err))
}
