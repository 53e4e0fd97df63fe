package httpclient

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// sleepRecorder replaces the wait between resends so tests never block.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// newTestPipeline builds a pipeline over mock whose waits are recorded.
func newTestPipeline(mock http.RoundTripper, opts ...Option) (*Pipeline, *sleepRecorder) {
	rec := &sleepRecorder{}
	cfg := newConfig(append([]Option{WithTransport(mock)}, opts...)...)
	cfg.sleep = rec.sleep
	return newPipeline(cfg), rec
}

func newRequest(t *testing.T, method, url string, body io.Reader) *http.Request {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, url, body)
	require.NoError(t, err)
	return req
}

// oneShotBody hides the concrete reader type so http.NewRequest cannot set GetBody.
func oneShotBody(s string) io.Reader {
	return io.MultiReader(strings.NewReader(s))
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	require.NotNil(t, resp)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func jsonHeader() http.Header {
	return http.Header{"Content-Type": {"application/json"}}
}
