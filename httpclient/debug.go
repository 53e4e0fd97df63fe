package httpclient

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// debugLogger is the logger WithDebug switches to.
var debugLogger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

// maxDebugBody bounds the request body copied into the cURL command.
const maxDebugBody = 4 << 10

var maskedHeaders = []string{"Authorization", "Cookie", "Proxy-Authorization"}

// debugTransport logs every send as a cURL command plus the response status.
type debugTransport struct {
	next   http.RoundTripper
	logger zerolog.Logger
}

func newDebugTransport(next http.RoundTripper, logger zerolog.Logger) http.RoundTripper {
	return &debugTransport{next: next, logger: logger.With().Str("component", "transport").Logger()}
}

// RoundTrip implements http.RoundTripper.
func (t *debugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	t.logger.Debug().
		Str("method", req.Method).
		Str("url", req.URL.Redacted()).
		Str("curl", generateCurlCommand(req, peekBody(req))).
		Msg("HTTP request")

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		t.logger.Debug().Err(err).Dur("duration", time.Since(start)).Msg("HTTP request failed")
		return nil, err
	}
	t.logger.Debug().
		Int("status", resp.StatusCode).
		Str("content_encoding", resp.Header.Get("Content-Encoding")).
		Int64("content_length", resp.ContentLength).
		Dur("duration", time.Since(start)).
		Msg("HTTP response")
	return resp, nil
}

// peekBody reads up to maxDebugBody bytes of a rewindable body through
// GetBody, leaving req.Body untouched. Encoded bodies are not shown.
func peekBody(req *http.Request) []byte {
	if req.GetBody == nil || req.Header.Get("Content-Encoding") != "" {
		return nil
	}
	rc, err := req.GetBody()
	if err != nil {
		return nil
	}
	defer rc.Close()
	b, _ := io.ReadAll(io.LimitReader(rc, maxDebugBody))
	return b
}

// generateCurlCommand renders req as a cURL command with credentials masked.
//
// Example output:
//
//	curl -X POST 'https://api.example.com/users' -H 'Authorization: ***' -H 'Content-Type: application/json' -d '{"name":"John"}'
func generateCurlCommand(req *http.Request, body []byte) string {
	var b bytes.Buffer
	b.WriteString("curl")
	if req.Method != http.MethodGet {
		fmt.Fprintf(&b, " -X %s", req.Method)
	}
	fmt.Fprintf(&b, " %s", shellQuote(req.URL.String()))

	keys := make([]string, 0, len(req.Header))
	for k := range req.Header {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		for _, v := range req.Header[k] {
			if slices.Contains(maskedHeaders, k) {
				v = "***"
			}
			fmt.Fprintf(&b, " -H %s", shellQuote(k+": "+v))
		}
	}

	if len(body) > 0 {
		fmt.Fprintf(&b, " -d %s", shellQuote(string(body)))
	}
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
