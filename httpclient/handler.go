package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kroma-labs/sentinel-apiclient/abstractions"
)

// maxDrainBytes bounds how much of a discarded body is read so the
// connection can be reused.
const maxDrainBytes = 64 << 10

// Handler is one stage of the pipeline. It may rewrite the request, call the
// next stage zero or more times, and rewrite the outcome.
//
// A stage that fails a response with *BadResponseError returns a nil
// response; the response travels inside the error.
type Handler interface {
	Handle(req *http.Request, opts abstractions.RequestOptions) (*http.Response, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(req *http.Request, opts abstractions.RequestOptions) (*http.Response, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(
	req *http.Request,
	opts abstractions.RequestOptions,
) (*http.Response, error) {
	return f(req, opts)
}

// resolveOption returns the per-call option of kind when it has type T,
// falling back to the handler default.
func resolveOption[T abstractions.RequestOption](
	opts abstractions.RequestOptions,
	kind abstractions.OptionKind,
	fallback T,
) T {
	if o, ok := opts.Get(kind); ok {
		if typed, ok := o.(T); ok {
			return typed
		}
	}
	return fallback
}

type requestOptionsKey struct{}

// ContextWithRequestOptions attaches per-call options for calls that reach
// the pipeline through http.Client, where Handle cannot be called directly.
func ContextWithRequestOptions(
	ctx context.Context,
	opts ...abstractions.RequestOption,
) context.Context {
	merged := requestOptionsFromContext(ctx)
	for _, opt := range opts {
		merged = merged.With(opt)
	}
	return context.WithValue(ctx, requestOptionsKey{}, merged)
}

func requestOptionsFromContext(ctx context.Context) abstractions.RequestOptions {
	if opts, ok := ctx.Value(requestOptionsKey{}).(abstractions.RequestOptions); ok {
		return opts
	}
	return nil
}

// responseOf returns the response of an outcome, whether it succeeded or
// failed with *BadResponseError. It is nil for transport failures.
func responseOf(resp *http.Response, err error) *http.Response {
	if resp != nil {
		return resp
	}
	var bad *BadResponseError
	if errors.As(err, &bad) {
		return bad.Response
	}
	return nil
}

// drainBody discards what is left of a response that will not be returned.
func drainBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.CopyN(io.Discard, resp.Body, maxDrainBytes)
	_ = resp.Body.Close()
}

// rewindable reports whether req can be sent again with the same body.
func rewindable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

// cloneForResend copies req with a fresh body from GetBody.
func cloneForResend(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return clone, nil
	}
	if req.GetBody == nil {
		return nil, ErrBodyNotRewindable
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	clone.Body = body
	return clone, nil
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// newStringBody returns a response body reading s.
func newStringBody(s string) io.ReadCloser {
	if s == "" {
		return http.NoBody
	}
	return io.NopCloser(strings.NewReader(s))
}
