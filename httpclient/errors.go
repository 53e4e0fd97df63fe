package httpclient

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrBodyNotRewindable is returned when a request has to be resent but
	// its body can only be read once.
	ErrBodyNotRewindable = errors.New("httpclient: request body is not rewindable")

	// ErrTooManyRedirects is returned when a call follows more redirects than
	// RedirectOption.MaxRedirects allows.
	ErrTooManyRedirects = errors.New("httpclient: too many redirects")

	// ErrNilAuthenticationProvider is returned by NewRequestAdapter.
	ErrNilAuthenticationProvider = errors.New("httpclient: authentication provider is nil")

	// ErrNilRequestInformation is returned when an adapter call gets no request.
	ErrNilRequestInformation = errors.New("httpclient: request information is nil")

	// ErrNilFactory is returned when an adapter call gets no parsable or enum
	// factory.
	ErrNilFactory = errors.New("httpclient: factory is nil")

	// ErrUnsupportedErrorType is wrapped when a mapped error factory builds a
	// value that cannot carry the response status.
	ErrUnsupportedErrorType = errors.New("httpclient: unsupported error type")
)

// BadResponseError is returned by the executor for responses with status
// >= 400 when HTTP errors are enabled. Handlers that resend on failure look
// for it; callers can read Response to inspect the failure.
type BadResponseError struct {
	Response *http.Response
}

func (e *BadResponseError) Error() string {
	if e.Response == nil {
		return "httpclient: bad response"
	}
	if req := e.Response.Request; req != nil && req.URL != nil {
		return fmt.Sprintf("httpclient: %s %s: %s", req.Method, req.URL.Redacted(), statusLine(e.Response))
	}
	return "httpclient: " + statusLine(e.Response)
}

// StatusCode returns the failed response's status.
func (e *BadResponseError) StatusCode() int {
	if e.Response == nil {
		return 0
	}
	return e.Response.StatusCode
}

func statusLine(resp *http.Response) string {
	if resp.Status != "" {
		return resp.Status
	}
	return fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
}

// RetryAfterError reports a Retry-After header that is neither a number of
// seconds nor an HTTP date.
type RetryAfterError struct {
	Value string
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("httpclient: invalid Retry-After header %q", e.Value)
}

// ContractViolationError is returned when a ResponseHandler produces a value
// of a different shape than the adapter call promises.
type ContractViolationError struct {
	Operation string
	Expected  string
	Actual    any
}

func (e *ContractViolationError) Error() string {
	return fmt.Sprintf(
		"httpclient: %s: response handler returned %T, expected %s",
		e.Operation, e.Actual, e.Expected,
	)
}

// NoContentTypeError is returned when a response has a body but no
// Content-Type to pick a parse node factory with.
type NoContentTypeError struct {
	StatusCode int
}

func (e *NoContentTypeError) Error() string {
	return fmt.Sprintf("httpclient: response with status %d has a body but no Content-Type", e.StatusCode)
}
