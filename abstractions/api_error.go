package abstractions

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// ResponseError is satisfied by every error raised for an HTTP failure status,
// whether it came from an error mapping or was built generically.
//
//	var respErr abstractions.ResponseError
//	if errors.As(err, &respErr) && respErr.ResponseStatusCode() == http.StatusNotFound {
//	    // handle missing resource
//	}
type ResponseError interface {
	error
	ResponseStatusCode() int
	ResponseHeaders() http.Header
}

// ResponseErrorSetter is implemented by mapped error types so the adapter can
// attach the response status and headers. Embedding APIError satisfies it.
type ResponseErrorSetter interface {
	ResponseError
	SetResponseStatusCode(code int)
	SetResponseHeaders(headers http.Header)
}

// APIError is the generic fault for failed responses. Generated error models
// embed it to carry response metadata.
type APIError struct {
	Message    string
	StatusCode int
	Headers    http.Header

	// Body is the raw response body text, set for unmapped failures.
	Body string

	// Err is the underlying cause, if any.
	Err error
}

// NewAPIError creates an APIError with the given message.
func NewAPIError(message string) *APIError {
	return &APIError{Message: message}
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("api error: status %d", e.StatusCode)
}

func (e *APIError) Unwrap() error { return e.Err }

// ResponseStatusCode implements ResponseError.
func (e *APIError) ResponseStatusCode() int { return e.StatusCode }

// ResponseHeaders implements ResponseError.
func (e *APIError) ResponseHeaders() http.Header { return e.Headers }

// SetResponseStatusCode implements ResponseErrorSetter.
func (e *APIError) SetResponseStatusCode(code int) { e.StatusCode = code }

// SetResponseHeaders implements ResponseErrorSetter.
func (e *APIError) SetResponseHeaders(headers http.Header) { e.Headers = headers }

// ErrorMappings route failure statuses to error factories. Keys are an exact
// code ("404"), a class ("4XX", "5XX") or the catch-all "XXX".
type ErrorMappings map[string]ParsableFactory

// Lookup returns the factory for statusCode following the precedence exact
// code, class, catch-all.
func (m ErrorMappings) Lookup(statusCode int) (ParsableFactory, bool) {
	if len(m) == 0 {
		return nil, false
	}
	if f, ok := m.get(strconv.Itoa(statusCode)); ok {
		return f, true
	}
	if statusCode >= 400 && statusCode < 600 {
		if f, ok := m.get(strconv.Itoa(statusCode/100) + "XX"); ok {
			return f, true
		}
	}
	return m.get("XXX")
}

func (m ErrorMappings) get(key string) (ParsableFactory, bool) {
	if f, ok := m[key]; ok && f != nil {
		return f, true
	}
	if f, ok := m[strings.ToLower(key)]; ok && f != nil {
		return f, true
	}
	return nil, false
}
