package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kroma-labs/sentinel-apiclient/abstractions"
)

const (
	attrErrorMappingFound = "error.mapping_found"
	attrErrorBodyFound    = "error.body_found"
)

// throwIfFailedResponse returns nil for 2xx and 3xx responses. Other
// statuses become the error registered in mappings for the status, or an
// *abstractions.APIError when none applies. Either satisfies
// abstractions.ResponseError.
func (a *RequestAdapter) throwIfFailedResponse(
	ctx context.Context,
	resp *http.Response,
	mappings abstractions.ErrorMappings,
) error {
	code := resp.StatusCode
	if code >= 200 && code < 400 {
		return nil
	}
	span := trace.SpanFromContext(ctx)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		a.logger.Warn().Err(err).Int("http.status_code", code).Msg("failed to read error response body")
	}

	factory, ok := mappings.Lookup(code)
	span.SetAttributes(attribute.Bool(attrErrorMappingFound, ok))
	if !ok {
		return a.genericError(resp, body, nil, fmt.Sprintf(
			"the server returned an unexpected status code and no error factory is registered for this code: %d",
			code,
		))
	}

	var node abstractions.ParseNode
	if len(body) > 0 {
		node, err = a.rootParseNode(resp, body)
	}
	if node == nil {
		span.SetAttributes(attribute.Bool(attrErrorBodyFound, false))
		return a.genericError(resp, body, err, fmt.Sprintf(
			"the server returned an unexpected status code and the error registered for this code has no body to decode: %d",
			code,
		))
	}
	span.SetAttributes(attribute.Bool(attrErrorBodyFound, true))

	value, err := node.GetObjectValue(factory)
	if err != nil {
		return a.genericError(resp, body, err, fmt.Sprintf(
			"the server returned an unexpected status code and the error registered for this code failed to decode: %d",
			code,
		))
	}

	mapped, ok := value.(abstractions.ResponseErrorSetter)
	if !ok {
		return a.genericError(resp, body, ErrUnsupportedErrorType,
			fmt.Sprintf("%s: %T", ErrUnsupportedErrorType, value))
	}
	mapped.SetResponseStatusCode(code)
	mapped.SetResponseHeaders(resp.Header.Clone())

	a.logger.Debug().Int("http.status_code", code).Str("error.type", fmt.Sprintf("%T", mapped)).Msg("mapped error response")
	return mapped
}

func (a *RequestAdapter) genericError(resp *http.Response, body []byte, cause error, message string) error {
	a.logger.Debug().Int("http.status_code", resp.StatusCode).Msg(message)
	return &abstractions.APIError{
		Message:    message,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Body:       string(body),
		Err:        cause,
	}
}

// mediaType returns the first ;-separated segment of a Content-Type value.
func mediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.TrimSpace(mt)
}
