package abstractions

import (
	"context"
	"net/http"
)

// ResponseHandler takes over response processing for a call, bypassing the
// adapter's status classification and deserialization. The handler owns the
// response body and must close it.
type ResponseHandler interface {
	HandleResponse(ctx context.Context, response *http.Response, errorMappings ErrorMappings) (any, error)
}

// ResponseHandlerFunc adapts a function to ResponseHandler.
type ResponseHandlerFunc func(ctx context.Context, response *http.Response, errorMappings ErrorMappings) (any, error)

// HandleResponse implements ResponseHandler.
func (f ResponseHandlerFunc) HandleResponse(
	ctx context.Context,
	response *http.Response,
	errorMappings ErrorMappings,
) (any, error) {
	return f(ctx, response, errorMappings)
}

// ResponseHandlerOption registers a ResponseHandler for one call.
type ResponseHandlerOption struct {
	Handler ResponseHandler
}

// NewResponseHandlerOption wraps handler in a request option.
func NewResponseHandlerOption(handler ResponseHandler) *ResponseHandlerOption {
	return &ResponseHandlerOption{Handler: handler}
}

// Kind implements RequestOption.
func (o *ResponseHandlerOption) Kind() OptionKind { return OptionKindResponseHandler }
