package httpclient

import (
	"net/http"
	"sync"

	"github.com/kroma-labs/sentinel-apiclient/abstractions"
)

// HeadersInspectionOption captures the headers of a call for the caller to
// read once it returns.
//
// Example:
//
//	inspect := httpclient.NewHeadersInspectionOption(false, true)
//	info.AddRequestOptions(inspect)
//	_, err := adapter.Send(ctx, info, newUser, nil)
//	requestID := inspect.ResponseHeaders().Get("X-Request-Id")
type HeadersInspectionOption struct {
	InspectRequestHeaders  bool
	InspectResponseHeaders bool

	mu              sync.Mutex
	requestHeaders  http.Header
	responseHeaders http.Header
}

// NewHeadersInspectionOption returns an option capturing the selected headers.
func NewHeadersInspectionOption(inspectRequest, inspectResponse bool) *HeadersInspectionOption {
	return &HeadersInspectionOption{
		InspectRequestHeaders:  inspectRequest,
		InspectResponseHeaders: inspectResponse,
	}
}

// Kind implements abstractions.RequestOption.
func (o *HeadersInspectionOption) Kind() abstractions.OptionKind {
	return abstractions.OptionKindHeadersInspection
}

// RequestHeaders returns the last captured request headers.
func (o *HeadersInspectionOption) RequestHeaders() http.Header {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.requestHeaders.Clone()
}

// ResponseHeaders returns the last captured response headers.
func (o *HeadersInspectionOption) ResponseHeaders() http.Header {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.responseHeaders.Clone()
}

func (o *HeadersInspectionOption) captureRequest(h http.Header) {
	o.mu.Lock()
	o.requestHeaders = h.Clone()
	o.mu.Unlock()
}

func (o *HeadersInspectionOption) captureResponse(h http.Header) {
	o.mu.Lock()
	o.responseHeaders = h.Clone()
	o.mu.Unlock()
}

// headersInspectionHandler copies headers into the call's
// HeadersInspectionOption. It sits inside retry so the headers of the last
// send are kept.
type headersInspectionHandler struct {
	next     Handler
	defaults *HeadersInspectionOption
}

func newHeadersInspectionHandler(next Handler, cfg *internalConfig) *headersInspectionHandler {
	return &headersInspectionHandler{next: next, defaults: cfg.HeadersInspection}
}

func (h *headersInspectionHandler) Handle(req *http.Request, opts abstractions.RequestOptions) (*http.Response, error) {
	opt := resolveOption(opts, abstractions.OptionKindHeadersInspection, h.defaults)
	if opt == nil {
		return h.next.Handle(req, opts)
	}

	if opt.InspectRequestHeaders {
		opt.captureRequest(req.Header)
	}
	resp, err := h.next.Handle(req, opts)
	if opt.InspectResponseHeaders {
		if r := responseOf(resp, err); r != nil {
			opt.captureResponse(r.Header)
		}
	}
	return resp, err
}
