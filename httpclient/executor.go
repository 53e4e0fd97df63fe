package httpclient

import (
	"net/http"

	"github.com/kroma-labs/sentinel-apiclient/abstractions"
)

// Compile-time interface check.
var _ Handler = (*executor)(nil)

// executor is the innermost stage. It hands the request to the transport
// stack and, with HTTP errors enabled, turns status >= 400 into a
// *BadResponseError.
type executor struct {
	transport  http.RoundTripper
	httpErrors bool
}

func (e *executor) Handle(req *http.Request, _ abstractions.RequestOptions) (*http.Response, error) {
	resp, err := e.transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.Request == nil {
		resp.Request = req
	}
	if e.httpErrors && resp.StatusCode >= http.StatusBadRequest {
		return nil, &BadResponseError{Response: resp}
	}
	return resp, nil
}
