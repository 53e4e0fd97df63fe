package httpclient

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kroma-labs/sentinel-apiclient/abstractions"
)

// DefaultChaosPercentage is the default share of requests answered by the
// chaos handler.
const DefaultChaosPercentage = 10

// ErrChaosInjected is returned when chaos injection simulates a network error.
var ErrChaosInjected = errors.New("chaos: simulated network error")

// chaosStatusCodes are the candidate statuses per method when no responses
// are configured.
var chaosStatusCodes = map[string][]int{
	http.MethodGet:    {200, 301, 307, 400, 401, 403, 404, 405, 429, 500, 502, 503, 504},
	http.MethodPost:   {200, 201, 204, 307, 400, 401, 403, 404, 405, 429, 500, 502, 503, 504, 507},
	http.MethodPut:    {200, 201, 400, 401, 403, 404, 405, 409, 429, 500, 502, 503, 504, 507},
	http.MethodPatch:  {200, 204, 400, 401, 403, 404, 405, 429, 500, 502, 503, 504},
	http.MethodDelete: {200, 204, 400, 401, 403, 404, 405, 429, 500, 502, 503, 504, 507},
}

// ChaosResponse builds a synthetic response for req.
type ChaosResponse func(req *http.Request) *http.Response

// StaticChaosResponse returns a ChaosResponse that always answers with
// status, body and a copy of header.
func StaticChaosResponse(status int, body string, header http.Header) ChaosResponse {
	return func(req *http.Request) *http.Response {
		resp := syntheticResponse(req, status, body)
		for k, v := range header {
			resp.Header[k] = append([]string(nil), v...)
		}
		return resp
	}
}

// ChaosOption configures the chaos handler, which answers a share of
// requests with synthetic responses to exercise callers' failure handling.
//
// Example:
//
//	httpclient.WithChaos(&httpclient.ChaosOption{
//	    Enabled:         true,
//	    ChaosPercentage: 20,
//	    Latency:         200 * time.Millisecond,
//	})
type ChaosOption struct {
	Enabled bool

	// ChaosPercentage is the share of requests, 0 to 100, answered with a
	// synthetic response.
	//
	// Default: 10
	ChaosPercentage int

	// Responses to pick from uniformly. When empty, a status is picked from a
	// per-method table and methods without a table are never answered.
	Responses []ChaosResponse

	// Latency delays every request, plus a random jitter up to LatencyJitter.
	Latency       time.Duration
	LatencyJitter time.Duration

	// ErrorRate is the probability (0.0-1.0) of failing with a simulated
	// connection error instead.
	ErrorRate float64
}

// DefaultChaosOption returns an enabled option answering 10% of requests.
func DefaultChaosOption() *ChaosOption {
	return &ChaosOption{
		Enabled:         true,
		ChaosPercentage: DefaultChaosPercentage,
	}
}

// Kind implements abstractions.RequestOption.
func (o *ChaosOption) Kind() abstractions.OptionKind { return abstractions.OptionKindChaos }

// Validate reports whether the option is within bounds.
func (o *ChaosOption) Validate() error {
	switch {
	case o.ChaosPercentage < 0 || o.ChaosPercentage > 100:
		return invalidOption("chaos percentage %d outside [0, 100]", o.ChaosPercentage)
	case o.ErrorRate < 0 || o.ErrorRate > 1:
		return invalidOption("chaos error rate %v outside [0, 1]", o.ErrorRate)
	case o.Latency < 0 || o.LatencyJitter < 0:
		return invalidOption("negative chaos latency")
	}
	return nil
}

// delay returns the latency to apply, including jitter.
func (o *ChaosOption) delay() time.Duration {
	d := o.Latency
	if o.LatencyJitter > 0 {
		d += time.Duration(rand.Int64N(int64(o.LatencyJitter))) //nolint:gosec
	}
	return d
}

func (o *ChaosOption) shouldInjectError() bool {
	return o.ErrorRate > 0 && rand.Float64() < o.ErrorRate //nolint:gosec
}

func (o *ChaosOption) shouldAnswer() bool {
	return o.ChaosPercentage > 0 && rand.IntN(100)+1 <= o.ChaosPercentage //nolint:gosec
}

// pick returns the synthetic response for req, or nil when there is none.
func (o *ChaosOption) pick(req *http.Request) *http.Response {
	if len(o.Responses) > 0 {
		return o.Responses[rand.IntN(len(o.Responses))](req) //nolint:gosec
	}
	codes, ok := chaosStatusCodes[strings.ToUpper(req.Method)]
	if !ok {
		return nil
	}
	return syntheticResponse(req, codes[rand.IntN(len(codes))], "") //nolint:gosec
}

func syntheticResponse(req *http.Request, status int, body string) *http.Response {
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        make(http.Header),
		Body:          newStringBody(body),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// chaosHandler short-circuits a share of requests. It is a test tool.
type chaosHandler struct {
	next     Handler
	defaults *ChaosOption
	cfg      *internalConfig
	logger   zerolog.Logger
}

func newChaosHandler(next Handler, cfg *internalConfig) *chaosHandler {
	return &chaosHandler{
		next:     next,
		defaults: cfg.Chaos,
		cfg:      cfg,
		logger:   cfg.Logger.With().Str("handler", "chaos").Logger(),
	}
}

func (h *chaosHandler) Handle(req *http.Request, opts abstractions.RequestOptions) (*http.Response, error) {
	opt := resolveOption(opts, abstractions.OptionKindChaos, h.defaults)
	if !opt.Enabled {
		return h.next.Handle(req, opts)
	}

	ctx := req.Context()
	if d := opt.delay(); d > 0 {
		if err := h.cfg.sleep(ctx, d); err != nil {
			return nil, err
		}
	}

	if opt.shouldInjectError() {
		h.record(req, "error", 0)
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: ErrChaosInjected}
	}

	if !opt.shouldAnswer() {
		return h.next.Handle(req, opts)
	}
	resp := opt.pick(req)
	if resp == nil {
		return h.next.Handle(req, opts)
	}
	if resp.Request == nil {
		resp.Request = req
	}
	h.record(req, "response", resp.StatusCode)
	return resp, nil
}

func (h *chaosHandler) record(req *http.Request, kind string, status int) {
	ctx := req.Context()
	h.logger.Debug().
		Str("method", req.Method).
		Str("chaos.kind", kind).
		Int("status", status).
		Msg("injected chaos")

	attrs := append(h.cfg.baseAttributes(),
		attribute.String("chaos.kind", kind),
		attribute.String("http.request.method", req.Method),
	)
	if status > 0 {
		attrs = append(attrs, attribute.Int("http.response.status_code", status))
	}
	trace.SpanFromContext(ctx).AddEvent("http.chaos", trace.WithAttributes(attrs...))
	h.cfg.Metrics.recordChaosInjection(ctx, attrs)
}
