package httpclient

import (
	"errors"
	"net/http"

	"github.com/kroma-labs/sentinel-apiclient/abstractions"
)

// Compile-time interface checks.
var (
	_ Handler           = (*Pipeline)(nil)
	_ http.RoundTripper = (*Pipeline)(nil)
)

// Pipeline is the ordered middleware chain in front of the transport.
//
// From the outside in, the stages are parameter name decoding, redirect,
// user agent, retry, URL replace, headers inspection, chaos and compression,
// followed by the executor. Opt-in stages are only present when configured.
type Pipeline struct {
	head Handler
	cfg  *internalConfig
}

// NewPipeline builds a pipeline from opts.
func NewPipeline(opts ...Option) *Pipeline {
	return newPipeline(newConfig(opts...))
}

func newPipeline(cfg *internalConfig) *Pipeline {
	var h Handler = &executor{
		transport:  cfg.buildRoundTripper(),
		httpErrors: cfg.HTTPErrors,
	}

	if cfg.Compression != nil {
		h = newCompressionHandler(h, cfg)
	}
	if cfg.Chaos != nil {
		h = newChaosHandler(h, cfg)
	}
	h = newHeadersInspectionHandler(h, cfg)
	if cfg.URLReplace != nil {
		h = newURLReplaceHandler(h, cfg)
	}
	if cfg.Retry != nil {
		h = newRetryHandler(h, cfg)
	}
	if cfg.UserAgent != nil {
		h = newUserAgentHandler(h, cfg)
	}
	if cfg.Redirect != nil {
		h = newRedirectHandler(h, cfg)
	}
	if cfg.ParametersNameDecoding != nil {
		h = newParametersNameDecodingHandler(h, cfg)
	}

	return &Pipeline{head: h, cfg: cfg}
}

// Handle sends req through every stage with the per-call opts.
func (p *Pipeline) Handle(req *http.Request, opts abstractions.RequestOptions) (*http.Response, error) {
	return p.head.Handle(req, opts)
}

// RoundTrip implements http.RoundTripper. Per-call options come from
// ContextWithRequestOptions. Failed responses are returned as responses, as
// http.Client expects.
func (p *Pipeline) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := p.head.Handle(req, requestOptionsFromContext(req.Context()))
	var bad *BadResponseError
	if errors.As(err, &bad) && bad.Response != nil {
		return bad.Response, nil
	}
	return resp, err
}

// NewHTTPClient returns an http.Client that sends through a new pipeline.
// Redirects are left to the redirect stage.
func NewHTTPClient(opts ...Option) *http.Client {
	p := NewPipeline(opts...)
	return &http.Client{
		Transport: p,
		Timeout:   p.cfg.httpConfig.Timeout,
		CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
