package httpclient

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kroma-labs/sentinel-apiclient/abstractions"
)

const (
	// DefaultMaxRedirects is the default number of redirects followed per call.
	DefaultMaxRedirects = 5

	// MaxRedirectsLimit is the largest accepted RedirectOption.MaxRedirects.
	MaxRedirectsLimit = 20
)

// RedirectOption configures the redirect handler.
type RedirectOption struct {
	Enabled      bool
	MaxRedirects int

	// ShouldRedirect can veto following a redirect response.
	ShouldRedirect func(resp *http.Response) bool
}

// DefaultRedirectOption follows up to DefaultMaxRedirects redirects.
func DefaultRedirectOption() *RedirectOption {
	return &RedirectOption{Enabled: true, MaxRedirects: DefaultMaxRedirects}
}

// Kind implements abstractions.RequestOption.
func (o *RedirectOption) Kind() abstractions.OptionKind { return abstractions.OptionKindRedirect }

// Validate reports whether the option is within bounds.
func (o *RedirectOption) Validate() error {
	if o.MaxRedirects < 0 || o.MaxRedirects > MaxRedirectsLimit {
		return invalidOption("max redirects %d outside [0, %d]", o.MaxRedirects, MaxRedirectsLimit)
	}
	return nil
}

func isRedirectStatus(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// redirectHandler follows Location headers. The http.Client redirect logic is
// disabled so retries and authentication apply to every hop.
type redirectHandler struct {
	next     Handler
	defaults *RedirectOption
	cfg      *internalConfig
	logger   zerolog.Logger
}

func newRedirectHandler(next Handler, cfg *internalConfig) *redirectHandler {
	return &redirectHandler{
		next:     next,
		defaults: cfg.Redirect,
		cfg:      cfg,
		logger:   cfg.Logger.With().Str("handler", "redirect").Logger(),
	}
}

func (h *redirectHandler) Handle(req *http.Request, opts abstractions.RequestOptions) (*http.Response, error) {
	opt := resolveOption(opts, abstractions.OptionKindRedirect, h.defaults)
	maxRedirects := min(max(opt.MaxRedirects, 0), MaxRedirectsLimit)

	resp, err := h.next.Handle(req, opts)
	if !opt.Enabled {
		return resp, err
	}

	for hops := 0; ; hops++ {
		current := responseOf(resp, err)
		if current == nil || !isRedirectStatus(current.StatusCode) || current.Header.Get("Location") == "" {
			return resp, err
		}
		if opt.ShouldRedirect != nil && !opt.ShouldRedirect(current) {
			return resp, err
		}
		if hops >= maxRedirects {
			drainBody(current)
			return nil, fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, maxRedirects)
		}

		next, ok, rerr := redirectRequest(req, current)
		if rerr != nil {
			drainBody(current)
			return nil, rerr
		}
		if !ok {
			return resp, err
		}
		drainBody(current)

		ctx := req.Context()
		h.logger.Debug().
			Int("status", current.StatusCode).
			Str("location", next.URL.Redacted()).
			Msg("following redirect")
		trace.SpanFromContext(ctx).AddEvent("http.redirect", trace.WithAttributes(
			attribute.Int("http.response.status_code", current.StatusCode),
			attribute.Int("http.redirect.count", hops+1),
		))
		h.cfg.Metrics.recordRedirect(ctx, append(h.cfg.baseAttributes(),
			attribute.Int("http.response.status_code", current.StatusCode)))

		req = next
		resp, err = h.next.Handle(req, opts)
	}
}

// redirectRequest builds the request for the Location of resp. ok is false
// when the redirect keeps the method but the body cannot be resent.
func redirectRequest(req *http.Request, resp *http.Response) (*http.Request, bool, error) {
	target, err := req.URL.Parse(resp.Header.Get("Location"))
	if err != nil {
		return nil, false, fmt.Errorf("parse redirect location: %w", err)
	}

	switchToGet := (resp.StatusCode == http.StatusSeeOther && req.Method != http.MethodHead) ||
		((resp.StatusCode == http.StatusMovedPermanently || resp.StatusCode == http.StatusFound) &&
			req.Method == http.MethodPost)

	var next *http.Request
	if switchToGet {
		next = req.Clone(req.Context())
		next.Method = http.MethodGet
		next.Body = nil
		next.GetBody = nil
		next.ContentLength = 0
		for _, h := range []string{"Content-Type", "Content-Length", "Content-Encoding"} {
			next.Header.Del(h)
		}
	} else {
		if !rewindable(req) {
			return nil, false, nil
		}
		next, err = cloneForResend(req)
		if err != nil {
			return nil, false, err
		}
	}

	if !strings.EqualFold(target.Host, req.URL.Host) || !strings.EqualFold(target.Scheme, req.URL.Scheme) {
		next.Header.Del("Authorization")
		next.Header.Del("Cookie")
	}
	next.URL = target
	next.Host = ""
	next.Header.Del(retryAttemptHeader)
	return next, true, nil
}
