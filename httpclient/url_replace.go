package httpclient

import (
	"net/http"
	"slices"
	"strings"

	"github.com/kroma-labs/sentinel-apiclient/abstractions"
)

// URLReplaceOption rewrites request paths, for APIs that expose an alias
// segment such as "/users/me-token-to-replace" to be sent as "/me".
type URLReplaceOption struct {
	Enabled bool

	// ReplacementPairs maps a path fragment to its replacement. Only the
	// first occurrence of each fragment is replaced.
	ReplacementPairs map[string]string
}

// NewURLReplaceOption returns an enabled option with pairs.
func NewURLReplaceOption(pairs map[string]string) *URLReplaceOption {
	return &URLReplaceOption{Enabled: true, ReplacementPairs: pairs}
}

// Kind implements abstractions.RequestOption.
func (o *URLReplaceOption) Kind() abstractions.OptionKind { return abstractions.OptionKindURLReplace }

// ReplacePath applies the replacement pairs to path in key order.
func (o *URLReplaceOption) ReplacePath(path string) string {
	if o == nil || !o.Enabled {
		return path
	}
	keys := make([]string, 0, len(o.ReplacementPairs))
	for k := range o.ReplacementPairs {
		if k != "" {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		path = strings.Replace(path, k, o.ReplacementPairs[k], 1)
	}
	return path
}

type urlReplaceHandler struct {
	next     Handler
	defaults *URLReplaceOption
}

func newURLReplaceHandler(next Handler, cfg *internalConfig) *urlReplaceHandler {
	return &urlReplaceHandler{next: next, defaults: cfg.URLReplace}
}

func (h *urlReplaceHandler) Handle(req *http.Request, opts abstractions.RequestOptions) (*http.Response, error) {
	opt := resolveOption(opts, abstractions.OptionKindURLReplace, h.defaults)
	path := opt.ReplacePath(req.URL.Path)
	if path == req.URL.Path {
		return h.next.Handle(req, opts)
	}

	out := req.Clone(req.Context())
	out.URL.Path = path
	out.URL.RawPath = ""
	return h.next.Handle(out, opts)
}
