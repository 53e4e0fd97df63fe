package httpclient

import (
	"net/http"
	"strings"

	"github.com/kroma-labs/sentinel-apiclient/abstractions"
)

// Product identification sent by default in User-Agent.
const (
	DefaultProductName    = "sentinel-apiclient"
	DefaultProductVersion = "1.0.0"
)

// AgentConfigurator stamps product information on an outgoing request.
type AgentConfigurator func(req *http.Request, opt *UserAgentOption)

// UserAgentOption configures the user agent handler.
type UserAgentOption struct {
	Enabled        bool
	ProductName    string
	ProductVersion string

	// Configurator replaces the default, which appends
	// "{ProductName}/{ProductVersion}" to any existing User-Agent.
	Configurator AgentConfigurator
}

// DefaultUserAgentOption identifies this library.
func DefaultUserAgentOption() *UserAgentOption {
	return &UserAgentOption{
		Enabled:        true,
		ProductName:    DefaultProductName,
		ProductVersion: DefaultProductVersion,
	}
}

// Kind implements abstractions.RequestOption.
func (o *UserAgentOption) Kind() abstractions.OptionKind { return abstractions.OptionKindUserAgent }

// Product returns "{ProductName}/{ProductVersion}".
func (o *UserAgentOption) Product() string {
	if o.ProductVersion == "" {
		return o.ProductName
	}
	return o.ProductName + "/" + o.ProductVersion
}

// AppendProduct is the default AgentConfigurator.
func AppendProduct(req *http.Request, opt *UserAgentOption) {
	product := opt.Product()
	if product == "" {
		return
	}
	current := req.Header.Get("User-Agent")
	switch {
	case current == "":
		req.Header.Set("User-Agent", product)
	case !strings.Contains(current, product):
		req.Header.Set("User-Agent", current+" "+product)
	}
}

type userAgentHandler struct {
	next     Handler
	defaults *UserAgentOption
}

func newUserAgentHandler(next Handler, cfg *internalConfig) *userAgentHandler {
	return &userAgentHandler{next: next, defaults: cfg.UserAgent}
}

func (h *userAgentHandler) Handle(req *http.Request, opts abstractions.RequestOptions) (*http.Response, error) {
	opt := resolveOption(opts, abstractions.OptionKindUserAgent, h.defaults)
	if !opt.Enabled {
		return h.next.Handle(req, opts)
	}

	configure := opt.Configurator
	if configure == nil {
		configure = AppendProduct
	}
	out := req.Clone(req.Context())
	configure(out, opt)
	return h.next.Handle(out, opts)
}
