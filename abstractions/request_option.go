package abstractions

import "maps"

// OptionKind identifies the concern a RequestOption configures.
type OptionKind int

const (
	OptionKindUnknown OptionKind = iota
	OptionKindRetry
	OptionKindRedirect
	OptionKindCompression
	OptionKindChaos
	OptionKindUserAgent
	OptionKindHeadersInspection
	OptionKindParametersNameDecoding
	OptionKindURLReplace
	OptionKindResponseHandler
	OptionKindObservability
)

var optionKindNames = map[OptionKind]string{
	OptionKindRetry:                  "retry",
	OptionKindRedirect:               "redirect",
	OptionKindCompression:            "compression",
	OptionKindChaos:                  "chaos",
	OptionKindUserAgent:              "user_agent",
	OptionKindHeadersInspection:      "headers_inspection",
	OptionKindParametersNameDecoding: "parameters_name_decoding",
	OptionKindURLReplace:             "url_replace",
	OptionKindResponseHandler:        "response_handler",
	OptionKindObservability:          "observability",
}

func (k OptionKind) String() string {
	if name, ok := optionKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// RequestOption configures one concern of the request pipeline for a single call.
type RequestOption interface {
	Kind() OptionKind
}

// RequestOptions holds at most one option per OptionKind.
//
// A RequestOptions value is treated as immutable once handed to the pipeline;
// handlers derive modified copies with With.
type RequestOptions map[OptionKind]RequestOption

// NewRequestOptions indexes opts by kind. Later options of the same kind win.
func NewRequestOptions(opts ...RequestOption) RequestOptions {
	out := make(RequestOptions, len(opts))
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		out[opt.Kind()] = opt
	}
	return out
}

// Get returns the option registered for kind. It is safe on a nil map.
func (o RequestOptions) Get(kind OptionKind) (RequestOption, bool) {
	opt, ok := o[kind]
	if !ok || opt == nil {
		return nil, false
	}
	return opt, true
}

// With returns a copy of o where opt replaces any option of the same kind.
func (o RequestOptions) With(opt RequestOption) RequestOptions {
	out := make(RequestOptions, len(o)+1)
	maps.Copy(out, o)
	if opt != nil {
		out[opt.Kind()] = opt
	}
	return out
}
