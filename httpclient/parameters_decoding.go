package httpclient

import (
	"net/http"
	"slices"
	"strings"

	"github.com/kroma-labs/sentinel-apiclient/abstractions"
)

// DefaultDecodedCharacters are the characters URI templates escape in query
// parameter names that APIs such as OData expect literally.
var DefaultDecodedCharacters = []byte{'$', '.', '-', '~'}

// ParametersNameDecodingOption configures the parameter name decoding handler.
type ParametersNameDecodingOption struct {
	Enabled bool

	// Characters to decode. Only ASCII characters are meaningful.
	Characters []byte
}

// DefaultParametersNameDecodingOption decodes DefaultDecodedCharacters.
func DefaultParametersNameDecodingOption() *ParametersNameDecodingOption {
	return &ParametersNameDecodingOption{
		Enabled:    true,
		Characters: append([]byte(nil), DefaultDecodedCharacters...),
	}
}

// Kind implements abstractions.RequestOption.
func (o *ParametersNameDecodingOption) Kind() abstractions.OptionKind {
	return abstractions.OptionKindParametersNameDecoding
}

// DecodeParameterNames decodes the percent-escapes of chars in the query
// parameter names of rawURL. Values, the path and the fragment are kept.
func DecodeParameterNames(rawURL string, chars []byte) string {
	if len(chars) == 0 {
		return rawURL
	}
	base, rest, ok := strings.Cut(rawURL, "?")
	if !ok {
		return rawURL
	}
	query, fragment, hasFragment := strings.Cut(rest, "#")

	out := base + "?" + decodeQueryNames(query, chars)
	if hasFragment {
		out += "#" + fragment
	}
	return out
}

// decodeQueryNames rewrites the names in a raw query string.
func decodeQueryNames(rawQuery string, chars []byte) string {
	if !strings.Contains(rawQuery, "%") {
		return rawQuery
	}
	pairs := strings.Split(rawQuery, "&")
	for i, pair := range pairs {
		name, value, hasValue := strings.Cut(pair, "=")
		name = decodeName(name, chars)
		if hasValue {
			pairs[i] = name + "=" + value
		} else {
			pairs[i] = name
		}
	}
	return strings.Join(pairs, "&")
}

// decodeName replaces %XX escapes of chars in name, matching hex digits
// case-insensitively.
func decodeName(name string, chars []byte) string {
	if !strings.Contains(name, "%") {
		return name
	}
	var b strings.Builder
	b.Grow(len(name))
	for i := 0; i < len(name); i++ {
		if name[i] == '%' && i+2 < len(name) {
			if c, ok := unescapeHex(name[i+1], name[i+2]); ok && slices.Contains(chars, c) {
				b.WriteByte(c)
				i += 2
				continue
			}
		}
		b.WriteByte(name[i])
	}
	return b.String()
}

func unescapeHex(hi, lo byte) (byte, bool) {
	h, ok1 := fromHex(hi)
	l, ok2 := fromHex(lo)
	return h<<4 | l, ok1 && ok2
}

func fromHex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

type parametersNameDecodingHandler struct {
	next     Handler
	defaults *ParametersNameDecodingOption
}

func newParametersNameDecodingHandler(next Handler, cfg *internalConfig) *parametersNameDecodingHandler {
	return &parametersNameDecodingHandler{next: next, defaults: cfg.ParametersNameDecoding}
}

func (h *parametersNameDecodingHandler) Handle(
	req *http.Request,
	opts abstractions.RequestOptions,
) (*http.Response, error) {
	opt := resolveOption(opts, abstractions.OptionKindParametersNameDecoding, h.defaults)
	if !opt.Enabled || len(opt.Characters) == 0 {
		return h.next.Handle(req, opts)
	}
	query := decodeQueryNames(req.URL.RawQuery, opt.Characters)
	if query == req.URL.RawQuery {
		return h.next.Handle(req, opts)
	}

	out := req.Clone(req.Context())
	out.URL.RawQuery = query
	return h.next.Handle(out, opts)
}
