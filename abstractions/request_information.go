package abstractions

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/yosida95/uritemplate/v3"
)

const (
	// BaseURLKey is the path parameter the adapter fills with its base URL.
	BaseURLKey = "baseurl"

	// RawURLKey is the path parameter holding a fully expanded URL that
	// bypasses template expansion.
	RawURLKey = "request-raw-url"

	contentTypeHeader = "Content-Type"
)

var (
	// ErrEmptyURLTemplate is returned when neither a URI nor a URL template is set.
	ErrEmptyURLTemplate = errors.New("request information: url template is empty")

	// ErrMissingBaseURL is returned when a template references {+baseurl} but
	// no base URL has been provided.
	ErrMissingBaseURL = errors.New("request information: base url is missing")

	// ErrContentNotRewindable is returned by RewindContent for one-shot bodies.
	ErrContentNotRewindable = errors.New("request information: content cannot be rewound")
)

// RequestInformation is the protocol-agnostic description of a single call.
//
// The adapter only ever writes BaseURLKey into PathParameters; every other
// field is owned by the caller. Content must implement io.Seeker to be
// replayed by retries, compression fallback or re-authentication.
type RequestInformation struct {
	Method      string
	URLTemplate string

	PathParameters     map[string]string
	PathParametersAny  map[string]any
	QueryParameters    map[string]string
	QueryParametersAny map[string]any

	Headers http.Header
	Content io.Reader

	options RequestOptions
	uri     *url.URL
}

// NewRequestInformation returns an empty description with initialised maps.
func NewRequestInformation() *RequestInformation {
	return &RequestInformation{
		PathParameters:     make(map[string]string),
		PathParametersAny:  make(map[string]any),
		QueryParameters:    make(map[string]string),
		QueryParametersAny: make(map[string]any),
		Headers:            make(http.Header),
		options:            make(RequestOptions),
	}
}

// NewRequestInformationFor returns a description for method and urlTemplate,
// seeded with a copy of pathParameters.
func NewRequestInformationFor(
	method, urlTemplate string,
	pathParameters map[string]string,
) *RequestInformation {
	info := NewRequestInformation()
	info.Method = method
	info.URLTemplate = urlTemplate
	for k, v := range pathParameters {
		info.PathParameters[k] = v
	}
	return info
}

// SetURI pins an absolute URI, bypassing template expansion.
func (r *RequestInformation) SetURI(u url.URL) {
	r.uri = &u
}

// GetURI returns the absolute URI for the request, expanding URLTemplate with
// the path and query parameters unless SetURI or RawURLKey provided one.
func (r *RequestInformation) GetURI() (*url.URL, error) {
	if r.uri != nil {
		u := *r.uri
		return &u, nil
	}
	if raw, ok := r.PathParameters[RawURLKey]; ok && raw != "" {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse raw url: %w", err)
		}
		return u, nil
	}
	if r.URLTemplate == "" {
		return nil, ErrEmptyURLTemplate
	}
	if strings.Contains(r.URLTemplate, "{+"+BaseURLKey+"}") && r.PathParameters[BaseURLKey] == "" {
		if _, ok := r.PathParametersAny[BaseURLKey]; !ok {
			return nil, ErrMissingBaseURL
		}
	}

	tmpl, err := uritemplate.New(r.URLTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse url template: %w", err)
	}

	values := uritemplate.Values{}
	for k, v := range r.PathParameters {
		values.Set(k, uritemplate.String(v))
	}
	for k, v := range r.PathParametersAny {
		values.Set(k, templateValue(v))
	}
	for k, v := range r.QueryParameters {
		values.Set(k, uritemplate.String(v))
	}
	for k, v := range r.QueryParametersAny {
		values.Set(k, templateValue(v))
	}

	expanded, err := tmpl.Expand(values)
	if err != nil {
		return nil, fmt.Errorf("expand url template: %w", err)
	}
	u, err := url.Parse(expanded)
	if err != nil {
		return nil, fmt.Errorf("parse expanded url: %w", err)
	}
	return u, nil
}

// templateValue converts a typed parameter into a template value.
func templateValue(v any) uritemplate.Value {
	switch val := v.(type) {
	case string:
		return uritemplate.String(val)
	case []string:
		return uritemplate.List(val...)
	case bool:
		return uritemplate.String(strconv.FormatBool(val))
	case time.Time:
		return uritemplate.String(val.Format(time.RFC3339))
	case DateOnly:
		return uritemplate.String(val.String())
	case TimeOnly:
		return uritemplate.String(val.String())
	case ISODuration:
		return uritemplate.String(val.String())
	case fmt.Stringer:
		return uritemplate.String(val.String())
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		items := make([]string, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			items = append(items, fmt.Sprint(rv.Index(i).Interface()))
		}
		return uritemplate.List(items...)
	}
	return uritemplate.String(fmt.Sprint(v))
}

// AddRequestOptions registers opts, replacing options of the same kind.
func (r *RequestInformation) AddRequestOptions(opts ...RequestOption) {
	if r.options == nil {
		r.options = make(RequestOptions, len(opts))
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		r.options[opt.Kind()] = opt
	}
}

// RemoveRequestOptions drops the options of the given kinds.
func (r *RequestInformation) RemoveRequestOptions(kinds ...OptionKind) {
	for _, kind := range kinds {
		delete(r.options, kind)
	}
}

// GetRequestOptions returns a copy of the registered options.
func (r *RequestInformation) GetRequestOptions() RequestOptions {
	return r.options.With(nil)
}

// SetContentFromBytes sets a replayable body and its content type.
func (r *RequestInformation) SetContentFromBytes(contentType string, body []byte) {
	r.ensureHeaders()
	r.Headers.Set(contentTypeHeader, contentType)
	r.Content = bytes.NewReader(body)
}

// SetStreamContent sets a binary body. Pass an io.ReadSeeker to keep it replayable.
func (r *RequestInformation) SetStreamContent(body io.Reader) {
	r.ensureHeaders()
	r.Headers.Set(contentTypeHeader, "application/octet-stream")
	r.Content = body
}

// SetJSONContent encodes v as the JSON request body.
func (r *RequestInformation) SetJSONContent(v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode json content: %w", err)
	}
	r.SetContentFromBytes("application/json", body)
	return nil
}

// ContentRewindable reports whether the body can be replayed.
func (r *RequestInformation) ContentRewindable() bool {
	if r.Content == nil {
		return true
	}
	_, ok := r.Content.(io.Seeker)
	return ok
}

// RewindContent seeks the body back to its start.
func (r *RequestInformation) RewindContent() error {
	if r.Content == nil {
		return nil
	}
	seeker, ok := r.Content.(io.Seeker)
	if !ok {
		return ErrContentNotRewindable
	}
	_, err := seeker.Seek(0, io.SeekStart)
	return err
}

func (r *RequestInformation) ensureHeaders() {
	if r.Headers == nil {
		r.Headers = make(http.Header)
	}
}
