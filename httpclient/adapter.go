package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kroma-labs/sentinel-apiclient/abstractions"
	"github.com/kroma-labs/sentinel-apiclient/serialization"
)

const (
	wwwAuthenticateHeader = "WWW-Authenticate"

	eventResponseHandlerInvoked = "response_handler_invoked"
	eventAuthChallengeReceived  = "authenticate_challenge_received"
)

var (
	claimsPattern = regexp.MustCompile(`claims="([^"]+)"`)

	// queryExpression matches the {?...} and {&...} expressions of a URL
	// template.
	queryExpression = regexp.MustCompile(`\{[?&][^}]*\}`)
)

// authAttempt tracks whether a call already answered a claims challenge.
type authAttempt int

const (
	firstAttempt authAttempt = iota
	retriedWithClaims
)

// RequestAdapter authenticates request descriptions, sends them through a
// Pipeline and decodes the responses into the shape each call asks for.
//
// A RequestAdapter is safe for concurrent use.
//
// Example:
//
//	adapter, err := httpclient.NewRequestAdapter(provider,
//	    httpclient.WithBaseURL("https://api.example.com/v1"),
//	    httpclient.WithServiceName("users-api"),
//	)
//	if err != nil {
//	    return err
//	}
//	info := abstractions.NewRequestInformationFor(http.MethodGet, "{+baseurl}/users/{id}",
//	    map[string]string{"id": "42"})
//	user, err := adapter.Send(ctx, info, NewUserFromNode, abstractions.ErrorMappings{"4XX": NewProblemFromNode})
type RequestAdapter struct {
	auth     abstractions.AuthenticationProvider
	pipeline *Pipeline
	cfg      *internalConfig
	factory  abstractions.ParseNodeFactory
	tracer   trace.Tracer
	logger   zerolog.Logger

	mu      sync.RWMutex
	baseURL string
}

// NewRequestAdapter creates an adapter that authenticates every call with auth.
//
// Without WithParseNodeFactory responses are decoded by
// serialization.DefaultParseNodeFactoryRegistry. Invalid handler defaults are
// reported as ErrInvalidOption.
func NewRequestAdapter(
	auth abstractions.AuthenticationProvider,
	opts ...Option,
) (*RequestAdapter, error) {
	if auth == nil {
		return nil, ErrNilAuthenticationProvider
	}

	cfg := newConfig(opts...)
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	factory := cfg.ParseNodeFactory
	if factory == nil {
		factory = serialization.DefaultParseNodeFactoryRegistry()
	}

	tracer := cfg.Tracer
	if name := cfg.Observability.TracerName; name != "" {
		tracer = cfg.TracerProvider.Tracer(name)
	}

	return &RequestAdapter{
		auth:     auth,
		pipeline: newPipeline(cfg),
		cfg:      cfg,
		factory:  factory,
		tracer:   tracer,
		logger:   cfg.Logger.With().Str("component", "request_adapter").Logger(),
		baseURL:  cfg.BaseURL,
	}, nil
}

// BaseURL returns the URL substituted for {+baseurl} in URL templates.
func (a *RequestAdapter) BaseURL() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.baseURL
}

// SetBaseURL replaces the base URL. A trailing slash is removed.
func (a *RequestAdapter) SetBaseURL(baseURL string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.baseURL = strings.TrimRight(baseURL, "/")
}

// ParseNodeFactory returns the factory used to decode responses.
func (a *RequestAdapter) ParseNodeFactory() abstractions.ParseNodeFactory {
	return a.factory
}

// Send decodes the response body as a single object built by factory.
func (a *RequestAdapter) Send(
	ctx context.Context,
	info *abstractions.RequestInformation,
	factory abstractions.ParsableFactory,
	mappings abstractions.ErrorMappings,
) (abstractions.Parsable, error) {
	if factory == nil {
		return nil, ErrNilFactory
	}
	return execute(ctx, a, info, mappings, shape[abstractions.Parsable]{
		operation: "Send",
		expected:  "abstractions.Parsable",
		cast:      castTo[abstractions.Parsable],
		decode: func(node abstractions.ParseNode, _ []byte) (abstractions.Parsable, error) {
			return node.GetObjectValue(factory)
		},
	})
}

// SendCollection decodes the response body as an array of objects.
func (a *RequestAdapter) SendCollection(
	ctx context.Context,
	info *abstractions.RequestInformation,
	factory abstractions.ParsableFactory,
	mappings abstractions.ErrorMappings,
) ([]abstractions.Parsable, error) {
	if factory == nil {
		return nil, ErrNilFactory
	}
	return execute(ctx, a, info, mappings, shape[[]abstractions.Parsable]{
		operation: "SendCollection",
		expected:  "[]abstractions.Parsable",
		cast:      castTo[[]abstractions.Parsable],
		decode: func(node abstractions.ParseNode, _ []byte) ([]abstractions.Parsable, error) {
			return node.GetCollectionOfObjectValues(factory)
		},
	})
}

// SendPrimitive decodes the response body as a scalar of kind. The result is
// nil for 204 and empty bodies, and a []byte for PrimitiveByteStream, which
// needs no Content-Type.
func (a *RequestAdapter) SendPrimitive(
	ctx context.Context,
	info *abstractions.RequestInformation,
	kind abstractions.PrimitiveKind,
	mappings abstractions.ErrorMappings,
) (any, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %s", abstractions.ErrUnsupportedPrimitiveKind, kind)
	}
	return execute(ctx, a, info, mappings, shape[any]{
		operation: "SendPrimitive",
		expected:  kind.String(),
		raw:       kind == abstractions.PrimitiveByteStream,
		cast: func(v any) (any, bool) {
			return v, primitiveMatches(kind, v)
		},
		decode: func(node abstractions.ParseNode, body []byte) (any, error) {
			if kind == abstractions.PrimitiveByteStream {
				return body, nil
			}
			return abstractions.PrimitiveValue(node, kind)
		},
	})
}

// SendPrimitiveCollection decodes the response body as an array of scalars of kind.
func (a *RequestAdapter) SendPrimitiveCollection(
	ctx context.Context,
	info *abstractions.RequestInformation,
	kind abstractions.PrimitiveKind,
	mappings abstractions.ErrorMappings,
) ([]any, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %s", abstractions.ErrUnsupportedPrimitiveKind, kind)
	}
	return execute(ctx, a, info, mappings, shape[[]any]{
		operation: "SendPrimitiveCollection",
		expected:  "[]" + kind.String(),
		cast:      castTo[[]any],
		decode: func(node abstractions.ParseNode, _ []byte) ([]any, error) {
			return node.GetCollectionOfPrimitiveValues(kind)
		},
	})
}

// SendEnum decodes the response body as an enum member parsed by parser.
func (a *RequestAdapter) SendEnum(
	ctx context.Context,
	info *abstractions.RequestInformation,
	parser abstractions.EnumFactory,
	mappings abstractions.ErrorMappings,
) (any, error) {
	if parser == nil {
		return nil, ErrNilFactory
	}
	return execute(ctx, a, info, mappings, shape[any]{
		operation: "SendEnum",
		expected:  "enum value",
		cast:      func(v any) (any, bool) { return v, true },
		decode: func(node abstractions.ParseNode, _ []byte) (any, error) {
			return node.GetEnumValue(parser)
		},
	})
}

// SendEnumCollection decodes the response body as an array of enum members.
func (a *RequestAdapter) SendEnumCollection(
	ctx context.Context,
	info *abstractions.RequestInformation,
	parser abstractions.EnumFactory,
	mappings abstractions.ErrorMappings,
) ([]any, error) {
	if parser == nil {
		return nil, ErrNilFactory
	}
	return execute(ctx, a, info, mappings, shape[[]any]{
		operation: "SendEnumCollection",
		expected:  "[]enum value",
		cast:      castTo[[]any],
		decode: func(node abstractions.ParseNode, _ []byte) ([]any, error) {
			return node.GetCollectionOfEnumValues(parser)
		},
	})
}

// SendNoContent sends the request and discards the response body. A
// ResponseHandler registered for the call must return nil.
func (a *RequestAdapter) SendNoContent(
	ctx context.Context,
	info *abstractions.RequestInformation,
	mappings abstractions.ErrorMappings,
) error {
	_, err := execute(ctx, a, info, mappings, shape[struct{}]{
		operation: "SendNoContent",
		expected:  "nil",
		cast:      func(any) (struct{}, bool) { return struct{}{}, false },
	})
	return err
}

// ConvertToNativeRequest authenticates info and returns the *http.Request the
// adapter would send, without sending it.
func (a *RequestAdapter) ConvertToNativeRequest(
	ctx context.Context,
	info *abstractions.RequestInformation,
) (*http.Request, error) {
	if info == nil {
		return nil, ErrNilRequestInformation
	}
	ctx, span := a.tracer.Start(ctx, "ConvertToNativeRequest")
	defer span.End()

	a.setBaseURLParameter(info)
	if err := a.auth.AuthenticateRequest(ctx, info, nil); err != nil {
		err = fmt.Errorf("authenticate request: %w", err)
		setSpanError(span, err, "")
		return nil, err
	}
	req, err := a.toNativeRequest(ctx, info)
	if err != nil {
		setSpanError(span, err, "")
	}
	return req, err
}

// shape describes the result an adapter operation promises.
type shape[T any] struct {
	operation string
	expected  string

	// raw hands decode the body without a parse node.
	raw bool

	// cast checks a ResponseHandler result.
	cast func(v any) (T, bool)

	// decode reads a non-empty success body. Nil discards the body.
	decode func(node abstractions.ParseNode, body []byte) (T, error)
}

func castTo[T any](v any) (T, bool) {
	out, ok := v.(T)
	return out, ok
}

// execute runs one adapter call: send with re-authentication, then either
// the call's ResponseHandler or status classification and decoding.
func execute[T any](
	ctx context.Context,
	a *RequestAdapter,
	info *abstractions.RequestInformation,
	mappings abstractions.ErrorMappings,
	s shape[T],
) (T, error) {
	var zero T
	if info == nil {
		return zero, ErrNilRequestInformation
	}

	ctx, span := a.startSpan(ctx, info, s.operation)
	defer span.End()

	if timeout := a.cfg.httpConfig.Timeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := a.getHTTPResponse(ctx, info, firstAttempt, "")
	if err != nil {
		return zero, a.fail(span, err)
	}

	if handler := responseHandlerOf(info); handler != nil {
		span.AddEvent(eventResponseHandlerInvoked)
		v, err := handler.HandleResponse(ctx, resp, mappings)
		if err != nil {
			return zero, a.fail(span, err)
		}
		if v == nil {
			return zero, nil
		}
		out, ok := s.cast(v)
		if !ok {
			return zero, a.fail(span, &ContractViolationError{
				Operation: s.operation,
				Expected:  s.expected,
				Actual:    v,
			})
		}
		return out, nil
	}

	defer drainBody(resp)

	if err := a.throwIfFailedResponse(ctx, resp, mappings); err != nil {
		return zero, a.fail(span, err)
	}
	if s.decode == nil || resp.StatusCode == http.StatusNoContent {
		return zero, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return zero, a.fail(span, fmt.Errorf("read response body: %w", err))
	}
	if len(body) == 0 {
		return zero, nil
	}

	var node abstractions.ParseNode
	if !s.raw {
		if node, err = a.rootParseNode(resp, body); err != nil {
			return zero, a.fail(span, err)
		}
	}
	out, err := s.decode(node, body)
	if err != nil {
		return zero, a.fail(span, fmt.Errorf("decode %s response: %w", s.expected, err))
	}
	return out, nil
}

// getHTTPResponse authenticates info, sends it and answers a claims
// challenge once.
func (a *RequestAdapter) getHTTPResponse(
	ctx context.Context,
	info *abstractions.RequestInformation,
	attempt authAttempt,
	claims string,
) (*http.Response, error) {
	ctx, span := a.tracer.Start(ctx, "getHTTPResponse")
	defer span.End()

	a.setBaseURLParameter(info)

	var authContext map[string]any
	if attempt == retriedWithClaims {
		authContext = map[string]any{abstractions.ClaimsKey: claims}
	}
	if err := a.auth.AuthenticateRequest(ctx, info, authContext); err != nil {
		return nil, fmt.Errorf("authenticate request: %w", err)
	}

	req, err := a.toNativeRequest(ctx, info)
	if err != nil {
		return nil, err
	}

	resp, err := a.pipeline.Handle(req, info.GetRequestOptions())
	var bad *BadResponseError
	if errors.As(err, &bad) && bad.Response != nil {
		resp, err = bad.Response, nil
	}
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	return a.retryCAEResponseIfRequired(ctx, resp, info, attempt)
}

// retryCAEResponseIfRequired resends a request answered with a 401 claims
// challenge, unless it was already resent or its body cannot be replayed.
func (a *RequestAdapter) retryCAEResponseIfRequired(
	ctx context.Context,
	resp *http.Response,
	info *abstractions.RequestInformation,
	attempt authAttempt,
) (*http.Response, error) {
	if attempt == retriedWithClaims || resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	claims := challengeClaims(resp.Header)
	if claims == "" {
		return resp, nil
	}
	if err := info.RewindContent(); err != nil {
		a.logger.Warn().Err(err).Msg("claims challenge not answered: request content cannot be replayed")
		return resp, nil
	}

	drainBody(resp)
	trace.SpanFromContext(ctx).AddEvent(eventAuthChallengeReceived)
	a.cfg.Metrics.recordReauth(ctx, a.cfg.baseAttributes())
	a.logger.Debug().Msg("answering claims challenge")

	return a.getHTTPResponse(ctx, info, retriedWithClaims, claims)
}

// challengeClaims extracts the claims of a WWW-Authenticate challenge.
func challengeClaims(h http.Header) string {
	for _, v := range h.Values(wwwAuthenticateHeader) {
		if m := claimsPattern.FindStringSubmatch(v); m != nil {
			return m[1]
		}
	}
	return ""
}

func (a *RequestAdapter) setBaseURLParameter(info *abstractions.RequestInformation) {
	if info.PathParameters == nil {
		info.PathParameters = make(map[string]string)
	}
	info.PathParameters[abstractions.BaseURLKey] = a.BaseURL()
}

// toNativeRequest builds the *http.Request for info. Seekable content is
// replayable through GetBody.
func (a *RequestAdapter) toNativeRequest(
	ctx context.Context,
	info *abstractions.RequestInformation,
) (*http.Request, error) {
	u, err := info.GetURI()
	if err != nil {
		return nil, fmt.Errorf("build request uri: %w", err)
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("http.request.method", info.Method),
		attribute.String("url.scheme", u.Scheme),
	)
	if a.includeEUII(info) {
		span.SetAttributes(attribute.String("url.full", u.Redacted()))
	}

	req, err := http.NewRequestWithContext(ctx, info.Method, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range info.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	if err := setRequestContent(req, info.Content); err != nil {
		return nil, err
	}
	if req.ContentLength > 0 {
		span.SetAttributes(attribute.Int64("http.request.body.size", req.ContentLength))
	}
	return req, nil
}

// setRequestContent sets content as the body of req. Content that is an
// io.ReaderAt gets independent copies from GetBody.
func setRequestContent(req *http.Request, content io.Reader) error {
	if content == nil {
		return nil
	}
	seeker, ok := content.(io.ReadSeeker)
	if !ok {
		req.Body = io.NopCloser(content)
		return nil
	}

	size, err := seeker.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("measure request content: %w", err)
	}
	if _, err := seeker.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind request content: %w", err)
	}
	if size == 0 {
		req.Body = http.NoBody
		req.GetBody = func() (io.ReadCloser, error) { return http.NoBody, nil }
		return nil
	}

	req.ContentLength = size
	if ra, ok := content.(io.ReaderAt); ok {
		// Each copy reads at its own offset.
		req.Body = io.NopCloser(io.NewSectionReader(ra, 0, size))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(io.NewSectionReader(ra, 0, size)), nil
		}
		return nil
	}

	req.Body = io.NopCloser(seeker)
	req.GetBody = func() (io.ReadCloser, error) {
		if _, err := seeker.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		return io.NopCloser(seeker), nil
	}
	return nil
}

// rootParseNode picks the parse node factory by the media type of the
// Content-Type header, ignoring its parameters.
func (a *RequestAdapter) rootParseNode(resp *http.Response, body []byte) (abstractions.ParseNode, error) {
	contentType := mediaType(resp.Header.Get("Content-Type"))
	if contentType == "" {
		return nil, &NoContentTypeError{StatusCode: resp.StatusCode}
	}
	return a.factory.GetRootParseNode(contentType, body)
}

func (a *RequestAdapter) startSpan(
	ctx context.Context,
	info *abstractions.RequestInformation,
	operation string,
) (context.Context, trace.Span) {
	template := DecodeParameterNames(info.URLTemplate, DefaultDecodedCharacters)
	path := queryExpression.ReplaceAllString(template, "")
	return a.tracer.Start(ctx, operation+" - "+path,
		trace.WithAttributes(attribute.String("http.uri_template", template)),
	)
}

func (a *RequestAdapter) includeEUII(info *abstractions.RequestInformation) bool {
	opt := resolveOption(info.GetRequestOptions(), abstractions.OptionKindObservability, a.cfg.Observability)
	return opt != nil && opt.IncludeEUIIAttributes
}

// fail records err on span and returns it.
func (a *RequestAdapter) fail(span trace.Span, err error) error {
	errorType := classifyError(err)
	var respErr abstractions.ResponseError
	if errors.As(err, &respErr) {
		errorType = errorTypeFromStatusCode(respErr.ResponseStatusCode())
	}
	setSpanError(span, err, errorType)
	return err
}

// primitiveMatches reports whether v has the Go type decoded for kind.
func primitiveMatches(kind abstractions.PrimitiveKind, v any) bool {
	switch v.(type) {
	case int64:
		return kind == abstractions.PrimitiveInt64
	case float64:
		return kind == abstractions.PrimitiveFloat64
	case bool:
		return kind == abstractions.PrimitiveBool
	case string:
		return kind == abstractions.PrimitiveString
	case time.Time:
		return kind == abstractions.PrimitiveDateTime
	case abstractions.DateOnly:
		return kind == abstractions.PrimitiveDateOnly
	case abstractions.TimeOnly:
		return kind == abstractions.PrimitiveTimeOnly
	case abstractions.ISODuration:
		return kind == abstractions.PrimitiveDuration
	case []byte:
		return kind == abstractions.PrimitiveByteStream
	}
	return false
}

func responseHandlerOf(info *abstractions.RequestInformation) abstractions.ResponseHandler {
	opt := resolveOption[*abstractions.ResponseHandlerOption](
		info.GetRequestOptions(), abstractions.OptionKindResponseHandler, nil)
	if opt == nil {
		return nil
	}
	return opt.Handler
}
