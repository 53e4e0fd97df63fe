package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/kroma-labs/sentinel-apiclient/abstractions"
)

const (
	// scope is the instrumentation scope name for OpenTelemetry.
	scope = "github.com/kroma-labs/sentinel-apiclient/httpclient"
)

// ErrInvalidOption is returned when a handler option is outside its allowed range.
var ErrInvalidOption = errors.New("httpclient: invalid option")

// =============================================================================
// Config - HTTP Transport Configuration
// =============================================================================

// Config tunes the http.Transport at the end of the pipeline.
// Start from DefaultConfig() or one of the presets and adjust fields.
//
// Example:
//
//	cfg := httpclient.DefaultConfig()
//	cfg.Timeout = 5 * time.Second
//
//	adapter, err := httpclient.NewRequestAdapter(auth,
//	    httpclient.WithConfig(cfg),
//	)
type Config struct {
	// Timeout bounds one adapter call end to end, resends and body read
	// included. Zero disables it.
	//
	// Default: 30s
	Timeout time.Duration

	// MaxIdleConns caps idle keep-alive connections across all hosts.
	//
	// Default: 100
	MaxIdleConns int

	// MaxIdleConnsPerHost caps idle connections kept per host. Generated
	// clients usually talk to one API host, so keep this close to MaxIdleConns.
	//
	// Default: 20
	MaxIdleConnsPerHost int

	// MaxConnsPerHost caps idle plus active connections per host.
	// Zero means unlimited.
	//
	// Default: 100
	MaxConnsPerHost int

	// IdleConnTimeout is how long an idle connection stays pooled.
	//
	// Default: 90s
	IdleConnTimeout time.Duration

	// TLSHandshakeTimeout bounds the TLS handshake.
	//
	// Default: 10s
	TLSHandshakeTimeout time.Duration

	// ExpectContinueTimeout bounds the wait for "100 Continue".
	//
	// Default: 1s
	ExpectContinueTimeout time.Duration

	// ResponseHeaderTimeout bounds the wait for response headers once the
	// request is written. Zero leaves it to Timeout.
	ResponseHeaderTimeout time.Duration

	// DialTimeout bounds TCP connection establishment.
	//
	// Default: 5s
	DialTimeout time.Duration

	// KeepAlive is the TCP keep-alive interval.
	//
	// Default: 30s
	KeepAlive time.Duration

	// FallbackDelay is the RFC 6555 dual-stack fallback delay. Negative
	// disables it.
	//
	// Default: 300ms
	FallbackDelay time.Duration

	// WriteBufferSize and ReadBufferSize size the per-connection buffers.
	//
	// Default: 64KB each
	WriteBufferSize int
	ReadBufferSize  int

	// MaxResponseHeaderBytes limits response header size. Zero uses the
	// net/http default.
	MaxResponseHeaderBytes int64

	// DisableKeepAlives forces a new connection per request.
	DisableKeepAlives bool

	// ForceHTTP2 attempts HTTP/2 even with a custom dialer or TLS config.
	ForceHTTP2 bool
}

// DefaultConfig returns balanced settings for a typical API client.
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,

		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     100,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		DialTimeout:   5 * time.Second,
		KeepAlive:     30 * time.Second,
		FallbackDelay: 300 * time.Millisecond,

		WriteBufferSize: 64 * 1024,
		ReadBufferSize:  64 * 1024,
	}
}

// HighThroughputConfig raises pool limits and buffers for clients that keep
// many calls in flight against the same API.
func HighThroughputConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 60 * time.Second
	cfg.MaxIdleConns = 500
	cfg.MaxIdleConnsPerHost = 100
	cfg.MaxConnsPerHost = 0
	cfg.IdleConnTimeout = 120 * time.Second
	cfg.WriteBufferSize = 128 * 1024
	cfg.ReadBufferSize = 128 * 1024
	return cfg
}

// LowLatencyConfig fails fast. Pair it with a small RetryOption delay.
func LowLatencyConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 10 * time.Second
	cfg.MaxIdleConns = 50
	cfg.MaxIdleConnsPerHost = 25
	cfg.MaxConnsPerHost = 50
	cfg.IdleConnTimeout = 60 * time.Second
	cfg.TLSHandshakeTimeout = 5 * time.Second
	cfg.ExpectContinueTimeout = 500 * time.Millisecond
	cfg.ResponseHeaderTimeout = 3 * time.Second
	cfg.DialTimeout = 2 * time.Second
	cfg.KeepAlive = 15 * time.Second
	cfg.FallbackDelay = 150 * time.Millisecond
	cfg.WriteBufferSize = 32 * 1024
	cfg.ReadBufferSize = 32 * 1024
	cfg.ForceHTTP2 = true
	return cfg
}

// ConservativeConfig keeps the pool and buffers small, for serverless
// functions and processes that hold many adapters.
func ConservativeConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 20 * time.Second
	cfg.MaxIdleConns = 20
	cfg.MaxIdleConnsPerHost = 5
	cfg.MaxConnsPerHost = 20
	cfg.IdleConnTimeout = 30 * time.Second
	cfg.WriteBufferSize = 4 * 1024
	cfg.ReadBufferSize = 4 * 1024
	return cfg
}

// =============================================================================
// Internal Configuration
// =============================================================================

// internalConfig holds transport, telemetry and handler settings shared by
// the pipeline and the request adapter.
type internalConfig struct {
	httpConfig Config

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	Metrics        *metrics
	Propagators    propagation.TextMapPropagator

	// ServiceName is reported as "http.client.name" and names the breaker.
	ServiceName string

	// EnableNetworkTrace records DNS, connect and TLS timings on the send span.
	EnableNetworkTrace bool

	TLSConfig            *tls.Config
	ProxyURL             *url.URL
	ProxyFromEnvironment bool

	Logger zerolog.Logger
	Debug  bool

	// Transport replaces the http.Transport built from httpConfig.
	Transport http.RoundTripper

	// HTTPErrors makes the executor fail responses with status >= 400.
	HTTPErrors bool

	BreakerConfig   *BreakerConfig
	RateLimitConfig *RateLimitConfig

	// Handler defaults. A nil opt-in option leaves its handler out of the chain.
	Retry                  *RetryOption
	Redirect               *RedirectOption
	UserAgent              *UserAgentOption
	ParametersNameDecoding *ParametersNameDecodingOption
	HeadersInspection      *HeadersInspectionOption
	Compression            *CompressionOption
	Chaos                  *ChaosOption
	URLReplace             *URLReplaceOption
	Observability          *ObservabilityOption

	BaseURL          string
	ParseNodeFactory abstractions.ParseNodeFactory

	// sleep waits between resends. Tests replace it.
	sleep func(ctx context.Context, d time.Duration) error
}

// newConfig creates a config with defaults and applies opts.
func newConfig(opts ...Option) *internalConfig {
	cfg := &internalConfig{
		httpConfig:     DefaultConfig(),
		TracerProvider: otel.GetTracerProvider(),
		MeterProvider:  otel.GetMeterProvider(),

		EnableNetworkTrace:   true,
		ProxyFromEnvironment: true,
		Logger:               zerolog.Nop(),
		HTTPErrors:           true,

		Retry:                  DefaultRetryOption(),
		Redirect:               DefaultRedirectOption(),
		UserAgent:              DefaultUserAgentOption(),
		ParametersNameDecoding: DefaultParametersNameDecodingOption(),
		Observability:          &ObservabilityOption{},

		sleep: sleepContext,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Propagators == nil {
		cfg.Propagators = propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		)
	}
	if cfg.Debug {
		cfg.Logger = debugLogger.Level(zerolog.DebugLevel)
	}

	cfg.Tracer = cfg.TracerProvider.Tracer(scope)
	cfg.Meter = cfg.MeterProvider.Meter(scope)

	// A failed instrument registration leaves Metrics nil, which every
	// recorder tolerates.
	cfg.Metrics, _ = newMetrics(cfg.Meter)

	return cfg
}

// validate checks handler defaults against their documented bounds.
func (cfg *internalConfig) validate() error {
	var errs []error
	if cfg.Retry != nil {
		errs = append(errs, cfg.Retry.Validate())
	}
	if cfg.Redirect != nil {
		errs = append(errs, cfg.Redirect.Validate())
	}
	if cfg.Chaos != nil {
		errs = append(errs, cfg.Chaos.Validate())
	}
	return errors.Join(errs...)
}

// buildTransport creates an http.Transport from the configuration.
//
// Compression is handled by the compression handler, so the transport never
// negotiates gzip on its own.
func (cfg *internalConfig) buildTransport() *http.Transport {
	hc := cfg.httpConfig

	dialer := &net.Dialer{
		Timeout:       hc.DialTimeout,
		KeepAlive:     hc.KeepAlive,
		FallbackDelay: hc.FallbackDelay,
	}

	transport := &http.Transport{
		DialContext:            dialer.DialContext,
		MaxIdleConns:           hc.MaxIdleConns,
		MaxIdleConnsPerHost:    hc.MaxIdleConnsPerHost,
		MaxConnsPerHost:        hc.MaxConnsPerHost,
		IdleConnTimeout:        hc.IdleConnTimeout,
		TLSHandshakeTimeout:    hc.TLSHandshakeTimeout,
		ResponseHeaderTimeout:  hc.ResponseHeaderTimeout,
		ExpectContinueTimeout:  hc.ExpectContinueTimeout,
		DisableKeepAlives:      hc.DisableKeepAlives,
		DisableCompression:     true,
		WriteBufferSize:        hc.WriteBufferSize,
		ReadBufferSize:         hc.ReadBufferSize,
		MaxResponseHeaderBytes: hc.MaxResponseHeaderBytes,
		TLSClientConfig:        cfg.TLSConfig,
		ForceAttemptHTTP2:      hc.ForceHTTP2,
	}

	if cfg.ProxyURL != nil {
		transport.Proxy = http.ProxyURL(cfg.ProxyURL)
	} else if cfg.ProxyFromEnvironment {
		transport.Proxy = http.ProxyFromEnvironment
	}

	return transport
}

// buildRoundTripper stacks rate limiting, circuit breaking and tracing over
// the base transport. Tracing is outermost so rejected calls are still spanned.
func (cfg *internalConfig) buildRoundTripper() http.RoundTripper {
	var rt http.RoundTripper
	if cfg.Transport != nil {
		rt = cfg.Transport
	} else {
		rt = cfg.buildTransport()
	}
	if cfg.Debug {
		rt = newDebugTransport(rt, cfg.Logger)
	}
	if cfg.RateLimitConfig != nil {
		rt = newRateLimitTransport(rt, *cfg.RateLimitConfig)
	}
	rt = newCircuitBreakerTransport(rt, cfg)
	return newOtelTransport(rt, cfg)
}

// baseAttributes returns common attributes for spans and metrics.
func (cfg *internalConfig) baseAttributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 1)
	if cfg.ServiceName != "" {
		attrs = append(attrs, attribute.String("http.client.name", cfg.ServiceName))
	}
	return attrs
}

// =============================================================================
// Options
// =============================================================================

// Option configures a Pipeline or a RequestAdapter.
type Option func(*internalConfig)

// WithConfig sets the transport configuration.
func WithConfig(c Config) Option {
	return func(cfg *internalConfig) {
		cfg.httpConfig = c
	}
}

// WithServiceName identifies this client in telemetry as "http.client.name".
// It also names the circuit breaker, so instances sharing a Redis store must
// use the same name.
func WithServiceName(name string) Option {
	return func(cfg *internalConfig) {
		cfg.ServiceName = name
	}
}

// WithTracerProvider sets the TracerProvider. The global provider is used
// otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *internalConfig) {
		cfg.TracerProvider = tp
	}
}

// WithMeterProvider sets the MeterProvider. The global provider is used
// otherwise.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *internalConfig) {
		cfg.MeterProvider = mp
	}
}

// WithPropagators replaces the W3C TraceContext and Baggage propagators.
func WithPropagators(p propagation.TextMapPropagator) Option {
	return func(cfg *internalConfig) {
		cfg.Propagators = p
	}
}

// WithDisableNetworkTrace stops recording DNS, connect and TLS timings.
func WithDisableNetworkTrace() Option {
	return func(cfg *internalConfig) {
		cfg.EnableNetworkTrace = false
	}
}

// WithTLSConfig sets the TLS configuration of the built transport.
func WithTLSConfig(tlsCfg *tls.Config) Option {
	return func(cfg *internalConfig) {
		cfg.TLSConfig = tlsCfg
	}
}

// WithProxyURL routes every request through proxyURL.
func WithProxyURL(proxyURL *url.URL) Option {
	return func(cfg *internalConfig) {
		cfg.ProxyURL = proxyURL
		cfg.ProxyFromEnvironment = false
	}
}

// WithProxyFromEnvironment toggles HTTP_PROXY, HTTPS_PROXY and NO_PROXY.
//
// Default: true
func WithProxyFromEnvironment(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.ProxyFromEnvironment = enabled
	}
}

// WithLogger sets the logger handlers use for resends, fallbacks and
// injected faults.
//
// Default: zerolog.Nop()
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *internalConfig) {
		cfg.Logger = logger
	}
}

// WithDebug logs every request as a cURL command together with its response
// status to stderr. Authorization values are masked.
func WithDebug() Option {
	return func(cfg *internalConfig) {
		cfg.Debug = true
	}
}

// WithTransport replaces the transport built from Config, for example with
// a MockTransport in tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(cfg *internalConfig) {
		cfg.Transport = rt
	}
}

// WithHTTPErrors controls whether the executor turns status >= 400 into a
// *BadResponseError.
//
// Default: true
func WithHTTPErrors(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.HTTPErrors = enabled
	}
}

// WithBreaker guards the transport with a circuit breaker.
func WithBreaker(c BreakerConfig) Option {
	return func(cfg *internalConfig) {
		cfg.BreakerConfig = &c
	}
}

// WithRateLimit throttles outgoing requests, resends included.
func WithRateLimit(c RateLimitConfig) Option {
	return func(cfg *internalConfig) {
		cfg.RateLimitConfig = &c
	}
}

// WithRetry sets the default RetryOption. Nil removes the retry handler.
func WithRetry(o *RetryOption) Option {
	return func(cfg *internalConfig) {
		cfg.Retry = o
	}
}

// WithRedirect sets the default RedirectOption. Nil removes the redirect handler.
func WithRedirect(o *RedirectOption) Option {
	return func(cfg *internalConfig) {
		cfg.Redirect = o
	}
}

// WithUserAgent sets the default UserAgentOption. Nil removes the handler.
func WithUserAgent(o *UserAgentOption) Option {
	return func(cfg *internalConfig) {
		cfg.UserAgent = o
	}
}

// WithParametersNameDecoding sets the default ParametersNameDecodingOption.
// Nil removes the handler.
func WithParametersNameDecoding(o *ParametersNameDecodingOption) Option {
	return func(cfg *internalConfig) {
		cfg.ParametersNameDecoding = o
	}
}

// WithHeadersInspection sets a default HeadersInspectionOption shared by all
// calls. Per-call options usually fit better.
func WithHeadersInspection(o *HeadersInspectionOption) Option {
	return func(cfg *internalConfig) {
		cfg.HeadersInspection = o
	}
}

// WithCompression installs the compression handler with o as its default.
func WithCompression(o *CompressionOption) Option {
	return func(cfg *internalConfig) {
		cfg.Compression = o
	}
}

// WithChaos installs the chaos handler with o as its default. Never enable
// this in production.
func WithChaos(o *ChaosOption) Option {
	return func(cfg *internalConfig) {
		cfg.Chaos = o
	}
}

// WithURLReplace installs the URL replace handler with o as its default.
func WithURLReplace(o *URLReplaceOption) Option {
	return func(cfg *internalConfig) {
		cfg.URLReplace = o
	}
}

// WithObservability sets the default ObservabilityOption.
func WithObservability(o *ObservabilityOption) Option {
	return func(cfg *internalConfig) {
		if o != nil {
			cfg.Observability = o
		}
	}
}

// WithBaseURL sets the initial base URL of a RequestAdapter.
func WithBaseURL(baseURL string) Option {
	return func(cfg *internalConfig) {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithParseNodeFactory replaces the default JSON, CBOR and text registry.
func WithParseNodeFactory(f abstractions.ParseNodeFactory) Option {
	return func(cfg *internalConfig) {
		cfg.ParseNodeFactory = f
	}
}

func invalidOption(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidOption, fmt.Sprintf(format, args...))
}
