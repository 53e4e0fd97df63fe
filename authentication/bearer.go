// Package authentication provides bearer-token AuthenticationProviders for
// the request adapter.
//
// # Quick Start
//
//	provider := authentication.NewBearerTokenProvider(
//	    authentication.NewTokenSourceProvider(oauthConfig.TokenSource(ctx)),
//	    authentication.WithAllowedHosts("graph.example.com"),
//	)
//	adapter, err := httpclient.NewRequestAdapter(provider)
//
// Concurrent requests that need a token for the same host and claims share a
// single acquisition. Transient acquisition failures are retried with
// exponential backoff; wrap an error with backoff.Permanent to stop early.
package authentication

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/kroma-labs/sentinel-apiclient/abstractions"
)

const authorizationHeader = "Authorization"

var (
	// ErrNilRequest is returned when AuthenticateRequest receives no request.
	ErrNilRequest = errors.New("authentication: request is nil")

	// ErrInsecureScheme is returned when a token would be sent over plain HTTP
	// to a host other than localhost.
	ErrInsecureScheme = errors.New("authentication: only https is supported")
)

// AccessTokenProvider acquires an access token for uri.
//
// additionalContext carries abstractions.ClaimsKey after a claims challenge.
type AccessTokenProvider interface {
	GetAuthorizationToken(
		ctx context.Context,
		uri *url.URL,
		additionalContext map[string]any,
	) (string, error)
}

// AccessTokenProviderFunc adapts a function to AccessTokenProvider.
type AccessTokenProviderFunc func(
	ctx context.Context,
	uri *url.URL,
	additionalContext map[string]any,
) (string, error)

// GetAuthorizationToken implements AccessTokenProvider.
func (f AccessTokenProviderFunc) GetAuthorizationToken(
	ctx context.Context,
	uri *url.URL,
	additionalContext map[string]any,
) (string, error) {
	return f(ctx, uri, additionalContext)
}

// Option configures a BearerTokenProvider.
type Option func(*BearerTokenProvider)

// WithAllowedHosts restricts token attachment to the given hosts.
// An empty list allows every host.
func WithAllowedHosts(hosts ...string) Option {
	return func(p *BearerTokenProvider) {
		p.allowedHosts = NewAllowedHostsValidator(hosts...)
	}
}

// WithMaxAttempts bounds token acquisition attempts per request.
//
// Default: 3
func WithMaxAttempts(n uint) Option {
	return func(p *BearerTokenProvider) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithInitialInterval sets the first backoff interval between acquisition attempts.
//
// Default: 100ms
func WithInitialInterval(d time.Duration) Option {
	return func(p *BearerTokenProvider) {
		if d > 0 {
			p.initialInterval = d
		}
	}
}

// WithAcquireTimeout bounds one shared token acquisition, retries included.
// The acquisition is not cancelled when the caller that started it gives up.
//
// Default: 30s
func WithAcquireTimeout(d time.Duration) Option {
	return func(p *BearerTokenProvider) {
		if d > 0 {
			p.acquireTimeout = d
		}
	}
}

// WithLogger sets the logger used for acquisition failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *BearerTokenProvider) {
		p.logger = logger
	}
}

// Compile-time interface check.
var _ abstractions.AuthenticationProvider = (*BearerTokenProvider)(nil)

// BearerTokenProvider sets "Authorization: Bearer <token>" on requests.
type BearerTokenProvider struct {
	tokens          AccessTokenProvider
	allowedHosts    *AllowedHostsValidator
	maxAttempts     uint
	initialInterval time.Duration
	acquireTimeout  time.Duration
	logger          zerolog.Logger

	group singleflight.Group
}

// NewBearerTokenProvider creates a provider over tokens.
func NewBearerTokenProvider(tokens AccessTokenProvider, opts ...Option) *BearerTokenProvider {
	p := &BearerTokenProvider{
		tokens:          tokens,
		allowedHosts:    NewAllowedHostsValidator(),
		maxAttempts:     3,
		initialInterval: 100 * time.Millisecond,
		acquireTimeout:  30 * time.Second,
		logger:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AuthenticateRequest implements abstractions.AuthenticationProvider.
//
// A request that already carries an Authorization header is left alone unless
// claims are supplied, in which case the header is replaced with a token
// acquired for those claims.
func (p *BearerTokenProvider) AuthenticateRequest(
	ctx context.Context,
	request *abstractions.RequestInformation,
	additionalAuthenticationContext map[string]any,
) error {
	if request == nil {
		return ErrNilRequest
	}
	if request.Headers == nil {
		request.Headers = make(map[string][]string)
	}

	claims, _ := additionalAuthenticationContext[abstractions.ClaimsKey].(string)
	if claims != "" {
		request.Headers.Del(authorizationHeader)
	}
	if request.Headers.Get(authorizationHeader) != "" {
		return nil
	}

	uri, err := request.GetURI()
	if err != nil {
		return fmt.Errorf("authenticate request: %w", err)
	}
	if !p.allowedHosts.IsURLHostValid(uri) {
		return nil
	}
	if !strings.EqualFold(uri.Scheme, "https") && !isLocalhost(uri.Hostname()) {
		return ErrInsecureScheme
	}

	token, err := p.acquire(ctx, uri, claims, additionalAuthenticationContext)
	if err != nil {
		return fmt.Errorf("authenticate request: %w", err)
	}
	if token != "" {
		request.Headers.Set(authorizationHeader, "Bearer "+token)
	}
	return nil
}

// acquire fetches a token, sharing the fetch with concurrent callers for the
// same host and claims. The shared fetch outlives any single caller: each
// caller stops waiting when its own ctx is done.
func (p *BearerTokenProvider) acquire(
	ctx context.Context,
	uri *url.URL,
	claims string,
	additionalContext map[string]any,
) (string, error) {
	key := strings.ToLower(uri.Host) + "|" + claims

	ch := p.group.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.acquireTimeout)
		defer cancel()

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = p.initialInterval

		token, err := backoff.Retry(fetchCtx, func() (string, error) {
			return p.tokens.GetAuthorizationToken(fetchCtx, uri, additionalContext)
		},
			backoff.WithBackOff(b),
			backoff.WithMaxTries(p.maxAttempts),
			backoff.WithNotify(func(err error, delay time.Duration) {
				p.logger.Warn().
					Err(err).
					Str("host", uri.Host).
					Dur("retry.delay", delay).
					Msg("token acquisition failed, retrying")
			}),
		)
		return token, err
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		token, _ := res.Val.(string)
		return token, nil
	}
}

func isLocalhost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// AllowedHostsValidator checks request hosts against an allow list.
type AllowedHostsValidator struct {
	hosts map[string]struct{}
}

// NewAllowedHostsValidator creates a validator. No hosts means every host is valid.
func NewAllowedHostsValidator(hosts ...string) *AllowedHostsValidator {
	v := &AllowedHostsValidator{hosts: make(map[string]struct{}, len(hosts))}
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			v.hosts[h] = struct{}{}
		}
	}
	return v
}

// IsURLHostValid reports whether a token may be sent to u.
func (v *AllowedHostsValidator) IsURLHostValid(u *url.URL) bool {
	if u == nil {
		return false
	}
	if len(v.hosts) == 0 {
		return true
	}
	_, ok := v.hosts[strings.ToLower(u.Hostname())]
	return ok
}
