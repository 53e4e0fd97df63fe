package authentication

import (
	"context"
	"fmt"
	"net/url"

	"golang.org/x/oauth2"
)

// Compile-time interface check.
var _ AccessTokenProvider = (*TokenSourceProvider)(nil)

// TokenSourceProvider adapts an oauth2.TokenSource. Claims are ignored; use a
// custom AccessTokenProvider when the identity platform supports claims
// challenges.
type TokenSourceProvider struct {
	source oauth2.TokenSource
}

// NewTokenSourceProvider wraps source. Wrap it in oauth2.ReuseTokenSource to
// cache tokens until they expire.
func NewTokenSourceProvider(source oauth2.TokenSource) *TokenSourceProvider {
	return &TokenSourceProvider{source: source}
}

// GetAuthorizationToken implements AccessTokenProvider.
func (p *TokenSourceProvider) GetAuthorizationToken(
	_ context.Context,
	_ *url.URL,
	_ map[string]any,
) (string, error) {
	tok, err := p.source.Token()
	if err != nil {
		return "", fmt.Errorf("oauth2 token: %w", err)
	}
	return tok.AccessToken, nil
}
