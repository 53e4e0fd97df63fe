package abstractions

import "context"

// ClaimsKey is the additional-context key carrying the claims extracted from a
// WWW-Authenticate challenge.
const ClaimsKey = "claims"

// AuthenticationProvider authenticates a request description before it is sent,
// typically by setting the Authorization header.
//
// additionalAuthenticationContext is nil on the first attempt. On a
// re-authentication it carries ClaimsKey.
type AuthenticationProvider interface {
	AuthenticateRequest(
		ctx context.Context,
		request *RequestInformation,
		additionalAuthenticationContext map[string]any,
	) error
}

// AnonymousAuthenticationProvider leaves requests untouched.
type AnonymousAuthenticationProvider struct{}

// AuthenticateRequest implements AuthenticationProvider.
func (AnonymousAuthenticationProvider) AuthenticateRequest(
	_ context.Context,
	_ *RequestInformation,
	_ map[string]any,
) error {
	return nil
}
