// Package abstractions defines the protocol-agnostic contracts shared by the
// request pipeline, the request adapter and generated API clients.
//
// A generated client describes a call with a RequestInformation: an HTTP
// method, an RFC 6570 URL template with path and query parameters, headers, an
// optional body and a bag of per-call RequestOptions. The adapter in package
// httpclient authenticates that description through an AuthenticationProvider,
// executes it and turns the response into Parsable values read from a
// ParseNode, or into an error that satisfies ResponseError.
//
// # Request Options
//
// Options are keyed by OptionKind, so at most one option per concern is active
// for a call:
//
//	info := abstractions.NewRequestInformationFor(http.MethodGet, "{+baseurl}/users{?%24top}", nil)
//	info.QueryParameters["%24top"] = "10"
//	info.AddRequestOptions(httpclient.NewRetryOption(httpclient.WithMaxRetries(5)))
//
// # Error Mappings
//
// ErrorMappings route a failed status to the factory of an error type. Lookup
// precedence is the exact code, then the class ("4XX", "5XX"), then the
// catch-all "XXX".
package abstractions
