// Package httpclient executes API requests described by
// abstractions.RequestInformation: a RequestAdapter authenticates them, sends
// them through an ordered middleware Pipeline and decodes the responses.
//
// # Features
//
//   - Retries on 429, 503 and 504 honoring Retry-After, with exponential backoff
//   - Redirect following with credential stripping across hosts
//   - Request compression (gzip, zstd) with a single uncompressed resend on 415
//   - Per-call options overriding the adapter defaults
//   - Continuous access evaluation: one resend with fresh claims on a 401 challenge
//   - Error mapping of failure statuses to caller-defined error types
//   - OpenTelemetry tracing and metrics, optional circuit breaker and rate limit
//   - Fault injection for resilience testing
//
// # Quick Start
//
//	adapter, err := httpclient.NewRequestAdapter(provider,
//	    httpclient.WithBaseURL("https://api.example.com/v1"),
//	    httpclient.WithServiceName("users-api"),
//	)
//	if err != nil {
//	    return err
//	}
//
//	info := abstractions.NewRequestInformationFor(http.MethodGet, "{+baseurl}/users/{id}",
//	    map[string]string{"id": "42"})
//	user, err := adapter.Send(ctx, info, NewUserFromNode, abstractions.ErrorMappings{
//	    "404": NewNotFoundFromNode,
//	    "5XX": NewServerErrorFromNode,
//	})
//
// # Pipeline
//
// From the outside in, a request passes parameter name decoding, redirect,
// user agent, retry, URL replace, headers inspection, chaos and compression
// before the executor sends it. Retry wraps compression, so every resend is
// compressed again from the original body. Stages whose default option is
// nil are left out of the chain.
//
// Defaults are set with options such as WithRetry and can be overridden for a
// single call:
//
//	info.AddRequestOptions(&httpclient.RetryOption{
//	    Delay:      time.Second,
//	    MaxRetries: 5,
//	})
//
// A request is only resent when its body can be replayed, which is the case
// for content set with SetContentFromBytes or any io.ReadSeeker.
//
// The pipeline also works as an http.RoundTripper:
//
//	client := httpclient.NewHTTPClient(httpclient.WithRetry(httpclient.DefaultRetryOption()))
//	ctx = httpclient.ContextWithRequestOptions(ctx, httpclient.NewURLReplaceOption(pairs))
//
// # Configuration Presets
//
//	adapter, err := httpclient.NewRequestAdapter(provider,
//	    httpclient.WithConfig(httpclient.HighThroughputConfig()),
//	)
//
// # Errors
//
// Failure statuses surface as abstractions.ResponseError, either the mapped
// type or *abstractions.APIError:
//
//	var respErr abstractions.ResponseError
//	if errors.As(err, &respErr) {
//	    log.Printf("status %d", respErr.ResponseStatusCode())
//	}
//
// Transport failures are returned as they are. A ResponseHandler returning a
// value of the wrong shape yields *ContractViolationError.
//
// # Observability
//
// Metrics:
//   - http.client.request.duration (histogram)
//   - http.client.retry.attempts, http.client.retry.exhausted (counters)
//   - http.client.redirects, http.client.compression.fallback (counters)
//   - http.client.reauthentications, http.client.chaos.injections (counters)
//   - http.client.breaker.requests (counter), http.client.breaker.state (gauge)
//
// Traces:
//   - One span per adapter call named "{operation} - {path template}"
//   - One client span per network send, with network timing events
//   - Retry, redirect and claims challenge events
//
// The full URL is only recorded when ObservabilityOption.IncludeEUIIAttributes
// is set.
//
// # Debugging
//
// WithDebug logs every send as a cURL command with credentials masked.
package httpclient
