package httpclient

import "github.com/kroma-labs/sentinel-apiclient/abstractions"

// ObservabilityOption configures the spans the request adapter records.
type ObservabilityOption struct {
	// IncludeEUIIAttributes adds attributes that may carry end user
	// identifiable information, such as the full URL.
	IncludeEUIIAttributes bool

	// TracerName overrides the instrumentation scope of adapter spans.
	TracerName string
}

// Kind implements abstractions.RequestOption.
func (o *ObservabilityOption) Kind() abstractions.OptionKind {
	return abstractions.OptionKindObservability
}
