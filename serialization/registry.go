package serialization

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/kroma-labs/sentinel-apiclient/abstractions"
)

var (
	// ErrUnsupportedContentType is returned when no factory is registered for
	// the response media type.
	ErrUnsupportedContentType = errors.New("serialization: unsupported content type")

	// ErrRegistryContentType is returned by GetValidContentType on a registry,
	// which serves several media types.
	ErrRegistryContentType = errors.New("serialization: registry serves multiple content types")
)

// vendorSpecific strips the vendor part of structured syntax media types, so
// application/vnd.github+json resolves to application/json.
var vendorSpecific = regexp.MustCompile(`[^/]+\+`)

// Compile-time interface check.
var _ abstractions.ParseNodeFactory = (*ParseNodeFactoryRegistry)(nil)

// ParseNodeFactoryRegistry dispatches to a factory by media type.
type ParseNodeFactoryRegistry struct {
	mu        sync.RWMutex
	factories map[string]abstractions.ParseNodeFactory
}

// NewParseNodeFactoryRegistry returns a registry holding factories.
func NewParseNodeFactoryRegistry(
	factories ...abstractions.ParseNodeFactory,
) (*ParseNodeFactoryRegistry, error) {
	r := &ParseNodeFactoryRegistry{factories: make(map[string]abstractions.ParseNodeFactory)}
	for _, f := range factories {
		if err := r.Register(f); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultParseNodeFactoryRegistry returns a registry with the JSON, CBOR and
// text factories.
func DefaultParseNodeFactoryRegistry() *ParseNodeFactoryRegistry {
	return &ParseNodeFactoryRegistry{
		factories: map[string]abstractions.ParseNodeFactory{
			JSONContentType: NewJSONParseNodeFactory(),
			CBORContentType: NewCBORParseNodeFactory(),
			TextContentType: NewTextParseNodeFactory(),
		},
	}
}

// Register adds f under its content type, replacing any previous factory.
func (r *ParseNodeFactoryRegistry) Register(f abstractions.ParseNodeFactory) error {
	if f == nil {
		return errors.New("serialization: nil parse node factory")
	}
	ct, err := f.GetValidContentType()
	if err != nil {
		return fmt.Errorf("register parse node factory: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normalizeContentType(ct)] = f
	return nil
}

// GetValidContentType implements abstractions.ParseNodeFactory.
func (r *ParseNodeFactoryRegistry) GetValidContentType() (string, error) {
	return "", ErrRegistryContentType
}

// GetRootParseNode implements abstractions.ParseNodeFactory.
func (r *ParseNodeFactoryRegistry) GetRootParseNode(
	contentType string,
	content []byte,
) (abstractions.ParseNode, error) {
	ct := normalizeContentType(contentType)
	if ct == "" {
		return nil, fmt.Errorf("%w: empty", ErrUnsupportedContentType)
	}

	r.mu.RLock()
	f, ok := r.factories[ct]
	if !ok {
		f, ok = r.factories[vendorSpecific.ReplaceAllString(ct, "")]
	}
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContentType, ct)
	}
	return f.GetRootParseNode(ct, content)
}

// normalizeContentType keeps the media type before the first ';', lowercased.
func normalizeContentType(contentType string) string {
	ct, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(ct))
}
