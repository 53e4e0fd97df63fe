package serialization

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	json "github.com/goccy/go-json"

	"github.com/kroma-labs/sentinel-apiclient/abstractions"
)

// Content types handled by the built-in factories.
const (
	JSONContentType = "application/json"
	CBORContentType = "application/cbor"
	TextContentType = "text/plain"
)

// ErrEmptyContent is returned when a factory is asked to decode an empty body.
var ErrEmptyContent = errors.New("serialization: empty content")

// Compile-time interface checks.
var (
	_ abstractions.ParseNodeFactory = (*JSONParseNodeFactory)(nil)
	_ abstractions.ParseNodeFactory = (*CBORParseNodeFactory)(nil)
	_ abstractions.ParseNodeFactory = (*TextParseNodeFactory)(nil)
)

// JSONParseNodeFactory decodes application/json bodies. Numbers are kept as
// json.Number so integers larger than 2^53 survive.
type JSONParseNodeFactory struct{}

// NewJSONParseNodeFactory returns a JSON factory.
func NewJSONParseNodeFactory() *JSONParseNodeFactory {
	return &JSONParseNodeFactory{}
}

// GetValidContentType implements abstractions.ParseNodeFactory.
func (f *JSONParseNodeFactory) GetValidContentType() (string, error) {
	return JSONContentType, nil
}

// GetRootParseNode implements abstractions.ParseNodeFactory.
func (f *JSONParseNodeFactory) GetRootParseNode(
	_ string,
	content []byte,
) (abstractions.ParseNode, error) {
	if len(content) == 0 {
		return nil, ErrEmptyContent
	}
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return NewNode(v), nil
}

// cborDecMode decodes maps with string keys so nodes can address members by name.
var cborDecMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("serialization: invalid cbor decode options: %v", err))
	}
	return dm
}()

// CBORParseNodeFactory decodes application/cbor bodies.
type CBORParseNodeFactory struct{}

// NewCBORParseNodeFactory returns a CBOR factory.
func NewCBORParseNodeFactory() *CBORParseNodeFactory {
	return &CBORParseNodeFactory{}
}

// GetValidContentType implements abstractions.ParseNodeFactory.
func (f *CBORParseNodeFactory) GetValidContentType() (string, error) {
	return CBORContentType, nil
}

// GetRootParseNode implements abstractions.ParseNodeFactory.
func (f *CBORParseNodeFactory) GetRootParseNode(
	_ string,
	content []byte,
) (abstractions.ParseNode, error) {
	if len(content) == 0 {
		return nil, ErrEmptyContent
	}
	var v any
	if err := cborDecMode.Unmarshal(content, &v); err != nil {
		return nil, fmt.Errorf("decode cbor: %w", err)
	}
	return NewNode(v), nil
}

// TextParseNodeFactory exposes a text/plain body as a single scalar node.
type TextParseNodeFactory struct{}

// NewTextParseNodeFactory returns a text factory.
func NewTextParseNodeFactory() *TextParseNodeFactory {
	return &TextParseNodeFactory{}
}

// GetValidContentType implements abstractions.ParseNodeFactory.
func (f *TextParseNodeFactory) GetValidContentType() (string, error) {
	return TextContentType, nil
}

// GetRootParseNode implements abstractions.ParseNodeFactory.
func (f *TextParseNodeFactory) GetRootParseNode(
	_ string,
	content []byte,
) (abstractions.ParseNode, error) {
	return &Node{value: string(content), lenient: true}, nil
}
