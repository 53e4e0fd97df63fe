package serialization

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/kroma-labs/sentinel-apiclient/abstractions"
)

// ErrTypeMismatch is returned when a node holds a value of a different shape
// than the one requested.
var ErrTypeMismatch = errors.New("serialization: type mismatch")

// Compile-time interface check.
var _ abstractions.ParseNode = (*Node)(nil)

// Node is a ParseNode over a decoded value tree: map[string]any, []any and
// scalars as produced by the JSON, CBOR and text decoders.
type Node struct {
	value any

	// lenient nodes parse scalars out of strings, as text/plain bodies need.
	lenient bool
}

// NewNode wraps an already decoded value.
func NewNode(value any) *Node {
	return &Node{value: value}
}

func (n *Node) child(value any) *Node {
	return &Node{value: value, lenient: n.lenient}
}

func mismatch(want string, got any) error {
	return fmt.Errorf("%w: want %s, got %T", ErrTypeMismatch, want, got)
}

// GetChildNode returns the member called name, or nil when absent.
func (n *Node) GetChildNode(name string) (abstractions.ParseNode, error) {
	obj, ok := n.value.(map[string]any)
	if !ok {
		if n.value == nil {
			return nil, nil
		}
		return nil, mismatch("object", n.value)
	}
	v, ok := obj[name]
	if !ok {
		return nil, nil
	}
	return n.child(v), nil
}

// GetObjectValue builds a Parsable with factory and lets it read this node.
func (n *Node) GetObjectValue(factory abstractions.ParsableFactory) (abstractions.Parsable, error) {
	if n.value == nil {
		return nil, nil
	}
	if factory == nil {
		return nil, errors.New("serialization: nil parsable factory")
	}
	p, err := factory(n)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}
	if err := p.Deserialize(n); err != nil {
		return nil, err
	}
	return p, nil
}

func (n *Node) elements() ([]any, error) {
	switch v := n.value.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	default:
		return nil, mismatch("array", v)
	}
}

// GetCollectionOfObjectValues reads an array of objects.
func (n *Node) GetCollectionOfObjectValues(
	factory abstractions.ParsableFactory,
) ([]abstractions.Parsable, error) {
	items, err := n.elements()
	if err != nil || items == nil {
		return nil, err
	}
	out := make([]abstractions.Parsable, 0, len(items))
	for i, item := range items {
		p, err := n.child(item).GetObjectValue(factory)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// GetCollectionOfPrimitiveValues reads an array of scalars of one kind.
func (n *Node) GetCollectionOfPrimitiveValues(kind abstractions.PrimitiveKind) ([]any, error) {
	items, err := n.elements()
	if err != nil || items == nil {
		return nil, err
	}
	out := make([]any, 0, len(items))
	for i, item := range items {
		v, err := abstractions.PrimitiveValue(n.child(item), kind)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// GetCollectionOfEnumValues reads an array of enum members.
func (n *Node) GetCollectionOfEnumValues(parser abstractions.EnumFactory) ([]any, error) {
	items, err := n.elements()
	if err != nil || items == nil {
		return nil, err
	}
	out := make([]any, 0, len(items))
	for i, item := range items {
		v, err := n.child(item).GetEnumValue(parser)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// GetStringValue reads a string.
func (n *Node) GetStringValue() (*string, error) {
	switch v := n.value.(type) {
	case nil:
		return nil, nil
	case string:
		return &v, nil
	case json.Number:
		if n.lenient {
			s := v.String()
			return &s, nil
		}
	}
	return nil, mismatch("string", n.value)
}

// GetBoolValue reads a boolean.
func (n *Node) GetBoolValue() (*bool, error) {
	switch v := n.value.(type) {
	case nil:
		return nil, nil
	case bool:
		return &v, nil
	case string:
		if n.lenient {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrTypeMismatch, err)
			}
			return &b, nil
		}
	}
	return nil, mismatch("bool", n.value)
}

// GetInt64Value reads an integer, rejecting fractional and out of range numbers.
func (n *Node) GetInt64Value() (*int64, error) {
	var out int64
	switch v := n.value.(type) {
	case nil:
		return nil, nil
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTypeMismatch, err)
		}
		out = i
	case int64:
		out = v
	case uint64:
		if v > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrTypeMismatch, v)
		}
		out = int64(v)
	case float64:
		if v != math.Trunc(v) || v > math.MaxInt64 || v < math.MinInt64 {
			return nil, fmt.Errorf("%w: %v is not an integer", ErrTypeMismatch, v)
		}
		out = int64(v)
	case string:
		if !n.lenient {
			return nil, mismatch("integer", v)
		}
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTypeMismatch, err)
		}
		out = i
	default:
		return nil, mismatch("integer", v)
	}
	return &out, nil
}

// GetFloat64Value reads a number.
func (n *Node) GetFloat64Value() (*float64, error) {
	var out float64
	switch v := n.value.(type) {
	case nil:
		return nil, nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTypeMismatch, err)
		}
		out = f
	case float64:
		out = v
	case float32:
		out = float64(v)
	case int64:
		out = float64(v)
	case uint64:
		out = float64(v)
	case string:
		if !n.lenient {
			return nil, mismatch("number", v)
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTypeMismatch, err)
		}
		out = f
	default:
		return nil, mismatch("number", v)
	}
	return &out, nil
}

// GetTimeValue reads an RFC 3339 date-time.
func (n *Node) GetTimeValue() (*time.Time, error) {
	switch v := n.value.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return &v, nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTypeMismatch, err)
		}
		return &t, nil
	default:
		return nil, mismatch("date-time", v)
	}
}

// GetDateOnlyValue reads a YYYY-MM-DD date.
func (n *Node) GetDateOnlyValue() (*abstractions.DateOnly, error) {
	s, err := n.GetStringValue()
	if err != nil || s == nil {
		return nil, err
	}
	d, err := abstractions.ParseDateOnly(*s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTypeMismatch, err)
	}
	return &d, nil
}

// GetTimeOnlyValue reads an hh:mm:ss time of day.
func (n *Node) GetTimeOnlyValue() (*abstractions.TimeOnly, error) {
	s, err := n.GetStringValue()
	if err != nil || s == nil {
		return nil, err
	}
	t, err := abstractions.ParseTimeOnly(*s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTypeMismatch, err)
	}
	return &t, nil
}

// GetISODurationValue reads an ISO 8601 duration.
func (n *Node) GetISODurationValue() (*abstractions.ISODuration, error) {
	s, err := n.GetStringValue()
	if err != nil || s == nil {
		return nil, err
	}
	d, err := abstractions.ParseISODuration(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// GetByteArrayValue reads raw bytes, decoding base64 strings.
func (n *Node) GetByteArrayValue() ([]byte, error) {
	switch v := n.value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		if n.lenient {
			return []byte(v), nil
		}
		b, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTypeMismatch, err)
		}
		return b, nil
	default:
		return nil, mismatch("bytes", v)
	}
}

// GetEnumValue parses the string value with parser.
func (n *Node) GetEnumValue(parser abstractions.EnumFactory) (any, error) {
	s, err := n.GetStringValue()
	if err != nil || s == nil {
		return nil, err
	}
	if parser == nil {
		return nil, errors.New("serialization: nil enum parser")
	}
	return parser(*s)
}

// GetRawValue returns the decoded value untouched.
func (n *Node) GetRawValue() (any, error) {
	return n.value, nil
}
