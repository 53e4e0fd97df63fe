package abstractions

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnsupportedPrimitiveKind is returned when a caller asks for a primitive
// kind outside the closed PrimitiveKind set.
var ErrUnsupportedPrimitiveKind = errors.New("unsupported primitive kind")

// Parsable is a model that can populate itself from a ParseNode.
type Parsable interface {
	Deserialize(node ParseNode) error
}

// ParsableFactory creates the Parsable for node. A factory may inspect node,
// for example to pick a derived type from a discriminator.
type ParsableFactory func(node ParseNode) (Parsable, error)

// EnumFactory parses the wire representation of an enum member.
type EnumFactory func(value string) (any, error)

// ParseNode is a cursor over a decoded response body, independent of the wire format.
//
// Scalar getters return nil without error when the node holds no value.
type ParseNode interface {
	GetChildNode(name string) (ParseNode, error)
	GetObjectValue(factory ParsableFactory) (Parsable, error)
	GetCollectionOfObjectValues(factory ParsableFactory) ([]Parsable, error)
	GetCollectionOfPrimitiveValues(kind PrimitiveKind) ([]any, error)
	GetCollectionOfEnumValues(parser EnumFactory) ([]any, error)

	GetStringValue() (*string, error)
	GetBoolValue() (*bool, error)
	GetInt64Value() (*int64, error)
	GetFloat64Value() (*float64, error)
	GetTimeValue() (*time.Time, error)
	GetDateOnlyValue() (*DateOnly, error)
	GetTimeOnlyValue() (*TimeOnly, error)
	GetISODurationValue() (*ISODuration, error)
	GetByteArrayValue() ([]byte, error)
	GetEnumValue(parser EnumFactory) (any, error)
	GetRawValue() (any, error)
}

// ParseNodeFactory creates the root ParseNode for a response body.
type ParseNodeFactory interface {
	// GetValidContentType returns the media type this factory decodes.
	GetValidContentType() (string, error)

	// GetRootParseNode decodes content. contentType is the media type
	// without parameters.
	GetRootParseNode(contentType string, content []byte) (ParseNode, error)
}

// PrimitiveValue reads a value of the given kind from node. The result is the
// dereferenced scalar (int64, float64, bool, string, time.Time, DateOnly,
// TimeOnly, ISODuration or []byte), or nil when the node is empty.
func PrimitiveValue(node ParseNode, kind PrimitiveKind) (any, error) {
	switch kind {
	case PrimitiveInt64:
		return deref(node.GetInt64Value())
	case PrimitiveFloat64:
		return deref(node.GetFloat64Value())
	case PrimitiveBool:
		return deref(node.GetBoolValue())
	case PrimitiveString:
		return deref(node.GetStringValue())
	case PrimitiveDateTime:
		return deref(node.GetTimeValue())
	case PrimitiveDateOnly:
		return deref(node.GetDateOnlyValue())
	case PrimitiveTimeOnly:
		return deref(node.GetTimeOnlyValue())
	case PrimitiveDuration:
		return deref(node.GetISODurationValue())
	case PrimitiveByteStream:
		b, err := node.GetByteArrayValue()
		if err != nil || b == nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPrimitiveKind, kind)
	}
}

func deref[T any](v *T, err error) (any, error) {
	if err != nil || v == nil {
		return nil, err
	}
	return *v, nil
}
