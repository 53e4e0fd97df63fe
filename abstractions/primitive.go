package abstractions

// PrimitiveKind is the closed set of scalar result shapes a call can request.
type PrimitiveKind int

const (
	PrimitiveInvalid PrimitiveKind = iota
	PrimitiveInt64
	PrimitiveFloat64
	PrimitiveBool
	PrimitiveString
	PrimitiveDateTime
	PrimitiveDateOnly
	PrimitiveTimeOnly
	PrimitiveDuration
	PrimitiveByteStream
)

func (k PrimitiveKind) String() string {
	switch k {
	case PrimitiveInt64:
		return "int64"
	case PrimitiveFloat64:
		return "float64"
	case PrimitiveBool:
		return "bool"
	case PrimitiveString:
		return "string"
	case PrimitiveDateTime:
		return "datetime"
	case PrimitiveDateOnly:
		return "dateonly"
	case PrimitiveTimeOnly:
		return "timeonly"
	case PrimitiveDuration:
		return "duration"
	case PrimitiveByteStream:
		return "bytestream"
	default:
		return "invalid"
	}
}

// Valid reports whether k is one of the declared kinds.
func (k PrimitiveKind) Valid() bool {
	return k > PrimitiveInvalid && k <= PrimitiveByteStream
}
