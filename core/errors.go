package core

import "fmt"

// DecodeErrorKind enumerates the ways a Model image can fail to load.
type DecodeErrorKind uint8

const (
	ExceedsMaxSize DecodeErrorKind = iota
	DisabledField
	TypeMismatch
	ShortRead
	FieldOutOfOrder
	UnknownField
)

func (k DecodeErrorKind) String() string {
	switch k {
	case ExceedsMaxSize:
		return "exceeds max size"
	case DisabledField:
		return "disabled field"
	case TypeMismatch:
		return "type mismatch"
	case ShortRead:
		return "short read"
	case FieldOutOfOrder:
		return "field out of order"
	case UnknownField:
		return "unknown field"
	default:
		return "unknown decode error"
	}
}

// DecodeError is returned at the model load/export boundary. Pos is the byte
// offset within the image where the failure was detected; FieldIndex is -1
// when the failure is not attributable to a single field (e.g. a short
// header read).
type DecodeError struct {
	Kind       DecodeErrorKind
	Pos        int
	FieldIndex int
}

func (e *DecodeError) Error() string {
	if e.FieldIndex < 0 {
		return fmt.Sprintf("decode: %s at offset %d", e.Kind, e.Pos)
	}
	return fmt.Sprintf("decode: %s at offset %d (field %d)", e.Kind, e.Pos, e.FieldIndex)
}

func newDecodeErr(kind DecodeErrorKind, pos, fieldIndex int) error {
	return &DecodeError{Kind: kind, Pos: pos, FieldIndex: fieldIndex}
}
