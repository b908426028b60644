// Package datapoint defines the ephemeral value type that flows from
// ingress (C6) through the event bus to storage (C8) and export (C9).
package datapoint

import (
	"fmt"
	"time"

	"unsbroker/hierarchy"
)

// Kind tags which alternative of Value is populated.
type Kind int

// Value kinds.
const (
	KindNull Kind = iota
	KindBool
	KindInt64
	KindFloat64
	KindString
	KindBytes
)

// Value is a tagged union over the primitive wire types a DataPoint can
// carry. Exactly one of the typed fields is meaningful, selected by Kind.
type Value struct {
	Kind   Kind
	Bool   bool
	Int64  int64
	Float  float64
	Str    string
	Bytes  []byte
}

// NullValue returns the null Value.
func NullValue() Value { return Value{Kind: KindNull} }

// BoolValue wraps a bool.
func BoolValue(v bool) Value { return Value{Kind: KindBool, Bool: v} }

// Int64Value wraps an int64.
func Int64Value(v int64) Value { return Value{Kind: KindInt64, Int64: v} }

// FloatValue wraps a float64.
func FloatValue(v float64) Value { return Value{Kind: KindFloat64, Float: v} }

// StringValue wraps a string.
func StringValue(v string) Value { return Value{Kind: KindString, Str: v} }

// BytesValue wraps raw bytes.
func BytesValue(v []byte) Value { return Value{Kind: KindBytes, Bytes: v} }

// Equal reports whether two Values carry the same kind and payload,
// including explicit null-equality (two KindNull values are always equal).
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.Bool == o.Bool
	case KindInt64:
		return v.Int64 == o.Int64
	case KindFloat64:
		return v.Float == o.Float
	case KindString:
		return v.Str == o.Str
	case KindBytes:
		return string(v.Bytes) == string(o.Bytes)
	default:
		return false
	}
}

// String renders the value for raw-format export and logging.
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return ""
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindInt64:
		return fmt.Sprintf("%d", v.Int64)
	case KindFloat64:
		return fmt.Sprintf("%g", v.Float)
	case KindString:
		return v.Str
	case KindBytes:
		return string(v.Bytes)
	default:
		return ""
	}
}

// Metadata carries source-attribution for a DataPoint, as required by C6:
// connection name, event name, and whether the value/timestamp envelope was
// recognized. The value kind is not repeated here; it is the DataPoint's
// Value.Kind.
type Metadata struct {
	ConnectionName   string
	EventName        string
	EnvelopeDetected bool
}

// DataPoint is the ephemeral unit the ingress pipeline emits onto the event
// bus. HierarchicalPath may be empty until the auto-mapper resolves it.
type DataPoint struct {
	Topic           string
	Value           Value
	Timestamp       time.Time
	Source          string
	HierarchicalPath *hierarchy.Path
	Metadata        Metadata
}
