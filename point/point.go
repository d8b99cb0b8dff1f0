// Package point defines the telemetry data model shared by writers,
// the delivery engine, and the sinks: typed values, timestamped points,
// channel descriptors, and the batches that move between them.
package point

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Type identifies the value variant carried by a point. Channels are
// polymorphic: the type is tracked per batch, not per channel.
type Type uint8

const (
	// TypeFloat64 is a 64-bit IEEE 754 floating point value.
	TypeFloat64 Type = iota
	// TypeInt64 is a signed 64-bit integer value.
	TypeInt64
	// TypeBool is a boolean value.
	TypeBool
	// TypeString is a UTF-8 string value.
	TypeString
)

// String returns the lowercase name of the type.
func (t Type) String() string {
	switch t {
	case TypeFloat64:
		return "float64"
	case TypeInt64:
		return "int64"
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	default:
		return "unknown"
	}
}

// Value is a compact tagged union over the four supported variants.
// Numeric and boolean payloads share one word; strings ride alongside.
// The zero Value is Float64(0).
type Value struct {
	typ Type
	num uint64
	str string
}

// Float64Value returns a Value holding v.
func Float64Value(v float64) Value {
	return Value{typ: TypeFloat64, num: math.Float64bits(v)}
}

// Int64Value returns a Value holding v.
func Int64Value(v int64) Value {
	return Value{typ: TypeInt64, num: uint64(v)}
}

// BoolValue returns a Value holding v.
func BoolValue(v bool) Value {
	var n uint64
	if v {
		n = 1
	}
	return Value{typ: TypeBool, num: n}
}

// StringValue returns a Value holding v.
func StringValue(v string) Value {
	return Value{typ: TypeString, str: v}
}

// Type returns the variant held by the value.
func (v Value) Type() Type {
	return v.typ
}

// Float64 returns the payload of a TypeFloat64 value. The result is
// unspecified for other variants.
func (v Value) Float64() float64 {
	return math.Float64frombits(v.num)
}

// Int64 returns the payload of a TypeInt64 value.
func (v Value) Int64() int64 {
	return int64(v.num)
}

// Bool returns the payload of a TypeBool value.
func (v Value) Bool() bool {
	return v.num != 0
}

// Text returns the payload of a TypeString value.
func (v Value) Text() string {
	return v.str
}

// Equal reports whether two values hold the same variant and payload.
func (v Value) Equal(o Value) bool {
	return v.typ == o.typ && v.num == o.num && v.str == o.str
}

// String renders the payload for logs and error messages.
func (v Value) String() string {
	switch v.typ {
	case TypeFloat64:
		return strconv.FormatFloat(v.Float64(), 'g', -1, 64)
	case TypeInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case TypeBool:
		return strconv.FormatBool(v.Bool())
	case TypeString:
		return strconv.Quote(v.str)
	default:
		return "invalid"
	}
}

// MarshalJSON encodes the payload as its native JSON scalar.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.typ {
	case TypeFloat64:
		f := v.Float64()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			// JSON has no encoding for these; send the textual form.
			return json.Marshal(strconv.FormatFloat(f, 'g', -1, 64))
		}
		return json.Marshal(f)
	case TypeInt64:
		return json.Marshal(v.Int64())
	case TypeBool:
		return json.Marshal(v.Bool())
	case TypeString:
		return json.Marshal(v.str)
	default:
		return nil, fmt.Errorf("unknown value type %d", v.typ)
	}
}

// Point is a single timestamped sample. Timestamp is nanoseconds since
// the Unix epoch. Points preserve submission order; they are not
// required to be temporally ordered.
type Point struct {
	Timestamp uint64 `json:"ts"`
	Value     Value  `json:"v"`
}

// Time converts the point timestamp to a time.Time in UTC.
func (p Point) Time() time.Time {
	return time.Unix(0, int64(p.Timestamp)).UTC()
}
