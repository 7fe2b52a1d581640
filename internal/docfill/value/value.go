// Package value turns raw host-store cell values into display strings.
//
// Host values arrive as loosely typed Go values (decoded JSON, YAML or SDK
// structs). FromRaw classifies them into a closed set of kinds so that the
// conversion rules in Normalizer are explicit per kind.
package value

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
)

// TimestampThreshold is the millisecond epoch of 2000-01-01T00:00:00Z.
// Integers at or above it with at most 13 digits are treated as timestamps.
const TimestampThreshold int64 = 946684800000

const maxTimestampDigits = 13

// Kind identifies the shape of a Value
type Kind uint8

const (
	KindNull Kind = iota
	KindScalar
	KindTimestamp
	KindList
	KindStructured
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindScalar:
		return "scalar"
	case KindTimestamp:
		return "timestamp"
	case KindList:
		return "list"
	case KindStructured:
		return "structured"
	default:
		return "unknown"
	}
}

// Value is an immutable snapshot of one cell value
type Value struct {
	kind   Kind
	text   string
	millis int64
	items  []Value
	fields map[string]any
}

// Null returns the empty value
func Null() Value { return Value{kind: KindNull} }

// Scalar returns a scalar value with the given display text
func Scalar(text string) Value { return Value{kind: KindScalar, text: text} }

// Timestamp returns a millisecond epoch timestamp value
func Timestamp(millis int64) Value { return Value{kind: KindTimestamp, millis: millis} }

// List returns a list value
func List(items ...Value) Value { return Value{kind: KindList, items: items} }

// Structured returns a structured value backed by fields
func Structured(fields map[string]any) Value {
	return Value{kind: KindStructured, fields: fields}
}

// Kind returns the value kind
func (v Value) Kind() Kind { return v.kind }

// Text returns the scalar text
func (v Value) Text() string { return v.text }

// Millis returns the timestamp in milliseconds since the epoch
func (v Value) Millis() int64 { return v.millis }

// Items returns the list elements
func (v Value) Items() []Value { return v.items }

// Fields returns the structured fields
func (v Value) Fields() map[string]any { return v.fields }

// FromRaw classifies an arbitrary host value
func FromRaw(raw any) Value {
	return fromRaw(raw, false)
}

func fromRaw(raw any, inList bool) Value {
	switch v := raw.(type) {
	case nil:
		return Null()
	case Value:
		return v
	case string:
		if !inList {
			if ms, ok := timestampFromDigits(v); ok {
				return Timestamp(ms)
			}
		}
		return Scalar(v)
	case bool:
		return Scalar(strconv.FormatBool(v))
	case json.Number:
		return fromNumberText(v.String())
	case float64:
		return fromFloat(v)
	case float32:
		return fromFloat(float64(v))
	case int:
		return fromInt(int64(v))
	case int8:
		return fromInt(int64(v))
	case int16:
		return fromInt(int64(v))
	case int32:
		return fromInt(int64(v))
	case int64:
		return fromInt(v)
	case uint:
		return fromNumberText(strconv.FormatUint(uint64(v), 10))
	case uint8:
		return fromInt(int64(v))
	case uint16:
		return fromInt(int64(v))
	case uint32:
		return fromInt(int64(v))
	case uint64:
		return fromNumberText(strconv.FormatUint(v, 10))
	case []any:
		items := make([]Value, 0, len(v))
		for _, item := range v {
			items = append(items, fromRaw(item, true))
		}
		return List(items...)
	case []string:
		items := make([]Value, 0, len(v))
		for _, item := range v {
			items = append(items, Scalar(item))
		}
		return List(items...)
	case map[string]any:
		if v == nil {
			return Null()
		}
		return Structured(v)
	case map[string]string:
		fields := make(map[string]any, len(v))
		for k, s := range v {
			fields[k] = s
		}
		return Structured(fields)
	}
	return fromReflect(raw, inList)
}

// fromReflect handles typed slices, maps and structs by round-tripping
// through JSON, which yields the generic shapes handled above.
func fromReflect(raw any, inList bool) Value {
	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null()
		}
		return fromRaw(rv.Elem().Interface(), inList)
	case reflect.Slice, reflect.Array, reflect.Map, reflect.Struct:
		data, err := json.Marshal(raw)
		if err != nil {
			return Scalar(fmt.Sprint(raw))
		}
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return Scalar(string(data))
		}
		return fromRaw(generic, inList)
	}
	return Scalar(fmt.Sprint(raw))
}

func fromFloat(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Scalar(strconv.FormatFloat(f, 'f', -1, 64))
	}
	return fromNumberText(strconv.FormatFloat(f, 'f', -1, 64))
}

func fromInt(i int64) Value {
	return fromNumberText(strconv.FormatInt(i, 10))
}

func fromNumberText(text string) Value {
	if ms, ok := timestampFromDigits(text); ok {
		return Timestamp(ms)
	}
	return Scalar(text)
}

// timestampFromDigits implements the millisecond-epoch heuristic. Any plain
// integer in [TimestampThreshold, 10^13) is a timestamp, including numeric
// fields that merely happen to be that large.
func timestampFromDigits(text string) (int64, bool) {
	if len(text) == 0 || len(text) > maxTimestampDigits {
		return 0, false
	}
	for i := 0; i < len(text); i++ {
		if text[i] < '0' || text[i] > '9' {
			return 0, false
		}
	}
	ms, err := strconv.ParseInt(text, 10, 64)
	if err != nil || ms < TimestampThreshold {
		return 0, false
	}
	return ms, true
}
