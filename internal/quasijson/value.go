package quasijson

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	pdferrors "github.com/a3tai/mcp-pdf-formfill/internal/pdf/errors"
)

// Kind identifies which member of a Value is populated
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindObject
	KindArray
)

// String returns the JSON type name of the kind
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return "null"
	}
}

// Value is a decoded JSON value whose shape is not known in advance.
// Numbers keep their literal text so identifiers such as member numbers
// survive a round trip without float formatting.
type Value struct {
	kind Kind
	str  string
	num  json.Number
	b    bool
	obj  Object
	arr  []Value
}

// Object is a JSON object of tagged values
type Object map[string]Value

// String, Number, Bool and Null construct scalar values.
func String(s string) Value { return Value{kind: KindString, str: s} }
func Number(n json.Number) Value { return Value{kind: KindNumber, num: n} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Null() Value { return Value{} }
func ObjectValue(o Object) Value { return Value{kind: KindObject, obj: o} }
func ArrayValue(a []Value) Value { return Value{kind: KindArray, arr: a} }

// Kind reports the value's JSON type
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is JSON null
func (v Value) IsNull() bool { return v.kind == KindNull }

// Object returns the object members and true when v is an object
func (v Value) Object() (Object, bool) {
	if v.kind != KindObject {
		return nil, false
	}
	return v.obj, true
}

// Array returns the elements and true when v is an array
func (v Value) Array() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return v.arr, true
}

// Bool returns the boolean and true when v is a boolean
func (v Value) Bool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// Text returns the scalar string form of v: strings as-is, numbers as their
// literal, booleans as true/false and null as "". Objects and arrays are
// rendered as compact JSON.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num.String()
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindObject, KindArray:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return ""
	}
}

// Truthy follows the usual scripting rules: null, false, 0, "" and empty
// containers are false. Strings spelling a negative answer ("no", "false",
// "off", "n", "0", "unchecked") are false as well.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		f, err := v.num.Float64()
		return err == nil && f != 0
	case KindString:
		s := strings.ToLower(strings.TrimSpace(v.str))
		switch s {
		case "", "no", "n", "false", "off", "0", "unchecked", "none":
			return false
		}
		return true
	case KindObject:
		return len(v.obj) > 0
	case KindArray:
		return len(v.arr) > 0
	default:
		return false
	}
}

// Interface converts v into plain Go values (map[string]any, []any, string,
// json.Number, bool, nil).
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindObject:
		m := make(map[string]any, len(v.obj))
		for k, child := range v.obj {
			m[k] = child.Interface()
		}
		return m
	case KindArray:
		a := make([]any, len(v.arr))
		for i, child := range v.arr {
			a[i] = child.Interface()
		}
		return a
	default:
		return nil
	}
}

// MarshalJSON implements json.Marshaler
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return []byte(v.num.String()), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindObject:
		if v.obj == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(map[string]Value(v.obj))
	case KindArray:
		if v.arr == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.arr)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = fromInterface(raw)
	return nil
}

// Keys returns the object's keys in sorted order
func (o Object) Keys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Flatten walks nested objects and arrays and returns dotted key paths for
// every scalar leaf, e.g. "patient_info.Address.City".
func (o Object) Flatten() map[string]string {
	out := make(map[string]string)
	flattenInto(out, "", ObjectValue(o))
	return out
}

func flattenInto(out map[string]string, prefix string, v Value) {
	switch v.kind {
	case KindObject:
		for k, child := range v.obj {
			flattenInto(out, joinPath(prefix, k), child)
		}
	case KindArray:
		for i, child := range v.arr {
			flattenInto(out, joinPath(prefix, strconv.Itoa(i)), child)
		}
	default:
		out[prefix] = v.Text()
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func fromInterface(raw any) Value {
	switch t := raw.(type) {
	case string:
		return String(t)
	case json.Number:
		return Number(t)
	case float64:
		return Number(json.Number(strconv.FormatFloat(t, 'f', -1, 64)))
	case bool:
		return Bool(t)
	case map[string]any:
		obj := make(Object, len(t))
		for k, child := range t {
			obj[k] = fromInterface(child)
		}
		return ObjectValue(obj)
	case []any:
		arr := make([]Value, len(t))
		for i, child := range t {
			arr[i] = fromInterface(child)
		}
		return ArrayValue(arr)
	default:
		return Null()
	}
}

// Decode recovers text and strictly parses the result. Both failure modes
// are reported as MalformedResponse errors.
func Decode(text string) (Value, error) {
	raw, err := Recover(text)
	if err != nil {
		return Null(), err
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var parsed any
	if err := dec.Decode(&parsed); err != nil {
		return Null(), pdferrors.NewMalformedResponse("response is not valid JSON after repair").
			WithContext(err.Error())
	}
	if _, err := dec.Token(); err != io.EOF {
		return Null(), pdferrors.NewMalformedResponse("trailing data after JSON object")
	}
	return fromInterface(parsed), nil
}

// DecodeObject is Decode restricted to a top-level object
func DecodeObject(text string) (Object, error) {
	v, err := Decode(text)
	if err != nil {
		return nil, err
	}
	obj, ok := v.Object()
	if !ok {
		return nil, pdferrors.NewMalformedResponse(fmt.Sprintf("expected a JSON object, got %s", v.Kind()))
	}
	return obj, nil
}
