// Package value defines the intermediate value model shared by all sources
// and the destination loader.
//
// A Value is an immutable tagged union over the types that survive the trip
// from any supported source into a property graph: null, boolean, 64-bit
// integer, double, string, timestamp and list. Sources decode their native
// column types into Values; the destination serializes Values into Cypher
// parameters.
package value

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Type identifies the variant held by a Value.
type Type int

const (
	// TypeNull is the null value
	TypeNull Type = iota
	// TypeBool is a boolean
	TypeBool
	// TypeInt is a 64-bit signed integer
	TypeInt
	// TypeFloat is a 64-bit float
	TypeFloat
	// TypeString is a UTF-8 string
	TypeString
	// TypeDateTime is a point in time
	TypeDateTime
	// TypeList is an ordered list of Values
	TypeList
)

// String returns the type name.
func (t Type) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	case TypeDateTime:
		return "datetime"
	case TypeList:
		return "list"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// Value is an immutable variant value. The zero Value is null.
type Value struct {
	typ  Type
	b    bool
	i    int64
	f    float64
	s    string
	t    time.Time
	list []Value
}

// Null returns the null value.
func Null() Value {
	return Value{typ: TypeNull}
}

// Bool returns a boolean value.
func Bool(v bool) Value {
	return Value{typ: TypeBool, b: v}
}

// Int returns an integer value.
func Int(v int64) Value {
	return Value{typ: TypeInt, i: v}
}

// Float returns a float value.
func Float(v float64) Value {
	return Value{typ: TypeFloat, f: v}
}

// String returns a string value.
func String(v string) Value {
	return Value{typ: TypeString, s: v}
}

// DateTime returns a timestamp value.
func DateTime(v time.Time) Value {
	return Value{typ: TypeDateTime, t: v}
}

// List returns a list value. The slice is copied so later mutation of the
// argument cannot change the Value.
func List(items []Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{typ: TypeList, list: cp}
}

// Type returns the variant held by v.
func (v Value) Type() Type {
	return v.typ
}

// IsNull reports whether v is null.
func (v Value) IsNull() bool {
	return v.typ == TypeNull
}

// AsBool returns the boolean payload. It panics when v is not a bool.
func (v Value) AsBool() bool {
	v.mustBe(TypeBool)
	return v.b
}

// AsInt returns the integer payload. It panics when v is not an int.
func (v Value) AsInt() int64 {
	v.mustBe(TypeInt)
	return v.i
}

// AsFloat returns the float payload. It panics when v is not a float.
func (v Value) AsFloat() float64 {
	v.mustBe(TypeFloat)
	return v.f
}

// AsString returns the string payload. It panics when v is not a string.
func (v Value) AsString() string {
	v.mustBe(TypeString)
	return v.s
}

// AsDateTime returns the timestamp payload. It panics when v is not a
// datetime.
func (v Value) AsDateTime() time.Time {
	v.mustBe(TypeDateTime)
	return v.t
}

// AsList returns a copy of the list payload. It panics when v is not a list.
func (v Value) AsList() []Value {
	v.mustBe(TypeList)
	cp := make([]Value, len(v.list))
	copy(cp, v.list)
	return cp
}

// Len returns the number of items in a list value. It panics when v is not
// a list.
func (v Value) Len() int {
	v.mustBe(TypeList)
	return len(v.list)
}

// Index returns the i-th item of a list value without copying.
func (v Value) Index(i int) Value {
	v.mustBe(TypeList)
	return v.list[i]
}

func (v Value) mustBe(t Type) {
	if v.typ != t {
		panic(fmt.Sprintf("value: %s payload requested from %s value", t, v.typ))
	}
}

// Equal reports structural equality. Values of different types are never
// equal; lists are equal when they have equal items in the same order.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case TypeNull:
		return true
	case TypeBool:
		return v.b == o.b
	case TypeInt:
		return v.i == o.i
	case TypeFloat:
		return v.f == o.f
	case TypeString:
		return v.s == o.s
	case TypeDateTime:
		return v.t.Equal(o.t)
	case TypeList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Compare defines a total order over Values: first by type, then by payload.
// It returns a negative number, zero, or a positive number as v sorts
// before, equal to, or after o. The order is used for deterministic key
// ordering and has no semantic meaning across types.
func (v Value) Compare(o Value) int {
	if v.typ != o.typ {
		return int(v.typ) - int(o.typ)
	}
	switch v.typ {
	case TypeNull:
		return 0
	case TypeBool:
		switch {
		case v.b == o.b:
			return 0
		case !v.b:
			return -1
		default:
			return 1
		}
	case TypeInt:
		switch {
		case v.i < o.i:
			return -1
		case v.i > o.i:
			return 1
		default:
			return 0
		}
	case TypeFloat:
		switch {
		case v.f < o.f:
			return -1
		case v.f > o.f:
			return 1
		default:
			return 0
		}
	case TypeString:
		return strings.Compare(v.s, o.s)
	case TypeDateTime:
		switch {
		case v.t.Before(o.t):
			return -1
		case v.t.After(o.t):
			return 1
		default:
			return 0
		}
	case TypeList:
		for i := 0; i < len(v.list) && i < len(o.list); i++ {
			if c := v.list[i].Compare(o.list[i]); c != 0 {
				return c
			}
		}
		return len(v.list) - len(o.list)
	default:
		return 0
	}
}

// Native converts v into the plain Go representation accepted by the Bolt
// driver as a query parameter: nil, bool, int64, float64, string, time.Time
// or []interface{}.
func (v Value) Native() interface{} {
	switch v.typ {
	case TypeNull:
		return nil
	case TypeBool:
		return v.b
	case TypeInt:
		return v.i
	case TypeFloat:
		return v.f
	case TypeString:
		return v.s
	case TypeDateTime:
		return v.t
	case TypeList:
		out := make([]interface{}, len(v.list))
		for i, item := range v.list {
			out[i] = item.Native()
		}
		return out
	default:
		return nil
	}
}

// FromNative converts a plain Go value produced by a database driver into a
// Value. Unsupported types yield an error.
func FromNative(in interface{}) (Value, error) {
	switch x := in.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(x), nil
	case int:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint8:
		return Int(int64(x)), nil
	case uint16:
		return Int(int64(x)), nil
	case uint32:
		return Int(int64(x)), nil
	case uint64:
		return Int(int64(x)), nil
	case float32:
		return Float(float64(x)), nil
	case float64:
		return Float(x), nil
	case string:
		return String(x), nil
	case []byte:
		return String(string(x)), nil
	case time.Time:
		return DateTime(x), nil
	case []interface{}:
		items := make([]Value, len(x))
		for i, item := range x {
			v, err := FromNative(item)
			if err != nil {
				return Null(), err
			}
			items[i] = v
		}
		return List(items), nil
	default:
		return Null(), fmt.Errorf("value: unsupported native type %T", in)
	}
}

// String renders v for logs and error messages.
func (v Value) String() string {
	switch v.typ {
	case TypeNull:
		return "null"
	case TypeBool:
		return fmt.Sprintf("%t", v.b)
	case TypeInt:
		return fmt.Sprintf("%d", v.i)
	case TypeFloat:
		return fmt.Sprintf("%g", v.f)
	case TypeString:
		return fmt.Sprintf("%q", v.s)
	case TypeDateTime:
		return v.t.Format(time.RFC3339Nano)
	case TypeList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return "?"
	}
}

// SortValues orders a slice of Values in place using Compare.
func SortValues(vs []Value) {
	sort.Slice(vs, func(i, j int) bool { return vs[i].Compare(vs[j]) < 0 })
}
