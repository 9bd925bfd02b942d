package value

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructorsAndAccessors(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	assert.True(t, Null().IsNull())
	assert.Equal(t, TypeNull, Null().Type())
	assert.True(t, Bool(true).AsBool())
	assert.Equal(t, int64(42), Int(42).AsInt())
	assert.Equal(t, 2.5, Float(2.5).AsFloat())
	assert.Equal(t, "abc", String("abc").AsString())
	assert.Equal(t, ts, DateTime(ts).AsDateTime())

	list := List([]Value{Int(1), String("x")})
	require.Equal(t, 2, list.Len())
	assert.Equal(t, int64(1), list.Index(0).AsInt())
}

func TestAccessorPanicsOnWrongType(t *testing.T) {
	assert.Panics(t, func() { Int(1).AsString() })
	assert.Panics(t, func() { String("x").AsList() })
}

func TestListIsImmutable(t *testing.T) {
	items := []Value{Int(1), Int(2)}
	list := List(items)
	items[0] = Int(99)
	assert.Equal(t, int64(1), list.Index(0).AsInt())

	out := list.AsList()
	out[1] = Int(99)
	assert.Equal(t, int64(2), list.Index(1).AsInt())
}

func TestEqual(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"nulls", Null(), Null(), true},
		{"different types", Int(1), Float(1), false},
		{"equal ints", Int(7), Int(7), true},
		{"different strings", String("a"), String("b"), false},
		{"datetimes across zones", DateTime(ts), DateTime(ts.In(time.FixedZone("x", 3600))), true},
		{"equal lists", List([]Value{Int(1), Null()}), List([]Value{Int(1), Null()}), true},
		{"different list length", List([]Value{Int(1)}), List([]Value{Int(1), Int(2)}), false},
		{"nested lists", List([]Value{List([]Value{String("a")})}), List([]Value{List([]Value{String("a")})}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Equal(tt.b))
			assert.Equal(t, tt.want, tt.b.Equal(tt.a))
		})
	}
}

func TestCompareIsTotalOrder(t *testing.T) {
	assert.Negative(t, Int(1).Compare(Int(2)))
	assert.Positive(t, Int(2).Compare(Int(1)))
	assert.Zero(t, Int(2).Compare(Int(2)))
	assert.Negative(t, String("a").Compare(String("b")))

	// Different types order by type tag
	assert.Negative(t, Null().Compare(Bool(false)))
	assert.Negative(t, Bool(true).Compare(Int(0)))

	// Lists compare lexicographically, then by length
	assert.Negative(t, List([]Value{Int(1)}).Compare(List([]Value{Int(1), Int(2)})))
	assert.Positive(t, List([]Value{Int(2)}).Compare(List([]Value{Int(1), Int(9)})))
}

func TestSortValues(t *testing.T) {
	vs := []Value{String("b"), Int(3), String("a"), Int(1), Null()}
	SortValues(vs)
	assert.True(t, vs[0].IsNull())
	assert.Equal(t, int64(1), vs[1].AsInt())
	assert.Equal(t, int64(3), vs[2].AsInt())
	assert.Equal(t, "a", vs[3].AsString())
	assert.Equal(t, "b", vs[4].AsString())
}

func TestNativeRoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	original := List([]Value{Int(1), Float(2.5), String("x"), Bool(true), Null(), DateTime(ts)})

	native := original.Native()
	back, err := FromNative(native)
	require.NoError(t, err)
	assert.True(t, original.Equal(back))
}

func TestFromNativeIntegerWidths(t *testing.T) {
	for _, in := range []interface{}{int(5), int8(5), int16(5), int32(5), int64(5), uint8(5), uint32(5), uint64(5)} {
		v, err := FromNative(in)
		require.NoError(t, err)
		assert.Equal(t, int64(5), v.AsInt())
	}
}

func TestFromNativeBytesBecomeString(t *testing.T) {
	v, err := FromNative([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", v.AsString())
}

func TestFromNativeRejectsUnknownTypes(t *testing.T) {
	_, err := FromNative(struct{}{})
	assert.Error(t, err)
}
