package store

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueEqualAcrossNumericKinds(t *testing.T) {
	one := decimal.RequireFromString("1.00")

	assert.True(t, Int(1).Equal(Numeric(one)))
	assert.True(t, Int(1).Equal(Real(1)))
	assert.True(t, Numeric(one).Equal(Real(1)))
	assert.False(t, Int(1).Equal(Real(1.5)))
	assert.True(t, Real(math.NaN()).Equal(Real(math.NaN())))

	assert.Equal(t, Int(1).Key(), Numeric(one).Key())
	assert.Equal(t, Int(1).Key(), Real(1).Key())
}

func TestValueNullIdentity(t *testing.T) {
	assert.True(t, Null().Equal(Null()))
	assert.False(t, Null().Equal(Int(0)))
	assert.False(t, Text("").Equal(Null()))
	assert.NotEqual(t, Null().Key(), Text("").Key())
	assert.True(t, Value{}.IsNull())
}

func TestValueKeysDistinguishKinds(t *testing.T) {
	keys := map[string]Value{}
	for _, v := range []Value{Null(), Bool(true), Bool(false), Int(1), Text("1"), Blob([]byte("1")), Time(time.Unix(1, 0))} {
		_, dup := keys[v.Key()]
		require.False(t, dup, "duplicate key for %v", v)
		keys[v.Key()] = v
	}
}

func TestValueCompare(t *testing.T) {
	assert.Equal(t, -1, Int(1).Compare(Int(2)))
	assert.Equal(t, 0, Int(2).Compare(Numeric(decimal.NewFromInt(2))))
	assert.Equal(t, 1, Real(2.5).Compare(Int(2)))
	assert.Equal(t, -1, Text("a").Compare(Text("b")))

	// NULL sorts last
	assert.Equal(t, 1, Null().Compare(Int(1)))
	assert.Equal(t, -1, Int(1).Compare(Null()))
	assert.Equal(t, 0, Null().Compare(Null()))
}

func TestValueLiteral(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{Null(), "NULL"},
		{Bool(true), "TRUE"},
		{Int(-3), "-3"},
		{Real(1.5), "1.5::float8"},
		{Numeric(decimal.RequireFromString("2.50")), "2.5::numeric"},
		{Text("it's"), "'it''s'"},
		{Blob([]byte{0xca, 0xfe}), `'\xcafe'::bytea`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.v.Literal())
	}
}

func TestFromDriver(t *testing.T) {
	tests := []struct {
		name     string
		src      any
		typeName string
		want     Value
	}{
		{"nil", nil, "INT4", Null()},
		{"int64", int64(7), "INT8", Int(7)},
		{"numeric text", "12.50", "NUMERIC", Numeric(decimal.RequireFromString("12.5"))},
		{"numeric nan", "NaN", "NUMERIC", Real(math.NaN())},
		{"int bytes", []byte("42"), "INT4", Int(42)},
		{"bool text", "t", "BOOL", Bool(true)},
		{"bytea", []byte{1, 2}, "BYTEA", Blob([]byte{1, 2})},
		{"text", "hello", "TEXT", Text("hello")},
		{"varchar bytes", []byte("x"), "VARCHAR", Text("x")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromDriver(tt.src, tt.typeName)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v, want %v", got, tt.want)
			assert.Equal(t, tt.want.Kind(), got.Kind())
		})
	}

	_, err := FromDriver(struct{}{}, "")
	assert.Error(t, err)
	_, err = FromDriver("x", "INT4")
	assert.Error(t, err)
}

func TestValueArgRoundTrip(t *testing.T) {
	for _, v := range []Value{Null(), Bool(true), Int(5), Real(0.25), Text("a"), Blob([]byte("b"))} {
		back, err := FromArg(v.Arg())
		require.NoError(t, err)
		assert.True(t, v.Equal(back), "%v", v)
	}
}

func TestValueMarshalJSON(t *testing.T) {
	row := Row{Null(), Bool(true), Int(3), Real(math.Inf(1)), Numeric(decimal.RequireFromString("1.25")), Text("x")}
	data, err := json.Marshal(row)
	require.NoError(t, err)
	assert.JSONEq(t, `[null, true, 3, "+Inf", 1.25, "x"]`, string(data))
}
