package store

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Kind tags the scalar held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindReal
	KindNumeric
	KindText
	KindBlob
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindReal:
		return "real"
	case KindNumeric:
		return "numeric"
	case KindText:
		return "text"
	case KindBlob:
		return "blob"
	case KindTime:
		return "time"
	}
	return "unknown"
}

// Value is a store-typed scalar. The zero Value is NULL.
type Value struct {
	kind Kind
	i    int64
	f    float64
	d    decimal.Decimal
	s    string
	b    []byte
	t    time.Time
}

func Null() Value { return Value{} }
func Bool(v bool) Value { return Value{kind: KindBool, i: boolInt(v)} }
func Int(v int64) Value { return Value{kind: KindInt, i: v} }
func Real(v float64) Value { return Value{kind: KindReal, f: v} }
func Numeric(v decimal.Decimal) Value { return Value{kind: KindNumeric, d: v} }
func Text(v string) Value { return Value{kind: KindText, s: v} }
func Blob(v []byte) Value { return Value{kind: KindBlob, b: v} }
func Time(v time.Time) Value { return Value{kind: KindTime, t: v} }

func boolInt(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) IsNumber() bool {
	return v.kind == KindInt || v.kind == KindReal || v.kind == KindNumeric
}

// Decimal returns the numeric value of v. ok is false for non-numbers and
// for non-finite reals.
func (v Value) Decimal() (d decimal.Decimal, ok bool) {
	switch v.kind {
	case KindInt:
		return decimal.NewFromInt(v.i), true
	case KindReal:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(v.f), true
	case KindNumeric:
		return v.d, true
	}
	return decimal.Zero, false
}

func (v Value) AsBool() bool { return v.kind == KindBool && v.i == 1 }
func (v Value) AsInt() int64 { return v.i }
func (v Value) AsText() string { return v.s }
func (v Value) AsBlob() []byte { return v.b }
func (v Value) AsTime() time.Time { return v.t }
func (v Value) AsFloat() float64 {
	switch v.kind {
	case KindInt:
		return float64(v.i)
	case KindNumeric:
		return v.d.InexactFloat64()
	}
	return v.f
}

// Equal compares by the store's row identity rules: NULL matches NULL and
// numbers compare by value regardless of representation.
func (v Value) Equal(o Value) bool {
	if v.IsNumber() && o.IsNumber() {
		if v.kind == KindInt && o.kind == KindInt {
			return v.i == o.i
		}
		if v.kind == KindReal && o.kind == KindReal {
			return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
		}
		a, aok := v.Decimal()
		b, bok := o.Decimal()
		if !aok || !bok {
			return v.AsFloat() == o.AsFloat()
		}
		return a.Equal(b)
	}
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.i == o.i
	case KindText:
		return v.s == o.s
	case KindBlob:
		return bytes.Equal(v.b, o.b)
	case KindTime:
		return v.t.Equal(o.t)
	}
	return false
}

// Key is a canonical encoding: Equal values have equal keys.
func (v Value) Key() string {
	switch v.kind {
	case KindNull:
		return "n"
	case KindBool:
		return "b" + strconv.FormatInt(v.i, 10)
	case KindInt, KindReal, KindNumeric:
		if d, ok := v.Decimal(); ok {
			return "#" + d.String()
		}
		return "#" + strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindText:
		return "s" + strconv.Quote(v.s)
	case KindBlob:
		return "x" + hex.EncodeToString(v.b)
	case KindTime:
		return "t" + v.t.UTC().Format(time.RFC3339Nano)
	}
	return "?"
}

// Compare orders values in process. NULL sorts last; values of unrelated
// kinds order by kind. Text compares bytewise, which only matches the store
// under the C collation.
func (v Value) Compare(o Value) int {
	if v.IsNull() || o.IsNull() {
		switch {
		case v.IsNull() && o.IsNull():
			return 0
		case v.IsNull():
			return 1
		default:
			return -1
		}
	}
	if v.IsNumber() && o.IsNumber() {
		a, aok := v.Decimal()
		b, bok := o.Decimal()
		if aok && bok {
			return a.Cmp(b)
		}
		return compareFloat(v.AsFloat(), o.AsFloat())
	}
	if v.kind != o.kind {
		if v.kind < o.kind {
			return -1
		}
		return 1
	}
	switch v.kind {
	case KindBool:
		return compareInt(v.i, o.i)
	case KindText:
		return strings.Compare(v.s, o.s)
	case KindBlob:
		return bytes.Compare(v.b, o.b)
	case KindTime:
		return v.t.Compare(o.t)
	}
	return 0
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Arg returns v as a database/sql parameter.
func (v Value) Arg() any {
	switch v.kind {
	case KindBool:
		return v.i == 1
	case KindInt:
		return v.i
	case KindReal:
		return v.f
	case KindNumeric:
		return v.d.String()
	case KindText:
		return v.s
	case KindBlob:
		return v.b
	case KindTime:
		return v.t
	}
	return nil
}

// Literal renders v as an SQL literal.
func (v Value) Literal() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindBool:
		if v.i == 1 {
			return "TRUE"
		}
		return "FALSE"
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindReal:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return pq.QuoteLiteral(strconv.FormatFloat(v.f, 'g', -1, 64)) + "::float8"
		}
		return strconv.FormatFloat(v.f, 'g', -1, 64) + "::float8"
	case KindNumeric:
		return v.d.String() + "::numeric"
	case KindText:
		return pq.QuoteLiteral(v.s)
	case KindBlob:
		return `'\x` + hex.EncodeToString(v.b) + `'::bytea`
	case KindTime:
		return pq.QuoteLiteral(v.t.Format(time.RFC3339Nano)) + "::timestamptz"
	}
	return "NULL"
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindBool:
		return strconv.FormatBool(v.i == 1)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindReal:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindNumeric:
		return v.d.String()
	case KindText:
		return strconv.Quote(v.s)
	case KindBlob:
		return `\x` + hex.EncodeToString(v.b)
	case KindTime:
		return v.t.Format(time.RFC3339Nano)
	}
	return "?"
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.i == 1)
	case KindInt:
		return json.Marshal(v.i)
	case KindReal:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return json.Marshal(strconv.FormatFloat(v.f, 'g', -1, 64))
		}
		return json.Marshal(v.f)
	case KindNumeric:
		return []byte(v.d.String()), nil
	case KindText:
		return json.Marshal(v.s)
	case KindBlob:
		return json.Marshal(v.b)
	case KindTime:
		return json.Marshal(v.t)
	}
	return nil, fmt.Errorf("marshal value: unknown kind %d", v.kind)
}

// FromArg converts a Go parameter value into a Value.
func FromArg(src any) (Value, error) {
	return FromDriver(src, "")
}

// FromDriver converts a value produced by the driver. typeName is the
// column's database type name and may be empty.
func FromDriver(src any, typeName string) (Value, error) {
	typeName = strings.ToUpper(typeName)
	switch x := src.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case bool:
		return Bool(x), nil
	case int64:
		return Int(x), nil
	case int:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case uint32:
		return Int(int64(x)), nil
	case uint16:
		return Int(int64(x)), nil
	case uint8:
		return Int(int64(x)), nil
	case float64:
		return Real(x), nil
	case float32:
		return Real(float64(x)), nil
	case decimal.Decimal:
		return Numeric(x), nil
	case time.Time:
		return Time(x), nil
	case string:
		return fromText(x, typeName)
	case []byte:
		if typeName == "BYTEA" {
			return Blob(append([]byte(nil), x...)), nil
		}
		if typeName == "" {
			return Blob(append([]byte(nil), x...)), nil
		}
		return fromText(string(x), typeName)
	}
	return Value{}, fmt.Errorf("unsupported value type %T", src)
}

func fromText(s, typeName string) (Value, error) {
	switch typeName {
	case "NUMERIC", "DECIMAL":
		d, err := decimal.NewFromString(s)
		if err != nil {
			// NaN and infinities have no decimal form
			f, ferr := strconv.ParseFloat(s, 64)
			if ferr != nil {
				return Value{}, fmt.Errorf("parse numeric %q: %w", s, err)
			}
			return Real(f), nil
		}
		return Numeric(d), nil
	case "INT2", "INT4", "INT8":
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse integer %q: %w", s, err)
		}
		return Int(n), nil
	case "FLOAT4", "FLOAT8":
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse float %q: %w", s, err)
		}
		return Real(f), nil
	case "BOOL":
		b, err := strconv.ParseBool(s)
		if err != nil {
			return Value{}, fmt.Errorf("parse bool %q: %w", s, err)
		}
		return Bool(b), nil
	}
	return Text(s), nil
}
