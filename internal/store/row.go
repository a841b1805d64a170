package store

import (
	"strings"
)

// Row is a fixed-arity tuple of store values.
type Row []Value

// Column describes one result column.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func (r Row) Equal(o Row) bool {
	if len(r) != len(o) {
		return false
	}
	for i := range r {
		if !r[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

func (r Row) Key() string {
	var sb strings.Builder
	for i, v := range r {
		if i > 0 {
			sb.WriteByte('|')
		}
		sb.WriteString(v.Key())
	}
	return sb.String()
}

// Args returns the row's values as query parameters.
func (r Row) Args() []any {
	out := make([]any, len(r))
	for i, v := range r {
		out[i] = v.Arg()
	}
	return out
}

func (r Row) Clone() Row {
	return append(Row(nil), r...)
}

func (r Row) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, v := range r {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(v.String())
	}
	sb.WriteByte(')')
	return sb.String()
}

// Concat joins two rows, used for join output.
func Concat(a, b Row) Row {
	out := make(Row, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

// NullRow returns a row of n NULLs.
func NullRow(n int) Row {
	return make(Row, n)
}

// Values builds a Row from Go values, for tests and literal rows.
func Values(vals ...any) (Row, error) {
	out := make(Row, len(vals))
	for i, v := range vals {
		x, err := FromArg(v)
		if err != nil {
			return nil, err
		}
		out[i] = x
	}
	return out, nil
}

// MustValues is Values that panics on unsupported types.
func MustValues(vals ...any) Row {
	r, err := Values(vals...)
	if err != nil {
		panic(err)
	}
	return r
}

// ColumnNames returns the names of cols in order.
func ColumnNames(cols []Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

// Bag counts rows by key. It preserves first-seen order.
type Bag struct {
	counts map[string]int
	rows   map[string]Row
	order  []string
}

func NewBag(rows ...Row) *Bag {
	b := &Bag{counts: map[string]int{}, rows: map[string]Row{}}
	for _, r := range rows {
		b.Add(r, 1)
	}
	return b
}

func (b *Bag) Add(r Row, n int) {
	k := r.Key()
	if _, ok := b.rows[k]; !ok {
		b.rows[k] = r
		b.order = append(b.order, k)
	}
	b.counts[k] += n
}

func (b *Bag) Count(r Row) int { return b.counts[r.Key()] }

// Each visits distinct rows in first-seen order with their counts.
func (b *Bag) Each(fn func(r Row, n int)) {
	for _, k := range b.order {
		fn(b.rows[k], b.counts[k])
	}
}

// Rows expands the bag into a row list.
func (b *Bag) Rows() []Row {
	var out []Row
	b.Each(func(r Row, n int) {
		for i := 0; i < n; i++ {
			out = append(out, r)
		}
	})
	return out
}

// BagEqual reports whether a and b hold the same rows with the same
// multiplicities.
func BagEqual(a, b []Row) bool {
	if len(a) != len(b) {
		return false
	}
	ba := NewBag(a...)
	bb := NewBag(b...)
	equal := true
	ba.Each(func(r Row, n int) {
		if bb.Count(r) != n {
			equal = false
		}
	})
	return equal
}
