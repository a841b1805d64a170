package reactive

import (
	"context"
	"fmt"

	"github.com/zoravur/pglive/internal/store"
)

const (
	sideLeft  = 0
	sideRight = 1
)

// JoinSpec describes a two-way join. Aliases name the sides inside On.
type JoinSpec struct {
	LeftAlias  string
	RightAlias string
	On         string
	LeftOuter  bool
	RightOuter bool
}

func (s JoinSpec) keyword() string {
	switch {
	case s.LeftOuter && s.RightOuter:
		return "FULL JOIN"
	case s.LeftOuter:
		return "LEFT JOIN"
	case s.RightOuter:
		return "RIGHT JOIN"
	}
	return "JOIN"
}

// joinSide holds the side-queries used when a row of this side changes.
type joinSide struct {
	op    Operator
	outer bool
	width int
	// partners fetches the other side's rows matching a row of this side
	partners string
	// matches counts this side's rows matching a row of the other side
	matches string
}

// Join combines rows of two operators. Output rows are the left columns
// followed by the right columns; outer sides pad with NULLs.
type Join struct {
	*base
	spec  JoinSpec
	sides [2]*joinSide
}

func NewJoin(ctx context.Context, left, right Operator, spec JoinSpec) (*Join, error) {
	st, err := needStore("join", left, right)
	if err != nil {
		return nil, err
	}
	args, err := extendArgs("join", nil, left, right)
	if err != nil {
		return nil, err
	}
	if spec.On == "" {
		spec.On = "TRUE"
	}
	if spec.LeftAlias == "" || spec.RightAlias == "" {
		return nil, structuralf("join", nil, "both sides need an alias")
	}

	j := &Join{base: newBase("join", st), spec: spec}
	j.args = args
	la, ra := quote(spec.LeftAlias), quote(spec.RightAlias)
	j.sql = fmt.Sprintf("SELECT * FROM (%s) AS %s %s (%s) AS %s ON %s",
		left.SQL(), la, spec.keyword(), right.SQL(), ra, spec.On)
	if err := j.describe(ctx); err != nil {
		return nil, err
	}

	lcols, rcols := left.Columns(), right.Columns()
	n := len(args)
	j.sides[sideLeft] = &joinSide{
		op:       left,
		outer:    spec.LeftOuter,
		width:    len(lcols),
		partners: fmt.Sprintf("SELECT %s.* FROM %s AS %s JOIN (%s) AS %s ON %s", ra, rowSource(lcols, n+1), la, right.SQL(), ra, spec.On),
		matches:  fmt.Sprintf("SELECT count(*) FROM (%s) AS %s JOIN %s AS %s ON %s", left.SQL(), la, rowSource(rcols, n+1), ra, spec.On),
	}
	j.sides[sideRight] = &joinSide{
		op:       right,
		outer:    spec.RightOuter,
		width:    len(rcols),
		partners: fmt.Sprintf("SELECT %s.* FROM (%s) AS %s JOIN %s AS %s ON %s", la, left.SQL(), la, rowSource(rcols, n+1), ra, spec.On),
		matches:  fmt.Sprintf("SELECT count(*) FROM %s AS %s JOIN (%s) AS %s ON %s", rowSource(lcols, n+1), la, right.SQL(), ra, spec.On),
	}

	j.attach(left, func(ctx context.Context, ev Event) error { return j.onSide(ctx, sideLeft, ev) })
	j.attach(right, func(ctx context.Context, ev Event) error { return j.onSide(ctx, sideRight, ev) })
	return j, nil
}

// combine builds an output row from a row of side s and its partner.
func (j *Join) combine(s int, row, partner store.Row) store.Row {
	if s == sideLeft {
		return store.Concat(row, partner)
	}
	return store.Concat(partner, row)
}

func (j *Join) partners(ctx context.Context, s int, row store.Row) ([]store.Row, error) {
	return j.query(ctx, j.sides[s].partners, withRows(j.args, row)...)
}

// matchCounter counts, per partner, the rows of side s currently matching
// it. Results are memoized for the duration of one event.
func (j *Join) matchCounter(s int) func(ctx context.Context, partner store.Row) (int64, error) {
	memo := map[string]int64{}
	return func(ctx context.Context, partner store.Row) (int64, error) {
		k := partner.Key()
		if n, ok := memo[k]; ok {
			return n, nil
		}
		c, err := j.count(ctx, j.sides[s].matches, withRows(j.args, partner)...)
		if err != nil {
			return 0, err
		}
		memo[k] = c[0]
		return c[0], nil
	}
}

func (j *Join) onSide(ctx context.Context, s int, ev Event) error {
	ev, ok := unordered(ev)
	if !ok {
		return nil
	}
	switch ev.Kind {
	case EventInsert:
		return j.inserted(ctx, s, ev.New)
	case EventDelete:
		return j.deleted(ctx, s, ev.Old)
	case EventUpdate:
		return j.updated(ctx, s, ev.Old, ev.New)
	}
	return nil
}

func (j *Join) inserted(ctx context.Context, s int, row store.Row) error {
	this, other := j.sides[s], j.sides[1-s]
	ps, err := j.partners(ctx, s, row)
	if err != nil {
		return err
	}
	if len(ps) == 0 {
		if this.outer {
			return j.emit(ctx, Insert(j.combine(s, row, store.NullRow(other.width))))
		}
		return nil
	}
	matches := j.matchCounter(s)
	nulls := store.NullRow(this.width)
	for _, p := range ps {
		if other.outer {
			n, err := matches(ctx, p)
			if err != nil {
				return err
			}
			if n == 1 {
				if err := j.emit(ctx, Update(j.combine(s, nulls, p), j.combine(s, row, p))); err != nil {
					return err
				}
				continue
			}
		}
		if err := j.emit(ctx, Insert(j.combine(s, row, p))); err != nil {
			return err
		}
	}
	return nil
}

func (j *Join) deleted(ctx context.Context, s int, row store.Row) error {
	this, other := j.sides[s], j.sides[1-s]
	ps, err := j.partners(ctx, s, row)
	if err != nil {
		return err
	}
	if len(ps) == 0 {
		if this.outer {
			return j.emit(ctx, Delete(j.combine(s, row, store.NullRow(other.width))))
		}
		return nil
	}
	matches := j.matchCounter(s)
	nulls := store.NullRow(this.width)
	for _, p := range ps {
		if other.outer {
			n, err := matches(ctx, p)
			if err != nil {
				return err
			}
			if n == 0 {
				if err := j.emit(ctx, Update(j.combine(s, row, p), j.combine(s, nulls, p))); err != nil {
					return err
				}
				continue
			}
		}
		if err := j.emit(ctx, Delete(j.combine(s, row, p))); err != nil {
			return err
		}
	}
	return nil
}

// updated diffs the partner multisets of the old and new row. Partners
// kept by both are paired into Updates; the rest become Deletes and
// Inserts, or null-padding transitions when the other side is outer.
func (j *Join) updated(ctx context.Context, s int, old, row store.Row) error {
	this, other := j.sides[s], j.sides[1-s]
	before, err := j.partners(ctx, s, old)
	if err != nil {
		return err
	}
	after, err := j.partners(ctx, s, row)
	if err != nil {
		return err
	}
	otherNulls := store.NullRow(other.width)
	thisNulls := store.NullRow(this.width)

	if this.outer && len(before) == 0 && len(after) == 0 {
		return j.emit(ctx, Update(j.combine(s, old, otherNulls), j.combine(s, row, otherNulls)))
	}
	if this.outer && len(before) == 0 {
		if err := j.emit(ctx, Delete(j.combine(s, old, otherNulls))); err != nil {
			return err
		}
	}

	oldBag, newBag := store.NewBag(before...), store.NewBag(after...)
	matches := j.matchCounter(s)
	var emitErr error
	emit := func(ev Event) {
		if emitErr == nil {
			emitErr = j.emit(ctx, ev)
		}
	}

	oldBag.Each(func(p store.Row, oc int) {
		paired := min(oc, newBag.Count(p))
		for i := 0; i < paired; i++ {
			emit(Update(j.combine(s, old, p), j.combine(s, row, p)))
		}
		for i := paired; i < oc && emitErr == nil; i++ {
			if other.outer {
				n, err := matches(ctx, p)
				if err != nil {
					emitErr = err
					return
				}
				if n == 0 {
					emit(Update(j.combine(s, old, p), j.combine(s, thisNulls, p)))
					continue
				}
			}
			emit(Delete(j.combine(s, old, p)))
		}
	})
	if emitErr != nil {
		return emitErr
	}

	newBag.Each(func(p store.Row, nc int) {
		paired := min(nc, oldBag.Count(p))
		for i := paired; i < nc && emitErr == nil; i++ {
			if other.outer {
				n, err := matches(ctx, p)
				if err != nil {
					emitErr = err
					return
				}
				if n == 1 {
					emit(Update(j.combine(s, thisNulls, p), j.combine(s, row, p)))
					continue
				}
			}
			emit(Insert(j.combine(s, row, p)))
		}
	})
	if emitErr != nil {
		return emitErr
	}

	if this.outer && len(after) == 0 {
		return j.emit(ctx, Insert(j.combine(s, row, otherNulls)))
	}
	return nil
}
