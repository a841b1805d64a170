package reactive

import (
	"github.com/zoravur/pglive/internal/store"
)

// windowPatch returns positional events that turn prev into next. A lone
// row changing place becomes one Move when same reports the two images as
// one row; a lone row replaced in place becomes one positional Update.
// Otherwise the script follows the longest common subsequence, and each
// event's Pos refers to the list as patched by the events before it. A nil
// same compares whole rows.
func windowPatch(prev, next []store.Row, same func(a, b store.Row) bool) []Event {
	n, m := len(prev), len(next)
	// lcs[i][j] is the LCS length of prev[i:] and next[j:]
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if prev[i].Equal(next[j]) {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else {
				lcs[i][j] = max(lcs[i+1][j], lcs[i][j+1])
			}
		}
	}

	var out []Event
	var dels, ins []int // indices into prev / next
	i, j, pos := 0, 0, 0
	for i < n || j < m {
		switch {
		case i < n && j < m && prev[i].Equal(next[j]) && lcs[i][j] == lcs[i+1][j+1]+1:
			i, j, pos = i+1, j+1, pos+1
		case j < m && (i == n || lcs[i][j+1] >= lcs[i+1][j]):
			out = append(out, Insert(next[j]).at(pos))
			ins = append(ins, j)
			j, pos = j+1, pos+1
		default:
			out = append(out, Delete(prev[i]).at(pos))
			dels = append(dels, i)
			i++
		}
	}

	if len(dels) == 1 && len(ins) == 1 {
		from, to := dels[0], ins[0]
		if from == to {
			ev := Update(prev[from], next[to])
			ev.Pos, ev.To = from, to
			return []Event{ev}
		}
		if same == nil {
			same = store.Row.Equal
		}
		if same(prev[from], next[to]) {
			return []Event{Move(from, to, prev[from], next[to])}
		}
	}
	return out
}

// applyPatch replays positional events on rows, as a consumer would.
func applyPatch(rows []store.Row, events []Event) []store.Row {
	out := append([]store.Row(nil), rows...)
	for _, ev := range events {
		switch ev.Kind {
		case EventInsert:
			out = append(out[:ev.Pos], append([]store.Row{ev.New}, out[ev.Pos:]...)...)
		case EventDelete:
			out = append(out[:ev.Pos], out[ev.Pos+1:]...)
		case EventUpdate:
			out[ev.Pos] = ev.New
		case EventMove:
			out = append(out[:ev.Pos], out[ev.Pos+1:]...)
			out = append(out[:ev.To], append([]store.Row{ev.New}, out[ev.To:]...)...)
		}
	}
	return out
}

// bagDiff returns Deletes then Inserts turning the multiset prev into next.
func bagDiff(prev, next []store.Row) []Event {
	before, after := store.NewBag(prev...), store.NewBag(next...)
	var out []Event
	before.Each(func(r store.Row, n int) {
		for i := after.Count(r); i < n; i++ {
			out = append(out, Delete(r))
		}
	})
	after.Each(func(r store.Row, n int) {
		for i := before.Count(r); i < n; i++ {
			out = append(out, Insert(r))
		}
	})
	return out
}
