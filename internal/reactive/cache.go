package reactive

import (
	"fmt"
	"strings"

	"github.com/zoravur/pglive/internal/store"
)

// Cache holds compiled operators by query text and arguments. An entry
// disappears when its operator is released.
type Cache struct {
	entries map[string]Operator
}

func NewCache() *Cache {
	return &Cache{entries: map[string]Operator{}}
}

// cacheKey combines canonical query text with the bound argument values.
// Arguments that do not convert to values fall back to their %v form.
func cacheKey(canonical string, args []any) string {
	var sb strings.Builder
	sb.WriteString(canonical)
	for _, a := range args {
		sb.WriteString("\x00")
		if v, err := store.FromArg(a); err == nil {
			sb.WriteString(v.Kind().String())
			sb.WriteString(":")
			sb.WriteString(v.Key())
			continue
		}
		fmt.Fprintf(&sb, "%T:%v", a, a)
	}
	return sb.String()
}

func (c *Cache) Get(key string) (Operator, bool) {
	op, ok := c.entries[key]
	if ok && op.Released() {
		delete(c.entries, key)
		return nil, false
	}
	return op, ok
}

func (c *Cache) Put(key string, op Operator) {
	c.entries[key] = op
	if h, ok := op.(interface{ onRelease(func()) }); ok {
		h.onRelease(func() {
			if c.entries[key] == op {
				delete(c.entries, key)
			}
		})
	}
}

func (c *Cache) Len() int { return len(c.entries) }

// Each visits the cached operators.
func (c *Cache) Each(fn func(key string, op Operator)) {
	for k, op := range c.entries {
		fn(k, op)
	}
}
