package protocol

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// Subscription is one client's live query as listed by /api/live.
type Subscription struct {
	ID       string    `json:"id"`
	ClientID string    `json:"client"`
	SQL      string    `json:"sql"`
	Args     []any     `json:"args,omitempty"`
	Operator string    `json:"operator"`
	Since    time.Time `json:"since"`
}

func (s *Subscription) key() string { return s.ClientID + "/" + s.ID }

// Registry tracks live subscriptions across connections.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

func NewRegistry() *Registry {
	return &Registry{subs: make(map[string]*Subscription)}
}

// Add registers sub, reporting false when the client already uses its ID.
func (r *Registry) Add(sub *Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[sub.key()]; ok {
		return false
	}
	r.subs[sub.key()] = sub
	return true
}

func (r *Registry) Remove(clientID, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, clientID+"/"+id)
}

// RemoveClient drops every subscription of a client.
func (r *Registry) RemoveClient(clientID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for k := range r.subs {
		if strings.HasPrefix(k, clientID+"/") {
			delete(r.subs, k)
			count++
		}
	}
	return count
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Snapshot returns copies of the subscriptions, oldest first.
func (r *Registry) Snapshot() []Subscription {
	r.mu.RLock()
	out := make([]Subscription, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, *s)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b Subscription) int {
		if c := a.Since.Compare(b.Since); c != 0 {
			return c
		}
		return strings.Compare(a.key(), b.key())
	})
	return out
}
