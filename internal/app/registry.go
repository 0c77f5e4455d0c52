package app

import (
	"sync"
	"time"
)

// Registry keeps one State per session id.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

type entry struct {
	op      sync.Mutex // held for the whole of a mutation, API call included
	state   State
	touched time.Time
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry), now: time.Now}
}

func (r *Registry) entry(sid string) *entry {
	e, ok := r.entries[sid]
	if !ok {
		e = &entry{}
		r.entries[sid] = e
	}
	e.touched = r.now()
	return e
}

// Get returns the session's current snapshot; unknown sessions get the zero State.
func (r *Registry) Get(sid string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entry(sid).state
}

// Update replaces the session's snapshot with fn's result and returns it.
func (r *Registry) Update(sid string, fn func(State) State) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entry(sid)
	e.state = fn(e.state)
	return e.state
}

// Lock serializes mutations of one session. Reads through Get are not
// blocked while it is held.
func (r *Registry) Lock(sid string) (unlock func()) {
	r.mu.Lock()
	e := r.entry(sid)
	r.mu.Unlock()
	e.op.Lock()
	return e.op.Unlock
}

func (r *Registry) Drop(sid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, sid)
}

// Prune drops sessions idle for longer than idle and reports how many went.
func (r *Registry) Prune(idle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-idle)
	n := 0
	for sid, e := range r.entries {
		if e.touched.Before(cutoff) && e.op.TryLock() {
			delete(r.entries, sid)
			e.op.Unlock()
			n++
		}
	}
	return n
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
