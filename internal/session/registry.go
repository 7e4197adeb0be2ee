package session

import (
	"sync"
	"time"
)

// Registry holds one Session per browser device, created on first use.
//
// EVICTION:
//
// Every device that ever sent a request has an entry, and a logged-in
// entry owns a poll job. Browsers rarely log out, they just go away, so
// Sweep drops entries nobody has asked for within the idle window:
//
//	Get(dev)   → lastSeen = now
//	Sweep(30m) → lastSeen older than 30m? Close it, forget it
//
// Close keeps the cached user ID, so a device that comes back after
// eviction gets a fresh Session that resumes the same login on Bootstrap.
type Registry struct {
	deps Deps
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

type entry struct {
	session  *Session
	lastSeen time.Time
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{deps: deps, now: time.Now, sessions: make(map[string]*entry)}
}

// Get returns the session for device, creating it if needed.
func (r *Registry) Get(device string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[device]
	if !ok {
		e = &entry{session: New(device, r.deps)}
		r.sessions[device] = e
	}
	e.lastSeen = r.now()
	return e.session
}

// Len returns the number of known devices.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep closes and forgets every session not fetched within idle, and
// returns how many it dropped.
func (r *Registry) Sweep(idle time.Duration) int {
	cutoff := r.now().Add(-idle)

	r.mu.Lock()
	var idleSessions []*Session
	for device, e := range r.sessions {
		if e.lastSeen.Before(cutoff) {
			idleSessions = append(idleSessions, e.session)
			delete(r.sessions, device)
		}
	}
	r.mu.Unlock()

	for _, s := range idleSessions {
		s.Close()
	}
	return len(idleSessions)
}

// Close releases every session. Cached user IDs are kept.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range sessions {
		e.session.Close()
	}
}
