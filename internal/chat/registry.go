package chat

import "sync"

// Handle identifies a registry entry. It is the owning session's ID.
type Handle string

// Member is one active entry as seen by a snapshot.
type Member struct {
	Handle   Handle
	Username string
	Session  *Session
}

// Registry is the authoritative set of active sessions. Usernames are unique
// for as long as their session is registered. Iteration order is join order.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]Handle
	byHandle map[Handle]*Member
	order    []Handle
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:   make(map[string]Handle),
		byHandle: make(map[Handle]*Member),
	}
}

// Claim atomically reserves username for s. It fails with ErrUsernameTaken
// when the name is held by another session and with ErrAlreadyJoined when s
// is already registered.
func (r *Registry) Claim(username string, s *Session) (Handle, error) {
	h := Handle(s.ID())

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byHandle[h]; ok {
		return "", ErrAlreadyJoined
	}
	if _, taken := r.byName[username]; taken {
		return "", ErrUsernameTaken
	}

	r.byName[username] = h
	r.byHandle[h] = &Member{Handle: h, Username: username, Session: s}
	r.order = append(r.order, h)
	return h, nil
}

// Release removes the entry for h and returns the username it held.
// Releasing an unknown or already released handle is a no-op.
func (r *Registry) Release(h Handle) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.byHandle[h]
	if !ok {
		return "", false
	}
	delete(r.byHandle, h)
	delete(r.byName, m.Username)
	for i, cur := range r.order {
		if cur == h {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return m.Username, true
}

// Snapshot returns the active members in join order at a single point in time.
func (r *Registry) Snapshot() []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Member, 0, len(r.order))
	for _, h := range r.order {
		out = append(out, *r.byHandle[h])
	}
	return out
}

// Usernames returns the active usernames in join order.
func (r *Registry) Usernames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.order))
	for _, h := range r.order {
		out = append(out, r.byHandle[h].Username)
	}
	return out
}

// Lookup reports whether username is currently held.
func (r *Registry) Lookup(username string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byName[username]
	return h, ok
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byHandle)
}
