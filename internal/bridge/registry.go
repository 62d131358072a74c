package bridge

import (
	"sort"
	"sync"
)

// Registry is the authoritative set of live sessions keyed by producer id.
// Remove is the claim point for teardown: exactly one caller wins it, so
// concurrent stops never double-run cleanup.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Insert adds the session; a second insert for the same producer fails.
func (r *Registry) Insert(sess *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[sess.ProducerID]; exists {
		return ErrAlreadyStarted
	}
	r.sessions[sess.ProducerID] = sess
	return nil
}

// Get returns the live session for the producer, if any.
func (r *Registry) Get(producerID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[producerID]
	return sess, ok
}

// Remove claims the session for teardown. The second concurrent caller for
// the same producer gets ok=false and must treat the stop as already done.
func (r *Registry) Remove(producerID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[producerID]
	if ok {
		delete(r.sessions, producerID)
	}
	return sess, ok
}

// List returns the live sessions ordered by producer id.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProducerID < out[j].ProducerID })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
