// Package registry tracks which user names are bound to live connections.
// It is the authoritative routing state; the persistence layer mirrors it
// for reporting and is reconciled on every mutation by the caller.
package registry

import (
	"sync"

	"github.com/dmavdeev/jimchat/internal/protocol"
)

// Peer is a live, writable connection as seen by the router. Implemented by
// the server's connection type.
type Peer interface {
	// Enqueue queues one frame for delivery. It reports false when the
	// peer's outbound queue is full or the peer is shutting down.
	Enqueue(f protocol.Frame) bool
}

// Registry is a mutex-guarded map of user name to live connection.
// A name maps to at most one peer at any time.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]Peer
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{peers: make(map[string]Peer)}
}

// Bind associates name with p. It reports false and mutates nothing when the
// name is already bound; the caller must reject that login attempt.
func (r *Registry) Bind(name string, p Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.peers[name]; taken {
		return false
	}
	r.peers[name] = p
	return true
}

// Unbind removes the binding for name, if any. Only the peer recorded under
// name is removed, so a stale unbind from an already-replaced connection
// cannot evict its successor.
func (r *Registry) Unbind(name string, p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.peers[name]; ok && cur == p {
		delete(r.peers, name)
	}
}

// Resolve returns the peer bound to name.
func (r *Registry) Resolve(name string) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[name]
	return p, ok
}

// Len returns the number of bound names.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
