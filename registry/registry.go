package registry

import (
	"sync"

	"github.com/ChrisTaylor17/society/domain"
)

// Registry is the authoritative set of active connections. It emits no
// events; callers decide what to broadcast after a mutation.
type Registry struct {
	conns map[string]domain.Connection
	total int64
	mu    sync.RWMutex
}

func New() *Registry {
	return &Registry{
		conns: make(map[string]domain.Connection),
	}
}

// Register adds conn and returns the new count. Registering an id that is
// already present changes nothing.
func (r *Registry) Register(conn domain.Connection) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[conn.ID()]; !exists {
		r.conns[conn.ID()] = conn
		r.total++
	}
	return len(r.conns)
}

// Deregister removes conn if present and returns the new count.
func (r *Registry) Deregister(conn domain.Connection) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.conns, conn.ID())
	return len(r.conns)
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[id]
	return ok
}

// Snapshot returns a copy of the current membership. Later mutations do not
// affect the returned slice.
func (r *Registry) Snapshot() []domain.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]domain.Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

// Total is the number of distinct connections ever registered.
func (r *Registry) Total() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}
