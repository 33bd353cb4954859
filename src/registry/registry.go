// Package registry owns the set of live connections, indexed by id and by
// owning identity, and enforces per-transport capacity ceilings. All
// cascading cleanup (channel subscriptions, signaling rooms, heartbeat
// tasks) funnels through Unregister so eviction behaves uniformly no matter
// who triggers it.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/signalmesh/realtime/src/types"
)

// Registry tracks every live connection in the process.
type Registry struct {
	mu         sync.RWMutex
	conns      map[string]*Connection
	byIdentity map[string]map[string]struct{} // identity -> set of connection ids
	counts     map[types.TransportKind]int
	limits     map[types.TransportKind]int

	onUnregister []func(*Connection)

	logger zerolog.Logger
}

// New creates a registry with the given per-transport capacity ceilings.
func New(limits map[types.TransportKind]int, logger zerolog.Logger) *Registry {
	return &Registry{
		conns:      make(map[string]*Connection),
		byIdentity: make(map[string]map[string]struct{}),
		counts:     make(map[types.TransportKind]int),
		limits:     limits,
		logger:     logger.With().Str("component", "registry").Logger(),
	}
}

// OnUnregister appends a cascade hook invoked after a connection is removed
// from the primary maps. Hooks run outside the registry lock.
func (r *Registry) OnUnregister(fn func(*Connection)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onUnregister = append(r.onUnregister, fn)
}

// Register allocates a connection in CONNECTING state. It fails with
// ErrCapacityExceeded when the transport's ceiling is reached.
func (r *Registry) Register(kind types.TransportKind, identity string, caps types.Capabilities) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit, ok := r.limits[kind]; ok && r.counts[kind] >= limit {
		return nil, fmt.Errorf("register %s: %w", kind, types.ErrCapacityExceeded)
	}

	now := time.Now()
	conn := &Connection{
		ID:           uuid.New().String(),
		Kind:         kind,
		Identity:     identity,
		Caps:         caps,
		CreatedAt:    now,
		status:       types.StatusConnecting,
		lastActivity: now,
		done:         make(chan struct{}),
	}
	r.conns[conn.ID] = conn
	r.counts[kind]++
	if identity != "" {
		set, ok := r.byIdentity[identity]
		if !ok {
			set = make(map[string]struct{})
			r.byIdentity[identity] = set
		}
		set[conn.ID] = struct{}{}
	}

	r.logger.Info().
		Str("connection_id", conn.ID).
		Str("transport", string(kind)).
		Str("identity", identity).
		Msg("connection registered")
	return conn, nil
}

// MarkConnected transitions a connection out of the handshake state.
func (r *Registry) MarkConnected(id string) error {
	return r.transition(id, types.StatusConnected)
}

// MarkDraining flags a connection that is being shut down gracefully.
func (r *Registry) MarkDraining(id string) error {
	return r.transition(id, types.StatusDraining)
}

func (r *Registry) transition(id string, s types.ConnStatus) error {
	conn, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("transition %s: %w", id, types.ErrUnknownConnection)
	}
	conn.setStatus(s)
	return nil
}

// Unregister removes a connection and runs the cascade hooks. It is
// idempotent: unregistering an absent id is a no-op so concurrent
// disconnect paths never race into errors.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	conn, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, id)
	r.counts[conn.Kind]--
	if conn.Identity != "" {
		if set, ok := r.byIdentity[conn.Identity]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(r.byIdentity, conn.Identity)
			}
		}
	}
	hooks := make([]func(*Connection), len(r.onUnregister))
	copy(hooks, r.onUnregister)
	r.mu.Unlock()

	conn.close()
	for _, fn := range hooks {
		fn(conn)
	}

	r.logger.Info().
		Str("connection_id", id).
		Str("transport", string(conn.Kind)).
		Msg("connection unregistered")
}

// Get returns the connection for an id.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// Touch records activity for a connection. Absent ids are ignored; an
// in-flight frame racing a disconnect is harmless.
func (r *Registry) Touch(id string) {
	if conn, ok := r.Get(id); ok {
		conn.Touch()
	}
}

// ConnectionsFor returns the ids of every live connection owned by an
// identity, used to deliver to a logical user across all their devices.
func (r *Registry) ConnectionsFor(identity string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.byIdentity[identity]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// Snapshot returns every live connection. Callers iterate the copy so a
// concurrent unregister never invalidates the walk.
func (r *Registry) Snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

// HasIdentity reports whether any live connection belongs to the identity.
func (r *Registry) HasIdentity(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdentity[identity]) > 0
}

// CountByTransport returns the live connection count per transport kind.
func (r *Registry) CountByTransport() map[types.TransportKind]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[types.TransportKind]int, len(r.counts))
	for k, v := range r.counts {
		counts[k] = v
	}
	return counts
}
