/*
Package chat contains the realtime message broker.

This file defines the ConnectionRegistry, which owns the set of live
connections. Every connection is tagged with its authenticated identity; one
identity may hold several connections (multiple devices) unless policy
forbids it.
*/
package chat

import (
	"sync"

	"github.com/rs/zerolog"

	"relaychat/internal/app/user"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
)

// Conn is the broker-facing surface of one live client connection. The
// concrete WebSocket implementation is Client; tests substitute fakes.
type Conn interface {
	// ID returns the unique connection id.
	ID() string

	// Identity returns the authenticated identity bound at handshake time.
	Identity() user.Identity

	// Enqueue appends an encoded frame to the connection's bounded outbound
	// queue without blocking. It reports false when the queue is full.
	Enqueue(frame []byte) bool

	// Close tears the connection down, reporting the given application error
	// code and reason to the peer on a best-effort basis. Idempotent.
	Close(code int, reason string)
}

// Registry tracks live connections by connection id and by identity. Its lock
// is independent of the per-room locks in Directory, so registry operations
// never wait on room fan-out.
type Registry struct {
	mu sync.RWMutex

	// conns maps connection id to the live connection.
	conns map[string]Conn

	// byIdentity maps identity id to that identity's connection ids.
	byIdentity map[string]map[string]struct{}

	// allowMulti permits several concurrent connections per identity.
	allowMulti bool

	// onUnregister is invoked after a connection is removed, with the removed
	// connection. The Directory installs its LeaveAll here so stale
	// subscriptions are dropped immediately.
	onUnregister func(Conn)

	logger zerolog.Logger
}

// NewRegistry constructs a Registry. allowMulti controls the concurrent
// connections-per-identity policy.
func NewRegistry(allowMulti bool) *Registry {
	return &Registry{
		conns:      make(map[string]Conn),
		byIdentity: make(map[string]map[string]struct{}),
		allowMulti: allowMulti,
		logger:     logx.Logger().With().Str("component", "registry").Logger(),
	}
}

// OnUnregister installs the cleanup hook run after every successful
// unregister. Called once during wiring, before any connection registers.
func (r *Registry) OnUnregister(fn func(Conn)) {
	r.onUnregister = fn
}

// Register adds the connection to the registry. It fails with
// DuplicateConnection when policy forbids a second connection for the same
// identity.
func (r *Registry) Register(c Conn) *errs.CustomError {
	identityID := c.Identity().ID

	r.mu.Lock()

	if !r.allowMulti && len(r.byIdentity[identityID]) > 0 {
		r.mu.Unlock()
		r.logger.Warn().
			Str("identity_id", identityID).
			Msg("Rejected second connection for identity under single-connection policy.")
		return errs.NewError(errs.ErrDuplicateConnection)
	}

	r.conns[c.ID()] = c

	set, ok := r.byIdentity[identityID]
	if !ok {
		set = make(map[string]struct{})
		r.byIdentity[identityID] = set
	}
	set[c.ID()] = struct{}{}

	total := len(r.conns)
	r.mu.Unlock()

	r.logger.Info().
		Str("conn_id", c.ID()).
		Str("identity_id", identityID).
		Int("total_conns", total).
		Msg("Connection registered.")

	return nil
}

// Unregister removes the connection and triggers the cleanup hook so the
// Directory drops all of its room subscriptions. Idempotent: unregistering an
// unknown id is a no-op.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()

	c, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return
	}

	delete(r.conns, connID)

	identityID := c.Identity().ID
	if set, ok := r.byIdentity[identityID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.byIdentity, identityID)
		}
	}

	total := len(r.conns)
	r.mu.Unlock()

	if r.onUnregister != nil {
		r.onUnregister(c)
	}

	r.logger.Info().
		Str("conn_id", connID).
		Str("identity_id", identityID).
		Int("total_conns", total).
		Msg("Connection unregistered.")
}

// Lookup returns the live connection for the given id.
func (r *Registry) Lookup(connID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[connID]
	return c, ok
}

// ConnectionsFor returns all live connections belonging to the identity.
// The result is a snapshot; it may be empty.
func (r *Registry) ConnectionsFor(identityID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids, ok := r.byIdentity[identityID]
	if !ok {
		return nil
	}

	conns := make([]Conn, 0, len(ids))
	for id := range ids {
		if c, ok := r.conns[id]; ok {
			conns = append(conns, c)
		}
	}
	return conns
}

// Drop closes the connection with the given application error and removes it
// from the registry. Used for connection-fatal errors such as SlowConsumer.
func (r *Registry) Drop(connID string, code int, reason string) {
	c, ok := r.Lookup(connID)
	if !ok {
		return
	}

	c.Close(code, reason)
	r.Unregister(connID)
}
