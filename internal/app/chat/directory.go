/*
Package chat contains the realtime message broker.

This file defines the RoomDirectory, which maps each room key to the live
connections currently subscribed to it. A connection appears under a room only
while its identity satisfies the MembershipGuard for that room; revocation
removes the subscription rather than merely failing future sends.
*/
package chat

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
)

// roomEntry holds one room's subscriber set under its own lock, so fan-out and
// joins in unrelated rooms never contend.
type roomEntry struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

// Directory records which connections listen on which rooms. The outer lock
// guards only the room map; each room's subscriber set has its own lock.
type Directory struct {
	registry *Registry
	guard    *Guard

	mu    sync.RWMutex
	rooms map[RoomKey]*roomEntry

	// joined tracks each connection's room keys for LeaveAll.
	joinedMu sync.Mutex
	joined   map[string]map[RoomKey]struct{}

	logger zerolog.Logger
}

// NewDirectory constructs a Directory and installs its cleanup hook on the
// registry, so unregistering a connection drops its subscriptions immediately.
func NewDirectory(registry *Registry, guard *Guard) *Directory {
	d := &Directory{
		registry: registry,
		guard:    guard,
		rooms:    make(map[RoomKey]*roomEntry),
		joined:   make(map[string]map[RoomKey]struct{}),
		logger:   logx.Logger().With().Str("component", "directory").Logger(),
	}

	registry.OnUnregister(func(c Conn) {
		d.LeaveAll(c.ID())
	})

	return d
}

// Join subscribes the connection to the room after the guard admits its
// identity. Idempotent under repeated joins.
func (d *Directory) Join(ctx context.Context, c Conn, key RoomKey) *errs.CustomError {
	ok, err := d.guard.CanJoin(ctx, c.Identity(), key)
	if err != nil {
		d.logger.Error().Err(err).
			Str("room_key", key.String()).
			Str("conn_id", c.ID()).
			Msg("Membership check failed during join.")
		return errs.NewError(errs.ErrStorageUnavailable)
	}
	if !ok {
		return errs.NewError(errs.ErrUnauthorized)
	}

	entry := d.room(key)

	entry.mu.Lock()
	entry.conns[c.ID()] = c
	entry.mu.Unlock()

	d.joinedMu.Lock()
	set, found := d.joined[c.ID()]
	if !found {
		set = make(map[RoomKey]struct{})
		d.joined[c.ID()] = set
	}
	set[key] = struct{}{}
	d.joinedMu.Unlock()

	// An unregister racing this join may have run its LeaveAll before the
	// inserts above landed. Re-check registration after inserting: either we
	// see the connection gone and back the join out here, or the unregister's
	// LeaveAll sees the inserts and removes them. No interleaving leaves a
	// subscription behind for an unregistered connection.
	if _, registered := d.registry.Lookup(c.ID()); !registered {
		d.Leave(c.ID(), key)
		d.logger.Debug().
			Str("conn_id", c.ID()).
			Str("room_key", key.String()).
			Msg("Join raced an unregister; subscription backed out.")
		return nil
	}

	d.logger.Info().
		Str("conn_id", c.ID()).
		Str("identity_id", c.Identity().ID).
		Str("room_key", key.String()).
		Msg("Connection joined room.")

	return nil
}

// Leave unsubscribes the connection from the room. No-op when not subscribed.
func (d *Directory) Leave(connID string, key RoomKey) {
	d.mu.RLock()
	entry, ok := d.rooms[key]
	d.mu.RUnlock()

	if ok {
		entry.mu.Lock()
		delete(entry.conns, connID)
		entry.mu.Unlock()
	}

	d.joinedMu.Lock()
	if set, ok := d.joined[connID]; ok {
		delete(set, key)
		if len(set) == 0 {
			delete(d.joined, connID)
		}
	}
	d.joinedMu.Unlock()
}

// LeaveAll unsubscribes the connection from every room it joined. Called by
// the registry's unregister cascade; after it returns no further delivery to
// the connection is attempted.
func (d *Directory) LeaveAll(connID string) {
	d.joinedMu.Lock()
	set := d.joined[connID]
	delete(d.joined, connID)
	d.joinedMu.Unlock()

	for key := range set {
		d.mu.RLock()
		entry, ok := d.rooms[key]
		d.mu.RUnlock()

		if ok {
			entry.mu.Lock()
			delete(entry.conns, connID)
			entry.mu.Unlock()
		}
	}
}

// Subscribers returns a point-in-time snapshot of the room's live connections,
// used for fan-out. Joins and leaves linearized before the call are reflected;
// joins racing with an in-flight send may or may not be.
func (d *Directory) Subscribers(key RoomKey) []Conn {
	d.mu.RLock()
	entry, ok := d.rooms[key]
	d.mu.RUnlock()

	if !ok {
		return nil
	}

	entry.mu.RLock()
	defer entry.mu.RUnlock()

	subs := make([]Conn, 0, len(entry.conns))
	for _, c := range entry.conns {
		subs = append(subs, c)
	}
	return subs
}

// RevokeIdentity removes every subscription the identity holds on the room and
// notifies the affected connections. Called when a member is removed from a
// group, so revocation propagates to live delivery immediately.
func (d *Directory) RevokeIdentity(key RoomKey, identityID string) {
	d.mu.RLock()
	entry, ok := d.rooms[key]
	d.mu.RUnlock()

	if !ok {
		return
	}

	entry.mu.Lock()
	revoked := make([]Conn, 0, 1)
	for id, c := range entry.conns {
		if c.Identity().ID == identityID {
			delete(entry.conns, id)
			revoked = append(revoked, c)
		}
	}
	entry.mu.Unlock()

	for _, c := range revoked {
		d.joinedMu.Lock()
		if set, ok := d.joined[c.ID()]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(d.joined, c.ID())
			}
		}
		d.joinedMu.Unlock()

		c.Enqueue(EncodeRoomFrame(FrameLeft, key))

		d.logger.Info().
			Str("conn_id", c.ID()).
			Str("identity_id", identityID).
			Str("room_key", key.String()).
			Msg("Subscription revoked after membership change.")
	}
}

// DropRoom removes the room and all its subscriptions, notifying subscribers.
// Called when a group is deleted.
func (d *Directory) DropRoom(key RoomKey) {
	d.mu.Lock()
	entry, ok := d.rooms[key]
	delete(d.rooms, key)
	d.mu.Unlock()

	if !ok {
		return
	}

	entry.mu.Lock()
	conns := make([]Conn, 0, len(entry.conns))
	for _, c := range entry.conns {
		conns = append(conns, c)
	}
	entry.conns = make(map[string]Conn)
	entry.mu.Unlock()

	for _, c := range conns {
		d.joinedMu.Lock()
		if set, ok := d.joined[c.ID()]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(d.joined, c.ID())
			}
		}
		d.joinedMu.Unlock()

		c.Enqueue(EncodeRoomFrame(FrameLeft, key))
	}

	d.logger.Info().Str("room_key", key.String()).Msg("Room dropped.")
}

// room returns the entry for the key, creating it on first use.
func (d *Directory) room(key RoomKey) *roomEntry {
	d.mu.RLock()
	entry, ok := d.rooms[key]
	d.mu.RUnlock()

	if ok {
		return entry
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok = d.rooms[key]
	if !ok {
		entry = &roomEntry{conns: make(map[string]Conn)}
		d.rooms[key] = entry
	}
	return entry
}
