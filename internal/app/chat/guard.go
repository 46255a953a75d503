/*
Package chat contains the realtime message broker.

This file defines the MembershipGuard, which decides whether an identity may
join or post to a room. Direct-chat rules are structural; group rules consult
the persisted member set through a short-lived cache that is invalidated on
every membership-mutating write.
*/
package chat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"relaychat/internal/app/user"
	"relaychat/internal/pkg/logx"
)

// MembershipSource is the storage collaborator consulted for persisted group
// membership.
type MembershipSource interface {
	GetGroupMembers(ctx context.Context, groupID string) ([]string, error)
}

// memberSet is one cached group member set with its expiry.
type memberSet struct {
	members map[string]struct{}
	expires time.Time
}

// Guard authorizes room joins and posts. A false "authorized" for a
// just-removed member is tolerated for at most one TTL; every
// membership-mutating write must call Invalidate so a legitimate member is
// never denied for longer than the write takes to land.
type Guard struct {
	source MembershipSource
	ttl    time.Duration

	mu    sync.Mutex
	cache map[string]*memberSet

	logger zerolog.Logger
}

// NewGuard constructs a Guard with the given membership source and cache TTL.
func NewGuard(source MembershipSource, ttl time.Duration) *Guard {
	return &Guard{
		source: source,
		ttl:    ttl,
		cache:  make(map[string]*memberSet),
		logger: logx.Logger().With().Str("component", "guard").Logger(),
	}
}

// CanJoin reports whether the identity may subscribe to the room. For direct
// keys the identity must be one of the two encoded ids; for group keys it must
// be in the persisted member set.
func (g *Guard) CanJoin(ctx context.Context, identity user.Identity, key RoomKey) (bool, error) {
	if a, b, ok := key.DirectPair(); ok {
		return identity.ID == a || identity.ID == b, nil
	}

	members, err := g.groupMembers(ctx, key.GroupID())
	if err != nil {
		return false, err
	}

	_, ok := members[identity.ID]
	return ok, nil
}

// CanPost reports whether the identity may submit a message to the room.
// Posting requires the same membership as joining.
func (g *Guard) CanPost(ctx context.Context, identity user.Identity, key RoomKey) (bool, error) {
	return g.CanJoin(ctx, identity, key)
}

// Invalidate drops the cached member set for the group. Called on every
// membership-mutating write and on membership-changed events from the bus.
func (g *Guard) Invalidate(groupID string) {
	g.mu.Lock()
	delete(g.cache, groupID)
	g.mu.Unlock()

	g.logger.Debug().Str("group_id", groupID).Msg("Membership cache invalidated.")
}

// groupMembers returns the member set for the group, serving from cache while
// the entry is fresh.
func (g *Guard) groupMembers(ctx context.Context, groupID string) (map[string]struct{}, error) {
	now := time.Now()

	g.mu.Lock()
	if entry, ok := g.cache[groupID]; ok && now.Before(entry.expires) {
		members := entry.members
		g.mu.Unlock()
		return members, nil
	}
	g.mu.Unlock()

	// Fetch outside the lock; concurrent misses may fetch twice, which is
	// harmless and avoids holding the cache lock across storage calls.
	ids, err := g.source.GetGroupMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}

	members := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		members[id] = struct{}{}
	}

	g.mu.Lock()
	g.cache[groupID] = &memberSet{members: members, expires: now.Add(g.ttl)}
	g.mu.Unlock()

	return members, nil
}
