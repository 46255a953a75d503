/*
Package chat contains the realtime message broker: connection registry, room
directory, membership guard, and the broker that validates, persists, and fans
out messages to live connections.

This file defines the RoomKey type, the addressing unit for fan-out. A key
identifies either a direct chat between two users or a group.
*/
package chat

import (
	"strings"

	"relaychat/internal/pkg/errs"
)

const (
	directKeyPrefix = "d:"
	groupKeyPrefix  = "g:"
)

// RoomKey identifies a fan-out target: a canonical direct-chat pair or a group.
// Direct keys have the form "d:<idA>:<idB>" with idA < idB lexicographically,
// so the key is identical regardless of which side builds it. Group keys have
// the form "g:<groupID>".
type RoomKey string

// DirectKey builds the canonical direct-chat key for the two user ids.
// It returns ErrInvalidRoom when either id is empty or the ids are equal
// (self-chat is forbidden).
func DirectKey(a, b string) (RoomKey, *errs.CustomError) {
	if a == "" || b == "" || a == b {
		return "", errs.NewError(errs.ErrInvalidRoom)
	}

	if a > b {
		a, b = b, a
	}

	return RoomKey(directKeyPrefix + a + ":" + b), nil
}

// GroupKey builds the room key for the given group id.
func GroupKey(groupID string) (RoomKey, *errs.CustomError) {
	if groupID == "" {
		return "", errs.NewError(errs.ErrInvalidRoom)
	}
	return RoomKey(groupKeyPrefix + groupID), nil
}

// ParseRoomKey validates a client-supplied room key string.
func ParseRoomKey(s string) (RoomKey, *errs.CustomError) {
	switch {
	case strings.HasPrefix(s, directKeyPrefix):
		rest := strings.TrimPrefix(s, directKeyPrefix)
		parts := strings.SplitN(rest, ":", 2)
		if len(parts) != 2 {
			return "", errs.NewError(errs.ErrInvalidRoom)
		}
		// Re-canonicalize so a hand-built key with swapped ids still
		// addresses the same room.
		return DirectKey(parts[0], parts[1])

	case strings.HasPrefix(s, groupKeyPrefix):
		return GroupKey(strings.TrimPrefix(s, groupKeyPrefix))

	default:
		return "", errs.NewError(errs.ErrInvalidRoom)
	}
}

// IsGroup reports whether the key addresses a group.
func (k RoomKey) IsGroup() bool {
	return strings.HasPrefix(string(k), groupKeyPrefix)
}

// GroupID returns the group id encoded in a group key, or "" for direct keys.
func (k RoomKey) GroupID() string {
	if !k.IsGroup() {
		return ""
	}
	return strings.TrimPrefix(string(k), groupKeyPrefix)
}

// DirectPair returns the two user ids encoded in a direct key. The boolean is
// false for group keys.
func (k RoomKey) DirectPair() (string, string, bool) {
	if !strings.HasPrefix(string(k), directKeyPrefix) {
		return "", "", false
	}

	rest := strings.TrimPrefix(string(k), directKeyPrefix)
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}

	return parts[0], parts[1], true
}

// String returns the wire form of the key.
func (k RoomKey) String() string {
	return string(k)
}
