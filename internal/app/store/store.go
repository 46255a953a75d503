/*
Package store provides the durable storage collaborator for users, messages,
and groups, backed by PostgreSQL. The broker treats this package as the single
source of truth for membership and message ordering; per-room sequence numbers
are assigned here, never cached by callers beyond a single submit.
*/
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicate is returned when a write violates a uniqueness constraint.
var ErrDuplicate = errors.New("store: duplicate")

// User is a registered account.
type User struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
	AvatarKey    string
	CreatedAt    time.Time
}

// UserSummary is a user row annotated with the most recent direct message
// exchanged with the viewing user, for conversation lists.
type UserSummary struct {
	ID          string
	Username    string
	AvatarKey   string
	LastMessage string
	LastMessageAt time.Time
	HasMessages bool
}

// Message is one persisted chat message.
type Message struct {
	ID            string
	RoomKey       string
	SenderID      string
	SenderName    string
	Content       string
	AttachmentKey string
	SequenceNo    int64
	CreatedAt     time.Time
}

// CreatedMessage is what CreateMessage hands back: the durable id, the
// per-room sequence number assigned under the room's serialization point,
// and the storage timestamp.
type CreatedMessage struct {
	ID         string
	SequenceNo int64
	CreatedAt  time.Time
}

// Group is a named multi-user chat.
type Group struct {
	ID        string
	Name      string
	OwnerID   string
	CreatedAt time.Time
}

// UserStore persists and queries user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, email, username, passwordHash string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)
	ListUserSummaries(ctx context.Context, viewerID string) ([]UserSummary, error)
	UpdateAvatar(ctx context.Context, userID, avatarKey string) error
}

// MessageStore persists and queries messages. CreateMessage assigns the
// per-room sequence number atomically with the insert.
type MessageStore interface {
	CreateMessage(ctx context.Context, roomKey, senderID, content, attachmentKey string) (CreatedMessage, error)
	ListMessages(ctx context.Context, roomKey string, beforeSeq int64, limit int) ([]Message, error)
	GetMessage(ctx context.Context, id string) (Message, error)
	DeleteMessage(ctx context.Context, id string) error
}

// GroupStore persists and queries groups and their member sets.
type GroupStore interface {
	CreateGroup(ctx context.Context, name, ownerID string) (Group, error)
	GetGroup(ctx context.Context, id string) (Group, error)
	DeleteGroup(ctx context.Context, id string) error
	ListGroupsFor(ctx context.Context, userID string) ([]Group, error)
	AddGroupMember(ctx context.Context, groupID, userID string) error
	RemoveGroupMember(ctx context.Context, groupID, userID string) error
	GetGroupMembers(ctx context.Context, groupID string) ([]string, error)
	IsGroupMember(ctx context.Context, groupID, userID string) (bool, error)
}

// Store is the full storage surface consumed by handlers and the broker.
type Store interface {
	UserStore
	MessageStore
	GroupStore
}
