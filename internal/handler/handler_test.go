package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"relaychat/internal/app/chat"
	"relaychat/internal/app/store"
	"relaychat/internal/configs"
	"relaychat/internal/pkg/auth/jwt"
	"relaychat/internal/pkg/resp"
)

const testJWTSecret = "test-secret"

// fakeStore is an in-memory store.Store for handler tests.
type fakeStore struct {
	mu sync.Mutex

	users    map[string]store.User // by id
	byEmail  map[string]string
	messages map[string]store.Message
	groups   map[string]store.Group
	members  map[string]map[string]struct{}
	nextSeq  map[string]int64
	nextID   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[string]store.User),
		byEmail:  make(map[string]string),
		messages: make(map[string]store.Message),
		groups:   make(map[string]store.Group),
		members:  make(map[string]map[string]struct{}),
		nextSeq:  make(map[string]int64),
	}
}

func (s *fakeStore) newID() string {
	s.nextID++
	return fmt.Sprintf("id-%d", s.nextID)
}

func (s *fakeStore) CreateUser(ctx context.Context, email, username, passwordHash string) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[email]; exists {
		return store.User{}, store.ErrDuplicate
	}
	for _, u := range s.users {
		if u.Username == username {
			return store.User{}, store.ErrDuplicate
		}
	}

	u := store.User{ID: s.newID(), Email: email, Username: username, PasswordHash: passwordHash, CreatedAt: time.Now()}
	s.users[u.ID] = u
	s.byEmail[email] = u.ID
	return u, nil
}

func (s *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[email]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return s.users[id], nil
}

func (s *fakeStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

func (s *fakeStore) ListUserSummaries(ctx context.Context, viewerID string) ([]store.UserSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	summaries := make([]store.UserSummary, 0, len(s.users))
	for _, u := range s.users {
		if u.ID == viewerID {
			continue
		}
		summaries = append(summaries, store.UserSummary{ID: u.ID, Username: u.Username, AvatarKey: u.AvatarKey})
	}
	return summaries, nil
}

func (s *fakeStore) UpdateAvatar(ctx context.Context, userID, avatarKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.AvatarKey = avatarKey
	s.users[userID] = u
	return nil
}

func (s *fakeStore) CreateMessage(ctx context.Context, roomKey, senderID, content, attachmentKey string) (store.CreatedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSeq[roomKey]++
	m := store.Message{
		ID:            s.newID(),
		RoomKey:       roomKey,
		SenderID:      senderID,
		Content:       content,
		AttachmentKey: attachmentKey,
		SequenceNo:    s.nextSeq[roomKey],
		CreatedAt:     time.Now(),
	}
	s.messages[m.ID] = m
	return store.CreatedMessage{ID: m.ID, SequenceNo: m.SequenceNo, CreatedAt: m.CreatedAt}, nil
}

func (s *fakeStore) ListMessages(ctx context.Context, roomKey string, beforeSeq int64, limit int) ([]store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var page []store.Message
	for _, m := range s.messages {
		if m.RoomKey != roomKey {
			continue
		}
		if beforeSeq > 0 && m.SequenceNo >= beforeSeq {
			continue
		}
		page = append(page, m)
	}
	// Ascending by sequence; the data set in tests is small.
	for i := 0; i < len(page); i++ {
		for j := i + 1; j < len(page); j++ {
			if page[j].SequenceNo < page[i].SequenceNo {
				page[i], page[j] = page[j], page[i]
			}
		}
	}
	if len(page) > limit {
		page = page[len(page)-limit:]
	}
	return page, nil
}

func (s *fakeStore) GetMessage(ctx context.Context, id string) (store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return store.Message{}, store.ErrNotFound
	}
	return m, nil
}

func (s *fakeStore) DeleteMessage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.messages, id)
	return nil
}

func (s *fakeStore) CreateGroup(ctx context.Context, name, ownerID string) (store.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, g := range s.groups {
		if g.Name == name {
			return store.Group{}, store.ErrDuplicate
		}
	}
	g := store.Group{ID: s.newID(), Name: name, OwnerID: ownerID, CreatedAt: time.Now()}
	s.groups[g.ID] = g
	s.members[g.ID] = map[string]struct{}{ownerID: {}}
	return g, nil
}

func (s *fakeStore) GetGroup(ctx context.Context, id string) (store.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[id]
	if !ok {
		return store.Group{}, store.ErrNotFound
	}
	return g, nil
}

func (s *fakeStore) DeleteGroup(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.groups, id)
	delete(s.members, id)
	return nil
}

func (s *fakeStore) ListGroupsFor(ctx context.Context, userID string) ([]store.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var groups []store.Group
	for id, set := range s.members {
		if _, ok := set[userID]; ok {
			groups = append(groups, s.groups[id])
		}
	}
	return groups, nil
}

func (s *fakeStore) AddGroupMember(ctx context.Context, groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.members[groupID]
	if !ok {
		return store.ErrNotFound
	}
	if _, exists := set[userID]; exists {
		return store.ErrDuplicate
	}
	set[userID] = struct{}{}
	return nil
}

func (s *fakeStore) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.members[groupID]
	if !ok {
		return store.ErrNotFound
	}
	if _, exists := set[userID]; !exists {
		return store.ErrNotFound
	}
	delete(set, userID)
	return nil
}

func (s *fakeStore) GetGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id := range s.members[groupID] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *fakeStore) IsGroupMember(ctx context.Context, groupID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.members[groupID]
	if !ok {
		return false, nil
	}
	_, exists := set[userID]
	return exists, nil
}

// fakeBus records published membership events in place of the Redis-backed bus.
type fakeBus struct {
	mu     sync.Mutex
	events []store.MembershipEvent
	err    error
}

func (b *fakeBus) PublishMembershipChange(ctx context.Context, event store.MembershipEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.events = append(b.events, event)
	return nil
}

func (b *fakeBus) published() []store.MembershipEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]store.MembershipEvent, len(b.events))
	copy(out, b.events)
	return out
}

// newTestDeps wires an AppDeps over the fake store, with an in-memory event bus
// and live registry/directory so membership mutations exercise the full revoke
// path. The recorded bus is reachable as deps.Bus.(*fakeBus).
func newTestDeps(st *fakeStore) *AppDeps {
	cfg := &configs.AppConfig{
		Environment: "development",
		JWTSecret:   testJWTSecret,
	}

	registry := chat.NewRegistry(true)
	guard := chat.NewGuard(st, time.Minute)

	return &AppDeps{
		Config:    cfg,
		Store:     st,
		Bus:       &fakeBus{},
		Registry:  registry,
		Directory: chat.NewDirectory(registry, guard),
		Guard:     guard,
	}
}

// doJSON runs one request through the handler behind the identity middleware,
// the way the router mounts it.
func doJSON(t *testing.T, h http.Handler, method, target, token string, body string) (*http.Response, resp.JSONResponse) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	jwt.IdentityExtractorMiddleware(testJWTSecret)(h).ServeHTTP(rec, req)

	res := rec.Result()
	var envelope resp.JSONResponse
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response envelope: %v", err)
	}
	return res, envelope
}

func tokenFor(t *testing.T, id, username string) string {
	t.Helper()
	token, err := jwt.GenerateToken(&jwt.Payload{ID: id, Username: username}, testJWTSecret, jwt.UserIdentityExpiration)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return token
}
