package chat

import (
	"context"
	"fmt"
	"sync"

	"relaychat/internal/app/user"
)

// fakeConn is an in-memory Conn with a bounded queue, standing in for the
// WebSocket client.
type fakeConn struct {
	id       string
	identity user.Identity

	mu        sync.Mutex
	frames    [][]byte
	capacity  int
	closed    bool
	closeCode int
}

func newFakeConn(id, identityID string) *fakeConn {
	return &fakeConn{
		id:       id,
		identity: user.Identity{ID: identityID, Username: "user-" + identityID},
		capacity: 16,
	}
}

func (c *fakeConn) ID() string              { return c.id }
func (c *fakeConn) Identity() user.Identity { return c.identity }

func (c *fakeConn) Enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || len(c.frames) >= c.capacity {
		return false
	}
	c.frames = append(c.frames, frame)
	return true
}

func (c *fakeConn) Close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		c.closeCode = code
	}
}

func (c *fakeConn) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}

func (c *fakeConn) isClosed() (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeCode
}

// fakeMembershipSource serves group member sets from memory and counts
// storage calls.
type fakeMembershipSource struct {
	mu      sync.Mutex
	members map[string][]string
	calls   int
	err     error
}

func newFakeMembershipSource() *fakeMembershipSource {
	return &fakeMembershipSource{members: make(map[string][]string)}
}

func (s *fakeMembershipSource) GetGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.members[groupID], nil
}

func (s *fakeMembershipSource) set(groupID string, ids ...string) {
	s.mu.Lock()
	s.members[groupID] = ids
	s.mu.Unlock()
}

func (s *fakeMembershipSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeSink assigns gapless per-room sequence numbers the way the persistence
// layer does, under one lock per sink.
type fakeSink struct {
	mu       sync.Mutex
	next     map[string]int64
	inserted int
	err      error
}

func newFakeSink() *fakeSink {
	return &fakeSink{next: make(map[string]int64)}
}

func (s *fakeSink) CreateMessage(ctx context.Context, roomKey, senderID, content, attachmentKey string) (StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return StoredMessage{}, s.err
	}

	s.next[roomKey]++
	seq := s.next[roomKey]
	s.inserted++

	return StoredMessage{
		ID:         fmt.Sprintf("%s#%d", roomKey, seq),
		SequenceNo: seq,
	}, nil
}

func (s *fakeSink) insertedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserted
}
