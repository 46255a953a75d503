package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"relaychat/internal/app/user"
	"relaychat/internal/pkg/errs"
)

type brokerFixture struct {
	registry  *Registry
	directory *Directory
	broker    *Broker
	sink      *fakeSink
	source    *fakeMembershipSource
}

func newBrokerFixture() *brokerFixture {
	source := newFakeMembershipSource()
	sink := newFakeSink()
	registry := NewRegistry(true)
	guard := NewGuard(source, time.Minute)
	directory := NewDirectory(registry, guard)

	return &brokerFixture{
		registry:  registry,
		directory: directory,
		broker:    NewBroker(guard, directory, registry, sink),
		sink:      sink,
		source:    source,
	}
}

// subscribe registers the connection and joins it to the room, failing the
// test on any error.
func (f *brokerFixture) subscribe(t *testing.T, c *fakeConn, key RoomKey) {
	t.Helper()
	if customErr := f.registry.Register(c); customErr != nil {
		t.Fatalf("Register %s: %v", c.ID(), customErr)
	}
	if customErr := f.directory.Join(context.Background(), c, key); customErr != nil {
		t.Fatalf("Join %s: %v", c.ID(), customErr)
	}
}

func decodeEvents(t *testing.T, frames [][]byte) []OutboundEvent {
	t.Helper()
	events := make([]OutboundEvent, 0, len(frames))
	for _, frame := range frames {
		var ev OutboundEvent
		if err := json.Unmarshal(frame, &ev); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		events = append(events, ev)
	}
	return events
}

func identityOf(c *fakeConn) user.Identity { return c.Identity() }

func TestBrokerSubmitValidation(t *testing.T) {
	f := newBrokerFixture()
	key, _ := DirectKey("alice", "bob")
	alice := user.Identity{ID: "alice", Username: "alice"}

	tests := []struct {
		name     string
		key      RoomKey
		content  string
		wantCode int
	}{
		{"missing room", "", "hi", errs.ErrMissingRecipient},
		{"empty content", key, "   ", errs.ErrEmptyMessage},
		{"too long", key, strings.Repeat("a", MaxContentBytes+1), errs.ErrMessageContentTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, customErr := f.broker.Submit(context.Background(), alice, tt.key, tt.content, "")
			if customErr == nil || customErr.Code != tt.wantCode {
				t.Fatalf("Submit = %v, want code %d", customErr, tt.wantCode)
			}
		})
	}

	if f.sink.insertedCount() != 0 {
		t.Fatal("rejected submits reached storage")
	}
}

func TestBrokerAttachmentOnlyMessageAllowed(t *testing.T) {
	f := newBrokerFixture()
	key, _ := DirectKey("alice", "bob")

	event, customErr := f.broker.Submit(context.Background(), user.Identity{ID: "alice"}, key, "", "attachments/photo.png")
	if customErr != nil {
		t.Fatalf("Submit: %v", customErr)
	}
	if event.AttachmentKey != "attachments/photo.png" || event.Message != "" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestBrokerRejectsNonMember(t *testing.T) {
	f := newBrokerFixture()
	f.source.set("g1", "alice")
	key, _ := GroupKey("g1")

	_, customErr := f.broker.Submit(context.Background(), user.Identity{ID: "mallory"}, key, "hi", "")
	if customErr == nil || customErr.Code != errs.ErrUnauthorized {
		t.Fatalf("Submit = %v, want Unauthorized", customErr)
	}
	if f.sink.insertedCount() != 0 {
		t.Fatal("unauthorized submit reached storage")
	}
}

func TestBrokerStorageFailureDeliversNothing(t *testing.T) {
	f := newBrokerFixture()
	key, _ := DirectKey("alice", "bob")

	bob := newFakeConn("c1", "bob")
	f.subscribe(t, bob, key)

	f.sink.err = errors.New("connection refused")

	_, customErr := f.broker.Submit(context.Background(), user.Identity{ID: "alice"}, key, "hi", "")
	if customErr == nil || customErr.Code != errs.ErrStorageUnavailable {
		t.Fatalf("Submit = %v, want StorageUnavailable", customErr)
	}
	if len(bob.received()) != 0 {
		t.Fatal("frame delivered despite storage failure")
	}
}

func TestBrokerFanOutReachesSubscribersOnly(t *testing.T) {
	f := newBrokerFixture()
	key, _ := DirectKey("alice", "bob")
	other, _ := DirectKey("carol", "dave")

	alice := newFakeConn("c1", "alice")
	bob := newFakeConn("c2", "bob")
	carol := newFakeConn("c3", "carol")
	f.subscribe(t, alice, key)
	f.subscribe(t, bob, key)
	f.subscribe(t, carol, other)

	event, customErr := f.broker.Submit(context.Background(), identityOf(alice), key, "hello", "")
	if customErr != nil {
		t.Fatalf("Submit: %v", customErr)
	}

	// The sender is subscribed, so the sender's own connection gets the echo.
	for _, c := range []*fakeConn{alice, bob} {
		events := decodeEvents(t, c.received())
		if len(events) != 1 {
			t.Fatalf("%s received %d events, want 1", c.ID(), len(events))
		}
		if events[0].ID != event.ID || events[0].SequenceNo != event.SequenceNo {
			t.Fatalf("%s received %+v, want %+v", c.ID(), events[0], event)
		}
	}

	if len(carol.received()) != 0 {
		t.Fatal("event leaked to an unrelated room")
	}
}

func TestBrokerConversationOrder(t *testing.T) {
	f := newBrokerFixture()
	key, _ := DirectKey("u1", "u2")

	u1 := newFakeConn("c1", "u1")
	u2 := newFakeConn("c2", "u2")
	f.subscribe(t, u1, key)
	f.subscribe(t, u2, key)

	if _, customErr := f.broker.Submit(context.Background(), identityOf(u1), key, "hi", ""); customErr != nil {
		t.Fatalf("first Submit: %v", customErr)
	}

	for _, c := range []*fakeConn{u1, u2} {
		events := decodeEvents(t, c.received())
		if len(events) != 1 || events[0].Message != "hi" || events[0].SequenceNo != 1 || events[0].SenderID != "u1" {
			t.Fatalf("%s received %+v, want hi/seq 1 from u1", c.ID(), events)
		}
	}

	// U2 disconnects; the follow-up reaches only U1 live, while the message
	// is still durably assigned the next sequence number for later catch-up.
	f.registry.Unregister(u2.ID())

	event, customErr := f.broker.Submit(context.Background(), identityOf(u1), key, "bye", "")
	if customErr != nil {
		t.Fatalf("second Submit: %v", customErr)
	}
	if event.SequenceNo != 2 {
		t.Fatalf("sequence after disconnect = %d, want 2", event.SequenceNo)
	}

	if got := decodeEvents(t, u1.received()); len(got) != 2 || got[1].Message != "bye" {
		t.Fatalf("u1 events = %+v, want hi then bye", got)
	}
	if got := decodeEvents(t, u2.received()); len(got) != 1 {
		t.Fatalf("disconnected u2 received %d events, want 1", len(got))
	}
	if f.sink.insertedCount() != 2 {
		t.Fatalf("persisted %d messages, want 2", f.sink.insertedCount())
	}
}

func TestBrokerSequenceContiguousUnderConcurrency(t *testing.T) {
	f := newBrokerFixture()
	key, _ := DirectKey("alice", "bob")
	alice := user.Identity{ID: "alice", Username: "alice"}

	const n = 50

	var wg sync.WaitGroup
	seqs := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			event, customErr := f.broker.Submit(context.Background(), alice, key, "m", "")
			if customErr != nil {
				t.Errorf("Submit: %v", customErr)
				return
			}
			seqs <- event.SequenceNo
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[int64]bool)
	for seq := range seqs {
		if seen[seq] {
			t.Fatalf("duplicate sequence number %d", seq)
		}
		seen[seq] = true
	}
	for i := int64(1); i <= int64(len(seen)); i++ {
		if !seen[i] {
			t.Fatalf("sequence gap at %d over %d accepted messages", i, len(seen))
		}
	}
}

func TestBrokerDropsSlowConsumerOnly(t *testing.T) {
	f := newBrokerFixture()
	key, _ := DirectKey("alice", "bob")

	alice := newFakeConn("c1", "alice")
	slow := newFakeConn("c2", "bob")
	slow.capacity = 0 // queue always full
	f.subscribe(t, alice, key)
	f.subscribe(t, slow, key)

	otherKey, _ := DirectKey("carol", "dave")
	carol := newFakeConn("c3", "carol")
	f.subscribe(t, carol, otherKey)

	if _, customErr := f.broker.Submit(context.Background(), identityOf(alice), key, "hello", ""); customErr != nil {
		t.Fatalf("Submit: %v", customErr)
	}

	closed, code := slow.isClosed()
	if !closed || code != errs.ErrSlowConsumer {
		t.Fatalf("slow consumer closed=%v code=%d, want SlowConsumer close", closed, code)
	}
	if _, ok := f.registry.Lookup("c2"); ok {
		t.Fatal("slow consumer still registered")
	}
	if subs := f.directory.Subscribers(key); len(subs) != 1 {
		t.Fatalf("room retains %d subscribers, want only the healthy one", len(subs))
	}

	// The healthy subscriber got the message and keeps receiving.
	if len(alice.received()) != 1 {
		t.Fatal("healthy subscriber missed the message")
	}
	if _, customErr := f.broker.Submit(context.Background(), identityOf(alice), key, "again", ""); customErr != nil {
		t.Fatalf("second Submit: %v", customErr)
	}
	if len(alice.received()) != 2 {
		t.Fatal("healthy subscriber missed the follow-up message")
	}

	// Fan-out in an unrelated room keeps making progress.
	if _, customErr := f.broker.Submit(context.Background(), identityOf(carol), otherKey, "unrelated", ""); customErr != nil {
		t.Fatalf("unrelated Submit: %v", customErr)
	}
	if len(carol.received()) != 1 {
		t.Fatal("unrelated room's subscriber missed its message")
	}
}

func TestBrokerFanOutClearsStaleSubscription(t *testing.T) {
	f := newBrokerFixture()
	key, _ := DirectKey("alice", "bob")

	alice := newFakeConn("c1", "alice")
	f.subscribe(t, alice, key)

	// A subscription held by a connection that is no longer registered, the
	// state an unregister racing a join used to leave behind. Failed delivery
	// must clear it even though there is nothing left for Drop to close.
	stale := newFakeConn("c2", "bob")
	stale.capacity = 0
	entry := f.directory.room(key)
	entry.mu.Lock()
	entry.conns[stale.ID()] = stale
	entry.mu.Unlock()
	f.directory.joinedMu.Lock()
	f.directory.joined[stale.ID()] = map[RoomKey]struct{}{key: {}}
	f.directory.joinedMu.Unlock()

	if _, customErr := f.broker.Submit(context.Background(), identityOf(alice), key, "hello", ""); customErr != nil {
		t.Fatalf("Submit: %v", customErr)
	}

	ids := subscriberIDs(f.directory, key)
	if len(ids) != 1 || !ids["c1"] {
		t.Fatalf("stale subscription not cleared: %v", ids)
	}
}
