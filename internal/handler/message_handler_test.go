package handler

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"

	"relaychat/internal/pkg/errs"
)

func historyRouter(deps *AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/rooms/{key}/messages", HandleMessageHistory(deps))
	r.Delete("/api/messages/{id}", HandleDeleteMessage(deps))
	return r
}

func seedMessages(t *testing.T, st *fakeStore, roomKey, senderID string, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		created, err := st.CreateMessage(context.Background(), roomKey, senderID, fmt.Sprintf("msg %d", i), "")
		if err != nil {
			t.Fatalf("seed message %d: %v", i, err)
		}
		ids = append(ids, created.ID)
	}
	return ids
}

func TestMessageHistoryRequiresAuth(t *testing.T) {
	deps := newTestDeps(newFakeStore())
	router := historyRouter(deps)

	res, envelope := doJSON(t, router, http.MethodGet, "/api/rooms/d:alice:bob/messages", "", "")
	if res.StatusCode != http.StatusForbidden || envelope.Code != errs.ErrUnauthorized {
		t.Fatalf("status=%d code=%d, want 403 / %d", res.StatusCode, envelope.Code, errs.ErrUnauthorized)
	}
}

func TestMessageHistoryRejectsOutsider(t *testing.T) {
	deps := newTestDeps(newFakeStore())
	router := historyRouter(deps)

	token := tokenFor(t, "mallory", "mallory")
	_, envelope := doJSON(t, router, http.MethodGet, "/api/rooms/d:alice:bob/messages", token, "")
	if envelope.Code != errs.ErrUnauthorized {
		t.Fatalf("code = %d, want %d", envelope.Code, errs.ErrUnauthorized)
	}
}

func TestMessageHistoryAscendingPage(t *testing.T) {
	st := newFakeStore()
	deps := newTestDeps(st)
	router := historyRouter(deps)
	seedMessages(t, st, "d:alice:bob", "alice", 5)

	token := tokenFor(t, "alice", "alice")
	_, envelope := doJSON(t, router, http.MethodGet, "/api/rooms/d:alice:bob/messages?limit=3", token, "")
	if envelope.Code != 0 {
		t.Fatalf("history failed: %+v", envelope)
	}

	data := envelope.Data.(map[string]any)
	messages := data["messages"].([]any)
	if len(messages) != 3 {
		t.Fatalf("page size = %d, want 3", len(messages))
	}

	// The newest page, ascending: sequences 3, 4, 5.
	var prev float64
	for i, raw := range messages {
		m := raw.(map[string]any)
		seq := m["sequenceNo"].(float64)
		if i > 0 && seq != prev+1 {
			t.Fatalf("page not ascending and contiguous at index %d: %v then %v", i, prev, seq)
		}
		prev = seq
	}
	if prev != 5 {
		t.Fatalf("last sequence = %v, want 5", prev)
	}
}

func TestMessageHistoryBeforeCursor(t *testing.T) {
	st := newFakeStore()
	deps := newTestDeps(st)
	router := historyRouter(deps)
	seedMessages(t, st, "d:alice:bob", "alice", 5)

	token := tokenFor(t, "alice", "alice")
	_, envelope := doJSON(t, router, http.MethodGet, "/api/rooms/d:alice:bob/messages?before=3", token, "")
	if envelope.Code != 0 {
		t.Fatalf("history failed: %+v", envelope)
	}

	messages := envelope.Data.(map[string]any)["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("page size = %d, want 2 before cursor 3", len(messages))
	}
}

func TestMessageHistoryInvalidRoomKey(t *testing.T) {
	deps := newTestDeps(newFakeStore())
	router := historyRouter(deps)

	token := tokenFor(t, "alice", "alice")
	_, envelope := doJSON(t, router, http.MethodGet, "/api/rooms/bogus/messages", token, "")
	if envelope.Code != errs.ErrInvalidRoom {
		t.Fatalf("code = %d, want %d", envelope.Code, errs.ErrInvalidRoom)
	}
}

func TestDeleteMessageSenderOnly(t *testing.T) {
	st := newFakeStore()
	deps := newTestDeps(st)
	router := historyRouter(deps)
	ids := seedMessages(t, st, "d:alice:bob", "alice", 1)

	bobToken := tokenFor(t, "bob", "bob")
	_, envelope := doJSON(t, router, http.MethodDelete, "/api/messages/"+ids[0], bobToken, "")
	if envelope.Code != errs.ErrNotMessageSender {
		t.Fatalf("code = %d, want %d", envelope.Code, errs.ErrNotMessageSender)
	}

	aliceToken := tokenFor(t, "alice", "alice")
	_, envelope = doJSON(t, router, http.MethodDelete, "/api/messages/"+ids[0], aliceToken, "")
	if envelope.Code != 0 {
		t.Fatalf("sender delete failed: %+v", envelope)
	}

	// Gone after delete.
	_, envelope = doJSON(t, router, http.MethodDelete, "/api/messages/"+ids[0], aliceToken, "")
	if envelope.Code != errs.ErrMessageNotFound {
		t.Fatalf("code = %d, want %d", envelope.Code, errs.ErrMessageNotFound)
	}
}
