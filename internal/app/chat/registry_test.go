package chat

import (
	"testing"

	"relaychat/internal/pkg/errs"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry(true)
	c := newFakeConn("c1", "alice")

	if customErr := r.Register(c); customErr != nil {
		t.Fatalf("Register: %v", customErr)
	}

	got, ok := r.Lookup("c1")
	if !ok || got.ID() != "c1" {
		t.Fatal("registered connection not found")
	}
}

func TestRegistryMultiConnPolicy(t *testing.T) {
	r := NewRegistry(true)
	if customErr := r.Register(newFakeConn("c1", "alice")); customErr != nil {
		t.Fatalf("first Register: %v", customErr)
	}
	if customErr := r.Register(newFakeConn("c2", "alice")); customErr != nil {
		t.Fatalf("second connection should be allowed under multi-conn policy: %v", customErr)
	}

	if got := len(r.ConnectionsFor("alice")); got != 2 {
		t.Fatalf("ConnectionsFor = %d connections, want 2", got)
	}
}

func TestRegistrySingleConnPolicy(t *testing.T) {
	r := NewRegistry(false)
	if customErr := r.Register(newFakeConn("c1", "alice")); customErr != nil {
		t.Fatalf("first Register: %v", customErr)
	}

	customErr := r.Register(newFakeConn("c2", "alice"))
	if customErr == nil || customErr.Code != errs.ErrDuplicateConnection {
		t.Fatalf("expected DuplicateConnection, got %v", customErr)
	}

	// A different identity is unaffected.
	if customErr := r.Register(newFakeConn("c3", "bob")); customErr != nil {
		t.Fatalf("unrelated identity rejected: %v", customErr)
	}
}

func TestRegistryUnregisterIdempotent(t *testing.T) {
	r := NewRegistry(true)
	c := newFakeConn("c1", "alice")
	if customErr := r.Register(c); customErr != nil {
		t.Fatalf("Register: %v", customErr)
	}

	hookCalls := 0
	r.OnUnregister(func(Conn) { hookCalls++ })

	r.Unregister("c1")
	r.Unregister("c1")
	r.Unregister("never-existed")

	if _, ok := r.Lookup("c1"); ok {
		t.Fatal("connection still present after Unregister")
	}
	if hookCalls != 1 {
		t.Fatalf("cleanup hook ran %d times, want 1", hookCalls)
	}
	if got := len(r.ConnectionsFor("alice")); got != 0 {
		t.Fatalf("ConnectionsFor after unregister = %d, want 0", got)
	}
}

func TestRegistryDropClosesConnection(t *testing.T) {
	r := NewRegistry(true)
	c := newFakeConn("c1", "alice")
	if customErr := r.Register(c); customErr != nil {
		t.Fatalf("Register: %v", customErr)
	}

	r.Drop("c1", errs.ErrSlowConsumer, "outbound queue overflow")

	closed, code := c.isClosed()
	if !closed || code != errs.ErrSlowConsumer {
		t.Fatalf("closed=%v code=%d, want closed with SlowConsumer", closed, code)
	}
	if _, ok := r.Lookup("c1"); ok {
		t.Fatal("dropped connection still registered")
	}
}
