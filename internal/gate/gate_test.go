package gate

import "testing"

func TestAcquireReleaseCycle(t *testing.T) {
	g := New()
	if !g.Acquire("/ws", "s1") {
		t.Fatalf("expected first acquire to succeed")
	}
	if g.Acquire("/ws", "s2") {
		t.Fatalf("expected second acquire to fail while held")
	}
	if g.ActiveSessionID() != "s1" {
		t.Fatalf("expected s1 active, got %q", g.ActiveSessionID())
	}
	if !g.Release("/ws", "s1") {
		t.Fatalf("expected release by owner to succeed")
	}
	if g.ActiveSessionID() != "" {
		t.Fatalf("expected empty after release")
	}
	if !g.Acquire("/ws2", "s2") {
		t.Fatalf("expected acquire after release to succeed")
	}
}

func TestReleaseByNonOwnerIsNoOp(t *testing.T) {
	g := New()
	g.Acquire("/ws", "s1")
	if g.Release("/ws", "s2") {
		t.Fatalf("expected release by non-owner to fail")
	}
	if g.ActiveSessionID() != "s1" {
		t.Fatalf("expected s1 to remain active")
	}
}

func TestStaleReleaseDoesNotFreeNewerHolder(t *testing.T) {
	g := New()
	g.Acquire("/ws", "s1")
	g.Release("/ws", "s1")
	g.Acquire("/ws", "s2")
	// a late, stale release referencing the old holder must not free s2's slot
	if g.Release("/ws", "s1") {
		t.Fatalf("stale release should not succeed")
	}
	if g.ActiveSessionID() != "s2" {
		t.Fatalf("expected s2 to remain active, got %q", g.ActiveSessionID())
	}
}
