package blockers

import (
	"strconv"
	"testing"
)

func TestExtractSingleLine(t *testing.T) {
	out := Extract("TODO: fix this in main.go:42")
	if len(out) != 1 {
		t.Fatalf("expected 1 blocker, got %d: %+v", len(out), out)
	}
	if out[0].File != "main.go" || out[0].LineStart != 42 || out[0].LineEnd != 42 {
		t.Fatalf("unexpected blocker: %+v", out[0])
	}
}

func TestExtractRange(t *testing.T) {
	out := Extract("see internal/gateway/server.go:10-20 for the handler")
	if len(out) != 1 {
		t.Fatalf("expected 1 blocker, got %d", len(out))
	}
	if out[0].LineStart != 10 || out[0].LineEnd != 20 {
		t.Fatalf("unexpected range: %+v", out[0])
	}
}

func TestExtractDedupesByFileRange(t *testing.T) {
	out := Extract("a.go:1\na.go:1\na.go:1")
	if len(out) != 1 {
		t.Fatalf("expected dedup to 1, got %d", len(out))
	}
}

func TestExtractCapsAtTen(t *testing.T) {
	text := ""
	for i := 1; i <= 15; i++ {
		text += "f.go:" + strconv.Itoa(i) + "\n"
	}
	out := Extract(text)
	if len(out) != 10 {
		t.Fatalf("expected cap at 10, got %d", len(out))
	}
}

func TestExtractRequiresExtension(t *testing.T) {
	out := Extract("ratio 3:4 is not a blocker")
	if len(out) != 0 {
		t.Fatalf("expected no blockers, got %+v", out)
	}
}

func TestExtractPreservesFirstOccurrenceOrder(t *testing.T) {
	out := Extract("b.go:2\na.go:1")
	if len(out) != 2 || out[0].File != "b.go" || out[1].File != "a.go" {
		t.Fatalf("unexpected order: %+v", out)
	}
}
