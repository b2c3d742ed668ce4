package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestSpool(t *testing.T) *Spool {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spool.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEnqueueAndPending(t *testing.T) {
	s := openTestSpool(t)

	if err := s.Enqueue(1.0, `{"event":"a"}`); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.Enqueue(2.0, `{"event":"b"}`); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	entries, err := s.Pending(10)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 pending entries, got %d", len(entries))
	}
	if entries[0].Payload != `{"event":"a"}` {
		t.Errorf("expected oldest-first ordering, got %q first", entries[0].Payload)
	}
}

func TestMarkDeliveredRemovesFromPending(t *testing.T) {
	s := openTestSpool(t)
	if err := s.Enqueue(1.0, "payload"); err != nil {
		t.Fatal(err)
	}
	entries, _ := s.Pending(10)
	if len(entries) != 1 {
		t.Fatalf("expected 1 pending entry, got %d", len(entries))
	}
	if err := s.MarkDelivered(entries[0].ID); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	remaining, _ := s.Pending(10)
	if len(remaining) != 0 {
		t.Errorf("expected 0 pending after delivery, got %d", len(remaining))
	}
}

type fakeZAdder struct {
	fail  bool
	calls []string
}

func (f *fakeZAdder) ZAdd(ctx context.Context, key string, score float64, member string) error {
	if f.fail {
		return errors.New("still unreachable")
	}
	f.calls = append(f.calls, member)
	return nil
}

func TestRelayDrainOnceDeliversAndMarksPending(t *testing.T) {
	s := openTestSpool(t)
	s.Enqueue(1.0, "evt-1")
	s.Enqueue(2.0, "evt-2")

	store := &fakeZAdder{}
	relay := NewRelay(s, store, "polis:log:events", time.Hour, 10)
	relay.drainOnce(context.Background())

	if len(store.calls) != 2 {
		t.Fatalf("expected 2 delivered events, got %d", len(store.calls))
	}
	remaining, _ := s.Pending(10)
	if len(remaining) != 0 {
		t.Errorf("expected spool drained, got %d remaining", len(remaining))
	}
}

func TestRelayLeavesEntriesPendingOnFailure(t *testing.T) {
	s := openTestSpool(t)
	s.Enqueue(1.0, "evt-1")

	store := &fakeZAdder{fail: true}
	relay := NewRelay(s, store, "polis:log:events", time.Hour, 10)
	relay.drainOnce(context.Background())

	remaining, _ := s.Pending(10)
	if len(remaining) != 1 {
		t.Errorf("expected entry to remain pending after failed delivery, got %d", len(remaining))
	}
}
