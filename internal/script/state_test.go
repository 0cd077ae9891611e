package script

import (
	"testing"
	"time"
)

func TestStateStore_SetGet(t *testing.T) {
	s := NewStateStore(0)

	if _, ok := s.Get("missing"); ok {
		t.Error("Get on empty store reported presence")
	}

	s.Set("progress", int64(25))
	v, ok := s.Get("progress")
	if !ok {
		t.Fatal("Get = not present, want present")
	}
	if v != int64(25) {
		t.Errorf("Get = %v, want 25", v)
	}
}

func TestStateStore_KeysInsertionOrder(t *testing.T) {
	s := NewStateStore(0)
	s.Set("c", 1)
	s.Set("a", 2)
	s.Set("b", 3)
	s.Set("a", 4) // Overwrite must not reorder.

	got := s.Keys()
	want := []string{"c", "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("Keys = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Keys[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestStateStore_SnapshotIsolation(t *testing.T) {
	s := NewStateStore(0)
	s.Set("scores", []any{int64(1), int64(2)})
	s.Set("meta", map[string]any{"level": "easy"})

	snap := s.Snapshot()
	snap["scores"].([]any)[0] = int64(99)
	snap["meta"].(map[string]any)["level"] = "hard"
	snap["new"] = true

	v, _ := s.Get("scores")
	if v.([]any)[0] != int64(1) {
		t.Error("mutating a snapshot list changed the store")
	}
	m, _ := s.Get("meta")
	if m.(map[string]any)["level"] != "easy" {
		t.Error("mutating a snapshot map changed the store")
	}
	if _, ok := s.Get("new"); ok {
		t.Error("adding to a snapshot changed the store")
	}
}

func TestStateStore_HistoryCap(t *testing.T) {
	s := NewStateStore(3)
	for i := 0; i < 10; i++ {
		s.Set("n", int64(i))
	}

	hist := s.History()
	if len(hist) != 3 {
		t.Fatalf("len(History) = %d, want 3", len(hist))
	}
	if hist[2].Value != int64(9) {
		t.Errorf("newest history value = %v, want 9", hist[2].Value)
	}
	if hist[0].Value != int64(7) {
		t.Errorf("oldest retained value = %v, want 7", hist[0].Value)
	}
}

func TestStateStore_MarkStarted(t *testing.T) {
	s := NewStateStore(0)
	if !s.StartedAt().IsZero() {
		t.Error("StartedAt before start is not zero")
	}

	now := time.Now().UTC()
	s.MarkStarted(now)

	if !s.StartedAt().Equal(now) {
		t.Errorf("StartedAt = %v, want %v", s.StartedAt(), now)
	}
	v, ok := s.Get("started_at")
	if !ok {
		t.Fatal("started_at key missing after MarkStarted")
	}
	if v != now.Format(time.RFC3339) {
		t.Errorf("started_at = %v, want %v", v, now.Format(time.RFC3339))
	}
}
