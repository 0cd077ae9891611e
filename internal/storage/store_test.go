package storage

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/chandra-edu/chandra/internal/script"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")}, discardLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	return s
}

func sampleEvents(lessonID string, n int) []script.Event {
	out := make([]script.Event, n)
	for i := range out {
		out[i] = script.Event{
			Timestamp: time.Now().UTC().Add(time.Duration(i) * time.Millisecond),
			Type:      script.EventGestureReceived,
			Data:      map[string]any{"gesture": "wave", "index": int64(i)},
			LessonID:  lessonID,
			SessionID: lessonID + "_1",
			Severity:  script.SeverityInfo,
		}
	}
	return out
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(Config{}, discardLogger()); err == nil {
		t.Error("Open accepted an empty path")
	}
}

func TestSaveAndQueryEvents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveEvents(ctx, sampleEvents("alpha", 3)); err != nil {
		t.Fatalf("SaveEvents failed: %v", err)
	}
	if err := s.SaveEvents(ctx, sampleEvents("beta", 2)); err != nil {
		t.Fatalf("SaveEvents failed: %v", err)
	}

	rows, err := s.RecentEvents(ctx, "alpha", 10)
	if err != nil {
		t.Fatalf("RecentEvents failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("RecentEvents(alpha) = %d rows, want 3", len(rows))
	}
	if rows[0].LessonID != "alpha" {
		t.Errorf("LessonID = %q, want alpha", rows[0].LessonID)
	}
	// Newest first.
	if rows[0].Timestamp.Before(rows[2].Timestamp) {
		t.Error("RecentEvents not ordered newest first")
	}

	all, err := s.RecentEvents(ctx, "", 10)
	if err != nil {
		t.Fatalf("RecentEvents failed: %v", err)
	}
	if len(all) != 5 {
		t.Errorf("RecentEvents(all) = %d rows, want 5", len(all))
	}

	counts, err := s.CountEvents(ctx)
	if err != nil {
		t.Fatalf("CountEvents failed: %v", err)
	}
	if counts["alpha"] != 3 || counts["beta"] != 2 {
		t.Errorf("CountEvents = %v, want alpha:3 beta:2", counts)
	}
}

func TestSaveEvents_Empty(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveEvents(context.Background(), nil); err != nil {
		t.Errorf("SaveEvents(nil) = %v, want nil", err)
	}
}

func TestPing(t *testing.T) {
	s := openTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping = %v, want nil", err)
	}
}

// --- Archiver ---

// stubSource feeds the archiver from a slice with cursor semantics.
type stubSource struct {
	events []script.Event
}

func (s *stubSource) EventsSince(cursor uint64) ([]script.Event, uint64) {
	if cursor >= uint64(len(s.events)) {
		return nil, uint64(len(s.events))
	}
	out := make([]script.Event, len(s.events)-int(cursor))
	copy(out, s.events[cursor:])
	return out, uint64(len(s.events))
}

func TestArchiver_FlushOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	src := &stubSource{events: sampleEvents("alpha", 4)}
	a := NewArchiver(s, src, "", discardLogger())

	if err := a.FlushOnce(ctx); err != nil {
		t.Fatalf("FlushOnce failed: %v", err)
	}
	counts, _ := s.CountEvents(ctx)
	if counts["alpha"] != 4 {
		t.Fatalf("archived = %d, want 4", counts["alpha"])
	}

	// Second flush with no new events writes nothing.
	if err := a.FlushOnce(ctx); err != nil {
		t.Fatalf("FlushOnce failed: %v", err)
	}
	counts, _ = s.CountEvents(ctx)
	if counts["alpha"] != 4 {
		t.Errorf("archived after idle flush = %d, want 4", counts["alpha"])
	}

	// New events move the cursor forward, not back over old ones.
	src.events = append(src.events, sampleEvents("alpha", 2)...)
	if err := a.FlushOnce(ctx); err != nil {
		t.Fatalf("FlushOnce failed: %v", err)
	}
	counts, _ = s.CountEvents(ctx)
	if counts["alpha"] != 6 {
		t.Errorf("archived after new events = %d, want 6", counts["alpha"])
	}
}
