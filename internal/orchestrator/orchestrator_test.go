package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/chandra-edu/chandra/internal/lesson"
	"github.com/chandra-edu/chandra/internal/script"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOrchestrator(cfg Config) *Orchestrator {
	return New(cfg, nil, nil, discardLogger())
}

const countingScript = `
def start():
    state.set("count", 0)

def gesture(payload):
    count = state.get("count") + 1
    state.set("count", count)
    if count >= 5:
        emit("lesson_completed", {"count": count})

on_start(start)
on_gesture(gesture)
`

func countEvents(events []script.Event, typ string) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

// --- Load ---

func TestLoad_RegistersSession(t *testing.T) {
	o := newTestOrchestrator(Config{})
	ctx := context.Background()

	if !o.Load(ctx, "demo", "pass", lesson.Default("demo")) {
		t.Fatal("Load = false, want true")
	}

	info, ok := o.SessionInfo("demo")
	if !ok {
		t.Fatal("SessionInfo = not found")
	}
	if info.Phase != "loaded" {
		t.Errorf("Phase = %q, want loaded", info.Phase)
	}
	if info.SessionID == "" {
		t.Error("SessionID is empty")
	}

	lessons := o.Lessons()
	if len(lessons) != 1 || lessons[0] != "demo" {
		t.Errorf("Lessons = %v, want [demo]", lessons)
	}
}

func TestLoad_InvalidSourceNotRegistered(t *testing.T) {
	o := newTestOrchestrator(Config{})
	ctx := context.Background()

	if o.Load(ctx, "broken", "def x(:\n", lesson.Default("broken")) {
		t.Fatal("Load = true for invalid source")
	}
	if _, ok := o.SessionInfo("broken"); ok {
		t.Error("invalid lesson was registered")
	}
	if len(o.Lessons()) != 0 {
		t.Errorf("Lessons = %v, want empty", o.Lessons())
	}
}

func TestLoad_ReplacesAndStopsOldSession(t *testing.T) {
	o := newTestOrchestrator(Config{})
	ctx := context.Background()

	o.Load(ctx, "demo", `
def start():
    state.set("version", 1)
on_start(start)
`, lesson.Default("demo"))
	o.Start(ctx, "demo")

	first, _ := o.SessionInfo("demo")
	time.Sleep(2 * time.Millisecond) // Session ids carry a millisecond stamp.

	o.Load(ctx, "demo", `
def start():
    state.set("version", 2)
on_start(start)
`, lesson.Default("demo"))

	second, _ := o.SessionInfo("demo")
	if second.SessionID == first.SessionID {
		t.Error("reload kept the old session id")
	}
	if second.Phase != "loaded" {
		t.Errorf("replacement Phase = %q, want loaded (fresh state)", second.Phase)
	}

	// The superseded running session went through its completion path.
	if n := countEvents(o.RecentEvents("demo", 0), script.EventLessonCompleted); n != 1 {
		t.Errorf("lesson_completed events = %d, want 1 from the old session", n)
	}

	o.Start(ctx, "demo")
	if v := o.GetState("demo")["version"]; v != int64(2) {
		t.Errorf("state version = %v, want 2", v)
	}
}

// --- Lifecycle ---

func TestStartStop(t *testing.T) {
	o := newTestOrchestrator(Config{})
	ctx := context.Background()

	if o.Start(ctx, "ghost") {
		t.Error("Start on unknown lesson = true")
	}

	o.Load(ctx, "demo", countingScript, lesson.Default("demo"))
	if !o.Start(ctx, "demo") {
		t.Fatal("Start = false, want true")
	}
	if n := countEvents(o.RecentEvents("demo", 0), script.EventLessonStarted); n != 1 {
		t.Errorf("lesson_started events = %d, want 1", n)
	}

	if !o.Stop(ctx, "demo") {
		t.Fatal("Stop = false, want true")
	}
	if o.Stop(ctx, "demo") {
		t.Error("second Stop = true, want false")
	}
	if len(o.Lessons()) != 0 {
		t.Errorf("Lessons after Stop = %v, want empty", o.Lessons())
	}

	// Events of the stopped lesson stay queryable.
	if n := countEvents(o.RecentEvents("demo", 0), script.EventLessonCompleted); n != 1 {
		t.Errorf("lesson_completed events = %d, want 1", n)
	}
}

func TestDispatchGesture_CountingScenario(t *testing.T) {
	o := newTestOrchestrator(Config{})
	ctx := context.Background()

	o.Load(ctx, "count", countingScript, lesson.Default("count"))
	o.Start(ctx, "count")

	for i := 0; i < 5; i++ {
		o.DispatchGesture(ctx, "count", map[string]any{"gesture": "wave"})
	}

	events := o.RecentEvents("count", 0)
	if n := countEvents(events, script.EventGestureReceived); n != 5 {
		t.Errorf("gesture_received events = %d, want 5", n)
	}
	if n := countEvents(events, script.EventLessonCompleted); n != 1 {
		t.Errorf("lesson_completed events = %d, want 1", n)
	}
	if v := o.GetState("count")["count"]; v != int64(5) {
		t.Errorf("state count = %v, want 5", v)
	}
}

func TestDispatchGesture_UnknownLesson(t *testing.T) {
	o := newTestOrchestrator(Config{})
	o.DispatchGesture(context.Background(), "ghost", map[string]any{"gesture": "wave"})
	if len(o.RecentEvents("", 0)) != 0 {
		t.Error("gesture for unknown lesson produced events")
	}
}

// --- Tick ---

func TestTick_RateLimited(t *testing.T) {
	o := newTestOrchestrator(Config{TickInterval: time.Hour})
	ctx := context.Background()

	o.Load(ctx, "demo", `
def tick():
    pass
on_tick(tick)
`, lesson.Default("demo"))
	o.Start(ctx, "demo")

	o.Tick(ctx) // Effective.
	o.Tick(ctx) // Suppressed: within the interval of the previous tick.

	if n := countEvents(o.RecentEvents("demo", 0), script.EventTick); n != 1 {
		t.Errorf("tick events = %d, want 1 (second call rate limited)", n)
	}
}

func TestTick_RegistrationOrder(t *testing.T) {
	o := newTestOrchestrator(Config{TickInterval: time.Nanosecond})
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		o.Load(ctx, id, "pass", lesson.Default(id))
		o.Start(ctx, id)
	}
	time.Sleep(time.Millisecond)
	o.Tick(ctx)

	var order []string
	for _, ev := range o.RecentEvents("", 0) {
		if ev.Type == script.EventTick {
			order = append(order, ev.LessonID)
		}
	}
	want := []string{"c", "a", "b"}
	if len(order) != 3 {
		t.Fatalf("tick events = %v, want 3", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("tick order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

// --- Error budget ---

func TestAutoStop_RemovesSession(t *testing.T) {
	o := newTestOrchestrator(Config{ErrorThreshold: 2})
	ctx := context.Background()

	o.Load(ctx, "flaky", `
def gesture(payload):
    fail("boom")
on_gesture(gesture)
`, lesson.Default("flaky"))
	o.Start(ctx, "flaky")

	o.DispatchGesture(ctx, "flaky", map[string]any{"gesture": "one"})
	if _, ok := o.SessionInfo("flaky"); !ok {
		t.Fatal("session removed below the error threshold")
	}

	o.DispatchGesture(ctx, "flaky", map[string]any{"gesture": "two"})
	if _, ok := o.SessionInfo("flaky"); ok {
		t.Error("session still live after exhausting the error budget")
	}
	if len(o.Lessons()) != 0 {
		t.Errorf("Lessons = %v, want empty", o.Lessons())
	}

	events := o.RecentEvents("flaky", 0)
	if n := countEvents(events, script.EventError); n != 2 {
		t.Errorf("error events = %d, want 2", n)
	}
	if n := countEvents(events, script.EventLessonCompleted); n != 1 {
		t.Errorf("lesson_completed events = %d, want 1 from auto-stop", n)
	}
}

// --- Queries ---

func TestGetState_UnknownLesson(t *testing.T) {
	o := newTestOrchestrator(Config{})
	if o.GetState("ghost") != nil {
		t.Error("GetState for unknown lesson is not nil")
	}
}

func TestEventsSince_FeedsArchiver(t *testing.T) {
	o := newTestOrchestrator(Config{})
	ctx := context.Background()

	o.Load(ctx, "demo", "pass", lesson.Default("demo"))
	o.Start(ctx, "demo")

	events, cursor := o.EventsSince(0)
	if len(events) == 0 {
		t.Fatal("EventsSince(0) returned nothing after Start")
	}
	again, _ := o.EventsSince(cursor)
	if len(again) != 0 {
		t.Errorf("EventsSince(cursor) = %d events, want 0", len(again))
	}
}
