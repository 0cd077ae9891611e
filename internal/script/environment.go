// Package script implements the sandboxed lesson runtime: a Starlark
// environment with a closed capability surface, a per-session state
// store, and fault-isolated hook dispatch.
//
// The sandbox is a capability boundary against accidental misuse by
// content authors, not a hardened perimeter: imports and host calls are
// closed by construction, but a pathological script can still burn its
// execution-step budget on every hook call.
package script

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Hook names a script entry point. Exactly these four exist.
type Hook string

const (
	HookStart    Hook = "start"
	HookGesture  Hook = "gesture"
	HookTick     Hook = "tick"
	HookComplete Hook = "complete"
)

// Phase is the session lifecycle state.
type Phase int32

const (
	PhaseUnloaded Phase = iota
	PhaseLoaded
	PhaseRunning
	PhaseCompleted
	PhaseAutoStopped
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseUnloaded:
		return "unloaded"
	case PhaseLoaded:
		return "loaded"
	case PhaseRunning:
		return "running"
	case PhaseCompleted:
		return "completed"
	case PhaseAutoStopped:
		return "auto_stopped"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseAutoStopped || p == PhaseStopped
}

// DefaultErrorThreshold is the hook fault budget before a session is
// eligible for auto-stop.
const DefaultErrorThreshold = 10

// DefaultMaxExecutionSteps bounds the Starlark steps of a single load or
// hook invocation.
const DefaultMaxExecutionSteps = 500_000

// Options configures a session environment. Zero values select defaults.
type Options struct {
	ErrorThreshold    int
	MaxExecutionSteps uint64
	StateHistoryCap   int
}

func (o Options) errorThreshold() int64 {
	if o.ErrorThreshold <= 0 {
		return DefaultErrorThreshold
	}
	return int64(o.ErrorThreshold)
}

func (o Options) maxSteps() uint64 {
	if o.MaxExecutionSteps == 0 {
		return DefaultMaxExecutionSteps
	}
	return o.MaxExecutionSteps
}

// Environment owns one script's lifetime: its namespace, hook table,
// state store, event queue, and error counter.
//
// The environment lock serializes hook execution: at most one of
// Start/HandleGesture/Tick/Stop/AutoStop runs for a session at any
// instant. State snapshots, the event queue, phase, and the error count
// are guarded separately so read-only queries never wait on a hook.
type Environment struct {
	lessonID  string
	sessionID string
	opts      Options
	logger    *slog.Logger

	mu     sync.Mutex // Serializes hook execution and transitions.
	hooks  map[Hook]starlark.Callable
	sealed bool // Set after load; registrars reject further calls.

	phase      atomic.Int32
	errorCount atomic.Int64
	startedAt  time.Time // Written once under mu in Start.

	state *StateStore

	queueMu sync.Mutex
	queue   []Event
}

// NewEnvironment creates an unloaded environment for one lesson session.
// A nil logger discards output.
func NewEnvironment(lessonID, sessionID string, opts Options, logger *slog.Logger) *Environment {
	if logger == nil {
		logger = discardLogger()
	}
	return &Environment{
		lessonID:  lessonID,
		sessionID: sessionID,
		opts:      opts,
		logger:    logger,
		hooks:     make(map[Hook]starlark.Callable),
		state:     NewStateStore(opts.StateHistoryCap),
	}
}

// LessonID returns the lesson this environment executes.
func (e *Environment) LessonID() string { return e.lessonID }

// SessionID returns the session identity minted at load time.
func (e *Environment) SessionID() string { return e.sessionID }

// Phase returns the current lifecycle phase without blocking.
func (e *Environment) Phase() Phase { return Phase(e.phase.Load()) }

// ErrorCount returns the accumulated hook fault count without blocking.
func (e *Environment) ErrorCount() int { return int(e.errorCount.Load()) }

// ShouldStop reports whether the error budget is exhausted. Pure query;
// the orchestrator enforces the resulting auto-stop.
func (e *Environment) ShouldStop() bool {
	return e.errorCount.Load() >= e.opts.errorThreshold()
}

// StartedAt returns when Start ran, zero if it has not.
func (e *Environment) StartedAt() time.Time { return e.state.StartedAt() }

// StateSnapshot returns a copy of the session state.
func (e *Environment) StateSnapshot() map[string]any { return e.state.Snapshot() }

// fileOptions enables the dialect features author scripts rely on.
func fileOptions() *syntax.FileOptions {
	return &syntax.FileOptions{
		Set:             true,
		While:           true,
		TopLevelControl: true,
		GlobalReassign:  true,
		Recursion:       true,
	}
}

func (e *Environment) newThread(purpose string) *starlark.Thread {
	thread := &starlark.Thread{
		Name: e.sessionID + "/" + purpose,
		Load: e.loadModule,
		Print: func(_ *starlark.Thread, msg string) {
			e.logger.Info(msg,
				slog.String("lesson_id", e.lessonID),
				slog.String("session_id", e.sessionID),
			)
		},
	}
	thread.SetMaxExecutionSteps(e.opts.maxSteps())
	return thread
}

// Load parses and executes the script body in the restricted namespace,
// populating the hook table. A syntax error or a disallowed import fails
// the whole load: the environment stays unloaded with an empty hook table.
func (e *Environment) Load(source string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if Phase(e.phase.Load()) != PhaseUnloaded {
		return &LoadError{LessonID: e.lessonID, Err: errors.New("environment already loaded")}
	}

	thread := e.newThread("load")
	_, err := starlark.ExecFileOptions(fileOptions(), thread, e.lessonID+".star", source, e.capabilitySurface())
	if err != nil {
		// Drop any hooks a partial execution registered.
		e.hooks = make(map[Hook]starlark.Callable)
		return &LoadError{LessonID: e.lessonID, Err: evalErr(err)}
	}

	e.sealed = true
	e.phase.Store(int32(PhaseLoaded))
	return nil
}

// Start transitions Loaded -> Running, stamps the start time, emits
// lesson_started, then invokes the start hook. A faulting start hook is
// counted but never aborts the start. Returns false if the environment
// is not in the Loaded phase; Running is entered at most once.
func (e *Environment) Start() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if Phase(e.phase.Load()) != PhaseLoaded {
		return false
	}
	e.phase.Store(int32(PhaseRunning))
	e.startedAt = time.Now().UTC()
	e.state.MarkStarted(e.startedAt)

	e.appendEvent(EventLessonStarted, map[string]any{
		"timestamp": e.startedAt.Format(time.RFC3339Nano),
	}, SeverityInfo)

	e.invoke(HookStart)
	return true
}

// HandleGesture forwards a gesture payload to the gesture hook, then
// appends the implicit gesture_received event. No-op unless Running.
func (e *Environment) HandleGesture(payload map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if Phase(e.phase.Load()) != PhaseRunning {
		return
	}

	if g, ok := payload["gesture"].(string); ok {
		e.state.Set("current_gesture", g)
	}
	e.state.Set("last_gesture_time", time.Now().UTC().Format(time.RFC3339Nano))

	if fn, ok := e.hooks[HookGesture]; ok {
		arg, err := toStarlark(payload)
		if err != nil {
			e.recordFault(HookGesture, fmt.Errorf("converting payload: %w", err))
		} else {
			e.call(HookGesture, fn, arg)
		}
	}

	e.appendEvent(EventGestureReceived, payload, SeverityInfo)
}

// Tick invokes the tick hook, then appends the implicit tick event.
// No-op unless Running.
func (e *Environment) Tick() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if Phase(e.phase.Load()) != PhaseRunning {
		return
	}

	e.invoke(HookTick)
	e.appendEvent(EventTick, map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}, SeverityDebug)
}

// Stop runs the completion path and lands in Stopped. Safe to call in
// any phase; terminal phases are a no-op. If a hook is mid-flight, Stop
// waits for it (bounded by the environment lock, there is no hard kill).
func (e *Environment) Stop() {
	e.terminate(PhaseStopped)
}

// AutoStop runs the completion path and lands in AutoStopped, the
// terminal phase for sessions that exhausted their error budget.
func (e *Environment) AutoStop() {
	e.terminate(PhaseAutoStopped)
}

func (e *Environment) terminate(target Phase) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if Phase(e.phase.Load()).Terminal() {
		return
	}
	e.completeLocked()
	e.phase.Store(int32(target))
}

// completeLocked invokes the complete hook (best effort) and emits
// lesson_completed with the elapsed duration.
func (e *Environment) completeLocked() {
	e.invoke(HookComplete)

	duration := 0.0
	if !e.startedAt.IsZero() {
		duration = time.Since(e.startedAt).Seconds()
	}
	e.appendEvent(EventLessonCompleted, map[string]any{
		"duration_seconds": duration,
	}, SeverityInfo)
}

// invoke calls the named hook with no arguments if it is registered.
// Must hold e.mu.
func (e *Environment) invoke(h Hook) {
	fn, ok := e.hooks[h]
	if !ok {
		return
	}
	e.call(h, fn)
}

// call executes one hook invocation with fault isolation: any error is
// logged, counted, and turned into an error event. Must hold e.mu.
func (e *Environment) call(h Hook, fn starlark.Callable, args ...starlark.Value) {
	thread := e.newThread(string(h))
	if _, err := starlark.Call(thread, fn, starlark.Tuple(args), nil); err != nil {
		e.recordFault(h, evalErr(err))
	}
}

func (e *Environment) recordFault(h Hook, err error) {
	fault := &HookFault{Hook: h, Err: err}
	e.errorCount.Add(1)

	e.logger.Error("hook fault",
		slog.String("lesson_id", e.lessonID),
		slog.String("session_id", e.sessionID),
		slog.String("hook", string(h)),
		slog.Int64("error_count", e.errorCount.Load()),
		slog.String("error", err.Error()),
	)

	e.appendEvent(EventError, map[string]any{
		"hook":  string(h),
		"error": fault.Error(),
	}, SeverityError)
}

// appendEvent queues an event for the orchestrator to drain.
func (e *Environment) appendEvent(eventType string, data map[string]any, severity string) {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	e.queue = append(e.queue, Event{
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Data:      data,
		LessonID:  e.lessonID,
		SessionID: e.sessionID,
		Severity:  severity,
	})
}

// DrainEvents removes and returns all queued events in production order.
func (e *Environment) DrainEvents() []Event {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	out := e.queue
	e.queue = nil
	return out
}

// evalErr flattens a Starlark EvalError to its message, dropping the
// multi-line backtrace.
func evalErr(err error) error {
	var ee *starlark.EvalError
	if errors.As(err, &ee) {
		return errors.New(ee.Error())
	}
	return err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
