// Package orchestrator coordinates many lesson sessions: it owns the
// session registry, the global event log, and the tick rate limiter.
// It is the only object external callers talk to; environment faults
// never escape its boundary — missing-lesson conditions surface as
// false/nil, everything else as structured log entries.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/chandra-edu/chandra/internal/lesson"
	"github.com/chandra-edu/chandra/internal/script"
)

// DefaultTickInterval is the minimum spacing between effective ticks.
const DefaultTickInterval = time.Second

// Config holds the orchestrator's policy constants. The defaults mirror
// the original deployment; all of them are tunable.
type Config struct {
	TickInterval      time.Duration // Min spacing between effective ticks. Default 1s.
	EventLogCap       int           // Global ring buffer size. Default 1000.
	ErrorThreshold    int           // Hook faults before auto-stop. Default 10.
	MaxExecutionSteps uint64        // Starlark step budget per invocation. Default 500k.
	StateHistoryCap   int           // Retained state changes per session. Default 200.
}

func (c Config) tickInterval() time.Duration {
	if c.TickInterval <= 0 {
		return DefaultTickInterval
	}
	return c.TickInterval
}

func (c Config) environmentOptions() script.Options {
	return script.Options{
		ErrorThreshold:    c.ErrorThreshold,
		MaxExecutionSteps: c.MaxExecutionSteps,
		StateHistoryCap:   c.StateHistoryCap,
	}
}

// session pairs a live environment with the definition it was loaded
// under. The definition is referenced, not owned.
type session struct {
	env *script.Environment
	def *lesson.Definition
}

// SessionInfo is the read-only view of a live session.
type SessionInfo struct {
	LessonID   string    `json:"lesson_id"`
	SessionID  string    `json:"session_id"`
	Phase      string    `json:"phase"`
	ErrorCount int       `json:"error_count"`
	StartedAt  time.Time `json:"started_at,omitzero"`
}

// Orchestrator is the session registry and scheduler front end.
type Orchestrator struct {
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics     // nil-safe
	tracer  trace.Tracer // nil-safe

	mu       sync.Mutex // Registry and tick limiter; never held during hook execution.
	sessions map[string]*session
	order    []string // Lesson ids in registration order.
	lastTick time.Time

	log *EventLog
}

// New creates an Orchestrator. metrics and tracer may be nil; a nil
// logger discards output.
func New(cfg Config, metrics *Metrics, tracer trace.Tracer, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Orchestrator{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		tracer:   tracer,
		sessions: make(map[string]*session),
		log:      NewEventLog(cfg.EventLogCap),
	}
}

// Load compiles source into a fresh session for lessonID, superseding
// (and stopping) any prior live session for the same lesson. Returns
// false when the source fails to load; no session is registered then.
func (o *Orchestrator) Load(ctx context.Context, lessonID, source string, def *lesson.Definition) bool {
	ctx, end := o.span(ctx, "lesson.load", lessonID)
	defer end()

	sessionID := fmt.Sprintf("%s_%d", lessonID, time.Now().UnixMilli())
	env := script.NewEnvironment(lessonID, sessionID, o.cfg.environmentOptions(), o.logger)

	if err := env.Load(source); err != nil {
		o.logger.ErrorContext(ctx, "lesson load failed",
			slog.String("lesson_id", lessonID),
			slog.String("error", err.Error()),
		)
		if o.metrics != nil {
			o.metrics.LessonLoads.WithLabelValues("error").Inc()
		}
		return false
	}

	o.mu.Lock()
	old := o.sessions[lessonID]
	o.sessions[lessonID] = &session{env: env, def: def}
	if old == nil {
		o.order = append(o.order, lessonID)
	}
	o.mu.Unlock()

	// The old environment is already unreachable through the registry;
	// dispatches that raced the swap see it non-running after Stop.
	if old != nil {
		old.env.Stop()
		o.collect(old.env)
		o.logger.InfoContext(ctx, "superseded lesson session",
			slog.String("lesson_id", lessonID),
			slog.String("old_session_id", old.env.SessionID()),
			slog.String("session_id", sessionID),
		)
	}

	o.logger.InfoContext(ctx, "lesson loaded",
		slog.String("lesson_id", lessonID),
		slog.String("session_id", sessionID),
	)
	if o.metrics != nil {
		o.metrics.LessonLoads.WithLabelValues("ok").Inc()
		o.metrics.ActiveSessions.Set(float64(o.sessionCount()))
	}
	return true
}

// Start begins the lesson's session. Returns false when there is no
// live session or the session already ran.
func (o *Orchestrator) Start(ctx context.Context, lessonID string) bool {
	s := o.lookup(lessonID)
	if s == nil {
		return false
	}
	ok := s.env.Start()
	o.collect(s.env)
	if ok {
		o.logger.InfoContext(ctx, "lesson started",
			slog.String("lesson_id", lessonID),
			slog.String("session_id", s.env.SessionID()),
		)
	}
	return ok
}

// Stop removes the lesson's session and runs its completion path, even
// if it never started. Returns false when no session exists.
func (o *Orchestrator) Stop(ctx context.Context, lessonID string) bool {
	o.mu.Lock()
	s := o.sessions[lessonID]
	if s != nil {
		o.unregisterLocked(lessonID)
	}
	o.mu.Unlock()
	if s == nil {
		return false
	}

	s.env.Stop()
	o.collect(s.env)
	o.logger.InfoContext(ctx, "lesson stopped",
		slog.String("lesson_id", lessonID),
		slog.String("session_id", s.env.SessionID()),
	)
	if o.metrics != nil {
		o.metrics.ActiveSessions.Set(float64(o.sessionCount()))
	}
	return true
}

// DispatchGesture forwards a gesture payload to the lesson's session.
// Missing sessions log a warning and return; faults inside the hook are
// absorbed by the environment.
func (o *Orchestrator) DispatchGesture(ctx context.Context, lessonID string, payload map[string]any) {
	ctx, end := o.span(ctx, "lesson.dispatch_gesture", lessonID)
	defer end()

	s := o.lookup(lessonID)
	if s == nil {
		o.logger.WarnContext(ctx, "gesture for unknown lesson",
			slog.String("lesson_id", lessonID),
		)
		return
	}

	s.env.HandleGesture(payload)
	o.collect(s.env)
	o.enforceErrorBudget(ctx, lessonID, s)
}

// Tick advances all live sessions in registration order. Callable at
// any rate: calls within the configured interval of the previous
// effective tick are no-ops.
func (o *Orchestrator) Tick(ctx context.Context) {
	o.mu.Lock()
	now := time.Now()
	if now.Sub(o.lastTick) < o.cfg.tickInterval() {
		o.mu.Unlock()
		return
	}
	o.lastTick = now

	ticked := make([]*session, 0, len(o.order))
	ids := make([]string, 0, len(o.order))
	for _, id := range o.order {
		if s, ok := o.sessions[id]; ok {
			ticked = append(ticked, s)
			ids = append(ids, id)
		}
	}
	o.mu.Unlock()

	ctx, end := o.span(ctx, "lesson.tick", "")
	defer end()

	for i, s := range ticked {
		s.env.Tick()
		o.collect(s.env)
		o.enforceErrorBudget(ctx, ids[i], s)
	}

	if o.metrics != nil {
		o.metrics.TickDuration.Observe(time.Since(now).Seconds())
	}
}

// GetState returns a snapshot of the lesson's session state, nil when
// no live session exists. Never blocks on hook execution.
func (o *Orchestrator) GetState(lessonID string) map[string]any {
	s := o.lookup(lessonID)
	if s == nil {
		return nil
	}
	return s.env.StateSnapshot()
}

// RecentEvents returns up to limit recent events, optionally filtered
// by lesson id. Events of stopped and deleted lessons remain visible
// until evicted.
func (o *Orchestrator) RecentEvents(lessonID string, limit int) []script.Event {
	return o.log.Recent(lessonID, limit)
}

// EventsSince returns retained events appended after cursor, plus the
// new cursor. Feed for the analytics archiver.
func (o *Orchestrator) EventsSince(cursor uint64) ([]script.Event, uint64) {
	return o.log.Since(cursor)
}

// Lessons returns the live lesson ids in registration order.
func (o *Orchestrator) Lessons() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.order))
	for _, id := range o.order {
		if _, ok := o.sessions[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// SessionInfo returns the read-only view of the lesson's live session.
func (o *Orchestrator) SessionInfo(lessonID string) (SessionInfo, bool) {
	s := o.lookup(lessonID)
	if s == nil {
		return SessionInfo{}, false
	}
	return SessionInfo{
		LessonID:   lessonID,
		SessionID:  s.env.SessionID(),
		Phase:      s.env.Phase().String(),
		ErrorCount: s.env.ErrorCount(),
		StartedAt:  s.env.StartedAt(),
	}, true
}

// Definition returns the definition the lesson was loaded under.
func (o *Orchestrator) Definition(lessonID string) (*lesson.Definition, bool) {
	s := o.lookup(lessonID)
	if s == nil {
		return nil, false
	}
	return s.def, true
}

// StopAll stops every live session; used during shutdown.
func (o *Orchestrator) StopAll(ctx context.Context) {
	for _, id := range o.Lessons() {
		o.Stop(ctx, id)
	}
}

// enforceErrorBudget transitions a session whose budget is exhausted to
// AutoStopped and removes it from the active set. Its completion path
// still runs.
func (o *Orchestrator) enforceErrorBudget(ctx context.Context, lessonID string, s *session) {
	if !s.env.ShouldStop() {
		return
	}

	o.mu.Lock()
	// Only remove if this session is still the registered one; a
	// concurrent reload may have swapped in a fresh environment.
	if cur := o.sessions[lessonID]; cur == s {
		o.unregisterLocked(lessonID)
	}
	o.mu.Unlock()

	s.env.AutoStop()
	o.collect(s.env)

	o.logger.WarnContext(ctx, "lesson auto-stopped after exceeding error threshold",
		slog.String("lesson_id", lessonID),
		slog.String("session_id", s.env.SessionID()),
		slog.Int("error_count", s.env.ErrorCount()),
	)
	if o.metrics != nil {
		o.metrics.AutoStops.Inc()
		o.metrics.ActiveSessions.Set(float64(o.sessionCount()))
	}
}

// collect drains the environment's event queue into the global log.
func (o *Orchestrator) collect(env *script.Environment) {
	events := env.DrainEvents()
	if len(events) == 0 {
		return
	}
	o.log.Append(events...)
	if o.metrics != nil {
		for _, ev := range events {
			o.metrics.EventsTotal.WithLabelValues(metricEventType(ev.Type)).Inc()
			if ev.Type == script.EventError {
				o.metrics.HookFaults.Inc()
			}
		}
	}
}

func (o *Orchestrator) lookup(lessonID string) *session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessions[lessonID]
}

func (o *Orchestrator) unregisterLocked(lessonID string) {
	delete(o.sessions, lessonID)
	for i, id := range o.order {
		if id == lessonID {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
}

func (o *Orchestrator) sessionCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sessions)
}

// span starts a trace span when tracing is enabled; the returned func
// ends it. No-op with a nil tracer.
func (o *Orchestrator) span(ctx context.Context, name, lessonID string) (context.Context, func()) {
	if o.tracer == nil {
		return ctx, func() {}
	}
	opts := []trace.SpanStartOption{}
	if lessonID != "" {
		opts = append(opts, trace.WithAttributes(attribute.String("lesson.id", lessonID)))
	}
	ctx, span := o.tracer.Start(ctx, name, opts...)
	return ctx, func() { span.End() }
}
