package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/chandra-edu/chandra/internal/script"
)

// DefaultFlushSchedule is the archiver's default cron schedule.
const DefaultFlushSchedule = "@every 30s"

// Source is the feed the archiver drains: a cursor-based view of the
// runtime's retained events.
type Source interface {
	EventsSince(cursor uint64) ([]script.Event, uint64)
}

// Archiver periodically copies new runtime events into the archive.
// It reads through a cursor, so a flush only sees events appended
// since the previous one; events evicted from the in-memory log before
// a flush are lost, which is acceptable for an analytics sink.
type Archiver struct {
	store    *Store
	source   Source
	schedule string
	logger   *slog.Logger

	cron *cron.Cron

	mu     sync.Mutex
	cursor uint64
}

// NewArchiver creates an Archiver; an empty schedule uses the default.
func NewArchiver(store *Store, source Source, schedule string, logger *slog.Logger) *Archiver {
	if schedule == "" {
		schedule = DefaultFlushSchedule
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Archiver{
		store:    store,
		source:   source,
		schedule: schedule,
		logger:   logger,
	}
}

// Start begins periodic flushing.
func (a *Archiver) Start(ctx context.Context) error {
	a.cron = cron.New()
	_, err := a.cron.AddFunc(a.schedule, func() {
		if err := a.FlushOnce(ctx); err != nil {
			a.logger.Error("event archive flush failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid archive flush schedule %q: %w", a.schedule, err)
	}
	a.cron.Start()
	a.logger.Info("event archiver started", slog.String("schedule", a.schedule))
	return nil
}

// Stop halts scheduling, waits for a running flush, then performs one
// final flush so shutdown does not drop the tail of the event stream.
func (a *Archiver) Stop(ctx context.Context) {
	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
	if err := a.FlushOnce(ctx); err != nil {
		a.logger.Error("final event archive flush failed", slog.String("error", err.Error()))
	}
}

// FlushOnce drains and persists events appended since the last flush.
// The cursor only advances after a successful save, so a failed flush
// retries the same batch next time.
func (a *Archiver) FlushOnce(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	events, next := a.source.EventsSince(a.cursor)
	if len(events) == 0 {
		a.cursor = next
		return nil
	}

	if err := a.store.SaveEvents(ctx, events); err != nil {
		return err
	}
	a.cursor = next

	a.logger.Debug("archived events", slog.Int("count", len(events)))
	return nil
}
