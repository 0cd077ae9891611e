// Package storage persists lesson events to SQLite for offline
// analytics. Uses modernc.org/sqlite (pure Go, no CGO) through the
// glebarez/sqlite GORM driver. The runtime never reads from here on
// the hot path; recent events are served from the in-memory log.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/chandra-edu/chandra/internal/script"
)

// Config holds SQLite-specific configuration.
type Config struct {
	Path        string // Database file path.
	JournalMode string // WAL mode by default.
}

// ArchivedEvent is the persisted form of a runtime event. Data keeps
// the payload as JSON text; SQLite stores JSON natively as text.
type ArchivedEvent struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Timestamp time.Time `gorm:"not null;index"`
	Type      string    `gorm:"not null;index"`
	LessonID  string    `gorm:"not null;index"`
	SessionID string    `gorm:"not null;index"`
	Severity  string    `gorm:"not null"`
	Data      string    `gorm:"type:text"`
	CreatedAt time.Time
}

func (ArchivedEvent) TableName() string { return "lesson_events" }

// Store is the SQLite-backed event archive.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	path   string
}

// Open creates the event archive, creating the database file and its
// parent directory as needed.
func Open(cfg Config, slogger *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
	}

	journalMode := cfg.JournalMode
	if journalMode == "" {
		journalMode = "wal"
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", cfg.Path, journalMode)

	gormLogger := logger.New(
		slogAdapter{slogger},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gormLogger,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	s := &Store{db: db, logger: slogger, path: cfg.Path}
	slogger.Info("event archive opened", slog.String("path", cfg.Path), slog.String("journal_mode", journalMode))
	return s, nil
}

// Migrate runs GORM AutoMigrate to create/update tables.
func (s *Store) Migrate(_ context.Context) error {
	return s.db.AutoMigrate(&ArchivedEvent{})
}

// SaveEvents appends a batch of runtime events. Payloads that fail to
// encode are stored with a null body rather than dropping the row.
func (s *Store) SaveEvents(ctx context.Context, events []script.Event) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([]ArchivedEvent, 0, len(events))
	for _, ev := range events {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			s.logger.Warn("event payload not serializable",
				slog.String("type", ev.Type),
				slog.String("lesson_id", ev.LessonID),
			)
			data = []byte("null")
		}
		rows = append(rows, ArchivedEvent{
			ID:        uuid.New(),
			Timestamp: ev.Timestamp,
			Type:      ev.Type,
			LessonID:  ev.LessonID,
			SessionID: ev.SessionID,
			Severity:  ev.Severity,
			Data:      string(data),
		})
	}

	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("archiving %d events: %w", len(rows), err)
	}
	return nil
}

// RecentEvents returns the newest archived events, optionally filtered
// by lesson id, newest first.
func (s *Store) RecentEvents(ctx context.Context, lessonID string, limit int) ([]ArchivedEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Order("timestamp DESC").Limit(limit)
	if lessonID != "" {
		q = q.Where("lesson_id = ?", lessonID)
	}
	var rows []ArchivedEvent
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying archived events: %w", err)
	}
	return rows, nil
}

// CountEvents returns the number of archived events per lesson.
func (s *Store) CountEvents(ctx context.Context) (map[string]int64, error) {
	type row struct {
		LessonID string
		N        int64
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Model(&ArchivedEvent{}).
		Select("lesson_id, count(*) as n").
		Group("lesson_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("counting archived events: %w", err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.LessonID] = r.N
	}
	return out, nil
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// slogAdapter wraps *slog.Logger for GORM's logger.Writer interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Printf(format string, args ...any) {
	s.logger.Info(fmt.Sprintf(format, args...))
}
