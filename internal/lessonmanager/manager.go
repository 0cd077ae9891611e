// Package lessonmanager owns the lesson scripts on disk: discovery,
// metadata sidecars, authoring operations, and hot reload. It hands
// loaded sources to the orchestrator and never executes scripts itself.
package lessonmanager

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chandra-edu/chandra/internal/lesson"
	"github.com/chandra-edu/chandra/internal/orchestrator"
)

const (
	scriptExt = ".star"

	// ReloadDebounce suppresses duplicate reloads of the same lesson;
	// editors and the fs watcher both fire bursts of writes.
	ReloadDebounce = time.Second
)

// Manager keeps the lessons directory and the orchestrator in sync.
type Manager struct {
	dir    string
	orch   *orchestrator.Orchestrator
	logger *slog.Logger

	watcherStarted atomic.Bool
	watching       atomic.Bool

	mu         sync.Mutex
	files      map[string]string // lesson id -> script path
	defs       map[string]*lesson.Definition
	lastReload map[string]time.Time
}

// LoadResult accumulates the outcome of a directory scan.
type LoadResult struct {
	Loaded []string
	Failed []string
}

// New creates a Manager rooted at dir, creating the directory if
// needed. A nil logger discards output.
func New(dir string, orch *orchestrator.Orchestrator, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lessons directory: %w", err)
	}
	return &Manager{
		dir:        dir,
		orch:       orch,
		logger:     logger,
		files:      make(map[string]string),
		defs:       make(map[string]*lesson.Definition),
		lastReload: make(map[string]time.Time),
	}, nil
}

// Dir returns the lessons directory.
func (m *Manager) Dir() string { return m.dir }

// Health reports whether the manager can keep lessons in sync: the
// lessons directory must be readable and, once StartWatcher has run,
// the watcher goroutine must still be alive. Wired into the ops
// server's readiness probe.
func (m *Manager) Health(_ context.Context) error {
	if _, err := os.ReadDir(m.dir); err != nil {
		return fmt.Errorf("lessons directory unreadable: %w", err)
	}
	if m.watcherStarted.Load() && !m.watching.Load() {
		return fmt.Errorf("lesson watcher stopped")
	}
	return nil
}

// lessonID derives the lesson id from a script path.
func lessonID(path string) string {
	return strings.TrimSuffix(filepath.Base(path), scriptExt)
}

// skipFile reports whether a directory entry is not a loadable lesson
// script. Underscore-prefixed files are author scratch space.
func skipFile(name string) bool {
	return !strings.HasSuffix(name, scriptExt) || strings.HasPrefix(name, "_")
}

// newScanID returns a short id correlating the log lines of one scan.
func newScanID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b)
}

// DiscoverAll scans the lessons directory and loads every script it
// finds. A script that fails to load is reported in the result and
// skipped; it never aborts the scan.
func (m *Manager) DiscoverAll(ctx context.Context) (LoadResult, error) {
	scanID := newScanID()
	m.logger.InfoContext(ctx, "scanning lessons directory",
		slog.String("scan_id", scanID),
		slog.String("dir", m.dir),
	)

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return LoadResult{}, fmt.Errorf("reading lessons directory: %w", err)
	}

	var res LoadResult
	for _, entry := range entries {
		if entry.IsDir() || skipFile(entry.Name()) {
			continue
		}
		path := filepath.Join(m.dir, entry.Name())
		if m.LoadFromFile(ctx, path) {
			res.Loaded = append(res.Loaded, lessonID(path))
		} else {
			res.Failed = append(res.Failed, lessonID(path))
		}
	}

	m.logger.InfoContext(ctx, "lesson discovery finished",
		slog.String("scan_id", scanID),
		slog.Int("loaded", len(res.Loaded)),
		slog.Int("failed", len(res.Failed)),
	)
	return res, nil
}

// LoadFromFile reads a lesson script and registers a fresh session with
// the orchestrator, superseding any prior session for the same lesson.
func (m *Manager) LoadFromFile(ctx context.Context, path string) bool {
	id := lessonID(path)

	source, err := os.ReadFile(path)
	if err != nil {
		m.logger.ErrorContext(ctx, "reading lesson script failed",
			slog.String("lesson_id", id),
			slog.String("error", err.Error()),
		)
		return false
	}

	def, err := loadOrCreateDefinition(path, id)
	if err != nil {
		m.logger.WarnContext(ctx, "lesson metadata unavailable, using defaults",
			slog.String("lesson_id", id),
			slog.String("error", err.Error()),
		)
		def = lesson.Default(id)
	}

	if !m.orch.Load(ctx, id, string(source), def) {
		return false
	}

	m.mu.Lock()
	m.files[id] = path
	m.defs[id] = def
	m.lastReload[id] = time.Now()
	m.mu.Unlock()
	return true
}

// Reload re-reads a known lesson from disk and replaces its session.
// Calls within ReloadDebounce of the previous reload are absorbed and
// report success, so watcher event bursts cost one reload.
func (m *Manager) Reload(ctx context.Context, id string) bool {
	m.mu.Lock()
	path, ok := m.files[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if time.Since(m.lastReload[id]) < ReloadDebounce {
		m.mu.Unlock()
		m.logger.DebugContext(ctx, "reload debounced", slog.String("lesson_id", id))
		return true
	}
	m.lastReload[id] = time.Now()
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "reloading lesson", slog.String("lesson_id", id))
	return m.LoadFromFile(ctx, path)
}

// Unload stops the lesson's session and forgets the script. The file
// itself is untouched.
func (m *Manager) Unload(ctx context.Context, id string) bool {
	m.mu.Lock()
	_, ok := m.files[id]
	delete(m.files, id)
	delete(m.defs, id)
	delete(m.lastReload, id)
	m.mu.Unlock()
	if !ok {
		return false
	}
	m.orch.Stop(ctx, id)
	return true
}

// Create writes a new lesson from a named template and loads it.
// Refuses to overwrite an existing lesson. When the fresh script fails
// to load, both the script and its sidecar are removed again so the
// directory never accumulates broken lessons.
func (m *Manager) Create(ctx context.Context, id, template string) error {
	src, ok := Templates[template]
	if !ok {
		return fmt.Errorf("unknown lesson template %q", template)
	}

	path := filepath.Join(m.dir, id+scriptExt)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("lesson %q already exists", id)
	}

	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		return fmt.Errorf("writing lesson script: %w", err)
	}

	if !m.LoadFromFile(ctx, path) {
		os.Remove(path)
		os.Remove(sidecarPath(path))
		return fmt.Errorf("template %q produced a lesson that failed to load", template)
	}
	return nil
}

// UpdateSource replaces a lesson's script on disk and reloads it. The
// previous source is restored when the new one fails to load.
func (m *Manager) UpdateSource(ctx context.Context, id, source string) error {
	m.mu.Lock()
	path, ok := m.files[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown lesson %q", id)
	}

	prev, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading current lesson script: %w", err)
	}
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		return fmt.Errorf("writing lesson script: %w", err)
	}

	if !m.LoadFromFile(ctx, path) {
		if restoreErr := os.WriteFile(path, prev, 0o644); restoreErr != nil {
			m.logger.ErrorContext(ctx, "restoring previous lesson script failed",
				slog.String("lesson_id", id),
				slog.String("error", restoreErr.Error()),
			)
		} else {
			m.LoadFromFile(ctx, path)
		}
		return fmt.Errorf("updated source for lesson %q failed to load", id)
	}
	return nil
}

// Delete stops the lesson and removes its script and sidecar from disk.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	path, ok := m.files[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown lesson %q", id)
	}

	m.Unload(ctx, id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lesson script: %w", err)
	}
	if err := os.Remove(sidecarPath(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lesson metadata: %w", err)
	}
	return nil
}

// List returns the known lesson ids, sorted.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.files))
	for id := range m.files {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Content returns a lesson's current script source.
func (m *Manager) Content(id string) (string, error) {
	m.mu.Lock()
	path, ok := m.files[id]
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("unknown lesson %q", id)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading lesson script: %w", err)
	}
	return string(data), nil
}

// Definition returns a lesson's metadata.
func (m *Manager) Definition(id string) (*lesson.Definition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.defs[id]
	return def, ok
}

// Close stops all managed lessons.
func (m *Manager) Close(ctx context.Context) {
	for _, id := range m.List() {
		m.Unload(ctx, id)
	}
}
