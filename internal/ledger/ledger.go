// Package ledger persists the "already notified today" record that keeps
// chat notifications down to one per merge request per calendar day.
package ledger

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mrmonitor/internal/domain"
)

// dateLayout is an ISO 8601 date with no time component.
const dateLayout = "2006-01-02"

// Ledger maps a merge request key to the calendar date it was last notified
// on. Single-writer: all access happens on the coordinating goroutine, the
// mutex only guards against a concurrent Flush during shutdown.
type Ledger struct {
	path    string
	mu      sync.Mutex
	entries map[string]string // key -> ISO date
	dirty   bool
	logger  *slog.Logger
}

// Open loads the ledger file. A missing or corrupt file is treated as no
// history, never as a fatal error.
func Open(path string, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		path:    path,
		entries: make(map[string]string),
		logger:  logger,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("could not read ledger, starting empty", "path", path, "error", err)
		}
		return l
	}
	if err := json.Unmarshal(data, &l.entries); err != nil {
		logger.Warn("ledger file corrupt, starting empty", "path", path, "error", err)
		l.entries = make(map[string]string)
	}
	return l
}

// IsNotificationDue reports whether no notification went out yet today for
// the given request. True when there is no record or the recorded date is
// strictly before today's calendar date.
func (l *Ledger) IsNotificationDue(repository string, id int, today time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	recorded, ok := l.entries[domain.Key(repository, id)]
	if !ok {
		return true
	}
	return recorded < today.Format(dateLayout)
}

// RecordNotified stores today's date for the request and persists. A write
// failure keeps the in-memory record so the next persist retries it; the
// caller never sees it as fatal.
func (l *Ledger) RecordNotified(repository string, id int, today time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[domain.Key(repository, id)] = today.Format(dateLayout)
	l.dirty = true
	l.persistLocked()
}

// Flush writes any unsaved records. Called on shutdown.
func (l *Ledger) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.dirty {
		l.persistLocked()
	}
}

// persistLocked writes to a temporary file and renames it into place so a
// crash mid-write never truncates the ledger.
func (l *Ledger) persistLocked() {
	data, err := json.MarshalIndent(l.entries, "", "  ")
	if err != nil {
		l.logger.Error("could not marshal ledger", "error", err)
		return
	}

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			l.logger.Error("could not create ledger directory", "dir", dir, "error", err)
			return
		}
	}

	tempFile := l.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o644); err != nil {
		l.logger.Error("could not write ledger temp file", "path", tempFile, "error", err)
		return
	}
	if err := os.Rename(tempFile, l.path); err != nil {
		l.logger.Error("could not replace ledger file", "path", l.path, "error", err)
		os.Remove(tempFile)
		return
	}
	l.dirty = false
}
