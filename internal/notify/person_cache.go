package notify

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// PersonCache maps code-host person names to chat user IDs so the workspace
// member list is not scanned on every send. A nil entry records a failed
// lookup, so unknown people are not re-queried every cycle either.
type PersonCache struct {
	path    string
	mu      sync.Mutex
	entries map[string]*string
	logger  *slog.Logger
}

// LoadPersonCache loads the cache file; a missing or corrupt file starts empty.
func LoadPersonCache(path string, logger *slog.Logger) *PersonCache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &PersonCache{
		path:    path,
		entries: make(map[string]*string),
		logger:  logger,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("could not read person cache", "path", path, "error", err)
		}
		return c
	}
	if err := json.Unmarshal(data, &c.entries); err != nil {
		logger.Warn("person cache corrupt, starting empty", "path", path, "error", err)
		c.entries = make(map[string]*string)
	}
	return c
}

// Get returns the cached chat ID for a person. known is true when a lookup
// result (including a miss) is already cached.
func (c *PersonCache) Get(person string) (id string, known bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[person]
	if !ok {
		return "", false
	}
	if entry == nil {
		return "", true
	}
	return *entry, true
}

// Put records a successful lookup and persists.
func (c *PersonCache) Put(person, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[person] = &id
	c.persistLocked()
}

// PutMiss records that a person has no chat handle and persists.
func (c *PersonCache) PutMiss(person string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[person] = nil
	c.persistLocked()
}

func (c *PersonCache) persistLocked() {
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		c.logger.Error("could not marshal person cache", "error", err)
		return
	}
	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			c.logger.Error("could not create cache directory", "dir", dir, "error", err)
			return
		}
	}

	tempFile := c.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o644); err != nil {
		c.logger.Error("could not write person cache", "path", tempFile, "error", err)
		return
	}
	if err := os.Rename(tempFile, c.path); err != nil {
		c.logger.Error("could not replace person cache", "path", c.path, "error", err)
		os.Remove(tempFile)
	}
}
