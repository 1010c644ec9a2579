package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// CacheEntry is the short-lived reload-survival record: it lets a restart
// within a small window skip the password prompt. It carries its own expiry,
// shorter than the auto-lock horizon, and is cleared on any explicit lock.
type CacheEntry struct {
	Secret    string    `json:"secret"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CacheStore is the transient, restart-surviving but non-durable store for
// the session cache. Implementations hold plaintext for at most the cache
// TTL; this is the deliberate usability trade the subsystem makes.
type CacheStore interface {
	Put(e CacheEntry) error
	// Get reports ok=false when no entry exists. Expiry is the caller's
	// concern; stores return whatever they hold.
	Get() (CacheEntry, bool)
	Clear()
}

// MemCache is a process-local cache. It does not survive a restart; useful
// for servers and tests.
type MemCache struct {
	entry *CacheEntry
}

func NewMemCache() *MemCache { return &MemCache{} }

func (m *MemCache) Put(e CacheEntry) error {
	m.entry = &e
	return nil
}

func (m *MemCache) Get() (CacheEntry, bool) {
	if m.entry == nil {
		return CacheEntry{}, false
	}
	return *m.entry, true
}

func (m *MemCache) Clear() { m.entry = nil }

// FileCache survives a process restart via a 0600 scratch file. The file is
// removed on Clear and overwritten on Put; it is never the durable record.
type FileCache struct {
	path string
}

func NewFileCache(path string) *FileCache { return &FileCache{path: path} }

func (f *FileCache) Put(e CacheEntry) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, b, 0o600)
}

func (f *FileCache) Get() (CacheEntry, bool) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		return CacheEntry{}, false
	}
	var e CacheEntry
	if err := json.Unmarshal(b, &e); err != nil {
		return CacheEntry{}, false
	}
	return e, true
}

func (f *FileCache) Clear() {
	// Best effort; a stale entry still expires on its own clock.
	_ = os.Remove(f.path)
}
