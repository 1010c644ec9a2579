// Package audit keeps a hash-chained log of vault lifecycle events so that
// tampering with the history (dropping a failed-unlock entry, say) is
// detectable.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Event names recorded by the session manager and sync client.
const (
	EventCreate       = "vault.create"
	EventUnlock       = "vault.unlock"
	EventUnlockFailed = "vault.unlock_failed"
	EventLock         = "vault.lock"
	EventAutoLock     = "vault.autolock"
	EventReset        = "vault.reset"
	EventResume       = "vault.resume"
	EventPush         = "sync.push"
	EventPull         = "sync.pull"
	EventDelete       = "sync.delete"
)

type Entry struct {
	TS   int64  `json:"ts"`
	What string `json:"what"`
	Hash string `json:"hash"`
}

// Log is an append-only chain: each entry's hash covers the previous hash
// and the event name. Safe for concurrent use (the auto-lock timer appends
// from its own goroutine).
type Log struct {
	mu       sync.Mutex
	lastHash []byte
	entries  []Entry
}

func New() *Log { return &Log{} }

func (l *Log) Append(what string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := sha256.New()
	h.Write(l.lastHash)
	h.Write([]byte(what))
	sum := h.Sum(nil)
	l.lastHash = sum
	e := Entry{TS: time.Now().Unix(), What: what, Hash: hex.EncodeToString(sum)}
	l.entries = append(l.entries, e)
	return e
}

func (l *Log) Verify() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var prev []byte
	for i, e := range l.entries {
		h := sha256.New()
		h.Write(prev)
		h.Write([]byte(e.What))
		sum := h.Sum(nil)
		if hex.EncodeToString(sum) != e.Hash {
			return fmt.Errorf("audit: chain broken at entry %d", i)
		}
		prev = sum
	}
	return nil
}

func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}
