package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// windowLimiter bounds requests per client identifier within a fixed recent
// window. An entry resets to {count:1, start:now} once its window lapses;
// otherwise the count increments and the request is denied past max. State
// is per process: in a multi-instance deployment each instance enforces its
// own bound, so the effective global limit is max × instances.
type windowLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	now     func() time.Time
	entries map[string]*windowEntry
}

type windowEntry struct {
	count int
	start time.Time
}

func newWindowLimiter(max int, window time.Duration) *windowLimiter {
	return &windowLimiter{
		max:     max,
		window:  window,
		now:     time.Now,
		entries: make(map[string]*windowEntry),
	}
}

// Allow reports whether a request from clientID fits the window. The
// upsert-or-reset happens under one lock so racing requests from the same
// client cannot under-count.
func (l *windowLimiter) Allow(clientID string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entries[clientID]
	if e == nil || now.Sub(e.start) > l.window {
		l.entries[clientID] = &windowEntry{count: 1, start: now}
		l.sweep(now)
		return true
	}
	e.count++
	return e.count <= l.max
}

// sweep drops entries whose window lapsed long ago; called while holding mu.
func (l *windowLimiter) sweep(now time.Time) {
	if len(l.entries) < 1024 {
		return
	}
	for k, e := range l.entries {
		if now.Sub(e.start) > 2*l.window {
			delete(l.entries, k)
		}
	}
}

func getClientIP(r *http.Request) string {
	xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
