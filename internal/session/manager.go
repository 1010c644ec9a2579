// Package session holds the decrypted credential in memory while the vault
// is unlocked, enforcing the auto-lock horizon and the shorter reload-cache
// window as two independently expiring lifetimes.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/acapretto/tokenvault/internal/audit"
	"github.com/acapretto/tokenvault/internal/crypto"
	"github.com/acapretto/tokenvault/internal/vault"
)

type State int

const (
	StateSetup State = iota
	StateLocked
	StateUnlocked
)

func (s State) String() string {
	switch s {
	case StateSetup:
		return "setup"
	case StateLocked:
		return "locked"
	case StateUnlocked:
		return "unlocked"
	default:
		return "unknown"
	}
}

var (
	ErrLocked      = errors.New("session: vault is locked")
	ErrNoVault     = errors.New("session: no vault configured")
	ErrVaultExists = errors.New("session: vault already exists")
	// ErrStaleUnlock means a lock or timeout intervened while the decrypt
	// was in flight; the just-decrypted secret was discarded.
	ErrStaleUnlock = errors.New("session: locked while unlock was in flight")
)

type Config struct {
	AutoLock time.Duration // horizon after the most recent create/unlock
	CacheTTL time.Duration // reload-cache lifetime, shorter than AutoLock
	Now      func() time.Time
	Audit    *audit.Log
}

func (c *Config) setDefaults() {
	if c.AutoLock <= 0 {
		c.AutoLock = 30 * time.Minute
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 10 * time.Minute
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Manager owns the session state machine. All transitions go through it; it
// is safe for concurrent use and for the timer goroutine racing an unlock.
type Manager struct {
	cfg   Config
	store *vault.Store
	cache CacheStore

	mu         sync.Mutex
	secret     string
	unlockedAt time.Time
	autoLockAt time.Time
	timer      *time.Timer
	gen        uint64 // bumped on every lock; detects stale unlocks

	// afterDecrypt, when set, runs between the KDF finishing and the result
	// being installed. Test seam for the stale-unlock path.
	afterDecrypt func()
}

func NewManager(store *vault.Store, cache CacheStore, cfg Config) *Manager {
	cfg.setDefaults()
	if cache == nil {
		cache = NewMemCache()
	}
	return &Manager{cfg: cfg, store: store, cache: cache}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.secret != "" {
		return StateUnlocked
	}
	if m.store.Exists() {
		return StateLocked
	}
	return StateSetup
}

// Secret returns the credential while unlocked.
func (m *Manager) Secret() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.secret == "" {
		return "", ErrLocked
	}
	return m.secret, nil
}

// AutoLockAt reports when the pending automatic lock will fire.
func (m *Manager) AutoLockAt() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.secret == "" {
		return time.Time{}, false
	}
	return m.autoLockAt, true
}

// Create encrypts secret under password, persists the record and unlocks.
func (m *Manager) Create(secret, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store.Exists() {
		return ErrVaultExists
	}
	rec, err := crypto.Encrypt(secret, password)
	if err != nil {
		return err
	}
	if err := m.store.Save(rec); err != nil {
		return err
	}
	m.installLocked(secret)
	m.event(audit.EventCreate)
	return nil
}

// Unlock decrypts the persisted record. The KDF runs without the manager
// lock held; if a lock or timeout lands in the interim the decrypted secret
// is discarded instead of being installed into a locked session.
func (m *Manager) Unlock(password string) error {
	m.mu.Lock()
	if !m.store.Exists() {
		m.mu.Unlock()
		return ErrNoVault
	}
	if m.secret != "" {
		m.mu.Unlock()
		return nil // already unlocked
	}
	gen := m.gen
	m.mu.Unlock()

	rec, err := m.store.Load()
	if err != nil {
		return err
	}
	secret, err := crypto.Decrypt(rec, password)
	if err != nil {
		m.event(audit.EventUnlockFailed)
		return err
	}
	if m.afterDecrypt != nil {
		m.afterDecrypt()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return ErrStaleUnlock
	}
	m.installLocked(secret)
	m.event(audit.EventUnlock)
	return nil
}

// Resume unlocks from a live reload-cache entry without a password. The
// auto-lock timer restarts fresh from now, not from any prior remainder.
func (m *Manager) Resume() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.secret != "" || !m.store.Exists() {
		return false
	}
	e, ok := m.cache.Get()
	if !ok {
		return false
	}
	if !m.cfg.Now().Before(e.ExpiresAt) {
		m.cache.Clear()
		return false
	}
	m.installLocked(e.Secret)
	m.event(audit.EventResume)
	return true
}

// Lock drops the secret, clears the reload cache and cancels the pending
// automatic lock.
func (m *Manager) Lock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.secret == "" {
		return
	}
	m.lockLocked()
	m.event(audit.EventLock)
}

// Reset destroys the persisted record irrecoverably and returns the session
// to Setup. Confirmation is the caller's responsibility. The reload cache is
// cleared even when the session is already locked, since a prior unlock may
// have left a live entry behind, and the generation bump discards any
// decrypt in flight.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockLocked()
	if err := m.store.Delete(); err != nil {
		return err
	}
	m.event(audit.EventReset)
	return nil
}

// installLocked sets the secret, arms the timer and writes the reload cache.
// Caller holds m.mu.
func (m *Manager) installLocked(secret string) {
	now := m.cfg.Now()
	m.secret = secret
	m.unlockedAt = now
	m.autoLockAt = now.Add(m.cfg.AutoLock)
	_ = m.cache.Put(CacheEntry{Secret: secret, ExpiresAt: now.Add(m.cfg.CacheTTL)})

	if m.timer != nil {
		m.timer.Stop()
	}
	gen := m.gen
	m.timer = time.AfterFunc(m.cfg.AutoLock, func() { m.autoLock(gen) })
}

// lockLocked clears state and bumps the generation so that any decrypt in
// flight or pending timer from the old generation becomes a no-op.
// Caller holds m.mu.
func (m *Manager) lockLocked() {
	m.secret = ""
	m.unlockedAt = time.Time{}
	m.autoLockAt = time.Time{}
	m.cache.Clear()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.gen++
}

func (m *Manager) autoLock(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || m.secret == "" {
		return // superseded by an explicit lock or a newer unlock
	}
	m.lockLocked()
	m.event(audit.EventAutoLock)
}

func (m *Manager) event(what string) {
	if m.cfg.Audit != nil {
		m.cfg.Audit.Append(what)
	}
}
