package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("session not found")

// Session is the activity record of one conversation.
type Session struct {
	ID             string    `json:"session_id"`
	Exchanges      int       `json:"exchanges"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type entry struct {
	session Session
	// lock is a one-slot semaphore so waiting can be abandoned on ctx cancel.
	lock    chan struct{}
	holders int
}

// Manager serialises exchanges per session and tracks session activity.
// Exchanges on different sessions never contend.
type Manager struct {
	mu                sync.Mutex
	sessions          map[string]*entry
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

// NewManager creates a manager. A zero inactivityTimeout disables expiry.
func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout < 0 {
		inactivityTimeout = 0
	}
	return &Manager{
		sessions:          make(map[string]*entry),
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Acquire blocks until the caller holds the session's exclusive scope or ctx
// is done. The returned release must be called exactly once.
func (m *Manager) Acquire(ctx context.Context, sessionID string) (func(), error) {
	m.mu.Lock()
	e := m.entryLocked(sessionID)
	e.holders++
	m.mu.Unlock()

	select {
	case e.lock <- struct{}{}:
	case <-ctx.Done():
		m.mu.Lock()
		e.holders--
		m.mu.Unlock()
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			e.holders--
			e.session.LastActivityAt = time.Now().UTC()
			m.mu.Unlock()
			<-e.lock
		})
	}, nil
}

// RecordExchange counts a completed user/model exchange.
func (m *Manager) RecordExchange(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entryLocked(sessionID)
	e.session.Exchanges++
	e.session.LastActivityAt = time.Now().UTC()
}

func (m *Manager) Touch(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entryLocked(sessionID).session.LastActivityAt = time.Now().UTC()
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	s := e.session
	return &s, nil
}

// Forget drops the activity record unless an exchange is in flight.
func (m *Manager) Forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[sessionID]; ok && e.holders == 0 {
		delete(m.sessions, sessionID)
	}
}

func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if m.inactivityTimeout <= 0 {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

// expireInactive runs the expire hook for idle sessions while holding each
// session's lock slot, so an exchange arriving mid-expiry waits for the hook
// and then starts from the cleared state.
func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	type expiring struct {
		e    *entry
		snap Session
	}
	var expired []expiring

	m.mu.Lock()
	for _, e := range m.sessions {
		if e.holders > 0 {
			continue
		}
		if now.Sub(e.session.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		// holders == 0, so the slot is free.
		e.lock <- struct{}{}
		e.holders++
		expired = append(expired, expiring{e: e, snap: e.session})
	}
	hook := m.onExpire
	m.mu.Unlock()

	for _, x := range expired {
		e, s := x.e, x.snap
		if hook != nil {
			hook(&s)
		}

		m.mu.Lock()
		e.holders--
		if e.holders == 0 {
			delete(m.sessions, s.ID)
		} else {
			// Someone queued behind the expiry; they get a fresh record.
			now := time.Now().UTC()
			e.session = Session{ID: s.ID, StartedAt: now, LastActivityAt: now}
		}
		m.mu.Unlock()
		<-e.lock
	}
}

// entryLocked must be called with m.mu held.
func (m *Manager) entryLocked(sessionID string) *entry {
	if e, ok := m.sessions[sessionID]; ok {
		return e
	}
	now := time.Now().UTC()
	e := &entry{
		session: Session{ID: sessionID, StartedAt: now, LastActivityAt: now},
		lock:    make(chan struct{}, 1),
	}
	m.sessions[sessionID] = e
	return e
}
