package session

import (
	"sync"
	"time"
)

type memorySession struct {
	turns     []Turn
	expiresAt time.Time
}

// MemoryStore is an in-process Store. It is safe for concurrent use.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*memorySession
	ttl      time.Duration

	now func() time.Time
}

// NewMemoryStore creates an in-memory store. A non-positive ttl falls back to
// DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		sessions: make(map[string]*memorySession),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Append implements Store.
func (m *MemoryStore) Append(sessionID string, turn Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.sessions[sessionID]
	if sess == nil || m.now().After(sess.expiresAt) {
		sess = &memorySession{}
		m.sessions[sessionID] = sess
	}
	sess.turns = append(sess.turns, turn)
	sess.expiresAt = m.now().Add(m.ttl)
	return nil
}

// Turns implements Store.
func (m *MemoryStore) Turns(sessionID string) ([]Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.sessions[sessionID]
	if sess == nil {
		return nil, nil
	}
	if m.now().After(sess.expiresAt) {
		delete(m.sessions, sessionID)
		return nil, nil
	}

	turns := make([]Turn, len(sess.turns))
	copy(turns, sess.turns)
	return turns, nil
}

// Expire implements Store.
func (m *MemoryStore) Expire(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sessionID)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions = make(map[string]*memorySession)
	return nil
}
