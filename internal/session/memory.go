package session

import (
	"context"
	"sync"
	"time"

	"github.com/zhizuo588/nav-api/internal/auth"
	"github.com/zhizuo588/nav-api/internal/models"
)

type memorySession struct {
	id         int64
	accountID  int64
	username   string
	tokenHash  string
	expiresAt  time.Time
	lastUsedAt time.Time
}

// MemoryStore is an in-memory Store for tests. Usernames are resolved
// through a caller-supplied lookup so handler tests can pair it with an
// in-memory account store.
type MemoryStore struct {
	mu       sync.Mutex
	nextID   int64
	sessions map[string]*memorySession
	username func(accountID int64) string
}

// NewMemoryStore creates an in-memory session store. The lookup may be
// nil, in which case identities carry an empty username.
func NewMemoryStore(username func(accountID int64) string) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memorySession),
		username: username,
	}
}

func (m *MemoryStore) Create(_ context.Context, accountID int64, validity time.Duration) (string, error) {
	token, err := auth.GenerateSessionToken()
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	name := ""
	if m.username != nil {
		name = m.username(accountID)
	}
	now := time.Now()
	m.sessions[auth.HashToken(token)] = &memorySession{
		id:         m.nextID,
		accountID:  accountID,
		username:   name,
		tokenHash:  auth.HashToken(token),
		expiresAt:  now.Add(validity),
		lastUsedAt: now,
	}
	return token, nil
}

func (m *MemoryStore) Validate(_ context.Context, token string) *models.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[auth.HashToken(token)]
	if !ok || !sess.expiresAt.After(time.Now()) {
		return nil
	}
	sess.lastUsedAt = time.Now()
	return &models.Identity{
		SessionID: sess.id,
		AccountID: sess.accountID,
		Username:  sess.username,
		ExpiresAt: sess.expiresAt,
	}
}

func (m *MemoryStore) Revoke(_ context.Context, token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := auth.HashToken(token)
	if _, ok := m.sessions[key]; !ok {
		return false
	}
	delete(m.sessions, key)
	return true
}

func (m *MemoryStore) RevokeAll(_ context.Context, accountID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, sess := range m.sessions {
		if sess.accountID == accountID {
			delete(m.sessions, key)
		}
	}
	return nil
}

func (m *MemoryStore) SweepExpired(_ context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	swept := 0
	now := time.Now()
	for key, sess := range m.sessions {
		if !sess.expiresAt.After(now) {
			delete(m.sessions, key)
			swept++
		}
	}
	return swept
}

// Expire force-expires the session for a token, for tests.
func (m *MemoryStore) Expire(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[auth.HashToken(token)]; ok {
		sess.expiresAt = time.Now().Add(-time.Second)
	}
}

// Count reports live sessions, for tests.
func (m *MemoryStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
