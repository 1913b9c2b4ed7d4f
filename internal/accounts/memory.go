package accounts

import (
	"context"
	"sync"
	"time"

	"github.com/zhizuo588/nav-api/internal/models"
)

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu       sync.Mutex
	nextID   int64
	byName   map[string]*models.Account
	failNext error
}

// NewMemoryStore creates an in-memory account store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byName: make(map[string]*models.Account)}
}

func (m *MemoryStore) ByUsername(_ context.Context, username string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	account, ok := m.byName[username]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *account
	return &copied, nil
}

func (m *MemoryStore) Create(_ context.Context, username, passwordHash string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	if _, ok := m.byName[username]; ok {
		return nil, ErrUsernameTaken
	}
	m.nextID++
	account := &models.Account{
		ID:           m.nextID,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	m.byName[username] = account
	copied := *account
	return &copied, nil
}

func (m *MemoryStore) UpdatePasswordHash(_ context.Context, accountID int64, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure(); err != nil {
		return err
	}
	for _, account := range m.byName {
		if account.ID == accountID {
			account.PasswordHash = passwordHash
			return nil
		}
	}
	return ErrNotFound
}

// Username resolves an account ID to its username, for wiring the
// session memory store in tests.
func (m *MemoryStore) Username(accountID int64) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, account := range m.byName {
		if account.ID == accountID {
			return account.Username
		}
	}
	return ""
}

// FailNext makes the next store call return err, for tests.
func (m *MemoryStore) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

func (m *MemoryStore) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}
