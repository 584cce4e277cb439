package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"auth/internal/domain"

	"github.com/google/uuid"
)

// MemoryCredentialStore keeps credentials in a map. Each call holds the lock
// for its whole check-and-write, which gives the same uniqueness guarantee as
// the database index.
type MemoryCredentialStore struct {
	mu    sync.Mutex
	creds map[string]domain.Credential
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{creds: make(map[string]domain.Credential)}
}

func (m *MemoryCredentialStore) Lookup(ctx context.Context, username string) (*domain.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[username]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &c, nil
}

func (m *MemoryCredentialStore) Insert(ctx context.Context, c *domain.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.creds[c.Username]; exists {
		return ErrConflict
	}
	now := time.Now().UTC()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	m.creds[c.Username] = *c
	return nil
}

func (m *MemoryCredentialStore) Replace(ctx context.Context, username, previous, next string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[username]
	if !ok {
		return ErrRecordNotFound
	}
	if c.EncodedSecret != previous {
		return ErrStaleRecord
	}
	c.EncodedSecret = next
	c.UpdatedAt = time.Now().UTC()
	m.creds[username] = c
	return nil
}

func (m *MemoryCredentialStore) Delete(ctx context.Context, username string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.creds[username]; !ok {
		return ErrRecordNotFound
	}
	delete(m.creds, username)
	return nil
}

func (m *MemoryCredentialStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	names := make([]string, 0, len(m.creds))
	for name := range m.creds {
		names = append(names, name)
	}
	m.mu.Unlock()
	sort.Strings(names)
	return names, nil
}

// Len reports how many credentials are stored.
func (m *MemoryCredentialStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.creds)
}
