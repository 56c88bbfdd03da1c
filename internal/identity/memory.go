package identity

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"schedulr/internal/model"
	"schedulr/internal/store"
)

// MemoryBackend keeps users and refresh tokens in process. It backs the
// memory document store mode and tests.
type MemoryBackend struct {
	mu      sync.Mutex
	users   map[string]*model.User
	byEmail map[string]string
	tokens  map[string]*store.RefreshToken
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		users:   make(map[string]*model.User),
		byEmail: make(map[string]string),
		tokens:  make(map[string]*store.RefreshToken),
	}
}

func (m *MemoryBackend) CreateUser(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[u.Email]; ok {
		return store.ErrDuplicate
	}
	cp := *u
	now := time.Now()
	cp.CreatedAt, cp.UpdatedAt = now, now
	m.users[u.ID] = &cp
	m.byEmail[u.Email] = u.ID
	return nil
}

func (m *MemoryBackend) UserByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byEmail[email]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *m.users[id]
	return &cp, nil
}

func (m *MemoryBackend) UserByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryBackend) UpdateUser(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.users[u.ID]
	if !ok {
		return store.ErrNotFound
	}
	if owner, taken := m.byEmail[u.Email]; taken && owner != u.ID {
		return store.ErrDuplicate
	}
	delete(m.byEmail, old.Email)
	cp := *u
	cp.UpdatedAt = time.Now()
	m.users[u.ID] = &cp
	m.byEmail[u.Email] = u.ID
	return nil
}

func (m *MemoryBackend) CreateRefreshToken(_ context.Context, userID, tokenHash string, expiresAt time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.tokens[tokenHash] = &store.RefreshToken{
		ID: id, UserID: userID, TokenHash: tokenHash, ExpiresAt: expiresAt, CreatedAt: time.Now(),
	}
	return id, nil
}

func (m *MemoryBackend) GetRefreshTokenByHash(_ context.Context, tokenHash string) (*store.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.tokens[tokenHash]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *rt
	return &cp, nil
}

func (m *MemoryBackend) RotateRefreshToken(_ context.Context, oldID, newID, userID, newHash string, newExpiry time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var old *store.RefreshToken
	for _, rt := range m.tokens {
		if rt.ID == oldID {
			old = rt
			break
		}
	}
	if old == nil || old.Revoked {
		return store.ErrTokenRotated
	}
	old.Revoked = true
	replaced := newID
	old.ReplacedBy = &replaced
	m.tokens[newHash] = &store.RefreshToken{
		ID: newID, UserID: userID, TokenHash: newHash, ExpiresAt: newExpiry, CreatedAt: time.Now(),
	}
	return nil
}

func (m *MemoryBackend) RevokeAllRefreshTokens(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rt := range m.tokens {
		if rt.UserID == userID {
			rt.Revoked = true
		}
	}
	return nil
}
