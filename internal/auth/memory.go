package auth

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore implements Store in process memory. Suitable for development
// and tests; all state is lost on restart.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[string]*User
	byEmail     map[string]string
	byOAuth     map[string]string
	tenantRoles map[string]TenantRole
	tokens      map[string]*RefreshToken
	byHash      map[string]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]*User),
		byEmail:     make(map[string]string),
		byOAuth:     make(map[string]string),
		tenantRoles: make(map[string]TenantRole),
		tokens:      make(map[string]*RefreshToken),
		byHash:      make(map[string]string),
	}
}

func (s *MemoryStore) Users(context.Context) UserStore             { return memUsers{s} }
func (s *MemoryStore) TenantRoles(context.Context) TenantRoleStore { return memTenantRoles{s} }
func (s *MemoryStore) RefreshTokens(context.Context) RefreshTokenStore {
	return memRefreshTokens{s}
}

func oauthKey(provider, externalID string) string { return provider + "\x00" + externalID }

// User store ---------------------------------------------------------------
type memUsers struct{ s *MemoryStore }

func (m memUsers) Create(_ context.Context, u *User) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.byEmail[u.Email]; ok {
		return ErrDuplicateEmail
	}
	cp := *u
	m.s.users[u.ID] = &cp
	m.s.byEmail[u.Email] = u.ID
	if u.OAuthProvider != "" && u.OAuthID != "" {
		m.s.byOAuth[oauthKey(u.OAuthProvider, u.OAuthID)] = u.ID
	}
	return nil
}

func (m memUsers) Find(_ context.Context, id string) (*User, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	return m.s.copyUser(id)
}

func (m memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	id, ok := m.s.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	return m.s.copyUser(id)
}

func (m memUsers) FindByOAuth(_ context.Context, provider, externalID string) (*User, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	id, ok := m.s.byOAuth[oauthKey(provider, externalID)]
	if !ok {
		return nil, ErrNotFound
	}
	return m.s.copyUser(id)
}

func (m memUsers) RecordLogin(_ context.Context, id string, prev, at time.Time) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[id]
	if !ok {
		return false, ErrNotFound
	}
	if !u.LastLoginAt.Equal(prev) {
		return false, nil
	}
	u.LastLoginAt = at
	u.UpdatedAt = at
	return true, nil
}

func (m memUsers) UpdateRole(_ context.Context, id string, role Role) (*User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	u.Role = role
	u.UpdatedAt = time.Now().UTC()
	cp := *u
	return &cp, nil
}

func (m memUsers) LinkOAuth(_ context.Context, id, provider, externalID string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[id]
	if !ok {
		return ErrNotFound
	}
	if u.OAuthProvider != "" && u.OAuthID != "" {
		delete(m.s.byOAuth, oauthKey(u.OAuthProvider, u.OAuthID))
	}
	u.OAuthProvider, u.OAuthID, u.EmailVerified = provider, externalID, true
	m.s.byOAuth[oauthKey(provider, externalID)] = id
	return nil
}

// SetActive toggles the active flag; used for soft deactivation.
func (s *MemoryStore) SetActive(id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Active = active
	return nil
}

func (s *MemoryStore) copyUser(id string) (*User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// Tenant role store --------------------------------------------------------
type memTenantRoles struct{ s *MemoryStore }

func (m memTenantRoles) Find(_ context.Context, userID, tenantID string) (Role, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	tr, ok := m.s.tenantRoles[userID+"\x00"+tenantID]
	if !ok {
		return 0, ErrNotFound
	}
	return tr.Role, nil
}

func (m memTenantRoles) Upsert(_ context.Context, tr TenantRole) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	key := tr.UserID + "\x00" + tr.TenantID
	if existing, ok := m.s.tenantRoles[key]; ok {
		tr.CreatedAt = existing.CreatedAt
	}
	m.s.tenantRoles[key] = tr
	return nil
}

// Refresh token store ------------------------------------------------------
type memRefreshTokens struct{ s *MemoryStore }

func (m memRefreshTokens) Insert(_ context.Context, tok *RefreshToken) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *tok
	m.s.tokens[tok.ID] = &cp
	m.s.byHash[tok.TokenHash] = tok.ID
	return nil
}

func (m memRefreshTokens) FindByToken(_ context.Context, tokenHash string) (*RefreshToken, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	id, ok := m.s.byHash[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.s.tokens[id]
	return &cp, nil
}

func (m memRefreshTokens) FindByUserAndToken(ctx context.Context, userID, tokenHash string) (*RefreshToken, error) {
	tok, err := m.FindByToken(ctx, tokenHash)
	if err != nil {
		return nil, err
	}
	if tok.UserID != userID {
		return nil, ErrNotFound
	}
	return tok, nil
}

func (m memRefreshTokens) Revoke(_ context.Context, id string) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	tok, ok := m.s.tokens[id]
	if !ok {
		return false, ErrNotFound
	}
	if tok.Revoked {
		return false, nil
	}
	tok.Revoked = true
	return true, nil
}
