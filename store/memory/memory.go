// Package memory provides a mutex-guarded in-memory credential store.
// It is the reference implementation of the store contract and the
// backend used by the engine's own tests; production deployments use
// store/pg.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/commercekit/identity/store"
)

// Store implements store.Store entirely in memory.
type Store struct {
	mu sync.RWMutex

	subjects    map[string]store.Subject // by id
	byIdent     map[string]string        // identifier -> subject id
	roles       map[string]store.Role    // by id
	roleNames   map[string]string        // name -> role id
	permissions map[string]store.Permission
	permNames   map[string]string   // name -> permission id
	rolePerms   map[string][]string // role id -> permission ids
	tokens      map[string]store.RefreshToken
	tokenHashes map[string]string // token hash -> token id
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		subjects:    make(map[string]store.Subject),
		byIdent:     make(map[string]string),
		roles:       make(map[string]store.Role),
		roleNames:   make(map[string]string),
		permissions: make(map[string]store.Permission),
		permNames:   make(map[string]string),
		rolePerms:   make(map[string][]string),
		tokens:      make(map[string]store.RefreshToken),
		tokenHashes: make(map[string]string),
	}
}

var _ store.Store = (*Store)(nil)

// AddSubject seeds a subject record. Intended for tests and bootstrap.
func (s *Store) AddSubject(sub store.Subject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	s.subjects[sub.ID] = sub
	s.byIdent[sub.Identifier] = sub.ID
}

func (s *Store) GetSubject(_ context.Context, id string) (store.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subjects[id]
	if !ok {
		return store.Subject{}, store.ErrNotFound
	}
	return sub, nil
}

func (s *Store) GetSubjectByIdentifier(_ context.Context, identifier string) (store.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byIdent[identifier]
	if !ok {
		return store.Subject{}, store.ErrNotFound
	}
	return s.subjects[id], nil
}

func (s *Store) SetSubjectRole(_ context.Context, subjectID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subjects[subjectID]
	if !ok {
		return store.ErrNotFound
	}
	if roleID != "" {
		if _, ok := s.roles[roleID]; !ok {
			return store.ErrNotFound
		}
	}
	sub.RoleID = roleID
	s.subjects[subjectID] = sub
	return nil
}

func (s *Store) TouchLastLogin(_ context.Context, subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subjects[subjectID]
	if !ok {
		return store.ErrNotFound
	}
	sub.LastLoginAt = time.Now().UTC()
	s.subjects[subjectID] = sub
	return nil
}

func (s *Store) GetRole(_ context.Context, id string) (store.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.roles[id]
	if !ok {
		return store.Role{}, store.ErrNotFound
	}
	return role, nil
}

func (s *Store) GetRoleByName(_ context.Context, name string) (store.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.roleNames[name]
	if !ok {
		return store.Role{}, store.ErrNotFound
	}
	return s.roles[id], nil
}

func (s *Store) CreateRole(_ context.Context, role store.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[role.ID]; ok {
		return store.ErrConflict
	}
	if _, ok := s.roleNames[role.Name]; ok {
		return store.ErrConflict
	}
	now := time.Now().UTC()
	if role.CreatedAt.IsZero() {
		role.CreatedAt = now
	}
	role.UpdatedAt = now
	s.roles[role.ID] = role
	s.roleNames[role.Name] = role.ID
	return nil
}

func (s *Store) DeleteRole(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.roles, id)
	delete(s.roleNames, role.Name)
	delete(s.rolePerms, id)
	return nil
}

func (s *Store) ReplaceRolePermissions(_ context.Context, roleID string, permissionIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return store.ErrNotFound
	}
	for _, pid := range permissionIDs {
		if _, ok := s.permissions[pid]; !ok {
			return store.ErrNotFound
		}
	}
	next := make([]string, len(permissionIDs))
	copy(next, permissionIDs)
	s.rolePerms[roleID] = next
	return nil
}

func (s *Store) AddRolePermission(_ context.Context, link store.RolePermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[link.RoleID]; !ok {
		return store.ErrNotFound
	}
	if _, ok := s.permissions[link.PermissionID]; !ok {
		return store.ErrNotFound
	}
	for _, pid := range s.rolePerms[link.RoleID] {
		if pid == link.PermissionID {
			return store.ErrConflict
		}
	}
	s.rolePerms[link.RoleID] = append(s.rolePerms[link.RoleID], link.PermissionID)
	return nil
}

func (s *Store) RemoveRolePermission(_ context.Context, link store.RolePermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	perms, ok := s.rolePerms[link.RoleID]
	if !ok {
		return store.ErrNotFound
	}
	for i, pid := range perms {
		if pid == link.PermissionID {
			s.rolePerms[link.RoleID] = append(perms[:i], perms[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) CreatePermission(_ context.Context, perm store.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.permissions[perm.ID]; ok {
		return store.ErrConflict
	}
	if _, ok := s.permNames[perm.Name]; ok {
		return store.ErrConflict
	}
	s.permissions[perm.ID] = perm
	s.permNames[perm.Name] = perm.ID
	return nil
}

func (s *Store) GetPermissionByName(_ context.Context, name string) (store.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.permNames[name]
	if !ok {
		return store.Permission{}, store.ErrNotFound
	}
	return s.permissions[id], nil
}

func (s *Store) PermissionsForRole(_ context.Context, roleID string) ([]store.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.roles[roleID]; !ok {
		return nil, store.ErrNotFound
	}
	perms := make([]store.Permission, 0, len(s.rolePerms[roleID]))
	for _, pid := range s.rolePerms[roleID] {
		perms = append(perms, s.permissions[pid])
	}
	return perms, nil
}

func (s *Store) CreateRefreshToken(_ context.Context, token store.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[token.ID]; ok {
		return store.ErrConflict
	}
	if _, ok := s.tokenHashes[token.TokenHash]; ok {
		return store.ErrConflict
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	s.tokens[token.ID] = token
	s.tokenHashes[token.TokenHash] = token.ID
	return nil
}

func (s *Store) GetRefreshTokenByHash(_ context.Context, tokenHash string) (store.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.tokenHashes[tokenHash]
	if !ok {
		return store.RefreshToken{}, store.ErrNotFound
	}
	return s.tokens[id], nil
}

func (s *Store) RevokeRefreshToken(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok {
		return store.ErrNotFound
	}
	tok.Revoked = true
	s.tokens[id] = tok
	return nil
}

func (s *Store) RevokeLineage(_ context.Context, lineageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, tok := range s.tokens {
		if tok.LineageID == lineageID && !tok.Revoked {
			tok.Revoked = true
			s.tokens[id] = tok
		}
	}
	return nil
}

func (s *Store) RevokeAllForSubject(_ context.Context, subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, tok := range s.tokens {
		if tok.SubjectID == subjectID && !tok.Revoked {
			tok.Revoked = true
			s.tokens[id] = tok
		}
	}
	return nil
}
