// Package store defines the credential store contract: durable records
// for subjects, roles, permissions, role-permission links, and refresh
// tokens. The engine never writes business data through any other path;
// caches hold only derived state that can be rebuilt from here.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: record not found")
	// ErrConflict is returned on unique constraint violations, such as a
	// duplicate role name or a duplicate (role, permission) link.
	ErrConflict = errors.New("store: conflict")
)

// SubjectStore provides read access to subjects plus the single write
// the engine performs: touching the last-login timestamp.
type SubjectStore interface {
	GetSubject(ctx context.Context, id string) (Subject, error)
	GetSubjectByIdentifier(ctx context.Context, identifier string) (Subject, error)
	SetSubjectRole(ctx context.Context, subjectID, roleID string) error
	TouchLastLogin(ctx context.Context, subjectID string) error
}

// RoleStore manages roles and their permission assignments.
type RoleStore interface {
	GetRole(ctx context.Context, id string) (Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
	CreateRole(ctx context.Context, role Role) error
	DeleteRole(ctx context.Context, id string) error
	// ReplaceRolePermissions atomically replaces the permission set
	// assigned to a role.
	ReplaceRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error
	AddRolePermission(ctx context.Context, link RolePermission) error
	RemoveRolePermission(ctx context.Context, link RolePermission) error
}

// PermissionStore manages permission rows. PermissionsForRole is keyed by
// role id so resolution cost scales with the role's own permission count.
type PermissionStore interface {
	CreatePermission(ctx context.Context, perm Permission) error
	GetPermissionByName(ctx context.Context, name string) (Permission, error)
	PermissionsForRole(ctx context.Context, roleID string) ([]Permission, error)
}

// RefreshTokenStore persists refresh token lineages. Implementations must
// enforce TokenHash uniqueness.
type RefreshTokenStore interface {
	CreateRefreshToken(ctx context.Context, token RefreshToken) error
	GetRefreshTokenByHash(ctx context.Context, tokenHash string) (RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id string) error
	// RevokeLineage marks every token in the lineage revoked.
	RevokeLineage(ctx context.Context, lineageID string) error
	RevokeAllForSubject(ctx context.Context, subjectID string) error
}

// Store aggregates the four repositories the engine depends on. A single
// backing implementation usually satisfies all of them.
type Store interface {
	SubjectStore
	RoleStore
	PermissionStore
	RefreshTokenStore
}
