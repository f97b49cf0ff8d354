package store

import "time"

// Subject is a user identity as persisted by the credential store. The
// engine reads subjects during authentication and authorization; the only
// field it ever writes back is the last-login timestamp.
type Subject struct {
	ID           string
	Identifier   string
	PasswordHash string
	RoleID       string
	Active       bool
	Verified     bool
	LastLoginAt  time.Time
	CreatedAt    time.Time
}

// Role is a named bundle of permissions. Role names are unique.
type Role struct {
	ID        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Permission is an atomic capability expressed as a (resource, action)
// pair. Name is globally unique; (resource, action) pairs may repeat
// across differently named permissions.
type Permission struct {
	ID       string
	Name     string
	Resource string
	Action   string
}

// RolePermission links a role to a permission. The store rejects
// duplicate (RoleID, PermissionID) pairs.
type RolePermission struct {
	RoleID       string
	PermissionID string
}

// RefreshToken is one link in a rotation lineage. TokenHash holds the
// SHA-256 of the opaque secret; the plaintext value is never persisted.
// ParentID is empty for the first token in a lineage.
type RefreshToken struct {
	ID        string
	LineageID string
	SubjectID string
	TokenHash string
	ParentID  string
	Revoked   bool
	ExpiresAt time.Time
	CreatedAt time.Time
}
