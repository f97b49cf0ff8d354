package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/commercekit/identity/internal/audit"
	"github.com/commercekit/identity/internal/ids"
	"github.com/commercekit/identity/store"
)

// Administrative mutations of the role/permission graph. Each operation
// writes through to the store and then evicts the affected cache keys
// before returning, so a caller that sees the ack never reads stale
// authorization state afterward.

// ErrInvalidArgument rejects malformed admin input before it reaches the
// store.
var ErrInvalidArgument = errors.New("identity: invalid argument")

// CreateRole registers a new role. Names must be non-empty and unique;
// a duplicate surfaces store.ErrConflict.
func (e *Engine) CreateRole(ctx context.Context, name string) (store.Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Role{}, ErrInvalidArgument
	}
	role := store.Role{
		ID:        ids.New(),
		Name:      name,
		CreatedAt: e.clock().UTC(),
	}
	role.UpdatedAt = role.CreatedAt
	if err := e.store.CreateRole(ctx, role); err != nil {
		return store.Role{}, err
	}
	e.emitAudit(ctx, audit.KindRoleCreated, "", true, nil, map[string]string{"role": role.ID, "name": name})
	return role, e.ApplyMutation(ctx, RoleChanged(role.ID))
}

// DeleteRole removes a role and its permission assignments. Subjects
// still pointing at the deleted role authorize to nothing.
func (e *Engine) DeleteRole(ctx context.Context, roleID string) error {
	if err := e.store.DeleteRole(ctx, roleID); err != nil {
		return err
	}
	e.emitAudit(ctx, audit.KindRoleDeleted, "", true, nil, map[string]string{"role": roleID})
	return e.ApplyMutation(ctx, RoleChanged(roleID))
}

// SetRolePermissions replaces a role's permission set wholesale.
func (e *Engine) SetRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	if err := e.store.ReplaceRolePermissions(ctx, roleID, permissionIDs); err != nil {
		return err
	}
	e.emitAudit(ctx, audit.KindRolePermissionsSet, "", true, nil, map[string]string{"role": roleID})
	return e.ApplyMutation(ctx, RolePermissionsChanged(roleID))
}

// GrantRolePermission adds a single permission to a role.
func (e *Engine) GrantRolePermission(ctx context.Context, roleID, permissionID string) error {
	link := store.RolePermission{RoleID: roleID, PermissionID: permissionID}
	if err := e.store.AddRolePermission(ctx, link); err != nil {
		return err
	}
	e.emitAudit(ctx, audit.KindPermissionGranted, "", true, nil, map[string]string{"role": roleID, "permission": permissionID})
	return e.ApplyMutation(ctx, RolePermissionsChanged(roleID))
}

// RevokeRolePermission removes a single permission from a role.
func (e *Engine) RevokeRolePermission(ctx context.Context, roleID, permissionID string) error {
	link := store.RolePermission{RoleID: roleID, PermissionID: permissionID}
	if err := e.store.RemoveRolePermission(ctx, link); err != nil {
		return err
	}
	e.emitAudit(ctx, audit.KindPermissionRevoked, "", true, nil, map[string]string{"role": roleID, "permission": permissionID})
	return e.ApplyMutation(ctx, RolePermissionsChanged(roleID))
}

// CreatePermission registers a named (resource, action) pair. No
// wildcards: each grantable capability is its own row.
func (e *Engine) CreatePermission(ctx context.Context, name, resource, action string) (store.Permission, error) {
	name, resource, action = strings.TrimSpace(name), strings.TrimSpace(resource), strings.TrimSpace(action)
	if name == "" || resource == "" || action == "" {
		return store.Permission{}, ErrInvalidArgument
	}
	if strings.ContainsAny(resource, "*?") || strings.ContainsAny(action, "*?") {
		return store.Permission{}, ErrInvalidArgument
	}
	perm := store.Permission{
		ID:       ids.New(),
		Name:     name,
		Resource: resource,
		Action:   action,
	}
	if err := e.store.CreatePermission(ctx, perm); err != nil {
		return store.Permission{}, err
	}
	e.emitAudit(ctx, audit.KindPermissionCreated, "", true, nil, map[string]string{"permission": perm.ID, "name": name})
	return perm, nil
}

// AssignSubjectRole points a subject at a role. The subject's cached
// session is evicted before the call returns; in-flight access tokens
// carry the old role until they expire.
func (e *Engine) AssignSubjectRole(ctx context.Context, subjectID, roleID string) error {
	if roleID != "" {
		if _, err := e.store.GetRole(ctx, roleID); err != nil {
			return err
		}
	}
	if err := e.store.SetSubjectRole(ctx, subjectID, roleID); err != nil {
		return err
	}
	e.emitAudit(ctx, audit.KindSubjectRoleAssigned, subjectID, true, nil, map[string]string{"role": roleID})
	return e.ApplyMutation(ctx, SubjectRoleChanged(subjectID))
}
