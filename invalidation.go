package identity

import (
	"context"
	"fmt"

	"github.com/commercekit/identity/cache"
)

// MutationKind identifies a class of credential store mutation that the
// invalidation coordinator maps to cache evictions.
type MutationKind string

const (
	// MutationRoleChanged covers creation, deletion, and renaming of a
	// role.
	MutationRoleChanged MutationKind = "role_changed"
	// MutationRolePermissionsChanged covers any edit to a role's
	// permission assignments.
	MutationRolePermissionsChanged MutationKind = "role_permissions_changed"
	// MutationSubjectRoleChanged covers reassigning a subject's role.
	MutationSubjectRoleChanged MutationKind = "subject_role_changed"
	// MutationTokenRevoked covers refresh token revocation and logout.
	MutationTokenRevoked MutationKind = "token_revoked"
)

// Mutation is one invalidation-relevant event. Exactly one of RoleID or
// SubjectID is set, depending on Kind.
type Mutation struct {
	Kind      MutationKind
	RoleID    string
	SubjectID string
}

// RoleChanged builds the mutation event for a role-level edit.
func RoleChanged(roleID string) Mutation {
	return Mutation{Kind: MutationRoleChanged, RoleID: roleID}
}

// RolePermissionsChanged builds the mutation event for a permission
// assignment edit.
func RolePermissionsChanged(roleID string) Mutation {
	return Mutation{Kind: MutationRolePermissionsChanged, RoleID: roleID}
}

// SubjectRoleChanged builds the mutation event for a subject role
// reassignment.
func SubjectRoleChanged(subjectID string) Mutation {
	return Mutation{Kind: MutationSubjectRoleChanged, SubjectID: subjectID}
}

// TokenRevoked builds the mutation event for a revocation.
func TokenRevoked(subjectID string) Mutation {
	return Mutation{Kind: MutationTokenRevoked, SubjectID: subjectID}
}

// staleKeys is the deterministic event → cache key mapping. No cross-key
// ordering is promised; each key individually is evicted before the
// mutation is acknowledged.
func staleKeys(m Mutation) []string {
	switch m.Kind {
	case MutationRoleChanged, MutationRolePermissionsChanged:
		return []string{cache.RolePermissionsKey(m.RoleID)}
	case MutationSubjectRoleChanged, MutationTokenRevoked:
		return []string{cache.SubjectSessionKey(m.SubjectID)}
	default:
		return nil
	}
}

// ApplyMutation synchronously evicts every cache key made stale by the
// mutation. It must complete before the mutation is acknowledged to the
// caller: no request issued after a successful admin response may
// observe pre-mutation cached state. An eviction failure is returned so
// the caller knows the consistency guarantee is currently held up only
// by the TTL backstop.
func (e *Engine) ApplyMutation(ctx context.Context, m Mutation) error {
	var firstErr error
	for _, key := range staleKeys(m) {
		if err := e.cache.Invalidate(ctx, key); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("identity: evict %s: %w", key, err)
			}
			continue
		}
		e.metrics.Eviction(string(m.Kind))
	}
	if firstErr != nil {
		e.logWarn("cache invalidation failed", "kind", string(m.Kind))
	}
	return firstErr
}
