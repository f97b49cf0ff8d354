// Package rbac computes effective permission sets from the role →
// permission relation held in the credential store. Resolution is a
// deterministic, read-only traversal: identical store state always
// produces an identical set, regardless of any cache between here and
// the caller.
package rbac

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/commercekit/identity/store"
)

// PermissionSet is the resolved union of permissions reachable from a
// role. Membership is tested on the exact (resource, action) pair; there
// is no wildcard logic — wildcard grants must exist as explicit
// permission rows.
type PermissionSet struct {
	pairs map[pair]struct{}
	names []string
}

type pair struct {
	resource string
	action   string
}

// Allows reports whether the set contains the exact (resource, action)
// pair.
func (s PermissionSet) Allows(resource, action string) bool {
	_, ok := s.pairs[pair{resource: resource, action: action}]
	return ok
}

// Names returns the sorted permission names in the set.
func (s PermissionSet) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Len returns the number of distinct (resource, action) pairs.
func (s PermissionSet) Len() int {
	return len(s.pairs)
}

// serialized is the cache wire form of a permission set.
type serialized struct {
	Names []string   `json:"names"`
	Pairs [][2]string `json:"pairs"`
}

// Encode serializes the set for cache storage.
func (s PermissionSet) Encode() ([]byte, error) {
	out := serialized{Names: s.Names(), Pairs: make([][2]string, 0, len(s.pairs))}
	for p := range s.pairs {
		out.Pairs = append(out.Pairs, [2]string{p.resource, p.action})
	}
	sort.Slice(out.Pairs, func(i, j int) bool {
		if out.Pairs[i][0] != out.Pairs[j][0] {
			return out.Pairs[i][0] < out.Pairs[j][0]
		}
		return out.Pairs[i][1] < out.Pairs[j][1]
	})
	return json.Marshal(out)
}

// Decode rebuilds a set from its cache wire form.
func Decode(data []byte) (PermissionSet, error) {
	var in serialized
	if err := json.Unmarshal(data, &in); err != nil {
		return PermissionSet{}, err
	}
	set := PermissionSet{
		pairs: make(map[pair]struct{}, len(in.Pairs)),
		names: in.Names,
	}
	for _, p := range in.Pairs {
		set.pairs[pair{resource: p[0], action: p[1]}] = struct{}{}
	}
	return set, nil
}

// Resolver answers permission questions against the credential store.
type Resolver struct {
	roles store.RoleStore
	perms store.PermissionStore
}

// NewResolver creates a Resolver over the given repositories.
func NewResolver(roles store.RoleStore, perms store.PermissionStore) *Resolver {
	return &Resolver{roles: roles, perms: perms}
}

// Resolve computes the effective permission set of a role. Cost is
// proportional to the role's own permission count, not the global
// permission table.
func (r *Resolver) Resolve(ctx context.Context, roleID string) (PermissionSet, error) {
	if _, err := r.roles.GetRole(ctx, roleID); err != nil {
		return PermissionSet{}, err
	}
	rows, err := r.perms.PermissionsForRole(ctx, roleID)
	if err != nil {
		return PermissionSet{}, err
	}
	return fromRows(rows), nil
}

// Authorize resolves the subject's role and tests the exact
// (resource, action) membership. A false result is a valid answer, not
// an error.
func (r *Resolver) Authorize(ctx context.Context, subject store.Subject, resource, action string) (bool, error) {
	if subject.RoleID == "" {
		return false, nil
	}
	set, err := r.Resolve(ctx, subject.RoleID)
	if err != nil {
		return false, err
	}
	return set.Allows(resource, action), nil
}

func fromRows(rows []store.Permission) PermissionSet {
	set := PermissionSet{
		pairs: make(map[pair]struct{}, len(rows)),
		names: make([]string, 0, len(rows)),
	}
	seen := make(map[string]struct{}, len(rows))
	for _, p := range rows {
		set.pairs[pair{resource: p.Resource, action: p.Action}] = struct{}{}
		if _, dup := seen[p.Name]; !dup {
			seen[p.Name] = struct{}{}
			set.names = append(set.names, p.Name)
		}
	}
	sort.Strings(set.names)
	return set
}
