package cache

// Cache key grammar. These literal shapes are part of the engine's
// interop contract; collaborators evict and inspect by them.

// RolePermissionsKey addresses the cached effective permission set of a
// role: role:{role_id}:permissions.
func RolePermissionsKey(roleID string) string {
	return "role:" + roleID + ":permissions"
}

// SubjectSessionKey addresses the cached session descriptor of a
// subject: subject:{subject_id}:session.
func SubjectSessionKey(subjectID string) string {
	return "subject:" + subjectID + ":session"
}

// RefreshKey mirrors ledger state for an opaque refresh token value:
// refresh:{token_value}. Deleted on revoke; TTL matches token expiry.
func RefreshKey(tokenValue string) string {
	return "refresh:" + tokenValue
}
