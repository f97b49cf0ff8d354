package identity

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/commercekit/identity/cache"
	"github.com/commercekit/identity/internal/audit"
	"github.com/commercekit/identity/internal/metrics"
	"github.com/commercekit/identity/ledger"
	"github.com/commercekit/identity/password"
	"github.com/commercekit/identity/rbac"
	"github.com/commercekit/identity/store"
	"github.com/commercekit/identity/token"
)

// Engine is the identity and access core: token issuance and rotation,
// role/permission resolution, and cache invalidation kept consistent
// with the credential store. It performs no network transport; callers
// wire it behind whatever routing they use.
type Engine struct {
	config   Config
	store    store.Store
	issuer   *token.Issuer
	ledger   *ledger.Ledger
	resolver *rbac.Resolver
	cache    *cache.Cache
	metrics  *metrics.Metrics
	audit    *audit.Dispatcher
	verifier password.Verifier
	logger   *logrus.Logger
	clock    func() time.Time
	closed   atomic.Bool
}

// Close stops the audit dispatcher after draining buffered events.
func (e *Engine) Close() {
	e.closed.Store(true)
	e.audit.Close()
}

// AuditDropped reports audit events dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}

// Session returns the cached session descriptor for a subject, or
// ErrSessionNotCached when none is present. It never computes one; the
// descriptor is only ever primed by Authenticate and evicted by
// invalidation.
func (e *Engine) Session(ctx context.Context, subjectID string) (SessionDescriptor, error) {
	entry, ok, err := e.cache.Get(ctx, cache.SubjectSessionKey(subjectID))
	if err != nil {
		return SessionDescriptor{}, ErrCacheUnavailable
	}
	if !ok {
		return SessionDescriptor{}, ErrSessionNotCached
	}
	return DecodeSessionDescriptor(entry.Value)
}

// FlushCaches drops every cached value. Authorization decisions are
// unaffected; the next reads recompute from the store.
func (e *Engine) FlushCaches(ctx context.Context) error {
	return e.cache.Flush(ctx)
}

// MetricsHandler serves the engine's Prometheus registry.
func (e *Engine) MetricsHandler() http.Handler {
	return e.metrics.Handler()
}

// Authenticate verifies credentials and mints an access+refresh pair.
// On success the subject's last-login timestamp is touched and the
// session and permission caches are primed.
func (e *Engine) Authenticate(ctx context.Context, identifier, pw string) (TokenPair, error) {
	if e.closed.Load() {
		return TokenPair{}, ErrEngineClosed
	}

	sub, err := e.store.GetSubjectByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.metrics.LoginFailure()
			e.emitAudit(ctx, audit.KindLoginFailed, "", false, ErrInvalidCredentials, map[string]string{"identifier": identifier})
			return TokenPair{}, ErrInvalidCredentials
		}
		return TokenPair{}, err
	}
	if !sub.Active {
		e.metrics.LoginFailure()
		e.emitAudit(ctx, audit.KindLoginFailed, sub.ID, false, ErrSubjectInactive, nil)
		return TokenPair{}, ErrSubjectInactive
	}

	ok, err := e.verifier.Verify(pw, sub.PasswordHash)
	if err != nil || !ok {
		e.metrics.LoginFailure()
		e.emitAudit(ctx, audit.KindLoginFailed, sub.ID, false, ErrInvalidCredentials, nil)
		return TokenPair{}, ErrInvalidCredentials
	}

	if err := e.store.TouchLastLogin(ctx, sub.ID); err != nil {
		// Not worth failing the login over.
		e.logWarn("last-login touch failed", "subject", sub.ID)
	}

	pair, rec, err := e.issuePair(ctx, sub)
	if err != nil {
		e.metrics.LoginFailure()
		return TokenPair{}, err
	}

	e.primeCaches(ctx, sub, pair.RefreshToken, rec)

	e.metrics.LoginSuccess()
	e.emitAudit(ctx, audit.KindLoginSuccess, sub.ID, true, nil, map[string]string{"lineage": rec.LineageID})
	return pair, nil
}

// ValidateAccess verifies an access token's signature, expiry, and kind.
// It never consults the credential store; access tokens are short-lived
// precisely so this stays stateless.
func (e *Engine) ValidateAccess(_ context.Context, accessToken string) (*SubjectClaims, error) {
	claims, err := e.issuer.ValidateAccess(accessToken)
	if err != nil {
		if errors.Is(err, token.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	out := &SubjectClaims{SubjectID: claims.SubjectID, RoleID: claims.RoleID}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// Authorize validates the access token and tests whether its role grants
// the exact (resource, action) pair. A deny is a valid false answer, not
// an error.
func (e *Engine) Authorize(ctx context.Context, accessToken, resource, action string) (bool, error) {
	start := e.clock()
	defer func() { e.metrics.ObserveAuthorize(e.clock().Sub(start)) }()

	claims, err := e.ValidateAccess(ctx, accessToken)
	if err != nil {
		return false, err
	}
	return e.authorizeRole(ctx, claims.RoleID, resource, action)
}

// AuthorizeSubject answers the same question for an already
// authenticated subject id, resolving the subject's current role from
// the store.
func (e *Engine) AuthorizeSubject(ctx context.Context, subjectID, resource, action string) (bool, error) {
	sub, err := e.store.GetSubject(ctx, subjectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.metrics.AuthorizeDeny()
			return false, nil
		}
		return false, err
	}
	return e.authorizeRole(ctx, sub.RoleID, resource, action)
}

func (e *Engine) authorizeRole(ctx context.Context, roleID, resource, action string) (bool, error) {
	if roleID == "" {
		e.metrics.AuthorizeDeny()
		return false, nil
	}
	set, err := e.effectivePermissions(ctx, roleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Role deleted since the token was minted: nothing granted.
			e.metrics.AuthorizeDeny()
			return false, nil
		}
		return false, err
	}
	if set.Allows(resource, action) {
		e.metrics.AuthorizeAllow()
		return true, nil
	}
	e.metrics.AuthorizeDeny()
	return false, nil
}

// effectivePermissions resolves a role's permission set through the
// cache. Cache trouble of any kind falls back to resolving directly
// against the store; the answer never depends on cache health.
func (e *Engine) effectivePermissions(ctx context.Context, roleID string) (rbac.PermissionSet, error) {
	data, err := e.cache.GetOrCompute(ctx, cache.RolePermissionsKey(roleID), e.config.Cache.RolePermissionsTTL,
		func(ctx context.Context) ([]byte, error) {
			set, err := e.resolver.Resolve(ctx, roleID)
			if err != nil {
				return nil, err
			}
			return set.Encode()
		})
	if err != nil {
		if errors.Is(err, cache.ErrRecomputeTimeout) || errors.Is(err, cache.ErrUnavailable) {
			e.logWarn("permission cache degraded, resolving directly", "role", roleID)
			return e.resolver.Resolve(ctx, roleID)
		}
		return rbac.PermissionSet{}, err
	}
	set, err := rbac.Decode(data)
	if err != nil {
		// Corrupt cache payload; recompute from the store.
		return e.resolver.Resolve(ctx, roleID)
	}
	return set, nil
}

// Refresh exchanges a refresh token for a new access+refresh pair. The
// presented token is single-use: the ledger revokes it atomically with
// creating its successor, and a concurrent second attempt observes
// ErrTokenRevoked.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if e.closed.Load() {
		return TokenPair{}, ErrEngineClosed
	}

	nextValue, rec, err := e.ledger.Rotate(ctx, refreshToken)
	if err != nil {
		return TokenPair{}, e.refreshFailure(ctx, refreshToken, err)
	}

	sub, err := e.store.GetSubject(ctx, rec.SubjectID)
	if err != nil {
		e.metrics.RefreshFailure()
		return TokenPair{}, err
	}
	if !sub.Active {
		// A deactivated subject must not keep a live lineage.
		if _, revokeErr := e.ledger.Revoke(ctx, nextValue); revokeErr != nil {
			e.logWarn("lineage revoke after deactivation failed", "subject", sub.ID)
		}
		_ = e.ApplyMutation(ctx, TokenRevoked(sub.ID))
		e.metrics.RefreshFailure()
		e.emitAudit(ctx, audit.KindRefreshRejected, sub.ID, false, ErrSubjectInactive, nil)
		return TokenPair{}, ErrSubjectInactive
	}

	access, err := e.issuer.IssueAccess(sub.ID, sub.RoleID)
	if err != nil {
		e.metrics.RefreshFailure()
		return TokenPair{}, err
	}

	// Move the ledger mirror from the spent value to the successor.
	_ = e.cache.Invalidate(ctx, cache.RefreshKey(refreshToken))
	e.mirrorRefresh(ctx, nextValue, rec)

	e.metrics.RefreshSuccess()
	e.emitAudit(ctx, audit.KindRefreshSuccess, sub.ID, true, nil, map[string]string{"lineage": rec.LineageID})
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     nextValue,
		AccessExpiresAt:  e.clock().Add(e.config.JWT.AccessTTL),
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

func (e *Engine) refreshFailure(ctx context.Context, presented string, err error) error {
	_ = e.cache.Invalidate(ctx, cache.RefreshKey(presented))
	switch {
	case errors.Is(err, ledger.ErrTokenRevoked):
		e.metrics.RefreshReuseDetected()
		e.logWarn("refresh token reuse detected, lineage revoked")
		e.emitAudit(ctx, audit.KindRefreshReuse, "", false, ErrTokenRevoked, nil)
		return ErrTokenRevoked
	case errors.Is(err, ledger.ErrTokenExpired):
		e.metrics.RefreshFailure()
		e.emitAudit(ctx, audit.KindRefreshRejected, "", false, ErrTokenExpired, nil)
		return ErrTokenExpired
	case errors.Is(err, ledger.ErrTokenNotFound):
		e.metrics.RefreshFailure()
		e.emitAudit(ctx, audit.KindRefreshRejected, "", false, ErrTokenNotFound, nil)
		return ErrTokenNotFound
	default:
		e.metrics.RefreshFailure()
		return err
	}
}

// Revoke marks the presented refresh token's lineage revoked and evicts
// the affected cache keys before returning. Idempotent: revoking an
// unknown or already-revoked token succeeds.
func (e *Engine) Revoke(ctx context.Context, refreshToken string) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}

	rec, err := e.ledger.Revoke(ctx, refreshToken)
	if err != nil {
		return err
	}
	if err := e.cache.Invalidate(ctx, cache.RefreshKey(refreshToken)); err != nil {
		e.logWarn("refresh mirror eviction failed")
	}
	if rec.ID == "" {
		return nil
	}

	e.metrics.Revocation()
	e.emitAudit(ctx, audit.KindTokenRevoked, rec.SubjectID, true, nil, map[string]string{"lineage": rec.LineageID})
	return e.ApplyMutation(ctx, TokenRevoked(rec.SubjectID))
}

// RevokeAllForSubject revokes every refresh lineage the subject owns,
// forcing re-authentication on all devices.
func (e *Engine) RevokeAllForSubject(ctx context.Context, subjectID string) error {
	if err := e.ledger.RevokeAllForSubject(ctx, subjectID); err != nil {
		return err
	}
	e.metrics.Revocation()
	e.emitAudit(ctx, audit.KindAllTokensRevoked, subjectID, true, nil, nil)
	return e.ApplyMutation(ctx, TokenRevoked(subjectID))
}

// Logout evicts the subject's cached session. The caller should also
// Revoke the session's refresh token; access tokens simply age out.
func (e *Engine) Logout(ctx context.Context, accessToken string) error {
	claims, err := e.ValidateAccess(ctx, accessToken)
	if err != nil {
		return err
	}
	e.emitAudit(ctx, audit.KindLogout, claims.SubjectID, true, nil, nil)
	return e.ApplyMutation(ctx, TokenRevoked(claims.SubjectID))
}

func (e *Engine) issuePair(ctx context.Context, sub store.Subject) (TokenPair, store.RefreshToken, error) {
	access, err := e.issuer.IssueAccess(sub.ID, sub.RoleID)
	if err != nil {
		return TokenPair{}, store.RefreshToken{}, err
	}
	refreshValue, rec, err := e.ledger.Issue(ctx, sub.ID)
	if err != nil {
		return TokenPair{}, store.RefreshToken{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refreshValue,
		AccessExpiresAt:  e.clock().Add(e.config.JWT.AccessTTL),
		RefreshExpiresAt: rec.ExpiresAt,
	}, rec, nil
}

// primeCaches warms the session descriptor, the role's permission set,
// and the refresh mirror after a successful login. All best effort.
func (e *Engine) primeCaches(ctx context.Context, sub store.Subject, refreshValue string, rec store.RefreshToken) {
	desc := SessionDescriptor{
		SubjectID: sub.ID,
		RoleID:    sub.RoleID,
		Verified:  sub.Verified,
		PrimedAt:  e.clock(),
	}
	if data, err := encodeJSON(desc); err == nil {
		if _, err := e.cache.Set(ctx, cache.SubjectSessionKey(sub.ID), data, e.config.Cache.SubjectSessionTTL); err != nil {
			e.logWarn("session cache prime failed", "subject", sub.ID)
		}
	}

	if sub.RoleID != "" {
		if _, err := e.effectivePermissions(ctx, sub.RoleID); err != nil {
			e.logWarn("permission cache prime failed", "role", sub.RoleID)
		}
	}

	e.mirrorRefresh(ctx, refreshValue, rec)
}

// mirrorRefresh keeps the refresh:{value} cache key aligned with ledger
// state: present while the token is live, TTL equal to its remaining
// lifetime. Revocation can only evict mirrors for values it was handed:
// the ledger persists hashes, so when a lineage burns, mirrors of
// siblings that were never presented cannot be addressed by value and
// age out with this TTL instead. Lookups against them still fail closed
// because the ledger, not the mirror, is authoritative.
func (e *Engine) mirrorRefresh(ctx context.Context, value string, rec store.RefreshToken) {
	ttl := rec.ExpiresAt.Sub(e.clock())
	if ttl <= 0 {
		return
	}
	payload := []byte(rec.LineageID)
	if _, err := e.cache.Set(ctx, cache.RefreshKey(value), payload, ttl); err != nil {
		e.logWarn("refresh mirror prime failed")
	}
}

func (e *Engine) emitAudit(ctx context.Context, kind audit.Kind, subjectID string, success bool, opErr error, meta map[string]string) {
	event := audit.Event{
		Timestamp: e.clock().UTC(),
		Kind:      kind,
		SubjectID: subjectID,
		Actor:     actorFromContext(ctx),
		Success:   success,
		Metadata:  meta,
	}
	if opErr != nil {
		event.Error = opErr.Error()
	}
	e.audit.Emit(ctx, event)
}

func (e *Engine) logWarn(msg string, kv ...string) {
	if e.logger == nil {
		return
	}
	fields := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		fields[kv[i]] = kv[i+1]
	}
	e.logger.WithFields(fields).Warn(msg)
}
