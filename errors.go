package identity

import (
	"errors"

	"github.com/commercekit/identity/cache"
	"github.com/commercekit/identity/ledger"
)

var (
	// ErrInvalidCredentials is returned when authentication fails. The
	// same error covers unknown identifiers and wrong passwords so the
	// two cases are indistinguishable to callers.
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	// ErrSubjectInactive is returned when the subject's account is
	// deactivated.
	ErrSubjectInactive = errors.New("identity: subject inactive")

	// ErrInvalidToken covers malformed access tokens and bad
	// signatures. Never retried; the caller must re-authenticate.
	ErrInvalidToken = errors.New("identity: invalid token")
	// ErrTokenExpired is returned for expired access tokens (recover by
	// refreshing) and expired refresh tokens (recover by
	// re-authenticating).
	ErrTokenExpired = errors.New("identity: token expired")
	// ErrTokenRevoked signals a revoked refresh token, including reuse
	// of a rotated-away value. The lineage is revoked before this is
	// returned; treat it as a possible compromise signal.
	ErrTokenRevoked = errors.New("identity: token revoked")
	// ErrTokenNotFound is returned when a refresh value matches no
	// ledger record. Handled exactly like ErrTokenRevoked: fail closed.
	ErrTokenNotFound = errors.New("identity: token not found")

	// ErrLineageBusy is returned when a rotation could not acquire its
	// lineage lock within the configured bound. Retryable.
	ErrLineageBusy = ledger.ErrLineageBusy

	// ErrCacheUnavailable reports a cache backend failure during
	// synchronous invalidation. Reads never surface it; they fall
	// through to the store.
	ErrCacheUnavailable = cache.ErrUnavailable

	// ErrSessionNotCached is returned by Session when the subject has no
	// cached descriptor. Not a failure; descriptors exist only between a
	// login and the next eviction or TTL expiry.
	ErrSessionNotCached = errors.New("identity: session not cached")

	// ErrEngineClosed is returned by operations on a closed engine.
	ErrEngineClosed = errors.New("identity: engine closed")
)
