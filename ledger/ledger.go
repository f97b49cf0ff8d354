// Package ledger is the single source of truth for whether a refresh
// token may be exchanged. Tokens form lineages: each successful rotation
// revokes the presented token and appends a successor that references
// it. Presenting an already-rotated token is treated as a theft signal
// and burns the entire lineage, so replay converts to a hard failure
// instead of silent double-issuance.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/commercekit/identity/internal/ids"
	"github.com/commercekit/identity/store"
	"github.com/commercekit/identity/token"
)

var (
	// ErrTokenNotFound is returned when the presented value matches no
	// ledger record. Handled like a revoked token: fail closed.
	ErrTokenNotFound = errors.New("ledger: refresh token not found")
	// ErrTokenRevoked is returned for revoked tokens, including reuse of
	// a rotated-away token. The lineage is revoked before this returns.
	ErrTokenRevoked = errors.New("ledger: refresh token revoked")
	// ErrTokenExpired is returned when the token's expiry has passed.
	ErrTokenExpired = errors.New("ledger: refresh token expired")
	// ErrLineageBusy is returned when the per-lineage lock cannot be
	// acquired within the configured bound. Retryable.
	ErrLineageBusy = errors.New("ledger: lineage busy")
)

// Config controls token lifetime and lock behavior.
type Config struct {
	// RefreshTTL is the lifetime of each issued refresh token.
	RefreshTTL time.Duration
	// LockWait bounds how long a rotation waits on a contended lineage.
	// Zero means two seconds.
	LockWait time.Duration
	// Clock is injected for deterministic expiry in tests. Nil means
	// time.Now.
	Clock func() time.Time
}

// Ledger tracks refresh token lineages against the credential store.
// Rotation is serialized per lineage; two concurrent attempts on the
// same token cannot both succeed.
type Ledger struct {
	tokens   store.RefreshTokenStore
	locks    *lineageLocks
	ttl      time.Duration
	lockWait time.Duration
	clock    func() time.Time
}

// New creates a Ledger over the given refresh token repository.
func New(tokens store.RefreshTokenStore, cfg Config) (*Ledger, error) {
	if cfg.RefreshTTL <= 0 {
		return nil, errors.New("ledger: refresh TTL must be positive")
	}
	lockWait := cfg.LockWait
	if lockWait <= 0 {
		lockWait = 2 * time.Second
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Ledger{
		tokens:   tokens,
		locks:    newLineageLocks(),
		ttl:      cfg.RefreshTTL,
		lockWait: lockWait,
		clock:    clock,
	}, nil
}

// Issue starts a new lineage for the subject and returns the opaque
// token value alongside the persisted record.
func (l *Ledger) Issue(ctx context.Context, subjectID string) (string, store.RefreshToken, error) {
	value, err := token.NewRefreshSecret()
	if err != nil {
		return "", store.RefreshToken{}, err
	}
	now := l.clock()
	rec := store.RefreshToken{
		ID:        ids.New(),
		LineageID: uuid.NewString(),
		SubjectID: subjectID,
		TokenHash: token.HashRefreshSecret(value),
		ExpiresAt: now.Add(l.ttl),
		CreatedAt: now,
	}
	if err := l.tokens.CreateRefreshToken(ctx, rec); err != nil {
		return "", store.RefreshToken{}, fmt.Errorf("ledger: persist refresh token: %w", err)
	}
	return value, rec, nil
}

// Rotate exchanges a refresh token for its successor. Exactly one of two
// concurrent calls presenting the same token succeeds; the loser observes
// ErrTokenRevoked. Reuse of an already-rotated token revokes every token
// in its lineage, including unused successors.
func (l *Ledger) Rotate(ctx context.Context, value string) (string, store.RefreshToken, error) {
	if err := token.CheckRefreshValue(value); err != nil {
		return "", store.RefreshToken{}, ErrTokenNotFound
	}

	hash := token.HashRefreshSecret(value)
	rec, err := l.tokens.GetRefreshTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", store.RefreshToken{}, ErrTokenNotFound
		}
		return "", store.RefreshToken{}, err
	}

	release, err := l.locks.acquire(ctx, rec.LineageID, l.lockWait)
	if err != nil {
		return "", store.RefreshToken{}, err
	}
	defer release()

	// Re-read under the lock: a concurrent rotation may have won the
	// race between the lookup above and lock acquisition.
	rec, err = l.tokens.GetRefreshTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", store.RefreshToken{}, ErrTokenNotFound
		}
		return "", store.RefreshToken{}, err
	}

	if rec.Revoked {
		// Reuse of a rotated-away token. Burn the lineage.
		if err := l.tokens.RevokeLineage(ctx, rec.LineageID); err != nil {
			return "", store.RefreshToken{}, err
		}
		return "", store.RefreshToken{}, ErrTokenRevoked
	}
	if l.clock().After(rec.ExpiresAt) {
		return "", store.RefreshToken{}, ErrTokenExpired
	}

	nextValue, err := token.NewRefreshSecret()
	if err != nil {
		return "", store.RefreshToken{}, err
	}
	now := l.clock()
	next := store.RefreshToken{
		ID:        ids.New(),
		LineageID: rec.LineageID,
		SubjectID: rec.SubjectID,
		TokenHash: token.HashRefreshSecret(nextValue),
		ParentID:  rec.ID,
		ExpiresAt: now.Add(l.ttl),
		CreatedAt: now,
	}
	if err := l.tokens.RevokeRefreshToken(ctx, rec.ID); err != nil {
		return "", store.RefreshToken{}, err
	}
	if err := l.tokens.CreateRefreshToken(ctx, next); err != nil {
		return "", store.RefreshToken{}, err
	}
	return nextValue, next, nil
}

// Revoke marks the lineage of the presented token revoked. Idempotent:
// unknown and already-revoked tokens are not errors.
func (l *Ledger) Revoke(ctx context.Context, value string) (store.RefreshToken, error) {
	if err := token.CheckRefreshValue(value); err != nil {
		return store.RefreshToken{}, nil
	}
	rec, err := l.tokens.GetRefreshTokenByHash(ctx, token.HashRefreshSecret(value))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.RefreshToken{}, nil
		}
		return store.RefreshToken{}, err
	}

	release, err := l.locks.acquire(ctx, rec.LineageID, l.lockWait)
	if err != nil {
		return store.RefreshToken{}, err
	}
	defer release()

	if err := l.tokens.RevokeLineage(ctx, rec.LineageID); err != nil {
		return store.RefreshToken{}, err
	}
	return rec, nil
}

// RevokeAllForSubject revokes every lineage owned by the subject (force
// logout of all devices).
func (l *Ledger) RevokeAllForSubject(ctx context.Context, subjectID string) error {
	return l.tokens.RevokeAllForSubject(ctx, subjectID)
}

// Lookup returns the record for a token value without mutating anything.
func (l *Ledger) Lookup(ctx context.Context, value string) (store.RefreshToken, error) {
	if err := token.CheckRefreshValue(value); err != nil {
		return store.RefreshToken{}, ErrTokenNotFound
	}
	rec, err := l.tokens.GetRefreshTokenByHash(ctx, token.HashRefreshSecret(value))
	if errors.Is(err, store.ErrNotFound) {
		return store.RefreshToken{}, ErrTokenNotFound
	}
	return rec, err
}
