package identity

import (
	"errors"
	"time"

	"github.com/commercekit/identity/token"
)

// Config is the engine's injected configuration. All TTLs and lock
// bounds live here; nothing is read from ambient state.
type Config struct {
	JWT     JWTConfig
	Refresh RefreshConfig
	Cache   CacheConfig
	Audit   AuditConfig
	Metrics MetricsConfig
}

// JWTConfig is the access token signing contract.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

// RefreshConfig controls the refresh token ledger.
type RefreshConfig struct {
	// TTL is each refresh token's lifetime.
	TTL time.Duration
	// LockWait bounds rotation waits on a contended lineage.
	LockWait time.Duration
}

// CacheConfig controls the session/auth cache.
type CacheConfig struct {
	// RolePermissionsTTL bounds cached effective permission sets.
	// Direct invalidation still forces early recomputation.
	RolePermissionsTTL time.Duration
	// SubjectSessionTTL bounds cached session descriptors.
	SubjectSessionTTL time.Duration
	// ComputeTimeout bounds a cache recompute before it surfaces a
	// retryable error.
	ComputeTimeout time.Duration
	// WaitTimeout bounds how long a caller waits on another caller's
	// recompute before computing directly.
	WaitTimeout time.Duration
	// MaxEntries caps the default in-memory backend. Ignored when a
	// custom backend is supplied.
	MaxEntries int
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls Prometheus collector registration.
type MetricsConfig struct {
	Enabled   bool
	Namespace string
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: string(token.MethodEd25519),
			Issuer:        "identity",
		},
		Refresh: RefreshConfig{
			TTL:      14 * 24 * time.Hour,
			LockWait: 2 * time.Second,
		},
		Cache: CacheConfig{
			RolePermissionsTTL: time.Hour,
			SubjectSessionTTL:  30 * time.Minute,
			ComputeTimeout:     time.Second,
			WaitTimeout:        time.Second,
			MaxEntries:         4096,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "identity",
		},
	}
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.JWT.AccessTTL <= 0 {
		return errors.New("identity: JWT.AccessTTL must be positive")
	}
	if c.Refresh.TTL <= 0 {
		return errors.New("identity: Refresh.TTL must be positive")
	}
	if c.Refresh.TTL <= c.JWT.AccessTTL {
		return errors.New("identity: Refresh.TTL must exceed JWT.AccessTTL")
	}
	if c.Cache.RolePermissionsTTL <= 0 || c.Cache.SubjectSessionTTL <= 0 {
		return errors.New("identity: cache TTLs must be positive")
	}
	switch token.SigningMethod(c.JWT.SigningMethod) {
	case token.MethodEd25519, token.MethodHS256:
	default:
		return errors.New("identity: unsupported JWT.SigningMethod")
	}
	return nil
}
