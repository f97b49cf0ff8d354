package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/commercekit/identity/cache"
	redisbackend "github.com/commercekit/identity/cache/redis"
	"github.com/commercekit/identity/internal/audit"
	"github.com/commercekit/identity/internal/metrics"
	"github.com/commercekit/identity/ledger"
	"github.com/commercekit/identity/password"
	"github.com/commercekit/identity/rbac"
	"github.com/commercekit/identity/store"
	"github.com/commercekit/identity/token"
)

// Builder assembles an Engine. Zero-value defaults: in-memory cache
// backend, Argon2id password verification, metrics enabled, audit
// disabled.
type Builder struct {
	config   Config
	hasCfg   bool
	store    store.Store
	backend  cache.Backend
	logger   *logrus.Logger
	sink     audit.Sink
	verifier password.Verifier
	clock    func() time.Time
}

// New starts a Builder with default configuration.
func New() *Builder {
	return &Builder{}
}

// WithConfig replaces the default configuration wholesale.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	b.hasCfg = true
	return b
}

// WithStore sets the credential store. Required.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

// WithCacheBackend replaces the default in-memory cache backend.
func (b *Builder) WithCacheBackend(backend cache.Backend) *Builder {
	b.backend = backend
	return b
}

// WithRedis backs the cache with the given Redis client.
func (b *Builder) WithRedis(client goredis.UniversalClient) *Builder {
	b.backend = redisbackend.NewBackend(client, "")
	return b
}

// WithLogger sets the structured logger. Nil silences engine logging.
func (b *Builder) WithLogger(logger *logrus.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the audit destination and enables auditing.
func (b *Builder) WithAuditSink(sink audit.Sink) *Builder {
	b.sink = sink
	return b
}

// WithVerifier replaces the default Argon2id password verifier.
func (b *Builder) WithVerifier(v password.Verifier) *Builder {
	b.verifier = v
	return b
}

// WithClock injects a time source. Tests use this to control expiry.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// Build validates configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	cfg := b.config
	if !b.hasCfg {
		cfg = defaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("identity: store is required")
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	if token.SigningMethod(cfg.JWT.SigningMethod) == token.MethodEd25519 &&
		len(cfg.JWT.PrivateKey) == 0 && len(cfg.JWT.PublicKey) == 0 {
		// Ephemeral keypair: issued tokens do not survive a restart.
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		cfg.JWT.PrivateKey = priv
		cfg.JWT.PublicKey = pub
	}

	issuer, err := token.NewIssuer(token.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: token.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cfg.JWT.PrivateKey,
		PublicKey:     cfg.JWT.PublicKey,
		Issuer:        cfg.JWT.Issuer,
		Leeway:        cfg.JWT.Leeway,
		Clock:         clock,
	})
	if err != nil {
		return nil, err
	}

	led, err := ledger.New(b.store, ledger.Config{
		RefreshTTL: cfg.Refresh.TTL,
		LockWait:   cfg.Refresh.LockWait,
		Clock:      clock,
	})
	if err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics.Namespace)
	}

	backend := b.backend
	if backend == nil {
		backend = cache.NewMemoryBackend(cfg.Cache.MaxEntries, clock)
	}
	c := cache.New(backend, cache.Config{
		ComputeTimeout: cfg.Cache.ComputeTimeout,
		WaitTimeout:    cfg.Cache.WaitTimeout,
	}, m)

	var dispatcher *audit.Dispatcher
	if cfg.Audit.Enabled || b.sink != nil {
		sink := b.sink
		if sink == nil {
			sink = audit.NoOpSink{}
		}
		dispatcher = audit.NewDispatcher(audit.Config{
			Enabled:    true,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, sink)
	}

	verifier := b.verifier
	if verifier == nil {
		verifier, err = password.NewArgon2(password.DefaultArgon2Config())
		if err != nil {
			return nil, err
		}
	}

	return &Engine{
		config:   cfg,
		store:    b.store,
		issuer:   issuer,
		ledger:   led,
		resolver: rbac.NewResolver(b.store, b.store),
		cache:    c,
		metrics:  m,
		audit:    dispatcher,
		verifier: verifier,
		logger:   b.logger,
		clock:    clock,
	}, nil
}
