package identity

import (
	"testing"
	"time"

	"github.com/commercekit/identity/store/memory"
)

func TestDefaultConfigValid(t *testing.T) {
	if err := defaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	base := defaultConfig()

	cfg := base
	cfg.JWT.AccessTTL = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero access TTL must be rejected")
	}

	cfg = base
	cfg.Refresh.TTL = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero refresh TTL must be rejected")
	}

	cfg = base
	cfg.Refresh.TTL = 10 * time.Minute
	cfg.JWT.AccessTTL = 15 * time.Minute
	if err := cfg.Validate(); err == nil {
		t.Error("refresh TTL at or below access TTL must be rejected")
	}

	cfg = base
	cfg.Cache.RolePermissionsTTL = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero cache TTL must be rejected")
	}

	cfg = base
	cfg.JWT.SigningMethod = "rot13"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown signing method must be rejected")
	}
}

func TestBuildRequiresStore(t *testing.T) {
	if _, err := New().Build(); err == nil {
		t.Fatal("Build without a store must fail")
	}
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := defaultConfig()
	cfg.JWT.AccessTTL = -time.Second

	_, err := New().WithStore(memory.New()).WithConfig(cfg).Build()
	if err == nil {
		t.Fatal("Build with an invalid config must fail")
	}
}

func TestBuildGeneratesEphemeralKeys(t *testing.T) {
	eng, err := New().WithStore(memory.New()).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer eng.Close()

	if _, err := eng.issuer.IssueAccess("u1", ""); err != nil {
		t.Fatalf("engine with generated keys cannot sign: %v", err)
	}
}
