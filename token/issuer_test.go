package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestIssuer(t *testing.T, clock *fakeClock) *Issuer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}
	cfg := Config{
		AccessTTL:     15 * time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "test",
	}
	if clock != nil {
		cfg.Clock = clock.Now
	}
	issuer, err := NewIssuer(cfg)
	if err != nil {
		t.Fatalf("NewIssuer failed: %v", err)
	}
	return issuer
}

func TestIssueAndValidate(t *testing.T) {
	issuer := newTestIssuer(t, nil)

	signed, err := issuer.IssueAccess("u1", "editor")
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}

	claims, err := issuer.ValidateAccess(signed)
	if err != nil {
		t.Fatalf("ValidateAccess failed: %v", err)
	}
	if claims.SubjectID != "u1" {
		t.Errorf("subject = %q, want u1", claims.SubjectID)
	}
	if claims.RoleID != "editor" {
		t.Errorf("role = %q, want editor", claims.RoleID)
	}
	if claims.Kind != KindAccess {
		t.Errorf("kind = %q, want %q", claims.Kind, KindAccess)
	}
}

func TestValidateExpired(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	issuer := newTestIssuer(t, clock)

	signed, err := issuer.IssueAccess("u1", "editor")
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}

	clock.Advance(16 * time.Minute)

	if _, err := issuer.ValidateAccess(signed); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expired validation error = %v, want ErrTokenExpired", err)
	}
}

func TestValidateWrongKey(t *testing.T) {
	a := newTestIssuer(t, nil)
	b := newTestIssuer(t, nil)

	signed, err := a.IssueAccess("u1", "editor")
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}
	if _, err := b.ValidateAccess(signed); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("cross-key validation error = %v, want ErrTokenInvalid", err)
	}
}

func TestValidateGarbage(t *testing.T) {
	issuer := newTestIssuer(t, nil)

	for _, tok := range []string{"", "not.a.token", "aaaa.bbbb.cccc"} {
		if _, err := issuer.ValidateAccess(tok); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("ValidateAccess(%q) = %v, want ErrTokenInvalid", tok, err)
		}
	}
}

func TestValidateRejectsWrongKind(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}
	issuer, err := NewIssuer(Config{
		AccessTTL:     15 * time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
	})
	if err != nil {
		t.Fatalf("NewIssuer failed: %v", err)
	}

	// Forge a correctly signed token carrying the wrong kind.
	forged := jwt.NewWithClaims(jwt.SigningMethodEdDSA, Claims{
		SubjectID: "u1",
		Kind:      "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := forged.SignedString(priv)
	if err != nil {
		t.Fatalf("signing forged token failed: %v", err)
	}

	if _, err := issuer.ValidateAccess(signed); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("wrong-kind validation error = %v, want ErrTokenInvalid", err)
	}
}

func TestHS256RoundTrip(t *testing.T) {
	issuer, err := NewIssuer(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
	})
	if err != nil {
		t.Fatalf("NewIssuer failed: %v", err)
	}

	signed, err := issuer.IssueAccess("u1", "viewer")
	if err != nil {
		t.Fatalf("IssueAccess failed: %v", err)
	}
	claims, err := issuer.ValidateAccess(signed)
	if err != nil {
		t.Fatalf("ValidateAccess failed: %v", err)
	}
	if claims.SubjectID != "u1" || claims.RoleID != "viewer" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestNewIssuerRejectsBadConfig(t *testing.T) {
	if _, err := NewIssuer(Config{AccessTTL: 0, SigningMethod: MethodHS256, PrivateKey: []byte("k")}); err == nil {
		t.Error("zero TTL must be rejected")
	}
	if _, err := NewIssuer(Config{AccessTTL: time.Minute, SigningMethod: MethodHS256}); err == nil {
		t.Error("hs256 without a key must be rejected")
	}
	if _, err := NewIssuer(Config{AccessTTL: time.Minute, SigningMethod: "rs512"}); err == nil {
		t.Error("unsupported method must be rejected")
	}
	if _, err := NewIssuer(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519}); err == nil {
		t.Error("ed25519 without keys must be rejected")
	}
}

func TestRefreshSecrets(t *testing.T) {
	a, err := NewRefreshSecret()
	if err != nil {
		t.Fatalf("NewRefreshSecret failed: %v", err)
	}
	b, err := NewRefreshSecret()
	if err != nil {
		t.Fatalf("NewRefreshSecret failed: %v", err)
	}
	if a == b {
		t.Fatal("secrets must be unique")
	}
	if err := CheckRefreshValue(a); err != nil {
		t.Fatalf("CheckRefreshValue rejected a fresh secret: %v", err)
	}
	if err := CheckRefreshValue(""); err == nil {
		t.Fatal("empty value must be rejected")
	}
	if HashRefreshSecret(a) == HashRefreshSecret(b) {
		t.Fatal("distinct secrets must hash distinctly")
	}
	if HashRefreshSecret(a) != HashRefreshSecret(a) {
		t.Fatal("hashing must be deterministic")
	}
}
