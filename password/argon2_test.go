package password

import (
	"errors"
	"strings"
	"testing"
)

func testConfig() Argon2Config {
	// Minimum legal costs keep the suite fast.
	return Argon2Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}
}

func TestHashVerifyRoundTrip(t *testing.T) {
	a, err := NewArgon2(testConfig())
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}

	hash, err := a.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Fatalf("hash %q is not PHC formatted", hash)
	}

	ok, err := a.Verify("correct horse battery staple", hash)
	if err != nil || !ok {
		t.Fatalf("Verify = (%v, %v), want (true, nil)", ok, err)
	}
	ok, err = a.Verify("wrong password", hash)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if ok {
		t.Fatal("wrong password must not verify")
	}
}

func TestHashesAreSalted(t *testing.T) {
	a, err := NewArgon2(testConfig())
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	h1, err := a.Hash("pw")
	if err != nil {
		t.Fatal(err)
	}
	h2, err := a.Hash("pw")
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h2 {
		t.Fatal("two hashes of the same password must differ")
	}
}

func TestVerifyMalformed(t *testing.T) {
	a, err := NewArgon2(testConfig())
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	for _, bad := range []string{
		"",
		"plaintext",
		"$argon2id$v=19$m=8192,t=1,p=1$short$short",
		"$bcrypt$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
	} {
		if _, err := a.Verify("pw", bad); !errors.Is(err, ErrMalformedHash) {
			t.Errorf("Verify(%q) error = %v, want ErrMalformedHash", bad, err)
		}
	}
}

func TestNewArgon2RejectsWeakParameters(t *testing.T) {
	weak := testConfig()
	weak.Memory = 1024
	if _, err := NewArgon2(weak); err == nil {
		t.Error("sub-minimum memory must be rejected")
	}
	weak = testConfig()
	weak.SaltLength = 8
	if _, err := NewArgon2(weak); err == nil {
		t.Error("short salt must be rejected")
	}
}

func TestCrossParameterVerify(t *testing.T) {
	// Hashes carry their parameters, so a verifier configured differently
	// still checks them correctly.
	heavy, err := NewArgon2(DefaultArgon2Config())
	if err != nil {
		t.Fatal(err)
	}
	light, err := NewArgon2(testConfig())
	if err != nil {
		t.Fatal(err)
	}

	hash, err := light.Hash("pw")
	if err != nil {
		t.Fatal(err)
	}
	ok, err := heavy.Verify("pw", hash)
	if err != nil || !ok {
		t.Fatalf("Verify across configs = (%v, %v), want (true, nil)", ok, err)
	}
}
