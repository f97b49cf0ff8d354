package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.LoginSuccess()
	m.LoginFailure()
	m.RefreshSuccess()
	m.RefreshReuseDetected()
	m.RefreshFailure()
	m.AuthorizeAllow()
	m.AuthorizeDeny()
	m.Revocation()
	m.Eviction("role_changed")
	m.ObserveAuthorize(time.Millisecond)
	m.CacheHit()
	m.CacheMiss()
	m.CacheShared()
	m.CacheFallback()
	if m.Registry() != nil {
		t.Fatal("nil metrics must expose a nil registry")
	}
}

func TestExposition(t *testing.T) {
	m := New("identity")
	m.LoginSuccess()
	m.CacheHit()
	m.Eviction("role_permissions_changed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		"identity_login_success_total 1",
		"identity_cache_hits_total 1",
		`identity_invalidation_evictions_total{event="role_permissions_changed"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestIsolatedRegistries(t *testing.T) {
	// Two instances must not collide on collector registration.
	a := New("identity")
	b := New("identity")
	a.LoginSuccess()
	if a.Registry() == b.Registry() {
		t.Fatal("instances must own separate registries")
	}
}
