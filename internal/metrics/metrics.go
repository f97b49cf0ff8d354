// Package metrics exposes engine activity as Prometheus collectors. Each
// engine instance owns its registry so isolated test instances never
// fight over collector registration.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's collectors. A nil *Metrics is a no-op on
// every method so callers never branch on whether metrics are enabled.
type Metrics struct {
	registry *prometheus.Registry

	loginSuccess  prometheus.Counter
	loginFailure  prometheus.Counter
	refreshOK     prometheus.Counter
	refreshReuse  prometheus.Counter
	refreshFailed prometheus.Counter
	authzAllow    prometheus.Counter
	authzDeny     prometheus.Counter
	revocations   prometheus.Counter

	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
	cacheShared   prometheus.Counter
	cacheFallback prometheus.Counter

	evictions *prometheus.CounterVec

	authorizeLatency prometheus.Histogram
}

// New creates a Metrics instance with its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "identity"
	}
	m := &Metrics{registry: prometheus.NewRegistry()}

	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
		m.registry.MustRegister(c)
		return c
	}

	m.loginSuccess = counter("login_success_total", "Successful authentications.")
	m.loginFailure = counter("login_failure_total", "Failed authentications.")
	m.refreshOK = counter("refresh_success_total", "Successful refresh token rotations.")
	m.refreshReuse = counter("refresh_reuse_detected_total", "Rotation attempts on already-rotated tokens.")
	m.refreshFailed = counter("refresh_failure_total", "Failed refresh token rotations.")
	m.authzAllow = counter("authorize_allow_total", "Authorization checks that allowed.")
	m.authzDeny = counter("authorize_deny_total", "Authorization checks that denied.")
	m.revocations = counter("revocations_total", "Refresh token revocations.")
	m.cacheHits = counter("cache_hits_total", "Cache lookups served from the cache.")
	m.cacheMisses = counter("cache_misses_total", "Cache lookups that required recomputation.")
	m.cacheShared = counter("cache_shared_results_total", "Callers that received another caller's recompute result.")
	m.cacheFallback = counter("cache_fallbacks_total", "Lookups that bypassed the cache due to backend failure or wait timeout.")

	m.evictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "invalidation_evictions_total",
		Help:      "Cache keys evicted by the invalidation coordinator.",
	}, []string{"event"})
	m.registry.MustRegister(m.evictions)

	m.authorizeLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "authorize_duration_seconds",
		Help:      "Authorization check latency.",
		Buckets:   prometheus.DefBuckets,
	})
	m.registry.MustRegister(m.authorizeLatency)

	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for callers that aggregate
// multiple collectors into one endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) LoginSuccess() {
	if m != nil {
		m.loginSuccess.Inc()
	}
}

func (m *Metrics) LoginFailure() {
	if m != nil {
		m.loginFailure.Inc()
	}
}

func (m *Metrics) RefreshSuccess() {
	if m != nil {
		m.refreshOK.Inc()
	}
}

func (m *Metrics) RefreshReuseDetected() {
	if m != nil {
		m.refreshReuse.Inc()
	}
}

func (m *Metrics) RefreshFailure() {
	if m != nil {
		m.refreshFailed.Inc()
	}
}

func (m *Metrics) AuthorizeAllow() {
	if m != nil {
		m.authzAllow.Inc()
	}
}

func (m *Metrics) AuthorizeDeny() {
	if m != nil {
		m.authzDeny.Inc()
	}
}

func (m *Metrics) Revocation() {
	if m != nil {
		m.revocations.Inc()
	}
}

func (m *Metrics) Eviction(event string) {
	if m != nil {
		m.evictions.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) ObserveAuthorize(d time.Duration) {
	if m != nil {
		m.authorizeLatency.Observe(d.Seconds())
	}
}

// CacheHit, CacheMiss, CacheShared, and CacheFallback satisfy the cache
// package's Recorder interface.

func (m *Metrics) CacheHit() {
	if m != nil {
		m.cacheHits.Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.cacheMisses.Inc()
	}
}

func (m *Metrics) CacheShared() {
	if m != nil {
		m.cacheShared.Inc()
	}
}

func (m *Metrics) CacheFallback() {
	if m != nil {
		m.cacheFallback.Inc()
	}
}
