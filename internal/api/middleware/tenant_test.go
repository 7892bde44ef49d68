package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/storeward/tenant-edge/internal/core"
	"github.com/storeward/tenant-edge/internal/metrics"
)

type stubResolver struct {
	info  *core.TenantInfo
	err   error
	calls int
}

func (s *stubResolver) Resolve(context.Context, string) (*core.TenantInfo, error) {
	s.calls++
	return s.info, s.err
}

type downstreamCapture struct {
	called     bool
	tenantID   string
	tenantSlug string
}

func setupRouter(resolver TenantResolver, opts TenantOptions) (*gin.Engine, *downstreamCapture) {
	gin.SetMode(gin.TestMode)

	captured := &downstreamCapture{}
	router := gin.New()
	collector := metrics.NewCollector(prometheus.NewRegistry())
	router.Use(TenantResolution(resolver, collector, zap.NewNop(), opts))
	router.GET("/*path", func(c *gin.Context) {
		captured.called = true
		captured.tenantID = c.Request.Header.Get(HeaderTenantID)
		captured.tenantSlug = c.Request.Header.Get(HeaderTenantSlug)
		c.Status(http.StatusOK)
	})

	return router, captured
}

func doRequest(router *gin.Engine, host, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Host = host
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSubdomainFastPath(t *testing.T) {
	resolver := &stubResolver{}
	router, captured := setupRouter(resolver, TenantOptions{BaseDomain: "base.example"})

	w := doRequest(router, "tenant1.base.example", "/products", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, captured.called)
	assert.Equal(t, "tenant1", captured.tenantSlug)
	assert.Equal(t, core.DeriveTenantID("tenant1").String(), captured.tenantID)
	// zero store/cache calls on the fast path
	assert.Zero(t, resolver.calls)
}

func TestUnknownDomainReturns404(t *testing.T) {
	resolver := &stubResolver{err: core.ErrNotFound}
	router, captured := setupRouter(resolver, TenantOptions{BaseDomain: "base.example"})

	w := doRequest(router, "unknown.example.com", "/", nil)

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Tenant not found")
	assert.Contains(t, w.Body.String(), "unknown.example.com")
	assert.False(t, captured.called)
}

func TestInactiveTenantReturns404(t *testing.T) {
	resolver := &stubResolver{info: &core.TenantInfo{Slug: "dormant", Status: core.TenantSuspended}}
	router, captured := setupRouter(resolver, TenantOptions{BaseDomain: "base.example"})

	w := doRequest(router, "shop.dormant.de", "/", nil)

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Tenant not found")
	assert.False(t, captured.called)
}

func TestResolverFailureReturns500WithoutDetails(t *testing.T) {
	resolver := &stubResolver{err: errors.New("pq: connection refused to 10.0.3.7")}
	router, captured := setupRouter(resolver, TenantOptions{BaseDomain: "base.example"})

	w := doRequest(router, "shop.customer.de", "/", nil)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Internal server error")
	assert.NotContains(t, w.Body.String(), "10.0.3.7")
	assert.False(t, captured.called)
}

func TestVerifiedCustomDomainResolves(t *testing.T) {
	tenantID := core.DeriveTenantID("customer")
	resolver := &stubResolver{info: &core.TenantInfo{TenantID: tenantID, Slug: "customer", Status: core.TenantActive}}
	router, captured := setupRouter(resolver, TenantOptions{BaseDomain: "base.example"})

	w := doRequest(router, "shop.customer.de", "/", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, resolver.calls)
	assert.Equal(t, tenantID.String(), captured.tenantID)
	assert.Equal(t, "customer", captured.tenantSlug)
}

func TestHostPortIsStripped(t *testing.T) {
	resolver := &stubResolver{}
	router, captured := setupRouter(resolver, TenantOptions{BaseDomain: "base.example"})

	w := doRequest(router, "tenant1.base.example:8443", "/", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tenant1", captured.tenantSlug)
}

func TestBypassPathSkipsResolution(t *testing.T) {
	resolver := &stubResolver{err: core.ErrNotFound}
	router, captured := setupRouter(resolver, TenantOptions{
		BaseDomain:         "base.example",
		BypassPathPrefixes: []string{"/health"},
	})

	w := doRequest(router, "unknown.example.com", "/healthz", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, captured.called)
	assert.Zero(t, resolver.calls)
	assert.Empty(t, captured.tenantID)
}

func TestLoopbackHostBypasses(t *testing.T) {
	resolver := &stubResolver{err: core.ErrNotFound}
	router, captured := setupRouter(resolver, TenantOptions{BaseDomain: "base.example"})

	for _, host := range []string{"localhost", "localhost:8080", "127.0.0.1", "127.0.0.1:3000"} {
		w := doRequest(router, host, "/", nil)
		require.Equal(t, http.StatusOK, w.Code, "host %s", host)
		assert.True(t, captured.called)
		assert.Zero(t, resolver.calls)
	}
}

func TestIngressHeaderIgnoredByDefault(t *testing.T) {
	// a forged X-Tenant-ID from the public internet must not short-circuit
	// resolution
	resolver := &stubResolver{err: core.ErrNotFound}
	router, captured := setupRouter(resolver, TenantOptions{BaseDomain: "base.example"})

	w := doRequest(router, "unknown.example.com", "/", map[string]string{
		HeaderTenantID: core.DeriveTenantID("victim").String(),
	})

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 1, resolver.calls)
	assert.False(t, captured.called)
}

func TestIngressHeaderHonoredWhenTrusted(t *testing.T) {
	resolver := &stubResolver{err: core.ErrNotFound}
	router, captured := setupRouter(resolver, TenantOptions{
		BaseDomain:         "base.example",
		TrustIngressHeader: true,
	})

	tenantID := core.DeriveTenantID("internal").String()
	w := doRequest(router, "whatever.example.com", "/", map[string]string{
		HeaderTenantID: tenantID,
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, resolver.calls)
	assert.True(t, captured.called)
	assert.Equal(t, tenantID, captured.tenantID)
}

func TestResolveFromSubdomain(t *testing.T) {
	cases := []struct {
		host string
		slug string
		ok   bool
	}{
		{"tenant1.base.example", "tenant1", true},
		{"shop.customer.de", "", false},
		{"base.example", "", false},
		{"a.b.base.example", "", false},
		{".base.example", "", false},
	}

	for _, tc := range cases {
		info, ok := ResolveFromSubdomain(tc.host, "base.example")
		assert.Equal(t, tc.ok, ok, "host %s", tc.host)
		if tc.ok {
			assert.Equal(t, tc.slug, info.Slug)
			assert.Equal(t, core.DeriveTenantID(tc.slug), info.TenantID)
		}
	}
}
