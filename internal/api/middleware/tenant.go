package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/storeward/tenant-edge/internal/core"
	"github.com/storeward/tenant-edge/internal/metrics"
)

const (
	HeaderTenantID   = "X-Tenant-ID"
	HeaderTenantSlug = "X-Tenant-Slug"
)

// TenantResolver is the lookup side of the middleware, satisfied by
// lookup.Service.
type TenantResolver interface {
	Resolve(ctx context.Context, domainName string) (*core.TenantInfo, error)
}

type TenantOptions struct {
	BaseDomain string
	// TrustIngressHeader must only be enabled on listeners reachable
	// exclusively from trusted internal ingress; a public listener with
	// this on accepts forged tenant identities.
	TrustIngressHeader bool
	BypassPathPrefixes []string
}

// TenantResolution derives tenant identity from the Host header and
// attaches it to the request, or rejects the request. Fail closed: no
// tenant, no downstream.
func TenantResolution(resolver TenantResolver, collector *metrics.Collector, logger *zap.Logger, opts TenantOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, prefix := range opts.BypassPathPrefixes {
			if strings.HasPrefix(c.Request.URL.Path, prefix) {
				c.Next()
				return
			}
		}

		host := NormalizeHost(c.Request.Host)
		if isLoopback(host) {
			c.Next()
			return
		}

		if opts.TrustIngressHeader && c.GetHeader(HeaderTenantID) != "" {
			c.Next()
			return
		}

		start := time.Now()

		// Zero-I/O fast path: platform subdomains are implicitly trusted.
		if info, ok := ResolveFromSubdomain(host, opts.BaseDomain); ok {
			attachTenant(c, info)
			collector.RecordResolution("fastpath", time.Since(start))
			c.Next()
			return
		}

		info, err := resolver.Resolve(c.Request.Context(), host)
		if err != nil && !errors.Is(err, core.ErrNotFound) {
			collector.RecordResolution("error", time.Since(start))
			logger.Error("tenant resolution failed",
				zap.String("host", host),
				zap.Error(err),
			)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Internal server error",
			})
			return
		}

		// Unknown domain, or a tenant that is not active: same answer
		// either way, nothing leaks about which it was.
		if err != nil || info.Status != core.TenantActive {
			collector.RecordResolution("not_found", time.Since(start))
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
				"error":   "Tenant not found",
				"message": "No tenant is configured for domain: " + host,
			})
			return
		}

		attachTenant(c, info)
		collector.RecordResolution("hit", time.Since(start))
		c.Next()
	}
}

func attachTenant(c *gin.Context, info *core.TenantInfo) {
	c.Request.Header.Set(HeaderTenantID, info.TenantID.String())
	c.Request.Header.Set(HeaderTenantSlug, info.Slug)
	c.Set("tenant_id", info.TenantID.String())
	c.Set("tenant_slug", info.Slug)
}

// NormalizeHost strips any port and lowercases the Host header value.
func NormalizeHost(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(strings.TrimSpace(host))
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// ResolveFromSubdomain resolves <slug>.<baseDomain> hosts without any
// cache or store call. The tenant ID is the slug's deterministic
// derivation, the same one used at provisioning time.
func ResolveFromSubdomain(host, baseDomain string) (*core.TenantInfo, bool) {
	if baseDomain == "" {
		return nil, false
	}

	suffix := "." + strings.ToLower(baseDomain)
	if !strings.HasSuffix(host, suffix) {
		return nil, false
	}

	slug := strings.TrimSuffix(host, suffix)
	if slug == "" || strings.Contains(slug, ".") {
		return nil, false
	}

	return &core.TenantInfo{
		TenantID: core.DeriveTenantID(slug),
		Slug:     slug,
		Status:   core.TenantActive,
	}, true
}
