package handlers

import (
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/storeward/tenant-edge/internal/core"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

type CreateTenantRequest struct {
	Slug string `json:"slug" binding:"required"`
	Name string `json:"name" binding:"required"`
}

// CreateTenant provisions a tenant together with its platform subdomain.
// The tenant ID is derived from the slug so subdomain requests resolve
// without any lookup.
func (h *Handler) CreateTenant(c *gin.Context) {
	var req CreateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !slugPattern.MatchString(req.Slug) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Slug must be lowercase alphanumeric with hyphens"})
		return
	}

	exists, err := h.db.SlugExists(c.Request.Context(), req.Slug)
	if err != nil {
		h.logger.Error("slug existence check failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create tenant"})
		return
	}
	if exists {
		c.JSON(http.StatusConflict, gin.H{"error": "Slug '" + req.Slug + "' is already taken"})
		return
	}

	now := time.Now().UTC()
	tenant := &core.Tenant{
		ID:        core.DeriveTenantID(req.Slug),
		Slug:      req.Slug,
		Name:      req.Name,
		Status:    core.TenantActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.db.CreateTenant(c.Request.Context(), tenant); err != nil {
		if errors.Is(err, core.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "Slug '" + req.Slug + "' is already taken"})
			return
		}
		h.logger.Error("failed to create tenant", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create tenant"})
		return
	}

	subdomainName := req.Slug + "." + h.cfg.Tenancy.BaseDomain
	subdomain := &core.TenantDomain{
		ID:                 uuid.New(),
		TenantID:           tenant.ID,
		DomainName:         core.NormalizeDomainName(subdomainName),
		Type:               core.DomainTypeSubdomain,
		IsPrimary:          true,
		VerificationStatus: core.VerificationVerified,
		VerifiedAt:         &now,
		SSLStatus:          core.SSLActive,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := h.db.CreateDomain(c.Request.Context(), subdomain); err != nil {
		h.logger.Error("failed to create platform subdomain",
			zap.String("domain", subdomain.DomainName), zap.Error(err))
	}

	// a negative entry may be cached from lookups before provisioning
	if err := h.lookup.Invalidate(c.Request.Context(), subdomain.DomainName); err != nil {
		h.logger.Warn("cache invalidation failed", zap.Error(err))
	}

	h.logger.Info("tenant created",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("slug", tenant.Slug),
	)

	c.JSON(http.StatusCreated, tenant)
}

// GetTenant accepts either a tenant id or a slug.
func (h *Handler) GetTenant(c *gin.Context) {
	var (
		tenant *core.Tenant
		err    error
	)

	if tenantID, parseErr := uuid.Parse(c.Param("id")); parseErr == nil {
		tenant, err = h.db.GetTenant(c.Request.Context(), tenantID)
	} else {
		tenant, err = h.db.GetTenantBySlug(c.Request.Context(), c.Param("id"))
	}

	if errors.Is(err, core.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Tenant not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load tenant", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load tenant"})
		return
	}

	c.JSON(http.StatusOK, tenant)
}

func (h *Handler) ListTenants(c *gin.Context) {
	var status *core.TenantStatus
	if s := c.Query("status"); s != "" {
		st := core.TenantStatus(s)
		status = &st
	}

	tenants, err := h.db.ListTenants(c.Request.Context(), status, c.Query("search"))
	if err != nil {
		h.logger.Error("failed to list tenants", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list tenants"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tenants": tenants,
		"count":   len(tenants),
	})
}
