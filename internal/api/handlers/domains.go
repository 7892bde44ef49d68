package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/storeward/tenant-edge/internal/core"
)

type AddDomainRequest struct {
	DomainName   string `json:"domain_name" binding:"required,hostname"`
	SetAsPrimary bool   `json:"set_as_primary"`
}

// DNSInstructions tell the tenant which records to publish: the TXT
// ownership challenge and the CNAME pointing traffic at the platform.
type DNSInstructions struct {
	RecordType      string     `json:"record_type"`
	RecordName      string     `json:"record_name"`
	RecordValue     string     `json:"record_value"`
	CNAMERecordName string     `json:"cname_record_name"`
	CNAMETarget     string     `json:"cname_target"`
	TokenExpiresAt  *time.Time `json:"token_expires_at,omitempty"`
}

type DomainResponse struct {
	core.TenantDomain
	DNSInstructions *DNSInstructions `json:"dns_instructions,omitempty"`
}

// AddDomain registers a domain for a tenant. Subdomains under the
// platform base domain are auto-verified and covered by the wildcard
// certificate; custom domains start the verification state machine.
func (h *Handler) AddDomain(c *gin.Context) {
	tenantID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid tenant id"})
		return
	}

	var req AddDomainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tenant, err := h.db.GetTenant(c.Request.Context(), tenantID)
	if errors.Is(err, core.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Tenant not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load tenant", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add domain"})
		return
	}

	domainName := core.NormalizeDomainName(req.DomainName)

	exists, err := h.db.DomainExists(c.Request.Context(), domainName, nil)
	if err != nil {
		h.logger.Error("domain existence check failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add domain"})
		return
	}
	if exists {
		c.JSON(http.StatusConflict, gin.H{"error": "Domain '" + domainName + "' is already in use"})
		return
	}

	now := time.Now().UTC()
	domain := &core.TenantDomain{
		ID:         uuid.New(),
		TenantID:   tenant.ID,
		DomainName: domainName,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if strings.HasSuffix(domainName, "."+strings.ToLower(h.cfg.Tenancy.BaseDomain)) {
		domain.Type = core.DomainTypeSubdomain
		domain.VerificationStatus = core.VerificationVerified
		domain.VerifiedAt = &now
		// covered by the platform wildcard certificate
		domain.SSLStatus = core.SSLActive
	} else {
		domain.Type = core.DomainTypeCustom
		domain.GenerateVerificationToken()
		domain.SSLStatus = core.SSLNone
	}

	if err := h.db.CreateDomain(c.Request.Context(), domain); err != nil {
		if errors.Is(err, core.ErrConflict) {
			// lost the race against a concurrent insert of the same name
			c.JSON(http.StatusConflict, gin.H{"error": "Domain '" + domainName + "' is already in use"})
			return
		}
		h.logger.Error("failed to create domain", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add domain"})
		return
	}

	if req.SetAsPrimary {
		if err := h.db.SetPrimary(c.Request.Context(), tenant.ID, domain.ID); err != nil {
			h.logger.Error("failed to set primary domain", zap.Error(err))
		} else {
			domain.IsPrimary = true
		}
	}

	if err := h.lookup.Invalidate(c.Request.Context(), domainName); err != nil {
		h.logger.Warn("cache invalidation failed", zap.String("domain", domainName), zap.Error(err))
	}

	h.logger.Info("domain added",
		zap.String("domain", domainName),
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("type", string(domain.Type)),
	)

	c.JSON(http.StatusCreated, h.toDomainResponse(domain))
}

func (h *Handler) ListDomains(c *gin.Context) {
	tenantID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid tenant id"})
		return
	}

	domains, err := h.db.GetDomainsByTenant(c.Request.Context(), tenantID)
	if err != nil {
		h.logger.Error("failed to list domains", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list domains"})
		return
	}

	responses := make([]DomainResponse, 0, len(domains))
	for i := range domains {
		responses = append(responses, *h.toDomainResponse(&domains[i]))
	}

	c.JSON(http.StatusOK, gin.H{
		"domains": responses,
		"count":   len(responses),
	})
}

func (h *Handler) GetDomain(c *gin.Context) {
	domainID, err := uuid.Parse(c.Param("domainId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid domain id"})
		return
	}

	domain, err := h.db.GetDomain(c.Request.Context(), domainID)
	if errors.Is(err, core.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Domain not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load domain", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load domain"})
		return
	}

	c.JSON(http.StatusOK, h.toDomainResponse(domain))
}

// RemoveDomain deletes a domain. A tenant always keeps at least one
// domain, and removing the primary promotes another one first.
func (h *Handler) RemoveDomain(c *gin.Context) {
	tenantID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid tenant id"})
		return
	}
	domainID, err := uuid.Parse(c.Param("domainId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid domain id"})
		return
	}

	domain, err := h.db.GetDomain(c.Request.Context(), domainID)
	if errors.Is(err, core.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Domain not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load domain", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove domain"})
		return
	}

	if domain.TenantID != tenantID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Domain does not belong to the specified tenant"})
		return
	}

	domains, err := h.db.GetDomainsByTenant(c.Request.Context(), tenantID)
	if err != nil {
		h.logger.Error("failed to list domains", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove domain"})
		return
	}
	if len(domains) <= 1 {
		c.JSON(http.StatusConflict, gin.H{"error": "Cannot remove the last domain; tenant must keep at least one"})
		return
	}

	if domain.IsPrimary {
		for i := range domains {
			if domains[i].ID != domain.ID {
				if err := h.db.SetPrimary(c.Request.Context(), tenantID, domains[i].ID); err != nil {
					h.logger.Error("failed to promote new primary domain", zap.Error(err))
				}
				break
			}
		}
	}

	if err := h.db.DeleteDomain(c.Request.Context(), domainID); err != nil {
		h.logger.Error("failed to delete domain", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove domain"})
		return
	}

	if err := h.lookup.Invalidate(c.Request.Context(), domain.DomainName); err != nil {
		h.logger.Warn("cache invalidation failed", zap.String("domain", domain.DomainName), zap.Error(err))
	}

	h.logger.Info("domain removed", zap.String("domain", domain.DomainName))
	c.Status(http.StatusNoContent)
}

// VerifyDomain runs the ownership check immediately instead of waiting
// for the next loop cycle.
func (h *Handler) VerifyDomain(c *gin.Context) {
	domainID, err := uuid.Parse(c.Param("domainId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid domain id"})
		return
	}

	domain, err := h.db.GetDomain(c.Request.Context(), domainID)
	if errors.Is(err, core.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Domain not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load domain", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to verify domain"})
		return
	}

	if domain.VerificationStatus == core.VerificationVerified {
		c.JSON(http.StatusOK, gin.H{
			"verified": true,
			"status":   domain.VerificationStatus,
			"message":  "Domain is already verified",
		})
		return
	}

	if domain.TokenExpired() {
		domain.GenerateVerificationToken()
		if err := h.db.UpdateDomain(c.Request.Context(), domain); err != nil {
			h.logger.Error("failed to regenerate token", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to verify domain"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"verified":         false,
			"status":           domain.VerificationStatus,
			"message":          "Verification token expired; a new token has been generated, please update your DNS record",
			"dns_instructions": h.dnsInstructions(domain),
		})
		return
	}

	if domain.VerificationToken == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Domain has no active verification token"})
		return
	}

	result, err := h.dns.Verify(c.Request.Context(), domain.DomainName, *domain.VerificationToken)
	if err != nil {
		h.logger.Warn("dns check failed", zap.String("domain", domain.DomainName), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "DNS lookup failed, try again later"})
		return
	}

	if !result.Verified {
		domain.MarkVerificationFailed()
		if err := h.db.UpdateDomain(c.Request.Context(), domain); err != nil {
			h.logger.Error("failed to persist verification attempt", zap.Error(err))
		}

		c.JSON(http.StatusOK, gin.H{
			"verified": false,
			"status":   domain.VerificationStatus,
			"message":  result.FailureReason,
		})
		return
	}

	domain.MarkVerified()
	domain.SSLStatus = core.SSLProvisioning
	if err := h.db.UpdateDomain(c.Request.Context(), domain); err != nil {
		h.logger.Error("failed to persist verified domain", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to verify domain"})
		return
	}

	if err := h.lookup.Invalidate(c.Request.Context(), domain.DomainName); err != nil {
		h.logger.Warn("cache invalidation failed", zap.String("domain", domain.DomainName), zap.Error(err))
	}

	h.logger.Info("domain verified", zap.String("domain", domain.DomainName))
	c.JSON(http.StatusOK, gin.H{
		"verified": true,
		"status":   domain.VerificationStatus,
		"message":  "Domain verified successfully; SSL certificate is being provisioned",
	})
}

// SetPrimaryDomain marks a verified domain as the tenant's primary one.
func (h *Handler) SetPrimaryDomain(c *gin.Context) {
	tenantID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid tenant id"})
		return
	}
	domainID, err := uuid.Parse(c.Param("domainId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid domain id"})
		return
	}

	domain, err := h.db.GetDomain(c.Request.Context(), domainID)
	if errors.Is(err, core.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Domain not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load domain", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to set primary domain"})
		return
	}

	if domain.TenantID != tenantID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Domain does not belong to the specified tenant"})
		return
	}

	if domain.VerificationStatus != core.VerificationVerified {
		c.JSON(http.StatusConflict, gin.H{"error": "Only verified domains can be set as primary"})
		return
	}

	if err := h.db.SetPrimary(c.Request.Context(), tenantID, domainID); err != nil {
		h.logger.Error("failed to set primary domain", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to set primary domain"})
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) toDomainResponse(domain *core.TenantDomain) *DomainResponse {
	resp := &DomainResponse{TenantDomain: *domain}

	// DNS instructions only make sense for unverified custom domains
	if domain.Type == core.DomainTypeCustom &&
		domain.VerificationStatus != core.VerificationVerified &&
		domain.VerificationToken != nil {
		resp.DNSInstructions = h.dnsInstructions(domain)
	}

	return resp
}

func (h *Handler) dnsInstructions(domain *core.TenantDomain) *DNSInstructions {
	if domain.VerificationToken == nil {
		return nil
	}

	return &DNSInstructions{
		RecordType:      "TXT",
		RecordName:      h.cfg.Verifier.RecordPrefix + "." + domain.DomainName,
		RecordValue:     *domain.VerificationToken,
		CNAMERecordName: domain.DomainName,
		CNAMETarget:     h.cfg.Tenancy.ProxyHost,
		TokenExpiresAt:  domain.VerificationExpiresAt,
	}
}
