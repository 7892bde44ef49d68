package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/storeward/tenant-edge/internal/api/handlers"
	"github.com/storeward/tenant-edge/internal/api/middleware"
	"github.com/storeward/tenant-edge/internal/config"
	"github.com/storeward/tenant-edge/internal/lookup"
	"github.com/storeward/tenant-edge/internal/metrics"
	"github.com/storeward/tenant-edge/internal/storage/postgres"
	"github.com/storeward/tenant-edge/internal/verifier"
)

type Server struct {
	Config *config.Config
	Router *gin.Engine
	DB     *postgres.DB
	Lookup *lookup.Service
	Logger *zap.Logger
}

func NewServer(cfg *config.Config, db *postgres.DB, lookupSvc *lookup.Service, dns verifier.DNSVerifier, collector *metrics.Collector, logger *zap.Logger) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.TenantResolution(lookupSvc, collector, logger, middleware.TenantOptions{
		BaseDomain:         cfg.Tenancy.BaseDomain,
		TrustIngressHeader: cfg.Tenancy.TrustIngressHeader,
		BypassPathPrefixes: cfg.Tenancy.BypassPathPrefixes,
	}))

	server := &Server{
		Config: cfg,
		Router: router,
		DB:     db,
		Lookup: lookupSvc,
		Logger: logger,
	}

	server.setupRoutes(dns, collector)
	return server
}

func (s *Server) setupRoutes(dns verifier.DNSVerifier, collector *metrics.Collector) {
	handler := handlers.NewHandler(s.DB, s.Lookup, dns, s.Config, s.Logger)

	// Operational endpoints, bypassed by the resolution middleware
	s.Router.GET("/health", handler.Health)
	s.Router.GET("/ready", handler.Ready)
	s.Router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Resolved-identity echo for downstream services and debugging
	s.Router.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"tenant_id":   c.GetString("tenant_id"),
			"tenant_slug": c.GetString("tenant_slug"),
		})
	})

	// Tenancy administration (internal-only ingress)
	admin := s.Router.Group("/api/v1/admin")
	admin.Use(middleware.AdminAuth(s.Config.Auth.JWTSecret))
	{
		admin.POST("/tenants", handler.CreateTenant)
		admin.GET("/tenants", handler.ListTenants)
		admin.GET("/tenants/:id", handler.GetTenant)

		admin.POST("/tenants/:id/domains", handler.AddDomain)
		admin.GET("/tenants/:id/domains", handler.ListDomains)
		admin.GET("/tenants/:id/domains/:domainId", handler.GetDomain)
		admin.DELETE("/tenants/:id/domains/:domainId", handler.RemoveDomain)
		admin.POST("/tenants/:id/domains/:domainId/verify", handler.VerifyDomain)
		admin.POST("/tenants/:id/domains/:domainId/primary", handler.SetPrimaryDomain)
	}
}
