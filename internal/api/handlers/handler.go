package handlers

import (
	"go.uber.org/zap"

	"github.com/storeward/tenant-edge/internal/config"
	"github.com/storeward/tenant-edge/internal/lookup"
	"github.com/storeward/tenant-edge/internal/storage/postgres"
	"github.com/storeward/tenant-edge/internal/verifier"
)

type Handler struct {
	db     *postgres.DB
	lookup *lookup.Service
	dns    verifier.DNSVerifier
	cfg    *config.Config
	logger *zap.Logger
}

func NewHandler(db *postgres.DB, lookupSvc *lookup.Service, dns verifier.DNSVerifier, cfg *config.Config, logger *zap.Logger) *Handler {
	return &Handler{
		db:     db,
		lookup: lookupSvc,
		dns:    dns,
		cfg:    cfg,
		logger: logger,
	}
}
