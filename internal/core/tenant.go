package core

import (
	"time"

	"github.com/google/uuid"
)

type TenantStatus string

const (
	TenantActive    TenantStatus = "active"
	TenantInactive  TenantStatus = "inactive"
	TenantSuspended TenantStatus = "suspended"
)

// tenantNamespace is the fixed UUIDv5 namespace for slug-derived tenant IDs.
var tenantNamespace = uuid.MustParse("8f1e9d4a-52c3-4b7e-9a06-3d2f60c1b5aa")

type Tenant struct {
	ID     uuid.UUID    `json:"id" db:"id"`
	Slug   string       `json:"slug" db:"slug"`
	Name   string       `json:"name" db:"name"`
	Status TenantStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

func (t *Tenant) IsActive() bool {
	return t.Status == TenantActive
}

// DeriveTenantID maps a slug to its tenant ID without any lookup.
// Tenant provisioning uses the same derivation, so requests arriving on
// <slug>.<base domain> resolve with zero I/O.
func DeriveTenantID(slug string) uuid.UUID {
	return uuid.NewSHA1(tenantNamespace, []byte(slug))
}

// TenantInfo is the resolved identity attached to a request.
type TenantInfo struct {
	TenantID uuid.UUID    `json:"tenant_id"`
	Slug     string       `json:"slug"`
	Status   TenantStatus `json:"status"`
}
