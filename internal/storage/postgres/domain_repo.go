package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/storeward/tenant-edge/internal/core"
)

const domainColumns = `
        id, tenant_id, domain_name, type, is_primary,
        verification_status, verification_token, verification_expires_at,
        verification_attempts, last_verification_check, verified_at,
        ssl_status, version, created_at, updated_at`

// ResolveTenantID is the canonical domain lookup. Only verified domains
// resolve; everything else is treated as unknown.
func (db *DB) ResolveTenantID(ctx context.Context, domainName string) (uuid.UUID, error) {
	var tenantID uuid.UUID
	query := `
        SELECT tenant_id FROM tenant_domains
        WHERE domain_name = $1 AND verification_status = $2`

	err := db.GetContext(ctx, &tenantID, query,
		core.NormalizeDomainName(domainName), core.VerificationVerified)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, core.ErrNotFound
	}
	if err != nil {
		return uuid.Nil, err
	}

	return tenantID, nil
}

func (db *DB) GetDomain(ctx context.Context, id uuid.UUID) (*core.TenantDomain, error) {
	var domain core.TenantDomain
	query := `SELECT` + domainColumns + ` FROM tenant_domains WHERE id = $1`

	err := db.GetContext(ctx, &domain, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &domain, nil
}

func (db *DB) GetDomainByName(ctx context.Context, domainName string) (*core.TenantDomain, error) {
	var domain core.TenantDomain
	query := `SELECT` + domainColumns + ` FROM tenant_domains WHERE domain_name = $1`

	err := db.GetContext(ctx, &domain, query, core.NormalizeDomainName(domainName))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &domain, nil
}

func (db *DB) GetDomainsByTenant(ctx context.Context, tenantID uuid.UUID) ([]core.TenantDomain, error) {
	query := `SELECT` + domainColumns + `
        FROM tenant_domains
        WHERE tenant_id = $1
        ORDER BY is_primary DESC, domain_name`

	domains := []core.TenantDomain{}
	if err := db.SelectContext(ctx, &domains, query, tenantID); err != nil {
		return nil, err
	}

	return domains, nil
}

// GetPendingVerification returns custom domains awaiting verification
// whose token has not expired yet.
func (db *DB) GetPendingVerification(ctx context.Context) ([]core.TenantDomain, error) {
	query := `SELECT` + domainColumns + `
        FROM tenant_domains
        WHERE verification_status = $1
        AND type = $2
        AND (verification_expires_at IS NULL OR verification_expires_at > NOW())
        ORDER BY created_at`

	domains := []core.TenantDomain{}
	err := db.SelectContext(ctx, &domains, query,
		core.VerificationPending, core.DomainTypeCustom)
	if err != nil {
		return nil, err
	}

	return domains, nil
}

func (db *DB) CreateDomain(ctx context.Context, domain *core.TenantDomain) error {
	domain.DomainName = core.NormalizeDomainName(domain.DomainName)

	query := `
        INSERT INTO tenant_domains (
            id, tenant_id, domain_name, type, is_primary,
            verification_status, verification_token, verification_expires_at,
            verification_attempts, last_verification_check, verified_at,
            ssl_status, version, created_at, updated_at
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
        )`

	_, err := db.ExecContext(ctx, query,
		domain.ID, domain.TenantID, domain.DomainName, domain.Type, domain.IsPrimary,
		domain.VerificationStatus, domain.VerificationToken, domain.VerificationExpiresAt,
		domain.VerificationAttempts, domain.LastVerificationCheck, domain.VerifiedAt,
		domain.SSLStatus, domain.Version, domain.CreatedAt, domain.UpdatedAt,
	)

	// A duplicate insert racing past the DomainExists pre-check must
	// surface as a conflict, not a generic failure.
	if isUniqueViolation(err) {
		return core.ErrConflict
	}

	return err
}

// UpdateDomain persists domain state under optimistic concurrency: the row
// is only written if its version matches the one the caller read. A lost
// race surfaces as core.ErrVersionConflict.
func (db *DB) UpdateDomain(ctx context.Context, domain *core.TenantDomain) error {
	query := `
        UPDATE tenant_domains SET
            is_primary = $1,
            verification_status = $2,
            verification_token = $3,
            verification_expires_at = $4,
            verification_attempts = $5,
            last_verification_check = $6,
            verified_at = $7,
            ssl_status = $8,
            version = version + 1,
            updated_at = NOW()
        WHERE id = $9 AND version = $10`

	res, err := db.ExecContext(ctx, query,
		domain.IsPrimary, domain.VerificationStatus,
		domain.VerificationToken, domain.VerificationExpiresAt,
		domain.VerificationAttempts, domain.LastVerificationCheck, domain.VerifiedAt,
		domain.SSLStatus, domain.ID, domain.Version,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return core.ErrVersionConflict
	}

	domain.Version++
	return nil
}

func (db *DB) DeleteDomain(ctx context.Context, id uuid.UUID) error {
	res, err := db.ExecContext(ctx, `DELETE FROM tenant_domains WHERE id = $1`, id)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return core.ErrNotFound
	}

	return nil
}

func (db *DB) DomainExists(ctx context.Context, domainName string, excludeID *uuid.UUID) (bool, error) {
	var exists bool
	query := `
        SELECT EXISTS(
            SELECT 1 FROM tenant_domains
            WHERE domain_name = $1 AND ($2::uuid IS NULL OR id != $2)
        )`

	err := db.GetContext(ctx, &exists, query, core.NormalizeDomainName(domainName), excludeID)
	return exists, err
}

// SetPrimary atomically makes the given domain the tenant's primary one,
// unsetting any previous primary in the same transaction.
func (db *DB) SetPrimary(ctx context.Context, tenantID, domainID uuid.UUID) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
        UPDATE tenant_domains
        SET is_primary = false, version = version + 1, updated_at = NOW()
        WHERE tenant_id = $1 AND is_primary = true`, tenantID)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `
        UPDATE tenant_domains
        SET is_primary = true, version = version + 1, updated_at = NOW()
        WHERE id = $1 AND tenant_id = $2`, domainID, tenantID)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return core.ErrNotFound
	}

	return tx.Commit()
}
