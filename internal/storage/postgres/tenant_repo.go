package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/storeward/tenant-edge/internal/core"
)

func (db *DB) CreateTenant(ctx context.Context, tenant *core.Tenant) error {
	query := `
        INSERT INTO tenants (id, slug, name, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := db.ExecContext(ctx, query,
		tenant.ID, tenant.Slug, tenant.Name, tenant.Status,
		tenant.CreatedAt, tenant.UpdatedAt,
	)

	if isUniqueViolation(err) {
		return core.ErrConflict
	}

	return err
}

func (db *DB) GetTenant(ctx context.Context, id uuid.UUID) (*core.Tenant, error) {
	var tenant core.Tenant
	query := `
        SELECT id, slug, name, status, created_at, updated_at
        FROM tenants
        WHERE id = $1`

	err := db.GetContext(ctx, &tenant, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &tenant, nil
}

func (db *DB) GetTenantBySlug(ctx context.Context, slug string) (*core.Tenant, error) {
	var tenant core.Tenant
	query := `
        SELECT id, slug, name, status, created_at, updated_at
        FROM tenants
        WHERE lower(slug) = lower($1)`

	err := db.GetContext(ctx, &tenant, query, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &tenant, nil
}

func (db *DB) ListTenants(ctx context.Context, status *core.TenantStatus, search string) ([]core.Tenant, error) {
	query := `
        SELECT id, slug, name, status, created_at, updated_at
        FROM tenants
        WHERE ($1::text IS NULL OR status = $1)
        AND ($2 = '' OR lower(name) LIKE '%' || lower($2) || '%' OR lower(slug) LIKE '%' || lower($2) || '%')
        ORDER BY name`

	var statusArg any
	if status != nil {
		statusArg = string(*status)
	}

	tenants := []core.Tenant{}
	if err := db.SelectContext(ctx, &tenants, query, statusArg, search); err != nil {
		return nil, err
	}

	return tenants, nil
}

func (db *DB) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM tenants WHERE lower(slug) = lower($1))`
	err := db.GetContext(ctx, &exists, query, slug)
	return exists, err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
