// internal/registry/mappings.go
//
// GitHub installation mapping operations.
//
// Context
// -------
// An installation mapping binds an external GitHub App installation id to
// a (tenant, org) pair.  Re-installing the app on the same account issues
// a fresh installation id, so both write variants first delete stale rows
// for the same account login under a different id, inside the same
// transaction as the write itself.
//
// Variants
// --------
//   • CreateInstallationMapping: upsert; replaces on id conflict.
//   • EnsureInstallationMapping: gap-fill; inserts only when the id is
//     absent, and reports whether a row was created.
//
// Notes
// -----
// • Lookup returns active tenant/org rows only.
// • Oxford commas, two spaces after periods.
package registry

import (
	"context"

	"github.com/google/uuid"
)

// GetTenantOrgByInstallationID resolves an installation id to its active
// (tenant, org) pair, or ErrNotFound.
func (c *Client) GetTenantOrgByInstallationID(ctx context.Context, installationID int64) (*TenantOrg, error) {
	const q = `
        SELECT m.tenant_id, m.org_id
        FROM   github_installation_mappings m
        JOIN   tenants t ON t.id = m.tenant_id AND t.status = 'active'
        JOIN   orgs    o ON o.id = m.org_id    AND o.status = 'active'
        WHERE  m.installation_id = $1
        LIMIT  1`
	var row struct {
		TenantID uuid.UUID `db:"tenant_id"`
		OrgID    uuid.UUID `db:"org_id"`
	}
	if err := c.db.GetContext(ctx, &row, q, installationID); err != nil {
		return nil, mapNoRows(err)
	}

	ten, err := c.GetTenant(ctx, row.TenantID)
	if err != nil {
		return nil, err
	}
	org, err := c.GetOrg(ctx, row.OrgID)
	if err != nil {
		return nil, err
	}
	return &TenantOrg{Tenant: *ten, Org: *org}, nil
}

// deleteStaleMappings reclaims orphaned rows left by re-installs: same
// account login, different installation id.
const deleteStaleMappings = `
        DELETE FROM github_installation_mappings
        WHERE  github_account_login = $1
          AND  installation_id <> $2`

// CreateInstallationMapping upserts a mapping.  An existing row with the
// same installation id is overwritten.
func (c *Client) CreateInstallationMapping(ctx context.Context, p InstallationMappingParams) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, deleteStaleMappings, p.GithubAccountLogin, p.InstallationID); err != nil {
		return err
	}

	const upsert = `
        INSERT INTO github_installation_mappings
               (installation_id, tenant_id, org_id,
                github_account_login, github_account_type)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (installation_id) DO UPDATE
           SET tenant_id            = EXCLUDED.tenant_id,
               org_id               = EXCLUDED.org_id,
               github_account_login = EXCLUDED.github_account_login,
               github_account_type  = EXCLUDED.github_account_type,
               updated_at           = now()`
	if _, err := tx.ExecContext(ctx, upsert,
		p.InstallationID, p.TenantID, p.OrgID,
		p.GithubAccountLogin, p.GithubAccountType); err != nil {
		return err
	}

	return tx.Commit()
}

// EnsureInstallationMapping inserts a mapping only when the installation
// id is absent.  Returns true when a row was created.
func (c *Client) EnsureInstallationMapping(ctx context.Context, p InstallationMappingParams) (bool, error) {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, deleteStaleMappings, p.GithubAccountLogin, p.InstallationID); err != nil {
		return false, err
	}

	const insert = `
        INSERT INTO github_installation_mappings
               (installation_id, tenant_id, org_id,
                github_account_login, github_account_type)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (installation_id) DO NOTHING`
	res, err := tx.ExecContext(ctx, insert,
		p.InstallationID, p.TenantID, p.OrgID,
		p.GithubAccountLogin, p.GithubAccountType)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return affected == 1, nil
}

// DeleteInstallationMapping removes one mapping by installation id.  A
// missing row is not an error.
func (c *Client) DeleteInstallationMapping(ctx context.Context, installationID int64) error {
	const q = `
        DELETE FROM github_installation_mappings
        WHERE  installation_id = $1`
	_, err := c.db.ExecContext(ctx, q, installationID)
	return err
}
