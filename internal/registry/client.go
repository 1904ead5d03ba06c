// internal/registry/client.go
//
// Tenant Registry client.
//
// Context
// -------
// Typed, read-mostly access to the control-plane database.  One Client is
// created per process over a single pooled handle; every method takes a
// context and no other ambient state.  Underlying database errors are
// surfaced unchanged; retry policy belongs to higher layers.
//
// Workflow
// --------
//  1. `Open` connects via the pgx stdlib driver and pings so callers fail
//     fast during bootstrap.
//  2. Read helpers run exactly one parameterised SELECT each (except the
//     domain and installation lookups, which resolve the pair in two).
//  3. Rows are scanned into the structs from model.go.
//  4. `sql.ErrNoRows` is mapped to ErrNotFound so callers can branch
//     without importing database/sql.
//
// Notes
// -----
//   • Tenant projections JOIN `tenant_domains` for the verified primary
//     domain; credential columns appear only in GetTenantDatabaseConfig.
//   • Column lists match the model structs; update both together.
//   • Oxford commas, two spaces after periods.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a lookup matches no registry row.
var ErrNotFound = errors.New("registry: not found")

// Client provides typed queries over the control-plane database.
type Client struct {
	db *sqlx.DB
}

// Open connects to the registry database and pings it.  The URL is the
// MULTI_TENANT_REGISTRY_URL connection string.
func Open(ctx context.Context, url string) (*Client, error) {
	db, err := sqlx.Open("pgx", url)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(4)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Client{db: db}, nil
}

// NewWithDB wraps an existing handle; used by tests with sqlmock.
func NewWithDB(db *sqlx.DB) *Client { return &Client{db: db} }

// Close releases the control-plane handle.
func (c *Client) Close() error { return c.db.Close() }

//
// Tenant reads
//

// tenantColumns is the credential-free projection shared by every tenant
// read path.  `d` is the verified primary domain join alias.
const tenantColumns = `
        t.id, t.slug, t.display_name, t.status, t.deployment_type,
        t.database_provider_id, t.configs, t.configs_updated_at,
        t.feature_flags, t.created_at, t.updated_at, t.provisioned_at,
        d.domain AS primary_domain`

const primaryDomainJoin = `
        LEFT JOIN tenant_domains d
               ON d.tenant_id = t.id
              AND d.is_primary = TRUE
              AND d.verified_at IS NOT NULL`

// GetTenant fetches one tenant by id, or ErrNotFound.
func (c *Client) GetTenant(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	const q = `
        SELECT` + tenantColumns + `
        FROM   tenants t` + primaryDomainJoin + `
        WHERE  t.id = $1
        LIMIT  1`
	var rec Tenant
	if err := c.db.GetContext(ctx, &rec, q, id); err != nil {
		return nil, mapNoRows(err)
	}
	return &rec, nil
}

// GetTenantBySlug fetches one tenant by its globally unique, case-exact
// slug.
func (c *Client) GetTenantBySlug(ctx context.Context, slug string) (*Tenant, error) {
	const q = `
        SELECT` + tenantColumns + `
        FROM   tenants t` + primaryDomainJoin + `
        WHERE  t.slug = $1
        LIMIT  1`
	var rec Tenant
	if err := c.db.GetContext(ctx, &rec, q, slug); err != nil {
		return nil, mapNoRows(err)
	}
	return &rec, nil
}

// GetTenantDatabaseConfig returns the provider credentials for a tenant.
// This is the only entry point that projects credential columns.
func (c *Client) GetTenantDatabaseConfig(ctx context.Context, tenantID uuid.UUID) (*DatabaseConfig, error) {
	const q = `
        SELECT p.database_host, p.database_port, p.database_name,
               p.database_username, p.database_password_encrypted,
               p.database_ssl, p.database_pool_max
        FROM   tenants t
        JOIN   database_providers p ON p.id = t.database_provider_id
        WHERE  t.id = $1
        LIMIT  1`
	var rec DatabaseConfig
	if err := c.db.GetContext(ctx, &rec, q, tenantID); err != nil {
		return nil, mapNoRows(err)
	}
	return &rec, nil
}

// GetTenantByDomain resolves a verified custom domain to its active tenant
// and that tenant's default org.  The input is lowercased before lookup.
func (c *Client) GetTenantByDomain(ctx context.Context, domain string) (*TenantOrg, error) {
	const q = `
        SELECT` + tenantColumns + `
        FROM   tenant_domains m
        JOIN   tenants t ON t.id = m.tenant_id` + primaryDomainJoin + `
        WHERE  m.domain = $1
          AND  m.verified_at IS NOT NULL
          AND  t.status = 'active'
        LIMIT  1`
	var ten Tenant
	if err := c.db.GetContext(ctx, &ten, q, strings.ToLower(domain)); err != nil {
		return nil, mapNoRows(err)
	}

	org, err := c.GetDefaultOrg(ctx, ten.ID)
	if err != nil {
		return nil, err
	}
	return &TenantOrg{Tenant: ten, Org: *org}, nil
}

// ListTenants returns the non-credential summary of every tenant.
func (c *Client) ListTenants(ctx context.Context) ([]TenantSummary, error) {
	const q = `
        SELECT t.id, t.slug, t.display_name, t.status, t.deployment_type,
               d.domain AS primary_domain, t.created_at
        FROM   tenants t` + primaryDomainJoin + `
        ORDER  BY t.created_at`
	var rows []TenantSummary
	if err := c.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, err
	}
	return rows, nil
}

// ListAllActiveTenants returns active tenants ordered by creation
// ascending.  The migrators iterate this listing.
func (c *Client) ListAllActiveTenants(ctx context.Context) ([]Tenant, error) {
	const q = `
        SELECT` + tenantColumns + `
        FROM   tenants t` + primaryDomainJoin + `
        WHERE  t.status = 'active'
        ORDER  BY t.created_at`
	var rows []Tenant
	if err := c.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, err
	}
	return rows, nil
}

// ListTenantsWithDefaultOrg resolves every active tenant together with its
// default org in a single query, avoiding an N+1 in the tenant switcher.
func (c *Client) ListTenantsWithDefaultOrg(ctx context.Context) ([]TenantWithDefaultOrg, error) {
	const q = `
        SELECT t.id, t.slug, t.display_name,
               d.domain AS primary_domain,
               o.id     AS default_org_id
        FROM   tenants t` + primaryDomainJoin + `
        LEFT JOIN orgs o
               ON o.tenant_id = t.id
              AND o.is_default = TRUE
        WHERE  t.status = 'active'
        ORDER  BY t.created_at`
	var rows []TenantWithDefaultOrg
	if err := c.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, err
	}
	return rows, nil
}

//
// Org reads
//

const orgColumns = `
        id, tenant_id, slug, display_name, schema_name, status, is_default,
        created_at, updated_at`

// GetOrg fetches one org by id.
func (c *Client) GetOrg(ctx context.Context, id uuid.UUID) (*Org, error) {
	const q = `
        SELECT` + orgColumns + `
        FROM   orgs
        WHERE  id = $1
        LIMIT  1`
	var rec Org
	if err := c.db.GetContext(ctx, &rec, q, id); err != nil {
		return nil, mapNoRows(err)
	}
	return &rec, nil
}

// GetOrgBySlug fetches one org by its within-tenant slug.
func (c *Client) GetOrgBySlug(ctx context.Context, tenantID uuid.UUID, slug string) (*Org, error) {
	const q = `
        SELECT` + orgColumns + `
        FROM   orgs
        WHERE  tenant_id = $1
          AND  slug = $2
        LIMIT  1`
	var rec Org
	if err := c.db.GetContext(ctx, &rec, q, tenantID, slug); err != nil {
		return nil, mapNoRows(err)
	}
	return &rec, nil
}

// GetDefaultOrg fetches the tenant's unique default org.
func (c *Client) GetDefaultOrg(ctx context.Context, tenantID uuid.UUID) (*Org, error) {
	const q = `
        SELECT` + orgColumns + `
        FROM   orgs
        WHERE  tenant_id = $1
          AND  is_default = TRUE
        LIMIT  1`
	var rec Org
	if err := c.db.GetContext(ctx, &rec, q, tenantID); err != nil {
		return nil, mapNoRows(err)
	}
	return &rec, nil
}

// ListOrgs returns every org of a tenant.
func (c *Client) ListOrgs(ctx context.Context, tenantID uuid.UUID) ([]Org, error) {
	const q = `
        SELECT` + orgColumns + `
        FROM   orgs
        WHERE  tenant_id = $1
        ORDER  BY created_at`
	var rows []Org
	if err := c.db.SelectContext(ctx, &rows, q, tenantID); err != nil {
		return nil, err
	}
	return rows, nil
}

// ListAllActiveOrgs returns the tenant's active orgs in creation order.
func (c *Client) ListAllActiveOrgs(ctx context.Context, tenantID uuid.UUID) ([]Org, error) {
	const q = `
        SELECT` + orgColumns + `
        FROM   orgs
        WHERE  tenant_id = $1
          AND  status = 'active'
        ORDER  BY created_at`
	var rows []Org
	if err := c.db.SelectContext(ctx, &rows, q, tenantID); err != nil {
		return nil, err
	}
	return rows, nil
}

//
// helpers
//

func mapNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
