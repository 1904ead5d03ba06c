// internal/devmigrate/devmigrate.go
//
// Best-effort schema sync at development startup.
//
// Context
// -------
// In development the schema should follow the code without a deliberate
// CLI run, so startup walks every active tenant-org and invokes
// catalog-sync with force_sync on and post-sync hooks enabled.  Nothing
// here may break startup: every failure, from listing tenants down to a
// single org's sync, is logged and swallowed.
//
// Gates, all required:
//
//   - The environment is development.
//   - Not a serverless preview deployment.
//   - Multi-tenant mode is enabled.
//   - The skip flag is unset.
//
// Notes
// -----
// • Orgs are processed sequentially; dev fleets are small, and sequential
//   output is easier to read in a startup log.
// • Oxford commas, two spaces after periods.
package devmigrate

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yanizio/fabric/internal/config"
	"github.com/yanizio/fabric/internal/registry"
	"github.com/yanizio/fabric/internal/secrets"
	"github.com/yanizio/fabric/internal/tenantdb"
)

// Registry is the slice of the control-plane client the auto-migrator
// reads.
type Registry interface {
	ListAllActiveTenants(ctx context.Context) ([]registry.Tenant, error)
	ListAllActiveOrgs(ctx context.Context, tenantID uuid.UUID) ([]registry.Org, error)
	GetTenantDatabaseConfig(ctx context.Context, tenantID uuid.UUID) (*registry.DatabaseConfig, error)
}

// Migrator syncs every active org's schema at startup.
type Migrator struct {
	reg        Registry
	decrypt    secrets.Decryptor
	newHandle  tenantdb.HandleFunc
	newCatalog tenantdb.CatalogFunc
	log        *zap.SugaredLogger
}

// New builds a Migrator from the same factories the connection manager
// uses.
func New(reg Registry, decrypt secrets.Decryptor, newHandle tenantdb.HandleFunc, newCatalog tenantdb.CatalogFunc) *Migrator {
	return &Migrator{
		reg:        reg,
		decrypt:    decrypt,
		newHandle:  newHandle,
		newCatalog: newCatalog,
		log:        zap.S(),
	}
}

// ShouldRun evaluates the gates against the loaded configuration.
func ShouldRun(cfg *config.Config) bool {
	return cfg.Runtime.IsDevelopment() &&
		!cfg.Runtime.ServerlessPreview &&
		cfg.MultiTenant.Enabled &&
		!cfg.Migration.SkipDevMigrations
}

// Run syncs every active tenant-org, recording per-org success or
// failure.  It never returns an error; startup continues regardless.
func (m *Migrator) Run(ctx context.Context) {
	tenants, err := m.reg.ListAllActiveTenants(ctx)
	if err != nil {
		m.log.Warnw("dev auto-migration: list tenants", "err", err)
		return
	}

	var ok, failed int
	for i := range tenants {
		ten := &tenants[i]

		cfg, err := m.reg.GetTenantDatabaseConfig(ctx, ten.ID)
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				m.log.Warnw("dev auto-migration: tenant has no database config", "tenant", ten.Slug)
			} else {
				m.log.Warnw("dev auto-migration: database config", "tenant", ten.Slug, "err", err)
			}
			continue
		}

		orgs, err := m.reg.ListAllActiveOrgs(ctx, ten.ID)
		if err != nil {
			m.log.Warnw("dev auto-migration: list orgs", "tenant", ten.Slug, "err", err)
			continue
		}

		for _, org := range orgs {
			if err := m.syncOrg(ctx, ten, cfg, org); err != nil {
				m.log.Warnw("dev auto-migration failed",
					"tenant", ten.Slug, "org", org.Slug, "err", err)
				failed++
				continue
			}
			ok++
		}
	}
	m.log.Infow("dev auto-migration complete", "succeeded", ok, "failed", failed)
}

// syncOrg opens one handle, runs catalog-sync with post-sync hooks
// enabled, and always closes the handle.
func (m *Migrator) syncOrg(ctx context.Context, ten *registry.Tenant, cfg *registry.DatabaseConfig, org registry.Org) error {
	password, err := m.decrypt(cfg.EncryptedPassword)
	if err != nil {
		return err
	}

	h, err := m.newHandle(ctx, cfg, password, org.SchemaName)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := h.Close(); cerr != nil {
			m.log.Warnw("dev auto-migration: close handle",
				"tenant", ten.Slug, "org", org.Slug, "err", cerr)
		}
	}()

	_, err = m.newCatalog(ctx, h, tenantdb.CatalogOptions{ForceSync: true, SkipPostSync: false})
	return err
}
