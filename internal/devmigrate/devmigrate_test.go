// internal/devmigrate/devmigrate_test.go

package devmigrate

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/yanizio/fabric/internal/config"
	"github.com/yanizio/fabric/internal/registry"
	"github.com/yanizio/fabric/internal/secrets"
	"github.com/yanizio/fabric/internal/tenantdb"
)

func devConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Runtime.Environment = "development"
	cfg.MultiTenant.Enabled = true
	return cfg
}

func TestShouldRunGates(t *testing.T) {
	if !ShouldRun(devConfig()) {
		t.Fatalf("all gates open, yet ShouldRun = false")
	}

	prod := devConfig()
	prod.Runtime.Environment = "production"
	if ShouldRun(prod) {
		t.Fatalf("ran in production")
	}

	preview := devConfig()
	preview.Runtime.ServerlessPreview = true
	if ShouldRun(preview) {
		t.Fatalf("ran in a serverless preview")
	}

	disabled := devConfig()
	disabled.MultiTenant.Enabled = false
	if ShouldRun(disabled) {
		t.Fatalf("ran with multi-tenant disabled")
	}

	skipped := devConfig()
	skipped.Migration.SkipDevMigrations = true
	if ShouldRun(skipped) {
		t.Fatalf("ran despite the skip flag")
	}
}

type staticRegistry struct {
	tenants []registry.Tenant
	orgs    map[uuid.UUID][]registry.Org
	cfgs    map[uuid.UUID]*registry.DatabaseConfig
}

func (s *staticRegistry) ListAllActiveTenants(ctx context.Context) ([]registry.Tenant, error) {
	return s.tenants, nil
}

func (s *staticRegistry) ListAllActiveOrgs(ctx context.Context, tenantID uuid.UUID) ([]registry.Org, error) {
	return s.orgs[tenantID], nil
}

func (s *staticRegistry) GetTenantDatabaseConfig(ctx context.Context, tenantID uuid.UUID) (*registry.DatabaseConfig, error) {
	cfg, ok := s.cfgs[tenantID]
	if !ok {
		return nil, registry.ErrNotFound
	}
	return cfg, nil
}

// One org's sync fails; the run continues to the next org and never
// surfaces an error.
func TestRunSwallowsPerOrgFailures(t *testing.T) {
	t1, t2 := uuid.New(), uuid.New()
	reg := &staticRegistry{
		tenants: []registry.Tenant{
			{ID: t1, Slug: "t1", Status: registry.TenantActive},
			{ID: t2, Slug: "t2", Status: registry.TenantActive},
		},
		orgs: map[uuid.UUID][]registry.Org{
			t1: {{ID: uuid.New(), TenantID: t1, Slug: "o1", SchemaName: "org_o1"}},
			t2: {{ID: uuid.New(), TenantID: t2, Slug: "o2", SchemaName: "org_o2"}},
		},
		cfgs: map[uuid.UUID]*registry.DatabaseConfig{
			t1: {Host: "db", Port: 5432, Name: "app", Username: "rw"},
			t2: {Host: "db", Port: 5432, Name: "app", Username: "rw"},
		},
	}

	var opened int
	newHandle := func(ctx context.Context, cfg *registry.DatabaseConfig, password, schemaName string) (*tenantdb.Handle, error) {
		db, mock, err := sqlmock.New()
		if err != nil {
			return nil, err
		}
		mock.ExpectClose()
		opened++
		h := &tenantdb.Handle{DB: sqlx.NewDb(db, "pgx"), SchemaName: schemaName}
		return h, nil
	}

	var synced []string
	newCatalog := func(ctx context.Context, h *tenantdb.Handle, opts tenantdb.CatalogOptions) (*tenantdb.Database, error) {
		synced = append(synced, h.SchemaName)
		if !opts.ForceSync || opts.SkipPostSync {
			t.Errorf("dev sync must force sync and keep post-sync hooks: %+v", opts)
		}
		if h.SchemaName == "org_o1" {
			return nil, errors.New("sync exploded")
		}
		return &tenantdb.Database{Handle: h}, nil
	}

	m := New(reg, secrets.Passthrough, newHandle, newCatalog)
	m.Run(context.Background())

	if len(synced) != 2 {
		t.Fatalf("synced %v, want both orgs despite the first failure", synced)
	}
	if opened != 2 {
		t.Fatalf("opened %d handles, want 2", opened)
	}
}
