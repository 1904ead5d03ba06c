// internal/migrate/engine.go
//
// Canary-first fleet migration.
//
// Context
// -------
// The engine walks every active (tenant, org) pair and drives the
// catalog-sync step against each org's schema, in one of three modes:
//
//   - Live:       applies changes, canary first, fail-fast on the rest.
//   - Check-only: opens and closes each handle; no DDL is issued.
//   - Dry-run:    single canary, inside one transaction that is rolled
//     back unconditionally; reports the real before/after delta.
//
// The canary pair gates the fleet: it is migrated first, and the
// remaining orgs run, in their original listing order, only if it
// succeeds.  Handles are built through the same factories the connection
// manager uses, so search_path semantics are identical; migration never
// touches the connection cache.
//
// Tenants without a provider row are counted as skipped, with zero orgs
// attempted.  Close errors are logged and swallowed.
//
// Notes
// -----
// • Canary slugs are validated (both or neither) before any database
//   connection is opened.
// • Oxford commas, two spaces after periods.
package migrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yanizio/fabric/internal/metrics"
	"github.com/yanizio/fabric/internal/registry"
	"github.com/yanizio/fabric/internal/secrets"
	"github.com/yanizio/fabric/internal/tenantdb"
)

// ErrCanaryArgsMismatch reports a half-specified canary pair.  Raised
// before any connection is opened.
var ErrCanaryArgsMismatch = errors.New("migrate: canary tenant and org slugs must be supplied together")

// ErrCanaryNotFound reports a configured canary pair that matches no
// active tenant-org row.  Terminal for the invocation.
var ErrCanaryNotFound = errors.New("migrate: canary pair not found among active tenants")

// Registry is the slice of the control-plane client the engine reads.
type Registry interface {
	ListAllActiveTenants(ctx context.Context) ([]registry.Tenant, error)
	ListAllActiveOrgs(ctx context.Context, tenantID uuid.UUID) ([]registry.Org, error)
	GetTenantDatabaseConfig(ctx context.Context, tenantID uuid.UUID) (*registry.DatabaseConfig, error)
}

// OrgOutcome records one org's migration attempt.
type OrgOutcome struct {
	TenantSlug     string
	OrgSlug        string
	SchemaName     string
	ChangesApplied bool
	ChangeCount    int
	Statements     []string
	Err            error
}

// FleetResult aggregates a live or check-only run.  SkippedTenants counts
// tenants without a provider row; their orgs are neither attempted nor
// counted.
type FleetResult struct {
	Successful     int
	Failed         int
	SkippedTenants int
	Outcomes       []OrgOutcome
}

// DryRunResult carries the canary's pending delta.
type DryRunResult struct {
	TenantSlug string
	OrgSlug    string
	SchemaName string
	Changes    []Change
}

// HasChanges reports whether the schema would change.
func (r *DryRunResult) HasChanges() bool { return len(r.Changes) > 0 }

// Options configures an Engine.  The canary slugs may both be empty, in
// which case the first org of the first active tenant is chosen.
type Options struct {
	CanaryTenantSlug string
	CanaryOrgSlug    string
}

// Engine drives fleet migration.
type Engine struct {
	reg        Registry
	decrypt    secrets.Decryptor
	newHandle  tenantdb.HandleFunc
	newCatalog tenantdb.CatalogFunc

	canaryTenant string
	canaryOrg    string
	log          *zap.SugaredLogger
}

// New builds an Engine from the same factories the connection manager
// uses.
func New(reg Registry, decrypt secrets.Decryptor, newHandle tenantdb.HandleFunc, newCatalog tenantdb.CatalogFunc, opts Options) *Engine {
	return &Engine{
		reg:          reg,
		decrypt:      decrypt,
		newHandle:    newHandle,
		newCatalog:   newCatalog,
		canaryTenant: opts.CanaryTenantSlug,
		canaryOrg:    opts.CanaryOrgSlug,
		log:          zap.S(),
	}
}

// pair is one migratable (tenant, org) with its provider credentials.
type pair struct {
	tenant *registry.Tenant
	cfg    *registry.DatabaseConfig
	org    registry.Org
}

// validateCanaryArgs enforces both-or-neither on the canary slugs.
func (e *Engine) validateCanaryArgs() error {
	if (e.canaryTenant == "") != (e.canaryOrg == "") {
		return ErrCanaryArgsMismatch
	}
	return nil
}

// collectPairs lists the fleet: active tenants in creation order, each
// tenant's active orgs in listing order.  Tenants without a provider row
// are skipped and counted.
func (e *Engine) collectPairs(ctx context.Context) ([]pair, int, error) {
	tenants, err := e.reg.ListAllActiveTenants(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("migrate: list tenants: %w", err)
	}

	var (
		pairs   []pair
		skipped int
	)
	for i := range tenants {
		ten := &tenants[i]

		cfg, err := e.reg.GetTenantDatabaseConfig(ctx, ten.ID)
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				e.log.Warnw("tenant has no database config; skipping", "tenant", ten.Slug)
				skipped++
				continue
			}
			return nil, 0, fmt.Errorf("migrate: database config for %q: %w", ten.Slug, err)
		}

		orgs, err := e.reg.ListAllActiveOrgs(ctx, ten.ID)
		if err != nil {
			return nil, 0, fmt.Errorf("migrate: list orgs for %q: %w", ten.Slug, err)
		}
		for _, org := range orgs {
			pairs = append(pairs, pair{tenant: ten, cfg: cfg, org: org})
		}
	}
	return pairs, skipped, nil
}

// orderCanaryFirst moves the canary pair to the front, preserving the
// original order of the rest.  With no configured canary the first pair
// already is the canary.
func (e *Engine) orderCanaryFirst(pairs []pair) ([]pair, error) {
	if e.canaryTenant == "" {
		return pairs, nil
	}
	for i, p := range pairs {
		if p.tenant.Slug == e.canaryTenant && p.org.Slug == e.canaryOrg {
			ordered := make([]pair, 0, len(pairs))
			ordered = append(ordered, p)
			ordered = append(ordered, pairs[:i]...)
			ordered = append(ordered, pairs[i+1:]...)
			return ordered, nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrCanaryNotFound, e.canaryTenant, e.canaryOrg)
}

// Run executes a live fleet migration: canary first, then the remaining
// orgs in order, halting on the first failure.
func (e *Engine) Run(ctx context.Context) (*FleetResult, error) {
	return e.walk(ctx, e.migrateOrg)
}

// CheckOnly verifies every (tenant, org) handle is usable.  No DDL is
// issued; the walk shares the live mode's ordering and fail-fast rule.
func (e *Engine) CheckOnly(ctx context.Context) (*FleetResult, error) {
	return e.walk(ctx, e.checkOrg)
}

// walk is the shared fleet loop.
func (e *Engine) walk(ctx context.Context, visit func(context.Context, pair) OrgOutcome) (*FleetResult, error) {
	if err := e.validateCanaryArgs(); err != nil {
		return nil, err
	}

	pairs, skipped, err := e.collectPairs(ctx)
	if err != nil {
		return nil, err
	}
	pairs, err = e.orderCanaryFirst(pairs)
	if err != nil {
		return nil, err
	}

	res := &FleetResult{SkippedTenants: skipped}
	for _, p := range pairs {
		out := visit(ctx, p)
		res.Outcomes = append(res.Outcomes, out)
		if out.Err != nil {
			res.Failed++
			return res, fmt.Errorf("migrate: %s/%s: %w", out.TenantSlug, out.OrgSlug, out.Err)
		}
		res.Successful++
	}
	return res, nil
}

// migrateOrg runs the live per-org pipeline: fresh handle, before
// snapshot, catalog-sync with post-sync hooks suppressed, after snapshot,
// diff.
func (e *Engine) migrateOrg(ctx context.Context, p pair) OrgOutcome {
	out := OrgOutcome{
		TenantSlug: p.tenant.Slug,
		OrgSlug:    p.org.Slug,
		SchemaName: p.org.SchemaName,
	}

	h, err := e.openHandle(ctx, p)
	if err != nil {
		out.Err = err
		return out
	}
	defer e.closeHandle(h, p)

	ddl := NewDDLLog()
	h.StatementLog = ddl.Observe

	before, err := Capture(ctx, h.DB)
	if err != nil {
		out.Err = err
		return out
	}

	if _, err := e.newCatalog(ctx, h, tenantdb.CatalogOptions{ForceSync: true, SkipPostSync: true}); err != nil {
		out.Err = fmt.Errorf("catalog sync: %w", err)
		return out
	}

	after, err := Capture(ctx, h.DB)
	if err != nil {
		out.Err = err
		return out
	}

	changes := Diff(before, after)
	out.ChangesApplied = len(changes) > 0
	out.ChangeCount = len(changes)
	out.Statements = ddl.Statements()
	if out.ChangesApplied {
		metrics.MigrationsAppliedTotal.Add(float64(out.ChangeCount))
		e.log.Infow("schema changed", "tenant", out.TenantSlug, "org", out.OrgSlug, "changes", out.ChangeCount)
	}
	return out
}

// checkOrg opens and closes a handle, nothing more.
func (e *Engine) checkOrg(ctx context.Context, p pair) OrgOutcome {
	out := OrgOutcome{
		TenantSlug: p.tenant.Slug,
		OrgSlug:    p.org.Slug,
		SchemaName: p.org.SchemaName,
	}

	h, err := e.openHandle(ctx, p)
	if err != nil {
		out.Err = err
		return out
	}
	e.closeHandle(h, p)
	return out
}

// DryRun migrates the canary inside a single transaction and rolls it
// back unconditionally, reporting the delta that live mode would apply.
func (e *Engine) DryRun(ctx context.Context) (*DryRunResult, error) {
	if err := e.validateCanaryArgs(); err != nil {
		return nil, err
	}

	pairs, _, err := e.collectPairs(ctx)
	if err != nil {
		return nil, err
	}
	pairs, err = e.orderCanaryFirst(pairs)
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: no active tenant-org pairs", ErrCanaryNotFound)
	}
	p := pairs[0]

	h, err := e.openHandle(ctx, p)
	if err != nil {
		return nil, err
	}
	defer e.closeHandle(h, p)

	// Pin the pool to one physical connection so every statement below,
	// including those issued by catalog-sync, shares the transaction.
	h.DB.SetMaxOpenConns(1)
	h.DB.SetMaxIdleConns(1)

	if err := h.Exec(ctx, "BEGIN"); err != nil {
		return nil, fmt.Errorf("migrate: begin dry-run transaction: %w", err)
	}
	defer func() {
		if err := h.Exec(context.WithoutCancel(ctx), "ROLLBACK"); err != nil {
			e.log.Warnw("dry-run rollback", "tenant", p.tenant.Slug, "org", p.org.Slug, "err", err)
		}
	}()

	before, err := Capture(ctx, h.DB)
	if err != nil {
		return nil, err
	}
	if _, err := e.newCatalog(ctx, h, tenantdb.CatalogOptions{ForceSync: true, SkipPostSync: true}); err != nil {
		return nil, fmt.Errorf("migrate: dry-run catalog sync: %w", err)
	}
	after, err := Capture(ctx, h.DB)
	if err != nil {
		return nil, err
	}

	return &DryRunResult{
		TenantSlug: p.tenant.Slug,
		OrgSlug:    p.org.Slug,
		SchemaName: p.org.SchemaName,
		Changes:    Diff(before, after),
	}, nil
}

// openHandle decrypts the provider password and builds a schema-bound
// handle for the pair.
func (e *Engine) openHandle(ctx context.Context, p pair) (*tenantdb.Handle, error) {
	password, err := e.decrypt(p.cfg.EncryptedPassword)
	if err != nil {
		return nil, fmt.Errorf("decrypt password: %w", err)
	}
	h, err := e.newHandle(ctx, p.cfg, password, p.org.SchemaName)
	if err != nil {
		return nil, fmt.Errorf("open handle: %w", err)
	}
	return h, nil
}

// closeHandle releases a per-org handle.  Errors are logged, never
// propagated.
func (e *Engine) closeHandle(h *tenantdb.Handle, p pair) {
	if err := h.Close(); err != nil {
		e.log.Warnw("close migration handle", "tenant", p.tenant.Slug, "org", p.org.Slug, "err", err)
	}
}
