// internal/resolver/resolver.go
//
// Request → (tenant, org) resolution middleware.
//
// Context
// -------
// Every incoming request is mapped to an acting (tenant, org) pair, given
// a schema-scoped database from the connection manager, and run under a
// tenant context binding.  Resolution strategies, first match wins:
//
//   1. Custom domain:   the Host header is a verified tenant domain.
//   2. Subdomain:       `<tenant-slug>.<base_domain>` (case-insensitive),
//      paired with the tenant's default org.
//   3. JWT claim:       optional; only when a token decoder is supplied.
//   4. Explicit header: X-Tenant-Slug (+ optional X-Org-Slug), used by
//      internal tooling.
//
// No match surfaces ErrUnknownTenant as a 404 and the handler never runs.
// Cancellation of the request context propagates to everything under the
// binding, because the binding rides the same context.
//
// Notes
// -----
// • The middleware is chi-compatible (func(http.Handler) http.Handler)
//   but depends only on net/http.
// • Oxford commas, two spaces after periods.
package resolver

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yanizio/fabric/internal/registry"
	"github.com/yanizio/fabric/internal/tenant"
	"github.com/yanizio/fabric/internal/tenantctx"
	"github.com/yanizio/fabric/internal/tenantdb"
)

// ErrUnknownTenant is surfaced when no strategy identifies a tenant.
var ErrUnknownTenant = errors.New("resolver: unknown tenant")

// Directory is the slice of the registry the resolver reads.
type Directory interface {
	GetTenantByDomain(ctx context.Context, domain string) (*registry.TenantOrg, error)
	GetTenantBySlug(ctx context.Context, slug string) (*registry.Tenant, error)
	GetDefaultOrg(ctx context.Context, tenantID uuid.UUID) (*registry.Org, error)
	GetOrgBySlug(ctx context.Context, tenantID uuid.UUID, slug string) (*registry.Org, error)
}

// Connections is the slice of the connection manager the resolver uses.
type Connections interface {
	GetConnection(ctx context.Context, ten *registry.Tenant, org *registry.Org, opts ...tenant.GetOption) (*tenantdb.Database, error)
}

// TokenDecoder extracts an explicit tenant/org claim from a bearer token.
// Supplied by the auth layer; nil disables the JWT strategy.
type TokenDecoder interface {
	DecodeTenantClaim(r *http.Request) (tenantSlug, orgSlug string, ok bool)
}

// Resolver attaches tenant context to requests.
type Resolver struct {
	dir        Directory
	conns      Connections
	baseDomain string
	tokens     TokenDecoder
	log        *zap.SugaredLogger
}

// New builds a Resolver.  baseDomain may be empty (disables subdomain
// resolution); tokens may be nil (disables the JWT strategy).
func New(dir Directory, conns Connections, baseDomain string, tokens TokenDecoder) *Resolver {
	return &Resolver{
		dir:        dir,
		conns:      conns,
		baseDomain: strings.ToLower(strings.TrimSpace(baseDomain)),
		tokens:     tokens,
		log:        zap.S(),
	}
}

// Middleware resolves the acting pair and runs next under the binding.
func (rv *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pair, err := rv.resolve(r)
		if err != nil {
			if errors.Is(err, ErrUnknownTenant) {
				http.Error(w, "unknown tenant", http.StatusNotFound)
				return
			}
			rv.log.Errorw("tenant resolution failed", "host", r.Host, "err", err)
			http.Error(w, "tenant resolution failed", http.StatusInternalServerError)
			return
		}

		db, err := rv.conns.GetConnection(r.Context(), &pair.Tenant, &pair.Org)
		if err != nil {
			rv.log.Errorw("connection init failed",
				"tenant", pair.Tenant.Slug, "org", pair.Org.Slug, "err", err)
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}

		tc := tenantctx.New(&pair.Tenant, &pair.Org, db)
		next.ServeHTTP(w, r.WithContext(tenantctx.With(r.Context(), tc)))
	})
}

// resolve walks the strategy chain.
func (rv *Resolver) resolve(r *http.Request) (*registry.TenantOrg, error) {
	ctx := r.Context()
	host := strings.ToLower(stripPort(r.Host))

	// 1. Custom verified domain.
	if host != "" {
		pair, err := rv.dir.GetTenantByDomain(ctx, host)
		if err == nil {
			return pair, nil
		}
		if !errors.Is(err, registry.ErrNotFound) {
			return nil, err
		}
	}

	// 2. Subdomain under the configured base domain.
	if rv.baseDomain != "" {
		if slug, ok := subdomainSlug(host, rv.baseDomain); ok {
			pair, err := rv.pairBySlugs(ctx, slug, "")
			if err == nil {
				return pair, nil
			}
			if !errors.Is(err, registry.ErrNotFound) {
				return nil, err
			}
		}
	}

	// 3. Authenticated JWT claim.
	if rv.tokens != nil {
		if tslug, oslug, ok := rv.tokens.DecodeTenantClaim(r); ok {
			pair, err := rv.pairBySlugs(ctx, tslug, oslug)
			if err == nil {
				return pair, nil
			}
			if !errors.Is(err, registry.ErrNotFound) {
				return nil, err
			}
		}
	}

	// 4. Explicit headers (internal tooling).
	if tslug := r.Header.Get("X-Tenant-Slug"); tslug != "" {
		pair, err := rv.pairBySlugs(ctx, tslug, r.Header.Get("X-Org-Slug"))
		if err == nil {
			return pair, nil
		}
		if !errors.Is(err, registry.ErrNotFound) {
			return nil, err
		}
	}

	return nil, ErrUnknownTenant
}

// pairBySlugs loads a tenant by slug and either the named org or the
// tenant's default org.
func (rv *Resolver) pairBySlugs(ctx context.Context, tenantSlug, orgSlug string) (*registry.TenantOrg, error) {
	ten, err := rv.dir.GetTenantBySlug(ctx, tenantSlug)
	if err != nil {
		return nil, err
	}

	var org *registry.Org
	if orgSlug != "" {
		org, err = rv.dir.GetOrgBySlug(ctx, ten.ID, orgSlug)
	} else {
		org, err = rv.dir.GetDefaultOrg(ctx, ten.ID)
	}
	if err != nil {
		return nil, err
	}
	return &registry.TenantOrg{Tenant: *ten, Org: *org}, nil
}

// subdomainSlug extracts `<slug>` from `<slug>.<base>`.  Nested labels
// (a.b.<base>) do not match; neither does the bare base domain.
func subdomainSlug(host, base string) (string, bool) {
	if !strings.HasSuffix(host, "."+base) {
		return "", false
	}
	slug := strings.TrimSuffix(host, "."+base)
	if slug == "" || strings.Contains(slug, ".") {
		return "", false
	}
	return slug, true
}

// stripPort removes any ":port" suffix from the Host header.
func stripPort(h string) string {
	if i := strings.IndexByte(h, ':'); i != -1 {
		return h[:i]
	}
	return h
}
