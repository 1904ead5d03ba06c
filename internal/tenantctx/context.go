// internal/tenantctx/context.go
//
// Ambient per-request tenant context.
//
// Context
// -------
// A resolved request carries an immutable record of who is acting (tenant,
// org, the org's schema name, and the schema-scoped database) through
// every downstream call.  The record rides the standard context.Context,
// so it flows across goroutine spawns that propagate ctx and is shadowed,
// never mutated, by nested bindings: leaving an inner RunWith restores
// the outer binding exactly, and reads outside any binding yield nil.
//
// Usage
// -----
//
//	err := tenantctx.RunWith(ctx, tc, func(ctx context.Context) error {
//	    db, err := tenantctx.RequireDatabase(ctx)
//	    …
//	})
//
// Notes
// -----
// • The struct is stored by pointer but treated as read-only; nothing in
//   the fabric writes to it after creation.
// • Oxford commas, two spaces after periods.
package tenantctx

import (
	"context"
	"errors"

	"github.com/yanizio/fabric/internal/registry"
	"github.com/yanizio/fabric/internal/tenantdb"
)

// ErrNoTenantContext is returned by the Require accessors when no binding
// is in scope.  Always fatal at the call site.
var ErrNoTenantContext = errors.New("tenantctx: no tenant context bound")

// Context is the ambient record.  SchemaName always equals
// Org.SchemaName; it is duplicated so raw-SQL callers need not nil-check
// the org.
type Context struct {
	Tenant     *registry.Tenant
	Org        *registry.Org
	SchemaName string
	Database   *tenantdb.Database
}

// ctxKey is unexported to avoid context-key collisions.
type ctxKey struct{}

// New assembles a record from a resolved pair and its database.
func New(ten *registry.Tenant, org *registry.Org, db *tenantdb.Database) *Context {
	return &Context{Tenant: ten, Org: org, SchemaName: org.SchemaName, Database: db}
}

// With returns a derived context carrying tc.  Nested calls shadow.
func With(ctx context.Context, tc *Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// Get returns the bound record, or nil outside any binding.
func Get(ctx context.Context) *Context {
	tc, _ := ctx.Value(ctxKey{}).(*Context)
	return tc
}

// Require returns the bound record or ErrNoTenantContext.
func Require(ctx context.Context) (*Context, error) {
	if tc := Get(ctx); tc != nil {
		return tc, nil
	}
	return nil, ErrNoTenantContext
}

// RequireSchemaName returns the bound schema name or ErrNoTenantContext.
func RequireSchemaName(ctx context.Context) (string, error) {
	tc, err := Require(ctx)
	if err != nil {
		return "", err
	}
	return tc.SchemaName, nil
}

// RequireDatabase returns the bound database or ErrNoTenantContext.
func RequireDatabase(ctx context.Context) (*tenantdb.Database, error) {
	tc, err := Require(ctx)
	if err != nil {
		return nil, err
	}
	return tc.Database, nil
}

// RunWith binds tc for the duration of fn.  The binding is scoped to the
// derived context handed to fn; the caller's context is untouched, so the
// previous binding (or its absence) is restored on return.
func RunWith(ctx context.Context, tc *Context, fn func(ctx context.Context) error) error {
	return fn(With(ctx, tc))
}
