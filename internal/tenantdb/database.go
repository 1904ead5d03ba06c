// internal/tenantdb/database.go
//
// Application-level Database aggregate and the catalog-sync factory.
//
// Context
// -------
// A Handle is raw plumbing; a Database is what request handlers receive:
// the handle plus whatever DAO layer the application realizes on top of
// it.  The fabric does not define the DAO catalog itself; it consumes a
// CatalogFunc that reconciles the application's model catalog against the
// handle's schema (possibly emitting DDL) and returns the finished
// aggregate.
//
// Notes
// -----
// • ForceSync is propagated verbatim from the connection manager's
//   force_sync option.
// • SkipPostSync suppresses post-sync hooks that rely on ambient runtime
//   state not configured during CLI execution.
package tenantdb

import "context"

// Database is the schema-scoped bundle handed to application code.
type Database struct {
	Handle *Handle

	// TenantSlug and OrgSlug identify the owner for diagnostics.
	TenantSlug string
	OrgSlug    string
}

// Close releases the underlying handle.
func (d *Database) Close() error { return d.Handle.Close() }

// CatalogOptions tunes a catalog-sync invocation.
type CatalogOptions struct {
	ForceSync    bool
	SkipPostSync bool
}

// CatalogFunc realizes the application DAO layer on a handle, syncing the
// model catalog against the live schema when asked.
type CatalogFunc func(ctx context.Context, h *Handle, opts CatalogOptions) (*Database, error)
