// internal/catalog/catalog.go
//
// Application model catalog and its schema-sync step.
//
// Context
// -------
// The fabric's connection manager and migrators consume a CatalogFunc;
// this package supplies the default implementation.  Application packages
// register their models at init time (blank imports from the binaries),
// and Sync reconciles each registered model against the handle's schema.
//
// A Model's EnsureSQL statements must be idempotent (CREATE TABLE IF NOT
// EXISTS, ALTER ... ADD COLUMN IF NOT EXISTS); they receive the
// schema-qualified table name so they stay correct even on pooled
// connections whose search_path was reset.
//
// Notes
// -----
// • Registration order is preserved; models sync in the order their
//   packages registered them.
// • PostSync hooks may touch ambient runtime state (seed rows, caches),
//   so CLI execution suppresses them via CatalogOptions.SkipPostSync.
package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/yanizio/fabric/internal/tenantdb"
)

// Model is one application table under catalog management.  EnsureSQL
// statements contain a single %s verb that receives the schema-qualified,
// quoted table name.
type Model struct {
	Table     string
	EnsureSQL []string
	PostSync  func(ctx context.Context, h *tenantdb.Handle) error
}

var (
	mu     sync.Mutex
	models []Model
)

// Register adds a model to the catalog.  Called from package init.
func Register(m Model) {
	mu.Lock()
	defer mu.Unlock()
	models = append(models, m)
}

// registered snapshots the catalog.
func registered() []Model {
	mu.Lock()
	defer mu.Unlock()
	out := make([]Model, len(models))
	copy(out, models)
	return out
}

// Sync is the default CatalogFunc.  With ForceSync set it executes every
// model's EnsureSQL against the handle's schema; otherwise it only wraps
// the handle.  PostSync hooks run after a forced sync unless suppressed.
func Sync(ctx context.Context, h *tenantdb.Handle, opts tenantdb.CatalogOptions) (*tenantdb.Database, error) {
	if !opts.ForceSync {
		return &tenantdb.Database{Handle: h}, nil
	}

	synced := registered()
	for _, m := range synced {
		table := h.Table(m.Table)
		for _, stmt := range m.EnsureSQL {
			if err := h.Exec(ctx, fmt.Sprintf(stmt, table)); err != nil {
				return nil, fmt.Errorf("catalog: sync %s: %w", m.Table, err)
			}
		}
	}

	if !opts.SkipPostSync {
		for _, m := range synced {
			if m.PostSync == nil {
				continue
			}
			if err := m.PostSync(ctx, h); err != nil {
				return nil, fmt.Errorf("catalog: post-sync %s: %w", m.Table, err)
			}
		}
	}
	return &tenantdb.Database{Handle: h}, nil
}
