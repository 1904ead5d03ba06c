// internal/tenant/manager.go
//
// Per-(tenant, org) connection manager.
//
// Context
// -------
// The Manager is a bounded, concurrency-safe cache of schema-scoped
// database handles keyed by (tenant id, org id).  A cache hit touches the
// entry's lastUsed stamp and returns immediately; a miss runs the create
// pipeline exactly once per key, with concurrent callers parked on the
// same in-flight initialization.
//
// Create pipeline (cache miss)
// ----------------------------
//  1. Evict one LRU victim if the cache is at capacity.
//  2. Insert a placeholder entry whose only meaningful field is the
//     init flight; concurrent callers for the same key join it.
//  3. Fetch provider credentials from the registry (ErrNoDatabaseConfig
//     when the tenant has no provider row).
//  4. Decrypt the password via the injected Decryptor.
//  5. Build the schema-bound handle via the injected HandleFunc.
//  6. Realize the DAO layer via the injected CatalogFunc, propagating
//     force_sync verbatim.
//  7. Replace the placeholder with a ready entry, stamping lastUsed.
//
// A failed init removes the placeholder so the next call retries from
// scratch.  Close errors anywhere in the eviction paths are logged and
// swallowed, never propagated.
//
// Notes
// -----
// • Factories are values, not type parameters, so tests inject fakes that
//   record calls, and the migrators share the exact same construction
//   path (identical search_path semantics).
// • Oxford commas, two spaces after periods.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yanizio/fabric/internal/metrics"
	"github.com/yanizio/fabric/internal/registry"
	"github.com/yanizio/fabric/internal/secrets"
	"github.com/yanizio/fabric/internal/tenantdb"
)

// Static defaults.  Override via Options.
const (
	DefaultMaxEntries    = 100
	DefaultIdleTTL       = 30 * time.Minute
	DefaultEvictInterval = 5 * time.Minute
)

// ErrNoDatabaseConfig is returned when the registry holds no provider row
// for the tenant.  Terminal for the call; nothing is cached.
var ErrNoDatabaseConfig = errors.New("tenant: no database config")

// ConfigSource is the slice of the registry the manager depends on.
type ConfigSource interface {
	GetTenantDatabaseConfig(ctx context.Context, tenantID uuid.UUID) (*registry.DatabaseConfig, error)
}

// Key identifies one cached connection.
type Key struct {
	TenantID uuid.UUID
	OrgID    uuid.UUID
}

// initFlight is the shared future all concurrent callers of one key await.
type initFlight struct {
	done chan struct{}
	db   *tenantdb.Database
	err  error
}

// entry is one cache slot.  While flight is non-nil the entry is a
// placeholder: db is logically absent and lastUsed is meaningless.
type entry struct {
	db         *tenantdb.Database
	schemaName string
	tenantSlug string
	orgSlug    string
	lastUsed   int64 // UnixNano; guarded by Manager.mu
	flight     *initFlight
}

// Options tunes the cache.  Zero values fall back to the defaults above;
// EvictInterval <= 0 disables the background evictor.
type Options struct {
	MaxEntries    int
	IdleTTL       time.Duration
	EvictInterval time.Duration
}

// Manager caches one Database per (tenant, org).
type Manager struct {
	reg        ConfigSource
	decrypt    secrets.Decryptor
	newHandle  tenantdb.HandleFunc
	newCatalog tenantdb.CatalogFunc

	mu      sync.Mutex
	entries map[Key]*entry

	maxEntries int
	idleTTL    time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	log      *zap.SugaredLogger
}

// New constructs a Manager and, when opts.EvictInterval > 0, starts the
// background evictor.
func New(reg ConfigSource, decrypt secrets.Decryptor, newHandle tenantdb.HandleFunc, newCatalog tenantdb.CatalogFunc, opts Options) *Manager {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = DefaultIdleTTL
	}

	m := &Manager{
		reg:        reg,
		decrypt:    decrypt,
		newHandle:  newHandle,
		newCatalog: newCatalog,
		entries:    make(map[Key]*entry),
		maxEntries: opts.MaxEntries,
		idleTTL:    opts.IdleTTL,
		stop:       make(chan struct{}),
		log:        zap.S(),
	}

	if opts.EvictInterval > 0 {
		go m.evictLoop(opts.EvictInterval)
	}
	return m
}

//
// GetConnection
//

type getOptions struct {
	forceSync bool
}

// GetOption tunes one GetConnection call.
type GetOption func(*getOptions)

// WithForceSync evicts any cached entry first so the create pipeline is
// guaranteed to run the catalog-sync step.
func WithForceSync() GetOption {
	return func(o *getOptions) { o.forceSync = true }
}

// GetConnection returns the schema-scoped Database for (tenant, org),
// creating and caching it on first use.
func (m *Manager) GetConnection(ctx context.Context, ten *registry.Tenant, org *registry.Org, opts ...GetOption) (*tenantdb.Database, error) {
	var o getOptions
	for _, fn := range opts {
		fn(&o)
	}

	key := Key{TenantID: ten.ID, OrgID: org.ID}

	for {
		m.mu.Lock()
		ent, ok := m.entries[key]

		if ok && o.forceSync {
			// Forced refresh: drop the entry (awaiting any in-flight init)
			// and fall through to the miss path.
			delete(m.entries, key)
			m.mu.Unlock()
			m.closeEntry(ent)
			metrics.ConnectionEvictTotal.Inc()
			continue
		}

		if ok {
			if fl := ent.flight; fl != nil {
				m.mu.Unlock()
				select {
				case <-fl.done:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				if fl.err != nil {
					return nil, fl.err
				}
				m.touch(key)
				return fl.db, nil
			}

			ent.lastUsed = time.Now().UnixNano()
			db := ent.db
			m.mu.Unlock()
			return db, nil
		}

		// Miss: make room, then insert the placeholder.
		if len(m.entries) >= m.maxEntries {
			m.evictLRULocked()
		}
		fl := &initFlight{done: make(chan struct{})}
		m.entries[key] = &entry{
			flight:     fl,
			schemaName: org.SchemaName,
			tenantSlug: ten.Slug,
			orgSlug:    org.Slug,
		}
		m.mu.Unlock()

		db, err := m.initialize(ctx, ten, org, o.forceSync)

		m.mu.Lock()
		cur, present := m.entries[key]
		owned := present && cur.flight == fl
		if err != nil {
			if owned {
				delete(m.entries, key)
			}
			m.mu.Unlock()
			fl.err = err
			close(fl.done)
			metrics.ConnectionLoadErrorsTotal.Inc()
			return nil, err
		}
		if owned {
			cur.db = db
			cur.flight = nil
			cur.lastUsed = time.Now().UnixNano()
		}
		m.mu.Unlock()

		fl.db = db
		close(fl.done)
		metrics.ConnectionLoadTotal.Inc()
		metrics.ActiveConnections.Set(float64(m.CacheSize()))
		return db, nil
	}
}

// initialize runs steps 3–6 of the create pipeline.
func (m *Manager) initialize(ctx context.Context, ten *registry.Tenant, org *registry.Org, forceSync bool) (*tenantdb.Database, error) {
	cfg, err := m.reg.GetTenantDatabaseConfig(ctx, ten.ID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, fmt.Errorf("%w: tenant %q", ErrNoDatabaseConfig, ten.Slug)
		}
		return nil, err
	}

	password, err := m.decrypt(cfg.EncryptedPassword)
	if err != nil {
		return nil, fmt.Errorf("tenant: decrypt password for %q: %w", ten.Slug, err)
	}

	h, err := m.newHandle(ctx, cfg, password, org.SchemaName)
	if err != nil {
		return nil, fmt.Errorf("tenant: open handle %s/%s: %w", ten.Slug, org.Slug, err)
	}

	db, err := m.newCatalog(ctx, h, tenantdb.CatalogOptions{ForceSync: forceSync})
	if err != nil {
		if cerr := h.Close(); cerr != nil {
			m.log.Warnw("close handle after failed catalog sync", "tenant", ten.Slug, "org", org.Slug, "err", cerr)
		}
		return nil, fmt.Errorf("tenant: catalog sync %s/%s: %w", ten.Slug, org.Slug, err)
	}

	if db.TenantSlug == "" {
		db.TenantSlug = ten.Slug
	}
	if db.OrgSlug == "" {
		db.OrgSlug = org.Slug
	}
	return db, nil
}

// touch refreshes lastUsed for a ready entry.
func (m *Manager) touch(key Key) {
	m.mu.Lock()
	if ent, ok := m.entries[key]; ok && ent.flight == nil {
		ent.lastUsed = time.Now().UnixNano()
	}
	m.mu.Unlock()
}

// CacheSize reports the number of entries, placeholders included.
func (m *Manager) CacheSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
