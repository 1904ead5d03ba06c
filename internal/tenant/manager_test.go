// internal/tenant/manager_test.go
//
// Cache behavior tests for the connection manager: hit path, LRU
// pressure, single-flight, TTL safety, failure isolation, and force-sync.
// Handles are backed by sqlmock so Close is real.
//
// Run: go test ./internal/tenant -v

package tenant

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/yanizio/fabric/internal/registry"
	"github.com/yanizio/fabric/internal/secrets"
	"github.com/yanizio/fabric/internal/tenantdb"
)

// fakeSource serves the same provider row for every tenant.
type fakeSource struct {
	err   error
	calls int32
}

func (s *fakeSource) GetTenantDatabaseConfig(ctx context.Context, tenantID uuid.UUID) (*registry.DatabaseConfig, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.err != nil {
		return nil, s.err
	}
	return &registry.DatabaseConfig{
		Host: "db.internal", Port: 5432, Name: "app",
		Username: "app_rw", EncryptedPassword: "plain-password",
		PoolMax: 2,
	}, nil
}

// harness bundles the fakes one test needs.
type harness struct {
	source       *fakeSource
	handleCalls  int32
	catalogCalls int32
	lastOpts     tenantdb.CatalogOptions

	// gate, when non-nil, blocks every handle build until released.
	gate chan struct{}

	// handleErr, when set, fails the next handle build exactly once.
	handleErr atomic.Pointer[error]

	mu sync.Mutex
}

func newHarness() *harness { return &harness{source: &fakeSource{}} }

func (h *harness) newHandle(ctx context.Context, cfg *registry.DatabaseConfig, password, schemaName string) (*tenantdb.Handle, error) {
	if h.gate != nil {
		<-h.gate
	}
	if perr := h.handleErr.Swap(nil); perr != nil {
		return nil, *perr
	}
	atomic.AddInt32(&h.handleCalls, 1)

	db, _, err := sqlmock.New()
	if err != nil {
		return nil, err
	}
	return &tenantdb.Handle{DB: sqlx.NewDb(db, "pgx"), SchemaName: schemaName}, nil
}

func (h *harness) newCatalog(ctx context.Context, handle *tenantdb.Handle, opts tenantdb.CatalogOptions) (*tenantdb.Database, error) {
	atomic.AddInt32(&h.catalogCalls, 1)
	h.mu.Lock()
	h.lastOpts = opts
	h.mu.Unlock()
	return &tenantdb.Database{Handle: handle}, nil
}

func (h *harness) manager(opts Options) *Manager {
	return New(h.source, secrets.Passthrough, h.newHandle, h.newCatalog, opts)
}

func pairFor(tenSlug, orgSlug, schema string) (*registry.Tenant, *registry.Org) {
	ten := &registry.Tenant{ID: uuid.New(), Slug: tenSlug, Status: registry.TenantActive}
	org := &registry.Org{ID: uuid.New(), TenantID: ten.ID, Slug: orgSlug, SchemaName: schema}
	return ten, org
}

func TestGetConnectionCachesHandle(t *testing.T) {
	h := newHarness()
	m := h.manager(Options{})
	defer m.CloseAll()

	ten, org := pairFor("t1", "o1", "org_alpha")
	ctx := context.Background()

	first, err := m.GetConnection(ctx, ten, org)
	if err != nil {
		t.Fatalf("first GetConnection: %v", err)
	}
	second, err := m.GetConnection(ctx, ten, org)
	if err != nil {
		t.Fatalf("second GetConnection: %v", err)
	}

	if first != second {
		t.Fatalf("expected the same cached handle")
	}
	if n := atomic.LoadInt32(&h.handleCalls); n != 1 {
		t.Fatalf("handle factory ran %d times, want 1", n)
	}
	if m.CacheSize() != 1 {
		t.Fatalf("cache size = %d, want 1", m.CacheSize())
	}
}

func TestConcurrentCallersShareOneInit(t *testing.T) {
	h := newHarness()
	h.gate = make(chan struct{})
	m := h.manager(Options{})
	defer m.CloseAll()

	ten, org := pairFor("t1", "o1", "org_alpha")

	const callers = 6
	results := make(chan *tenantdb.Database, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			db, err := m.GetConnection(context.Background(), ten, org)
			if err != nil {
				t.Errorf("GetConnection: %v", err)
				return
			}
			results <- db
		}()
	}

	// Let every caller reach the flight, then release the factory.
	time.Sleep(50 * time.Millisecond)
	close(h.gate)
	wg.Wait()
	close(results)

	var first *tenantdb.Database
	for db := range results {
		if first == nil {
			first = db
		} else if db != first {
			t.Fatalf("callers received different handles")
		}
	}
	if n := atomic.LoadInt32(&h.handleCalls); n != 1 {
		t.Fatalf("handle factory ran %d times, want 1", n)
	}
	if n := atomic.LoadInt32(&h.catalogCalls); n != 1 {
		t.Fatalf("catalog sync ran %d times, want 1", n)
	}
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	h := newHarness()
	m := h.manager(Options{MaxEntries: 3})
	defer m.CloseAll()

	ctx := context.Background()
	ten, _ := pairFor("t1", "", "")
	orgs := make([]*registry.Org, 4)
	for i, slug := range []string{"o1", "o2", "o3", "o4"} {
		orgs[i] = &registry.Org{ID: uuid.New(), TenantID: ten.ID, Slug: slug, SchemaName: "org_" + slug}
	}

	for _, org := range orgs[:3] {
		if _, err := m.GetConnection(ctx, ten, org); err != nil {
			t.Fatalf("seed %s: %v", org.Slug, err)
		}
		time.Sleep(time.Millisecond)
	}

	// Touch o1 so o2 becomes the oldest.
	if _, err := m.GetConnection(ctx, ten, orgs[0]); err != nil {
		t.Fatalf("touch o1: %v", err)
	}
	time.Sleep(time.Millisecond)

	if _, err := m.GetConnection(ctx, ten, orgs[3]); err != nil {
		t.Fatalf("create o4: %v", err)
	}
	if m.CacheSize() != 3 {
		t.Fatalf("cache size = %d, want 3", m.CacheSize())
	}

	// o2 must have been the victim: a fresh access re-runs the factory.
	before := atomic.LoadInt32(&h.handleCalls)
	if _, err := m.GetConnection(ctx, ten, orgs[1]); err != nil {
		t.Fatalf("re-access o2: %v", err)
	}
	if after := atomic.LoadInt32(&h.handleCalls); after != before+1 {
		t.Fatalf("expected a fresh init for o2 (calls %d -> %d)", before, after)
	}

	// o1 and o3 must still be cached.
	before = atomic.LoadInt32(&h.handleCalls)
	for _, org := range []*registry.Org{orgs[0], orgs[2]} {
		if _, err := m.GetConnection(ctx, ten, org); err != nil {
			t.Fatalf("hit %s: %v", org.Slug, err)
		}
	}
	if after := atomic.LoadInt32(&h.handleCalls); after != before {
		t.Fatalf("survivors were evicted (calls %d -> %d)", before, after)
	}
}

func TestFailedInitRemovesPlaceholder(t *testing.T) {
	h := newHarness()
	m := h.manager(Options{})
	defer m.CloseAll()

	boom := errors.New("connect refused")
	h.handleErr.Store(&boom)

	ten, org := pairFor("t1", "o1", "org_alpha")
	ctx := context.Background()

	if _, err := m.GetConnection(ctx, ten, org); !errors.Is(err, boom) {
		t.Fatalf("want init failure, got %v", err)
	}
	if m.CacheSize() != 0 {
		t.Fatalf("placeholder survived a failed init (size %d)", m.CacheSize())
	}

	// Next call retries from scratch and succeeds.
	if _, err := m.GetConnection(ctx, ten, org); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if m.CacheSize() != 1 {
		t.Fatalf("cache size = %d, want 1", m.CacheSize())
	}
}

func TestForceSyncEvictsAndResyncs(t *testing.T) {
	h := newHarness()
	m := h.manager(Options{})
	defer m.CloseAll()

	ten, org := pairFor("t1", "o1", "org_alpha")
	ctx := context.Background()

	first, err := m.GetConnection(ctx, ten, org)
	if err != nil {
		t.Fatalf("initial GetConnection: %v", err)
	}
	h.mu.Lock()
	if h.lastOpts.ForceSync {
		h.mu.Unlock()
		t.Fatalf("initial sync should not be forced")
	}
	h.mu.Unlock()

	second, err := m.GetConnection(ctx, ten, org, WithForceSync())
	if err != nil {
		t.Fatalf("forced GetConnection: %v", err)
	}
	if first == second {
		t.Fatalf("forced refresh returned the stale handle")
	}
	h.mu.Lock()
	forced := h.lastOpts.ForceSync
	h.mu.Unlock()
	if !forced {
		t.Fatalf("force_sync was not propagated to catalog sync")
	}
	if n := atomic.LoadInt32(&h.catalogCalls); n != 2 {
		t.Fatalf("catalog sync ran %d times, want 2", n)
	}
	if m.CacheSize() != 1 {
		t.Fatalf("cache size = %d, want 1", m.CacheSize())
	}
}

// TTL eviction must never touch an entry whose init is still in flight,
// no matter how stale the sweep considers it.
func TestEvictExpiredSkipsPendingInit(t *testing.T) {
	h := newHarness()
	h.gate = make(chan struct{})
	m := h.manager(Options{IdleTTL: time.Nanosecond})
	defer m.CloseAll()

	ten, org := pairFor("t1", "o1", "org_alpha")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := m.GetConnection(context.Background(), ten, org); err != nil {
			t.Errorf("GetConnection: %v", err)
		}
	}()

	// Wait for the placeholder, then sweep.
	for m.CacheSize() == 0 {
		time.Sleep(time.Millisecond)
	}
	m.EvictExpired()
	if m.CacheSize() != 1 {
		t.Fatalf("TTL sweep removed an in-flight entry")
	}

	close(h.gate)
	<-done
}

func TestEvictExpiredRemovesIdleEntries(t *testing.T) {
	h := newHarness()
	m := h.manager(Options{IdleTTL: time.Nanosecond})
	defer m.CloseAll()

	ten, org := pairFor("t1", "o1", "org_alpha")
	if _, err := m.GetConnection(context.Background(), ten, org); err != nil {
		t.Fatalf("GetConnection: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	m.EvictExpired()
	if m.CacheSize() != 0 {
		t.Fatalf("idle entry survived the sweep (size %d)", m.CacheSize())
	}
}

func TestCapacityBound(t *testing.T) {
	h := newHarness()
	m := h.manager(Options{MaxEntries: 2})
	defer m.CloseAll()

	ctx := context.Background()
	ten, _ := pairFor("t1", "", "")
	for _, slug := range []string{"o1", "o2", "o3", "o4", "o5"} {
		org := &registry.Org{ID: uuid.New(), TenantID: ten.ID, Slug: slug, SchemaName: "org_" + slug}
		if _, err := m.GetConnection(ctx, ten, org); err != nil {
			t.Fatalf("create %s: %v", slug, err)
		}
		if size := m.CacheSize(); size > 2 {
			t.Fatalf("cache size %d exceeds capacity 2", size)
		}
	}
}

func TestNoDatabaseConfig(t *testing.T) {
	h := newHarness()
	h.source.err = registry.ErrNotFound
	m := h.manager(Options{})
	defer m.CloseAll()

	ten, org := pairFor("t1", "o1", "org_alpha")
	_, err := m.GetConnection(context.Background(), ten, org)
	if !errors.Is(err, ErrNoDatabaseConfig) {
		t.Fatalf("want ErrNoDatabaseConfig, got %v", err)
	}
	if m.CacheSize() != 0 {
		t.Fatalf("failed init left an entry behind")
	}
}
