// internal/tenant/evict.go
//
// Eviction paths for the connection manager.
//
// Context
// -------
// Three things remove entries from the cache:
//
//   - LRU pressure:   at capacity, the ready entry with the smallest
//     lastUsed is dropped to make room for a new key.
//   - Idle TTL:       EvictExpired removes ready entries whose lastUsed
//     is older than the TTL.  In-flight entries are NEVER TTL-evicted,
//     regardless of how long their init has been pending.
//   - Explicit calls: EvictConnection, force_sync, and CloseAll.
//
// Handles are closed in the background; close errors are logged and
// swallowed.  Only force_sync and EvictConnection may retire an entry
// that is still initializing, and both first await the in-flight init.
//
// Notes
// -----
// • Oxford commas, two spaces after periods.
package tenant

import (
	"time"

	"github.com/google/uuid"

	"github.com/yanizio/fabric/internal/metrics"
	"github.com/yanizio/fabric/internal/tenantdb"
)

// EvictConnection removes the entry for (tenantID, orgID).  An in-flight
// init is awaited before its handle is closed.  Missing keys are a no-op.
func (m *Manager) EvictConnection(tenantID, orgID uuid.UUID) {
	key := Key{TenantID: tenantID, OrgID: orgID}

	m.mu.Lock()
	ent, ok := m.entries[key]
	if ok {
		delete(m.entries, key)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	m.closeEntry(ent)
	metrics.ConnectionEvictTotal.Inc()
	metrics.ActiveConnections.Set(float64(m.CacheSize()))
}

// EvictExpired removes ready entries idle longer than the TTL.  Entries
// still in their init phase are skipped unconditionally.
func (m *Manager) EvictExpired() {
	now := time.Now().UnixNano()
	var victims []*entry

	m.mu.Lock()
	for key, ent := range m.entries {
		if ent.flight != nil {
			continue
		}
		idle := time.Duration(now - ent.lastUsed)
		if idle > m.idleTTL {
			delete(m.entries, key)
			victims = append(victims, ent)
			m.log.Infow("connection evicted after idle",
				"tenant", ent.tenantSlug, "org", ent.orgSlug,
				"idle", idle.Truncate(time.Second))
		}
	}
	m.mu.Unlock()

	for _, ent := range victims {
		m.closeAsync(ent.db)
		metrics.ConnectionEvictTotal.Inc()
	}
	metrics.ActiveConnections.Set(float64(m.CacheSize()))
}

// CloseAll drains the cache and closes every handle, awaiting in-flight
// inits first.  Per-entry close errors are tolerated.  The background
// evictor, when running, is stopped.
func (m *Manager) CloseAll() {
	m.stopOnce.Do(func() { close(m.stop) })

	m.mu.Lock()
	drained := m.entries
	m.entries = make(map[Key]*entry)
	m.mu.Unlock()

	for key, ent := range drained {
		db := ent.db
		if fl := ent.flight; fl != nil {
			<-fl.done
			db = fl.db
		}
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil {
			m.log.Warnw("close connection", "tenant", key.TenantID, "org", key.OrgID, "err", err)
		}
	}
	metrics.ActiveConnections.Set(0)
}

// evictLRULocked drops the ready entry with the smallest lastUsed.  Called
// with m.mu held.  Entries mid-init are not eligible; when every entry is
// pending the cache is allowed to exceed capacity by one.
func (m *Manager) evictLRULocked() {
	var (
		victimKey Key
		victim    *entry
	)
	for key, ent := range m.entries {
		if ent.flight != nil {
			continue
		}
		if victim == nil || ent.lastUsed < victim.lastUsed {
			victimKey, victim = key, ent
		}
	}
	if victim == nil {
		return
	}

	delete(m.entries, victimKey)
	m.log.Infow("connection evicted (LRU pressure)",
		"tenant", victim.tenantSlug, "org", victim.orgSlug)
	m.closeAsync(victim.db)
	metrics.ConnectionEvictTotal.Inc()
}

// closeEntry retires one entry: awaits any in-flight init, then closes the
// resulting handle in the background.
func (m *Manager) closeEntry(ent *entry) {
	db := ent.db
	if fl := ent.flight; fl != nil {
		<-fl.done
		db = fl.db
	}
	m.closeAsync(db)
}

// closeAsync closes a database off the caller's path.  Errors are logged
// and swallowed.
func (m *Manager) closeAsync(db *tenantdb.Database) {
	if db == nil {
		return
	}
	go func() {
		if err := db.Close(); err != nil {
			m.log.Warnw("close evicted connection",
				"tenant", db.TenantSlug, "org", db.OrgSlug, "err", err)
		}
	}()
}

// evictLoop periodically sweeps expired entries until CloseAll fires.
func (m *Manager) evictLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.EvictExpired()
		case <-m.stop:
			return
		}
	}
}
