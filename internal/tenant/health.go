// internal/tenant/health.go
//
// Parallel liveness probes over the cached handles.
//
// Context
// -------
// CheckAllConnectionsHealth pings every ready handle in parallel, each
// probe bounded by its own timeout.  A probe that exceeds the bound
// reports unhealthy with an informative message and does not disturb its
// peers: the errgroup closures always return nil, so no shared
// cancellation fires.  Entries still initializing are skipped.
//
// Notes
// -----
// • The report only observes; whether unhealthy entries feed a circuit
//   breaker is the caller's policy.
package tenant

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yanizio/fabric/internal/metrics"
)

// DefaultHealthTimeout bounds each probe when the caller passes zero.
const DefaultHealthTimeout = 5 * time.Second

// HealthEntry is the outcome of one handle's probe.
type HealthEntry struct {
	TenantSlug string        `json:"tenant"`
	OrgSlug    string        `json:"org"`
	SchemaName string        `json:"schema"`
	Healthy    bool          `json:"healthy"`
	Message    string        `json:"message,omitempty"`
	Latency    time.Duration `json:"latency_ns"`
}

// HealthReport aggregates all probes.  Healthy is true iff every entry is.
type HealthReport struct {
	Healthy bool          `json:"healthy"`
	Entries []HealthEntry `json:"entries"`
}

// CheckAllConnectionsHealth probes every non-initializing cached handle in
// parallel, each bounded by timeout.
func (m *Manager) CheckAllConnectionsHealth(ctx context.Context, timeout time.Duration) *HealthReport {
	if timeout <= 0 {
		timeout = DefaultHealthTimeout
	}

	type probe struct {
		ent *entry
	}

	m.mu.Lock()
	probes := make([]probe, 0, len(m.entries))
	for _, ent := range m.entries {
		if ent.flight != nil {
			continue
		}
		probes = append(probes, probe{ent: ent})
	}
	m.mu.Unlock()

	report := &HealthReport{
		Healthy: true,
		Entries: make([]HealthEntry, len(probes)),
	}

	var g errgroup.Group
	for i, p := range probes {
		i, ent := i, p.ent
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			err := ent.db.Handle.Ping(probeCtx)
			he := HealthEntry{
				TenantSlug: ent.tenantSlug,
				OrgSlug:    ent.orgSlug,
				SchemaName: ent.schemaName,
				Healthy:    err == nil,
				Latency:    time.Since(start),
			}
			if err != nil {
				he.Message = err.Error()
				metrics.HealthCheckFailuresTotal.Inc()
			}
			report.Entries[i] = he
			return nil
		})
	}
	_ = g.Wait()

	for _, he := range report.Entries {
		if !he.Healthy {
			report.Healthy = false
			break
		}
	}
	return report
}
