// internal/migrate/report.go
//
// Human-readable rendering for CLI output.  The diff records become
// pseudo-DDL: close enough to real statements that an operator can skim
// them, without pretending to be replayable SQL.
package migrate

import (
	"fmt"
	"io"
)

// FormatChange renders one diff record as pseudo-DDL.
func FormatChange(c Change) string {
	switch c.Kind {
	case TableAdded:
		return fmt.Sprintf("CREATE TABLE %s", c.Table)
	case TableRemoved:
		return fmt.Sprintf("DROP TABLE %s", c.Table)
	case ColumnAdded:
		return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", c.Table, c.Column)
	case ColumnRemoved:
		return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", c.Table, c.Column)
	case ColumnChanged:
		return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s (%s)", c.Table, c.Column, c.Details)
	}
	return fmt.Sprintf("%s %s.%s", c.Kind, c.Table, c.Column)
}

// WriteDryRunReport prints the pending delta.  A clean canary prints a
// single confirmation line; a dirty one lists every change followed by
// one warning line with the count.
func WriteDryRunReport(w io.Writer, res *DryRunResult) {
	fmt.Fprintf(w, "Dry run against %s/%s (schema %q)\n", res.TenantSlug, res.OrgSlug, res.SchemaName)
	if !res.HasChanges() {
		fmt.Fprintln(w, "Schema is up to date; no changes pending.")
		return
	}
	for _, c := range res.Changes {
		fmt.Fprintf(w, "  %s\n", FormatChange(c))
	}
	fmt.Fprintf(w, "WARNING: %d pending schema change(s) detected\n", len(res.Changes))
}

// WriteFleetSummary prints the run counters and per-org outcomes.
func WriteFleetSummary(w io.Writer, res *FleetResult) {
	for _, out := range res.Outcomes {
		switch {
		case out.Err != nil:
			fmt.Fprintf(w, "  %s/%s: FAILED: %v\n", out.TenantSlug, out.OrgSlug, out.Err)
		case out.ChangesApplied:
			fmt.Fprintf(w, "  %s/%s: %d change(s) applied\n", out.TenantSlug, out.OrgSlug, out.ChangeCount)
		default:
			fmt.Fprintf(w, "  %s/%s: up to date\n", out.TenantSlug, out.OrgSlug)
		}
	}
	fmt.Fprintf(w, "successful=%d failed=%d skipped_tenants=%d\n",
		res.Successful, res.Failed, res.SkippedTenants)
}
