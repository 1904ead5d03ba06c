// internal/migrate/snapshot.go
//
// Schema snapshots from information_schema.
//
// Context
// -------
// A Snapshot is the column inventory of the current schema: one row per
// column, keyed table → column.  It is captured twice per migration
// (before and after catalog-sync) and fed to the diff engine; it is never
// persisted.  The query scopes itself with current_schema(), so the
// handle's search_path determines what is seen.
package migrate

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Column is one column's control attributes.  Default is nil when the
// column has no default expression.
type Column struct {
	DataType   string
	IsNullable string
	Default    *string
}

// Snapshot maps table_name → column_name → Column.
type Snapshot map[string]map[string]Column

const snapshotQuery = `
	SELECT table_name, column_name, data_type, is_nullable, column_default
	  FROM information_schema.columns
	 WHERE table_schema = current_schema()
	 ORDER BY table_name, ordinal_position`

// Capture reads the current schema's column inventory.
func Capture(ctx context.Context, q sqlx.QueryerContext) (Snapshot, error) {
	rows, err := q.QueryxContext(ctx, snapshotQuery)
	if err != nil {
		return nil, fmt.Errorf("migrate: snapshot query: %w", err)
	}
	defer rows.Close()

	snap := make(Snapshot)
	for rows.Next() {
		var (
			table, column, dataType, nullable string
			def                               *string
		)
		if err := rows.Scan(&table, &column, &dataType, &nullable, &def); err != nil {
			return nil, fmt.Errorf("migrate: snapshot scan: %w", err)
		}
		cols, ok := snap[table]
		if !ok {
			cols = make(map[string]Column)
			snap[table] = cols
		}
		cols[column] = Column{DataType: dataType, IsNullable: nullable, Default: def}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("migrate: snapshot rows: %w", err)
	}
	return snap, nil
}
