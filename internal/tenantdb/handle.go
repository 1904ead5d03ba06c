// internal/tenantdb/handle.go
//
// Schema-scoped database handles.
//
// Context
// -------
// Every (tenant, org) pair owns one Handle: a small sqlx pool whose
// physical connections are pinned to the org's PostgreSQL schema.  Two
// mechanisms enforce isolation, and both are active simultaneously:
//
//   1. An AfterConnect hook issues `SET search_path TO "<schema>"` as the
//      first statement on every new physical connection, covering raw SQL
//      that forgets to qualify.
//   2. `Table` produces fully qualified `"<schema>"."<table>"` names for
//      every generated statement, covering pooled connections whose
//      session state was reset by a transaction pooler.
//
// The schema name is always double-quoted, preserving case and tolerating
// hyphens.  `public` is the only schema for which the SET is omitted.
//
// Notes
// -----
// • Handles are built exclusively through the HandleFunc factory wired
//   into the connection manager and the migration engine, so both paths
//   get identical search_path semantics.
// • Oxford commas, two spaces after periods.
package tenantdb

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/yanizio/fabric/internal/registry"
)

// HandleFunc builds a schema-bound Handle from provider credentials.  The
// connection manager, the migration engine, and the dev auto-migrator all
// construct handles through a value of this type.
type HandleFunc func(ctx context.Context, cfg *registry.DatabaseConfig, password, schemaName string) (*Handle, error)

// Handle is a pooled, schema-scoped client for one org.
type Handle struct {
	DB         *sqlx.DB
	SchemaName string

	// StatementLog, when non-nil, receives every statement issued through
	// Exec.  The migration engine attaches its DDL capture here.
	StatementLog func(sql string)
}

// Open connects to the provider database with the pool bound to
// schemaName.  poolMax caps physical connections; values below one fall
// back to the provider's own database_pool_max.
func Open(ctx context.Context, cfg *registry.DatabaseConfig, password, schemaName string, poolMax int) (*Handle, error) {
	connCfg, err := pgx.ParseConfig(buildDSN(cfg, password))
	if err != nil {
		return nil, fmt.Errorf("tenantdb: parse config: %w", err)
	}

	opts := []stdlib.OptionOpenDB{}
	if schemaName != "public" {
		setPath := "SET search_path TO " + QuoteIdent(schemaName)
		opts = append(opts, stdlib.OptionAfterConnect(func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, setPath)
			return err
		}))
	}

	db := sqlx.NewDb(stdlib.OpenDB(*connCfg, opts...), "pgx")

	if poolMax < 1 {
		poolMax = cfg.PoolMax
	}
	if poolMax < 1 {
		poolMax = 5
	}
	db.SetMaxOpenConns(poolMax)
	db.SetMaxIdleConns(poolMax)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tenantdb: ping %s/%s: %w", cfg.Host, schemaName, err)
	}

	return &Handle{DB: db, SchemaName: schemaName}, nil
}

// Table returns the schema-qualified, quoted name for a table in this
// handle's schema.
func (h *Handle) Table(name string) string {
	return pgx.Identifier{h.SchemaName, name}.Sanitize()
}

// Exec runs a statement, feeding it to StatementLog first when attached.
func (h *Handle) Exec(ctx context.Context, query string, args ...any) error {
	if h.StatementLog != nil {
		h.StatementLog(query)
	}
	_, err := h.DB.ExecContext(ctx, query, args...)
	return err
}

// Ping issues a liveness probe bounded by the context deadline.
func (h *Handle) Ping(ctx context.Context) error {
	return h.DB.PingContext(ctx)
}

// Close releases the pool.
func (h *Handle) Close() error { return h.DB.Close() }

// QuoteIdent double-quotes a single identifier, escaping embedded quotes.
func QuoteIdent(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}

// buildDSN assembles the provider URL with the decrypted password.  The
// password travels through url.UserPassword so special characters survive.
func buildDSN(cfg *registry.DatabaseConfig, password string) string {
	sslMode := "disable"
	if cfg.SSL {
		sslMode = "require"
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.Username, password),
		Host:     cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Path:     "/" + cfg.Name,
		RawQuery: "sslmode=" + sslMode,
	}
	return u.String()
}
