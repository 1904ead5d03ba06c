// internal/config/model.go
//
// Typed configuration model for the fabric.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// `internal/config/loader.go` builds from three overlay layers:
//
//   • optional `.env`                     – dotenv values,
//   • `conf/fabric.yaml`                  – optional static file,
//   • well-known environment variables    – highest precedence.
//
// Unlike most koanf setups the env layer is not prefix-driven: the fabric
// honours a fixed table of operational variables (MULTI_TENANT_*,
// BASE_DOMAIN, DB_PASSWORD_ENCRYPTION_KEY, …) that predate this codebase,
// so the loader maps each one onto its dotted key explicitly.
//
// Validation happens immediately after unmarshal; the app fails fast if
// required fields are missing.
//
// Notes
// -----
//   • Struct tags use `koanf:"…"`, not `yaml:"…"`; Koanf ignores `yaml` tags
//     unless configured otherwise.
//   • The `Paths` block is filled at runtime; YAML must not try to set it.
//   • Oxford commas, two spaces after periods.  No em-dash.

package config

import "time"

//
// HTTP section
//

// HTTP holds web-server tunables.  BaseDomain is the root under which
// `<tenant-slug>.<base_domain>` subdomain resolution happens.
type HTTP struct {
	ListenAddr string `koanf:"listen_addr" validate:"omitempty,hostname_port"`
	BaseDomain string `koanf:"base_domain"`
}

//
// MultiTenant section
//

// MultiTenant gathers every knob of the routing fabric proper.  The three
// numeric fields carry the documented defaults when their variables are
// unset: 100 cached handles, 30-minute idle TTL, 5 physical connections
// per handle.
type MultiTenant struct {
	Enabled              bool   `koanf:"enabled"`
	RegistryURL          string `koanf:"registry_url" validate:"required_if=Enabled true"`
	ConnectionPoolMax    int    `koanf:"connection_pool_max" validate:"omitempty,min=1"`
	ConnectionTTLMS      int64  `koanf:"connection_ttl_ms" validate:"omitempty,min=1"`
	PoolMaxPerConnection int    `koanf:"pool_max_per_connection" validate:"omitempty,min=1"`
}

// ConnectionTTL converts the raw millisecond setting into a Duration.
func (m MultiTenant) ConnectionTTL() time.Duration {
	if m.ConnectionTTLMS <= 0 {
		return DefaultConnectionTTL
	}
	return time.Duration(m.ConnectionTTLMS) * time.Millisecond
}

//
// Migration section
//

// Migration controls the schema migration CLI and the dev auto-migrator.
// CanaryTenantSlug and CanaryOrgSlug must be set together; the engine
// validates the pairing before opening any connection.
type Migration struct {
	SkipSchemaMigrations bool   `koanf:"skip_schema_migrations"`
	CanaryTenantSlug     string `koanf:"canary_tenant_slug"`
	CanaryOrgSlug        string `koanf:"canary_org_slug"`
	SkipDevMigrations    bool   `koanf:"skip_dev_migrations"`
}

//
// Secrets section
//

// Secrets carries the optional password-encryption key.  The value may be
// a literal key or a `vault:<path>#<key>` reference resolved at boot.
type Secrets struct {
	DBPasswordEncryptionKey string `koanf:"db_password_encryption_key"`
}

//
// Runtime section
//

// Runtime describes the deployment flavor.  ServerlessPreview mirrors the
// hosting platform's preview-deployment variable; the dev auto-migrator
// refuses to run there because preview instances share the dev registry.
type Runtime struct {
	Environment       string `koanf:"environment"`
	ServerlessPreview bool   `koanf:"serverless_preview"`
}

// IsDevelopment reports whether the process runs in the development
// environment (the only one where the auto-migrator may act).
func (r Runtime) IsDevelopment() bool { return r.Environment == "development" }

//
// Paths section (runtime only)
//

// Paths is resolved at runtime, never set in YAML or env.  The loader
// discovers `Root` (repo root or FABRIC_ROOT override) so later code can
// build absolute file paths.
type Paths struct {
	Root string
}

//
// Root aggregate
//

// Config is the immutable aggregate returned by Load() and cached in an
// atomic.Pointer for lock-free reads throughout the app lifetime.
type Config struct {
	HTTP        HTTP        `koanf:"http"`
	MultiTenant MultiTenant `koanf:"multi_tenant"`
	Migration   Migration   `koanf:"migration"`
	Secrets     Secrets     `koanf:"secrets"`
	Runtime     Runtime     `koanf:"runtime"`
	Paths       Paths       `koanf:"-"`
}

// Defaults applied by the loader when the corresponding setting is absent.
const (
	DefaultConnectionPoolMax    = 100
	DefaultConnectionTTL        = 30 * time.Minute
	DefaultPoolMaxPerConnection = 5
	DefaultListenAddr           = ":8080"
)
