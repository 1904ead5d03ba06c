// internal/config/loader.go
//
// Configuration loader.
//
/*
Context
--------
`Load()` builds one immutable `Config` struct from three layers (highest
precedence last):

  1. Optional `.env` file at `<root>/conf/.env`.
  2. Optional `conf/fabric.yaml`.
  3. The fixed table of operational environment variables listed in
     `envKeyMap` (MULTI_TENANT_ENABLED, MULTI_TENANT_REGISTRY_URL, …).

After merging, the tree is unmarshalled into strongly-typed structs,
validated, enriched with defaults and the runtime root path, and cached in
an `atomic.Pointer` for lock-free reads.  `Reload()` simply calls `Load()`
again and swaps the pointer.

Notes
-----
  • `rootDir()` climbs the cwd tree until it finds `conf/fabric.yaml`; this
    lets `go run ./cmd/web` work from any sub-directory.  Missing file is
    fine; env-only deployments are the common case.
  • Logs use the global *sugared* logger (`zap.S()`) so early boot issues
    surface even before the file logger is installed.
  • Oxford commas, two spaces after periods.
*/
package config

import (
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
	"go.uber.org/zap"
)

var current atomic.Pointer[Config]

// envKeyMap binds each recognized environment variable to its dotted koanf
// key.  Variables not listed here are ignored by the overlay, which keeps
// unrelated process env out of the config tree.
var envKeyMap = map[string]string{
	"MULTI_TENANT_ENABLED":                 "multi_tenant.enabled",
	"MULTI_TENANT_REGISTRY_URL":            "multi_tenant.registry_url",
	"MULTI_TENANT_CONNECTION_POOL_MAX":     "multi_tenant.connection_pool_max",
	"MULTI_TENANT_CONNECTION_TTL_MS":       "multi_tenant.connection_ttl_ms",
	"MULTI_TENANT_POOL_MAX_PER_CONNECTION": "multi_tenant.pool_max_per_connection",
	"DB_PASSWORD_ENCRYPTION_KEY":           "secrets.db_password_encryption_key",
	"SKIP_SCHEMA_MIGRATIONS":               "migration.skip_schema_migrations",
	"SKIP_DEV_MIGRATIONS":                  "migration.skip_dev_migrations",
	"CANARY_TENANT_SLUG":                   "migration.canary_tenant_slug",
	"CANARY_ORG_SLUG":                      "migration.canary_org_slug",
	"BASE_DOMAIN":                          "http.base_domain",
	"LISTEN_ADDR":                          "http.listen_addr",
	"APP_ENV":                              "runtime.environment",
	"VERCEL_ENV":                           "runtime.serverless_preview_raw",
}

/*──────────────────────────── root discovery ───────────────────────────────*/

// rootDir resolves FABRIC_ROOT or climbs directories until conf/fabric.yaml
// is found.  Falls back to the executable heuristic for production layout.
func rootDir() string {
	if r := os.Getenv("FABRIC_ROOT"); r != "" {
		return r
	}

	wd, _ := os.Getwd()
	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "conf", "fabric.yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir { // reached filesystem root
			break
		}
		dir = parent
	}

	exe, _ := os.Executable()
	if filepath.Base(filepath.Dir(exe)) == "bin" {
		return filepath.Dir(filepath.Dir(exe))
	}
	return wd
}

/*─────────────────────────────── loader ───────────────────────────────────*/

// Load reads .env, YAML, env overrides, validates, and caches Config.
func Load() (*Config, error) {
	root := rootDir()
	zap.S().Debugw("config root resolved", "root", root)

	// .env (optional, no error if missing)
	_ = godotenv.Load(filepath.Join(root, "conf", ".env"))

	k := koanf.New(".")

	yamlPath := filepath.Join(root, "conf", "fabric.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
			zap.S().Errorw("config yaml load failed", "file", yamlPath, "err", err)
			return nil, err
		}
		zap.S().Debugw("config yaml loaded", "file", yamlPath)
	}

	// Env overrides: only variables present in envKeyMap are honored.
	if err := k.Load(env.Provider("", ".", func(s string) string {
		return envKeyMap[s]
	}), nil); err != nil {
		zap.S().Errorw("config env overlay failed", "err", err)
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		zap.S().Errorw("config unmarshal failed", "err", err)
		return nil, err
	}

	applyDefaults(&cfg, k)
	cfg.Paths.Root = root

	if err := validateStruct(&cfg); err != nil {
		zap.S().Errorw("config validation failed", "err", err)
		return nil, err
	}

	current.Store(&cfg)
	zap.S().Infow("config loaded",
		"multi_tenant", cfg.MultiTenant.Enabled,
		"base_domain", cfg.HTTP.BaseDomain,
		"pool_max", cfg.MultiTenant.ConnectionPoolMax,
	)
	return &cfg, nil
}

// applyDefaults fills documented fallbacks and derives the preview flag
// from the raw platform variable (any value other than "production" or
// empty means a preview/branch deployment).
func applyDefaults(cfg *Config, k *koanf.Koanf) {
	if cfg.HTTP.ListenAddr == "" {
		cfg.HTTP.ListenAddr = DefaultListenAddr
	}
	if cfg.MultiTenant.ConnectionPoolMax <= 0 {
		cfg.MultiTenant.ConnectionPoolMax = DefaultConnectionPoolMax
	}
	if cfg.MultiTenant.ConnectionTTLMS <= 0 {
		cfg.MultiTenant.ConnectionTTLMS = DefaultConnectionTTL.Milliseconds()
	}
	if cfg.MultiTenant.PoolMaxPerConnection <= 0 {
		cfg.MultiTenant.PoolMaxPerConnection = DefaultPoolMaxPerConnection
	}
	if cfg.Runtime.Environment == "" {
		cfg.Runtime.Environment = "development"
	}

	if raw := k.String("runtime.serverless_preview_raw"); raw != "" && raw != "production" {
		cfg.Runtime.ServerlessPreview = true
	}
}

/*──────────────────────────── helpers ─────────────────────────────────────*/

func Get() *Config  { return current.Load() }
func Reload() error { _, err := Load(); return err }
