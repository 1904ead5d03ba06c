// cmd/web/main.go
//
// Fabric – HTTP entry point.
//
// Startup sequence
// ----------------
//
//  1. Load configuration (.env → optional conf/fabric.yaml → env overlay).
//
//  2. Start daily rotating logger (tees to console when running in a TTY).
//
//  3. Open the control-plane registry and log the active-tenant count.
//
//  4. Build the connection manager (lazy, per-(tenant, org) handles).
//
//  5. Run the dev auto-migrator when its gates allow.
//
//  6. Mount /metrics, /healthz, and the tenant-scoped routes behind the
//     resolver middleware.
//
//  7. Serve until SIGINT/SIGTERM, then drain: HTTP shutdown, connection
//     cache close, registry close.
//
// Large comment blocks are framed by blank “//” lines; inline comments use
// a single “//”.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/yanizio/fabric/internal/catalog"
	"github.com/yanizio/fabric/internal/config"
	"github.com/yanizio/fabric/internal/devmigrate"
	"github.com/yanizio/fabric/internal/logger"
	"github.com/yanizio/fabric/internal/registry"
	"github.com/yanizio/fabric/internal/resolver"
	"github.com/yanizio/fabric/internal/secrets"
	"github.com/yanizio/fabric/internal/tenant"
	"github.com/yanizio/fabric/internal/tenantctx"
	"github.com/yanizio/fabric/internal/tenantdb"
)

const shutdownGrace = 15 * time.Second

// runningInTTY returns true when stdout is a character device.
func runningInTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logOut, err := logger.New(cfg.Paths.Root, runningInTTY())
	if err != nil {
		log.Fatalf("start logger: %v", err)
	}
	defer func() { _ = logOut.Sync() }()

	if !cfg.MultiTenant.Enabled {
		logOut.Fatal("multi-tenant mode is disabled; nothing to serve")
	}

	//
	// ── 1.  Control-plane registry ──────────────────────────────────────
	//
	logOut.Info("connecting to tenant registry")
	reg, err := registry.Open(ctx, cfg.MultiTenant.RegistryURL)
	if err != nil {
		logOut.Fatalf("connect registry: %v", err)
	}
	defer reg.Close()

	// Log active-tenant count as an early sanity check.
	if tenants, err := reg.ListAllActiveTenants(ctx); err == nil {
		logOut.Infof("%d active tenant(s) found", len(tenants))
	}

	//
	// ── 2.  Connection manager (lazy per-org handles) ───────────────────
	//
	decrypt, err := secrets.NewDecryptorFromSetting(ctx, cfg.Secrets.DBPasswordEncryptionKey)
	if err != nil {
		logOut.Fatalf("password decryptor: %v", err)
	}

	poolMax := cfg.MultiTenant.PoolMaxPerConnection
	newHandle := func(ctx context.Context, dbCfg *registry.DatabaseConfig, password, schemaName string) (*tenantdb.Handle, error) {
		return tenantdb.Open(ctx, dbCfg, password, schemaName, poolMax)
	}

	mgr := tenant.New(reg, decrypt, newHandle, catalog.Sync, tenant.Options{
		MaxEntries:    cfg.MultiTenant.ConnectionPoolMax,
		IdleTTL:       cfg.MultiTenant.ConnectionTTL(),
		EvictInterval: tenant.DefaultEvictInterval,
	})

	//
	// ── 3.  Dev auto-migration (best effort) ────────────────────────────
	//
	if devmigrate.ShouldRun(cfg) {
		logOut.Info("running dev auto-migration")
		devmigrate.New(reg, decrypt, newHandle, catalog.Sync).Run(ctx)
	}

	//
	// ── 4.  Router: metrics, health, tenant-scoped routes ───────────────
	//
	rv := resolver.New(reg, mgr, cfg.HTTP.BaseDomain, nil)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		report := mgr.CheckAllConnectionsHealth(req.Context(), tenant.DefaultHealthTimeout)
		w.Header().Set("Content-Type", "application/json")
		if !report.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(report)
	})

	r.Group(func(r chi.Router) {
		r.Use(rv.Middleware)
		r.Get("/whoami", whoami)
	})

	//
	// ── 5.  Serve with graceful drain ───────────────────────────────────
	//
	srv := &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logOut.Infof("listening on %s", cfg.HTTP.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logOut.Fatalf("http server: %v", err)
		}
	}()

	<-stop
	logOut.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logOut.Warnw("http shutdown", "err", err)
	}
	mgr.CloseAll()
	logOut.Info("shutdown complete")
}

// whoami echoes the resolved tenant binding.  Useful as a smoke test for
// the resolver chain.
func whoami(w http.ResponseWriter, r *http.Request) {
	tc, err := tenantctx.Require(r.Context())
	if err != nil {
		zap.S().Errorw("whoami without tenant context", "err", err)
		http.Error(w, "no tenant context", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"tenant": tc.Tenant.Slug,
		"org":    tc.Org.Slug,
		"schema": tc.SchemaName,
	})
}
