// cmd/migrate/main.go
//
// Fabric – fleet schema migration CLI.
//
// Modes
// -----
//
//	fabric-migrate                 live migration, canary first
//	fabric-migrate --check-only    connectivity sweep, no DDL
//	fabric-migrate --dry-run       canary-only, transactional rollback
//
// Exit codes: 0 success, 1 any error, 10 dry-run detected pending
// changes.  SKIP_SCHEMA_MIGRATIONS=true early-exits with 0 so deploy
// pipelines can disable migration without editing the pipeline itself.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yanizio/fabric/internal/catalog"
	"github.com/yanizio/fabric/internal/config"
	"github.com/yanizio/fabric/internal/logger"
	"github.com/yanizio/fabric/internal/migrate"
	"github.com/yanizio/fabric/internal/registry"
	"github.com/yanizio/fabric/internal/secrets"
	"github.com/yanizio/fabric/internal/tenantdb"
)

const exitChangesPending = 10

// errChangesPending marks the dry-run "pending changes" outcome, which is
// an exit code, not a failure.
var errChangesPending = fmt.Errorf("pending schema changes detected")

var (
	flagDryRun       bool
	flagCheckOnly    bool
	flagVerbose      bool
	flagCanaryTenant string
	flagCanaryOrg    string
)

func main() {
	cmd := &cobra.Command{
		Use:           "fabric-migrate",
		Short:         "Migrate every tenant-org schema, canary first",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "report the canary's pending changes, then roll back")
	cmd.Flags().BoolVar(&flagCheckOnly, "check-only", false, "verify connectivity for every tenant-org; issue no DDL")
	cmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
	cmd.Flags().StringVar(&flagCanaryTenant, "canary-tenant", "", "canary tenant slug (requires --canary-org)")
	cmd.Flags().StringVar(&flagCanaryOrg, "canary-org", "", "canary org slug (requires --canary-tenant)")

	if err := cmd.Execute(); err != nil {
		if err == errChangesPending {
			os.Exit(exitChangesPending)
		}
		fatal(err)
	}
}

func run(cmd *cobra.Command, args []string) error {
	log := logger.Console(flagVerbose)
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if cfg.Migration.SkipSchemaMigrations {
		log.Info("SKIP_SCHEMA_MIGRATIONS is set; nothing to do")
		return nil
	}
	if cfg.MultiTenant.RegistryURL == "" {
		return fmt.Errorf("MULTI_TENANT_REGISTRY_URL is required")
	}

	// Flags override environment for the canary pair; a half-set pair from
	// either source is rejected before any connection is opened.
	canaryTenant, canaryOrg := cfg.Migration.CanaryTenantSlug, cfg.Migration.CanaryOrgSlug
	if flagCanaryTenant != "" || flagCanaryOrg != "" {
		canaryTenant, canaryOrg = flagCanaryTenant, flagCanaryOrg
	}

	ctx := cmd.Context()

	decrypt, err := secrets.NewDecryptorFromSetting(ctx, cfg.Secrets.DBPasswordEncryptionKey)
	if err != nil {
		return err
	}

	reg, err := registry.Open(ctx, cfg.MultiTenant.RegistryURL)
	if err != nil {
		return err
	}
	defer reg.Close()

	poolMax := cfg.MultiTenant.PoolMaxPerConnection
	newHandle := func(ctx context.Context, dbCfg *registry.DatabaseConfig, password, schemaName string) (*tenantdb.Handle, error) {
		return tenantdb.Open(ctx, dbCfg, password, schemaName, poolMax)
	}

	eng := migrate.New(reg, decrypt, newHandle, catalog.Sync, migrate.Options{
		CanaryTenantSlug: canaryTenant,
		CanaryOrgSlug:    canaryOrg,
	})

	switch {
	case flagDryRun:
		res, err := eng.DryRun(ctx)
		if err != nil {
			return err
		}
		migrate.WriteDryRunReport(os.Stdout, res)
		if res.HasChanges() {
			return errChangesPending
		}
		return nil

	case flagCheckOnly:
		res, err := eng.CheckOnly(ctx)
		if res != nil {
			migrate.WriteFleetSummary(os.Stdout, res)
		}
		return err

	default:
		res, err := eng.Run(ctx)
		if res != nil {
			migrate.WriteFleetSummary(os.Stdout, res)
		}
		return err
	}
}

// fatal prints the error as a single line and, when a richer rendering is
// available, the detail (including any stack) as a second line.
func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	if detail := fmt.Sprintf("%+v", err); detail != err.Error() {
		fmt.Fprintln(os.Stderr, detail)
	}
	zap.S().Errorw("migration failed", "err", err)
	os.Exit(1)
}
