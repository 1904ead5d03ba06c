// internal/registry/model.go
//
// Control-plane row models.
//
// Context
// -------
// These structs mirror the registry tables that describe tenants, orgs,
// database providers, custom domains, and GitHub installation mappings.
// The registry client is the sole site that translates snake_case SQL
// rows into these entities; everything above it works with the structs.
//
// Schema reference (2026-07-12)
//
//	tenants(id, slug, display_name, status, deployment_type,
//	        database_provider_id, configs jsonb, configs_updated_at,
//	        feature_flags jsonb, created_at, updated_at, provisioned_at)
//	database_providers(id, database_host, database_port, database_name,
//	        database_username, database_password_encrypted, database_ssl,
//	        database_pool_max)
//	orgs(id, tenant_id, slug, display_name, schema_name, status,
//	        is_default, created_at, updated_at)
//	tenant_domains(domain, tenant_id, is_primary, verified_at)
//	github_installation_mappings(id, installation_id UNIQUE, tenant_id,
//	        org_id, github_account_login, github_account_type,
//	        created_at, updated_at)
//
// Notes
// -----
// • `Tenant` deliberately has no credential fields; only `DatabaseConfig`
//   (returned exclusively by GetTenantDatabaseConfig) carries them, so a
//   web-facing serializer can never leak a password by accident.
// • `PrimaryDomain` is derived via JOIN against verified primary domains;
//   it is never stored on the tenant row.
// • Nullable columns map to pointers; callers must nil-check.
package registry

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

//
// Status enums
//

// TenantStatus is the tenant lifecycle state.
type TenantStatus string

const (
	TenantActive      TenantStatus = "active"
	TenantProvisioned TenantStatus = "provisioned"
	TenantSuspended   TenantStatus = "suspended"
	TenantArchived    TenantStatus = "archived"
)

// Valid reports whether s is a recognized lifecycle state.
func (s TenantStatus) Valid() bool {
	switch s {
	case TenantActive, TenantProvisioned, TenantSuspended, TenantArchived:
		return true
	}
	return false
}

// DeploymentType distinguishes shared-provider tenants from dedicated ones.
type DeploymentType string

const (
	DeploymentShared    DeploymentType = "shared"
	DeploymentDedicated DeploymentType = "dedicated"
)

//
// JSONB helpers
//

// ConfigMap scans a jsonb column into a free-form configuration mapping.
type ConfigMap map[string]any

// Scan implements sql.Scanner.
func (m *ConfigMap) Scan(src any) error {
	return scanJSON(src, m)
}

// Value implements driver.Valuer.
func (m ConfigMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// FlagMap scans a jsonb column into a boolean feature-flag mapping.
type FlagMap map[string]bool

// Scan implements sql.Scanner.
func (m *FlagMap) Scan(src any) error {
	return scanJSON(src, m)
}

// Value implements driver.Valuer.
func (m FlagMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func scanJSON(src, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("registry: cannot scan %T into jsonb map", src)
	}
}

//
// Entities
//

// Tenant mirrors one row in `tenants`, enriched with the verified primary
// domain.  It never carries provider credentials.
type Tenant struct {
	ID                 uuid.UUID      `db:"id"`
	Slug               string         `db:"slug"`
	DisplayName        string         `db:"display_name"`
	Status             TenantStatus   `db:"status"`
	DeploymentType     DeploymentType `db:"deployment_type"`
	DatabaseProviderID *uuid.UUID     `db:"database_provider_id"`
	Configs            ConfigMap      `db:"configs"`
	ConfigsUpdatedAt   *time.Time     `db:"configs_updated_at"`
	FeatureFlags       FlagMap        `db:"feature_flags"`
	PrimaryDomain      *string        `db:"primary_domain"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
	ProvisionedAt      *time.Time     `db:"provisioned_at"`
}

// DatabaseConfig is the credential projection of a database provider.  It
// is a distinct type from Tenant on purpose: only GetTenantDatabaseConfig
// ever produces one.
type DatabaseConfig struct {
	Host              string `db:"database_host"`
	Port              int    `db:"database_port"`
	Name              string `db:"database_name"`
	Username          string `db:"database_username"`
	EncryptedPassword string `db:"database_password_encrypted"`
	SSL               bool   `db:"database_ssl"`
	PoolMax           int    `db:"database_pool_max"`
}

// Org mirrors one row in `orgs`.  SchemaName is the PostgreSQL schema
// holding this org's tables.
type Org struct {
	ID          uuid.UUID `db:"id"`
	TenantID    uuid.UUID `db:"tenant_id"`
	Slug        string    `db:"slug"`
	DisplayName string    `db:"display_name"`
	SchemaName  string    `db:"schema_name"`
	Status      string    `db:"status"`
	IsDefault   bool      `db:"is_default"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// TenantSummary is the non-credential listing projection.
type TenantSummary struct {
	ID             uuid.UUID      `db:"id"`
	Slug           string         `db:"slug"`
	DisplayName    string         `db:"display_name"`
	Status         TenantStatus   `db:"status"`
	DeploymentType DeploymentType `db:"deployment_type"`
	PrimaryDomain  *string        `db:"primary_domain"`
	CreatedAt      time.Time      `db:"created_at"`
}

// TenantWithDefaultOrg is the single-query projection used by the UI
// tenant switcher.
type TenantWithDefaultOrg struct {
	ID            uuid.UUID  `db:"id"`
	Slug          string     `db:"slug"`
	DisplayName   string     `db:"display_name"`
	PrimaryDomain *string    `db:"primary_domain"`
	DefaultOrgID  *uuid.UUID `db:"default_org_id"`
}

// TenantOrg pairs a tenant with one of its orgs (domain and installation
// lookups resolve to this).
type TenantOrg struct {
	Tenant Tenant
	Org    Org
}

// InstallationMapping binds an external GitHub installation to a
// (tenant, org) pair.
type InstallationMapping struct {
	ID                 uuid.UUID `db:"id"`
	InstallationID     int64     `db:"installation_id"`
	TenantID           uuid.UUID `db:"tenant_id"`
	OrgID              uuid.UUID `db:"org_id"`
	GithubAccountLogin string    `db:"github_account_login"`
	GithubAccountType  string    `db:"github_account_type"`
	CreatedAt          time.Time `db:"created_at"`
	UpdatedAt          time.Time `db:"updated_at"`
}

// InstallationMappingParams carries the writable mapping fields.
type InstallationMappingParams struct {
	InstallationID     int64
	TenantID           uuid.UUID
	OrgID              uuid.UUID
	GithubAccountLogin string
	GithubAccountType  string
}
