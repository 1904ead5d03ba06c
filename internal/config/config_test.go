// internal/config/config_test.go

package config

import (
	"testing"
	"time"
)

func TestValidSchemaName(t *testing.T) {
	valid := []string{"public", "org_acme", "Org-Acme", "_tmp", "a1-b2_c3"}
	for _, s := range valid {
		if !ValidSchemaName(s) {
			t.Errorf("ValidSchemaName(%q) = false, want true", s)
		}
	}

	invalid := []string{"", "1org", "-org", "org acme", `org"acme`, "org;drop"}
	for _, s := range invalid {
		if ValidSchemaName(s) {
			t.Errorf("ValidSchemaName(%q) = true, want false", s)
		}
	}
}

func TestConnectionTTLFallsBackToDefault(t *testing.T) {
	var m MultiTenant
	if got := m.ConnectionTTL(); got != DefaultConnectionTTL {
		t.Fatalf("zero TTL = %v, want %v", got, DefaultConnectionTTL)
	}

	m.ConnectionTTLMS = 1500
	if got := m.ConnectionTTL(); got != 1500*time.Millisecond {
		t.Fatalf("TTL = %v, want 1.5s", got)
	}
}

func TestRegistryURLRequiredWhenEnabled(t *testing.T) {
	cfg := &Config{}
	cfg.MultiTenant.Enabled = true
	if err := validateStruct(cfg); err == nil {
		t.Fatalf("enabled fabric without a registry URL must not validate")
	}

	cfg.MultiTenant.RegistryURL = "postgres://registry.internal/control"
	if err := validateStruct(cfg); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	// Disabled fabric needs no URL at all.
	off := &Config{}
	if err := validateStruct(off); err != nil {
		t.Fatalf("disabled fabric rejected: %v", err)
	}
}

func TestIsDevelopment(t *testing.T) {
	if (Runtime{Environment: "production"}).IsDevelopment() {
		t.Fatalf("production flagged as development")
	}
	if !(Runtime{Environment: "development"}).IsDevelopment() {
		t.Fatalf("development not recognized")
	}
}
