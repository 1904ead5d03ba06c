// internal/registry/mappings_test.go
//
// Unit-tests for the installation-mapping write paths.  The stale-delete
// plus write pair must run inside one transaction.

package registry

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func mappingParams() InstallationMappingParams {
	return InstallationMappingParams{
		InstallationID:     9001,
		TenantID:           uuid.New(),
		OrgID:              uuid.New(),
		GithubAccountLogin: "acme-corp",
		GithubAccountType:  "Organization",
	}
}

func TestCreateInstallationMappingTransaction(t *testing.T) {
	c, mock := newMockClient(t)
	p := mappingParams()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM github_installation_mappings`)).
		WithArgs(p.GithubAccountLogin, p.InstallationID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO github_installation_mappings .+ ON CONFLICT \(installation_id\) DO UPDATE`).
		WithArgs(p.InstallationID, p.TenantID, p.OrgID, p.GithubAccountLogin, p.GithubAccountType).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := c.CreateInstallationMapping(context.Background(), p); err != nil {
		t.Fatalf("CreateInstallationMapping error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

// A failing stale-delete must roll the transaction back; the upsert never
// runs.
func TestCreateInstallationMappingRollsBack(t *testing.T) {
	c, mock := newMockClient(t)
	p := mappingParams()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM github_installation_mappings`)).
		WithArgs(p.GithubAccountLogin, p.InstallationID).
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	if err := c.CreateInstallationMapping(context.Background(), p); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}

func TestEnsureInstallationMappingInserts(t *testing.T) {
	c, mock := newMockClient(t)
	p := mappingParams()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM github_installation_mappings`)).
		WithArgs(p.GithubAccountLogin, p.InstallationID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO github_installation_mappings .+ DO NOTHING`).
		WithArgs(p.InstallationID, p.TenantID, p.OrgID, p.GithubAccountLogin, p.GithubAccountType).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	created, err := c.EnsureInstallationMapping(context.Background(), p)
	if err != nil {
		t.Fatalf("EnsureInstallationMapping error: %v", err)
	}
	if !created {
		t.Fatalf("expected created = true")
	}
}

// Gap-fill never overwrites: a conflicting id affects zero rows and
// reports created = false.
func TestEnsureInstallationMappingKeepsExisting(t *testing.T) {
	c, mock := newMockClient(t)
	p := mappingParams()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM github_installation_mappings`)).
		WithArgs(p.GithubAccountLogin, p.InstallationID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO github_installation_mappings .+ DO NOTHING`).
		WithArgs(p.InstallationID, p.TenantID, p.OrgID, p.GithubAccountLogin, p.GithubAccountType).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	created, err := c.EnsureInstallationMapping(context.Background(), p)
	if err != nil {
		t.Fatalf("EnsureInstallationMapping error: %v", err)
	}
	if created {
		t.Fatalf("expected created = false")
	}
}

func TestGetTenantOrgByInstallationID(t *testing.T) {
	c, mock := newMockClient(t)
	tenID, orgID := uuid.New(), uuid.New()

	mock.ExpectQuery(`SELECT m\.tenant_id, m\.org_id\s+FROM\s+github_installation_mappings m`).
		WithArgs(int64(9001)).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "org_id"}).AddRow(tenID.String(), orgID.String()))
	mock.ExpectQuery(`SELECT .+ FROM\s+tenants t .+ WHERE\s+t\.id = \$1`).
		WithArgs(tenID).
		WillReturnRows(tenantRow(tenID, "acme"))
	mock.ExpectQuery(`SELECT .+ FROM\s+orgs\s+WHERE\s+id = \$1`).
		WithArgs(orgID).
		WillReturnRows(orgRow(orgID, tenID, "main", "org_acme", true))

	pair, err := c.GetTenantOrgByInstallationID(context.Background(), 9001)
	if err != nil {
		t.Fatalf("GetTenantOrgByInstallationID error: %v", err)
	}
	if pair.Tenant.ID != tenID || pair.Org.ID != orgID {
		t.Fatalf("unexpected pair: %#v", pair)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}
