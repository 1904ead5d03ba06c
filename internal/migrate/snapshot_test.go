// internal/migrate/snapshot_test.go
//
// Snapshot capture against a mocked information_schema.

package migrate

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

func TestCaptureBuildsSnapshot(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT table_name, column_name, data_type, is_nullable, column_default\s+FROM information_schema\.columns\s+WHERE table_schema = current_schema\(\)`).
		WillReturnRows(sqlmock.NewRows([]string{
			"table_name", "column_name", "data_type", "is_nullable", "column_default",
		}).
			AddRow("users", "id", "integer", "NO", "nextval('users_id_seq'::regclass)").
			AddRow("users", "status", "character varying", "NO", "'active'::character varying").
			AddRow("sessions", "token", "text", "NO", nil))

	snap, err := Capture(context.Background(), sqlx.NewDb(db, "pgx"))
	if err != nil {
		t.Fatalf("Capture error: %v", err)
	}

	if len(snap) != 2 {
		t.Fatalf("snapshot has %d tables, want 2", len(snap))
	}
	users := snap["users"]
	if len(users) != 2 {
		t.Fatalf("users has %d columns, want 2", len(users))
	}
	if users["id"].DataType != "integer" || users["id"].IsNullable != "NO" {
		t.Fatalf("unexpected users.id: %#v", users["id"])
	}
	if users["id"].Default == nil {
		t.Fatalf("users.id default lost")
	}
	if snap["sessions"]["token"].Default != nil {
		t.Fatalf("sessions.token default should be nil")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet SQL expectations: %v", err)
	}
}
