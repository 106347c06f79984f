package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/roach88/compositefk/internal/compositefk"
	"github.com/roach88/compositefk/internal/schema"
)

func openTestPath(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path, newTestSchema(t).reg, WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	return s
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s := openTestPath(t, path)
	defer s.Close()

	// Verify file was created
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		openTestPath(t, path).Close()
	}

	s := openTestPath(t, path)
	defer s.Close()

	tables := []string{"compositefk_declarations", "address", "representant", "customer", "contact", "extra"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db", newTestSchema(t).reg)
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestOpen_NilRegistry(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if s.Registry() != nil {
		t.Error("Registry() should be nil")
	}
}

func TestOpen_RejectsInvalidReferences(t *testing.T) {
	reg := schema.NewRegistry()
	broken := schema.MustEntity("Broken",
		schema.Field{Name: "company", Kind: schema.KindInt},
		schema.Field{
			Name:      "address",
			Kind:      schema.KindReference,
			Reference: compositefk.MustNew("Address", map[string]string{"tiers_id": "customer_id"}),
		},
	)
	if err := reg.Register(broken); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	_, err := Open(filepath.Join(t.TempDir(), "test.db"), reg, WithLogger(discardLogger()))
	if err == nil {
		t.Fatal("expected error for invalid references, got nil")
	}
	if !strings.Contains(err.Error(), "invalid composite references") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	err := s.Close()
	if err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestClose_MultipleCalls(t *testing.T) {
	s := openTestPath(t, filepath.Join(t.TempDir(), "test.db"))

	if err := s.Close(); err != nil {
		t.Errorf("first Close() failed: %v", err)
	}

	// Second close should not panic (though may error)
	_ = s.Close()
}

func TestDB_ReturnsUnderlyingConnection(t *testing.T) {
	s := openTestPath(t, filepath.Join(t.TempDir(), "test.db"))
	defer s.Close()

	db := s.DB()
	if db == nil {
		t.Fatal("DB() returned nil")
	}

	if err := db.Ping(); err != nil {
		t.Errorf("DB() connection not usable: %v", err)
	}
}

// Pragma tests

func TestPragmas(t *testing.T) {
	s, _ := createTestStore(t)

	tests := []struct {
		name string
		want string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"}, // ON
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.verifyPragma(tt.name, tt.want); err != nil {
				t.Error(err)
			}
		})
	}
}

// Schema tests

func TestSchema_EntityColumns(t *testing.T) {
	s, _ := createTestStore(t)

	got := getTableColumns(t, s.db, "customer")
	want := []string{"id", "company", "customer_id", "name", "cod_rep"}

	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("customer columns = %v, want %v (reference fields have no column)", got, want)
	}
}

func TestSchema_ReferenceIndexes(t *testing.T) {
	s, _ := createTestStore(t)

	tests := []struct {
		table string
		index string
	}{
		{"customer", "idx_customer_address"},
		{"customer", "idx_customer_representant"},
		{"contact", "idx_contact_customer"},
		{"extra", "idx_extra_customer"},
	}

	for _, tt := range tests {
		if !contains(getTableIndexes(t, s.db, tt.table), tt.index) {
			t.Errorf("%s table missing index %q", tt.table, tt.index)
		}
	}
}

func TestSchema_UniqueReferenceIndex(t *testing.T) {
	s, ts := createTestStore(t)
	ctx := context.Background()

	mustInsert(t, s, ts.newExtra(1, 5, 100))
	if _, err := s.Insert(ctx, ts.newExtra(1, 5, 200)); err == nil {
		t.Error("expected UNIQUE violation for a second extra of the same customer")
	}

	// A different customer is fine.
	mustInsert(t, s, ts.newExtra(1, 6, 200))
}

func TestSchema_NotNullColumns(t *testing.T) {
	s, ts := createTestStore(t)

	inst := schema.NewInstance(ts.customer) // company and customer_id unset
	if _, err := s.Insert(context.Background(), inst); err == nil {
		t.Error("expected NOT NULL violation, got nil")
	}

	// Nullable columns accept NULL.
	mustInsert(t, s, ts.newRepresentant(1, "DB"))
}

func TestMigration_SetsUserVersion(t *testing.T) {
	s, _ := createTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d after migration", version, currentSchemaVersion)
	}

	if !contains(getTableIndexes(t, s.db, "compositefk_declarations"), "idx_declarations_fingerprint") {
		t.Error("compositefk_declarations missing index idx_declarations_fingerprint")
	}
}

// Helper functions

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info for %q: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to get indexes for %q: %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
