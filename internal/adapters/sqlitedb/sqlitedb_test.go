package sqlitedb

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
)

func TestSplitStatements(t *testing.T) {
	script := `-- leading comment
CREATE TABLE a (id INTEGER);
-- another
CREATE INDEX idx_a ON a(id);

`
	got := SplitStatements(script)
	want := []string{"CREATE TABLE a (id INTEGER)", "CREATE INDEX idx_a ON a(id)"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SplitStatements() = %#v, want %#v", got, want)
	}
}

func TestMigrate_AppliesOnce(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "nested", "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	migrations := []string{
		"CREATE TABLE items (id TEXT PRIMARY KEY)",
		"ALTER TABLE items ADD COLUMN name TEXT",
	}
	if err := Migrate(db, "test_migrations", migrations); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	// Re-running must not re-apply the ALTER.
	if err := Migrate(db, "test_migrations", migrations); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}

	var version int
	if err := db.QueryRow("SELECT MAX(version) FROM test_migrations").Scan(&version); err != nil {
		t.Fatalf("reading version: %v", err)
	}
	if version != 2 {
		t.Errorf("version = %d, want 2", version)
	}
	if _, err := db.Exec("INSERT INTO items (id, name) VALUES ('a', 'b')"); err != nil {
		t.Errorf("migrated schema unusable: %v", err)
	}
}

func TestMigrate_FailureRollsBack(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := Migrate(db, "m", []string{"CREATE TABLE ok (id INTEGER); NOT VALID SQL"}); err == nil {
		t.Fatal("expected migration error")
	}
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM m").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("failed migration recorded %d versions", n)
	}
}

func TestRetryWrite(t *testing.T) {
	calls := 0
	err := RetryWrite(context.Background(), "insert", func() error {
		calls++
		if calls < 2 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RetryWrite: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}

	plain := errors.New("constraint failed")
	if err := RetryWrite(context.Background(), "insert", func() error { return plain }); !errors.Is(err, plain) {
		t.Errorf("non-busy error should be returned as is, got %v", err)
	}
}

func TestIsBusy(t *testing.T) {
	if IsBusy(nil) {
		t.Error("nil is not busy")
	}
	if !IsBusy(errors.New("SQLITE_BUSY: retry")) {
		t.Error("expected busy")
	}
	if IsBusy(errors.New("no such table")) {
		t.Error("expected not busy")
	}
}
