package sqlite

import (
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
)

const title = "བཀྲ་ཤིས་"

// seed creates a one-table database holding a single annotation row.
func seed(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()
	stmts := []string{
		`CREATE TABLE annotations (id TEXT PRIMARY KEY, value TEXT)`,
		`INSERT INTO annotations VALUES ('a1', '` + title + `')`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("Exec(%q) error = %v", stmt, err)
		}
	}
	return path
}

func lookup(t *testing.T, db *sql.DB) string {
	t.Helper()
	var v string
	if err := db.QueryRow(`SELECT value FROM annotations WHERE id = 'a1'`).Scan(&v); err != nil {
		t.Fatalf("query error = %v", err)
	}
	return v
}

func TestGetInfo(t *testing.T) {
	info := GetInfo()
	want := map[string]struct {
		name, pkg string
		cgo       bool
	}{
		"purego": {"sqlite", "modernc.org/sqlite", false},
		"cgo":    {"sqlite3", "github.com/mattn/go-sqlite3", true},
	}
	w, ok := want[info.DriverType]
	if !ok {
		t.Fatalf("unknown driver type %q", info.DriverType)
	}
	if info.DriverName != w.name || info.Package != w.pkg || info.IsCGO != w.cgo || IsCGO() != w.cgo {
		t.Errorf("GetInfo() = %+v", info)
	}
}

func TestOpenRoundTrip(t *testing.T) {
	db, err := Open(seed(t))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if got := lookup(t, db); got != title {
		t.Errorf("value = %q, want %q", got, title)
	}
}

func TestOpenReadOnly(t *testing.T) {
	db, err := OpenReadOnly(seed(t))
	if err != nil {
		t.Fatalf("OpenReadOnly() error = %v", err)
	}
	defer db.Close()
	if got := lookup(t, db); got != title {
		t.Errorf("value = %q, want %q", got, title)
	}
	if _, err := db.Exec(`INSERT INTO annotations VALUES ('a2', 'x')`); err == nil {
		t.Error("write to read-only database succeeded")
	}
}

func TestForeignKeys(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "fk.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	stmts := []string{
		`CREATE TABLE stores (name TEXT PRIMARY KEY)`,
		`CREATE TABLE annotations (store TEXT REFERENCES stores(name), id TEXT)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := db.Exec(`INSERT INTO annotations VALUES ('P1', 'a1')`); err == nil {
		t.Error("insert referencing a missing store succeeded")
	}
}

func TestWithPragmas(t *testing.T) {
	tests := []struct {
		dsn, sep string
	}{
		{"index.db", "?"},
		{"file:index.db?mode=ro", "&"},
	}
	for _, tt := range tests {
		got := withPragmas(tt.dsn)
		if !strings.HasPrefix(got, tt.dsn+tt.sep) || strings.Count(got, "?") != 1 {
			t.Errorf("withPragmas(%q) = %q", tt.dsn, got)
		}
	}
}
