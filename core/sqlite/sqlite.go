// Package sqlite selects the SQLite driver behind the annotation index.
//
// The pure Go modernc.org/sqlite driver is compiled in by default. Building
// with -tags cgo_sqlite (CGO_ENABLED=1) switches to mattn/go-sqlite3. Callers
// go through Open so the registered driver name and its DSN dialect always
// match.
package sqlite

import (
	"database/sql"
	"strings"
)

// Info describes the compiled-in driver.
type Info struct {
	DriverName string `json:"driver_name"`
	DriverType string `json:"driver_type"` // "purego" or "cgo"
	IsCGO      bool   `json:"is_cgo"`
	Package    string `json:"package"`
}

// GetInfo reports the driver selected at build time.
func GetInfo() Info {
	return Info{
		DriverName: driverName,
		DriverType: driverType,
		IsCGO:      IsCGO(),
		Package:    driverPackage,
	}
}

// IsCGO reports whether mattn/go-sqlite3 is in use.
func IsCGO() bool { return driverType == "cgo" }

// Open opens dsn with foreign key enforcement on every connection.
func Open(dsn string) (*sql.DB, error) {
	return sql.Open(driverName, withPragmas(dsn))
}

// OpenReadOnly opens the database file at path without write access.
func OpenReadOnly(path string) (*sql.DB, error) {
	return Open("file:" + path + "?mode=ro")
}

// withPragmas appends the foreign key switch in the dialect of the driver.
func withPragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	pragma := "_pragma=foreign_keys(1)"
	if IsCGO() {
		pragma = "_foreign_keys=on"
	}
	return dsn + sep + pragma
}
