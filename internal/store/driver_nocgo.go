//go:build !cgo

package store

import (
	_ "modernc.org/sqlite"
)

// driverName is the database/sql driver name Open connects through. Without
// cgo, mattn/go-sqlite3 cannot build, so this falls back to modernc.org's
// pure-Go driver; the sqlite_vec ANN index is unavailable on this path
// (vecext.go is gated cgo-only), so Store.probeVec reports vecAvailable =
// false and the vector store falls back to an exact scan.
const driverName = "sqlite"
