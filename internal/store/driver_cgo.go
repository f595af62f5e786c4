//go:build cgo

package store

import (
	_ "github.com/mattn/go-sqlite3"
)

// driverName is the database/sql driver name Open connects through. The cgo
// build uses mattn/go-sqlite3, the driver vecext.go's sqlite-vec extension
// registers against.
const driverName = "sqlite3"
