//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Registers the sqlite-vec extension as auto-loadable for every
	// connection opened through the mattn/go-sqlite3 driver.
	vec.Auto()
}
