//go:build !sqlite3_cgo

package db

// Pure-Go sqlite driver (wasm build), the default so that cross-compiled
// release binaries need no C toolchain.

import (
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const (
	driverName = "sqlite3"
	driverID   = "ncruces/go-sqlite3"
)
