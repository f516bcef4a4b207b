//go:build cgo && sqlite3_cgo

package db

// cgo sqlite driver, opt-in via the sqlite3_cgo build tag.

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	driverName = "sqlite3"
	driverID   = "mattn/go-sqlite3"
)
