// Package store persists marketplace snapshots. The ledger loads one
// snapshot at startup and writes the full snapshot back after every
// mutation; how the bytes land on disk is the backend's business.
package store

import (
	"fmt"

	"github.com/ryazanovegor/oliva-space/internal/domain"
)

// Store is a snapshot persistence backend.
type Store interface {
	Load() (domain.Snapshot, error)
	Save(domain.Snapshot) error
}

// Open returns the backend named by driver: "json" or "sqlite".
func Open(driver, path string) (Store, error) {
	switch driver {
	case "", "json":
		return NewFileStore(path), nil
	case "sqlite":
		return OpenSQLiteStore(path)
	}
	return nil, fmt.Errorf("unknown storage driver %q", driver)
}
