// Package engine defines the transactional object-store contract the idb facade
// runs on. A Factory opens versioned databases, a Database hands out
// transactions scoped to a single table, and a Table offers point operations
// plus a forward cursor.
package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrReadOnly      = errors.New("write attempted in a read-only transaction")
	ErrTxDone        = errors.New("transaction has already finished")
	ErrTableNotFound = errors.New("table not found")
	ErrVersion       = errors.New("requested version is lower than the stored version")
	ErrClosed        = errors.New("database is closed")
	ErrInvalidName   = errors.New("invalid name")
)

// Mode is the access mode of a transaction.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

func (m Mode) String() string {
	switch m {
	case ReadOnly:
		return "readonly"
	case ReadWrite:
		return "readwrite"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Factory opens databases by name.
type Factory interface {
	// Open opens the named database at the given version. When the stored
	// version is lower than version, upgrade runs inside the open sequence
	// before the database is returned.
	Open(name string, version int, upgrade UpgradeFunc) (Database, error)
}

// UpgradeFunc initializes schema when a database is created or its version
// is raised.
type UpgradeFunc func(tx UpgradeTx, oldVersion, newVersion int) error

// UpgradeTx is the schema view available during an upgrade.
type UpgradeTx interface {
	HasTable(name string) bool
	CreateTable(name string) error
}

// Database is an open connection to a named database.
type Database interface {
	Name() string
	Version() int
	// Begin starts a transaction scoped to table.
	Begin(table string, mode Mode) (Tx, error)
	Close() error
}

// Tx is a transaction over a single table. Exactly one of Commit or Abort
// finishes it; any later call returns ErrTxDone.
type Tx interface {
	Mode() Mode
	Table() Table
	Commit() error
	Abort() error
}

// Table is the object store a transaction is scoped to.
type Table interface {
	// Get returns the value for key and whether it exists.
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
	Clear() error
	// OpenCursor opens a forward cursor over keys and values in ascending
	// key order, positioned on the first entry.
	OpenCursor() (Cursor, error)
}

// KeyCursorOpener is implemented by tables that can traverse keys without
// loading values.
type KeyCursorOpener interface {
	OpenKeyCursor() (Cursor, error)
}

// KeyLister is implemented by tables with a direct bulk key fetch.
type KeyLister interface {
	AllKeys() ([]string, error)
}

// Cursor walks a table forward. Value returns an error on key-only cursors.
type Cursor interface {
	Valid() bool
	Key() string
	Value() ([]byte, error)
	Next() error
	Close() error
}

// ErrKeyOnly is returned by Value on a cursor opened with OpenKeyCursor.
var ErrKeyOnly = errors.New("cursor does not carry values")

// ValidateName rejects database and table names that engines cannot encode.
func ValidateName(name string) error {
	if name == "" || strings.ContainsRune(name, 0) || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
