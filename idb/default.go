package idb

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/Jeanedlune/idbkv/engine"
	"github.com/Jeanedlune/idbkv/engine/boltdb"
)

var (
	defaultMu      sync.Mutex
	defaultFactory engine.Factory
	defaultStore   *Store
)

// SetFactory installs the engine behind the package-level Store. It has no
// effect once the default Store has been created by a first call.
func SetFactory(f engine.Factory) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultStore == nil {
		defaultFactory = f
	}
}

// Default returns the process-wide Store named DefaultName/DefaultStoreName,
// creating it on first call. Without SetFactory it uses a Bolt file in the
// user cache directory.
func Default() *Store {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultStore == nil {
		f := defaultFactory
		if f == nil {
			f = boltdb.NewFactory(defaultDir())
		}
		defaultStore = New(f)
	}
	return defaultStore
}

func defaultDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "idbkv")
}

// Name is the default Store's database name.
func Name() string { return DefaultName }

// StoreName is the default Store's table name.
func StoreName() string { return DefaultStoreName }

// Get reads key from the default Store.
func Get(key string) (any, error) { return Default().Get(key) }

// Set writes key in the default Store.
func Set(key string, value any) error { return Default().Set(key, value) }

// Remove deletes key from the default Store.
func Remove(key string) error { return Default().Remove(key) }

// Clear empties the default Store.
func Clear() error { return Default().Clear() }

// Keys lists the keys of the default Store.
func Keys() ([]string, error) { return Default().Keys() }
