package configs

import (
	"fmt"
	"path/filepath"

	"github.com/Jeanedlune/idbkv/engine"
	"github.com/Jeanedlune/idbkv/engine/badgerdb"
	"github.com/Jeanedlune/idbkv/engine/boltdb"
	"github.com/Jeanedlune/idbkv/engine/memory"
	"github.com/Jeanedlune/idbkv/engine/sqlite"
	"github.com/Jeanedlune/idbkv/idb"
)

// Factory returns the engine selected by storage.type. Durable engines keep
// their files in a subdirectory of storage.data_dir named after the engine.
func (c *Config) Factory() (engine.Factory, error) {
	dir := filepath.Join(c.Storage.DataDir, c.Storage.Type)
	switch c.Storage.Type {
	case "bolt":
		return boltdb.NewFactory(dir), nil
	case "badger":
		return badgerdb.NewFactory(dir), nil
	case "sqlite":
		return sqlite.NewFactory(dir), nil
	case "memory":
		return memory.NewFactory(), nil
	}
	return nil, fmt.Errorf("unknown storage type %q", c.Storage.Type)
}

// OpenStore creates the Store described by the configuration. The database
// itself is opened on first use.
func (c *Config) OpenStore() (*idb.Store, error) {
	f, err := c.Factory()
	if err != nil {
		return nil, err
	}
	return idb.New(f,
		idb.WithName(c.Database.Name),
		idb.WithStoreName(c.Database.StoreName),
	), nil
}
