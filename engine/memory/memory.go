// Package memory implements an in-process engine. Databases live as long as
// their Factory, which makes it the engine of choice for tests.
package memory

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/Jeanedlune/idbkv/engine"
)

// Factory holds in-memory databases by name
type Factory struct {
	mu  sync.Mutex
	dbs map[string]*database
}

// NewFactory creates a new instance of Factory
func NewFactory() *Factory {
	return &Factory{
		dbs: make(map[string]*database),
	}
}

type database struct {
	mu      sync.RWMutex
	version int
	tables  map[string]map[string][]byte
}

// Open implements engine.Factory
func (f *Factory) Open(name string, version int, upgrade engine.UpgradeFunc) (engine.Database, error) {
	if err := engine.ValidateName(name); err != nil {
		return nil, err
	}

	f.mu.Lock()
	db, ok := f.dbs[name]
	if !ok {
		db = &database{tables: make(map[string]map[string][]byte)}
		f.dbs[name] = db
	}
	f.mu.Unlock()

	db.mu.Lock()
	defer db.mu.Unlock()

	switch {
	case version < db.version:
		return nil, fmt.Errorf("%w: %s has version %d, requested %d", engine.ErrVersion, name, db.version, version)
	case version > db.version:
		if upgrade != nil {
			staged := &upgradeTx{tables: make(map[string]struct{})}
			for t := range db.tables {
				staged.tables[t] = struct{}{}
			}
			if err := upgrade(staged, db.version, version); err != nil {
				return nil, fmt.Errorf("failed to upgrade %s: %w", name, err)
			}
			for t := range staged.tables {
				if _, exists := db.tables[t]; !exists {
					db.tables[t] = make(map[string][]byte)
				}
			}
		}
		db.version = version
	}

	return &conn{name: name, db: db}, nil
}

type upgradeTx struct {
	tables map[string]struct{}
}

func (u *upgradeTx) HasTable(name string) bool {
	_, ok := u.tables[name]
	return ok
}

func (u *upgradeTx) CreateTable(name string) error {
	if err := engine.ValidateName(name); err != nil {
		return err
	}
	if u.HasTable(name) {
		return fmt.Errorf("table %s already exists", name)
	}
	u.tables[name] = struct{}{}
	return nil
}

// conn is one connection to a shared in-memory database.
type conn struct {
	name   string
	db     *database
	closed atomic.Bool
}

func (c *conn) Name() string { return c.name }

func (c *conn) Version() int {
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	return c.db.version
}

func (c *conn) Close() error {
	c.closed.Store(true)
	return nil
}

// Begin takes the database read lock for read-only transactions and the
// write lock for read-write ones, so writers are serialized.
func (c *conn) Begin(table string, mode engine.Mode) (engine.Tx, error) {
	if c.closed.Load() {
		return nil, engine.ErrClosed
	}

	if mode == engine.ReadWrite {
		c.db.mu.Lock()
	} else {
		c.db.mu.RLock()
	}

	data, ok := c.db.tables[table]
	if !ok {
		c.unlock(mode)
		return nil, fmt.Errorf("%w: %s", engine.ErrTableNotFound, table)
	}

	tx := &tx{conn: c, mode: mode, name: table, data: data}
	if mode == engine.ReadWrite {
		// Writes go to a working copy that replaces the table on commit.
		tx.data = make(map[string][]byte, len(data))
		for k, v := range data {
			tx.data[k] = v
		}
	}
	return tx, nil
}

func (c *conn) unlock(mode engine.Mode) {
	if mode == engine.ReadWrite {
		c.db.mu.Unlock()
	} else {
		c.db.mu.RUnlock()
	}
}

type tx struct {
	conn *conn
	mode engine.Mode
	name string
	data map[string][]byte
	done bool
}

func (t *tx) Mode() engine.Mode   { return t.mode }
func (t *tx) Table() engine.Table { return (*table)(t) }

func (t *tx) Commit() error {
	if t.done {
		return engine.ErrTxDone
	}
	t.done = true
	if t.mode == engine.ReadWrite {
		t.conn.db.tables[t.name] = t.data
	}
	t.conn.unlock(t.mode)
	return nil
}

func (t *tx) Abort() error {
	if t.done {
		return engine.ErrTxDone
	}
	t.done = true
	t.conn.unlock(t.mode)
	return nil
}

// table implements engine.Table over a transaction's view of the data.
type table tx

func (s *table) check(write bool) error {
	if s.done {
		return engine.ErrTxDone
	}
	if write && s.mode != engine.ReadWrite {
		return engine.ErrReadOnly
	}
	return nil
}

// Get retrieves a value by key
func (s *table) Get(key string) ([]byte, bool, error) {
	if err := s.check(false); err != nil {
		return nil, false, err
	}
	val, exists := s.data[key]
	if !exists {
		return nil, false, nil
	}
	return append([]byte(nil), val...), true, nil
}

// Put stores a value for a key
func (s *table) Put(key string, value []byte) error {
	if err := s.check(true); err != nil {
		return err
	}
	s.data[key] = append([]byte(nil), value...)
	return nil
}

// Delete removes a key from the table
func (s *table) Delete(key string) error {
	if err := s.check(true); err != nil {
		return err
	}
	delete(s.data, key)
	return nil
}

func (s *table) Clear() error {
	if err := s.check(true); err != nil {
		return err
	}
	s.data = make(map[string][]byte)
	return nil
}

// AllKeys returns every key in ascending order
func (s *table) AllKeys() ([]string, error) {
	if err := s.check(false); err != nil {
		return nil, err
	}
	return s.sortedKeys(), nil
}

func (s *table) sortedKeys() []string {
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *table) OpenCursor() (engine.Cursor, error) {
	return s.openCursor(false)
}

func (s *table) OpenKeyCursor() (engine.Cursor, error) {
	return s.openCursor(true)
}

func (s *table) openCursor(keysOnly bool) (engine.Cursor, error) {
	if err := s.check(false); err != nil {
		return nil, err
	}
	return &cursor{table: s, keys: s.sortedKeys(), keysOnly: keysOnly}, nil
}

// cursor walks a sorted snapshot of the keys present when it was opened.
type cursor struct {
	table    *table
	keys     []string
	pos      int
	keysOnly bool
}

func (c *cursor) Valid() bool {
	return !c.table.done && c.pos < len(c.keys)
}

func (c *cursor) Key() string {
	if !c.Valid() {
		return ""
	}
	return c.keys[c.pos]
}

func (c *cursor) Value() ([]byte, error) {
	if c.keysOnly {
		return nil, engine.ErrKeyOnly
	}
	if c.table.done {
		return nil, engine.ErrTxDone
	}
	if !c.Valid() {
		return nil, nil
	}
	return append([]byte(nil), c.table.data[c.keys[c.pos]]...), nil
}

func (c *cursor) Next() error {
	if c.table.done {
		return engine.ErrTxDone
	}
	if c.pos < len(c.keys) {
		c.pos++
	}
	return nil
}

func (c *cursor) Close() error {
	c.pos = len(c.keys)
	return nil
}
