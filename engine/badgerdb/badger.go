// Package badgerdb implements a durable engine on BadgerDB. A database is a
// Badger directory; tables share its keyspace under per-table prefixes.
package badgerdb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/Jeanedlune/idbkv/engine"
)

// Key layout:
//
//	\x00v           schema version (8 bytes, big endian)
//	\x00t<name>     table registry entry
//	\x01<name>\x00<key>  table data
var (
	versionKey  = []byte("\x00v")
	tablePrefix = []byte("\x00t")
)

func dataPrefix(table string) []byte {
	p := make([]byte, 0, len(table)+2)
	p = append(p, 0x01)
	p = append(p, table...)
	return append(p, 0x00)
}

// Factory opens Badger databases under Dir, or purely in memory
type Factory struct {
	Dir      string
	InMemory bool
}

// NewFactory creates a Factory storing databases under dir
func NewFactory(dir string) *Factory {
	return &Factory{Dir: dir}
}

// Open implements engine.Factory
func (f *Factory) Open(name string, version int, upgrade engine.UpgradeFunc) (engine.Database, error) {
	if err := engine.ValidateName(name); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(filepath.Join(f.Dir, name))
	if f.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil // Disable Badger's default logger

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}

	stored := 0
	err = db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(versionKey)
		switch {
		case err == nil:
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if len(v) == 8 {
				stored = int(binary.BigEndian.Uint64(v))
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		switch {
		case version < stored:
			return fmt.Errorf("%w: %s has version %d, requested %d", engine.ErrVersion, name, stored, version)
		case version == stored:
			return nil
		}

		if upgrade != nil {
			if err := upgrade(&upgradeTx{txn: txn}, stored, version); err != nil {
				return fmt.Errorf("failed to upgrade %s: %w", name, err)
			}
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(version))
		return txn.Set(versionKey, buf)
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	if stored < version {
		stored = version
	}
	return &database{name: name, version: stored, db: db}, nil
}

func tableKey(name string) []byte {
	return append(append([]byte{}, tablePrefix...), name...)
}

func hasTable(txn *badger.Txn, name string) (bool, error) {
	_, err := txn.Get(tableKey(name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

type upgradeTx struct {
	txn *badger.Txn
}

func (u *upgradeTx) HasTable(name string) bool {
	ok, _ := hasTable(u.txn, name)
	return ok
}

func (u *upgradeTx) CreateTable(name string) error {
	if err := engine.ValidateName(name); err != nil {
		return err
	}
	if u.HasTable(name) {
		return fmt.Errorf("table %s already exists", name)
	}
	return u.txn.Set(tableKey(name), []byte{1})
}

// database wraps an open BadgerDB. Badger transactions are optimistic, so
// read-write transactions take writeMu to run one at a time instead of
// failing each other's commits with ErrConflict.
type database struct {
	name    string
	version int
	db      *badger.DB
	writeMu sync.Mutex
}

func (d *database) Name() string { return d.name }
func (d *database) Version() int { return d.version }

// Close closes the database
func (d *database) Close() error {
	return d.db.Close()
}

func (d *database) Begin(table string, mode engine.Mode) (engine.Tx, error) {
	if d.db.IsClosed() {
		return nil, engine.ErrClosed
	}

	t := &tx{mode: mode, prefix: dataPrefix(table)}
	if mode == engine.ReadWrite {
		d.writeMu.Lock()
		t.unlock = d.writeMu.Unlock
	}

	t.txn = d.db.NewTransaction(mode == engine.ReadWrite)
	ok, err := hasTable(t.txn, table)
	if err == nil && !ok {
		err = fmt.Errorf("%w: %s", engine.ErrTableNotFound, table)
	}
	if err != nil {
		t.release()
		return nil, err
	}
	return t, nil
}

type tx struct {
	txn     *badger.Txn
	mode    engine.Mode
	prefix  []byte
	cursors []*cursor
	unlock  func()
	done    bool
}

func (t *tx) Mode() engine.Mode   { return t.mode }
func (t *tx) Table() engine.Table { return (*table)(t) }

// finish closes open iterators; Badger refuses to discard a transaction
// while any are still open.
func (t *tx) finish() {
	t.done = true
	for _, c := range t.cursors {
		c.close()
	}
	t.cursors = nil
}

// release discards the Badger transaction and lets the next writer in.
func (t *tx) release() {
	t.txn.Discard()
	if t.unlock != nil {
		t.unlock()
		t.unlock = nil
	}
}

func (t *tx) Commit() error {
	if t.done {
		return engine.ErrTxDone
	}
	t.finish()
	defer t.release()
	if t.mode == engine.ReadWrite {
		return t.txn.Commit()
	}
	return nil
}

func (t *tx) Abort() error {
	if t.done {
		return engine.ErrTxDone
	}
	t.finish()
	t.release()
	return nil
}

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

func (s *table) key(k string) []byte {
	return append(append([]byte{}, s.prefix...), k...)
}

// Get retrieves a value by key
func (s *table) Get(key string) ([]byte, bool, error) {
	if err := s.check(false); err != nil {
		return nil, false, err
	}
	item, err := s.txn.Get(s.key(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Put stores a value for a key
func (s *table) Put(key string, value []byte) error {
	if err := s.check(true); err != nil {
		return err
	}
	return s.txn.Set(s.key(key), value)
}

// Delete removes a key from the table
func (s *table) Delete(key string) error {
	if err := s.check(true); err != nil {
		return err
	}
	return s.txn.Delete(s.key(key))
}

// Clear deletes every key under the table prefix
func (s *table) Clear() error {
	if err := s.check(true); err != nil {
		return err
	}

	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = s.prefix
	it := s.txn.NewIterator(opts)
	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, k := range keys {
		if err := s.txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
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
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = !keysOnly
	opts.Prefix = s.prefix

	c := &cursor{table: s, it: s.txn.NewIterator(opts), keysOnly: keysOnly}
	c.it.Rewind()
	s.cursors = append(s.cursors, c)
	return c, nil
}

type cursor struct {
	table    *table
	it       *badger.Iterator
	keysOnly bool
	closed   bool
}

func (c *cursor) Valid() bool {
	return !c.closed && c.it.Valid()
}

func (c *cursor) Key() string {
	if !c.Valid() {
		return ""
	}
	return string(c.it.Item().Key()[len(c.table.prefix):])
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
	return c.it.Item().ValueCopy(nil)
}

func (c *cursor) Next() error {
	if c.table.done {
		return engine.ErrTxDone
	}
	if c.Valid() {
		c.it.Next()
	}
	return nil
}

func (c *cursor) Close() error {
	c.close()
	return nil
}

func (c *cursor) close() {
	if !c.closed {
		c.closed = true
		c.it.Close()
	}
}
