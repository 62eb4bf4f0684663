// Package boltdb implements a durable engine on BoltDB. Each database is a
// single file and each table is a top-level bucket.
package boltdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"

	"github.com/Jeanedlune/idbkv/engine"
)

// metaBucket holds the schema version. The leading zero byte keeps it out of
// the table namespace, which engine.ValidateName guards.
var (
	metaBucket = []byte("\x00meta")
	versionKey = []byte("version")
)

// Bolt refuses empty keys, so every table key is stored behind keyTag and
// the empty string stays a valid key.
const keyTag = 'k'

func encodeKey(key string) []byte {
	b := make([]byte, 0, len(key)+1)
	b = append(b, keyTag)
	return append(b, key...)
}

// Factory opens Bolt files under Dir
type Factory struct {
	Dir string
	// Timeout bounds the wait for the file lock held by another connection.
	Timeout time.Duration
}

// NewFactory creates a Factory storing databases under dir
func NewFactory(dir string) *Factory {
	return &Factory{Dir: dir, Timeout: time.Second}
}

// Path returns the file backing the named database
func (f *Factory) Path(name string) string {
	return filepath.Join(f.Dir, name+".db")
}

// Open implements engine.Factory
func (f *Factory) Open(name string, version int, upgrade engine.UpgradeFunc) (engine.Database, error) {
	if err := engine.ValidateName(name); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", f.Dir, err)
	}

	db, err := bolt.Open(f.Path(name), 0o600, &bolt.Options{Timeout: f.Timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}

	stored := 0
	err = db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		if v := meta.Get(versionKey); len(v) == 8 {
			stored = int(binary.BigEndian.Uint64(v))
		}

		switch {
		case version < stored:
			return fmt.Errorf("%w: %s has version %d, requested %d", engine.ErrVersion, name, stored, version)
		case version == stored:
			return nil
		}

		if upgrade != nil {
			if err := upgrade(&upgradeTx{tx: tx}, stored, version); err != nil {
				return fmt.Errorf("failed to upgrade %s: %w", name, err)
			}
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(version))
		return meta.Put(versionKey, buf)
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

type upgradeTx struct {
	tx *bolt.Tx
}

func (u *upgradeTx) HasTable(name string) bool {
	return u.tx.Bucket([]byte(name)) != nil
}

func (u *upgradeTx) CreateTable(name string) error {
	if err := engine.ValidateName(name); err != nil {
		return err
	}
	_, err := u.tx.CreateBucket([]byte(name))
	return err
}

// database wraps an open Bolt file
type database struct {
	name    string
	version int
	db      *bolt.DB
}

func (d *database) Name() string { return d.name }
func (d *database) Version() int { return d.version }

// Close closes the database
func (d *database) Close() error {
	return d.db.Close()
}

func (d *database) Begin(table string, mode engine.Mode) (engine.Tx, error) {
	btx, err := d.db.Begin(mode == engine.ReadWrite)
	if err != nil {
		if err == bolt.ErrDatabaseNotOpen {
			return nil, engine.ErrClosed
		}
		return nil, err
	}

	name := []byte(table)
	if bytes.Equal(name, metaBucket) || btx.Bucket(name) == nil {
		_ = btx.Rollback()
		return nil, fmt.Errorf("%w: %s", engine.ErrTableNotFound, table)
	}
	return &tx{btx: btx, mode: mode, name: name}, nil
}

type tx struct {
	btx  *bolt.Tx
	mode engine.Mode
	name []byte
	done bool
}

func (t *tx) Mode() engine.Mode   { return t.mode }
func (t *tx) Table() engine.Table { return (*table)(t) }

// Commit commits read-write transactions; read-only ones are released.
func (t *tx) Commit() error {
	if t.done {
		return engine.ErrTxDone
	}
	t.done = true
	if t.mode == engine.ReadWrite {
		return t.btx.Commit()
	}
	return t.btx.Rollback()
}

func (t *tx) Abort() error {
	if t.done {
		return engine.ErrTxDone
	}
	t.done = true
	return t.btx.Rollback()
}

type table tx

func (s *table) bucket(write bool) (*bolt.Bucket, error) {
	if s.done {
		return nil, engine.ErrTxDone
	}
	if write && s.mode != engine.ReadWrite {
		return nil, engine.ErrReadOnly
	}
	b := s.btx.Bucket(s.name)
	if b == nil {
		return nil, fmt.Errorf("%w: %s", engine.ErrTableNotFound, s.name)
	}
	return b, nil
}

// Get retrieves a value by key
func (s *table) Get(key string) ([]byte, bool, error) {
	b, err := s.bucket(false)
	if err != nil {
		return nil, false, err
	}
	v := b.Get(encodeKey(key))
	if v == nil {
		return nil, false, nil
	}
	// Bolt values are only valid for the life of the transaction.
	return append([]byte{}, v...), true, nil
}

// Put stores a value for a key
func (s *table) Put(key string, value []byte) error {
	b, err := s.bucket(true)
	if err != nil {
		return err
	}
	return b.Put(encodeKey(key), value)
}

// Delete removes a key from the table
func (s *table) Delete(key string) error {
	b, err := s.bucket(true)
	if err != nil {
		return err
	}
	return b.Delete(encodeKey(key))
}

// Clear drops and recreates the bucket
func (s *table) Clear() error {
	if _, err := s.bucket(true); err != nil {
		return err
	}
	if err := s.btx.DeleteBucket(s.name); err != nil {
		return err
	}
	_, err := s.btx.CreateBucket(s.name)
	return err
}

func (s *table) OpenCursor() (engine.Cursor, error) {
	b, err := s.bucket(false)
	if err != nil {
		return nil, err
	}
	c := &cursor{table: s, c: b.Cursor()}
	c.k, c.v = c.c.First()
	return c, nil
}

type cursor struct {
	table *table
	c     *bolt.Cursor
	k, v  []byte
}

func (c *cursor) Valid() bool {
	return !c.table.done && c.k != nil
}

func (c *cursor) Key() string {
	if !c.Valid() {
		return ""
	}
	return string(c.k[1:])
}

func (c *cursor) Value() ([]byte, error) {
	if c.table.done {
		return nil, engine.ErrTxDone
	}
	if c.k == nil {
		return nil, nil
	}
	return append([]byte{}, c.v...), nil
}

func (c *cursor) Next() error {
	if c.table.done {
		return engine.ErrTxDone
	}
	if c.k != nil {
		c.k, c.v = c.c.Next()
	}
	return nil
}

func (c *cursor) Close() error {
	c.k, c.v = nil, nil
	return nil
}
