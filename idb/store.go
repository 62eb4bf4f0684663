// Package idb is a key-value facade over a transactional object-store engine
// with a get/set/remove/clear/keys surface. A Store opens its database lazily
// on first use, runs every operation in its own transaction scoped to one
// table, and stores structured values through package codec.
package idb

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Jeanedlune/idbkv/codec"
	"github.com/Jeanedlune/idbkv/engine"
)

const (
	DefaultName      = "composi-idb"
	DefaultStoreName = "composi-store"
	// Version is the schema version every Store opens its database at.
	Version = 1
)

// Store is a lazily opened database/table pair. It is safe for concurrent
// use.
type Store struct {
	name      string
	storeName string
	factory   engine.Factory

	// connection memoizes the database or the open failure for the Store's
	// lifetime. A failed open is never retried.
	connection func() (engine.Database, error)
	started    atomic.Bool
}

// Option configures a Store.
type Option func(*Store)

// WithName sets the database name.
func WithName(name string) Option {
	return func(s *Store) { s.name = name }
}

// WithStoreName sets the table name.
func WithStoreName(name string) Option {
	return func(s *Store) { s.storeName = name }
}

// New creates a Store on factory. Nothing is opened until the first
// operation.
func New(factory engine.Factory, opts ...Option) *Store {
	s := &Store{
		name:      DefaultName,
		storeName: DefaultStoreName,
		factory:   factory,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.connection = sync.OnceValues(s.connect)
	return s
}

func (s *Store) open() (engine.Database, error) {
	s.started.Store(true)
	return s.connection()
}

// Name returns the database name.
func (s *Store) Name() string { return s.name }

// StoreName returns the table name.
func (s *Store) StoreName() string { return s.storeName }

func (s *Store) connect() (engine.Database, error) {
	if s.factory == nil {
		return nil, fmt.Errorf("failed to open %s: no engine factory", s.name)
	}
	db, err := s.factory.Open(s.name, Version, s.upgrade)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", s.name, err)
	}
	return db, nil
}

// upgrade creates the table the first time the database is opened.
func (s *Store) upgrade(tx engine.UpgradeTx, _, _ int) error {
	if tx.HasTable(s.storeName) {
		return nil
	}
	return tx.CreateTable(s.storeName)
}

// transact runs fn in a transaction of the given mode. The outcome settles
// once: an error from fn aborts the transaction, otherwise the commit
// result is returned.
func (s *Store) transact(mode engine.Mode, fn func(engine.Table) error) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	tx, err := db.Begin(s.storeName, mode)
	if err != nil {
		return fmt.Errorf("failed to begin %s transaction: %w", mode, err)
	}
	if err := fn(tx.Table()); err != nil {
		_ = tx.Abort()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s transaction: %w", mode, err)
	}
	return nil
}

// Get returns the value stored under key, or codec.Undefined when there is
// none.
func (s *Store) Get(key string) (any, error) {
	var raw []byte
	var found bool
	err := s.transact(engine.ReadOnly, func(t engine.Table) error {
		var err error
		raw, found, err = t.Get(key)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return codec.Undefined, nil
	}
	return codec.Unmarshal(raw)
}

// Set stores value under key, replacing any existing value.
func (s *Store) Set(key string, value any) error {
	raw, err := codec.Marshal(value)
	if err != nil {
		return err
	}
	return s.transact(engine.ReadWrite, func(t engine.Table) error {
		return t.Put(key, raw)
	})
}

// Remove deletes key. Removing a missing key succeeds.
func (s *Store) Remove(key string) error {
	return s.transact(engine.ReadWrite, func(t engine.Table) error {
		return t.Delete(key)
	})
}

// Clear deletes every key in the table.
func (s *Store) Clear() error {
	return s.transact(engine.ReadWrite, func(t engine.Table) error {
		return t.Clear()
	})
}

// Keys returns every key in the engine's natural order. Tables that can
// walk keys alone are traversed with a key cursor, others with a full one.
func (s *Store) Keys() ([]string, error) {
	keys := []string{}
	err := s.transact(engine.ReadOnly, func(t engine.Table) error {
		var c engine.Cursor
		var err error
		if kc, ok := t.(engine.KeyCursorOpener); ok {
			c, err = kc.OpenKeyCursor()
		} else {
			c, err = t.OpenCursor()
		}
		if err != nil {
			return err
		}
		defer func() {
			_ = c.Close()
		}()

		for c.Valid() {
			keys = append(keys, c.Key())
			if err := c.Next(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// ForEach calls fn for every entry in key order inside one read-only
// transaction. An error from fn stops the walk and is returned. fn must not
// call back into the Store.
func (s *Store) ForEach(fn func(key string, value any) error) error {
	return s.ForEachRaw(func(key string, raw []byte) error {
		v, err := codec.Unmarshal(raw)
		if err != nil {
			return fmt.Errorf("failed to decode %s: %w", key, err)
		}
		return fn(key, v)
	})
}

// ForEachRaw is ForEach without decoding: fn receives each value exactly as
// the engine stores it.
func (s *Store) ForEachRaw(fn func(key string, raw []byte) error) error {
	return s.transact(engine.ReadOnly, func(t engine.Table) error {
		c, err := t.OpenCursor()
		if err != nil {
			return err
		}
		defer func() {
			_ = c.Close()
		}()

		for c.Valid() {
			raw, err := c.Value()
			if err != nil {
				return err
			}
			if err := fn(c.Key(), raw); err != nil {
				return err
			}
			if err := c.Next(); err != nil {
				return err
			}
		}
		return nil
	})
}

// Replace clears the table and stores entries in a single read-write
// transaction. Every value is encoded before the transaction begins, so an
// unsupported value leaves the table untouched.
func (s *Store) Replace(entries map[string]any) error {
	raw := make(map[string][]byte, len(entries))
	for k, v := range entries {
		data, err := codec.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", k, err)
		}
		raw[k] = data
	}
	return s.ReplaceRaw(raw)
}

// ReplaceRaw is Replace for values already in encoded form. The bytes are
// stored as given.
func (s *Store) ReplaceRaw(entries map[string][]byte) error {
	return s.transact(engine.ReadWrite, func(t engine.Table) error {
		if err := t.Clear(); err != nil {
			return err
		}
		for k, data := range entries {
			if err := t.Put(k, data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the connection if one was opened. Operations after Close
// fail with engine.ErrClosed.
func (s *Store) Close() error {
	if !s.started.Load() {
		return nil
	}
	db, err := s.connection()
	if err != nil {
		return nil
	}
	return db.Close()
}
