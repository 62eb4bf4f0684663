// Package sqlite implements a durable engine on SQLite. Bookkeeping tables
// are created by embedded migrations; every engine table shares idb_entries
// keyed by (tbl, key).
package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/Jeanedlune/idbkv/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Factory opens SQLite files under Dir
type Factory struct {
	Dir string
}

// NewFactory creates a Factory storing databases under dir
func NewFactory(dir string) *Factory {
	return &Factory{Dir: dir}
}

// Path returns the file backing the named database
func (f *Factory) Path(name string) string {
	return filepath.Join(f.Dir, name+".sqlite")
}

// Open implements engine.Factory
func (f *Factory) Open(name string, version int, upgrade engine.UpgradeFunc) (engine.Database, error) {
	if err := engine.ValidateName(name); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", f.Dir, err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", f.Path(name))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes transactions the way the other engines do.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := migrateSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	stored, err := upgradeSchema(db, name, version, upgrade)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &database{name: name, version: stored, db: db}, nil
}

func migrateSchema(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func upgradeSchema(db *sql.DB, name string, version int, upgrade engine.UpgradeFunc) (int, error) {
	sqlTx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	stored := 0
	err = sqlTx.QueryRow(`SELECT version FROM idb_meta WHERE id = 1`).Scan(&stored)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	switch {
	case version < stored:
		return 0, fmt.Errorf("%w: %s has version %d, requested %d", engine.ErrVersion, name, stored, version)
	case version == stored:
		return stored, sqlTx.Commit()
	}

	if upgrade != nil {
		if err := upgrade(&upgradeTx{tx: sqlTx}, stored, version); err != nil {
			return 0, fmt.Errorf("failed to upgrade %s: %w", name, err)
		}
	}
	_, err = sqlTx.Exec(`INSERT INTO idb_meta (id, version) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET version = excluded.version`, version)
	if err != nil {
		return 0, err
	}
	return version, sqlTx.Commit()
}

func hasTable(q interface {
	QueryRow(query string, args ...any) *sql.Row
}, name string) (bool, error) {
	var n int
	err := q.QueryRow(`SELECT COUNT(*) FROM idb_tables WHERE name = ?`, name).Scan(&n)
	return n > 0, err
}

type upgradeTx struct {
	tx *sql.Tx
}

func (u *upgradeTx) HasTable(name string) bool {
	ok, _ := hasTable(u.tx, name)
	return ok
}

func (u *upgradeTx) CreateTable(name string) error {
	if err := engine.ValidateName(name); err != nil {
		return err
	}
	_, err := u.tx.Exec(`INSERT INTO idb_tables (name) VALUES (?)`, name)
	return err
}

// database wraps an open SQLite handle
type database struct {
	name    string
	version int
	db      *sql.DB
	closed  atomic.Bool
}

func (d *database) Name() string { return d.name }
func (d *database) Version() int { return d.version }

// Close closes the database connection
func (d *database) Close() error {
	d.closed.Store(true)
	return d.db.Close()
}

func (d *database) Begin(table string, mode engine.Mode) (engine.Tx, error) {
	if d.closed.Load() {
		return nil, engine.ErrClosed
	}
	sqlTx, err := d.db.Begin()
	if err != nil {
		if d.closed.Load() || errors.Is(err, sql.ErrConnDone) {
			return nil, engine.ErrClosed
		}
		return nil, err
	}
	ok, err := hasTable(sqlTx, table)
	if err != nil {
		_ = sqlTx.Rollback()
		return nil, err
	}
	if !ok {
		_ = sqlTx.Rollback()
		return nil, fmt.Errorf("%w: %s", engine.ErrTableNotFound, table)
	}
	return &tx{tx: sqlTx, mode: mode, name: table}, nil
}

type tx struct {
	tx      *sql.Tx
	mode    engine.Mode
	name    string
	cursors []*cursor
	done    bool
}

func (t *tx) Mode() engine.Mode   { return t.mode }
func (t *tx) Table() engine.Table { return (*table)(t) }

func (t *tx) finish() {
	t.done = true
	for _, c := range t.cursors {
		_ = c.Close()
	}
	t.cursors = nil
}

// Commit commits read-write transactions; read-only ones are rolled back.
func (t *tx) Commit() error {
	if t.done {
		return engine.ErrTxDone
	}
	t.finish()
	if t.mode == engine.ReadWrite {
		return t.tx.Commit()
	}
	return t.tx.Rollback()
}

func (t *tx) Abort() error {
	if t.done {
		return engine.ErrTxDone
	}
	t.finish()
	return t.tx.Rollback()
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

// Get retrieves a value by key
func (s *table) Get(key string) ([]byte, bool, error) {
	if err := s.check(false); err != nil {
		return nil, false, err
	}
	var value []byte
	err := s.tx.QueryRow(`SELECT value FROM idb_entries WHERE tbl = ? AND key = ?`, s.name, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
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
	if value == nil {
		value = []byte{}
	}
	_, err := s.tx.Exec(`INSERT INTO idb_entries (tbl, key, value) VALUES (?, ?, ?)
		ON CONFLICT(tbl, key) DO UPDATE SET value = excluded.value`, s.name, key, value)
	return err
}

// Delete removes a key from the table
func (s *table) Delete(key string) error {
	if err := s.check(true); err != nil {
		return err
	}
	_, err := s.tx.Exec(`DELETE FROM idb_entries WHERE tbl = ? AND key = ?`, s.name, key)
	return err
}

func (s *table) Clear() error {
	if err := s.check(true); err != nil {
		return err
	}
	_, err := s.tx.Exec(`DELETE FROM idb_entries WHERE tbl = ?`, s.name)
	return err
}

func (s *table) OpenCursor() (engine.Cursor, error) {
	return s.openCursor(`SELECT key, value FROM idb_entries WHERE tbl = ? ORDER BY key`, false)
}

func (s *table) OpenKeyCursor() (engine.Cursor, error) {
	return s.openCursor(`SELECT key FROM idb_entries WHERE tbl = ? ORDER BY key`, true)
}

func (s *table) openCursor(query string, keysOnly bool) (engine.Cursor, error) {
	if err := s.check(false); err != nil {
		return nil, err
	}
	rows, err := s.tx.Query(query, s.name)
	if err != nil {
		return nil, err
	}
	c := &cursor{table: s, rows: rows, keysOnly: keysOnly}
	if err := c.Next(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	s.cursors = append(s.cursors, c)
	return c, nil
}

// cursor streams rows; it is positioned by reading one row ahead.
type cursor struct {
	table    *table
	rows     *sql.Rows
	keysOnly bool
	valid    bool
	key      string
	value    []byte
}

func (c *cursor) Valid() bool {
	return c.valid && !c.table.done
}

func (c *cursor) Key() string {
	if !c.Valid() {
		return ""
	}
	return c.key
}

func (c *cursor) Value() ([]byte, error) {
	if c.keysOnly {
		return nil, engine.ErrKeyOnly
	}
	if c.table.done {
		return nil, engine.ErrTxDone
	}
	if !c.valid {
		return nil, nil
	}
	return c.value, nil
}

func (c *cursor) Next() error {
	if c.table.done {
		return engine.ErrTxDone
	}
	if !c.rows.Next() {
		c.valid = false
		return c.rows.Err()
	}
	c.valid = true
	if c.keysOnly {
		return c.rows.Scan(&c.key)
	}
	c.value = nil
	return c.rows.Scan(&c.key, &c.value)
}

func (c *cursor) Close() error {
	c.valid = false
	return c.rows.Close()
}
