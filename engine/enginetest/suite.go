// Package enginetest holds the conformance suite every engine runs.
package enginetest

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/Jeanedlune/idbkv/engine"
)

const (
	testDB          = "conformance"
	testTable       = "items"
	errOpen         = "Failed to open database: %v"
	errBegin        = "Failed to begin transaction: %v"
	errCommit       = "Failed to commit: %v"
	errPut          = "Failed to put value: %v"
	keyShouldExist  = "Key should exist"
	keyShouldBeGone = "Key should not exist"
)

// NewFactory returns a Factory with no databases. Engines backed by disk
// should root it in t.TempDir().
type NewFactory func(t *testing.T) engine.Factory

// Helper functions
func assertNoError(t *testing.T, err error, format string) {
	t.Helper()
	if err != nil {
		t.Fatalf(format, err)
	}
}

func assertKeyExists(t *testing.T, exists bool, shouldExist bool) {
	t.Helper()
	if exists != shouldExist {
		if shouldExist {
			t.Fatal(keyShouldExist)
		} else {
			t.Error(keyShouldBeGone)
		}
	}
}

func createTable(tx engine.UpgradeTx, _, _ int) error {
	if tx.HasTable(testTable) {
		return nil
	}
	return tx.CreateTable(testTable)
}

func open(t *testing.T, f engine.Factory) engine.Database {
	t.Helper()
	db, err := f.Open(testDB, 1, createTable)
	assertNoError(t, err, errOpen)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

// update runs fn in a committed read-write transaction.
func update(t *testing.T, db engine.Database, fn func(engine.Table) error) {
	t.Helper()
	tx, err := db.Begin(testTable, engine.ReadWrite)
	assertNoError(t, err, errBegin)
	if err := fn(tx.Table()); err != nil {
		_ = tx.Abort()
		t.Fatalf("Update failed: %v", err)
	}
	assertNoError(t, tx.Commit(), errCommit)
}

// view runs fn in a read-only transaction.
func view(t *testing.T, db engine.Database, fn func(engine.Table) error) {
	t.Helper()
	tx, err := db.Begin(testTable, engine.ReadOnly)
	assertNoError(t, err, errBegin)
	if err := fn(tx.Table()); err != nil {
		_ = tx.Abort()
		t.Fatalf("View failed: %v", err)
	}
	assertNoError(t, tx.Commit(), errCommit)
}

func get(t *testing.T, db engine.Database, key string) ([]byte, bool) {
	t.Helper()
	var value []byte
	var exists bool
	view(t, db, func(tb engine.Table) error {
		var err error
		value, exists, err = tb.Get(key)
		return err
	})
	return value, exists
}

func walk(t *testing.T, c engine.Cursor) []string {
	t.Helper()
	var keys []string
	for c.Valid() {
		keys = append(keys, c.Key())
		assertNoError(t, c.Next(), "Failed to advance cursor: %v")
	}
	assertNoError(t, c.Close(), "Failed to close cursor: %v")
	return keys
}

// Run exercises the engine contract against factories from newFactory.
func Run(t *testing.T, newFactory NewFactory) {
	t.Run("Put and Get", func(t *testing.T) {
		db := open(t, newFactory(t))
		update(t, db, func(tb engine.Table) error {
			return tb.Put("test-key", []byte("test-value"))
		})

		got, exists := get(t, db, "test-key")
		assertKeyExists(t, exists, true)
		if string(got) != "test-value" {
			t.Errorf("Got %s, want %s", got, "test-value")
		}

		_, exists = get(t, db, "missing")
		assertKeyExists(t, exists, false)
	})

	t.Run("Overwrite", func(t *testing.T) {
		db := open(t, newFactory(t))
		update(t, db, func(tb engine.Table) error { return tb.Put("k", []byte("v1")) })
		update(t, db, func(tb engine.Table) error { return tb.Put("k", []byte("v2")) })

		got, _ := get(t, db, "k")
		if string(got) != "v2" {
			t.Errorf("Got %s, want v2", got)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		db := open(t, newFactory(t))
		update(t, db, func(tb engine.Table) error { return tb.Put("k", []byte("v")) })
		update(t, db, func(tb engine.Table) error { return tb.Delete("k") })
		update(t, db, func(tb engine.Table) error { return tb.Delete("never-set") })

		_, exists := get(t, db, "k")
		assertKeyExists(t, exists, false)
	})

	t.Run("Clear", func(t *testing.T) {
		db := open(t, newFactory(t))
		update(t, db, func(tb engine.Table) error {
			for _, k := range []string{"a", "b", "c"} {
				if err := tb.Put(k, []byte(k)); err != nil {
					return err
				}
			}
			return nil
		})
		update(t, db, func(tb engine.Table) error { return tb.Clear() })

		view(t, db, func(tb engine.Table) error {
			c, err := tb.OpenCursor()
			if err != nil {
				return err
			}
			if keys := walk(t, c); len(keys) != 0 {
				t.Errorf("Expected empty table after clear, got %v", keys)
			}
			return nil
		})

		update(t, db, func(tb engine.Table) error { return tb.Put("d", []byte("d")) })
		_, exists := get(t, db, "d")
		assertKeyExists(t, exists, true)
	})

	t.Run("Cursor order", func(t *testing.T) {
		db := open(t, newFactory(t))
		input := []string{"pear", "apple", "fig", "banana", "apple-pie"}
		update(t, db, func(tb engine.Table) error {
			for _, k := range input {
				if err := tb.Put(k, []byte("value-"+k)); err != nil {
					return err
				}
			}
			return nil
		})

		want := append([]string(nil), input...)
		sort.Strings(want)

		view(t, db, func(tb engine.Table) error {
			c, err := tb.OpenCursor()
			if err != nil {
				return err
			}
			var got []string
			for c.Valid() {
				v, err := c.Value()
				if err != nil {
					return err
				}
				if string(v) != "value-"+c.Key() {
					t.Errorf("Cursor value for %s: got %s", c.Key(), v)
				}
				got = append(got, c.Key())
				if err := c.Next(); err != nil {
					return err
				}
			}
			if fmt.Sprint(got) != fmt.Sprint(want) {
				t.Errorf("Cursor keys: got %v, want %v", got, want)
			}
			return c.Close()
		})

		view(t, db, func(tb engine.Table) error {
			kc, ok := tb.(engine.KeyCursorOpener)
			if !ok {
				return nil
			}
			c, err := kc.OpenKeyCursor()
			if err != nil {
				return err
			}
			if got := walk(t, c); fmt.Sprint(got) != fmt.Sprint(want) {
				t.Errorf("Key cursor keys: got %v, want %v", got, want)
			}
			return nil
		})
	})

	t.Run("Empty key", func(t *testing.T) {
		db := open(t, newFactory(t))
		update(t, db, func(tb engine.Table) error {
			if err := tb.Put("", []byte("empty")); err != nil {
				return err
			}
			return tb.Put("a", []byte("a"))
		})

		got, exists := get(t, db, "")
		assertKeyExists(t, exists, true)
		if string(got) != "empty" {
			t.Errorf("Got %s, want empty", got)
		}

		view(t, db, func(tb engine.Table) error {
			c, err := tb.OpenCursor()
			if err != nil {
				return err
			}
			if keys := walk(t, c); fmt.Sprint(keys) != fmt.Sprint([]string{"", "a"}) {
				t.Errorf("Cursor keys: got %q, want [\"\" \"a\"]", keys)
			}
			return nil
		})

		update(t, db, func(tb engine.Table) error { return tb.Delete("") })
		_, exists = get(t, db, "")
		assertKeyExists(t, exists, false)
	})

	t.Run("Read-only rejects writes", func(t *testing.T) {
		db := open(t, newFactory(t))
		tx, err := db.Begin(testTable, engine.ReadOnly)
		assertNoError(t, err, errBegin)
		defer func() {
			_ = tx.Abort()
		}()

		if err := tx.Table().Put("k", []byte("v")); !errors.Is(err, engine.ErrReadOnly) {
			t.Errorf("Expected ErrReadOnly from Put, got %v", err)
		}
		if err := tx.Table().Clear(); !errors.Is(err, engine.ErrReadOnly) {
			t.Errorf("Expected ErrReadOnly from Clear, got %v", err)
		}
	})

	t.Run("Abort discards writes", func(t *testing.T) {
		db := open(t, newFactory(t))
		update(t, db, func(tb engine.Table) error { return tb.Put("kept", []byte("1")) })

		tx, err := db.Begin(testTable, engine.ReadWrite)
		assertNoError(t, err, errBegin)
		assertNoError(t, tx.Table().Put("dropped", []byte("2")), errPut)
		assertNoError(t, tx.Table().Delete("kept"), "Failed to delete: %v")
		assertNoError(t, tx.Abort(), "Failed to abort: %v")

		_, exists := get(t, db, "dropped")
		assertKeyExists(t, exists, false)
		_, exists = get(t, db, "kept")
		assertKeyExists(t, exists, true)
	})

	t.Run("Finished transaction", func(t *testing.T) {
		db := open(t, newFactory(t))
		tx, err := db.Begin(testTable, engine.ReadWrite)
		assertNoError(t, err, errBegin)
		assertNoError(t, tx.Commit(), errCommit)

		if err := tx.Commit(); !errors.Is(err, engine.ErrTxDone) {
			t.Errorf("Expected ErrTxDone from second Commit, got %v", err)
		}
		if err := tx.Abort(); !errors.Is(err, engine.ErrTxDone) {
			t.Errorf("Expected ErrTxDone from Abort, got %v", err)
		}
		if _, _, err := tx.Table().Get("k"); !errors.Is(err, engine.ErrTxDone) {
			t.Errorf("Expected ErrTxDone from Get, got %v", err)
		}
	})

	t.Run("Unknown table", func(t *testing.T) {
		db := open(t, newFactory(t))
		if _, err := db.Begin("missing-table", engine.ReadOnly); !errors.Is(err, engine.ErrTableNotFound) {
			t.Errorf("Expected ErrTableNotFound, got %v", err)
		}
	})

	t.Run("Upgrade runs once", func(t *testing.T) {
		f := newFactory(t)
		calls := 0
		upgrade := func(tx engine.UpgradeTx, oldVersion, newVersion int) error {
			calls++
			if oldVersion != 0 || newVersion != 1 {
				t.Errorf("Upgrade versions: got %d -> %d, want 0 -> 1", oldVersion, newVersion)
			}
			return createTable(tx, oldVersion, newVersion)
		}

		db, err := f.Open(testDB, 1, upgrade)
		assertNoError(t, err, errOpen)
		if db.Version() != 1 {
			t.Errorf("Version: got %d, want 1", db.Version())
		}
		update(t, db, func(tb engine.Table) error { return tb.Put("durable", []byte("yes")) })
		assertNoError(t, db.Close(), "Failed to close: %v")

		db, err = f.Open(testDB, 1, upgrade)
		assertNoError(t, err, errOpen)
		defer func() {
			_ = db.Close()
		}()
		if calls != 1 {
			t.Errorf("Upgrade ran %d times, want 1", calls)
		}
		_, exists := get(t, db, "durable")
		assertKeyExists(t, exists, true)
	})

	t.Run("Version downgrade", func(t *testing.T) {
		f := newFactory(t)
		db, err := f.Open(testDB, 2, createTable)
		assertNoError(t, err, errOpen)
		assertNoError(t, db.Close(), "Failed to close: %v")

		if _, err := f.Open(testDB, 1, createTable); !errors.Is(err, engine.ErrVersion) {
			t.Errorf("Expected ErrVersion, got %v", err)
		}
	})

	t.Run("Failed upgrade", func(t *testing.T) {
		f := newFactory(t)
		boom := errors.New("boom")
		_, err := f.Open(testDB, 1, func(engine.UpgradeTx, int, int) error { return boom })
		if !errors.Is(err, boom) {
			t.Fatalf("Expected upgrade error, got %v", err)
		}

		db := open(t, f)
		if db.Version() != 1 {
			t.Errorf("Version after retry: got %d, want 1", db.Version())
		}
	})

	t.Run("Closed database", func(t *testing.T) {
		db, err := newFactory(t).Open(testDB, 1, createTable)
		assertNoError(t, err, errOpen)
		assertNoError(t, db.Close(), "Failed to close: %v")

		if _, err := db.Begin(testTable, engine.ReadOnly); !errors.Is(err, engine.ErrClosed) {
			t.Errorf("Expected ErrClosed, got %v", err)
		}
	})

	t.Run("Concurrent writers", func(t *testing.T) {
		db := open(t, newFactory(t))
		const n = 20

		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				tx, err := db.Begin(testTable, engine.ReadWrite)
				if err != nil {
					errs <- err
					return
				}
				if err := tx.Table().Put(fmt.Sprintf("key-%02d", i), []byte("v")); err != nil {
					_ = tx.Abort()
					errs <- err
					return
				}
				errs <- tx.Commit()
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			assertNoError(t, err, "Concurrent write failed: %v")
		}

		view(t, db, func(tb engine.Table) error {
			c, err := tb.OpenCursor()
			if err != nil {
				return err
			}
			if keys := walk(t, c); len(keys) != n {
				t.Errorf("Got %d keys, want %d", len(keys), n)
			}
			return nil
		})
	})

	t.Run("Concurrent clear and put", func(t *testing.T) {
		db := open(t, newFactory(t))
		update(t, db, func(tb engine.Table) error {
			for i := 0; i < 50; i++ {
				if err := tb.Put(fmt.Sprintf("key-%02d", i), []byte("v")); err != nil {
					return err
				}
			}
			return nil
		})

		const rounds, writers = 10, 9
		errs := make(chan error, rounds*(writers+1))
		var wg sync.WaitGroup
		for r := 0; r < rounds; r++ {
			for i := 0; i <= writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					tx, err := db.Begin(testTable, engine.ReadWrite)
					if err != nil {
						errs <- err
						return
					}
					if i == 0 {
						err = tx.Table().Clear()
					} else {
						err = tx.Table().Put(fmt.Sprintf("key-%02d", i), []byte("w"))
					}
					if err != nil {
						_ = tx.Abort()
						errs <- err
						return
					}
					errs <- tx.Commit()
				}(i)
			}
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			assertNoError(t, err, "Concurrent clear or put failed: %v")
		}
	})
}
