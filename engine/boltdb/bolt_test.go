package boltdb

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/boltdb/bolt"

	"github.com/Jeanedlune/idbkv/engine"
	"github.com/Jeanedlune/idbkv/engine/enginetest"
)

func TestBoltEngine(t *testing.T) {
	enginetest.Run(t, func(t *testing.T) engine.Factory {
		return NewFactory(t.TempDir())
	})
}

func TestOpenCreatesFile(t *testing.T) {
	f := NewFactory(t.TempDir())
	db, err := f.Open("file-check", 1, nil)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()

	if _, err := os.Stat(f.Path("file-check")); err != nil {
		t.Errorf("Database file was not created: %v", err)
	}
}

func TestOpenBlockedByOtherConnection(t *testing.T) {
	f := &Factory{Dir: t.TempDir(), Timeout: 50 * time.Millisecond}
	db, err := f.Open("locked", 1, nil)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()

	if _, err := f.Open("locked", 1, nil); !errors.Is(err, bolt.ErrTimeout) {
		t.Errorf("Expected bolt.ErrTimeout, got %v", err)
	}
}

func TestMetaBucketIsNotATable(t *testing.T) {
	db, err := NewFactory(t.TempDir()).Open("meta", 1, nil)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()

	if _, err := db.Begin(string(metaBucket), engine.ReadOnly); !errors.Is(err, engine.ErrTableNotFound) {
		t.Errorf("Expected ErrTableNotFound, got %v", err)
	}
}
