package sqlite

import (
	"database/sql"
	"testing"

	"github.com/Jeanedlune/idbkv/engine"
	"github.com/Jeanedlune/idbkv/engine/enginetest"
)

func TestSQLiteEngine(t *testing.T) {
	enginetest.Run(t, func(t *testing.T) engine.Factory {
		return NewFactory(t.TempDir())
	})
}

func TestMigrationsCreateBookkeepingTables(t *testing.T) {
	f := NewFactory(t.TempDir())
	db, err := f.Open("schema", 1, nil)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}

	raw, err := sql.Open("sqlite", f.Path("schema"))
	if err != nil {
		t.Fatalf("Failed to open raw database: %v", err)
	}
	defer func() {
		_ = raw.Close()
	}()

	for _, name := range []string{"idb_meta", "idb_tables", "idb_entries"} {
		var count int
		err := raw.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&count)
		if err != nil {
			t.Fatalf("Failed to query schema: %v", err)
		}
		if count != 1 {
			t.Errorf("Table %s missing", name)
		}
	}

	var version int
	if err := raw.QueryRow(`SELECT version FROM idb_meta WHERE id = 1`).Scan(&version); err != nil {
		t.Fatalf("Failed to read version: %v", err)
	}
	if version != 1 {
		t.Errorf("Stored version: got %d, want 1", version)
	}
}
