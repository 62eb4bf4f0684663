package idb

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jeanedlune/idbkv/codec"
	"github.com/Jeanedlune/idbkv/engine"
	"github.com/Jeanedlune/idbkv/engine/boltdb"
	"github.com/Jeanedlune/idbkv/engine/memory"
)

// countingFactory records how often Open is called and can fail it.
type countingFactory struct {
	inner   engine.Factory
	opens   atomic.Int32
	openErr error
	delay   time.Duration
}

func (f *countingFactory) Open(name string, version int, upgrade engine.UpgradeFunc) (engine.Database, error) {
	f.opens.Add(1)
	time.Sleep(f.delay)
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.inner.Open(name, version, upgrade)
}

// faultyFactory wraps tables so they lose the key cursor and can fail
// writes.
type faultyFactory struct {
	inner        engine.Factory
	failPutKey   string
	cursorOpened atomic.Int32
}

func (f *faultyFactory) Open(name string, version int, upgrade engine.UpgradeFunc) (engine.Database, error) {
	db, err := f.inner.Open(name, version, upgrade)
	if err != nil {
		return nil, err
	}
	return &faultyDB{Database: db, f: f}, nil
}

type faultyDB struct {
	engine.Database
	f *faultyFactory
}

func (d *faultyDB) Begin(table string, mode engine.Mode) (engine.Tx, error) {
	tx, err := d.Database.Begin(table, mode)
	if err != nil {
		return nil, err
	}
	return &faultyTx{Tx: tx, f: d.f}, nil
}

type faultyTx struct {
	engine.Tx
	f *faultyFactory
}

func (t *faultyTx) Table() engine.Table {
	return &faultyTable{inner: t.Tx.Table(), f: t.f}
}

// faultyTable deliberately implements only engine.Table, so it never
// offers OpenKeyCursor.
type faultyTable struct {
	inner engine.Table
	f     *faultyFactory
}

var errQuota = errors.New("quota exceeded")

func (t *faultyTable) Get(key string) ([]byte, bool, error) { return t.inner.Get(key) }
func (t *faultyTable) Delete(key string) error              { return t.inner.Delete(key) }
func (t *faultyTable) Clear() error                         { return t.inner.Clear() }

func (t *faultyTable) Put(key string, value []byte) error {
	if key == t.f.failPutKey {
		return errQuota
	}
	return t.inner.Put(key, value)
}

func (t *faultyTable) OpenCursor() (engine.Cursor, error) {
	t.f.cursorOpened.Add(1)
	return t.inner.OpenCursor()
}

func newMemoryStore(t *testing.T) *Store {
	t.Helper()
	s := New(memory.NewFactory())
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestStoreNames(t *testing.T) {
	s := New(memory.NewFactory())
	assert.Equal(t, "composi-idb", s.Name())
	assert.Equal(t, "composi-store", s.StoreName())

	custom := New(memory.NewFactory(), WithName("app"), WithStoreName("cache"))
	assert.Equal(t, "app", custom.Name())
	assert.Equal(t, "cache", custom.StoreName())
}

func TestSetAndGetPreservesValueCategory(t *testing.T) {
	s := newMemoryStore(t)

	values := map[string]any{
		"type-null":      nil,
		"type-undefined": codec.Undefined,
		"type-boolean":   true,
		"type-string":    "string",
		"type-number":    int64(123),
		"type-float":     1.5,
		"type-bytes":     []byte{0x00, 0xff},
		"type-date":      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		"type-array":     []any{int64(1), int64(2), int64(3)},
		"type-object": map[string]any{
			"name": "Sam",
			"job":  []any{"Mechanic", "Brain Surgeon", "Chef"},
		},
		"type-set": codec.NewSet(int64(1), int64(2), int64(3), int64(4), int64(5), int64(2), int64(3), int64(5), int64(6)),
		"type-map": codec.NewMap().Set(int64(1), "one").Set(int64(2), "two").Set(int64(3), "three"),
	}

	for key, want := range values {
		require.NoError(t, s.Set(key, want), key)
	}
	for key, want := range values {
		got, err := s.Get(key)
		require.NoError(t, err, key)
		assert.Equal(t, want, got, key)
	}

	got, err := s.Get("type-set")
	require.NoError(t, err)
	require.IsType(t, &codec.Set{}, got)
	assert.Equal(t, 6, got.(*codec.Set).Len())

	got, err = s.Get("type-map")
	require.NoError(t, err)
	require.IsType(t, &codec.Map{}, got)
	v, ok := got.(*codec.Map).Get(int64(2))
	assert.True(t, ok)
	assert.Equal(t, "two", v)
}

func TestGetMissingKeyIsUndefined(t *testing.T) {
	s := newMemoryStore(t)

	got, err := s.Get("never-set")
	require.NoError(t, err)
	assert.True(t, codec.IsUndefined(got))

	require.NoError(t, s.Set("to-be-removed", "some text to remove"))
	got, err = s.Get("to-be-removed")
	require.NoError(t, err)
	assert.Equal(t, "some text to remove", got)

	require.NoError(t, s.Remove("to-be-removed"))
	got, err = s.Get("to-be-removed")
	require.NoError(t, err)
	assert.True(t, codec.IsUndefined(got))
}

func TestNullIsDistinctFromUndefined(t *testing.T) {
	s := newMemoryStore(t)

	require.NoError(t, s.Set("x", nil))
	got, err := s.Get("x")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, codec.IsUndefined(got))

	got, err = s.Get("never-set")
	require.NoError(t, err)
	assert.True(t, codec.IsUndefined(got))
}

func TestSetOverwrites(t *testing.T) {
	s := newMemoryStore(t)

	require.NoError(t, s.Set("test1", "This is some text."))
	require.NoError(t, s.Set("test1", "This is the new value."))

	got, err := s.Get("test1")
	require.NoError(t, err)
	assert.Equal(t, "This is the new value.", got)

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"test1"}, keys)
}

func TestKeysRemoveClearScenario(t *testing.T) {
	s := newMemoryStore(t)

	require.NoError(t, s.Set("a", int64(1)))
	require.NoError(t, s.Set("b", int64(2)))

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, keys)

	require.NoError(t, s.Remove("a"))
	keys, err = s.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, keys)

	require.NoError(t, s.Clear())
	keys, err = s.Keys()
	require.NoError(t, err)
	assert.NotNil(t, keys)
	assert.Len(t, keys, 0)

	got, err := s.Get("b")
	require.NoError(t, err)
	assert.True(t, codec.IsUndefined(got))
}

func TestRemoveMissingKeyIsNoop(t *testing.T) {
	s := newMemoryStore(t)
	assert.NoError(t, s.Remove("never-set"))
}

func TestKeysFallsBackToFullCursor(t *testing.T) {
	f := &faultyFactory{inner: memory.NewFactory()}
	s := New(f)

	for _, k := range []string{"c", "a", "b"} {
		require.NoError(t, s.Set(k, k))
	}

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, keys)
	assert.Equal(t, int32(1), f.cursorOpened.Load())

	direct := New(memory.NewFactory())
	for _, k := range []string{"c", "a", "b"} {
		require.NoError(t, direct.Set(k, k))
	}
	viaKeyCursor, err := direct.Keys()
	require.NoError(t, err)
	assert.Equal(t, viaKeyCursor, keys)
}

func TestOpensOnceUnderConcurrentFirstAccess(t *testing.T) {
	f := &countingFactory{inner: memory.NewFactory(), delay: 20 * time.Millisecond}
	s := New(f)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Set(fmt.Sprintf("key-%d", i), int64(i)))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.opens.Load())
	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Len(t, keys, 16)
}

func TestNothingOpensBeforeFirstOperation(t *testing.T) {
	f := &countingFactory{inner: memory.NewFactory()}
	s := New(f)
	assert.Equal(t, int32(0), f.opens.Load())
	assert.NoError(t, s.Close())
	assert.Equal(t, int32(0), f.opens.Load())
}

func TestOpenFailureIsPermanent(t *testing.T) {
	blocked := errors.New("blocked by another connection")
	f := &countingFactory{inner: memory.NewFactory(), openErr: blocked}
	s := New(f)

	_, err := s.Get("k")
	require.ErrorIs(t, err, blocked)

	// Later calls see the same failure even once the engine would succeed.
	f.openErr = nil
	assert.ErrorIs(t, s.Set("k", "v"), blocked)
	_, err = s.Keys()
	assert.ErrorIs(t, err, blocked)
	assert.ErrorIs(t, s.Clear(), blocked)
	assert.ErrorIs(t, s.Remove("k"), blocked)
	assert.Equal(t, int32(1), f.opens.Load())
}

func TestTransactionFailureIsIsolated(t *testing.T) {
	f := &faultyFactory{inner: memory.NewFactory(), failPutKey: "too-big"}
	s := New(f)

	require.NoError(t, s.Set("ok", "before"))
	assert.ErrorIs(t, s.Set("too-big", "value"), errQuota)

	got, err := s.Get("too-big")
	require.NoError(t, err)
	assert.True(t, codec.IsUndefined(got))

	require.NoError(t, s.Set("ok", "after"))
	got, err = s.Get("ok")
	require.NoError(t, err)
	assert.Equal(t, "after", got)
}

func TestSetRejectsUnsupportedValues(t *testing.T) {
	s := newMemoryStore(t)
	err := s.Set("ch", make(chan int))
	assert.ErrorIs(t, err, codec.ErrUnsupported)

	got, err := s.Get("ch")
	require.NoError(t, err)
	assert.True(t, codec.IsUndefined(got))
}

func TestFloatEdgeValues(t *testing.T) {
	s := newMemoryStore(t)
	require.NoError(t, s.Set("nan", math.NaN()))
	require.NoError(t, s.Set("inf", math.Inf(-1)))

	got, err := s.Get("nan")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(got.(float64)))

	got, err = s.Get("inf")
	require.NoError(t, err)
	assert.Equal(t, math.Inf(-1), got)
}

func TestForEach(t *testing.T) {
	s := newMemoryStore(t)
	require.NoError(t, s.Set("fruits", []any{"Apples", "Oranges", "Bananas"}))
	require.NoError(t, s.Set("count", int64(3)))

	seen := map[string]any{}
	require.NoError(t, s.ForEach(func(key string, value any) error {
		seen[key] = value
		return nil
	}))
	assert.Equal(t, map[string]any{
		"fruits": []any{"Apples", "Oranges", "Bananas"},
		"count":  int64(3),
	}, seen)

	stop := errors.New("stop")
	assert.ErrorIs(t, s.ForEach(func(string, any) error { return stop }), stop)
}

func TestOperationsAfterClose(t *testing.T) {
	s := New(memory.NewFactory())
	require.NoError(t, s.Set("k", "v"))
	require.NoError(t, s.Close())

	_, err := s.Get("k")
	assert.ErrorIs(t, err, engine.ErrClosed)
}

func TestAsyncOperations(t *testing.T) {
	s := newMemoryStore(t)

	_, err := s.SetAsync("another-key", "more stuff").Await()
	require.NoError(t, err)

	keys, err := s.KeysAsync().Await()
	require.NoError(t, err)
	assert.NotEmpty(t, keys)

	p := s.GetAsync("another-key")
	<-p.Done()
	got, err := p.Await()
	require.NoError(t, err)
	assert.Equal(t, "more stuff", got)

	_, err = s.RemoveAsync("another-key").Await()
	require.NoError(t, err)
	_, err = s.ClearAsync().Await()
	require.NoError(t, err)

	keys, err = s.KeysAsync().Await()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestPromiseSettlesOnce(t *testing.T) {
	p := newPromise[int]()
	p.resolve(1)
	p.reject(errors.New("late"))
	p.resolve(2)

	v, err := p.Await()
	assert.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestDurableAcrossStores(t *testing.T) {
	dir := t.TempDir()

	s := New(boltdb.NewFactory(dir))
	require.NoError(t, s.Set("persisted", map[string]any{"n": int64(1)}))
	require.NoError(t, s.Close())

	reopened := New(boltdb.NewFactory(dir))
	defer func() {
		_ = reopened.Close()
	}()
	got, err := reopened.Get("persisted")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": int64(1)}, got)
}

func TestReplace(t *testing.T) {
	s := newMemoryStore(t)
	require.NoError(t, s.Set("old", "gone"))

	require.NoError(t, s.Replace(map[string]any{"a": int64(1), "b": codec.NewSet("x")}))
	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	err = s.Replace(map[string]any{"bad": func() {}})
	assert.ErrorIs(t, err, codec.ErrUnsupported)
	keys, err = s.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)
}

func TestReplaceRollsBackOnWriteFailure(t *testing.T) {
	f := &faultyFactory{inner: memory.NewFactory(), failPutKey: "too-big"}
	s := New(f)
	require.NoError(t, s.Set("keep", true))

	err := s.Replace(map[string]any{"fine": 1, "too-big": 2})
	assert.ErrorIs(t, err, errQuota)

	got, err := s.Get("keep")
	require.NoError(t, err)
	assert.Equal(t, true, got)
}

func TestForEachRawYieldsStoredBytes(t *testing.T) {
	s := newMemoryStore(t)
	value := codec.NewSet([]any{}, []any{})
	require.NoError(t, s.Set("k", value))
	want, err := codec.Marshal(value)
	require.NoError(t, err)

	got := map[string][]byte{}
	require.NoError(t, s.ForEachRaw(func(key string, raw []byte) error {
		got[key] = raw
		return nil
	}))
	assert.Equal(t, map[string][]byte{"k": want}, got)

	require.NoError(t, s.ReplaceRaw(map[string][]byte{"copy": want}))
	v, err := s.Get("copy")
	require.NoError(t, err)
	set, ok := v.(*codec.Set)
	require.True(t, ok)
	assert.Equal(t, 2, set.Len())
}

func TestEmptyKeyIsStored(t *testing.T) {
	s := New(boltdb.NewFactory(t.TempDir()))
	defer func() {
		_ = s.Close()
	}()

	require.NoError(t, s.Set("", "blank"))
	got, err := s.Get("")
	require.NoError(t, err)
	assert.Equal(t, "blank", got)

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{""}, keys)
}
