package idb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jeanedlune/idbkv/codec"
	"github.com/Jeanedlune/idbkv/engine/memory"
)

func TestDefaultStore(t *testing.T) {
	SetFactory(memory.NewFactory())

	assert.Equal(t, "composi-idb", Name())
	assert.Equal(t, "composi-store", StoreName())
	assert.Same(t, Default(), Default())
	assert.Equal(t, Name(), Default().Name())
	assert.Equal(t, StoreName(), Default().StoreName())

	require.NoError(t, Set("test-get-key", "This is some text to get."))
	got, err := Get("test-get-key")
	require.NoError(t, err)
	assert.Equal(t, "This is some text to get.", got)

	require.NoError(t, Set("fruits", []string{"Apples", "Oranges", "Bananas"}))
	got, err = Get("fruits")
	require.NoError(t, err)
	assert.Equal(t, []any{"Apples", "Oranges", "Bananas"}, got)

	keys, err := Keys()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"fruits", "test-get-key"}, keys)

	require.NoError(t, Remove("fruits"))
	got, err = Get("fruits")
	require.NoError(t, err)
	assert.True(t, codec.IsUndefined(got))

	require.NoError(t, Clear())
	keys, err = Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)

	// Installing a factory after first use leaves the default untouched.
	before := Default()
	SetFactory(memory.NewFactory())
	assert.Same(t, before, Default())
}
