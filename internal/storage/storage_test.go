package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()

	_, err := kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Set(ctx, "a/1", []byte("one")))
	require.NoError(t, kv.Set(ctx, "a/2", []byte("two")))
	require.NoError(t, kv.Set(ctx, "b/1", []byte("three")))

	got, err := kv.Get(ctx, "a/1")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), got)

	keys, err := kv.Keys(ctx, "a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/1", "a/2"}, keys)

	require.NoError(t, kv.Delete(ctx, "a/1"))
	_, err = kv.Get(ctx, "a/1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, NewMemory().Set(ctx, "k", nil))
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()

	type payload struct {
		Name string `json:"name"`
	}
	require.NoError(t, SetJSON(ctx, kv, "p", payload{Name: "x"}))

	var got payload
	require.NoError(t, GetJSON(ctx, kv, "p", &got))
	assert.Equal(t, "x", got.Name)

	assert.ErrorIs(t, GetJSON(ctx, kv, "missing", &got), ErrNotFound)

	require.NoError(t, kv.Set(ctx, "bad", []byte("{")))
	assert.Error(t, GetJSON(ctx, kv, "bad", &got))
}
