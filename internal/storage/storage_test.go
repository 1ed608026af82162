package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySaveLoadRoundTrips(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Save(ctx, "rules", []byte(`{"a":1}`)))
	v, ok, err := m.Load(ctx, "rules")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"a":1}`, string(v))
}

func TestMemoryLoadMissingKeyReportsNotFound(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, ok, err := m.Load(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryDeleteRemovesKey(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Save(ctx, "versions:r1", []byte("x"))
	require.NoError(t, m.Delete(ctx, "versions:r1"))
	_, ok, _ := m.Load(ctx, "versions:r1")
	assert.False(t, ok)
}

func TestMemoryListKeysFiltersByPrefix(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Save(ctx, "versions:r1", []byte("x"))
	m.Save(ctx, "versions:r2", []byte("y"))
	m.Save(ctx, "rules", []byte("z"))

	keys, err := m.ListKeys(ctx, "versions:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"versions:r1", "versions:r2"}, keys)
}

func TestMemorySaveCopiesInputSlice(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	buf := []byte("original")
	m.Save(ctx, "k", buf)
	buf[0] = 'X'

	v, _, _ := m.Load(ctx, "k")
	assert.Equal(t, "original", string(v), "mutating the caller's slice after Save must not affect stored state")
}
