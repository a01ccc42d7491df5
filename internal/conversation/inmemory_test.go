package conversation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStoreGetCreatesEmptySession(t *testing.T) {
	s := NewInMemoryStore(0)
	ctx := context.Background()

	n, err := s.Count(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, s.Len(), "Count must not create a session")

	turns, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.NotNil(t, turns)
	assert.Empty(t, turns)
	assert.Equal(t, 1, s.Len())
}

func TestInMemoryStoreReplaceAndClear(t *testing.T) {
	s := NewInMemoryStore(0)
	ctx := context.Background()

	want := []Turn{UserTurn("hello"), ModelTurn("hi")}
	require.NoError(t, s.Replace(ctx, "s1", want))

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, s.Clear(ctx, "s1"))
	require.NoError(t, s.Clear(ctx, "s1"))
	n, err := s.Count(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestInMemoryStoreReturnsCopies(t *testing.T) {
	s := NewInMemoryStore(0)
	ctx := context.Background()

	in := []Turn{UserTurn("a")}
	require.NoError(t, s.Replace(ctx, "s1", in))
	in[0].Text = "mutated"

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	got[0].Text = "mutated again"

	again, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "a", again[0].Text)
}

func TestInMemoryStoreEvictsLeastRecentlyUsed(t *testing.T) {
	s := NewInMemoryStore(2)
	ctx := context.Background()

	require.NoError(t, s.Replace(ctx, "a", []Turn{UserTurn("1")}))
	require.NoError(t, s.Replace(ctx, "b", []Turn{UserTurn("2")}))
	_, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, s.Replace(ctx, "c", []Turn{UserTurn("3")}))

	assert.Equal(t, 2, s.Len())
	n, err := s.Count(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 0, n, "b should have been evicted")
	n, err = s.Count(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInMemoryStoreForget(t *testing.T) {
	s := NewInMemoryStore(0)
	ctx := context.Background()
	require.NoError(t, s.Replace(ctx, "a", []Turn{UserTurn("1")}))
	s.Forget("a")
	assert.Equal(t, 0, s.Len())
}

func TestInMemoryStoreEvictHook(t *testing.T) {
	s := NewInMemoryStore(2)
	ctx := context.Background()

	var evicted []string
	s.SetEvictHook(func(id string) {
		// The store lock is free while the hook runs.
		assert.Equal(t, 2, s.Len())
		evicted = append(evicted, id)
	})

	require.NoError(t, s.Replace(ctx, "a", []Turn{UserTurn("1")}))
	_, err := s.Get(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, evicted)

	require.NoError(t, s.Replace(ctx, "c", []Turn{UserTurn("3")}))
	assert.Equal(t, []string{"a"}, evicted)

	_, err = s.Get(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, evicted)

	s.Forget("c")
	assert.Equal(t, []string{"a", "b"}, evicted, "Forget is not an eviction")
}
