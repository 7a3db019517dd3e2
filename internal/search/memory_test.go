package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackend_ScoresAndPages(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()
	require.NoError(t, m.Index(ctx, "posts", "1", map[string]interface{}{"body": "Hello, World!"}))
	require.NoError(t, m.Index(ctx, "posts", "2", map[string]interface{}{"body": "hello there world"}))
	require.NoError(t, m.Index(ctx, "posts", "3", map[string]interface{}{"body": "goodbye"}))
	require.NoError(t, m.Index(ctx, "other", "9", map[string]interface{}{"body": "hello"}))

	ids, total, err := m.Search(ctx, "posts", "HELLO world", 0, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Equal(t, []string{"1", "2"}, ids)

	ids, total, err = m.Search(ctx, "posts", "there", 0, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, []string{"2"}, ids)

	ids, total, err = m.Search(ctx, "posts", "hello", 5, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Empty(t, ids)

	ids, _, err = m.Search(ctx, "posts", "?!", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestMemoryBackend_UpsertReplacesDocument(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()
	fields := map[string]interface{}{"body": "old"}
	require.NoError(t, m.Index(ctx, "posts", "1", fields))
	fields["body"] = "mutated after indexing"
	require.NoError(t, m.Index(ctx, "posts", "1", map[string]interface{}{"body": "new"}))

	got, ok := m.Get("posts", "1")
	require.True(t, ok)
	assert.Equal(t, "new", got["body"])
	assert.Equal(t, 1, m.Count("posts"))
}
