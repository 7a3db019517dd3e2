package service

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/microblog/internal/events"
	"github.com/d60-Lab/microblog/internal/model"
	"github.com/d60-Lab/microblog/internal/testutil"
)

func TestPostService_PublishValidatesBody(t *testing.T) {
	env := newEnv(t)
	ann := testutil.CreateAccount(t, env.db, "ann")
	svc := env.postService()
	ctx := context.Background()

	_, err := svc.Publish(ctx, ann.ID, "   ")
	assert.ErrorIs(t, err, ErrInvalidPost)
	_, err = svc.Publish(ctx, ann.ID, strings.Repeat("x", model.MaxPostLength+1))
	assert.ErrorIs(t, err, ErrInvalidPost)

	// length counts characters, not bytes
	p, err := svc.Publish(ctx, ann.ID, strings.Repeat("é", model.MaxPostLength))
	require.NoError(t, err)
	assert.Equal(t, "ann", p.Author.Username)

	_, err = svc.Publish(ctx, "ghost", "hello")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestPostService_PublishIndexesAndQueuesEvent(t *testing.T) {
	env := newEnv(t)
	ann := testutil.CreateAccount(t, env.db, "ann")
	svc := env.postService()
	ctx := context.Background()

	p, err := svc.Publish(ctx, ann.ID, "  hello world  ")
	require.NoError(t, err)
	assert.Equal(t, "hello world", p.Body)

	doc, ok := env.backend.Get("posts", p.ID)
	require.True(t, ok)
	assert.Equal(t, "hello world", doc["body"])

	var out []model.Outbox
	require.NoError(t, env.db.Find(&out).Error)
	require.Len(t, out, 1)
	assert.Equal(t, events.TopicPostCreated, out[0].Topic)
	assert.Equal(t, model.OutboxPending, out[0].Status)
	var ev events.PostCreatedEvent
	require.NoError(t, json.Unmarshal([]byte(out[0].Payload), &ev))
	assert.Equal(t, p.ID, ev.PostID)
	assert.Equal(t, ann.ID, ev.AuthorID)
}

func TestPostService_Delete(t *testing.T) {
	env := newEnv(t)
	ann := testutil.CreateAccount(t, env.db, "ann")
	bob := testutil.CreateAccount(t, env.db, "bob")
	svc := env.postService()
	ctx := context.Background()

	p, err := svc.Publish(ctx, ann.ID, "to be removed")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Delete(ctx, bob.ID, p.ID), ErrNotPostOwner)
	assert.ErrorIs(t, svc.Delete(ctx, ann.ID, "missing"), ErrPostNotFound)

	require.NoError(t, svc.Delete(ctx, ann.ID, p.ID))
	_, ok := env.backend.Get("posts", p.ID)
	assert.False(t, ok)
	assert.ErrorIs(t, svc.Delete(ctx, ann.ID, p.ID), ErrPostNotFound)

	n, err := env.outbox.CountByStatus(ctx, model.OutboxPending)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n) // created + deleted
}

func TestPostService_Search(t *testing.T) {
	env := newEnv(t)
	ann := testutil.CreateAccount(t, env.db, "ann")
	svc := env.postService()
	ctx := context.Background()

	for _, body := range []string{"go is fun", "go go go", "rust", "learning go", "more go"} {
		_, err := svc.Publish(ctx, ann.ID, body)
		require.NoError(t, err)
	}

	res, err := svc.Search(ctx, "go", 1)
	require.NoError(t, err)
	assert.EqualValues(t, 4, res.Total)
	assert.Len(t, res.Items, testPageSize)
	assert.True(t, res.HasNext)
	assert.False(t, res.HasPrev)
	for _, it := range res.Items {
		assert.Contains(t, it.Body, "go")
		require.NotNil(t, it.Author)
	}

	res, err = svc.Search(ctx, "go", 2)
	require.NoError(t, err)
	assert.Len(t, res.Items, 1)
	assert.False(t, res.HasNext)
	assert.True(t, res.HasPrev)

	res, err = svc.Search(ctx, "python", 1)
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	assert.Zero(t, res.Total)
}

func TestPostService_SearchHugePage(t *testing.T) {
	env := newEnv(t)
	ann := testutil.CreateAccount(t, env.db, "ann")
	svc := env.postService()
	ctx := context.Background()
	_, err := svc.Publish(ctx, ann.ID, "go is fun")
	require.NoError(t, err)

	for _, page := range []int{1 << 62, math.MaxInt} {
		res, err := svc.Search(ctx, "go", page)
		require.NoError(t, err)
		assert.Equal(t, page, res.Page)
		assert.Empty(t, res.Items)
		assert.False(t, res.HasNext)
		assert.True(t, res.HasPrev)
	}

	// the synchronizer guards its own offset too
	ids, total, err := env.sync.SearchIDs(ctx, model.Post{}, "go", math.MaxInt, testPageSize)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Zero(t, total)
}
