package search

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/microblog/internal/model"
	"github.com/d60-Lab/microblog/internal/testutil"
)

const postIndex = "test_posts"

func newSynchronizer(t *testing.T, backend Backend) (*Synchronizer, *gorm.DB) {
	t.Helper()
	db := testutil.NewDB(t)
	reg := NewRegistry("test_")
	require.NoError(t, reg.Register(model.Post{}))
	s, err := New(db, backend, reg, Options{ReindexBatch: 2, ReindexWorkers: 2})
	require.NoError(t, err)
	return s, db
}

func createPost(ctx context.Context, tx *gorm.DB, p *model.Post) error {
	return tx.WithContext(ctx).Omit("Author").Create(p).Error
}

// fixedBackend returns a canned ranking and can be told to fail writes.
type fixedBackend struct {
	ids       []string
	total     int64
	failWrite bool
	writes    atomic.Int64
}

func (f *fixedBackend) Index(context.Context, string, string, map[string]interface{}) error {
	f.writes.Add(1)
	if f.failWrite {
		return errors.New("index unavailable")
	}
	return nil
}

func (f *fixedBackend) Delete(context.Context, string, string) error {
	f.writes.Add(1)
	if f.failWrite {
		return errors.New("index unavailable")
	}
	return nil
}

func (f *fixedBackend) Search(context.Context, string, string, int, int) ([]string, int64, error) {
	return f.ids, f.total, nil
}

func TestWithTransaction_FlushesOnlyAfterCommit(t *testing.T) {
	backend := NewMemoryBackend()
	s, db := newSynchronizer(t, backend)
	author := testutil.CreateAccount(t, db, "susan")
	ctx := context.Background()

	post := &model.Post{ID: "p1", AuthorID: author.ID, Body: "hello search", CreatedAt: testutil.Seq(1)}
	err := s.WithTransaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		require.NoError(t, createPost(ctx, tx, post))
		assert.Equal(t, 0, backend.Count(postIndex), "nothing is indexed before commit")
		return nil
	})
	require.NoError(t, err)

	got, ok := backend.Get(postIndex, "p1")
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"body": "hello search"}, got)
}

func TestWithTransaction_UpdateAndDeleteAreMirrored(t *testing.T) {
	backend := NewMemoryBackend()
	s, db := newSynchronizer(t, backend)
	author := testutil.CreateAccount(t, db, "susan")
	ctx := context.Background()

	post := &model.Post{ID: "p1", AuthorID: author.ID, Body: "first", CreatedAt: testutil.Seq(1)}
	require.NoError(t, s.WithTransaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		return createPost(ctx, tx, post)
	}))

	require.NoError(t, s.WithTransaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		post.Body = "second"
		return tx.Omit("Author").Save(post).Error
	}))
	got, ok := backend.Get(postIndex, "p1")
	require.True(t, ok)
	assert.Equal(t, "second", got["body"])

	require.NoError(t, s.WithTransaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		return tx.Delete(post).Error
	}))
	_, ok = backend.Get(postIndex, "p1")
	assert.False(t, ok)

	// deleting an already absent document is not an error
	require.NoError(t, backend.Delete(ctx, postIndex, "p1"))
}

func TestWithTransaction_CommitFailureDiscardsChanges(t *testing.T) {
	backend := NewMemoryBackend()
	s, db := newSynchronizer(t, backend)
	author := testutil.CreateAccount(t, db, "susan")
	s.commit = func(tx *gorm.DB) error {
		tx.Rollback()
		return errors.New("disk full")
	}

	err := s.WithTransaction(context.Background(), func(ctx context.Context, tx *gorm.DB) error {
		return createPost(ctx, tx, &model.Post{ID: "p1", AuthorID: author.ID, Body: "lost", CreatedAt: testutil.Seq(1)})
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 0, backend.Count(postIndex))

	var n int64
	require.NoError(t, db.Model(&model.Post{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestWithTransaction_ErrorAndPanicRollBack(t *testing.T) {
	backend := NewMemoryBackend()
	s, db := newSynchronizer(t, backend)
	author := testutil.CreateAccount(t, db, "susan")
	ctx := context.Background()
	boom := errors.New("validation failed")

	err := s.WithTransaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		require.NoError(t, createPost(ctx, tx, &model.Post{ID: "p1", AuthorID: author.ID, Body: "x", CreatedAt: testutil.Seq(1)}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.Panics(t, func() {
		_ = s.WithTransaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
			require.NoError(t, createPost(ctx, tx, &model.Post{ID: "p2", AuthorID: author.ID, Body: "y", CreatedAt: testutil.Seq(2)}))
			panic("handler bug")
		})
	})
	assert.Equal(t, 0, backend.Count(postIndex))

	// the connection was released and later units of work still flush
	require.NoError(t, s.WithTransaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		return createPost(ctx, tx, &model.Post{ID: "p3", AuthorID: author.ID, Body: "z", CreatedAt: testutil.Seq(3)})
	}))
	assert.Equal(t, 1, backend.Count(postIndex))
}

func TestWithTransaction_RejectsNesting(t *testing.T) {
	s, _ := newSynchronizer(t, NewMemoryBackend())
	err := s.WithTransaction(context.Background(), func(ctx context.Context, tx *gorm.DB) error {
		return s.WithTransaction(ctx, func(context.Context, *gorm.DB) error { return nil })
	})
	assert.ErrorIs(t, err, ErrNestedTransaction)
}

func TestWithTransaction_IndexFailuresAreSwallowed(t *testing.T) {
	backend := &fixedBackend{failWrite: true}
	s, db := newSynchronizer(t, backend)
	author := testutil.CreateAccount(t, db, "susan")

	err := s.WithTransaction(context.Background(), func(ctx context.Context, tx *gorm.DB) error {
		return createPost(ctx, tx, &model.Post{ID: "p1", AuthorID: author.ID, Body: "kept", CreatedAt: testutil.Seq(1)})
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, backend.writes.Load())

	var n int64
	require.NoError(t, db.Model(&model.Post{}).Count(&n).Error)
	assert.EqualValues(t, 1, n, "relational commit stands")
}

func TestUnconfiguredBackendIsNoop(t *testing.T) {
	s, db := newSynchronizer(t, nil)
	author := testutil.CreateAccount(t, db, "susan")
	ctx := context.Background()
	assert.False(t, s.Enabled())

	require.NoError(t, s.WithTransaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		return createPost(ctx, tx, &model.Post{ID: "p1", AuthorID: author.ID, Body: "hello", CreatedAt: testutil.Seq(1)})
	}))

	rows, total, err := Search[model.Post](ctx, s, "hello", 1, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Zero(t, total)

	res, err := s.Reindex(ctx, model.Post{})
	require.NoError(t, err)
	assert.Equal(t, ReindexResult{}, res)
}

func TestSearch_ReturnsRowsInRankOrder(t *testing.T) {
	backend := &fixedBackend{ids: []string{"c", "a", "missing", "b"}, total: 7}
	s, db := newSynchronizer(t, backend)
	author := testutil.CreateAccount(t, db, "susan")
	for i, id := range []string{"a", "b", "c"} {
		testutil.CreatePostWithID(t, db, id, author, "body "+id, testutil.Seq(i))
	}

	rows, total, err := Search[model.Post](context.Background(), s, "body", 1, 10,
		func(db *gorm.DB) *gorm.DB { return db.Preload("Author") })
	require.NoError(t, err)
	assert.EqualValues(t, 7, total)
	require.Len(t, rows, 3)
	assert.Equal(t, "c", rows[0].ID)
	assert.Equal(t, "a", rows[1].ID)
	assert.Equal(t, "b", rows[2].ID)
	require.NotNil(t, rows[0].Author)
	assert.Equal(t, "susan", rows[0].Author.Username)
}

func TestSearch_EmptyIDsSkipsQuery(t *testing.T) {
	backend := &fixedBackend{ids: nil, total: 0}
	s, db := newSynchronizer(t, backend)

	var queries atomic.Int64
	require.NoError(t, db.Callback().Query().Before("gorm:query").Register("test:count_queries", func(*gorm.DB) {
		queries.Add(1)
	}))

	rows, total, err := Search[model.Post](context.Background(), s, "nothing", 1, 10)
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
	assert.Zero(t, total)
	assert.Zero(t, queries.Load())

	_, _, err = Search[model.Post](context.Background(), s, "   ", 1, 10)
	require.NoError(t, err)
	assert.Zero(t, queries.Load())
}

func TestSearch_EndToEndWithMemoryBackend(t *testing.T) {
	backend := NewMemoryBackend()
	s, db := newSynchronizer(t, backend)
	author := testutil.CreateAccount(t, db, "susan")
	ctx := context.Background()

	bodies := map[string]string{
		"p1": "learning go today",
		"p2": "go generics and go modules",
		"p3": "nothing relevant",
		"p4": "modules everywhere",
	}
	require.NoError(t, s.WithTransaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		for id, body := range bodies {
			if err := createPost(ctx, tx, &model.Post{ID: id, AuthorID: author.ID, Body: body, CreatedAt: testutil.Seq(1)}); err != nil {
				return err
			}
		}
		return nil
	}))

	rows, total, err := Search[model.Post](ctx, s, "go modules", 1, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, rows, 2)
	assert.Equal(t, "p2", rows[0].ID) // matches both terms
	assert.Equal(t, "p1", rows[1].ID)

	rows, _, err = Search[model.Post](ctx, s, "go modules", 2, 2)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "p4", rows[0].ID)

	// page < 1 is clamped
	rows, _, err = Search[model.Post](ctx, s, "go modules", 0, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "p2", rows[0].ID)
}

func TestReindex_RebuildsFromTable(t *testing.T) {
	backend := NewMemoryBackend()
	s, db := newSynchronizer(t, backend)
	author := testutil.CreateAccount(t, db, "susan")
	for i := 0; i < 5; i++ {
		// written outside a unit of work: not captured
		testutil.CreatePostWithID(t, db, testutil.PostID(i), author, "post body", testutil.Seq(i))
	}
	assert.Equal(t, 0, backend.Count(postIndex))

	res, err := s.Reindex(context.Background(), model.Post{})
	require.NoError(t, err)
	assert.Equal(t, ReindexResult{Indexed: 5}, res)
	assert.Equal(t, 5, backend.Count(postIndex))

	// idempotent
	res, err = s.Reindex(context.Background(), model.Post{})
	require.NoError(t, err)
	assert.EqualValues(t, 5, res.Indexed)
	assert.Equal(t, 5, backend.Count(postIndex))
}

func TestReindex_CountsFailures(t *testing.T) {
	backend := &fixedBackend{failWrite: true}
	s, db := newSynchronizer(t, backend)
	author := testutil.CreateAccount(t, db, "susan")
	for i := 0; i < 3; i++ {
		testutil.CreatePostWithID(t, db, testutil.PostID(i), author, "x", testutil.Seq(i))
	}
	res, err := s.Reindex(context.Background(), model.Post{})
	require.NoError(t, err)
	assert.Equal(t, ReindexResult{Failed: 3}, res)
}

type unregistered struct{ ID string }

func (unregistered) TableName() string          { return "nope" }
func (unregistered) SearchableFields() []string { return []string{"ID"} }

func TestUnregisteredModel(t *testing.T) {
	s, _ := newSynchronizer(t, NewMemoryBackend())
	_, _, err := s.SearchIDs(context.Background(), unregistered{}, "x", 1, 10)
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestRegistry_RejectsUnknownField(t *testing.T) {
	reg := NewRegistry("")
	err := reg.Register(badModel{})
	assert.Error(t, err)
}

type badModel struct {
	ID   string `gorm:"primaryKey"`
	Body string
}

func (badModel) TableName() string          { return "bad" }
func (badModel) SearchableFields() []string { return []string{"Missing"} }

func TestRankOrder_ReachesGeneratedSQL(t *testing.T) {
	db := testutil.NewDB(t)
	ids := []string{"c", "a", "b"}
	stmt := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var rows []model.Post
		return tx.Where("id IN ?", ids).Clauses(rankOrder(clause.Column{Name: "id"}, ids)).Find(&rows)
	})
	assert.Contains(t, stmt, "ORDER BY CASE")
	assert.Contains(t, stmt, "THEN 0")
	assert.Contains(t, stmt, "THEN 2 END")
}
