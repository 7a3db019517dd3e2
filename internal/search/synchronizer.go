package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/microblog/pkg/logger"
	"github.com/d60-Lab/microblog/pkg/monitor"
)

var tracer = otel.Tracer("microblog/search")

var ErrNestedTransaction = errors.New("search: WithTransaction called inside another unit of work; use tx.Transaction instead")

// Options tunes flush and reindex behaviour.
type Options struct {
	SyncTimeout    time.Duration
	ReindexBatch   int
	ReindexWorkers int
}

// Synchronizer keeps the search backend in step with committed relational
// changes. A nil backend disables every index operation.
type Synchronizer struct {
	db       *gorm.DB
	backend  Backend
	registry *Registry
	opts     Options

	// commit is swapped in tests to simulate a failing commit.
	commit func(tx *gorm.DB) error
}

// New installs the capture callbacks on db and returns a synchronizer.
func New(db *gorm.DB, backend Backend, registry *Registry, opts Options) (*Synchronizer, error) {
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = 5 * time.Second
	}
	if opts.ReindexBatch <= 0 {
		opts.ReindexBatch = 500
	}
	if opts.ReindexWorkers <= 0 {
		opts.ReindexWorkers = 4
	}
	if err := Install(db); err != nil {
		return nil, err
	}
	return &Synchronizer{
		db:       db,
		backend:  backend,
		registry: registry,
		opts:     opts,
		commit:   func(tx *gorm.DB) error { return tx.Commit().Error },
	}, nil
}

// Install registers the callbacks that feed statements into the change set
// carried by the statement context. Statements without one are ignored.
func Install(db *gorm.DB) error {
	cb := db.Callback()
	if cb.Create().Get("search:capture_create") != nil {
		return nil
	}
	if err := cb.Create().After("gorm:create").Register("search:capture_create", capture(OpAdd)); err != nil {
		return fmt.Errorf("register create callback: %w", err)
	}
	if err := cb.Update().After("gorm:update").Register("search:capture_update", capture(OpUpdate)); err != nil {
		return fmt.Errorf("register update callback: %w", err)
	}
	if err := cb.Delete().After("gorm:delete").Register("search:capture_delete", capture(OpDelete)); err != nil {
		return fmt.Errorf("register delete callback: %w", err)
	}
	return nil
}

func capture(op Op) func(*gorm.DB) {
	return func(db *gorm.DB) {
		if db.Error != nil || db.Statement.Schema == nil {
			return
		}
		ctx := db.Statement.Context
		cs := changeSetFrom(ctx)
		if cs == nil {
			return
		}
		table := db.Statement.Table
		if table == "" {
			table = db.Statement.Schema.Table
		}
		e, ok := cs.registry.lookup(table)
		if !ok {
			return
		}
		rv := reflect.Indirect(db.Statement.ReflectValue)
		switch rv.Kind() {
		case reflect.Slice, reflect.Array:
			for i := 0; i < rv.Len(); i++ {
				if doc, ok := e.document(ctx, rv.Index(i)); ok {
					cs.record(op, doc)
				}
			}
		case reflect.Struct:
			if doc, ok := e.document(ctx, rv); ok {
				cs.record(op, doc)
			}
		}
	}
}

// Enabled reports whether a search backend is configured.
func (s *Synchronizer) Enabled() bool { return s.backend != nil }

// Registry returns the searchable type registry.
func (s *Synchronizer) Registry() *Registry { return s.registry }

// WithTransaction runs fn in a database transaction whose searchable changes
// are captured before commit and pushed to the index only if commit succeeds.
// fn must issue its statements through tx, and any WithContext call on tx must
// use the ctx handed to fn: that context carries the change set.
func (s *Synchronizer) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx *gorm.DB) error) (err error) {
	if changeSetFrom(ctx) != nil {
		return ErrNestedTransaction
	}
	cs := newChangeSet(s.registry)
	txCtx := withChangeSet(ctx, cs)
	tx := s.db.WithContext(txCtx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	panicked := true
	defer func() {
		if panicked || err != nil {
			tx.Rollback()
			cs.Reset()
			changeSets.WithLabelValues("discarded").Inc()
		}
	}()

	if err = fn(txCtx, tx); err != nil {
		panicked = false
		return err
	}
	snap, err := cs.Capture()
	if err != nil {
		panicked = false
		return err
	}
	if err = s.commit(tx); err != nil {
		panicked = false
		return fmt.Errorf("commit: %w", err)
	}
	panicked = false

	s.flush(ctx, cs, snap)
	return nil
}

func (s *Synchronizer) flush(ctx context.Context, cs *ChangeSet, snap Snapshot) {
	defer cs.Reset()
	if err := cs.MarkFlushed(); err != nil {
		logger.Error("search change set in unexpected state", zap.Error(err))
		return
	}
	if snap.Empty() || s.backend == nil {
		changeSets.WithLabelValues("empty").Inc()
		return
	}

	start := time.Now()
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.SyncTimeout)
	defer cancel()
	fctx, span := tracer.Start(fctx, "search.flush")
	span.SetAttributes(
		attribute.Int("search.added", len(snap.Added)),
		attribute.Int("search.updated", len(snap.Updated)),
		attribute.Int("search.deleted", len(snap.Deleted)),
	)
	defer span.End()

	failed := 0
	for _, docs := range [][]Document{snap.Added, snap.Updated} {
		for _, doc := range docs {
			if err := s.upsert(fctx, doc); err != nil {
				failed++
			}
		}
	}
	for _, doc := range snap.Deleted {
		if err := s.remove(fctx, doc.Index, doc.ID); err != nil {
			failed++
		}
	}
	if failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d index operations failed", failed))
	}
	flushDuration.Observe(time.Since(start).Seconds())
	changeSets.WithLabelValues("flushed").Inc()
}

// upsert writes doc to the index. Failures are logged and reported, the
// caller decides whether they matter.
func (s *Synchronizer) upsert(ctx context.Context, doc Document) error {
	if s.backend == nil {
		return nil
	}
	err := s.backend.Index(ctx, doc.Index, doc.ID, doc.Fields)
	flushOperations.WithLabelValues(doc.Index, "index", statusLabel(err)).Inc()
	if err != nil {
		logger.Warn("search index write failed",
			zap.String("index", doc.Index), zap.String("id", doc.ID), zap.Error(err))
		monitor.CaptureError(err, map[string]string{"component": "search", "op": "index", "index": doc.Index})
	}
	return err
}

func (s *Synchronizer) remove(ctx context.Context, index, id string) error {
	if s.backend == nil {
		return nil
	}
	err := s.backend.Delete(ctx, index, id)
	flushOperations.WithLabelValues(index, "delete", statusLabel(err)).Inc()
	if err != nil {
		logger.Warn("search index delete failed",
			zap.String("index", index), zap.String("id", id), zap.Error(err))
		monitor.CaptureError(err, map[string]string{"component": "search", "op": "delete", "index": index})
	}
	return err
}

// SearchIDs queries the index for model's type and returns the ranked ids of
// the requested page plus the total number of matches. Backend failures and
// an unconfigured backend both yield an empty result.
func (s *Synchronizer) SearchIDs(ctx context.Context, model Searchable, query string, page, pageSize int) ([]string, int64, error) {
	e, err := s.registry.entryFor(model)
	if err != nil {
		return nil, 0, err
	}
	if s.backend == nil {
		queries.WithLabelValues(e.index, "disabled").Inc()
		return nil, 0, nil
	}
	query = strings.TrimSpace(query)
	if query == "" || pageSize <= 0 {
		return nil, 0, nil
	}
	if page < 1 {
		page = 1
	}
	if page-1 > (math.MaxInt-pageSize)/pageSize {
		// offset would overflow; no backend holds that many hits
		return nil, 0, nil
	}

	ctx, span := tracer.Start(ctx, "search.query")
	span.SetAttributes(attribute.String("search.index", e.index), attribute.Int("search.page", page))
	defer span.End()

	ids, total, err := s.backend.Search(ctx, e.index, query, (page-1)*pageSize, pageSize)
	queries.WithLabelValues(e.index, statusLabel(err)).Inc()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("search query failed", zap.String("index", e.index), zap.Error(err))
		monitor.CaptureError(err, map[string]string{"component": "search", "op": "query", "index": e.index})
		return nil, 0, nil
	}
	return ids, total, nil
}

// Search runs a full-text query and loads the matching rows in rank order.
// scopes customise the relational load (e.g. preloading associations).
func Search[T Searchable](ctx context.Context, s *Synchronizer, query string, page, pageSize int, scopes ...func(*gorm.DB) *gorm.DB) ([]T, int64, error) {
	var zero T
	e, err := s.registry.entryFor(zero)
	if err != nil {
		return nil, 0, err
	}
	ids, total, err := s.SearchIDs(ctx, zero, query, page, pageSize)
	if err != nil {
		return nil, 0, err
	}
	rows := make([]T, 0, len(ids))
	if len(ids) == 0 {
		return rows, total, nil
	}

	col := clause.Column{Name: e.pk.DBName}
	values := make([]interface{}, len(ids))
	for i, id := range ids {
		values[i] = id
	}
	err = s.db.WithContext(ctx).
		Scopes(scopes...).
		Where(clause.IN{Column: col, Values: values}).
		Clauses(rankOrder(col, ids)).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// rankOrder builds CASE id WHEN ? THEN 0 WHEN ? THEN 1 ... END so rows come
// back in the order the index ranked them.
func rankOrder(col clause.Column, ids []string) clause.OrderBy {
	var b strings.Builder
	vars := make([]interface{}, 0, len(ids)+1)
	b.WriteString("CASE ?")
	vars = append(vars, col)
	for i, id := range ids {
		fmt.Fprintf(&b, " WHEN ? THEN %d", i)
		vars = append(vars, id)
	}
	b.WriteString(" END")
	return clause.OrderBy{Expression: clause.Expr{SQL: b.String(), Vars: vars, WithoutParentheses: true}}
}

// ReindexResult summarises a reindex run.
type ReindexResult struct {
	Indexed int64
	Failed  int64
}

// Reindex rebuilds the index for model's type from the relational table. It
// only writes documents; stale ones are overwritten, never removed.
func (s *Synchronizer) Reindex(ctx context.Context, model Searchable) (ReindexResult, error) {
	var res ReindexResult
	e, err := s.registry.entryFor(model)
	if err != nil {
		return res, err
	}
	if s.backend == nil {
		logger.Info("search backend not configured, reindex skipped", zap.String("index", e.index))
		return res, nil
	}

	ctx, span := tracer.Start(ctx, "search.reindex")
	span.SetAttributes(attribute.String("search.index", e.index))
	defer span.End()

	var indexed, failed atomic.Int64
	batch := reflect.New(reflect.SliceOf(e.typ))
	err = s.db.WithContext(ctx).FindInBatches(batch.Interface(), s.opts.ReindexBatch, func(tx *gorm.DB, n int) error {
		rows := batch.Elem()
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.opts.ReindexWorkers)
		for i := 0; i < rows.Len(); i++ {
			doc, ok := e.document(gctx, rows.Index(i))
			if !ok {
				continue
			}
			g.Go(func() error {
				err := s.backend.Index(gctx, doc.Index, doc.ID, doc.Fields)
				reindexedDocuments.WithLabelValues(doc.Index, statusLabel(err)).Inc()
				if err != nil {
					failed.Add(1)
					logger.Warn("reindex write failed", zap.String("index", doc.Index), zap.String("id", doc.ID), zap.Error(err))
					return nil
				}
				indexed.Add(1)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		logger.Debug("reindex batch done", zap.String("index", e.index), zap.Int("batch", n), zap.Int("rows", rows.Len()))
		return nil
	}).Error

	res.Indexed, res.Failed = indexed.Load(), failed.Load()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return res, fmt.Errorf("reindex %s: %w", e.index, err)
	}
	logger.Info("reindex finished", zap.String("index", e.index),
		zap.Int64("indexed", res.Indexed), zap.Int64("failed", res.Failed))
	return res, nil
}
