package service

import (
	"context"
	"math"
	"time"

	"github.com/d60-Lab/microblog/internal/model"
	"github.com/d60-Lab/microblog/internal/repository"
)

// Page 一页帖子；Next/Prev 为相邻页码，不存在时为 0
type Page struct {
	Items   []*model.Post `json:"items"`
	Page    int           `json:"page"`
	HasNext bool          `json:"has_next"`
	HasPrev bool          `json:"has_prev"`
	Next    int           `json:"next,omitempty"`
	Prev    int           `json:"prev,omitempty"`
}

// FeedAssembler 组装时间线、广场和个人主页三类分页帖子流。
// 每页大小来自配置，调用方只能选择页码；不做缓存，每次读取当前数据。
type FeedAssembler struct {
	posts    repository.PostRepository
	pageSize int
}

func NewFeedAssembler(posts repository.PostRepository, pageSize int) *FeedAssembler {
	if pageSize < 1 {
		pageSize = 10
	}
	return &FeedAssembler{posts: posts, pageSize: pageSize}
}

// PageSize 每页条数
func (f *FeedAssembler) PageSize() int { return f.pageSize }

// Timeline 自己的帖子 ∪ 关注对象的帖子
func (f *FeedAssembler) Timeline(ctx context.Context, accountID string, page int) (*Page, error) {
	return f.assemble(ctx, "timeline", page, func(offset, limit int) ([]*model.Post, error) {
		return f.posts.Timeline(ctx, accountID, offset, limit)
	})
}

// Explore 全站帖子
func (f *FeedAssembler) Explore(ctx context.Context, page int) (*Page, error) {
	return f.assemble(ctx, "explore", page, func(offset, limit int) ([]*model.Post, error) {
		return f.posts.ListAll(ctx, offset, limit)
	})
}

// Profile 某个账号自己发布的帖子
func (f *FeedAssembler) Profile(ctx context.Context, authorID string, page int) (*Page, error) {
	return f.assemble(ctx, "profile", page, func(offset, limit int) ([]*model.Post, error) {
		return f.posts.ListByAuthor(ctx, authorID, offset, limit)
	})
}

// assemble 多取一条判断是否有下一页
func (f *FeedAssembler) assemble(ctx context.Context, feed string, page int, fetch func(offset, limit int) ([]*model.Post, error)) (*Page, error) {
	start := time.Now()
	defer func() { feedLatency.WithLabelValues(feed).Observe(time.Since(start).Seconds()) }()

	if page < 1 {
		page = 1
	}
	p := &Page{Page: page, HasPrev: page > 1, Items: []*model.Post{}}
	if p.HasPrev {
		p.Prev = page - 1
	}
	offset, ok := offsetFor(page, f.pageSize)
	if !ok {
		return p, nil
	}
	rows, err := fetch(offset, f.pageSize+1)
	if err != nil {
		return nil, err
	}
	if len(rows) > f.pageSize {
		rows = rows[:f.pageSize]
		p.HasNext = true
		p.Next = page + 1
	}
	if rows != nil {
		p.Items = rows
	}
	return p, nil
}

// offsetFor 页码大到偏移量溢出时返回 false，这样的页必然为空
func offsetFor(page, pageSize int) (int, bool) {
	if page-1 > (math.MaxInt-pageSize-1)/pageSize {
		return 0, false
	}
	return (page - 1) * pageSize, true
}
