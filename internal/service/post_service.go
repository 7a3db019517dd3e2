package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/d60-Lab/microblog/internal/events"
	"github.com/d60-Lab/microblog/internal/model"
	"github.com/d60-Lab/microblog/internal/repository"
	"github.com/d60-Lab/microblog/internal/search"
)

// SearchPage 搜索结果分页
type SearchPage struct {
	Items   []*model.Post `json:"items"`
	Page    int           `json:"page"`
	Total   int64         `json:"total"`
	HasNext bool          `json:"has_next"`
	HasPrev bool          `json:"has_prev"`
}

// PostService 发帖、删帖与全文搜索
type PostService interface {
	Publish(ctx context.Context, authorID, body string) (*model.Post, error)
	Delete(ctx context.Context, requesterID, postID string) error
	Search(ctx context.Context, query string, page int) (*SearchPage, error)
}

type postService struct {
	accounts repository.AccountRepository
	posts    repository.PostRepository
	outbox   repository.OutboxRepository
	sync     *search.Synchronizer
	pageSize int
}

func NewPostService(accounts repository.AccountRepository, posts repository.PostRepository, outbox repository.OutboxRepository, sync *search.Synchronizer, pageSize int) PostService {
	if pageSize < 1 {
		pageSize = 10
	}
	return &postService{accounts: accounts, posts: posts, outbox: outbox, sync: sync, pageSize: pageSize}
}

// Publish 帖子和 post.created 事件在同一事务内落地，提交后同步索引
func (s *postService) Publish(ctx context.Context, authorID, body string) (*model.Post, error) {
	body = strings.TrimSpace(body)
	if n := utf8.RuneCountInString(body); n == 0 || n > model.MaxPostLength {
		return nil, ErrInvalidPost
	}
	author, err := s.accounts.GetByID(ctx, authorID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}

	post := &model.Post{ID: uuid.NewString(), AuthorID: authorID, Body: body, CreatedAt: time.Now().UTC()}
	err = s.sync.WithTransaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		if err := s.posts.WithTx(tx).Create(ctx, post); err != nil {
			return err
		}
		payload, err := events.EncodePostCreated(post)
		if err != nil {
			return err
		}
		return s.outbox.WithTx(tx).Create(ctx, &model.Outbox{
			ID:          uuid.NewString(),
			Topic:       events.TopicPostCreated,
			AggregateID: post.ID,
			Payload:     string(payload),
			CreatedAt:   post.CreatedAt,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("publish post: %w", err)
	}
	post.Author = author
	return post, nil
}

// Delete 只有作者本人可以删除
func (s *postService) Delete(ctx context.Context, requesterID, postID string) error {
	post, err := s.posts.GetByID(ctx, postID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrPostNotFound
	}
	if err != nil {
		return err
	}
	if post.AuthorID != requesterID {
		return ErrNotPostOwner
	}

	now := time.Now().UTC()
	err = s.sync.WithTransaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		if err := s.posts.WithTx(tx).Delete(ctx, post); err != nil {
			return err
		}
		payload, err := events.EncodePostDeleted(post, now)
		if err != nil {
			return err
		}
		return s.outbox.WithTx(tx).Create(ctx, &model.Outbox{
			ID:          uuid.NewString(),
			Topic:       events.TopicPostDeleted,
			AggregateID: post.ID,
			Payload:     string(payload),
			CreatedAt:   now,
		})
	})
	if errors.Is(err, repository.ErrNotFound) {
		return ErrPostNotFound
	}
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	return nil
}

// Search 索引未配置或查询为空时返回空结果
func (s *postService) Search(ctx context.Context, query string, page int) (*SearchPage, error) {
	if page < 1 {
		page = 1
	}
	offset, ok := offsetFor(page, s.pageSize)
	if !ok {
		return &SearchPage{Items: []*model.Post{}, Page: page, HasPrev: true}, nil
	}
	rows, total, err := search.Search[model.Post](ctx, s.sync, query, page, s.pageSize, preloadAuthor)
	if err != nil {
		return nil, err
	}
	items := make([]*model.Post, len(rows))
	for i := range rows {
		items[i] = &rows[i]
	}
	return &SearchPage{
		Items:   items,
		Page:    page,
		Total:   total,
		HasNext: total > int64(offset+s.pageSize),
		HasPrev: page > 1,
	}, nil
}

func preloadAuthor(db *gorm.DB) *gorm.DB { return db.Preload("Author") }
