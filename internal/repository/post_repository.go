package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/d60-Lab/microblog/internal/model"
)

type PostRepository interface {
	WithTx(tx *gorm.DB) PostRepository
	Create(ctx context.Context, post *model.Post) error
	GetByID(ctx context.Context, id string) (*model.Post, error)
	Delete(ctx context.Context, post *model.Post) error
	ListAllByAuthor(ctx context.Context, authorID string) ([]*model.Post, error)
	DeleteMany(ctx context.Context, posts []*model.Post) error

	// 以下查询统一按 created_at DESC, id DESC 排序
	Timeline(ctx context.Context, accountID string, offset, limit int) ([]*model.Post, error)
	ListAll(ctx context.Context, offset, limit int) ([]*model.Post, error)
	ListByAuthor(ctx context.Context, authorID string, offset, limit int) ([]*model.Post, error)
}

type postRepository struct {
	db *gorm.DB
}

func NewPostRepository(db *gorm.DB) PostRepository { return &postRepository{db: db} }

func (r *postRepository) WithTx(tx *gorm.DB) PostRepository { return &postRepository{db: tx} }

func (r *postRepository) Create(ctx context.Context, post *model.Post) error {
	return r.db.WithContext(ctx).Omit("Author").Create(post).Error
}

func (r *postRepository) GetByID(ctx context.Context, id string) (*model.Post, error) {
	var p model.Post
	err := r.db.WithContext(ctx).Preload("Author").Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Delete 按主键删除；传入完整实体以便提交后同步删除搜索文档
func (r *postRepository) Delete(ctx context.Context, post *model.Post) error {
	res := r.db.WithContext(ctx).Delete(post)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *postRepository) ListAllByAuthor(ctx context.Context, authorID string) ([]*model.Post, error) {
	var res []*model.Post
	err := r.db.WithContext(ctx).Where("author_id = ?", authorID).Find(&res).Error
	return res, err
}

func (r *postRepository) DeleteMany(ctx context.Context, posts []*model.Post) error {
	if len(posts) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Delete(&posts).Error
}

// timelineIDs 关注对象的帖子 UNION 自己的帖子；UNION 按集合去重，同一帖子只会出现一次
const timelineIDs = `posts.id IN (
SELECT p.id FROM posts p JOIN follows f ON f.followee_id = p.author_id WHERE f.follower_id = ?
UNION
SELECT p.id FROM posts p WHERE p.author_id = ?)`

func (r *postRepository) Timeline(ctx context.Context, accountID string, offset, limit int) ([]*model.Post, error) {
	var res []*model.Post
	err := r.db.WithContext(ctx).
		Preload("Author").
		Where(timelineIDs, accountID, accountID).
		Order("posts.created_at DESC, posts.id DESC").
		Offset(offset).Limit(limit).
		Find(&res).Error
	return res, err
}

func (r *postRepository) ListAll(ctx context.Context, offset, limit int) ([]*model.Post, error) {
	var res []*model.Post
	err := r.db.WithContext(ctx).
		Preload("Author").
		Order("created_at DESC, id DESC").
		Offset(offset).Limit(limit).
		Find(&res).Error
	return res, err
}

func (r *postRepository) ListByAuthor(ctx context.Context, authorID string, offset, limit int) ([]*model.Post, error) {
	var res []*model.Post
	err := r.db.WithContext(ctx).
		Preload("Author").
		Where("author_id = ?", authorID).
		Order("created_at DESC, id DESC").
		Offset(offset).Limit(limit).
		Find(&res).Error
	return res, err
}
