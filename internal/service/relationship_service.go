package service

import (
	"context"
	"errors"
	"math"

	"github.com/d60-Lab/microblog/internal/cache"
	"github.com/d60-Lab/microblog/internal/model"
	"github.com/d60-Lab/microblog/internal/repository"
)

// RelationshipService 关系链服务
type RelationshipService interface {
	Follow(ctx context.Context, followerID, followeeID string) error
	Unfollow(ctx context.Context, followerID, followeeID string) error
	// Toggle 返回操作后的关注状态
	Toggle(ctx context.Context, followerID, followeeID string) (bool, error)
	IsFollowing(ctx context.Context, followerID, followeeID string) (bool, error)
	ListFollowing(ctx context.Context, accountID string, page, pageSize int) ([]*model.Account, error)
	ListFollowers(ctx context.Context, accountID string, page, pageSize int) ([]*model.Account, error)
	Counts(ctx context.Context, accountID string) (cache.FollowCounts, error)
}

type relationshipService struct {
	accounts   repository.AccountRepository
	followRepo repository.FollowRepository
	counts     *cache.CountCache
}

// NewRelationshipService counts 可为 nil
func NewRelationshipService(accounts repository.AccountRepository, followRepo repository.FollowRepository, counts *cache.CountCache) RelationshipService {
	return &relationshipService{accounts: accounts, followRepo: followRepo, counts: counts}
}

// Follow 幂等：重复关注不报错
func (s *relationshipService) Follow(ctx context.Context, followerID, followeeID string) error {
	if followerID == followeeID {
		return ErrFollowSelf
	}
	if err := s.ensureAccount(ctx, followeeID); err != nil {
		return err
	}
	if err := s.followRepo.Create(ctx, followerID, followeeID); err != nil {
		return err
	}
	s.counts.Invalidate(ctx, followerID, followeeID)
	return nil
}

// Unfollow 幂等：未关注时直接返回
func (s *relationshipService) Unfollow(ctx context.Context, followerID, followeeID string) error {
	if followerID == followeeID {
		return ErrFollowSelf
	}
	if err := s.ensureAccount(ctx, followeeID); err != nil {
		return err
	}
	if err := s.followRepo.Delete(ctx, followerID, followeeID); err != nil {
		return err
	}
	s.counts.Invalidate(ctx, followerID, followeeID)
	return nil
}

func (s *relationshipService) Toggle(ctx context.Context, followerID, followeeID string) (bool, error) {
	following, err := s.IsFollowing(ctx, followerID, followeeID)
	if err != nil {
		return false, err
	}
	if following {
		return false, s.Unfollow(ctx, followerID, followeeID)
	}
	return true, s.Follow(ctx, followerID, followeeID)
}

func (s *relationshipService) IsFollowing(ctx context.Context, followerID, followeeID string) (bool, error) {
	if followerID == followeeID {
		return false, nil
	}
	return s.followRepo.Exists(ctx, followerID, followeeID)
}

func (s *relationshipService) ListFollowing(ctx context.Context, accountID string, page, pageSize int) ([]*model.Account, error) {
	offset, limit := pageBounds(page, pageSize)
	items, err := s.followRepo.ListFollowings(ctx, accountID, offset, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.FolloweeID
	}
	return s.accounts.ListByIDs(ctx, ids)
}

func (s *relationshipService) ListFollowers(ctx context.Context, accountID string, page, pageSize int) ([]*model.Account, error) {
	offset, limit := pageBounds(page, pageSize)
	items, err := s.followRepo.ListFollowers(ctx, accountID, offset, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.FollowerID
	}
	return s.accounts.ListByIDs(ctx, ids)
}

// Counts 优先读缓存，未命中时回源数据库
func (s *relationshipService) Counts(ctx context.Context, accountID string) (cache.FollowCounts, error) {
	if c, ok := s.counts.Get(ctx, accountID); ok {
		return c, nil
	}
	var c cache.FollowCounts
	var err error
	if c.Following, err = s.followRepo.CountFollowings(ctx, accountID); err != nil {
		return c, err
	}
	if c.Followers, err = s.followRepo.CountFollowers(ctx, accountID); err != nil {
		return c, err
	}
	s.counts.Set(ctx, accountID, c)
	return c, nil
}

func (s *relationshipService) ensureAccount(ctx context.Context, id string) error {
	if _, err := s.accounts.GetByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAccountNotFound
		}
		return err
	}
	return nil
}

func pageBounds(page, pageSize int) (offset, limit int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	offset, ok := offsetFor(page, pageSize)
	if !ok {
		offset = math.MaxInt
	}
	return offset, pageSize
}
