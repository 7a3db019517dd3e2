package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResetGuard 保证重置密码令牌只能使用一次
type ResetGuard interface {
	// Consume 首次使用返回 true；已用过返回 false
	Consume(ctx context.Context, claims *Claims) (bool, error)
}

type redisResetGuard struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisResetGuard client 为 nil 时返回 nil（不做一次性限制）
func NewRedisResetGuard(client *redis.Client) ResetGuard {
	if client == nil {
		return nil
	}
	return &redisResetGuard{client: client, now: time.Now}
}

func (g *redisResetGuard) Consume(ctx context.Context, claims *Claims) (bool, error) {
	ttl := time.Minute
	if claims.ExpiresAt != nil {
		if remaining := claims.ExpiresAt.Time.Sub(g.now()); remaining > 0 {
			ttl = remaining
		}
	}
	ok, err := g.client.SetNX(ctx, fmt.Sprintf("reset:used:%s", claims.ID), claims.AccountID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark reset token used: %w", err)
	}
	return ok, nil
}
