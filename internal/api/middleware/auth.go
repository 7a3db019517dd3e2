package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/d60-Lab/microblog/internal/api/handler"
	"github.com/d60-Lab/microblog/internal/auth"
	"github.com/d60-Lab/microblog/pkg/logger"
	"github.com/d60-Lab/microblog/pkg/response"
)

// Toucher 记录账号最近活跃时间
type Toucher interface {
	Touch(ctx context.Context, id string) error
}

// Auth 校验 Bearer 访问令牌，并刷新 last_seen
func Auth(tokens *auth.TokenIssuer, toucher Toucher) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, found := strings.CutPrefix(header, "Bearer ")
		if !found || raw == "" {
			response.Unauthorized(c, "missing bearer token")
			c.Abort()
			return
		}
		claims, err := tokens.Verify(raw, auth.PurposeAccess)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(handler.ContextAccountID, claims.AccountID)
		if toucher != nil {
			if err := toucher.Touch(c.Request.Context(), claims.AccountID); err != nil {
				logger.Warn("update last_seen failed", zap.String("account_id", claims.AccountID), zap.Error(err))
			}
		}
		c.Next()
	}
}
