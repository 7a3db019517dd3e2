package middleware

import (
	"fmt"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/d60-Lab/microblog/pkg/logger"
	"github.com/d60-Lab/microblog/pkg/monitor"
	"github.com/d60-Lab/microblog/pkg/response"
)

// Recovery 捕获 panic，上报 Sentry 后返回 500
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if v := recover(); v != nil {
				hub := sentry.GetHubFromContext(c.Request.Context())
				if hub == nil {
					hub = sentry.CurrentHub().Clone()
				}
				hub.Scope().SetRequest(c.Request)
				monitor.Recover(hub, v)
				logger.Error("panic recovered",
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.String("panic", fmt.Sprint(v)),
					zap.Stack("stack"))
				if !c.Writer.Written() {
					c.JSON(http.StatusInternalServerError, response.Response{Code: http.StatusInternalServerError, Message: "internal server error"})
				}
				c.Abort()
			}
		}()
		c.Next()
	}
}
