package api

import (
	"net/http"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/d60-Lab/microblog/docs"
	"github.com/d60-Lab/microblog/internal/api/handler"
	"github.com/d60-Lab/microblog/internal/api/middleware"
	"github.com/d60-Lab/microblog/internal/auth"
)

// Deps 路由依赖
type Deps struct {
	Handler     *handler.Handler
	Tokens      *auth.TokenIssuer
	Toucher     middleware.Toucher
	RateLimiter *middleware.RateLimiter
	DB          *gorm.DB // 健康检查使用，可为 nil
	ServiceName string
}

// NewRouter 组装中间件与路由
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery())
	r.Use(otelgin.Middleware(d.ServiceName))
	r.Use(middleware.AccessLog())
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	r.GET("/healthz", healthz(d.DB))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	h := d.Handler
	v1 := r.Group("/api/v1")

	authGroup := v1.Group("/auth")
	if d.RateLimiter != nil {
		authGroup.Use(d.RateLimiter.Middleware())
	}
	authGroup.POST("/register", h.Register)
	authGroup.POST("/login", h.Login)
	authGroup.POST("/reset-request", h.RequestPasswordReset)
	authGroup.POST("/reset", h.ResetPassword)

	authed := v1.Group("")
	authed.Use(middleware.Auth(d.Tokens, d.Toucher))
	{
		authed.GET("/me", h.Me)
		authed.PUT("/me", h.UpdateMe)
		authed.DELETE("/me", h.DeleteMe)

		authed.GET("/timeline", h.Timeline)
		authed.GET("/explore", h.Explore)
		authed.POST("/posts", h.CreatePost)
		authed.DELETE("/posts/:id", h.DeletePost)
		authed.GET("/search", h.Search)

		authed.GET("/users/:username", h.GetUser)
		authed.GET("/users/:username/posts", h.UserPosts)

		rel := authed.Group("/relations/:username")
		rel.POST("/follow", h.Follow)
		rel.POST("/unfollow", h.Unfollow)
		rel.POST("/toggle", h.Toggle)
		rel.GET("/following", h.ListFollowing)
		rel.GET("/followers", h.ListFollowers)
	}
	return r
}

func healthz(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			sqlDB, err := db.DB()
			if err == nil {
				err = sqlDB.PingContext(c.Request.Context())
			}
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
