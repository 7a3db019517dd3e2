package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/microblog/internal/service"
	"github.com/d60-Lab/microblog/pkg/response"
)

// ContextAccountID 认证中间件写入的当前账号 ID
const ContextAccountID = "account_id"

// Handler 汇总各业务接口
type Handler struct {
	accounts    service.AccountService
	posts       service.PostService
	feed        *service.FeedAssembler
	relService  service.RelationshipService
	avatarStyle string
}

func NewHandler(accounts service.AccountService, posts service.PostService, feed *service.FeedAssembler, relService service.RelationshipService, avatarStyle string) *Handler {
	if avatarStyle == "" {
		avatarStyle = "retro"
	}
	return &Handler{accounts: accounts, posts: posts, feed: feed, relService: relService, avatarStyle: avatarStyle}
}

func currentAccountID(c *gin.Context) string { return c.GetString(ContextAccountID) }

// parsePage 缺省为第 1 页；非数字或小于 1 时重定向到 page=1，返回 false
func parsePage(c *gin.Context) (int, bool) {
	raw, ok := c.GetQuery("page")
	if !ok {
		return 1, true
	}
	page, err := strconv.Atoi(raw)
	if err == nil && page >= 1 {
		return page, true
	}
	c.Redirect(http.StatusFound, pageURL(c, 1))
	c.Abort()
	return 0, false
}

// pageURL 当前请求地址替换 page 参数
func pageURL(c *gin.Context, page int) string {
	u := url.URL{Path: c.Request.URL.Path}
	q := c.Request.URL.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

// writeError 业务错误映射为 HTTP 状态码
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidPost),
		errors.Is(err, service.ErrInvalidProfile),
		errors.Is(err, service.ErrFollowSelf),
		errors.Is(err, service.ErrInvalidToken):
		response.BadRequest(c, err.Error())
	case errors.Is(err, service.ErrInvalidCredentials):
		response.Unauthorized(c, err.Error())
	case errors.Is(err, service.ErrNotPostOwner):
		response.Forbidden(c, err.Error())
	case errors.Is(err, service.ErrAccountNotFound),
		errors.Is(err, service.ErrPostNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, service.ErrUsernameTaken),
		errors.Is(err, service.ErrEmailTaken):
		response.Conflict(c, err.Error())
	default:
		response.InternalError(c, err)
	}
}
