package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/microblog/internal/model"
	"github.com/d60-Lab/microblog/pkg/response"
)

type createPostRequest struct {
	Body string `json:"body" binding:"required"`
}

// Timeline 自己和关注对象的帖子
// @Summary 时间线
// @Tags 帖子
// @Produce json
// @Security BearerAuth
// @Param page query int false "页码" default(1)
// @Success 200 {object} response.Response
// @Header 302 {string} Location "page 参数非法时重定向到 page=1"
// @Router /api/v1/timeline [get]
func (h *Handler) Timeline(c *gin.Context) {
	page, ok := parsePage(c)
	if !ok {
		return
	}
	p, err := h.feed.Timeline(c.Request.Context(), currentAccountID(c), page)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, h.pageBody(c, p))
}

// Explore 全站帖子
// @Summary 广场
// @Tags 帖子
// @Produce json
// @Security BearerAuth
// @Param page query int false "页码" default(1)
// @Success 200 {object} response.Response
// @Router /api/v1/explore [get]
func (h *Handler) Explore(c *gin.Context) {
	page, ok := parsePage(c)
	if !ok {
		return
	}
	p, err := h.feed.Explore(c.Request.Context(), page)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, h.pageBody(c, p))
}

// CreatePost 发帖
// @Summary 发帖
// @Tags 帖子
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createPostRequest true "正文（1-140 字符）"
// @Success 201 {object} response.Response
// @Failure 400 {object} response.Response
// @Router /api/v1/posts [post]
func (h *Handler) CreatePost(c *gin.Context) {
	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	p, err := h.posts.Publish(c.Request.Context(), currentAccountID(c), req.Body)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Created(c, h.postViews([]*model.Post{p})[0])
}

// DeletePost 删除自己的帖子
// @Summary 删帖
// @Tags 帖子
// @Produce json
// @Security BearerAuth
// @Param id path string true "帖子ID"
// @Success 200 {object} response.Response
// @Failure 403 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/posts/{id} [delete]
func (h *Handler) DeletePost(c *gin.Context) {
	if err := h.posts.Delete(c.Request.Context(), currentAccountID(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, nil)
}

// Search 全文搜索帖子；未配置搜索后端时返回空结果
// @Summary 搜索
// @Tags 帖子
// @Produce json
// @Security BearerAuth
// @Param q query string true "关键词"
// @Param page query int false "页码" default(1)
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Router /api/v1/search [get]
func (h *Handler) Search(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		response.BadRequest(c, "query parameter q is required")
		return
	}
	page, ok := parsePage(c)
	if !ok {
		return
	}
	res, err := h.posts.Search(c.Request.Context(), q, page)
	if err != nil {
		writeError(c, err)
		return
	}
	body := gin.H{
		"items":    h.postViews(res.Items),
		"page":     res.Page,
		"total":    res.Total,
		"has_next": res.HasNext,
		"has_prev": res.HasPrev,
	}
	if res.HasNext {
		body["next_url"] = pageURL(c, res.Page+1)
	}
	if res.HasPrev {
		body["prev_url"] = pageURL(c, res.Page-1)
	}
	response.Success(c, body)
}
