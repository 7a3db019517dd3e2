package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/microblog/pkg/response"
)

type updateProfileRequest struct {
	Username string `json:"username" binding:"required,min=1,max=64,handle"`
	AboutMe  string `json:"about_me" binding:"max=140"`
}

// Me 当前账号资料
// @Summary 当前账号
// @Tags 账号
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response
// @Router /api/v1/me [get]
func (h *Handler) Me(c *gin.Context) {
	a, err := h.accounts.GetByID(c.Request.Context(), currentAccountID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, h.accountView(a))
}

// UpdateMe 编辑资料
// @Summary 编辑资料
// @Tags 账号
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body updateProfileRequest true "资料"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/me [put]
func (h *Handler) UpdateMe(c *gin.Context) {
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	a, err := h.accounts.UpdateProfile(c.Request.Context(), currentAccountID(c), req.Username, req.AboutMe)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, h.accountView(a))
}

// DeleteMe 注销账号，同时删除帖子和关注关系
// @Summary 注销账号
// @Tags 账号
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response
// @Router /api/v1/me [delete]
func (h *Handler) DeleteMe(c *gin.Context) {
	if err := h.accounts.Delete(c.Request.Context(), currentAccountID(c)); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, nil)
}

// GetUser 用户主页信息
// @Summary 用户资料
// @Tags 账号
// @Produce json
// @Security BearerAuth
// @Param username path string true "用户名"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/users/{username} [get]
func (h *Handler) GetUser(c *gin.Context) {
	ctx := c.Request.Context()
	a, err := h.accounts.GetByUsername(ctx, c.Param("username"))
	if err != nil {
		writeError(c, err)
		return
	}
	counts, err := h.relService.Counts(ctx, a.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	following, err := h.relService.IsFollowing(ctx, currentAccountID(c), a.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{
		"account":      h.accountView(a),
		"followers":    counts.Followers,
		"following":    counts.Following,
		"is_following": following,
		"is_self":      a.ID == currentAccountID(c),
	})
}

// UserPosts 用户发布的帖子
// @Summary 用户帖子
// @Tags 帖子
// @Produce json
// @Security BearerAuth
// @Param username path string true "用户名"
// @Param page query int false "页码" default(1)
// @Success 200 {object} response.Response
// @Header 302 {string} Location "page 参数非法时重定向到 page=1"
// @Router /api/v1/users/{username}/posts [get]
func (h *Handler) UserPosts(c *gin.Context) {
	page, ok := parsePage(c)
	if !ok {
		return
	}
	a, err := h.accounts.GetByUsername(c.Request.Context(), c.Param("username"))
	if err != nil {
		writeError(c, err)
		return
	}
	p, err := h.feed.Profile(c.Request.Context(), a.ID, page)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, h.pageBody(c, p))
}
