package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/microblog/internal/model"
	"github.com/d60-Lab/microblog/pkg/response"
)

// target 解析路径中的用户名
func (h *Handler) target(c *gin.Context) (*model.Account, bool) {
	a, err := h.accounts.GetByUsername(c.Request.Context(), c.Param("username"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return a, true
}

// Follow 关注用户（重复关注不报错）
// @Summary 关注用户
// @Tags 关系链
// @Produce json
// @Security BearerAuth
// @Param username path string true "被关注的用户名"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/relations/{username}/follow [post]
func (h *Handler) Follow(c *gin.Context) {
	target, ok := h.target(c)
	if !ok {
		return
	}
	if err := h.relService.Follow(c.Request.Context(), currentAccountID(c), target.ID); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"following": true})
}

// Unfollow 取消关注
// @Summary 取消关注
// @Tags 关系链
// @Produce json
// @Security BearerAuth
// @Param username path string true "用户名"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/relations/{username}/unfollow [post]
func (h *Handler) Unfollow(c *gin.Context) {
	target, ok := h.target(c)
	if !ok {
		return
	}
	if err := h.relService.Unfollow(c.Request.Context(), currentAccountID(c), target.ID); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"following": false})
}

// Toggle 切换关注状态
// @Summary 切换关注
// @Tags 关系链
// @Produce json
// @Security BearerAuth
// @Param username path string true "用户名"
// @Success 200 {object} response.Response
// @Router /api/v1/relations/{username}/toggle [post]
func (h *Handler) Toggle(c *gin.Context) {
	target, ok := h.target(c)
	if !ok {
		return
	}
	following, err := h.relService.Toggle(c.Request.Context(), currentAccountID(c), target.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"following": following})
}

// ListFollowing 查询某用户关注的人
// @Summary 查询关注列表
// @Tags 关系链
// @Security BearerAuth
// @Param username path string true "用户名"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(10)
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Router /api/v1/relations/{username}/following [get]
func (h *Handler) ListFollowing(c *gin.Context) {
	page, ok := parsePage(c)
	if !ok {
		return
	}
	target, ok := h.target(c)
	if !ok {
		return
	}
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	list, err := h.relService.ListFollowing(c.Request.Context(), target.ID, page, pageSize)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"page": page, "page_size": pageSize, "list": h.accountViews(list)})
}

// ListFollowers 查询某用户的粉丝
// @Summary 查询粉丝列表
// @Tags 关系链
// @Security BearerAuth
// @Param username path string true "用户名"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(10)
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Router /api/v1/relations/{username}/followers [get]
func (h *Handler) ListFollowers(c *gin.Context) {
	page, ok := parsePage(c)
	if !ok {
		return
	}
	target, ok := h.target(c)
	if !ok {
		return
	}
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	list, err := h.relService.ListFollowers(c.Request.Context(), target.ID, page, pageSize)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"page": page, "page_size": pageSize, "list": h.accountViews(list)})
}
