package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/microblog/internal/model"
	"github.com/d60-Lab/microblog/internal/service"
)

type accountView struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	AboutMe   string    `json:"about_me"`
	LastSeen  time.Time `json:"last_seen"`
	Avatar    string    `json:"avatar"`
	CreatedAt time.Time `json:"created_at"`
}

type postView struct {
	ID        string      `json:"id"`
	Body      string      `json:"body"`
	CreatedAt time.Time   `json:"created_at"`
	Author    *authorView `json:"author,omitempty"`
}

type authorView struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

func (h *Handler) accountView(a *model.Account) accountView {
	return accountView{
		ID:        a.ID,
		Username:  a.Username,
		AboutMe:   a.AboutMe,
		LastSeen:  a.LastSeen,
		Avatar:    a.Avatar(128, h.avatarStyle),
		CreatedAt: a.CreatedAt,
	}
}

func (h *Handler) accountViews(list []*model.Account) []accountView {
	out := make([]accountView, len(list))
	for i, a := range list {
		out[i] = h.accountView(a)
	}
	return out
}

func (h *Handler) postViews(posts []*model.Post) []postView {
	out := make([]postView, len(posts))
	for i, p := range posts {
		v := postView{ID: p.ID, Body: p.Body, CreatedAt: p.CreatedAt}
		if p.Author != nil {
			v.Author = &authorView{ID: p.Author.ID, Username: p.Author.Username, Avatar: p.Author.Avatar(36, h.avatarStyle)}
		}
		out[i] = v
	}
	return out
}

// pageBody 分页响应，附带相邻页链接
func (h *Handler) pageBody(c *gin.Context, p *service.Page) gin.H {
	body := gin.H{
		"items":    h.postViews(p.Items),
		"page":     p.Page,
		"has_next": p.HasNext,
		"has_prev": p.HasPrev,
	}
	if p.HasNext {
		body["next_url"] = pageURL(c, p.Next)
	}
	if p.HasPrev {
		body["prev_url"] = pageURL(c, p.Prev)
	}
	return body
}
