package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/d60-Lab/microblog/internal/api/handler"
	"github.com/d60-Lab/microblog/internal/api/middleware"
	"github.com/d60-Lab/microblog/internal/auth"
	"github.com/d60-Lab/microblog/internal/model"
	"github.com/d60-Lab/microblog/internal/repository"
	"github.com/d60-Lab/microblog/internal/search"
	"github.com/d60-Lab/microblog/internal/service"
	"github.com/d60-Lab/microblog/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const pageSize = 3

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type pageData struct {
	Items []struct {
		ID     string `json:"id"`
		Body   string `json:"body"`
		Author struct {
			Username string `json:"username"`
		} `json:"author"`
	} `json:"items"`
	Page    int    `json:"page"`
	HasNext bool   `json:"has_next"`
	HasPrev bool   `json:"has_prev"`
	NextURL string `json:"next_url"`
	PrevURL string `json:"prev_url"`
}

type server struct {
	t      *testing.T
	router *gin.Engine
}

func newServer(t *testing.T, limiter *middleware.RateLimiter) *server {
	t.Helper()
	require.NoError(t, handler.RegisterValidators())

	db := testutil.NewDB(t)
	reg := search.NewRegistry("")
	require.NoError(t, reg.Register(model.Post{}))
	sync, err := search.New(db, search.NewMemoryBackend(), reg, search.Options{})
	require.NoError(t, err)

	accounts := repository.NewAccountRepository(db)
	follows := repository.NewFollowRepository(db)
	posts := repository.NewPostRepository(db)
	outbox := repository.NewOutboxRepository(db)
	tokens := auth.NewTokenIssuer("router-test", time.Hour, 15*time.Minute)

	accountSvc := service.NewAccountService(service.AccountDeps{
		Accounts:   accounts,
		Follows:    follows,
		Posts:      posts,
		Outbox:     outbox,
		Sync:       sync,
		Tokens:     tokens,
		BcryptCost: bcrypt.MinCost,
	})
	h := handler.NewHandler(
		accountSvc,
		service.NewPostService(accounts, posts, outbox, sync, pageSize),
		service.NewFeedAssembler(posts, pageSize),
		service.NewRelationshipService(accounts, follows, nil),
		"",
	)
	router := NewRouter(Deps{
		Handler:     h,
		Tokens:      tokens,
		Toucher:     accountSvc,
		RateLimiter: limiter,
		DB:          db,
		ServiceName: "microblog-test",
	})
	return &server{t: t, router: router}
}

func (s *server) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

// signup 注册并登录，返回访问令牌
func (s *server) signup(username string) string {
	s.t.Helper()
	w := s.do(http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"username": username, "email": username + "@example.com", "password": "cat",
	})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/api/v1/auth/login", "", gin.H{"username": username, "password": "cat"})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	var data struct {
		Token string `json:"token"`
	}
	decode(s.t, w, &data)
	require.NotEmpty(s.t, data.Token)
	return data.Token
}

func (s *server) post(token, body string) string {
	s.t.Helper()
	w := s.do(http.MethodPost, "/api/v1/posts", token, gin.H{"body": body})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	var data struct {
		ID string `json:"id"`
	}
	decode(s.t, w, &data)
	return data.ID
}

func TestHealthz(t *testing.T) {
	s := newServer(t, nil)
	w := s.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)
}

func TestAuthRequired(t *testing.T) {
	s := newServer(t, nil)

	w := s.do(http.MethodGet, "/api/v1/timeline", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/api/v1/timeline", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegisterValidation(t *testing.T) {
	s := newServer(t, nil)
	s.signup("john")

	w := s.do(http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"username": "john", "email": "other@example.com", "password": "dog",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"username": "jo hn", "email": "jo@example.com", "password": "dog",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/v1/auth/login", "", gin.H{"username": "john", "password": "dog"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTimelineIncludesFollowedPosts(t *testing.T) {
	s := newServer(t, nil)
	john := s.signup("john")
	susan := s.signup("susan")

	s.post(susan, "post from susan")
	s.post(john, "post from john")

	w := s.do(http.MethodPost, "/api/v1/relations/susan/follow", john, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodGet, "/api/v1/timeline", john, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page pageData
	decode(t, w, &page)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "post from john", page.Items[0].Body)
	assert.Equal(t, "susan", page.Items[1].Author.Username)

	// susan 没有关注 john
	w = s.do(http.MethodGet, "/api/v1/timeline", susan, nil)
	decode(t, w, &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "post from susan", page.Items[0].Body)
}

func TestTimelinePaging(t *testing.T) {
	s := newServer(t, nil)
	john := s.signup("john")
	for _, body := range []string{"one", "two", "three", "four"} {
		s.post(john, body)
	}

	w := s.do(http.MethodGet, "/api/v1/timeline", john, nil)
	var first pageData
	decode(t, w, &first)
	assert.Len(t, first.Items, pageSize)
	assert.True(t, first.HasNext)
	assert.False(t, first.HasPrev)
	assert.Equal(t, "/api/v1/timeline?page=2", first.NextURL)
	assert.Empty(t, first.PrevURL)

	w = s.do(http.MethodGet, first.NextURL, john, nil)
	var second pageData
	decode(t, w, &second)
	assert.Len(t, second.Items, 1)
	assert.False(t, second.HasNext)
	assert.Equal(t, "/api/v1/timeline?page=1", second.PrevURL)

	seen := map[string]bool{}
	for _, it := range append(first.Items, second.Items...) {
		assert.False(t, seen[it.ID], "duplicate %s", it.ID)
		seen[it.ID] = true
	}
}

func TestInvalidPageRedirects(t *testing.T) {
	s := newServer(t, nil)
	john := s.signup("john")

	for _, raw := range []string{"0", "-3", "abc"} {
		w := s.do(http.MethodGet, "/api/v1/explore?page="+raw, john, nil)
		assert.Equal(t, http.StatusFound, w.Code, raw)
		assert.Equal(t, "/api/v1/explore?page=1", w.Header().Get("Location"), raw)
	}
}

func TestPagePastEndIsEmpty(t *testing.T) {
	s := newServer(t, nil)
	john := s.signup("john")
	s.post(john, "only post")

	w := s.do(http.MethodGet, "/api/v1/users/john/posts?page=9", john, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page pageData
	decode(t, w, &page)
	assert.Empty(t, page.Items)
	assert.Equal(t, 9, page.Page)
	assert.False(t, page.HasNext)
	assert.Equal(t, "/api/v1/users/john/posts?page=8", page.PrevURL)
}

func TestHugePageIsEmpty(t *testing.T) {
	s := newServer(t, nil)
	john := s.signup("john")
	s.post(john, "gophers everywhere")

	const huge = "9223372036854775807"
	for _, path := range []string{
		"/api/v1/timeline",
		"/api/v1/explore",
		"/api/v1/users/john/posts",
	} {
		w := s.do(http.MethodGet, path+"?page="+huge, john, nil)
		require.Equal(t, http.StatusOK, w.Code, path)
		var page pageData
		decode(t, w, &page)
		assert.Empty(t, page.Items, path)
		assert.False(t, page.HasNext, path)
		assert.True(t, page.HasPrev, path)
		assert.Empty(t, page.NextURL, path)
	}

	w := s.do(http.MethodGet, "/api/v1/search?q=gophers&page="+huge, john, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var found struct {
		Items   []json.RawMessage `json:"items"`
		HasNext bool              `json:"has_next"`
	}
	decode(t, w, &found)
	assert.Empty(t, found.Items)
	assert.False(t, found.HasNext)

	w = s.do(http.MethodGet, "/api/v1/relations/john/followers?page="+huge, john, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rel struct {
		List []json.RawMessage `json:"list"`
	}
	decode(t, w, &rel)
	assert.Empty(t, rel.List)
}

func TestCreatePostRejectsBadBody(t *testing.T) {
	s := newServer(t, nil)
	john := s.signup("john")

	w := s.do(http.MethodPost, "/api/v1/posts", john, gin.H{"body": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	long := bytes.Repeat([]byte("x"), model.MaxPostLength+1)
	w = s.do(http.MethodPost, "/api/v1/posts", john, gin.H{"body": string(long)})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeletePost(t *testing.T) {
	s := newServer(t, nil)
	john := s.signup("john")
	susan := s.signup("susan")
	id := s.post(john, "mine")

	w := s.do(http.MethodDelete, "/api/v1/posts/"+id, susan, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodDelete, "/api/v1/posts/"+id, john, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodDelete, "/api/v1/posts/"+id, john, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSearch(t *testing.T) {
	s := newServer(t, nil)
	john := s.signup("john")
	s.post(john, "gophers love channels")
	s.post(john, "nothing to see")

	w := s.do(http.MethodGet, "/api/v1/search?q=", john, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/v1/search?q=gophers", john, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var data struct {
		Items []struct {
			Body string `json:"body"`
		} `json:"items"`
		Total int64 `json:"total"`
	}
	decode(t, w, &data)
	assert.EqualValues(t, 1, data.Total)
	require.Len(t, data.Items, 1)
	assert.Equal(t, "gophers love channels", data.Items[0].Body)
}

func TestFollowRules(t *testing.T) {
	s := newServer(t, nil)
	john := s.signup("john")
	s.signup("susan")

	w := s.do(http.MethodPost, "/api/v1/relations/john/follow", john, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/v1/relations/nobody/follow", john, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPost, "/api/v1/relations/susan/toggle", john, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/v1/users/susan", john, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var profile struct {
		Followers   int64 `json:"followers"`
		IsFollowing bool  `json:"is_following"`
		IsSelf      bool  `json:"is_self"`
	}
	decode(t, w, &profile)
	assert.EqualValues(t, 1, profile.Followers)
	assert.True(t, profile.IsFollowing)
	assert.False(t, profile.IsSelf)

	w = s.do(http.MethodGet, "/api/v1/relations/john/following", john, nil)
	var list struct {
		List []struct {
			Username string `json:"username"`
		} `json:"list"`
	}
	decode(t, w, &list)
	require.Len(t, list.List, 1)
	assert.Equal(t, "susan", list.List[0].Username)
}

func TestDeleteAccountRevokesAccess(t *testing.T) {
	s := newServer(t, nil)
	john := s.signup("john")
	s.post(john, "bye")

	w := s.do(http.MethodDelete, "/api/v1/me", john, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// 令牌仍然有效，但账号已不存在
	w = s.do(http.MethodGet, "/api/v1/me", john, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthRoutesAreRateLimited(t *testing.T) {
	s := newServer(t, middleware.NewRateLimiter(0.001, 2))
	body := gin.H{"username": "ghost", "password": "x"}

	for i := 0; i < 2; i++ {
		w := s.do(http.MethodPost, "/api/v1/auth/login", "", body)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w := s.do(http.MethodPost, "/api/v1/auth/login", "", body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
