package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/d60-Lab/microblog/internal/auth"
	"github.com/d60-Lab/microblog/internal/model"
	"github.com/d60-Lab/microblog/internal/repository"
	"github.com/d60-Lab/microblog/internal/search"
	"github.com/d60-Lab/microblog/internal/testutil"
)

const testPageSize = 3

type testEnv struct {
	db       *gorm.DB
	backend  *search.MemoryBackend
	sync     *search.Synchronizer
	accounts repository.AccountRepository
	follows  repository.FollowRepository
	posts    repository.PostRepository
	outbox   repository.OutboxRepository
	tokens   *auth.TokenIssuer
	mailer   *recordingMailer
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.NewDB(t)
	backend := search.NewMemoryBackend()
	reg := search.NewRegistry("")
	require.NoError(t, reg.Register(model.Post{}))
	s, err := search.New(db, backend, reg, search.Options{})
	require.NoError(t, err)
	return &testEnv{
		db:       db,
		backend:  backend,
		sync:     s,
		accounts: repository.NewAccountRepository(db),
		follows:  repository.NewFollowRepository(db),
		posts:    repository.NewPostRepository(db),
		outbox:   repository.NewOutboxRepository(db),
		tokens:   auth.NewTokenIssuer("test-secret", time.Hour, 15*time.Minute),
		mailer:   &recordingMailer{},
	}
}

func (e *testEnv) postService() PostService {
	return NewPostService(e.accounts, e.posts, e.outbox, e.sync, testPageSize)
}

func (e *testEnv) accountService(guard auth.ResetGuard) AccountService {
	return NewAccountService(AccountDeps{
		Accounts:   e.accounts,
		Follows:    e.follows,
		Posts:      e.posts,
		Outbox:     e.outbox,
		Sync:       e.sync,
		Tokens:     e.tokens,
		ResetGuard: guard,
		Mailer:     e.mailer,
		BcryptCost: bcrypt.MinCost,
	})
}

type sentReset struct {
	username, email, token string
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentReset
}

func (m *recordingMailer) SendPasswordReset(username, email, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentReset{username, email, token})
}

func (m *recordingMailer) last() (sentReset, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentReset{}, false
	}
	return m.sent[len(m.sent)-1], true
}

type published struct {
	topic   string
	payload string
}

type recordingPublisher struct {
	mu   sync.Mutex
	fail bool
	msgs []published
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker down")
	}
	p.msgs = append(p.msgs, published{topic, string(payload)})
	return nil
}

func (p *recordingPublisher) Close() {}
