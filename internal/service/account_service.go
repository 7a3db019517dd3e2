package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/d60-Lab/microblog/internal/auth"
	"github.com/d60-Lab/microblog/internal/events"
	"github.com/d60-Lab/microblog/internal/model"
	"github.com/d60-Lab/microblog/internal/repository"
	"github.com/d60-Lab/microblog/internal/search"
	"github.com/d60-Lab/microblog/pkg/logger"
)

const (
	maxUsernameLength = 64
	maxAboutMeLength  = 140
)

// ResetMailer 发送重置密码邮件（异步，不返回错误）
type ResetMailer interface {
	SendPasswordReset(username, email, token string)
}

// AccountService 账号注册、登录、资料与重置密码
type AccountService interface {
	Register(ctx context.Context, username, email, password string) (*model.Account, error)
	Authenticate(ctx context.Context, username, password string) (*model.Account, string, error)
	GetByID(ctx context.Context, id string) (*model.Account, error)
	GetByUsername(ctx context.Context, username string) (*model.Account, error)
	UpdateProfile(ctx context.Context, id, username, aboutMe string) (*model.Account, error)
	Touch(ctx context.Context, id string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	Delete(ctx context.Context, id string) error
}

type AccountDeps struct {
	Accounts   repository.AccountRepository
	Follows    repository.FollowRepository
	Posts      repository.PostRepository
	Outbox     repository.OutboxRepository
	Sync       *search.Synchronizer
	Tokens     *auth.TokenIssuer
	ResetGuard auth.ResetGuard // 可为 nil
	Mailer     ResetMailer
	BcryptCost int
}

type accountService struct {
	AccountDeps
}

func NewAccountService(deps AccountDeps) AccountService {
	if deps.BcryptCost == 0 {
		deps.BcryptCost = bcrypt.DefaultCost
	}
	return &accountService{AccountDeps: deps}
}

func (s *accountService) Register(ctx context.Context, username, email, password string) (*model.Account, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || utf8.RuneCountInString(username) > maxUsernameLength || email == "" || password == "" {
		return nil, ErrInvalidProfile
	}
	if taken, err := s.Accounts.UsernameExists(ctx, username, ""); err != nil {
		return nil, err
	} else if taken {
		return nil, ErrUsernameTaken
	}
	if taken, err := s.Accounts.EmailExists(ctx, email); err != nil {
		return nil, err
	} else if taken {
		return nil, ErrEmailTaken
	}

	hash, err := s.hash(password)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	a := &model.Account{ID: uuid.NewString(), Username: username, Email: email, PasswordHash: hash, LastSeen: now}
	if err := s.Accounts.Create(ctx, a); err != nil {
		// 并发注册时由唯一索引兜底
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, s.duplicateCause(ctx, username, email)
		}
		return nil, err
	}
	return a, nil
}

// duplicateCause 唯一索引冲突后重新判断冲突的是用户名还是邮箱
func (s *accountService) duplicateCause(ctx context.Context, username, email string) error {
	if taken, err := s.Accounts.UsernameExists(ctx, username, ""); err == nil && taken {
		return ErrUsernameTaken
	}
	if taken, err := s.Accounts.EmailExists(ctx, email); err == nil && taken {
		return ErrEmailTaken
	}
	return ErrUsernameTaken
}

func (s *accountService) Authenticate(ctx context.Context, username, password string) (*model.Account, string, error) {
	a, err := s.Accounts.GetByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) != nil {
		return nil, "", ErrInvalidCredentials
	}
	token, err := s.Tokens.IssueAccess(a.ID, a.Username)
	if err != nil {
		return nil, "", err
	}
	return a, token, nil
}

func (s *accountService) GetByID(ctx context.Context, id string) (*model.Account, error) {
	return notFound(s.Accounts.GetByID(ctx, id))
}

func (s *accountService) GetByUsername(ctx context.Context, username string) (*model.Account, error) {
	return notFound(s.Accounts.GetByUsername(ctx, username))
}

func notFound(a *model.Account, err error) (*model.Account, error) {
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	return a, err
}

// UpdateProfile 用户名不能与其他账号重复，个人简介最多 140 字符
func (s *accountService) UpdateProfile(ctx context.Context, id, username, aboutMe string) (*model.Account, error) {
	username = strings.TrimSpace(username)
	if username == "" || utf8.RuneCountInString(username) > maxUsernameLength || utf8.RuneCountInString(aboutMe) > maxAboutMeLength {
		return nil, ErrInvalidProfile
	}
	taken, err := s.Accounts.UsernameExists(ctx, username, id)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrUsernameTaken
	}
	if err := s.Accounts.UpdateProfile(ctx, id, username, aboutMe); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	return s.GetByID(ctx, id)
}

func (s *accountService) Touch(ctx context.Context, id string) error {
	return s.Accounts.TouchLastSeen(ctx, id, time.Now().UTC())
}

// RequestPasswordReset 邮箱不存在时静默返回，避免暴露注册信息
func (s *accountService) RequestPasswordReset(ctx context.Context, email string) error {
	a, err := s.Accounts.GetByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, repository.ErrNotFound) {
		logger.Debug("password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return err
	}
	token, err := s.Tokens.IssueReset(a.ID)
	if err != nil {
		return err
	}
	if s.Mailer != nil {
		s.Mailer.SendPasswordReset(a.Username, a.Email, token)
	}
	return nil
}

// ResetPassword 令牌校验通过且未被使用过才修改密码
func (s *accountService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if newPassword == "" {
		return ErrInvalidProfile
	}
	claims, err := s.Tokens.Verify(token, auth.PurposeResetPassword)
	if err != nil {
		return ErrInvalidToken
	}
	if s.ResetGuard != nil {
		first, err := s.ResetGuard.Consume(ctx, claims)
		if err != nil {
			return err
		}
		if !first {
			return ErrInvalidToken
		}
	}
	hash, err := s.hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.Accounts.UpdatePassword(ctx, claims.AccountID, hash); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidToken
		}
		return err
	}
	return nil
}

// Delete 同一事务内删除帖子、关注关系和账号；帖子的索引文档在提交后删除
func (s *accountService) Delete(ctx context.Context, id string) error {
	now := time.Now().UTC()
	err := s.Sync.WithTransaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		posts, err := s.Posts.WithTx(tx).ListAllByAuthor(ctx, id)
		if err != nil {
			return err
		}
		if err := s.Posts.WithTx(tx).DeleteMany(ctx, posts); err != nil {
			return err
		}
		for _, p := range posts {
			payload, err := events.EncodePostDeleted(p, now)
			if err != nil {
				return err
			}
			if err := s.Outbox.WithTx(tx).Create(ctx, &model.Outbox{
				ID:          uuid.NewString(),
				Topic:       events.TopicPostDeleted,
				AggregateID: p.ID,
				Payload:     string(payload),
				CreatedAt:   now,
			}); err != nil {
				return err
			}
		}
		if err := s.Follows.WithTx(tx).DeleteAllFor(ctx, id); err != nil {
			return err
		}
		return s.Accounts.WithTx(tx).Delete(ctx, id)
	})
	if errors.Is(err, repository.ErrNotFound) {
		return ErrAccountNotFound
	}
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	logger.Info("account deleted", zap.String("account_id", id))
	return nil
}

func (s *accountService) hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), s.BcryptCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", ErrInvalidProfile
		}
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}
