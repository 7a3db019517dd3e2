package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Purpose 区分访问令牌和重置密码令牌，防止混用
type Purpose string

const (
	PurposeAccess        Purpose = "access"
	PurposeResetPassword Purpose = "reset_password"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims JWT 载荷
type Claims struct {
	AccountID string  `json:"account_id"`
	Username  string  `json:"username,omitempty"`
	Purpose   Purpose `json:"purpose"`
	jwt.RegisteredClaims
}

// TokenIssuer 签发与校验 HS256 令牌
type TokenIssuer struct {
	secret    []byte
	accessTTL time.Duration
	resetTTL  time.Duration
	now       func() time.Time
}

func NewTokenIssuer(secret string, accessTTL, resetTTL time.Duration) *TokenIssuer {
	if accessTTL <= 0 {
		accessTTL = 24 * time.Hour
	}
	if resetTTL <= 0 {
		resetTTL = 15 * time.Minute
	}
	return &TokenIssuer{secret: []byte(secret), accessTTL: accessTTL, resetTTL: resetTTL, now: time.Now}
}

// IssueAccess 登录后使用的访问令牌
func (t *TokenIssuer) IssueAccess(accountID, username string) (string, error) {
	return t.issue(Claims{AccountID: accountID, Username: username, Purpose: PurposeAccess}, t.accessTTL)
}

// IssueReset 重置密码令牌，默认 15 分钟过期
func (t *TokenIssuer) IssueReset(accountID string) (string, error) {
	return t.issue(Claims{AccountID: accountID, Purpose: PurposeResetPassword}, t.resetTTL)
}

func (t *TokenIssuer) issue(claims Claims, ttl time.Duration) (string, error) {
	now := t.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   claims.AccountID,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Verify 校验签名、有效期和用途
func (t *TokenIssuer) Verify(tokenString string, purpose Purpose) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(t.now))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Purpose != purpose || claims.AccountID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
