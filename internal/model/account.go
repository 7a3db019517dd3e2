package model

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Account 用户账号
type Account struct {
	ID           string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Username     string    `json:"username" gorm:"type:varchar(64);uniqueIndex;not null"`
	Email        string    `json:"email" gorm:"type:varchar(120);uniqueIndex;not null"`
	PasswordHash string    `json:"-" gorm:"type:varchar(128);not null"`
	AboutMe      string    `json:"about_me" gorm:"type:varchar(140)"`
	LastSeen     time.Time `json:"last_seen"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Account) TableName() string { return "accounts" }

// Avatar 返回 Gravatar 头像地址
func (a *Account) Avatar(size int, style string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(a.Email))))
	return fmt.Sprintf("https://www.gravatar.com/avatar/%s?s=%d&d=%s", hex.EncodeToString(sum[:]), size, style)
}
