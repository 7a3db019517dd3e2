// Package testutil builds throwaway databases and fixtures for package tests.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/d60-Lab/microblog/internal/model"
)

// NewDB opens a migrated in-memory SQLite database. A single connection keeps
// every statement on the same memory database.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(model.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// CreateAccount inserts an account whose password hash is not a valid digest.
func CreateAccount(t testing.TB, db *gorm.DB, username string) *model.Account {
	t.Helper()
	a := &model.Account{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "x",
		LastSeen:     time.Now().UTC(),
	}
	if err := db.Create(a).Error; err != nil {
		t.Fatalf("create account %s: %v", username, err)
	}
	return a
}

// CreatePost inserts a post with an explicit timestamp so ordering is deterministic.
func CreatePost(t testing.TB, db *gorm.DB, author *model.Account, body string, at time.Time) *model.Post {
	t.Helper()
	p := &model.Post{ID: uuid.NewString(), AuthorID: author.ID, Body: body, CreatedAt: at.UTC()}
	if err := db.Omit("Author").Create(p).Error; err != nil {
		t.Fatalf("create post: %v", err)
	}
	return p
}

// CreatePostWithID is CreatePost with a caller-chosen id, used to pin tie-breaks.
func CreatePostWithID(t testing.TB, db *gorm.DB, id string, author *model.Account, body string, at time.Time) *model.Post {
	t.Helper()
	p := &model.Post{ID: id, AuthorID: author.ID, Body: body, CreatedAt: at.UTC()}
	if err := db.Omit("Author").Create(p).Error; err != nil {
		t.Fatalf("create post %s: %v", id, err)
	}
	return p
}

// Follow inserts a follow edge.
func Follow(t testing.TB, db *gorm.DB, follower, followee *model.Account) {
	t.Helper()
	if err := db.WithContext(context.Background()).Create(&model.Follow{FollowerID: follower.ID, FolloweeID: followee.ID}).Error; err != nil {
		t.Fatalf("follow %s -> %s: %v", follower.Username, followee.Username, err)
	}
}

// Seq returns a timestamp n minutes after a fixed base.
func Seq(n int) time.Time {
	return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(n) * time.Minute)
}

// PostID formats an id that sorts lexically in n order.
func PostID(n int) string { return fmt.Sprintf("post-%04d", n) }
