package model

import (
	"time"
)

// Follow 关注关系（A 关注 B）
type Follow struct {
	// 复合主键 (follower_id, followee_id)，重复关注天然去重
	FollowerID string `gorm:"primaryKey;type:varchar(36)"`
	FolloweeID string `gorm:"primaryKey;type:varchar(36);index:idx_follow_followee"`
	CreatedAt  time.Time
}

func (Follow) TableName() string { return "follows" }
