package model

import "time"

// MaxPostLength 帖子正文最大长度（字符）
const MaxPostLength = 140

// Post 帖子，创建后只允许删除
type Post struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	AuthorID  string    `json:"author_id" gorm:"type:varchar(36);index:idx_post_author;not null"`
	Body      string    `json:"body" gorm:"type:varchar(140);not null"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_post_created"`
	Author    *Account  `json:"author,omitempty" gorm:"foreignKey:AuthorID"`
}

func (Post) TableName() string { return "posts" }

// SearchableFields 参与全文索引的字段
func (Post) SearchableFields() []string { return []string{"Body"} }

// All 返回需要迁移的全部模型
func All() []interface{} {
	return []interface{}{&Account{}, &Follow{}, &Post{}, &Outbox{}}
}
