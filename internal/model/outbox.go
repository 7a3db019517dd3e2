package model

import "time"

const (
	OutboxPending    = "pending"
	OutboxProcessing = "processing"
	OutboxDone       = "done"
)

// Outbox 与业务数据同事务写入的领域事件，由 relay 异步投递
type Outbox struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)"`
	Topic       string    `gorm:"type:varchar(64);not null"`
	AggregateID string    `gorm:"type:varchar(36);index:idx_outbox_aggregate"`
	Payload     string    `gorm:"type:text;not null"`
	Status      string    `gorm:"type:varchar(16);index:idx_outbox_status_created,priority:1"` // pending, processing, done
	Attempts    int       `gorm:"not null;default:0"`
	CreatedAt   time.Time `gorm:"index:idx_outbox_status_created,priority:2"`
	ProcessedAt *time.Time
}

func (Outbox) TableName() string { return "outbox" }
