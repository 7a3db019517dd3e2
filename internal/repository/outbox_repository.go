package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/microblog/internal/model"
)

type OutboxRepository interface {
	WithTx(tx *gorm.DB) OutboxRepository
	Create(ctx context.Context, event *model.Outbox) error
	// Claim 领取一批 pending 事件并标记为 processing
	Claim(ctx context.Context, limit int) ([]*model.Outbox, error)
	MarkDone(ctx context.Context, id string, at time.Time) error
	// Release 投递失败，退回 pending 并累加重试次数
	Release(ctx context.Context, id string) error
	// ResetProcessing 进程重启后把遗留的 processing 事件退回 pending
	ResetProcessing(ctx context.Context) (int64, error)
	CountByStatus(ctx context.Context, status string) (int64, error)
}

type outboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) OutboxRepository { return &outboxRepository{db: db} }

func (r *outboxRepository) WithTx(tx *gorm.DB) OutboxRepository { return &outboxRepository{db: tx} }

func (r *outboxRepository) Create(ctx context.Context, event *model.Outbox) error {
	if event.Status == "" {
		event.Status = model.OutboxPending
	}
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *outboxRepository) Claim(ctx context.Context, limit int) ([]*model.Outbox, error) {
	var batch []*model.Outbox
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("status = ?", model.OutboxPending).Order("created_at").Limit(limit)
		// sqlite 不支持行锁，单连接下本身串行
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := q.Find(&batch).Error; err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		ids := make([]string, len(batch))
		for i, b := range batch {
			ids[i] = b.ID
			b.Status = model.OutboxProcessing
		}
		return tx.Model(&model.Outbox{}).Where("id IN ?", ids).Update("status", model.OutboxProcessing).Error
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func (r *outboxRepository) MarkDone(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&model.Outbox{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": model.OutboxDone, "processed_at": at}).Error
}

func (r *outboxRepository) Release(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&model.Outbox{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": model.OutboxPending, "attempts": gorm.Expr("attempts + 1")}).Error
}

func (r *outboxRepository) ResetProcessing(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.Outbox{}).
		Where("status = ?", model.OutboxProcessing).
		Update("status", model.OutboxPending)
	return res.RowsAffected, res.Error
}

func (r *outboxRepository) CountByStatus(ctx context.Context, status string) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&model.Outbox{}).Where("status = ?", status).Count(&cnt).Error
	return cnt, err
}
