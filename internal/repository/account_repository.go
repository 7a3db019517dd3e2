package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/d60-Lab/microblog/internal/model"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

type AccountRepository interface {
	WithTx(tx *gorm.DB) AccountRepository
	Create(ctx context.Context, account *model.Account) error
	GetByID(ctx context.Context, id string) (*model.Account, error)
	GetByUsername(ctx context.Context, username string) (*model.Account, error)
	GetByEmail(ctx context.Context, email string) (*model.Account, error)
	// ListByIDs 按 ids 顺序返回，不存在的 id 被跳过
	ListByIDs(ctx context.Context, ids []string) ([]*model.Account, error)
	// UsernameExists 排除 exceptID 对应的账号（编辑资料时使用）
	UsernameExists(ctx context.Context, username, exceptID string) (bool, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	UpdateProfile(ctx context.Context, id, username, aboutMe string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	TouchLastSeen(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
}

type accountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) AccountRepository { return &accountRepository{db: db} }

func (r *accountRepository) WithTx(tx *gorm.DB) AccountRepository { return &accountRepository{db: tx} }

func (r *accountRepository) Create(ctx context.Context, account *model.Account) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *accountRepository) GetByID(ctx context.Context, id string) (*model.Account, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *accountRepository) GetByUsername(ctx context.Context, username string) (*model.Account, error) {
	return r.first(ctx, "username = ?", username)
}

func (r *accountRepository) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	return r.first(ctx, "email = ?", email)
}

func (r *accountRepository) ListByIDs(ctx context.Context, ids []string) ([]*model.Account, error) {
	if len(ids) == 0 {
		return []*model.Account{}, nil
	}
	var rows []*model.Account
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	byID := make(map[string]*model.Account, len(rows))
	for _, a := range rows {
		byID[a.ID] = a
	}
	res := make([]*model.Account, 0, len(rows))
	for _, id := range ids {
		if a, ok := byID[id]; ok {
			res = append(res, a)
		}
	}
	return res, nil
}

func (r *accountRepository) first(ctx context.Context, cond string, arg interface{}) (*model.Account, error) {
	var a model.Account
	err := r.db.WithContext(ctx).Where(cond, arg).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *accountRepository) UsernameExists(ctx context.Context, username, exceptID string) (bool, error) {
	var cnt int64
	q := r.db.WithContext(ctx).Model(&model.Account{}).Where("username = ?", username)
	if exceptID != "" {
		q = q.Where("id <> ?", exceptID)
	}
	if err := q.Count(&cnt).Error; err != nil {
		return false, err
	}
	return cnt > 0, nil
}

func (r *accountRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	var cnt int64
	if err := r.db.WithContext(ctx).Model(&model.Account{}).Where("email = ?", email).Count(&cnt).Error; err != nil {
		return false, err
	}
	return cnt > 0, nil
}

func (r *accountRepository) UpdateProfile(ctx context.Context, id, username, aboutMe string) error {
	return r.updates(ctx, id, map[string]interface{}{"username": username, "about_me": aboutMe})
}

func (r *accountRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return r.updates(ctx, id, map[string]interface{}{"password_hash": passwordHash})
}

func (r *accountRepository) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	// UpdateColumn 不刷新 updated_at
	return r.db.WithContext(ctx).Model(&model.Account{}).Where("id = ?", id).UpdateColumn("last_seen", at).Error
}

func (r *accountRepository) updates(ctx context.Context, id string, values map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&model.Account{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *accountRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Account{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
