package repository

import (
	"context"
	"time"

	"investledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WithdrawalRepository struct {
	db *gorm.DB
}

func NewWithdrawalRepository(db *gorm.DB) *WithdrawalRepository {
	return &WithdrawalRepository{db: db}
}

func (r *WithdrawalRepository) Create(ctx context.Context, tx *gorm.DB, w *model.Withdrawal) error {
	return use(r.db, tx).WithContext(ctx).Create(w).Error
}

func (r *WithdrawalRepository) GetByNo(ctx context.Context, withdrawalNo string) (*model.Withdrawal, error) {
	var w model.Withdrawal
	err := r.db.WithContext(ctx).Where("withdrawal_no = ?", withdrawalNo).First(&w).Error
	if err != nil {
		return nil, notFound(err, ErrWithdrawalNotFound)
	}
	return &w, nil
}

func (r *WithdrawalRepository) GetByNoForUpdate(ctx context.Context, tx *gorm.DB, withdrawalNo string) (*model.Withdrawal, error) {
	var w model.Withdrawal
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("withdrawal_no = ?", withdrawalNo).
		First(&w).Error
	if err != nil {
		return nil, notFound(err, ErrWithdrawalNotFound)
	}
	return &w, nil
}

// StatusUpdate 状态变更时附带写入的字段
type StatusUpdate struct {
	ProcessedAt *time.Time
	ProcessedBy string
	AdminNotes  string
}

// UpdateStatus 带条件的状态流转：只有当前状态仍为 fromStatus 时才会更新
func (r *WithdrawalRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, withdrawalNo, fromStatus, toStatus string, upd StatusUpdate) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrInvalidTransition
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	if upd.ProcessedAt != nil {
		updates["processed_at"] = upd.ProcessedAt
	}
	if upd.ProcessedBy != "" {
		updates["processed_by"] = upd.ProcessedBy
	}
	if upd.AdminNotes != "" {
		updates["admin_notes"] = upd.AdminNotes
	}

	result := use(r.db, tx).WithContext(ctx).
		Model(&model.Withdrawal{}).
		Where("withdrawal_no = ? AND status = ?", withdrawalNo, fromStatus).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// GetExpiredPending 按 id 翻页列出超过 expires_at 仍为 pending 的提现单
func (r *WithdrawalRepository) GetExpiredPending(ctx context.Context, now time.Time, afterID int64, limit int) ([]*model.Withdrawal, error) {
	var list []*model.Withdrawal
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at < ? AND id > ?", model.WithdrawalStatusPending, now, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

func (r *WithdrawalRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.Withdrawal, int64, error) {
	var list []*model.Withdrawal
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Withdrawal{}).Where("user_id = ?", userID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&list).Error
	return list, total, err
}

// SumOpenByUser 用户处于 pending/processing 的提现总额，应当恒等于 balance.locked
func (r *WithdrawalRepository) SumOpenByUser(ctx context.Context, tx *gorm.DB, userID int64) (decimal.Decimal, error) {
	var totals []decimal.NullDecimal
	err := use(r.db, tx).WithContext(ctx).
		Model(&model.Withdrawal{}).
		Where("user_id = ? AND status IN ?", userID, model.OpenWithdrawalStatuses).
		Pluck("SUM(amount)", &totals).Error
	if err != nil {
		return decimal.Zero, err
	}
	if len(totals) == 0 || !totals[0].Valid {
		return decimal.Zero, nil
	}
	return totals[0].Decimal, nil
}
