package repository

import (
	"context"

	"investledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BalanceRepository struct {
	db *gorm.DB
}

func NewBalanceRepository(db *gorm.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

func (r *BalanceRepository) GetByUserID(ctx context.Context, userID int64) (*model.Balance, error) {
	var balance model.Balance
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error
	if err != nil {
		return nil, notFound(err, ErrBalanceNotFound)
	}
	return &balance, nil
}

// EnsureExists 首次发生资金事件时懒创建余额行，并发创建靠唯一索引兜底
func (r *BalanceRepository) EnsureExists(ctx context.Context, tx *gorm.DB, userID int64) error {
	balance := &model.Balance{
		UserID:         userID,
		Available:      decimal.Zero,
		Locked:         decimal.Zero,
		TotalDeposited: decimal.Zero,
		TotalWithdrawn: decimal.Zero,
		TotalEarned:    decimal.Zero,
	}
	return use(r.db, tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(balance).Error
}

// GetForUpdate 行锁读取余额，同一用户的并发变更在这里串行
func (r *BalanceRepository) GetForUpdate(ctx context.Context, tx *gorm.DB, userID int64) (*model.Balance, error) {
	var balance model.Balance
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&balance).Error
	if err != nil {
		return nil, notFound(err, ErrBalanceNotFound)
	}
	return &balance, nil
}

// Save 写回余额快照
// 已经持有行锁，version 条件只是防止在不支持行锁的存储上被并发覆盖
func (r *BalanceRepository) Save(ctx context.Context, tx *gorm.DB, balance *model.Balance) error {
	result := tx.WithContext(ctx).
		Model(&model.Balance{}).
		Where("id = ? AND version = ?", balance.ID, balance.Version).
		Updates(map[string]interface{}{
			"available":       balance.Available,
			"locked":          balance.Locked,
			"total_deposited": balance.TotalDeposited,
			"total_withdrawn": balance.TotalWithdrawn,
			"total_earned":    balance.TotalEarned,
			"version":         gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	balance.Version++
	return nil
}

// ListUserIDs 分页列出有余额行的用户，供对账任务遍历
func (r *BalanceRepository) ListUserIDs(ctx context.Context, afterUserID int64, limit int) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.Balance{}).
		Where("user_id > ?", afterUserID).
		Order("user_id ASC").
		Limit(limit).
		Pluck("user_id", &ids).Error
	return ids, err
}
