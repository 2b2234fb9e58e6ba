package repository

import (
	"context"
	"time"

	"investledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PlanRepository struct {
	db *gorm.DB
}

func NewPlanRepository(db *gorm.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

// GetPlan 读取计划目录
func (r *PlanRepository) GetPlan(ctx context.Context, planID int64) (*model.Plan, error) {
	var plan model.Plan
	err := r.db.WithContext(ctx).Where("id = ?", planID).First(&plan).Error
	if err != nil {
		return nil, notFound(err, ErrPlanNotFound)
	}
	return &plan, nil
}

type InvestmentRepository struct {
	db *gorm.DB
}

func NewInvestmentRepository(db *gorm.DB) *InvestmentRepository {
	return &InvestmentRepository{db: db}
}

func (r *InvestmentRepository) Create(ctx context.Context, tx *gorm.DB, inv *model.Investment) error {
	return use(r.db, tx).WithContext(ctx).Create(inv).Error
}

func (r *InvestmentRepository) GetByNo(ctx context.Context, investmentNo string) (*model.Investment, error) {
	var inv model.Investment
	err := r.db.WithContext(ctx).Where("investment_no = ?", investmentNo).First(&inv).Error
	if err != nil {
		return nil, notFound(err, ErrInvestmentNotFound)
	}
	return &inv, nil
}

// GetByNoForUpdate 在事务内锁住理财单，保证同一理财单的收益更新串行
func (r *InvestmentRepository) GetByNoForUpdate(ctx context.Context, tx *gorm.DB, investmentNo string) (*model.Investment, error) {
	var inv model.Investment
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("investment_no = ?", investmentNo).
		First(&inv).Error
	if err != nil {
		return nil, notFound(err, ErrInvestmentNotFound)
	}
	return &inv, nil
}

func (r *InvestmentRepository) ListByUserID(ctx context.Context, userID int64) ([]*model.Investment, error) {
	var list []*model.Investment
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Find(&list).Error
	return list, err
}

// ListDue 按 id 翻页列出进行中且到了调度时间的理财单
func (r *InvestmentRepository) ListDue(ctx context.Context, now time.Time, afterID int64, limit int) ([]*model.Investment, error) {
	var list []*model.Investment
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_accrual_at <= ? AND id > ?", model.InvestmentStatusActive, now, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&list).Error
	return list, err
}

// RecordAccrual 记录一期收益，调用方已持有理财单行锁，totalEarned 为累加后的值
func (r *InvestmentRepository) RecordAccrual(ctx context.Context, tx *gorm.DB, id int64, totalEarned decimal.Decimal, accrualAt, nextAccrualAt time.Time) error {
	result := tx.WithContext(ctx).
		Model(&model.Investment{}).
		Where("id = ? AND status = ?", id, model.InvestmentStatusActive).
		Updates(map[string]interface{}{
			"total_earned":    totalEarned,
			"last_accrual_at": accrualAt,
			"next_accrual_at": nextAccrualAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// MarkCompleted active -> completed，不可逆
func (r *InvestmentRepository) MarkCompleted(ctx context.Context, tx *gorm.DB, id int64, completedAt time.Time) error {
	result := tx.WithContext(ctx).
		Model(&model.Investment{}).
		Where("id = ? AND status = ?", id, model.InvestmentStatusActive).
		Updates(map[string]interface{}{
			"status":       model.InvestmentStatusCompleted,
			"completed_at": completedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}
