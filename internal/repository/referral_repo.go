package repository

import (
	"context"
	"errors"
	"time"

	"investledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ReferralRepository struct {
	db *gorm.DB
}

func NewReferralRepository(db *gorm.DB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

// GetReferrer 查询邀请人，没有邀请人时 ok=false
func (r *ReferralRepository) GetReferrer(ctx context.Context, tx *gorm.DB, userID int64) (int64, bool, error) {
	var rel model.UserReferral
	err := use(r.db, tx).WithContext(ctx).Where("user_id = ?", userID).First(&rel).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return rel.ReferredBy, true, nil
}

// SetReferrer 同步用户系统的邀请关系，已存在则忽略（邀请关系一经建立不再修改）
func (r *ReferralRepository) SetReferrer(ctx context.Context, userID, referredBy int64) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&model.UserReferral{UserID: userID, ReferredBy: referredBy}).Error
}

// CreateCommission 写入佣金记录，(referrer, event) 冲突说明已经发过
func (r *ReferralRepository) CreateCommission(ctx context.Context, tx *gorm.DB, c *model.ReferralCommission) error {
	return use(r.db, tx).WithContext(ctx).Create(c).Error
}

func (r *ReferralRepository) MarkPaid(ctx context.Context, tx *gorm.DB, id int64, paidAt time.Time) error {
	result := use(r.db, tx).WithContext(ctx).
		Model(&model.ReferralCommission{}).
		Where("id = ? AND status = ?", id, model.CommissionStatusPending).
		Updates(map[string]interface{}{
			"status":  model.CommissionStatusPaid,
			"paid_at": paidAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (r *ReferralRepository) ListByReferrer(ctx context.Context, referrerUserID int64) ([]*model.ReferralCommission, error) {
	var list []*model.ReferralCommission
	err := r.db.WithContext(ctx).
		Where("referrer_user_id = ?", referrerUserID).
		Order("id DESC").
		Find(&list).Error
	return list, err
}
