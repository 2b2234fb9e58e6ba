package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	CommissionStatusPending = "pending"
	CommissionStatusPaid    = "paid"
)

const (
	CommissionSourceDeposit    = "deposit"
	CommissionSourceInvestment = "investment"
)

// UserReferral 邀请关系（由用户系统维护，这里只读）
type UserReferral struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	ReferredBy int64     `gorm:"index;not null" json:"referred_by"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (UserReferral) TableName() string {
	return "user_referral"
}

// ReferralCommission 推荐佣金记录
// 同一个推荐人对同一个触发事件最多一条
type ReferralCommission struct {
	ID                       int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	ReferrerUserID           int64           `gorm:"not null;uniqueIndex:idx_commission_referrer_event,priority:1" json:"referrer_user_id"`
	RefereeUserID            int64           `gorm:"index;not null" json:"referee_user_id"`
	TriggeringEventReference string          `gorm:"type:varchar(128);not null;uniqueIndex:idx_commission_referrer_event,priority:2" json:"triggering_event_reference"`
	SourceKind               string          `gorm:"type:varchar(20);not null" json:"source_kind"`
	Level                    int             `gorm:"not null" json:"level"`
	Rate                     decimal.Decimal `gorm:"type:decimal(12,8);not null" json:"rate"`
	Amount                   decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"amount"`
	Status                   string          `gorm:"type:varchar(20);not null" json:"status"`
	PaidAt                   *time.Time      `json:"paid_at,omitempty"`
	CreatedAt                time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ReferralCommission) TableName() string {
	return "referral_commission"
}

// CommissionReference 佣金入账的幂等键，第二级及以上追加层级后缀
func CommissionReference(eventReference string, referrerUserID int64, level int) string {
	if level <= 1 {
		return fmt.Sprintf("%s:%d", eventReference, referrerUserID)
	}
	return fmt.Sprintf("%s:%d:L%d", eventReference, referrerUserID, level)
}
