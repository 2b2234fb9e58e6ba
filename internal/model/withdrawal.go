package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	WithdrawalStatusPending    = "pending"
	WithdrawalStatusProcessing = "processing"
	WithdrawalStatusApproved   = "approved"
	WithdrawalStatusRejected   = "rejected"
	WithdrawalStatusTimeout    = "timeout"
)

// WithdrawalTransitions 提现单状态机
// pending/processing 是非终态，其余都是终态
var WithdrawalTransitions = map[string][]string{
	WithdrawalStatusPending:    {WithdrawalStatusProcessing, WithdrawalStatusRejected, WithdrawalStatusTimeout},
	WithdrawalStatusProcessing: {WithdrawalStatusApproved, WithdrawalStatusRejected},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := WithdrawalTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// IsOpenWithdrawalStatus 是否仍占用冻结余额
func IsOpenWithdrawalStatus(status string) bool {
	return status == WithdrawalStatusPending || status == WithdrawalStatusProcessing
}

// OpenWithdrawalStatuses 占用冻结余额的状态集合
var OpenWithdrawalStatuses = []string{WithdrawalStatusPending, WithdrawalStatusProcessing}

type Withdrawal struct {
	ID                 int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	WithdrawalNo       string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"withdrawal_no"`
	UserID             int64           `gorm:"index;not null" json:"user_id"`
	Amount             decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"amount"`
	Fee                decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"fee"`
	NetAmount          decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"net_amount"`
	DestinationAddress string          `gorm:"type:varchar(128);not null" json:"destination_address"`
	Status             string          `gorm:"type:varchar(20);index:idx_withdrawal_expiry,priority:1;not null" json:"status"`
	ExpiresAt          time.Time       `gorm:"not null;index:idx_withdrawal_expiry,priority:2" json:"expires_at"`
	ProcessedAt        *time.Time      `json:"processed_at,omitempty"`
	ProcessedBy        string          `gorm:"type:varchar(64)" json:"processed_by,omitempty"`
	AdminNotes         string          `gorm:"type:varchar(512)" json:"admin_notes,omitempty"`
	CreatedAt          time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Withdrawal) TableName() string {
	return "withdrawal"
}
