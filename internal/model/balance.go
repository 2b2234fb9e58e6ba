package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance 用户余额快照
// 是流水表的缓存投影，只允许 BalanceService 在写流水的同一事务里修改
type Balance struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         int64           `gorm:"uniqueIndex;not null" json:"user_id"`
	Available      decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"available"`       // 可用余额
	Locked         decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"locked"`          // 提现冻结
	TotalDeposited decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"total_deposited"` // 累计充值
	TotalWithdrawn decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"total_withdrawn"` // 累计提现
	TotalEarned    decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"total_earned"`    // 累计收益（含佣金）
	Version        int             `gorm:"not null;default:0" json:"version"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Balance) TableName() string {
	return "balance"
}

// ApplyEntry 按流水类型更新余额和各项累计值
func (b *Balance) ApplyEntry(entry *LedgerEntry) {
	b.Available = b.Available.Add(entry.Signed())

	switch entry.Kind {
	case LedgerKindDeposit:
		b.TotalDeposited = b.TotalDeposited.Add(entry.Amount)
	case LedgerKindWithdrawal:
		b.TotalWithdrawn = b.TotalWithdrawn.Add(entry.Amount)
	case LedgerKindEarning, LedgerKindReferralCommission:
		b.TotalEarned = b.TotalEarned.Add(entry.Amount)
	}
}

// SameAs 比较两个快照的金额字段
func (b *Balance) SameAs(o *Balance) bool {
	return b.Available.Equal(o.Available) &&
		b.Locked.Equal(o.Locked) &&
		b.TotalDeposited.Equal(o.TotalDeposited) &&
		b.TotalWithdrawn.Equal(o.TotalWithdrawn) &&
		b.TotalEarned.Equal(o.TotalEarned)
}
