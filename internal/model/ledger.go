package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AmountScale 金额统一保留的小数位数，计算结果一律截断，保证舍入不会凭空产生资金
const AmountScale = 8

// ============================================================================
// 流水类型常量
// ============================================================================

const (
	LedgerKindDeposit            = "deposit"             // 充值到账
	LedgerKindInvestmentPurchase = "investment_purchase" // 购买理财
	LedgerKindEarning            = "earning"             // 收益发放
	LedgerKindInvestmentReturn   = "investment_return"   // 本金返还
	LedgerKindWithdrawal         = "withdrawal"          // 提现出账
	LedgerKindReferralCommission = "referral_commission" // 推荐佣金
	LedgerKindAdminAdjustment    = "admin_adjustment"    // 人工调账
)

const (
	DirectionIn  = "IN"
	DirectionOut = "OUT"
)

// idempotentKinds 必须携带 reference_id 的流水类型
var idempotentKinds = map[string]bool{
	LedgerKindDeposit:            true,
	LedgerKindInvestmentPurchase: true,
	LedgerKindEarning:            true,
	LedgerKindInvestmentReturn:   true,
	LedgerKindWithdrawal:         true,
	LedgerKindReferralCommission: true,
}

// fixedDirections 除人工调账外，每种流水的方向是固定的
var fixedDirections = map[string]string{
	LedgerKindDeposit:            DirectionIn,
	LedgerKindInvestmentPurchase: DirectionOut,
	LedgerKindEarning:            DirectionIn,
	LedgerKindInvestmentReturn:   DirectionIn,
	LedgerKindWithdrawal:         DirectionOut,
	LedgerKindReferralCommission: DirectionIn,
}

// IsValidLedgerKind 判断流水类型是否合法
func IsValidLedgerKind(kind string) bool {
	if kind == LedgerKindAdminAdjustment {
		return true
	}
	_, ok := fixedDirections[kind]
	return ok
}

// RequiresReference 该类型的流水是否必须带幂等键
func RequiresReference(kind string) bool {
	return idempotentKinds[kind]
}

// DirectionAllowed 校验流水方向与类型是否匹配
func DirectionAllowed(kind, direction string) bool {
	if kind == LedgerKindAdminAdjustment {
		return direction == DirectionIn || direction == DirectionOut
	}
	return fixedDirections[kind] == direction
}

// ============================================================================
// 账户流水实体
// ============================================================================

// LedgerEntry 资金流水表
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除
// 2. (kind, reference_id) 唯一，这就是幂等屏障，重复触发只会撞唯一索引
// 3. 金额恒为正数，方向由 direction 表示
type LedgerEntry struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryNo       string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"entry_no"`
	UserID        int64           `gorm:"index;not null" json:"user_id"`
	Kind          string          `gorm:"type:varchar(32);not null;uniqueIndex:idx_ledger_kind_ref,priority:1" json:"kind"`
	Direction     string          `gorm:"type:varchar(8);not null" json:"direction"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"amount"`
	ReferenceID   *string         `gorm:"type:varchar(128);uniqueIndex:idx_ledger_kind_ref,priority:2" json:"reference_id,omitempty"`
	BalanceBefore decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"balance_before"` // 变动前可用余额
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"balance_after"`  // 变动后可用余额
	Metadata      string          `gorm:"type:text" json:"metadata,omitempty"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entry"
}

// Signed 带符号的金额
func (e *LedgerEntry) Signed() decimal.Decimal {
	if e.Direction == DirectionOut {
		return e.Amount.Neg()
	}
	return e.Amount
}
