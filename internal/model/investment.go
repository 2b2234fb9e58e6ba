package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	PayoutModePerPeriod      = "per_period"       // 每期发放收益
	PayoutModeLumpAtMaturity = "lump_at_maturity" // 到期一次性发放
)

const (
	InvestmentStatusActive    = "active"
	InvestmentStatusCompleted = "completed"
)

// Plan 理财计划（计划目录由外部系统维护，这里只读）
//
// 收益语义只看 PayoutMode，不要根据 DailyRate 的大小去猜它是日利率还是总收益率
type Plan struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Name            string          `gorm:"type:varchar(64);not null" json:"name"`
	MinAmount       decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"min_amount"`
	MaxAmount       decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"max_amount"`
	DailyRate       decimal.Decimal `gorm:"type:decimal(12,8);not null" json:"daily_rate"`
	DurationPeriods int             `gorm:"not null" json:"duration_periods"`
	PayoutMode      string          `gorm:"type:varchar(20);not null" json:"payout_mode"`
	ReturnPrincipal bool            `gorm:"not null;default:false" json:"return_principal"`
	IsActive        bool            `gorm:"not null;default:true" json:"is_active"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Plan) TableName() string {
	return "investment_plan"
}

// Investment 用户持有的理财
// 计划条款（利率、期数、发放方式、是否还本、期长）在购买时快照下来，之后计划变更不影响存量
type Investment struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	InvestmentNo    string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"investment_no"`
	UserID          int64           `gorm:"index;not null" json:"user_id"`
	PlanID          int64           `gorm:"index;not null" json:"plan_id"`
	AmountInvested  decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"amount_invested"`
	DailyRate       decimal.Decimal `gorm:"type:decimal(12,8);not null" json:"daily_rate"`
	DurationPeriods int             `gorm:"not null" json:"duration_periods"`
	PayoutMode      string          `gorm:"type:varchar(20);not null" json:"payout_mode"`
	ReturnPrincipal bool            `gorm:"not null;default:false" json:"return_principal"`
	PeriodSeconds   int64           `gorm:"not null" json:"period_seconds"`
	StartAt         time.Time       `gorm:"not null" json:"start_at"`
	EndAt           time.Time       `gorm:"not null" json:"end_at"`
	Status          string          `gorm:"type:varchar(20);not null;index:idx_investment_due,priority:1" json:"status"`
	TotalEarned     decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"total_earned"`
	LastAccrualAt   *time.Time      `json:"last_accrual_at,omitempty"`
	NextAccrualAt   time.Time       `gorm:"not null;index:idx_investment_due,priority:2" json:"next_accrual_at"` // 调度提示，真正的判重靠幂等键
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Investment) TableName() string {
	return "investment"
}

// PeriodLength 单期时长
func (i *Investment) PeriodLength() time.Duration {
	return time.Duration(i.PeriodSeconds) * time.Second
}

// PeriodBoundary 第 k 期结束的时间点
func (i *Investment) PeriodBoundary(k int) time.Time {
	return i.StartAt.Add(time.Duration(k) * i.PeriodLength())
}

// DuePeriods 截止 now 已经到期的期数（不超过总期数）
func (i *Investment) DuePeriods(now time.Time) int {
	if i.PeriodSeconds <= 0 || now.Before(i.StartAt) {
		return 0
	}
	n := int(now.Sub(i.StartAt) / i.PeriodLength())
	if n > i.DurationPeriods {
		n = i.DurationPeriods
	}
	return n
}

// AccruedPeriods 根据 last_accrual_at 推算已发放到第几期
// last_accrual_at 总是写成某一期的边界时间，按四舍五入反推，容忍存储层的时间精度损失
func (i *Investment) AccruedPeriods() int {
	if i.LastAccrualAt == nil || i.PeriodSeconds <= 0 {
		return 0
	}
	p := i.PeriodLength()
	return int((i.LastAccrualAt.Sub(i.StartAt) + p/2) / p)
}

// PeriodEarning 单期收益
func (i *Investment) PeriodEarning() decimal.Decimal {
	return i.AmountInvested.Mul(i.DailyRate).Truncate(AmountScale)
}

// LumpEarning 到期一次性发放的总收益
func (i *Investment) LumpEarning() decimal.Decimal {
	return i.AmountInvested.Mul(i.DailyRate).Mul(decimal.NewFromInt(int64(i.DurationPeriods))).Truncate(AmountScale)
}

// IsMatured 是否到期
func (i *Investment) IsMatured(now time.Time) bool {
	return !now.Before(i.EndAt)
}

// PeriodReference 第 k 期收益的幂等键
func PeriodReference(investmentNo string, k int) string {
	return fmt.Sprintf("%s:%d", investmentNo, k)
}

// FinalReference 到期一次性收益的幂等键
func FinalReference(investmentNo string) string {
	return investmentNo + ":final"
}

// PrincipalReference 本金返还的幂等键
func PrincipalReference(investmentNo string) string {
	return investmentNo + ":principal"
}
