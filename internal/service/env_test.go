package service

import (
	"context"
	"testing"
	"time"

	"investledger/internal/config"
	"investledger/internal/model"
	"investledger/internal/testutil"
	"investledger/pkg/clock"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

type env struct {
	db         *gorm.DB
	clock      *clock.ManualClock
	balance    *BalanceService
	deposit    *DepositService
	investment *InvestmentService
	withdrawal *WithdrawalService
	referral   *ReferralService
}

func testConfig() config.BusinessConfig {
	return config.BusinessConfig{
		AccrualPeriod:  day,
		AccrualWorkers: 4,
		SweepBatchSize: 10,
		MaxRetryCount:  3,
		Withdrawal: config.WithdrawalConfig{
			MinAmount:    "10",
			FeeRate:      "0.05",
			HoldDuration: 72 * time.Hour,
		},
		Referral: config.ReferralConfig{
			DepositFirstOnly: true,
			DepositRates:     []string{"0.05"},
		},
	}
}

func newEnv(t *testing.T, mutate ...func(*config.BusinessConfig)) *env {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	db := testutil.NewDB(t)
	clk := clock.NewManualClock(t0)
	balance := NewBalanceService(db, "ledger_event")
	referral := NewReferralService(db, balance, cfg.Referral, clk)
	return &env{
		db:         db,
		clock:      clk,
		balance:    balance,
		deposit:    NewDepositService(db, balance, referral),
		investment: NewInvestmentService(db, balance, referral, cfg.AccrualPeriod, clk),
		withdrawal: NewWithdrawalService(db, balance, cfg.Withdrawal, "withdrawal_event", clk),
		referral:   referral,
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (e *env) fund(t *testing.T, userID int64, ref, amount string) {
	t.Helper()
	_, err := e.deposit.NotifyDepositConfirmed(context.Background(), userID, ref, dec(amount))
	require.NoError(t, err)
}

func (e *env) mustBalance(t *testing.T, userID int64) *model.Balance {
	t.Helper()
	b, err := e.balance.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return b
}

func (e *env) createPlan(t *testing.T, plan *model.Plan) *model.Plan {
	t.Helper()
	if plan.Name == "" {
		plan.Name = "test-plan"
	}
	require.NoError(t, e.db.Create(plan).Error)
	return plan
}

func (e *env) countEntries(t *testing.T, kind, ref string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&model.LedgerEntry{}).
		Where("kind = ? AND reference_id = ?", kind, ref).
		Count(&n).Error)
	return n
}

// requireLockedMatchesOpen 冻结余额必须等于未完结提现单合计
func (e *env) requireLockedMatchesOpen(t *testing.T, userID int64) {
	t.Helper()
	var list []model.Withdrawal
	require.NoError(t, e.db.Where("user_id = ? AND status IN ?", userID, model.OpenWithdrawalStatuses).Find(&list).Error)
	sum := decimal.Zero
	for _, w := range list {
		sum = sum.Add(w.Amount)
	}
	b := e.mustBalance(t, userID)
	require.True(t, b.Locked.Equal(sum), "locked=%s open=%s", b.Locked, sum)
	require.False(t, b.Available.Add(b.Locked).IsNegative())
}

func requireDecEqual(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s got %s", want, got.String())
}
