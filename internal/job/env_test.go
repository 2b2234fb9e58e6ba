package job

import (
	"context"
	"fmt"
	"testing"
	"time"

	"investledger/internal/config"
	"investledger/internal/model"
	"investledger/internal/service"
	"investledger/internal/testutil"
	"investledger/pkg/clock"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

type fixture struct {
	db         *gorm.DB
	clock      *clock.ManualClock
	cfg        config.BusinessConfig
	balance    *service.BalanceService
	deposit    *service.DepositService
	investment *service.InvestmentService
	withdrawal *service.WithdrawalService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.BusinessConfig{
		AccrualPeriod:  day,
		AccrualWorkers: 3,
		SweepBatchSize: 2,
		MaxRetryCount:  3,
		Withdrawal: config.WithdrawalConfig{
			MinAmount:    "10",
			FeeRate:      "0",
			HoldDuration: 72 * time.Hour,
		},
	}
	db := testutil.NewDB(t)
	clk := clock.NewManualClock(t0)
	balance := service.NewBalanceService(db, "ledger_event")
	return &fixture{
		db:         db,
		clock:      clk,
		cfg:        cfg,
		balance:    balance,
		deposit:    service.NewDepositService(db, balance, nil),
		investment: service.NewInvestmentService(db, balance, nil, cfg.AccrualPeriod, clk),
		withdrawal: service.NewWithdrawalService(db, balance, cfg.Withdrawal, "withdrawal_event", clk),
	}
}

func (f *fixture) fund(t *testing.T, userID int64, ref, amount string) {
	t.Helper()
	_, err := f.deposit.NotifyDepositConfirmed(context.Background(), userID, ref, decimal.RequireFromString(amount))
	require.NoError(t, err)
}

// invest 给用户充值并买入一笔 3 期、日利率 2%、到期还本的理财
func (f *fixture) invest(t *testing.T, userID int64, amount string) *model.Investment {
	t.Helper()
	plan := &model.Plan{
		Name:            "daily-3",
		MinAmount:       decimal.NewFromInt(1),
		MaxAmount:       decimal.NewFromInt(10000),
		DailyRate:       decimal.RequireFromString("0.02"),
		DurationPeriods: 3,
		PayoutMode:      model.PayoutModePerPeriod,
		ReturnPrincipal: true,
		IsActive:        true,
	}
	require.NoError(t, f.db.Create(plan).Error)

	f.fund(t, userID, fmt.Sprintf("seed-%d", userID), amount)
	inv, err := f.investment.Purchase(context.Background(), service.PurchaseRequest{
		UserID: userID,
		PlanID: plan.ID,
		Amount: decimal.RequireFromString(amount),
	})
	require.NoError(t, err)
	return inv
}

func (f *fixture) available(t *testing.T, userID int64) decimal.Decimal {
	t.Helper()
	b, err := f.balance.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return b.Available
}

func (f *fixture) countKind(t *testing.T, kind string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&model.LedgerEntry{}).Where("kind = ?", kind).Count(&n).Error)
	return n
}
