package service

import (
	"context"
	"database/sql/driver"
	"testing"

	"investledger/internal/config"
	"investledger/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func (e *env) refer(t *testing.T, userID, referredBy int64) {
	t.Helper()
	require.NoError(t, e.referral.BindReferrer(context.Background(), userID, referredBy))
}

func (e *env) commissions(t *testing.T, referrer int64) []*model.ReferralCommission {
	t.Helper()
	list, err := e.referral.ListByReferrer(context.Background(), referrer)
	require.NoError(t, err)
	return list
}

// failNextCommissionInsert 下一次写佣金记录时返回连接断开
func (e *env) failNextCommissionInsert(t *testing.T) {
	t.Helper()
	armed := true
	require.NoError(t, e.db.Callback().Create().Before("gorm:create").Register("test:commission_conn_lost", func(db *gorm.DB) {
		if armed && db.Statement.Table == "referral_commission" {
			armed = false
			_ = db.AddError(driver.ErrBadConn)
		}
	}))
}

// R 邀请了 U，U 首充 200，佣金 5%
func TestScenarioD_FirstDepositCommission(t *testing.T) {
	const referrer, user = int64(100), int64(200)
	e := newEnv(t)
	e.refer(t, user, referrer)

	e.fund(t, user, "order-1", "200")
	// 渠道重复回调
	e.fund(t, user, "order-1", "200")

	list := e.commissions(t, referrer)
	require.Len(t, list, 1)
	c := list[0]
	requireDecEqual(t, "10", c.Amount)
	assert.Equal(t, user, c.RefereeUserID)
	assert.Equal(t, 1, c.Level)
	assert.Equal(t, model.CommissionSourceDeposit, c.SourceKind)
	assert.Equal(t, model.CommissionStatusPaid, c.Status)
	assert.Equal(t, "dep:order-1", c.TriggeringEventReference)

	b := e.mustBalance(t, referrer)
	requireDecEqual(t, "10", b.Available)
	requireDecEqual(t, "10", b.TotalEarned)
	assert.EqualValues(t, 1, e.countEntries(t, model.LedgerKindReferralCommission, model.CommissionReference("dep:order-1", referrer, 1)))

	requireDecEqual(t, "200", e.mustBalance(t, user).Available)
}

func TestDepositCommission_FirstDepositOnly(t *testing.T) {
	e := newEnv(t)
	e.refer(t, 2, 1)

	e.fund(t, 2, "order-1", "100")
	e.fund(t, 2, "order-2", "100")
	assert.Len(t, e.commissions(t, 1), 1)
	requireDecEqual(t, "5", e.mustBalance(t, 1).Available)

	every := newEnv(t, func(c *config.BusinessConfig) { c.Referral.DepositFirstOnly = false })
	every.refer(t, 2, 1)
	every.fund(t, 2, "order-1", "100")
	every.fund(t, 2, "order-2", "100")
	assert.Len(t, every.commissions(t, 1), 2)
	requireDecEqual(t, "10", every.mustBalance(t, 1).Available)
}

func TestCommission_MultiLevelChain(t *testing.T) {
	e := newEnv(t, func(c *config.BusinessConfig) {
		c.Referral.DepositRates = []string{"0.05", "0.02"}
	})
	// 4 -> 3 -> 2 -> 1，只发两级
	e.refer(t, 4, 3)
	e.refer(t, 3, 2)
	e.refer(t, 2, 1)

	e.fund(t, 4, "order-1", "200")

	requireDecEqual(t, "10", e.mustBalance(t, 3).Available)
	requireDecEqual(t, "4", e.mustBalance(t, 2).Available)
	requireDecEqual(t, "0", e.mustBalance(t, 1).Available)

	level2 := e.commissions(t, 2)
	require.Len(t, level2, 1)
	assert.Equal(t, 2, level2[0].Level)
	assert.EqualValues(t, 4, level2[0].RefereeUserID)
	assert.EqualValues(t, 1, e.countEntries(t, model.LedgerKindReferralCommission, model.CommissionReference("dep:order-1", 2, 2)))
}

func TestCommission_StopsOnReferralCycle(t *testing.T) {
	e := newEnv(t, func(c *config.BusinessConfig) {
		c.Referral.DepositFirstOnly = false
		c.Referral.DepositRates = []string{"0.05", "0.02", "0.01"}
	})
	e.refer(t, 1, 2)
	e.refer(t, 2, 1)

	paid, err := e.referral.OnDepositConfirmed(context.Background(), nil, 1, "order-1", dec("100"))
	require.NoError(t, err)
	require.Len(t, paid, 1)
	assert.EqualValues(t, 2, paid[0].ReferrerUserID)
	assert.Empty(t, e.commissions(t, 1))
}

func TestInvestmentCommission(t *testing.T) {
	e := newEnv(t, func(c *config.BusinessConfig) {
		c.Referral.InvestmentRates = []string{"0.01"}
	})
	ctx := context.Background()
	plan := perPeriodPlan(e, t, true)
	e.refer(t, 2, 1)
	e.fund(t, 2, "order-1", "300")

	inv, err := e.investment.Purchase(ctx, PurchaseRequest{UserID: 2, PlanID: plan.ID, Amount: dec("250")})
	require.NoError(t, err)

	// 首充 5% + 投资 1%
	requireDecEqual(t, "17.5", e.mustBalance(t, 1).Available)

	paid, err := e.referral.OnInvestmentPurchased(ctx, nil, 2, inv.InvestmentNo, inv.AmountInvested)
	require.NoError(t, err)
	assert.Empty(t, paid, "replayed purchase event pays nothing")
	requireDecEqual(t, "17.5", e.mustBalance(t, 1).Available)

	var sources []string
	for _, c := range e.commissions(t, 1) {
		sources = append(sources, c.SourceKind)
	}
	assert.ElementsMatch(t, []string{model.CommissionSourceDeposit, model.CommissionSourceInvestment}, sources)
}

func TestCommission_NoReferrerPaysNothing(t *testing.T) {
	e := newEnv(t)
	paid, err := e.referral.OnDepositConfirmed(context.Background(), nil, 9, "order-1", dec("100"))
	require.NoError(t, err)
	assert.Empty(t, paid)
}

func TestBindReferrer(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	assert.ErrorIs(t, e.referral.BindReferrer(ctx, 1, 1), ErrInvalidAmount)
	assert.ErrorIs(t, e.referral.BindReferrer(ctx, 0, 1), ErrInvalidAmount)

	require.NoError(t, e.referral.BindReferrer(ctx, 2, 1))
	// 已绑定的关系不会被改写
	require.NoError(t, e.referral.BindReferrer(ctx, 2, 3))

	e.fund(t, 2, "order-1", "100")
	assert.Len(t, e.commissions(t, 1), 1)
	assert.Empty(t, e.commissions(t, 3))
}

func TestDeposit_CommissionFailureRollsBackAndRedeliveryPays(t *testing.T) {
	const referrer, user = int64(100), int64(200)
	e := newEnv(t)
	ctx := context.Background()
	e.refer(t, user, referrer)
	e.failNextCommissionInsert(t)

	_, err := e.deposit.NotifyDepositConfirmed(ctx, user, "order-1", dec("200"))
	require.ErrorIs(t, err, ErrStoreUnavailable)
	requireDecEqual(t, "0", e.mustBalance(t, user).Available)
	assert.EqualValues(t, 0, e.countEntries(t, model.LedgerKindDeposit, "order-1"))
	assert.Empty(t, e.commissions(t, referrer))

	// 渠道收到失败后重试回调
	res, err := e.deposit.NotifyDepositConfirmed(ctx, user, "order-1", dec("200"))
	require.NoError(t, err)
	assert.False(t, res.AlreadyApplied)
	requireDecEqual(t, "200", e.mustBalance(t, user).Available)
	requireDecEqual(t, "10", e.mustBalance(t, referrer).Available)
	require.Len(t, e.commissions(t, referrer), 1)
}

func TestPurchase_CommissionFailureRollsBackPurchase(t *testing.T) {
	e := newEnv(t, func(c *config.BusinessConfig) {
		c.Referral.DepositRates = nil
		c.Referral.InvestmentRates = []string{"0.01"}
	})
	ctx := context.Background()
	plan := perPeriodPlan(e, t, true)
	e.refer(t, 2, 1)
	e.fund(t, 2, "order-1", "300")
	e.failNextCommissionInsert(t)

	_, err := e.investment.Purchase(ctx, PurchaseRequest{UserID: 2, PlanID: plan.ID, Amount: dec("250")})
	require.ErrorIs(t, err, ErrStoreUnavailable)
	requireDecEqual(t, "300", e.mustBalance(t, 2).Available)
	requireDecEqual(t, "0", e.mustBalance(t, 1).Available)

	var investments int64
	require.NoError(t, e.db.Model(&model.Investment{}).Count(&investments).Error)
	assert.Zero(t, investments)

	_, err = e.investment.Purchase(ctx, PurchaseRequest{UserID: 2, PlanID: plan.ID, Amount: dec("250")})
	require.NoError(t, err)
	requireDecEqual(t, "50", e.mustBalance(t, 2).Available)
	requireDecEqual(t, "2.5", e.mustBalance(t, 1).Available)
	require.Len(t, e.commissions(t, 1), 1)
}
