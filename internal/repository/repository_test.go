package repository

import (
	"context"
	"testing"
	"time"

	"investledger/internal/model"
	"investledger/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func entry(no string, userID int64, kind, direction, amount string, ref *string) *model.LedgerEntry {
	return &model.LedgerEntry{
		EntryNo:       no,
		UserID:        userID,
		Kind:          kind,
		Direction:     direction,
		Amount:        decimal.RequireFromString(amount),
		ReferenceID:   ref,
		BalanceBefore: decimal.Zero,
		BalanceAfter:  decimal.Zero,
	}
}

func strPtr(s string) *string { return &s }

func TestLedger_UniqueKindReference(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewLedgerRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, nil, entry("E1", 1, model.LedgerKindDeposit, model.DirectionIn, "10", strPtr("order-1"))))

	err := repo.Create(ctx, nil, entry("E2", 2, model.LedgerKindDeposit, model.DirectionIn, "10", strPtr("order-1")))
	require.Error(t, err)
	assert.True(t, IsDuplicateKey(err))

	// 同一个引用号在不同类型下互不影响
	require.NoError(t, repo.Create(ctx, nil, entry("E3", 1, model.LedgerKindWithdrawal, model.DirectionOut, "3", strPtr("order-1"))))

	// 没有引用号的流水不参与唯一约束
	require.NoError(t, repo.Create(ctx, nil, entry("E4", 1, model.LedgerKindAdminAdjustment, model.DirectionIn, "1", nil)))
	require.NoError(t, repo.Create(ctx, nil, entry("E5", 1, model.LedgerKindAdminAdjustment, model.DirectionIn, "1", nil)))

	first, err := repo.FirstByUserAndKind(ctx, nil, 1, model.LedgerKindDeposit)
	require.NoError(t, err)
	assert.Equal(t, "E1", first.EntryNo)
	_, err = repo.FirstByUserAndKind(ctx, nil, 2, model.LedgerKindDeposit)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestLedger_SumByUser(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewLedgerRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, nil, entry("E1", 1, model.LedgerKindDeposit, model.DirectionIn, "0.1", strPtr("o-1"))))
	require.NoError(t, repo.Create(ctx, nil, entry("E2", 1, model.LedgerKindDeposit, model.DirectionIn, "0.2", strPtr("o-2"))))
	require.NoError(t, repo.Create(ctx, nil, entry("E3", 1, model.LedgerKindInvestmentPurchase, model.DirectionOut, "0.25", strPtr("INV1"))))
	require.NoError(t, repo.Create(ctx, nil, entry("E4", 2, model.LedgerKindDeposit, model.DirectionIn, "99", strPtr("o-3"))))

	totals, err := repo.SumByUser(ctx, nil, 1)
	require.NoError(t, err)
	require.Len(t, totals, 2)

	byKind := map[string]KindTotal{}
	for _, kt := range totals {
		byKind[kt.Kind] = kt
	}
	assert.True(t, byKind[model.LedgerKindDeposit].Total.Equal(decimal.RequireFromString("0.3")))
	assert.Equal(t, model.DirectionOut, byKind[model.LedgerKindInvestmentPurchase].Direction)
	assert.True(t, byKind[model.LedgerKindInvestmentPurchase].Total.Equal(decimal.RequireFromString("0.25")))

	totals, err = repo.SumByUser(ctx, nil, 3)
	require.NoError(t, err)
	assert.Empty(t, totals)
}

func TestBalance_EnsureExistsAndOptimisticSave(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewBalanceRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.EnsureExists(ctx, nil, 1))
	require.NoError(t, repo.EnsureExists(ctx, nil, 1))
	require.NoError(t, repo.EnsureExists(ctx, nil, 3))

	b, err := repo.GetByUserID(ctx, 1)
	require.NoError(t, err)
	assert.True(t, b.Available.IsZero())

	stale := *b
	b.Available = decimal.NewFromInt(5)
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return repo.Save(ctx, tx, b)
	}))
	assert.Equal(t, 1, b.Version)

	stale.Available = decimal.NewFromInt(7)
	err = db.Transaction(func(tx *gorm.DB) error {
		return repo.Save(ctx, tx, &stale)
	})
	assert.ErrorIs(t, err, ErrOptimisticLock)

	_, err = repo.GetByUserID(ctx, 2)
	assert.ErrorIs(t, err, ErrBalanceNotFound)

	ids, err := repo.ListUserIDs(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids)
	ids, err = repo.ListUserIDs(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, ids)
}

func newWithdrawal(no string, userID int64, amount string) *model.Withdrawal {
	amt := decimal.RequireFromString(amount)
	return &model.Withdrawal{
		WithdrawalNo:       no,
		UserID:             userID,
		Amount:             amt,
		Fee:                decimal.Zero,
		NetAmount:          amt,
		DestinationAddress: "addr",
		Status:             model.WithdrawalStatusPending,
		ExpiresAt:          time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
	}
}

func TestWithdrawal_ConditionalStatusUpdate(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewWithdrawalRepository(db)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, nil, newWithdrawal("W1", 1, "30")))

	err := repo.UpdateStatus(ctx, nil, "W1", model.WithdrawalStatusPending, model.WithdrawalStatusApproved, StatusUpdate{})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, repo.UpdateStatus(ctx, nil, "W1", model.WithdrawalStatusPending, model.WithdrawalStatusProcessing, StatusUpdate{ProcessedBy: "ops-1"}))

	// 另一个管理员基于旧状态再处理一次
	err = repo.UpdateStatus(ctx, nil, "W1", model.WithdrawalStatusPending, model.WithdrawalStatusRejected, StatusUpdate{AdminNotes: "dup"})
	assert.ErrorIs(t, err, ErrStatusConflict)

	w, err := repo.GetByNo(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalStatusProcessing, w.Status)
	assert.Equal(t, "ops-1", w.ProcessedBy)
	assert.Empty(t, w.AdminNotes)

	_, err = repo.GetByNo(ctx, "W404")
	assert.ErrorIs(t, err, ErrWithdrawalNotFound)
}

func TestWithdrawal_SumOpenAndExpired(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewWithdrawalRepository(db)
	ctx := context.Background()

	sum, err := repo.SumOpenByUser(ctx, nil, 1)
	require.NoError(t, err)
	assert.True(t, sum.IsZero())

	require.NoError(t, repo.Create(ctx, nil, newWithdrawal("W1", 1, "10")))
	require.NoError(t, repo.Create(ctx, nil, newWithdrawal("W2", 1, "20")))
	require.NoError(t, repo.Create(ctx, nil, newWithdrawal("W3", 1, "40")))
	require.NoError(t, repo.Create(ctx, nil, newWithdrawal("W4", 2, "80")))
	require.NoError(t, repo.UpdateStatus(ctx, nil, "W2", model.WithdrawalStatusPending, model.WithdrawalStatusProcessing, StatusUpdate{}))
	require.NoError(t, repo.UpdateStatus(ctx, nil, "W3", model.WithdrawalStatusPending, model.WithdrawalStatusRejected, StatusUpdate{}))

	sum, err = repo.SumOpenByUser(ctx, nil, 1)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(30)), "sum=%s", sum)

	expired, err := repo.GetExpiredPending(ctx, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), 0, 10)
	require.NoError(t, err)
	var nos []string
	for _, w := range expired {
		nos = append(nos, w.WithdrawalNo)
	}
	assert.Equal(t, []string{"W1", "W4"}, nos)

	expired, err = repo.GetExpiredPending(ctx, time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestReferral_CommissionUniquePerReferrerAndEvent(t *testing.T) {
	db := testutil.NewDB(t)
	repo := NewReferralRepository(db)
	ctx := context.Background()

	_, ok, err := repo.GetReferrer(ctx, nil, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.SetReferrer(ctx, 2, 1))
	require.NoError(t, repo.SetReferrer(ctx, 2, 5))
	referrer, ok, err := repo.GetReferrer(ctx, nil, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 1, referrer)

	c := func() *model.ReferralCommission {
		return &model.ReferralCommission{
			ReferrerUserID:           1,
			RefereeUserID:            2,
			TriggeringEventReference: "dep:o-1",
			SourceKind:               model.CommissionSourceDeposit,
			Level:                    1,
			Rate:                     decimal.RequireFromString("0.05"),
			Amount:                   decimal.NewFromInt(10),
			Status:                   model.CommissionStatusPending,
		}
	}
	first := c()
	require.NoError(t, repo.CreateCommission(ctx, nil, first))
	assert.True(t, IsDuplicateKey(repo.CreateCommission(ctx, nil, c())))

	require.NoError(t, repo.MarkPaid(ctx, nil, first.ID, time.Now()))
	assert.ErrorIs(t, repo.MarkPaid(ctx, nil, first.ID, time.Now()), ErrStatusConflict)

	list, err := repo.ListByReferrer(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.CommissionStatusPaid, list[0].Status)
}
