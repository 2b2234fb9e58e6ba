package service

import (
	"context"

	"investledger/internal/model"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DepositService 接收支付渠道的到账通知
type DepositService struct {
	db          *gorm.DB
	balanceSvc  *BalanceService
	referralSvc *ReferralService
}

func NewDepositService(db *gorm.DB, balanceSvc *BalanceService, referralSvc *ReferralService) *DepositService {
	return &DepositService{
		db:          db,
		balanceSvc:  balanceSvc,
		referralSvc: referralSvc,
	}
}

// NotifyDepositConfirmed 充值到账，按 orderRef 幂等，渠道重复回调只会入账一次
//
// 入账和推荐佣金在同一个事务里：佣金发放失败时整笔回滚并把错误返回给渠道，
// 由渠道重试回调；重复回调时入账和佣金都命中幂等键，不会重复发放
func (s *DepositService) NotifyDepositConfirmed(ctx context.Context, userID int64, orderRef string, amount decimal.Decimal) (*Result, error) {
	if orderRef == "" {
		return nil, ErrReferenceRequired
	}
	m := Mutation{
		UserID:      userID,
		Kind:        model.LedgerKindDeposit,
		Amount:      amount,
		ReferenceID: orderRef,
	}
	if err := checkMutation(m); err != nil {
		return nil, err
	}

	var res *Result
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if res, err = s.balanceSvc.ApplyTx(ctx, tx, m); err != nil {
			return err
		}
		if s.referralSvc == nil || res.AlreadyApplied {
			return nil
		}
		_, err = s.referralSvc.OnDepositConfirmed(ctx, tx, userID, orderRef, amount)
		return err
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"user_id":      userID,
			"reference_id": orderRef,
		}).WithError(err).Warn("充值入账失败，等待渠道重试回调")
		return nil, translateStoreErr(err)
	}
	return res, nil
}
