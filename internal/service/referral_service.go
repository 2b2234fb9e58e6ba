package service

import (
	"context"
	"errors"
	"fmt"

	"investledger/internal/config"
	"investledger/internal/model"
	"investledger/internal/repository"
	"investledger/pkg/clock"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// 触发事件的引用前缀，充值和投资的引用各自独立，避免订单号与理财单号撞车
const (
	depositEventPrefix    = "dep:"
	investmentEventPrefix = "inv:"
)

// ReferralService 推荐佣金
// 每一级佣金一个事务：佣金记录 + 入账 + 标记已发放
type ReferralService struct {
	db               *gorm.DB
	balanceSvc       *BalanceService
	referralRepo     *repository.ReferralRepository
	ledgerRepo       *repository.LedgerRepository
	clock            clock.Clock
	depositFirstOnly bool
	depositRates     []decimal.Decimal
	investmentRates  []decimal.Decimal
}

func NewReferralService(db *gorm.DB, balanceSvc *BalanceService, cfg config.ReferralConfig, clk clock.Clock) *ReferralService {
	return &ReferralService{
		db:               db,
		balanceSvc:       balanceSvc,
		referralRepo:     repository.NewReferralRepository(db),
		ledgerRepo:       repository.NewLedgerRepository(db),
		clock:            clk,
		depositFirstOnly: cfg.DepositFirstOnly,
		depositRates:     cfg.DepositRateDecimals(),
		investmentRates:  cfg.InvestmentRateDecimals(),
	}
}

// OnDepositConfirmed 充值到账后发放推荐佣金
// 开启 deposit_first_only 时只有用户最早的一笔充值会触发
// tx 非空时佣金和充值入账在同一个事务里提交，任何一级失败整笔回滚
func (s *ReferralService) OnDepositConfirmed(ctx context.Context, tx *gorm.DB, userID int64, orderRef string, amount decimal.Decimal) ([]*model.ReferralCommission, error) {
	if len(s.depositRates) == 0 {
		return nil, nil
	}
	if s.depositFirstOnly {
		first, err := s.ledgerRepo.FirstByUserAndKind(ctx, tx, userID, model.LedgerKindDeposit)
		if errors.Is(err, repository.ErrEntryNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, translateStoreErr(err)
		}
		if first.ReferenceID == nil || *first.ReferenceID != orderRef {
			return nil, nil
		}
	}
	return s.distribute(ctx, tx, userID, depositEventPrefix+orderRef, model.CommissionSourceDeposit, amount, s.depositRates)
}

// OnInvestmentPurchased 购买理财后发放推荐佣金，tx 语义同 OnDepositConfirmed
func (s *ReferralService) OnInvestmentPurchased(ctx context.Context, tx *gorm.DB, userID int64, investmentNo string, amount decimal.Decimal) ([]*model.ReferralCommission, error) {
	if len(s.investmentRates) == 0 {
		return nil, nil
	}
	return s.distribute(ctx, tx, userID, investmentEventPrefix+investmentNo, model.CommissionSourceInvestment, amount, s.investmentRates)
}

// BindReferrer 同步用户系统的邀请关系，已绑定的用户不会被改绑
func (s *ReferralService) BindReferrer(ctx context.Context, userID, referredBy int64) error {
	if userID <= 0 || referredBy <= 0 || userID == referredBy {
		return fmt.Errorf("%w: 邀请关系不合法", ErrInvalidRequest)
	}
	if err := s.referralRepo.SetReferrer(ctx, userID, referredBy); err != nil {
		return translateStoreErr(err)
	}
	return nil
}

// ListByReferrer 推荐人收到的佣金
func (s *ReferralService) ListByReferrer(ctx context.Context, referrerUserID int64) ([]*model.ReferralCommission, error) {
	list, err := s.referralRepo.ListByReferrer(ctx, referrerUserID)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return list, nil
}

// distribute 沿邀请链向上逐级发放，层级数由费率表长度决定
func (s *ReferralService) distribute(ctx context.Context, tx *gorm.DB, refereeID int64, eventRef, source string, amount decimal.Decimal, rates []decimal.Decimal) ([]*model.ReferralCommission, error) {
	var paid []*model.ReferralCommission
	visited := map[int64]bool{refereeID: true}
	current := refereeID

	for level := 1; level <= len(rates); level++ {
		referrer, ok, err := s.referralRepo.GetReferrer(ctx, tx, current)
		if err != nil {
			return paid, translateStoreErr(err)
		}
		if !ok {
			break
		}
		if visited[referrer] {
			logrus.WithFields(logrus.Fields{
				"referee_user_id": refereeID,
				"referrer":        referrer,
			}).Warn("邀请关系成环，停止向上发放")
			break
		}
		visited[referrer] = true
		current = referrer

		commission := amount.Mul(rates[level-1]).Truncate(model.AmountScale)
		if !commission.IsPositive() {
			continue
		}

		c := &model.ReferralCommission{
			ReferrerUserID:           referrer,
			RefereeUserID:            refereeID,
			TriggeringEventReference: eventRef,
			SourceKind:               source,
			Level:                    level,
			Rate:                     rates[level-1],
			Amount:                   commission,
			Status:                   model.CommissionStatusPending,
		}
		applied, err := s.pay(ctx, tx, c)
		if err != nil {
			return paid, err
		}
		if applied {
			paid = append(paid, c)
		}
	}
	return paid, nil
}

// pay 单级佣金：调用方有事务时走 savepoint，重复事件只回滚这一级
func (s *ReferralService) pay(ctx context.Context, outer *gorm.DB, c *model.ReferralCommission) (bool, error) {
	db := outer
	if db == nil {
		db = s.db.WithContext(ctx)
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := s.referralRepo.CreateCommission(ctx, tx, c); err != nil {
			if repository.IsDuplicateKey(err) {
				return errDuplicateEntry
			}
			return err
		}

		_, err := s.balanceSvc.ApplyTx(ctx, tx, Mutation{
			UserID:      c.ReferrerUserID,
			Kind:        model.LedgerKindReferralCommission,
			Amount:      c.Amount,
			ReferenceID: model.CommissionReference(c.TriggeringEventReference, c.ReferrerUserID, c.Level),
			Metadata: map[string]interface{}{
				"referee_user_id": c.RefereeUserID,
				"level":           c.Level,
				"source":          c.SourceKind,
			},
		})
		if err != nil {
			return err
		}

		paidAt := s.clock.Now()
		if err := s.referralRepo.MarkPaid(ctx, tx, c.ID, paidAt); err != nil {
			return err
		}
		c.Status = model.CommissionStatusPaid
		c.PaidAt = &paidAt
		return nil
	})

	if errors.Is(err, errDuplicateEntry) {
		logrus.WithFields(logrus.Fields{
			"referrer_user_id": c.ReferrerUserID,
			"event_reference":  c.TriggeringEventReference,
			"already_applied":  true,
		}).Info("佣金已发放，忽略重复事件")
		return false, nil
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"referrer_user_id": c.ReferrerUserID,
			"event_reference":  c.TriggeringEventReference,
		}).WithError(err).Warn("佣金发放失败")
		return false, translateStoreErr(err)
	}

	logrus.WithFields(logrus.Fields{
		"referrer_user_id": c.ReferrerUserID,
		"referee_user_id":  c.RefereeUserID,
		"level":            c.Level,
		"amount":           c.Amount.String(),
	}).Info("佣金发放成功")
	return true, nil
}
