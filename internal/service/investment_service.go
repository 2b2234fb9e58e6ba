package service

import (
	"context"
	"fmt"
	"time"

	"investledger/internal/model"
	"investledger/internal/repository"
	"investledger/pkg/clock"
	"investledger/pkg/idgen"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// PurchaseRequest 购买理财
type PurchaseRequest struct {
	UserID int64           `validate:"required,gt=0"`
	PlanID int64           `validate:"required,gt=0"`
	Amount decimal.Decimal `validate:"-"`
}

// SettleResult 一次结算的结果
type SettleResult struct {
	Investment *model.Investment
	Accrued    []int // 本次新发放的期次
	Completed  bool  // 本次由 active 变为 completed
}

// InvestmentService 理财购买、计息与到期
type InvestmentService struct {
	db             *gorm.DB
	balanceSvc     *BalanceService
	referralSvc    *ReferralService
	planRepo       *repository.PlanRepository
	investmentRepo *repository.InvestmentRepository
	period         time.Duration
	clock          clock.Clock
}

func NewInvestmentService(db *gorm.DB, balanceSvc *BalanceService, referralSvc *ReferralService, period time.Duration, clk clock.Clock) *InvestmentService {
	return &InvestmentService{
		db:             db,
		balanceSvc:     balanceSvc,
		referralSvc:    referralSvc,
		planRepo:       repository.NewPlanRepository(db),
		investmentRepo: repository.NewInvestmentRepository(db),
		period:         period,
		clock:          clk,
	}
}

// Purchase 购买理财：扣款、建单和推荐佣金在同一个事务里，佣金失败整笔回滚
func (s *InvestmentService) Purchase(ctx context.Context, req PurchaseRequest) (*model.Investment, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if err := checkAmount(req.Amount); err != nil {
		return nil, err
	}

	plan, err := s.planRepo.GetPlan(ctx, req.PlanID)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	if !plan.IsActive {
		return nil, ErrPlanInactive
	}
	if plan.DurationPeriods <= 0 ||
		(plan.PayoutMode != model.PayoutModePerPeriod && plan.PayoutMode != model.PayoutModeLumpAtMaturity) {
		return nil, fmt.Errorf("%w: 计划条款不完整", ErrPlanInactive)
	}
	if req.Amount.LessThan(plan.MinAmount) || req.Amount.GreaterThan(plan.MaxAmount) {
		return nil, fmt.Errorf("%w: 购买金额须在 %s ~ %s 之间", ErrAmountOutOfRange, plan.MinAmount.String(), plan.MaxAmount.String())
	}

	// 存储层的时间精度不一，起息时间取整到秒，期次边界才能精确反推
	startAt := s.clock.Now().UTC().Truncate(time.Second)
	inv := &model.Investment{
		InvestmentNo:    idgen.GenerateInvestmentNo(),
		UserID:          req.UserID,
		PlanID:          plan.ID,
		AmountInvested:  req.Amount,
		DailyRate:       plan.DailyRate,
		DurationPeriods: plan.DurationPeriods,
		PayoutMode:      plan.PayoutMode,
		ReturnPrincipal: plan.ReturnPrincipal,
		PeriodSeconds:   int64(s.period / time.Second),
		StartAt:         startAt,
		Status:          model.InvestmentStatusActive,
		TotalEarned:     decimal.Zero,
	}
	inv.EndAt = inv.PeriodBoundary(inv.DurationPeriods)
	inv.NextAccrualAt = nextAccrualAt(inv, 0)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.balanceSvc.ApplyTx(ctx, tx, Mutation{
			UserID:      req.UserID,
			Kind:        model.LedgerKindInvestmentPurchase,
			Amount:      req.Amount.Neg(),
			ReferenceID: inv.InvestmentNo,
			Metadata:    map[string]interface{}{"plan_id": plan.ID},
		}); err != nil {
			return err
		}
		if err := s.investmentRepo.Create(ctx, tx, inv); err != nil {
			return err
		}
		if s.referralSvc == nil {
			return nil
		}
		_, err := s.referralSvc.OnInvestmentPurchased(ctx, tx, inv.UserID, inv.InvestmentNo, inv.AmountInvested)
		return err
	})
	if err != nil {
		return nil, translateStoreErr(err)
	}

	logrus.WithFields(logrus.Fields{
		"user_id":       inv.UserID,
		"investment_no": inv.InvestmentNo,
		"plan_id":       inv.PlanID,
		"amount":        inv.AmountInvested.String(),
	}).Info("理财购买成功")
	return inv, nil
}

// Accrue 发放第 periodIndex 期收益
// 期次必须按顺序发放；已发放过的期次直接返回（由幂等键兜底）
func (s *InvestmentService) Accrue(ctx context.Context, investmentNo string, periodIndex int) (*model.Investment, bool, error) {
	var (
		inv     *model.Investment
		applied bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		inv, err = s.investmentRepo.GetByNoForUpdate(ctx, tx, investmentNo)
		if err != nil {
			return err
		}
		if inv.Status != model.InvestmentStatusActive {
			return fmt.Errorf("%w: 理财已结束", ErrInvalidStateTransition)
		}
		if periodIndex < 1 || periodIndex > inv.DurationPeriods {
			return fmt.Errorf("%w: 期次 %d 超出范围", ErrInvalidRequest, periodIndex)
		}
		if periodIndex > inv.DuePeriods(s.clock.Now()) {
			return fmt.Errorf("%w: 第 %d 期尚未到期", ErrInvalidStateTransition, periodIndex)
		}
		if periodIndex > inv.AccruedPeriods()+1 {
			return fmt.Errorf("%w: 须先发放第 %d 期", ErrInvalidStateTransition, inv.AccruedPeriods()+1)
		}
		applied, err = s.accruePeriod(ctx, tx, inv, periodIndex)
		return err
	})
	if err != nil {
		return nil, false, translateStoreErr(err)
	}
	return inv, applied, nil
}

// MaybeComplete 到期则结算：先补发漏掉的期次，再发放到期收益和本金，最后置为 completed
func (s *InvestmentService) MaybeComplete(ctx context.Context, investmentNo string) (*SettleResult, error) {
	return s.Settle(ctx, investmentNo)
}

// Settle 把理财推进到当前时间：按顺序发放所有到期未发的期次，到期则完成
// 整个过程在一个事务里，持有理财单行锁，同一理财单不会被并发结算
func (s *InvestmentService) Settle(ctx context.Context, investmentNo string) (*SettleResult, error) {
	result := &SettleResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := s.investmentRepo.GetByNoForUpdate(ctx, tx, investmentNo)
		if err != nil {
			return err
		}
		result.Investment = inv
		if inv.Status != model.InvestmentStatusActive {
			return nil
		}

		now := s.clock.Now()
		if inv.PayoutMode == model.PayoutModePerPeriod {
			for k := inv.AccruedPeriods() + 1; k <= inv.DuePeriods(now); k++ {
				applied, err := s.accruePeriod(ctx, tx, inv, k)
				if err != nil {
					return err
				}
				if applied {
					result.Accrued = append(result.Accrued, k)
				}
			}
		}

		if !inv.IsMatured(now) {
			return nil
		}
		if err := s.complete(ctx, tx, inv, now); err != nil {
			return err
		}
		result.Completed = true
		return nil
	})
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return result, nil
}

func (s *InvestmentService) Get(ctx context.Context, investmentNo string) (*model.Investment, error) {
	inv, err := s.investmentRepo.GetByNo(ctx, investmentNo)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return inv, nil
}

func (s *InvestmentService) List(ctx context.Context, userID int64) ([]*model.Investment, error) {
	list, err := s.investmentRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return list, nil
}

// accruePeriod 在已锁定理财单的事务里发放一期收益，按期发放模式才会真正入账
func (s *InvestmentService) accruePeriod(ctx context.Context, tx *gorm.DB, inv *model.Investment, k int) (bool, error) {
	if inv.PayoutMode != model.PayoutModePerPeriod {
		return false, nil
	}

	earning := inv.PeriodEarning()
	applied := false
	if earning.IsPositive() {
		res, err := s.balanceSvc.ApplyTx(ctx, tx, Mutation{
			UserID:      inv.UserID,
			Kind:        model.LedgerKindEarning,
			Amount:      earning,
			ReferenceID: model.PeriodReference(inv.InvestmentNo, k),
			Metadata: map[string]interface{}{
				"investment_no": inv.InvestmentNo,
				"period":        k,
			},
		})
		if err != nil {
			return false, err
		}
		applied = !res.AlreadyApplied
	}

	total := inv.TotalEarned
	if applied {
		total = total.Add(earning)
	}
	// 幂等命中的旧期次不回退 last_accrual_at
	accrued := inv.AccruedPeriods()
	if k > accrued {
		accrued = k
	}
	accrualAt := inv.PeriodBoundary(accrued)
	next := nextAccrualAt(inv, accrued)
	if err := s.investmentRepo.RecordAccrual(ctx, tx, inv.ID, total, accrualAt, next); err != nil {
		return false, err
	}

	inv.TotalEarned = total
	inv.LastAccrualAt = &accrualAt
	inv.NextAccrualAt = next

	if applied {
		logrus.WithFields(logrus.Fields{
			"investment_no": inv.InvestmentNo,
			"period":        k,
			"amount":        earning.String(),
		}).Info("收益发放成功")
	}
	return applied, nil
}

func (s *InvestmentService) complete(ctx context.Context, tx *gorm.DB, inv *model.Investment, now time.Time) error {
	if inv.PayoutMode == model.PayoutModeLumpAtMaturity {
		earning := inv.LumpEarning()
		if earning.IsPositive() {
			res, err := s.balanceSvc.ApplyTx(ctx, tx, Mutation{
				UserID:      inv.UserID,
				Kind:        model.LedgerKindEarning,
				Amount:      earning,
				ReferenceID: model.FinalReference(inv.InvestmentNo),
				Metadata: map[string]interface{}{
					"investment_no": inv.InvestmentNo,
					"periods":       inv.DurationPeriods,
				},
			})
			if err != nil {
				return err
			}
			if !res.AlreadyApplied {
				inv.TotalEarned = inv.TotalEarned.Add(earning)
			}
		}
		endAt := inv.EndAt
		if err := s.investmentRepo.RecordAccrual(ctx, tx, inv.ID, inv.TotalEarned, endAt, endAt); err != nil {
			return err
		}
		inv.LastAccrualAt = &endAt
	}

	if inv.ReturnPrincipal {
		if _, err := s.balanceSvc.ApplyTx(ctx, tx, Mutation{
			UserID:      inv.UserID,
			Kind:        model.LedgerKindInvestmentReturn,
			Amount:      inv.AmountInvested,
			ReferenceID: model.PrincipalReference(inv.InvestmentNo),
			Metadata:    map[string]interface{}{"investment_no": inv.InvestmentNo},
		}); err != nil {
			return err
		}
	}

	if err := s.investmentRepo.MarkCompleted(ctx, tx, inv.ID, now); err != nil {
		return err
	}
	inv.Status = model.InvestmentStatusCompleted
	inv.CompletedAt = &now

	logrus.WithFields(logrus.Fields{
		"investment_no": inv.InvestmentNo,
		"total_earned":  inv.TotalEarned.String(),
	}).Info("理财到期完成")
	return nil
}

// nextAccrualAt 已发放到第 accrued 期后，下一次需要调度的时间
// 按期发放取下一期边界，发完最后一期或到期一次性发放都取到期时间
func nextAccrualAt(inv *model.Investment, accrued int) time.Time {
	if inv.PayoutMode != model.PayoutModePerPeriod || accrued >= inv.DurationPeriods {
		return inv.EndAt
	}
	return inv.PeriodBoundary(accrued + 1)
}
