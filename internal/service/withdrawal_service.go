package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"investledger/internal/config"
	"investledger/internal/infrastructure/metrics"
	"investledger/internal/model"
	"investledger/internal/repository"
	"investledger/pkg/clock"
	"investledger/pkg/idgen"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const timeoutNote = "超过保留时限未处理，自动关闭"

// WithdrawRequest 用户发起提现
type WithdrawRequest struct {
	UserID             int64           `validate:"required,gt=0"`
	Amount             decimal.Decimal `validate:"-"`
	DestinationAddress string          `validate:"required,max=128"`
}

// WithdrawalEvent 提现状态变更事件
type WithdrawalEvent struct {
	WithdrawalNo string          `json:"withdrawal_no"`
	UserID       int64           `json:"user_id"`
	Amount       decimal.Decimal `json:"amount"`
	NetAmount    decimal.Decimal `json:"net_amount"`
	FromStatus   string          `json:"from_status,omitempty"`
	Status       string          `json:"status"`
	AdminNotes   string          `json:"admin_notes,omitempty"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

// WithdrawalService 提现状态机
//
// 创建时冻结金额（不记流水）；审批通过时扣款并释放冻结（记一条 withdrawal 流水）；
// 驳回和超时只释放冻结
type WithdrawalService struct {
	db             *gorm.DB
	balanceSvc     *BalanceService
	withdrawalRepo *repository.WithdrawalRepository
	outboxRepo     *repository.OutboxRepository
	topic          string
	minAmount      decimal.Decimal
	feeRate        decimal.Decimal
	holdDuration   time.Duration
	clock          clock.Clock
}

func NewWithdrawalService(db *gorm.DB, balanceSvc *BalanceService, cfg config.WithdrawalConfig, topic string, clk clock.Clock) *WithdrawalService {
	return &WithdrawalService{
		db:             db,
		balanceSvc:     balanceSvc,
		withdrawalRepo: repository.NewWithdrawalRepository(db),
		outboxRepo:     repository.NewOutboxRepository(db),
		topic:          topic,
		minAmount:      cfg.MinAmountDecimal(),
		feeRate:        cfg.FeeRateDecimal(),
		holdDuration:   cfg.HoldDuration,
		clock:          clk,
	}
}

// Request 创建提现单并冻结金额
func (s *WithdrawalService) Request(ctx context.Context, req WithdrawRequest) (*model.Withdrawal, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if err := checkAmount(req.Amount); err != nil {
		return nil, err
	}
	if req.Amount.LessThan(s.minAmount) {
		return nil, fmt.Errorf("%w: 最低提现金额 %s", ErrAmountOutOfRange, s.minAmount.String())
	}

	fee := req.Amount.Mul(s.feeRate).Truncate(model.AmountScale)
	now := s.clock.Now().UTC()
	w := &model.Withdrawal{
		WithdrawalNo:       idgen.GenerateWithdrawalNo(),
		UserID:             req.UserID,
		Amount:             req.Amount,
		Fee:                fee,
		NetAmount:          req.Amount.Sub(fee),
		DestinationAddress: req.DestinationAddress,
		Status:             model.WithdrawalStatusPending,
		ExpiresAt:          now.Add(s.holdDuration),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.balanceSvc.Hold(ctx, tx, req.UserID, req.Amount); err != nil {
			return err
		}
		if err := s.withdrawalRepo.Create(ctx, tx, w); err != nil {
			return err
		}
		return s.enqueue(ctx, tx, w, "", now)
	})
	if err != nil {
		return nil, translateStoreErr(err)
	}

	s.logTransition(w, "", "")
	return w, nil
}

// StartProcessing pending -> processing，管理员开始处理
func (s *WithdrawalService) StartProcessing(ctx context.Context, withdrawalNo, adminID string) (*model.Withdrawal, error) {
	var w *model.Withdrawal
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		w, err = s.withdrawalRepo.GetByNoForUpdate(ctx, tx, withdrawalNo)
		if err != nil {
			return err
		}
		if w.Status != model.WithdrawalStatusPending {
			return ErrAlreadyProcessed
		}
		now := s.clock.Now().UTC()
		if now.After(w.ExpiresAt) {
			return ErrExpired
		}
		return s.moveTo(ctx, tx, w, model.WithdrawalStatusProcessing, repository.StatusUpdate{ProcessedBy: adminID}, now)
	})
	if err != nil {
		return nil, translateStoreErr(err)
	}

	s.logTransition(w, model.WithdrawalStatusPending, adminID)
	return w, nil
}

// Approve processing -> approved，扣款并释放冻结
// 对已通过的提现单重复审批直接返回，不报错
func (s *WithdrawalService) Approve(ctx context.Context, withdrawalNo, adminID string) (*model.Withdrawal, error) {
	var (
		w       *model.Withdrawal
		changed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		w, err = s.withdrawalRepo.GetByNoForUpdate(ctx, tx, withdrawalNo)
		if err != nil {
			return err
		}
		if w.Status == model.WithdrawalStatusApproved {
			return nil
		}
		if w.Status != model.WithdrawalStatusProcessing {
			return fmt.Errorf("%w: 状态为 %s 的提现单不能审批通过", ErrInvalidStateTransition, w.Status)
		}

		res, err := s.balanceSvc.ApplyTx(ctx, tx, Mutation{
			UserID:        w.UserID,
			Kind:          model.LedgerKindWithdrawal,
			Amount:        w.Amount.Neg(),
			ReferenceID:   w.WithdrawalNo,
			ReleaseLocked: w.Amount,
			Metadata: map[string]interface{}{
				"fee":        w.Fee.String(),
				"net_amount": w.NetAmount.String(),
				"admin_id":   adminID,
			},
		})
		if err != nil {
			return err
		}
		if res.AlreadyApplied {
			return fmt.Errorf("%w: 提现流水已存在但单据未通过", ErrInvalidStateTransition)
		}

		now := s.clock.Now().UTC()
		changed = true
		return s.moveTo(ctx, tx, w, model.WithdrawalStatusApproved, repository.StatusUpdate{
			ProcessedAt: &now,
			ProcessedBy: adminID,
		}, now)
	})
	if err != nil {
		return nil, translateStoreErr(err)
	}

	if changed {
		s.logTransition(w, model.WithdrawalStatusProcessing, adminID)
	} else {
		logrus.WithFields(logrus.Fields{
			"withdrawal_no":   withdrawalNo,
			"already_applied": true,
		}).Info("提现单已审批通过，忽略重复审批")
	}
	return w, nil
}

// Reject pending|processing -> rejected，只释放冻结，不产生流水
func (s *WithdrawalService) Reject(ctx context.Context, withdrawalNo, adminID, reason string) (*model.Withdrawal, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}

	var (
		w    *model.Withdrawal
		from string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		w, err = s.withdrawalRepo.GetByNoForUpdate(ctx, tx, withdrawalNo)
		if err != nil {
			return err
		}
		from = w.Status
		if !model.CanTransitionTo(from, model.WithdrawalStatusRejected) {
			return fmt.Errorf("%w: 状态为 %s 的提现单不能驳回", ErrInvalidStateTransition, from)
		}
		if _, err := s.balanceSvc.Release(ctx, tx, w.UserID, w.Amount); err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		return s.moveTo(ctx, tx, w, model.WithdrawalStatusRejected, repository.StatusUpdate{
			ProcessedAt: &now,
			ProcessedBy: adminID,
			AdminNotes:  reason,
		}, now)
	})
	if err != nil {
		return nil, translateStoreErr(err)
	}

	s.logTransition(w, from, adminID)
	return w, nil
}

// Timeout pending -> timeout，由超时扫描触发，效果与驳回相同
func (s *WithdrawalService) Timeout(ctx context.Context, withdrawalNo string) (*model.Withdrawal, error) {
	var w *model.Withdrawal
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		w, err = s.withdrawalRepo.GetByNoForUpdate(ctx, tx, withdrawalNo)
		if err != nil {
			return err
		}
		if w.Status != model.WithdrawalStatusPending {
			return fmt.Errorf("%w: 状态为 %s 的提现单不能超时关闭", ErrInvalidStateTransition, w.Status)
		}
		now := s.clock.Now().UTC()
		if !now.After(w.ExpiresAt) {
			return fmt.Errorf("%w: 提现单尚未过期", ErrInvalidStateTransition)
		}
		if _, err := s.balanceSvc.Release(ctx, tx, w.UserID, w.Amount); err != nil {
			return err
		}
		return s.moveTo(ctx, tx, w, model.WithdrawalStatusTimeout, repository.StatusUpdate{
			ProcessedAt: &now,
			AdminNotes:  timeoutNote,
		}, now)
	})
	if err != nil {
		return nil, translateStoreErr(err)
	}

	s.logTransition(w, model.WithdrawalStatusPending, "")
	return w, nil
}

// ListExpired 超过保留时限仍为 pending 的提现单，afterID 为上一页最后一条的 id
func (s *WithdrawalService) ListExpired(ctx context.Context, afterID int64, limit int) ([]*model.Withdrawal, error) {
	list, err := s.withdrawalRepo.GetExpiredPending(ctx, s.clock.Now().UTC(), afterID, limit)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return list, nil
}

func (s *WithdrawalService) Get(ctx context.Context, withdrawalNo string) (*model.Withdrawal, error) {
	w, err := s.withdrawalRepo.GetByNo(ctx, withdrawalNo)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return w, nil
}

func (s *WithdrawalService) ListByUser(ctx context.Context, userID int64, page, pageSize int) ([]*model.Withdrawal, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	list, total, err := s.withdrawalRepo.ListByUserID(ctx, userID, page, pageSize)
	if err != nil {
		return nil, 0, translateStoreErr(err)
	}
	return list, total, nil
}

// moveTo 条件更新状态并写入状态变更事件
func (s *WithdrawalService) moveTo(ctx context.Context, tx *gorm.DB, w *model.Withdrawal, to string, upd repository.StatusUpdate, now time.Time) error {
	from := w.Status
	if err := s.withdrawalRepo.UpdateStatus(ctx, tx, w.WithdrawalNo, from, to, upd); err != nil {
		return err
	}
	w.Status = to
	if upd.ProcessedAt != nil {
		w.ProcessedAt = upd.ProcessedAt
	}
	if upd.ProcessedBy != "" {
		w.ProcessedBy = upd.ProcessedBy
	}
	if upd.AdminNotes != "" {
		w.AdminNotes = upd.AdminNotes
	}
	return s.enqueue(ctx, tx, w, from, now)
}

func (s *WithdrawalService) enqueue(ctx context.Context, tx *gorm.DB, w *model.Withdrawal, from string, now time.Time) error {
	event := WithdrawalEvent{
		WithdrawalNo: w.WithdrawalNo,
		UserID:       w.UserID,
		Amount:       w.Amount,
		NetAmount:    w.NetAmount,
		FromStatus:   from,
		Status:       w.Status,
		AdminNotes:   w.AdminNotes,
		OccurredAt:   now,
	}
	return s.outboxRepo.Enqueue(ctx, tx, s.topic, model.EventWithdrawalChanged, strconv.FormatInt(w.UserID, 10), event)
}

func (s *WithdrawalService) logTransition(w *model.Withdrawal, from, adminID string) {
	metrics.WithdrawalTransitions.WithLabelValues(w.Status).Inc()
	logrus.WithFields(logrus.Fields{
		"withdrawal_no": w.WithdrawalNo,
		"user_id":       w.UserID,
		"from":          from,
		"to":            w.Status,
		"admin_id":      adminID,
	}).Info("提现单状态变更")
}
