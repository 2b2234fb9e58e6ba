package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"investledger/internal/infrastructure/metrics"
	"investledger/internal/model"
	"investledger/internal/repository"
	"investledger/pkg/idgen"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// errDuplicateEntry 事务内部使用：撞了 (kind, reference_id) 唯一索引，需要回滚
var errDuplicateEntry = errors.New("duplicate ledger entry")

var errLockedUnderflow = fmt.Errorf("%w: 冻结余额不足以释放", ErrInvalidStateTransition)

// Mutation 一次余额变动
// Amount 带符号：正数入账，负数出账；ReleaseLocked 为同一事务内先从冻结余额释放回可用的金额
type Mutation struct {
	UserID        int64
	Kind          string
	Amount        decimal.Decimal
	ReferenceID   string
	Metadata      map[string]interface{}
	ReleaseLocked decimal.Decimal
}

// Result 变动结果，AlreadyApplied 表示幂等键已存在，本次没有产生任何变动
type Result struct {
	Balance        *model.Balance
	Entry          *model.LedgerEntry
	AlreadyApplied bool
}

// LedgerEvent 流水事件，经 outbox 投递给通知类下游
type LedgerEvent struct {
	EntryNo      string          `json:"entry_no"`
	UserID       int64           `json:"user_id"`
	Kind         string          `json:"kind"`
	Direction    string          `json:"direction"`
	Amount       decimal.Decimal `json:"amount"`
	ReferenceID  string          `json:"reference_id,omitempty"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	CreatedAt    time.Time       `json:"created_at"`
}

// BalanceService 余额的唯一修改入口
// 任何对 available 的修改都必须和一条流水写在同一个事务里
type BalanceService struct {
	db             *gorm.DB
	balanceRepo    *repository.BalanceRepository
	ledgerRepo     *repository.LedgerRepository
	withdrawalRepo *repository.WithdrawalRepository
	outboxRepo     *repository.OutboxRepository
	topic          string
}

func NewBalanceService(db *gorm.DB, topic string) *BalanceService {
	return &BalanceService{
		db:             db,
		balanceRepo:    repository.NewBalanceRepository(db),
		ledgerRepo:     repository.NewLedgerRepository(db),
		withdrawalRepo: repository.NewWithdrawalRepository(db),
		outboxRepo:     repository.NewOutboxRepository(db),
		topic:          topic,
	}
}

// Apply 在独立事务里执行一次余额变动
func (s *BalanceService) Apply(ctx context.Context, m Mutation) (*Result, error) {
	if err := checkMutation(m); err != nil {
		metrics.LedgerMutations.WithLabelValues(m.Kind, metrics.ResultRejected).Inc()
		return nil, err
	}

	var res *Result
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = s.apply(ctx, tx, m)
		return err
	})
	if errors.Is(err, errDuplicateEntry) {
		return s.alreadyApplied(ctx, nil, m)
	}
	if err != nil {
		return nil, s.fail(m, err)
	}

	s.applied(m, res)
	return res, nil
}

// ApplyTx 加入调用方的事务执行余额变动，用于需要和其他写操作保持原子性的组合操作
// 内部使用 savepoint，幂等命中时只回滚本次变动，不影响调用方事务
func (s *BalanceService) ApplyTx(ctx context.Context, tx *gorm.DB, m Mutation) (*Result, error) {
	if err := checkMutation(m); err != nil {
		metrics.LedgerMutations.WithLabelValues(m.Kind, metrics.ResultRejected).Inc()
		return nil, err
	}

	var res *Result
	err := tx.Transaction(func(sp *gorm.DB) error {
		var err error
		res, err = s.apply(ctx, sp, m)
		return err
	})
	if errors.Is(err, errDuplicateEntry) {
		return s.alreadyApplied(ctx, tx, m)
	}
	if err != nil {
		return nil, s.fail(m, err)
	}

	s.applied(m, res)
	return res, nil
}

func (s *BalanceService) apply(ctx context.Context, tx *gorm.DB, m Mutation) (*Result, error) {
	if err := s.balanceRepo.EnsureExists(ctx, tx, m.UserID); err != nil {
		return nil, err
	}
	balance, err := s.balanceRepo.GetForUpdate(ctx, tx, m.UserID)
	if err != nil {
		return nil, err
	}
	available := balance.Available

	if m.ReleaseLocked.IsPositive() {
		if balance.Locked.LessThan(m.ReleaseLocked) {
			return nil, errLockedUnderflow
		}
		balance.Locked = balance.Locked.Sub(m.ReleaseLocked)
		balance.Available = balance.Available.Add(m.ReleaseLocked)
	}

	entry := &model.LedgerEntry{
		EntryNo:       idgen.GenerateEntryNo(),
		UserID:        m.UserID,
		Kind:          m.Kind,
		Direction:     directionOf(m.Amount),
		Amount:        m.Amount.Abs(),
		BalanceBefore: balance.Available,
	}
	if m.ReferenceID != "" {
		ref := m.ReferenceID
		entry.ReferenceID = &ref
	}
	if len(m.Metadata) > 0 {
		meta, err := json.Marshal(m.Metadata)
		if err != nil {
			return nil, fmt.Errorf("序列化流水附加信息失败: %w", err)
		}
		entry.Metadata = string(meta)
	}

	balance.ApplyEntry(entry)
	entry.BalanceAfter = balance.Available

	// 先写流水：重复请求在这里撞唯一索引，不会走到余额校验
	if err := s.ledgerRepo.Create(ctx, tx, entry); err != nil {
		if repository.IsDuplicateKey(err) {
			return nil, errDuplicateEntry
		}
		return nil, err
	}

	if balance.Available.IsNegative() {
		return nil, &InsufficientFundsError{Available: available, Required: entry.Amount}
	}

	if err := s.balanceRepo.Save(ctx, tx, balance); err != nil {
		return nil, err
	}

	event := LedgerEvent{
		EntryNo:      entry.EntryNo,
		UserID:       entry.UserID,
		Kind:         entry.Kind,
		Direction:    entry.Direction,
		Amount:       entry.Amount,
		ReferenceID:  m.ReferenceID,
		BalanceAfter: entry.BalanceAfter,
		CreatedAt:    entry.CreatedAt,
	}
	if err := s.outboxRepo.Enqueue(ctx, tx, s.topic, model.EventLedgerEntryCreated, strconv.FormatInt(m.UserID, 10), event); err != nil {
		return nil, err
	}

	return &Result{Balance: balance, Entry: entry}, nil
}

// alreadyApplied 幂等命中：不返回错误，只返回当前余额
func (s *BalanceService) alreadyApplied(ctx context.Context, tx *gorm.DB, m Mutation) (*Result, error) {
	metrics.LedgerMutations.WithLabelValues(m.Kind, metrics.ResultDuplicate).Inc()
	logrus.WithFields(logrus.Fields{
		"user_id":         m.UserID,
		"kind":            m.Kind,
		"reference_id":    m.ReferenceID,
		"already_applied": true,
	}).Info("幂等键已存在，忽略重复变动")

	var (
		balance *model.Balance
		err     error
	)
	if tx != nil {
		balance, err = s.balanceRepo.GetForUpdate(ctx, tx, m.UserID)
	} else {
		balance, err = s.balanceRepo.GetByUserID(ctx, m.UserID)
	}
	if errors.Is(err, repository.ErrBalanceNotFound) {
		// 幂等键被别的用户占用，当前用户还没有余额行
		balance, err = zeroBalance(m.UserID), nil
	}
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return &Result{Balance: balance, AlreadyApplied: true}, nil
}

func (s *BalanceService) applied(m Mutation, res *Result) {
	metrics.LedgerMutations.WithLabelValues(m.Kind, metrics.ResultApplied).Inc()
	logrus.WithFields(logrus.Fields{
		"user_id":      m.UserID,
		"kind":         m.Kind,
		"reference_id": m.ReferenceID,
		"amount":       m.Amount.String(),
		"available":    res.Balance.Available.String(),
	}).Debug("余额变动成功")
}

func (s *BalanceService) fail(m Mutation, err error) error {
	if errors.Is(err, ErrInsufficientFunds) {
		metrics.LedgerMutations.WithLabelValues(m.Kind, metrics.ResultRejected).Inc()
		return err
	}
	metrics.LedgerMutations.WithLabelValues(m.Kind, metrics.ResultError).Inc()
	logrus.WithFields(logrus.Fields{
		"user_id":      m.UserID,
		"kind":         m.Kind,
		"reference_id": m.ReferenceID,
	}).WithError(err).Warn("余额变动失败")
	return translateStoreErr(err)
}

// Hold 冻结：available -> locked，不产生流水（钱还没有离开系统）
func (s *BalanceService) Hold(ctx context.Context, tx *gorm.DB, userID int64, amount decimal.Decimal) (*model.Balance, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	if err := s.balanceRepo.EnsureExists(ctx, tx, userID); err != nil {
		return nil, translateStoreErr(err)
	}
	balance, err := s.balanceRepo.GetForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	if balance.Available.LessThan(amount) {
		return nil, &InsufficientFundsError{Available: balance.Available, Required: amount}
	}

	balance.Available = balance.Available.Sub(amount)
	balance.Locked = balance.Locked.Add(amount)
	if err := s.balanceRepo.Save(ctx, tx, balance); err != nil {
		return nil, translateStoreErr(err)
	}
	return balance, nil
}

// Release 解冻：locked -> available，同样不产生流水
func (s *BalanceService) Release(ctx context.Context, tx *gorm.DB, userID int64, amount decimal.Decimal) (*model.Balance, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	balance, err := s.balanceRepo.GetForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	if balance.Locked.LessThan(amount) {
		return nil, errLockedUnderflow
	}

	balance.Locked = balance.Locked.Sub(amount)
	balance.Available = balance.Available.Add(amount)
	if err := s.balanceRepo.Save(ctx, tx, balance); err != nil {
		return nil, translateStoreErr(err)
	}
	return balance, nil
}

// GetBalance 查询余额，没有发生过资金事件的用户返回全零快照
func (s *BalanceService) GetBalance(ctx context.Context, userID int64) (*model.Balance, error) {
	balance, err := s.balanceRepo.GetByUserID(ctx, userID)
	if errors.Is(err, repository.ErrBalanceNotFound) {
		return zeroBalance(userID), nil
	}
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return balance, nil
}

func (s *BalanceService) ListLedger(ctx context.Context, userID int64, page, pageSize int) ([]*model.LedgerEntry, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	entries, total, err := s.ledgerRepo.ListByUserID(ctx, userID, page, pageSize)
	if err != nil {
		return nil, 0, translateStoreErr(err)
	}
	return entries, total, nil
}

// Drift 快照与流水重建结果的差异
type Drift struct {
	UserID   int64          `json:"user_id"`
	Snapshot *model.Balance `json:"snapshot"`
	Derived  *model.Balance `json:"derived"`
	InSync   bool           `json:"in_sync"`
	Repaired bool           `json:"repaired"`
}

// RecomputeFromLedger 由流水和未完结提现单重建余额快照
// available = 流水带符号合计 - 冻结金额；locked = pending/processing 提现单合计
func (s *BalanceService) RecomputeFromLedger(ctx context.Context, userID int64) (*model.Balance, error) {
	derived, err := s.recompute(ctx, nil, userID)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return derived, nil
}

func (s *BalanceService) recompute(ctx context.Context, tx *gorm.DB, userID int64) (*model.Balance, error) {
	totals, err := s.ledgerRepo.SumByUser(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	locked, err := s.withdrawalRepo.SumOpenByUser(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	derived := zeroBalance(userID)
	for _, t := range totals {
		derived.ApplyEntry(&model.LedgerEntry{Kind: t.Kind, Direction: t.Direction, Amount: t.Total})
	}
	derived.Available = derived.Available.Sub(locked)
	derived.Locked = locked
	return derived, nil
}

// Reconcile 对比快照和流水，repair=true 时用重建结果覆盖快照
func (s *BalanceService) Reconcile(ctx context.Context, userID int64, repair bool) (*Drift, error) {
	snapshot, err := s.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	derived, err := s.RecomputeFromLedger(ctx, userID)
	if err != nil {
		return nil, err
	}

	drift := &Drift{UserID: userID, Snapshot: snapshot, Derived: derived, InSync: snapshot.SameAs(derived)}
	if drift.InSync || !repair {
		if !drift.InSync {
			logrus.WithFields(logrus.Fields{
				"user_id":            userID,
				"snapshot_available": snapshot.Available.String(),
				"derived_available":  derived.Available.String(),
				"snapshot_locked":    snapshot.Locked.String(),
				"derived_locked":     derived.Locked.String(),
			}).Warn("余额快照与流水不一致")
		}
		return drift, nil
	}

	repaired := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.balanceRepo.EnsureExists(ctx, tx, userID); err != nil {
			return err
		}
		current, err := s.balanceRepo.GetForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		// 持锁后重新汇总，锁外算出的结果可能漏掉刚提交的流水
		derived, err = s.recompute(ctx, tx, userID)
		if err != nil {
			return err
		}
		locked := *current
		drift.Snapshot = &locked
		drift.Derived = derived
		if locked.SameAs(derived) {
			return nil
		}
		repaired = true
		current.Available = derived.Available
		current.Locked = derived.Locked
		current.TotalDeposited = derived.TotalDeposited
		current.TotalWithdrawn = derived.TotalWithdrawn
		current.TotalEarned = derived.TotalEarned
		return s.balanceRepo.Save(ctx, tx, current)
	})
	if err != nil {
		return nil, translateStoreErr(err)
	}

	if !repaired {
		drift.InSync = true
		return drift, nil
	}
	drift.Repaired = true
	logrus.WithFields(logrus.Fields{
		"user_id":   userID,
		"available": drift.Derived.Available.String(),
		"locked":    drift.Derived.Locked.String(),
	}).Warn("已按流水修复余额快照")
	return drift, nil
}

// ReconcileAll 按 user_id 翻页逐个对账，返回不一致的用户
func (s *BalanceService) ReconcileAll(ctx context.Context, repair bool, batchSize int) ([]*Drift, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	var (
		drifts []*Drift
		after  int64
	)
	for {
		ids, err := s.balanceRepo.ListUserIDs(ctx, after, batchSize)
		if err != nil {
			return drifts, translateStoreErr(err)
		}
		for _, id := range ids {
			drift, err := s.Reconcile(ctx, id, repair)
			if err != nil {
				return drifts, err
			}
			if !drift.InSync {
				drifts = append(drifts, drift)
			}
		}
		if len(ids) < batchSize {
			return drifts, nil
		}
		after = ids[len(ids)-1]
	}
}

// AdjustRequest 人工调账
type AdjustRequest struct {
	UserID      int64           `validate:"required,gt=0"`
	Amount      decimal.Decimal `validate:"-"`
	ReferenceID string          `validate:"required,max=128"`
	Note        string          `validate:"required,max=512"`
	AdminID     string          `validate:"required,max=64"`
}

// AdjustBalance 管理员调账，Amount 为正加款、为负扣款，ReferenceID 保证同一笔调账只执行一次
func (s *BalanceService) AdjustBalance(ctx context.Context, req AdjustRequest) (*Result, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	return s.Apply(ctx, Mutation{
		UserID:      req.UserID,
		Kind:        model.LedgerKindAdminAdjustment,
		Amount:      req.Amount,
		ReferenceID: req.ReferenceID,
		Metadata: map[string]interface{}{
			"note":     req.Note,
			"admin_id": req.AdminID,
		},
	})
}

func checkMutation(m Mutation) error {
	if m.UserID <= 0 {
		return fmt.Errorf("%w: 用户ID不合法", ErrInvalidRequest)
	}
	if !model.IsValidLedgerKind(m.Kind) {
		return fmt.Errorf("%w: 未知流水类型 %s", ErrInvalidRequest, m.Kind)
	}
	if err := checkAmount(m.Amount.Abs()); err != nil {
		return err
	}
	if !model.DirectionAllowed(m.Kind, directionOf(m.Amount)) {
		return fmt.Errorf("%w: %s 类型流水方向不正确", ErrInvalidAmount, m.Kind)
	}
	if model.RequiresReference(m.Kind) && m.ReferenceID == "" {
		return ErrReferenceRequired
	}
	if m.ReleaseLocked.IsNegative() {
		return fmt.Errorf("%w: 释放金额不能为负", ErrInvalidAmount)
	}
	return nil
}

func directionOf(amount decimal.Decimal) string {
	if amount.IsNegative() {
		return model.DirectionOut
	}
	return model.DirectionIn
}

func zeroBalance(userID int64) *model.Balance {
	return &model.Balance{
		UserID:         userID,
		Available:      decimal.Zero,
		Locked:         decimal.Zero,
		TotalDeposited: decimal.Zero,
		TotalWithdrawn: decimal.Zero,
		TotalEarned:    decimal.Zero,
	}
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
