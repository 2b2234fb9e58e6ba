package repository

import (
	"context"

	"investledger/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Create 追加流水，(kind, reference_id) 冲突时返回唯一索引错误，调用方用 IsDuplicateKey 判断
func (r *LedgerRepository) Create(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry) error {
	return use(r.db, tx).WithContext(ctx).Create(entry).Error
}

// FirstByUserAndKind 用户最早的一条某类流水
func (r *LedgerRepository) FirstByUserAndKind(ctx context.Context, tx *gorm.DB, userID int64, kind string) (*model.LedgerEntry, error) {
	var entry model.LedgerEntry
	err := use(r.db, tx).WithContext(ctx).
		Where("user_id = ? AND kind = ?", userID, kind).
		Order("id ASC").
		First(&entry).Error
	if err != nil {
		return nil, notFound(err, ErrEntryNotFound)
	}
	return &entry, nil
}

func (r *LedgerRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.LedgerEntry, int64, error) {
	var entries []*model.LedgerEntry
	var total int64

	query := r.db.WithContext(ctx).Model(&model.LedgerEntry{}).Where("user_id = ?", userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&entries).Error

	return entries, total, err
}

// KindTotal 按类型和方向聚合的金额
type KindTotal struct {
	Kind      string
	Direction string
	Total     decimal.Decimal
}

// SumByUser 按类型、方向汇总用户全部流水，用于从流水重建余额
// 在内存里用 decimal 累加，不依赖各数据库 SUM 对定点数的处理
// tx 非空时在调用方事务内读取，修复快照时必须和行锁在同一事务
func (r *LedgerRepository) SumByUser(ctx context.Context, tx *gorm.DB, userID int64) ([]KindTotal, error) {
	sums := make(map[[2]string]decimal.Decimal)
	var batch []*model.LedgerEntry
	err := use(r.db, tx).WithContext(ctx).
		Select("id, kind, direction, amount").
		Where("user_id = ?", userID).
		FindInBatches(&batch, 500, func(tx *gorm.DB, _ int) error {
			for _, e := range batch {
				key := [2]string{e.Kind, e.Direction}
				sums[key] = sums[key].Add(e.Amount)
			}
			return nil
		}).Error
	if err != nil {
		return nil, err
	}

	totals := make([]KindTotal, 0, len(sums))
	for key, total := range sums {
		totals = append(totals, KindTotal{Kind: key[0], Direction: key[1], Total: total})
	}
	return totals, nil
}
