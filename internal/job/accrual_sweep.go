package job

import (
	"context"
	"sync/atomic"
	"time"

	"investledger/internal/config"
	"investledger/internal/infrastructure/metrics"
	"investledger/internal/repository"
	"investledger/internal/service"
	"investledger/pkg/clock"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	AccrualJobName  = "accrual"
	accrualLeaseTTL = 10 * time.Minute
)

// SweepStats 一轮扫描的统计
type SweepStats struct {
	Scanned   int  `json:"scanned"`
	Succeeded int  `json:"succeeded"`
	Failed    int  `json:"failed"`
	Skipped   bool `json:"skipped"` // 没拿到租约，本轮未执行
}

// AccrualSweep 计息扫描：找出有到期期次的进行中理财，逐个结算
//
// 不同理财之间并发（有界工作池），同一理财的期次在 Settle 里按顺序发放。
// 单个理财失败只记录并跳过，下一轮再试，幂等键保证重复执行无害。
// 租约 TTL 覆盖一页的处理时间，每页处理完续期一次；续期时发现租约已丢就结束本轮。
type AccrualSweep struct {
	investmentSvc  *service.InvestmentService
	investmentRepo *repository.InvestmentRepository
	rdb            redis.Cmdable
	clock          clock.Clock
	workers        int
	batchSize      int
	interval       time.Duration
	stopCh         chan struct{}
	log            *logrus.Entry
}

func NewAccrualSweep(db *gorm.DB, investmentSvc *service.InvestmentService, rdb redis.Cmdable, cfg config.BusinessConfig, clk clock.Clock) *AccrualSweep {
	workers := cfg.AccrualWorkers
	if workers <= 0 {
		workers = 1
	}
	batchSize := cfg.SweepBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &AccrualSweep{
		investmentSvc:  investmentSvc,
		investmentRepo: repository.NewInvestmentRepository(db),
		rdb:            rdb,
		clock:          clk,
		workers:        workers,
		batchSize:      batchSize,
		interval:       cfg.AccrualInterval,
		stopCh:         make(chan struct{}),
		log:            logrus.WithField("job", AccrualJobName),
	}
}

// Start 进程内定时触发；interval 为 0 时由外部调度器调用 ledgerctl，不在这里跑
func (j *AccrualSweep) Start(ctx context.Context) {
	if j.interval <= 0 {
		j.log.Info("未配置进程内计息周期，等待外部调度")
		return
	}
	j.log.Info("计息扫描任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.log.Info("任务停止")
			return
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil {
				j.log.WithError(err).Error("计息扫描失败")
			}
		}
	}
}

func (j *AccrualSweep) Stop() {
	close(j.stopCh)
}

// RunOnce 执行一轮扫描
func (j *AccrualSweep) RunOnce(ctx context.Context) (stats SweepStats, err error) {
	defer func() {
		metrics.ObserveSweep(AccrualJobName, err, j.clock.Now())
	}()

	lease, ok, err := acquireLease(ctx, j.rdb, AccrualJobName, accrualLeaseTTL)
	if err != nil {
		return stats, err
	}
	if !ok {
		j.log.Info("其他实例正在扫描，本轮跳过")
		metrics.SweepRuns.WithLabelValues(AccrualJobName, metrics.ResultSkipped).Inc()
		stats.Skipped = true
		return stats, nil
	}
	defer lease.release()

	now := j.clock.Now()
	var (
		afterID   int64
		succeeded int64
		failed    int64
	)
	for {
		if err := ctx.Err(); err != nil {
			return j.collect(stats, succeeded, failed), err
		}

		due, err := j.investmentRepo.ListDue(ctx, now, afterID, j.batchSize)
		if err != nil {
			return j.collect(stats, succeeded, failed), err
		}
		if len(due) == 0 {
			break
		}
		stats.Scanned += len(due)
		afterID = due[len(due)-1].ID

		var g errgroup.Group
		g.SetLimit(j.workers)
		for _, inv := range due {
			investmentNo := inv.InvestmentNo
			g.Go(func() error {
				res, err := j.investmentSvc.Settle(ctx, investmentNo)
				if err != nil {
					atomic.AddInt64(&failed, 1)
					metrics.SweepItems.WithLabelValues(AccrualJobName, metrics.ResultError).Inc()
					j.log.WithField("investment_no", investmentNo).WithError(err).Warn("结算失败，等待下一轮重试")
					return nil
				}
				atomic.AddInt64(&succeeded, 1)
				metrics.SweepItems.WithLabelValues(AccrualJobName, metrics.ResultOK).Inc()
				if len(res.Accrued) > 0 || res.Completed {
					j.log.WithFields(logrus.Fields{
						"investment_no": investmentNo,
						"periods":       res.Accrued,
						"completed":     res.Completed,
					}).Info("理财结算完成")
				}
				return nil
			})
		}
		_ = g.Wait()

		if len(due) < j.batchSize || !lease.renew(ctx) {
			break
		}
	}

	stats = j.collect(stats, succeeded, failed)
	j.log.WithFields(logrus.Fields{
		"scanned":   stats.Scanned,
		"succeeded": stats.Succeeded,
		"failed":    stats.Failed,
	}).Info("计息扫描结束")
	return stats, nil
}

func (j *AccrualSweep) collect(stats SweepStats, succeeded, failed int64) SweepStats {
	stats.Succeeded = int(atomic.LoadInt64(&succeeded))
	stats.Failed = int(atomic.LoadInt64(&failed))
	return stats
}
