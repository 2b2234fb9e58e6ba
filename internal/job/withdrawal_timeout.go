package job

import (
	"context"
	"time"

	"investledger/internal/config"
	"investledger/internal/infrastructure/metrics"
	"investledger/internal/service"
	"investledger/pkg/clock"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const (
	WithdrawalTimeoutJobName  = "withdrawal_timeout"
	withdrawalTimeoutLeaseTTL = 2 * time.Minute
)

// WithdrawalTimeoutJob 关闭超过保留时限仍未处理的提现单，释放冻结金额
type WithdrawalTimeoutJob struct {
	withdrawalSvc *service.WithdrawalService
	rdb           redis.Cmdable
	clock         clock.Clock
	interval      time.Duration
	batchSize     int
	stopCh        chan struct{}
	log           *logrus.Entry
}

func NewWithdrawalTimeoutJob(withdrawalSvc *service.WithdrawalService, rdb redis.Cmdable, cfg config.BusinessConfig, clk clock.Clock) *WithdrawalTimeoutJob {
	batchSize := cfg.SweepBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &WithdrawalTimeoutJob{
		withdrawalSvc: withdrawalSvc,
		rdb:           rdb,
		clock:         clk,
		interval:      cfg.WithdrawalTimeoutInterval,
		batchSize:     batchSize,
		stopCh:        make(chan struct{}),
		log:           logrus.WithField("job", WithdrawalTimeoutJobName),
	}
}

func (j *WithdrawalTimeoutJob) Start(ctx context.Context) {
	if j.interval <= 0 {
		j.log.Info("未配置进程内超时扫描周期，等待外部调度")
		return
	}
	j.log.Info("提现超时任务启动")

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
				j.log.WithError(err).Error("提现超时扫描失败")
			}
		}
	}
}

func (j *WithdrawalTimeoutJob) Stop() {
	close(j.stopCh)
}

// RunOnce 执行一轮扫描，直到没有过期的 pending 提现单
func (j *WithdrawalTimeoutJob) RunOnce(ctx context.Context) (stats SweepStats, err error) {
	defer func() {
		metrics.ObserveSweep(WithdrawalTimeoutJobName, err, j.clock.Now())
	}()

	lease, ok, err := acquireLease(ctx, j.rdb, WithdrawalTimeoutJobName, withdrawalTimeoutLeaseTTL)
	if err != nil {
		return stats, err
	}
	if !ok {
		j.log.Info("其他实例正在扫描，本轮跳过")
		metrics.SweepRuns.WithLabelValues(WithdrawalTimeoutJobName, metrics.ResultSkipped).Inc()
		stats.Skipped = true
		return stats, nil
	}
	defer lease.release()

	// 按 id 翻页，失败的单子留在原位，不会挡住后面的过期单
	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		expired, err := j.withdrawalSvc.ListExpired(ctx, afterID, j.batchSize)
		if err != nil {
			return stats, err
		}
		if len(expired) == 0 {
			break
		}
		afterID = expired[len(expired)-1].ID

		for _, w := range expired {
			stats.Scanned++

			if _, err := j.withdrawalSvc.Timeout(ctx, w.WithdrawalNo); err != nil {
				stats.Failed++
				metrics.SweepItems.WithLabelValues(WithdrawalTimeoutJobName, metrics.ResultError).Inc()
				j.log.WithField("withdrawal_no", w.WithdrawalNo).WithError(err).Warn("超时关闭失败")
				continue
			}
			stats.Succeeded++
			metrics.SweepItems.WithLabelValues(WithdrawalTimeoutJobName, metrics.ResultOK).Inc()
		}

		if len(expired) < j.batchSize || !lease.renew(ctx) {
			break
		}
	}

	if stats.Scanned > 0 {
		j.log.WithFields(logrus.Fields{
			"scanned":   stats.Scanned,
			"succeeded": stats.Succeeded,
			"failed":    stats.Failed,
		}).Info("提现超时扫描结束")
	}
	return stats, nil
}
