package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"investledger/internal/infrastructure/lock"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// leaseOwner 租约持有者标识：主机名 + 本轮随机串
var leaseOwner = func() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s:%s", host, uuid.NewString())
}

// sweepLease 一轮扫描持有的租约，没有配置 Redis 时 l 为空，所有操作直接放行
type sweepLease struct {
	l   *lock.DistributedLock
	job string
}

// acquireLease 获取扫描租约
// 返回 ok=false 表示别的实例正在扫，本轮跳过
func acquireLease(ctx context.Context, rdb redis.Cmdable, job string, ttl time.Duration) (*sweepLease, bool, error) {
	if rdb == nil {
		return &sweepLease{job: job}, true, nil
	}

	l := lock.NewSweepLock(rdb, job, leaseOwner(), ttl)
	ok, err := l.TryLock(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("获取扫描租约失败: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &sweepLease{l: l, job: job}, true, nil
}

// renew 每处理完一页续期一次
// 返回 false 表示租约已经丢了（过期后被别的实例拿走），调用方应结束本轮
// Redis 暂时不可用时只记日志继续扫，重复执行由幂等键兜底
func (s *sweepLease) renew(ctx context.Context) bool {
	if s.l == nil {
		return true
	}
	err := s.l.Extend(ctx)
	if errors.Is(err, lock.ErrNotHeld) {
		logrus.WithField("job", s.job).Warn("扫描租约已被其他实例接管，本轮提前结束")
		return false
	}
	if err != nil {
		logrus.WithField("job", s.job).WithError(err).Warn("扫描租约续期失败")
	}
	return true
}

func (s *sweepLease) release() {
	if s.l == nil {
		return
	}
	// 用独立的 context，调用方取消后也要把租约还回去
	unlockCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.l.Unlock(unlockCtx); err != nil {
		logrus.WithField("job", s.job).WithError(err).Warn("释放扫描租约失败，等待过期")
	}
}
