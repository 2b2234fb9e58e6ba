package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 批处理租约
// ============================================================================
//
// 计息扫描、超时扫描可能被外部调度器在多个实例上同时拉起。
// 正确性由流水表的幂等键保证，租约只是让同一时刻只有一个实例在扫，避免重复劳动。
// 拿不到租约的实例直接跳过本轮；持有者崩溃时租约按 TTL 自动过期。
//
// 加锁：SET key owner NX PX ttl
// 续期：Lua 脚本比较 owner 后再 PEXPIRE，长时间的扫描每处理完一页续一次
// 释放：Lua 脚本比较 owner 后再 DEL，不会误删别人续上的租约
//
// ============================================================================

var ErrNotHeld = errors.New("租约已不属于当前持有者")

// UnlockScript 比较 owner 后删除
const UnlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// ExtendScript 比较 owner 后续期，ARGV[2] 为毫秒
const ExtendScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`

// DistributedLock 基于 Redis 的互斥租约
type DistributedLock struct {
	client     redis.Cmdable
	key        string
	value      string // 持有者标识
	expiration time.Duration
}

func NewDistributedLock(client redis.Cmdable, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// NewSweepLock 按任务名创建扫描租约，owner 建议用实例标识 + 本轮的随机串
func NewSweepLock(client redis.Cmdable, job, owner string, ttl time.Duration) *DistributedLock {
	key := fmt.Sprintf("ledger:sweep:lock:%s", job)
	return NewDistributedLock(client, key, owner, ttl)
}

func (l *DistributedLock) Key() string {
	return l.key
}

// TryLock 非阻塞获取
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Unlock 只释放自己持有的租约
func (l *DistributedLock) Unlock(ctx context.Context) error {
	n, err := l.client.Eval(ctx, UnlockScript, []string{l.key}, l.value).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// Extend 把自己持有的租约续到一个完整的 TTL
func (l *DistributedLock) Extend(ctx context.Context) error {
	n, err := l.client.Eval(ctx, ExtendScript, []string{l.key}, l.value, l.expiration.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
