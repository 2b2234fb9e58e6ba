package idgen

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ============================================================================
// 雪花算法 ID 生成器
// ============================================================================
//
// 业务单号（理财单号、提现单号、流水号）既要全局唯一，又会被拼进幂等键，
// 所以必须在写库之前就能生成，不能依赖数据库自增ID。
//
//   0 - 41位时间戳 - 10位机器ID - 12位序列号
//
// ============================================================================

const (
	epoch          = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	workerIDBits   = 10
	sequenceBits   = 12
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

const (
	PrefixInvestment = "INV"
	PrefixWithdrawal = "WDR"
	PrefixEntry      = "TXN"
)

// Snowflake 雪花算法ID生成器
type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

var (
	defaultGenerator *Snowflake
	once             sync.Once
)

// NewSnowflake 创建独立的生成器
func NewSnowflake(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("workerID 必须在 0-%d 之间", maxWorkerID)
	}
	return &Snowflake{workerID: workerID}, nil
}

// Init 初始化默认ID生成器，多实例部署时每个实例的 workerID 必须不同
func Init(workerID int64) {
	once.Do(func() {
		g, err := NewSnowflake(workerID)
		if err != nil {
			logrus.Fatal(err)
		}
		defaultGenerator = g
	})
}

// NextID 生成下一个ID，未显式 Init 时按 workerID=1 初始化
func NextID() int64 {
	Init(1)
	return defaultGenerator.Generate()
}

// Generate 生成ID
func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < s.timestamp {
		// 时钟回拨，沿用上一次的时间戳继续发号
		now = s.timestamp
	}

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}

	s.timestamp = now

	return ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence
}

// GenerateNo 生成业务单号：前缀 + 完整雪花ID
// 例如：INV1234567890123456789
func GenerateNo(prefix string) string {
	return fmt.Sprintf("%s%d", prefix, NextID())
}

// GenerateInvestmentNo 生成理财单号
func GenerateInvestmentNo() string {
	return GenerateNo(PrefixInvestment)
}

// GenerateWithdrawalNo 生成提现单号
func GenerateWithdrawalNo() string {
	return GenerateNo(PrefixWithdrawal)
}

// GenerateEntryNo 生成流水号
func GenerateEntryNo() string {
	return GenerateNo(PrefixEntry)
}
