package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

const (
	EventLedgerEntryCreated = "ledger.entry_created"
	EventWithdrawalChanged  = "withdrawal.status_changed"
)

// OutboxMessage 本地消息表
// 和资金变动写在同一个事务里，由 OutboxSender 异步投递到 Kafka，通知类下游只消费消息，不进入资金事务
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(128);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	EventType  string    `gorm:"type:varchar(64);not null" json:"event_type"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// AllTables 需要自动迁移的表
func AllTables() []interface{} {
	return []interface{}{
		&Balance{},
		&LedgerEntry{},
		&Plan{},
		&Investment{},
		&Withdrawal{},
		&UserReferral{},
		&ReferralCommission{},
		&OutboxMessage{},
	}
}
