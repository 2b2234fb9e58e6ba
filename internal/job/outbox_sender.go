package job

import (
	"context"
	"time"

	"investledger/internal/infrastructure/metrics"
	"investledger/internal/model"
	"investledger/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Publisher 消息投递出口
type Publisher interface {
	Send(topic, key, value string) error
}

// OutboxSender 把本地消息表里的事件投递到 Kafka
// 至少投递一次，下游按 entry_no / withdrawal_no 去重
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  Publisher
	maxRetry   int
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
	log        *logrus.Entry
}

func NewOutboxSender(db *gorm.DB, publisher Publisher, maxRetry int) *OutboxSender {
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		maxRetry:   maxRetry,
		stopCh:     make(chan struct{}),
		interval:   100 * time.Millisecond,
		batchSize:  100,
		log:        logrus.WithField("job", "outbox"),
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.log.Info("消息发送任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("收到停止信号，任务退出")
			return
		case <-s.stopCh:
			s.log.Info("任务停止")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// RunOnce 投递一批待发送消息，返回成功和失败条数
func (s *OutboxSender) RunOnce(ctx context.Context) (sent, failed int) {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.WithError(err).Error("查询消息失败")
		return 0, 0
	}

	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		} else {
			failed++
		}
	}
	return sent, failed
}

// RequeueFailed 把已放弃的消息重新放回待投递队列
func (s *OutboxSender) RequeueFailed(ctx context.Context, limit int) (int, error) {
	messages, err := s.outboxRepo.GetFailedMessages(ctx, limit)
	if err != nil {
		return 0, err
	}
	for _, msg := range messages {
		if err := s.outboxRepo.Requeue(ctx, msg.ID); err != nil {
			return 0, err
		}
	}
	return len(messages), nil
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	entry := s.log.WithFields(logrus.Fields{
		"id":    msg.ID,
		"topic": msg.Topic,
		"key":   msg.MessageKey,
	})

	err := s.publisher.Send(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		metrics.OutboxDeliveries.WithLabelValues(metrics.ResultOK).Inc()
		if updateErr := s.outboxRepo.MarkSent(ctx, msg.ID); updateErr != nil {
			entry.WithError(updateErr).Error("更新消息状态失败")
		}
		return true
	}

	metrics.OutboxDeliveries.WithLabelValues(metrics.ResultError).Inc()
	giveUp := msg.RetryCount+1 >= s.maxRetry
	if err := s.outboxRepo.RecordFailure(ctx, msg.ID, giveUp); err != nil {
		entry.WithError(err).Error("记录投递失败次数失败")
	}
	if giveUp {
		entry.WithError(err).Error("消息超过最大重试次数，标记为失败")
	} else {
		entry.WithError(err).Warn("消息发送失败")
	}
	return false
}
