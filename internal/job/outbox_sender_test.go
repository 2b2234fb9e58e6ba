package job

import (
	"context"
	"errors"
	"testing"

	"investledger/internal/infrastructure/mq"
	"investledger/internal/model"

	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outboxStatuses(t *testing.T, f *fixture) []string {
	t.Helper()
	var list []model.OutboxMessage
	require.NoError(t, f.db.Order("id ASC").Find(&list).Error)
	statuses := make([]string, 0, len(list))
	for _, m := range list {
		statuses = append(statuses, m.Status)
	}
	return statuses
}

func TestOutboxSender_DeliversLedgerEvents(t *testing.T) {
	f := newFixture(t)
	f.fund(t, 1, "order-1", "100")
	f.fund(t, 2, "order-2", "50")
	require.Equal(t, []string{model.OutboxStatusPending, model.OutboxStatusPending}, outboxStatuses(t, f))

	producer := mocks.NewSyncProducer(t, mq.NewSaramaConfig())
	producer.ExpectSendMessageAndSucceed()
	producer.ExpectSendMessageAndSucceed()
	defer func() { require.NoError(t, producer.Close()) }()

	sender := NewOutboxSender(f.db, mq.NewProducer(producer), 3)
	sent, failed := sender.RunOnce(context.Background())
	assert.Equal(t, 2, sent)
	assert.Zero(t, failed)
	assert.Equal(t, []string{model.OutboxStatusSent, model.OutboxStatusSent}, outboxStatuses(t, f))

	sent, failed = sender.RunOnce(context.Background())
	assert.Zero(t, sent)
	assert.Zero(t, failed)
}

func TestOutboxSender_GivesUpAndRequeues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, 1, "order-1", "100")

	producer := mocks.NewSyncProducer(t, mq.NewSaramaConfig())
	producer.ExpectSendMessageAndFail(errors.New("broker unavailable"))
	producer.ExpectSendMessageAndFail(errors.New("broker unavailable"))
	producer.ExpectSendMessageAndSucceed()
	defer func() { require.NoError(t, producer.Close()) }()

	sender := NewOutboxSender(f.db, mq.NewProducer(producer), 2)

	_, failed := sender.RunOnce(ctx)
	assert.Equal(t, 1, failed)
	assert.Equal(t, []string{model.OutboxStatusPending}, outboxStatuses(t, f))

	_, failed = sender.RunOnce(ctx)
	assert.Equal(t, 1, failed)
	assert.Equal(t, []string{model.OutboxStatusFailed}, outboxStatuses(t, f))

	// FAILED 的消息不再自动投递
	sent, failed := sender.RunOnce(ctx)
	assert.Zero(t, sent)
	assert.Zero(t, failed)

	n, err := sender.RequeueFailed(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var msg model.OutboxMessage
	require.NoError(t, f.db.First(&msg).Error)
	assert.Equal(t, model.OutboxStatusPending, msg.Status)
	assert.Zero(t, msg.RetryCount)

	sent, _ = sender.RunOnce(ctx)
	assert.Equal(t, 1, sent)
	assert.Equal(t, []string{model.OutboxStatusSent}, outboxStatuses(t, f))
}
