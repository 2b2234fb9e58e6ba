package mq

import (
	"fmt"

	"investledger/internal/config"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// Producer 同步生产者，outbox 投递成功与否以 broker 确认为准
type Producer struct {
	producer sarama.SyncProducer
}

func NewProducer(producer sarama.SyncProducer) *Producer {
	return &Producer{producer: producer}
}

// NewSaramaConfig 生产者配置：所有副本确认才算成功
func NewSaramaConfig() *sarama.Config {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true
	return kafkaConfig
}

// InitKafka 启动时初始化；未配置 broker 时返回 nil，outbox 消息留在表里等待之后投递
func InitKafka(cfg *config.KafkaConfig) *Producer {
	if len(cfg.Brokers) == 0 {
		logrus.Warn("未配置 Kafka broker，outbox 消息暂不投递")
		return nil
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewSaramaConfig())
	if err != nil {
		logrus.Fatalf("创建 Kafka 生产者失败: %v", err)
	}
	logrus.Info("Kafka 生产者创建成功")
	return NewProducer(producer)
}

// Send 发送一条消息，key 相同的消息落在同一分区，保证同一用户的事件有序
func (p *Producer) Send(topic, key, value string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("发送 Kafka 消息失败: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"topic":     topic,
		"key":       key,
		"partition": partition,
		"offset":    offset,
	}).Debug("Kafka 消息已确认")
	return nil
}

func (p *Producer) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
