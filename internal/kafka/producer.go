// Package kafka 提供 Kafka 生产者和消费者功能
//
// ========================================
// Kafka 生产者对接说明
// ========================================
//
// ## 生产者 (Producer) - 本服务发送的 Topic
//
// 1. Topic: deposit-credited
//    - 消费者: 账务/通知下游
//    - 消息内容: DepositCreditedEvent (充值确认入账事件)
//    - 处理逻辑: 充值确认且账本入账成功后发送
//
// 2. Topic: withdrawal-status
//    - 消费者: 账务/通知下游
//    - 消息内容: WithdrawStatusEvent (提现订单状态变化)
//    - 处理逻辑: 提现订单每次状态迁移后发送
//
// ========================================
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/aether-exchange/aether-custody/internal/model"
	"github.com/aether-exchange/aether-custody/pkg/logger"
)

// Kafka 生产者发送的 Topic
const (
	// TopicDepositCredited 充值入账事件 Topic
	// Partition Key: tx_hash
	// 消息格式: model.DepositCreditedEvent
	TopicDepositCredited = "deposit-credited"

	// TopicWithdrawStatus 提现状态事件 Topic
	// Partition Key: order_no
	// 消息格式: model.WithdrawStatusEvent
	TopicWithdrawStatus = "withdrawal-status"
)

// Producer Kafka 生产者
type Producer struct {
	producer sarama.SyncProducer
	mu       sync.RWMutex
	closed   bool
}

// ProducerConfig 生产者配置
type ProducerConfig struct {
	Brokers      []string
	ClientID     string
	RequiredAcks sarama.RequiredAcks
	MaxRetries   int
	RetryBackoff time.Duration
}

// NewProducer 创建生产者
func NewProducer(cfg *ProducerConfig) (*Producer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.ClientID = cfg.ClientID
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	requiredAcks := cfg.RequiredAcks
	if requiredAcks == 0 {
		requiredAcks = sarama.WaitForAll
	}
	config.Producer.RequiredAcks = requiredAcks

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	config.Producer.Retry.Max = maxRetries

	retryBackoff := cfg.RetryBackoff
	if retryBackoff == 0 {
		retryBackoff = 100 * time.Millisecond
	}
	config.Producer.Retry.Backoff = retryBackoff

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, err
	}

	return &Producer{producer: producer}, nil
}

// Close 关闭生产者
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	return p.producer.Close()
}

// send 发送消息
func (p *Producer) send(topic string, key string, value []byte) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return errors.New("producer is closed")
	}
	p.mu.RUnlock()

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		logger.Error("failed to send kafka message",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(err))
		return err
	}

	logger.Debug("kafka message sent",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))

	return nil
}

// SendDepositCredited 发送充值入账事件
func (p *Producer) SendDepositCredited(ctx context.Context, event *model.DepositCreditedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.send(TopicDepositCredited, event.TxHash, data)
}

// SendWithdrawStatus 发送提现状态事件
func (p *Producer) SendWithdrawStatus(ctx context.Context, event *model.WithdrawStatusEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.send(TopicWithdrawStatus, event.OrderNo, data)
}

// EventPublisher 事件发布器接口
type EventPublisher interface {
	PublishDepositCredited(ctx context.Context, event *model.DepositCreditedEvent) error
	PublishWithdrawStatus(ctx context.Context, event *model.WithdrawStatusEvent) error
}

// KafkaEventPublisher Kafka 事件发布器
type KafkaEventPublisher struct {
	producer *Producer
}

// NewKafkaEventPublisher 创建 Kafka 事件发布器
func NewKafkaEventPublisher(producer *Producer) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer}
}

func (p *KafkaEventPublisher) PublishDepositCredited(ctx context.Context, event *model.DepositCreditedEvent) error {
	return p.producer.SendDepositCredited(ctx, event)
}

func (p *KafkaEventPublisher) PublishWithdrawStatus(ctx context.Context, event *model.WithdrawStatusEvent) error {
	return p.producer.SendWithdrawStatus(ctx, event)
}
