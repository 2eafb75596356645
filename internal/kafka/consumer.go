// ========================================
// Kafka 消费者对接说明
// ========================================
//
// ## 消费者 (Consumer) - 本服务订阅的 Topic
//
// 1. Topic: withdraw-review
//    - 生产者: 风控/人工审核后台
//    - 消息内容: WithdrawReviewDecision (提现审核决定)
//    - 处理逻辑: 审核通过推进订单到 APPROVED，驳回则取消并解冻
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

// TopicWithdrawReview 提现审核决定 Topic
// Partition Key: order_no
// 消息格式: model.WithdrawReviewDecision
const TopicWithdrawReview = "withdraw-review"

// ReviewHandler 审核决定处理器
type ReviewHandler interface {
	HandleReviewDecision(ctx context.Context, decision *model.WithdrawReviewDecision) error
}

// Consumer Kafka 消费者
type Consumer struct {
	client  sarama.ConsumerGroup
	handler ReviewHandler
	topics  []string
	groupID string

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
}

// ConsumerConfig 消费者配置
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Handler ReviewHandler
}

// NewConsumer 创建消费者
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Offsets.AutoCommit.Enable = true
	config.Consumer.Offsets.AutoCommit.Interval = time.Second

	client, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, err
	}

	return &Consumer{
		client:  client,
		handler: cfg.Handler,
		topics:  []string{TopicWithdrawReview},
		groupID: cfg.GroupID,
	}, nil
}

// Start 启动消费者
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("consumer already running")
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	handler := &consumerGroupHandler{handler: c.handler}

	go func() {
		for {
			select {
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			default:
			}

			if err := c.client.Consume(ctx, c.topics, handler); err != nil {
				logger.Error("kafka consume error", zap.Error(err))
				time.Sleep(time.Second)
			}
		}
	}()

	logger.Info("kafka consumer started",
		zap.Strings("topics", c.topics),
		zap.String("group_id", c.groupID))

	return nil
}

// Stop 停止消费者
func (c *Consumer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	close(c.stopCh)
	c.running = false
	return c.client.Close()
}

// consumerGroupHandler 消费组处理器
type consumerGroupHandler struct {
	handler ReviewHandler
}

func (h *consumerGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		ctx := context.Background()

		switch msg.Topic {
		case TopicWithdrawReview:
			if err := h.handleReview(ctx, msg.Value); err != nil {
				logger.Error("failed to handle review decision",
					zap.String("topic", msg.Topic),
					zap.Int64("offset", msg.Offset),
					zap.Error(err))
				continue // 继续处理下一条消息
			}

		default:
			logger.Warn("unknown topic", zap.String("topic", msg.Topic))
		}

		session.MarkMessage(msg, "")
	}
	return nil
}

func (h *consumerGroupHandler) handleReview(ctx context.Context, data []byte) error {
	var decision model.WithdrawReviewDecision
	if err := json.Unmarshal(data, &decision); err != nil {
		return err
	}

	logger.Debug("received withdraw review decision",
		zap.String("order_no", decision.OrderNo),
		zap.Bool("approved", decision.Approved))

	return h.handler.HandleReviewDecision(ctx, &decision)
}
