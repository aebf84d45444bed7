// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"learnsmart-go/internal/config"
	"learnsmart-go/pkg/log"
	"time"

	"github.com/segmentio/kafka-go"
)

// GrowthEvent 是每个轮次落库后发布的成长信号事件，供下游分析消费。
type GrowthEvent struct {
	ChildID        uint     `json:"child_id"`
	ConversationID uint     `json:"conversation_id"`
	Dimensions     []string `json:"dimensions"` // 本轮写入的维度名
	Fallback       bool     `json:"fallback"`
	OccurredAt     int64    `json:"occurred_at"` // unix 毫秒
}

var producer *kafka.Writer

// InitProducer 初始化 Kafka 生产者。brokers 为空时跳过，发布退化为 no-op。
func InitProducer(cfg config.KafkaConfig) {
	if cfg.Brokers == "" {
		log.Info("Kafka brokers 未配置，成长事件发布已禁用")
		return
	}
	producer = &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
}

// PublishGrowthEvent 发送一个成长信号事件。发布失败只记日志，从不影响轮次结果。
func PublishGrowthEvent(ctx context.Context, event GrowthEvent) {
	if producer == nil {
		return
	}
	if event.OccurredAt == 0 {
		event.OccurredAt = time.Now().UnixMilli()
	}
	eventBytes, err := json.Marshal(event)
	if err != nil {
		log.Errorf("无法序列化成长事件: %v", err)
		return
	}
	if err := producer.WriteMessages(ctx, kafka.Message{Value: eventBytes}); err != nil {
		log.Errorf("发布成长事件失败: child=%d, conv=%d, err=%v", event.ChildID, event.ConversationID, err)
	}
}
