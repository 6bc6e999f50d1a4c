// Package messaging 费用引擎领域事件的 Kafka 发布实现
package messaging

import (
	"context"

	"github.com/primeshares/feeengine/internal/feeengine/domain"
	"github.com/primeshares/feeengine/pkg/mq"
)

const (
	eventTypeFeesCalculated   = "fees.calculated"
	eventTypeScheduleReplaced = "schedule.replaced"
)

// envelope 事件外层结构
type envelope struct {
	EventType string      `json:"event_type"`
	Payload   interface{} `json:"payload"`
}

// KafkaEventPublisher 实现 domain.EventPublisher
type KafkaEventPublisher struct {
	producer *mq.KafkaProducer
	topic    string
}

// NewKafkaEventPublisher 创建事件发布器
func NewKafkaEventPublisher(producer *mq.KafkaProducer, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

// PublishFeesCalculated 发布费用计算完成事件，以交易 ID 作为分区键
func (p *KafkaEventPublisher) PublishFeesCalculated(ctx context.Context, event domain.FeesCalculatedEvent) error {
	return p.producer.SendMessage(ctx, p.topic, event.TransactionID, envelope{
		EventType: eventTypeFeesCalculated,
		Payload:   event,
	})
}

// PublishScheduleReplaced 发布费率表替换事件，以 Deal ID 作为分区键
func (p *KafkaEventPublisher) PublishScheduleReplaced(ctx context.Context, event domain.ScheduleReplacedEvent) error {
	return p.producer.SendMessage(ctx, p.topic, event.DealID, envelope{
		EventType: eventTypeScheduleReplaced,
		Payload:   event,
	})
}

// NopEventPublisher 本地/测试环境禁用事件时的空实现
type NopEventPublisher struct{}

func (NopEventPublisher) PublishFeesCalculated(context.Context, domain.FeesCalculatedEvent) error {
	return nil
}

func (NopEventPublisher) PublishScheduleReplaced(context.Context, domain.ScheduleReplacedEvent) error {
	return nil
}
