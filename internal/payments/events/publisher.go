package events

import (
	"context"
	"time"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"adserver.com/pkg/logger"
)

const (
	TopicServerEvents = "server:events"
	TopicReportExport = "reports:export"
)

const TypePaymentsProcessed = "payments_processed"

// ServerEvent 给 UI 和监控消费，不需要确认
type ServerEvent struct {
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties"`
	At         time.Time              `json:"at"`
}

type Publisher struct {
	broker Broker
	now    func() time.Time
}

func NewPublisher(b Broker) *Publisher {
	return &Publisher{broker: b, now: time.Now}
}

// PaymentsProcessed 每次对账跑完发一次，count 为 0 也发
func (p *Publisher) PaymentsProcessed(ctx context.Context, count int) {
	p.publish(ctx, ServerEvent{
		Type:       TypePaymentsProcessed,
		Properties: map[string]interface{}{"count": count},
		At:         p.now().UTC(),
	})
}

func (p *Publisher) publish(ctx context.Context, ev ServerEvent) {
	raw, err := json.Marshal(ev)
	if err != nil {
		logger.Error(ctx, "marshal server event failed", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	if err := p.broker.Publish(ctx, TopicServerEvents, raw); err != nil {
		logger.Warn(ctx, "publish server event failed", zap.String("type", ev.Type), zap.Error(err))
	}
}
