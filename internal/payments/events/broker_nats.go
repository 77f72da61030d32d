package events

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"adserver.com/pkg/logger"
)

// 响应者处理失败时的回复前缀，请求方据此还原成错误
const errPrefix = "ERR:"

type NatsBroker struct {
	nc *nats.Conn
}

func NewNatsBroker(url string, opts ...nats.Option) (*NatsBroker, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NatsBroker{nc: nc}, nil
}

func (b *NatsBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.nc.Publish(topicToSubject(topic), payload)
}

func (b *NatsBroker) Request(ctx context.Context, topic string, payload []byte) ([]byte, error) {
	msg, err := b.nc.RequestWithContext(ctx, topicToSubject(topic), payload)
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) {
			return nil, ErrNoResponder
		}
		return nil, err
	}
	if len(msg.Data) >= len(errPrefix) && string(msg.Data[:len(errPrefix)]) == errPrefix {
		return nil, errors.New(string(msg.Data[len(errPrefix):]))
	}
	return msg.Data, nil
}

func (b *NatsBroker) Handle(ctx context.Context, topic string, h Handler) error {
	sub, err := b.nc.Subscribe(topicToSubject(topic), func(m *nats.Msg) {
		resp, err := h(ctx, m.Data)
		if err != nil {
			logger.Warn(ctx, "event handler failed", zap.String("topic", topic), zap.Error(err))
			resp = []byte(errPrefix + err.Error())
		}
		if m.Reply == "" {
			return
		}
		if err := b.nc.Publish(m.Reply, resp); err != nil {
			logger.Warn(ctx, "event respond failed", zap.String("topic", topic), zap.Error(err))
		}
	})
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}

func (b *NatsBroker) Close() error {
	if b.nc != nil {
		_ = b.nc.Drain()
		b.nc.Close()
	}
	return nil
}
