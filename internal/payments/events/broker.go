package events

import (
	"context"
	"errors"
	"strings"
)

var ErrNoResponder = errors.New("events: no responder")

// Handler 处理 request-reply 请求
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

type Broker interface {
	// fire-and-forget
	Publish(ctx context.Context, topic string, payload []byte) error
	// Request 等待一个响应者回复
	Request(ctx context.Context, topic string, payload []byte) ([]byte, error)
	// Handle 注册响应者，ctx 结束后注销
	Handle(ctx context.Context, topic string, h Handler) error
	Close() error
}

func topicToSubject(topic string) string { return strings.ReplaceAll(topic, ":", ".") }
