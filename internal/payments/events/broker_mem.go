package events

import (
	"context"
	"sync"
)

// MemBroker 单进程和测试用。进程内没有订阅方，Publish 的事件直接丢
type MemBroker struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewMemBroker() *MemBroker {
	return &MemBroker{handlers: make(map[string]Handler)}
}

func (b *MemBroker) Publish(context.Context, string, []byte) error { return nil }

func (b *MemBroker) Request(ctx context.Context, topic string, payload []byte) ([]byte, error) {
	b.mu.RLock()
	h := b.handlers[topic]
	b.mu.RUnlock()
	if h == nil {
		return nil, ErrNoResponder
	}
	return h(ctx, payload)
}

func (b *MemBroker) Handle(ctx context.Context, topic string, h Handler) error {
	b.mu.Lock()
	b.handlers[topic] = h
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.handlers, topic)
		b.mu.Unlock()
	}()
	return nil
}

func (b *MemBroker) Close() error { return nil }
