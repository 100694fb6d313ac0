// Package event 基于asaskevich/EventBus的事件总线实现
package event

import (
	"fmt"
	"strings"
	"sync/atomic"

	evbus "github.com/asaskevich/EventBus"
	eventIface "github.com/shelfchain/v1/pkg/interfaces/infrastructure/event"
	"github.com/shelfchain/v1/pkg/interfaces/infrastructure/log"
)

// EventBus 包装 evbus.Bus，增加事件名校验和发布计数
type EventBus struct {
	bus    evbus.Bus
	logger log.Logger

	published atomic.Uint64
}

// New 创建事件总线
func New(logger log.Logger) *EventBus {
	return &EventBus{
		bus:    evbus.New(),
		logger: logger,
	}
}

// ValidateEventName 校验 "domain:action" 格式
func ValidateEventName(eventType eventIface.EventType) error {
	parts := strings.Split(string(eventType), ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("invalid event name %q: expected domain:action", eventType)
	}
	return nil
}

// Subscribe 同步订阅
func (eb *EventBus) Subscribe(eventType eventIface.EventType, handler interface{}) error {
	if err := ValidateEventName(eventType); err != nil {
		return err
	}
	return eb.bus.Subscribe(string(eventType), handler)
}

// SubscribeAsync 异步订阅
func (eb *EventBus) SubscribeAsync(eventType eventIface.EventType, handler interface{}, transactional bool) error {
	if err := ValidateEventName(eventType); err != nil {
		return err
	}
	return eb.bus.SubscribeAsync(string(eventType), handler, transactional)
}

// Publish 发布事件
func (eb *EventBus) Publish(eventType eventIface.EventType, args ...interface{}) {
	eb.published.Add(1)
	if eb.logger != nil {
		eb.logger.Debugf("publish event %s", eventType)
	}
	eb.bus.Publish(string(eventType), args...)
}

// Unsubscribe 取消订阅
func (eb *EventBus) Unsubscribe(eventType eventIface.EventType, handler interface{}) error {
	return eb.bus.Unsubscribe(string(eventType), handler)
}

// HasCallback 是否存在订阅者
func (eb *EventBus) HasCallback(eventType eventIface.EventType) bool {
	return eb.bus.HasCallback(string(eventType))
}

// WaitAsync 等待异步处理完成
func (eb *EventBus) WaitAsync() {
	eb.bus.WaitAsync()
}

// PublishedCount 返回累计发布次数
func (eb *EventBus) PublishedCount() uint64 {
	return eb.published.Load()
}
