// Package event 定义客户端内部事件总线接口和事件名称
package event

// EventType 事件类型，命名格式为 "domain:action"
type EventType string

// 钱包提供者事件，对应浏览器钱包的 accountsChanged / chainChanged
const (
	EventAccountsChanged EventType = "wallet:accountsChanged"
	EventChainChanged    EventType = "wallet:chainChanged"
)

// 会话与业务事件
const (
	EventSessionConnected EventType = "session:connected"
	EventSessionReset     EventType = "session:reset"
	EventTxConfirmed      EventType = "library:txConfirmed"
	EventViewRefreshed    EventType = "library:refreshed"
)

// EventBus 事件总线接口
//
// handler 为任意函数，参数需与 Publish 的参数一一对应。
type EventBus interface {
	Subscribe(eventType EventType, handler interface{}) error
	SubscribeAsync(eventType EventType, handler interface{}, transactional bool) error
	Publish(eventType EventType, args ...interface{})
	Unsubscribe(eventType EventType, handler interface{}) error
	HasCallback(eventType EventType) bool
	// WaitAsync 等待所有异步处理器结束
	WaitAsync()
}
