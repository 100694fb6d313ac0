// Package websocket 把会话和视图事件推送给浏览器或脚本
//
// 每条消息是一个 JSON-RPC 2.0 通知：
//
//	{"jsonrpc":"2.0","method":"shelf_event","params":{"subscription":"0x1a2b3c4d","event":"session:reset","result":{...}}}
package websocket

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	logmod "github.com/shelfchain/v1/internal/core/infrastructure/log"
	"github.com/shelfchain/v1/internal/core/library"
	"github.com/shelfchain/v1/pkg/interfaces/infrastructure/event"
	"github.com/shelfchain/v1/pkg/interfaces/infrastructure/log"
	"github.com/shelfchain/v1/pkg/types"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	// sendBuffer 每个连接待发送的消息上限，写满的慢连接会被断开
	sendBuffer = 32
)

// Notification 推送消息
type Notification struct {
	JSONRPC string       `json:"jsonrpc"`
	Method  string       `json:"method"`
	Params  NotifyParams `json:"params"`
}

// NotifyParams 通知参数
type NotifyParams struct {
	Subscription string          `json:"subscription"`
	Event        event.EventType `json:"event"`
	Result       interface{}     `json:"result"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub 管理连接并广播事件
type Hub struct {
	bus      event.EventBus
	logger   log.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}

	handlers map[event.EventType]interface{}
}

// NewHub 创建并订阅事件总线
func NewHub(bus event.EventBus, logger log.Logger) (*Hub, error) {
	h := &Hub{
		bus:    bus,
		logger: logmod.NewModuleLogger(logger, "websocket"),
		upgrader: websocket.Upgrader{
			// 网关只监听本地地址
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*client]struct{}),
	}
	h.handlers = map[event.EventType]interface{}{
		event.EventSessionConnected: func(s types.Session) { h.Broadcast(event.EventSessionConnected, s) },
		event.EventSessionReset:     func(s types.Session) { h.Broadcast(event.EventSessionReset, s) },
		event.EventViewRefreshed:    func(s *library.Snapshot) { h.Broadcast(event.EventViewRefreshed, s) },
		event.EventTxConfirmed:      h.onTxConfirmed,
		event.EventAccountsChanged:  func(accounts []common.Address) { h.Broadcast(event.EventAccountsChanged, accounts) },
		event.EventChainChanged:     func(id uint64) { h.Broadcast(event.EventChainChanged, id) },
	}
	if bus != nil {
		for t, fn := range h.handlers {
			if err := bus.Subscribe(t, fn); err != nil {
				return nil, fmt.Errorf("subscribe %s: %w", t, err)
			}
		}
	}
	return h, nil
}

func (h *Hub) onTxConfirmed(action string, tx common.Hash) {
	h.Broadcast(event.EventTxConfirmed, map[string]string{"action": action, "tx_hash": tx.Hex()})
}

// Close 取消订阅并断开全部连接
func (h *Hub) Close() {
	if h.bus != nil {
		for t, fn := range h.handlers {
			_ = h.bus.Unsubscribe(t, fn)
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// Clients 当前连接数
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast 向所有连接推送事件
func (h *Hub) Broadcast(t event.EventType, result interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		data, err := json.Marshal(Notification{
			JSONRPC: "2.0",
			Method:  "shelf_event",
			Params:  NotifyParams{Subscription: c.id, Event: t, Result: result},
		})
		if err != nil {
			h.logger.Errorf("序列化事件失败 event=%s: %v", t, err)
			return
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warnf("连接发送队列已满，断开 subscription=%s", c.id)
			close(c.send)
			delete(h.clients, c)
		}
	}
}

// Handle 升级为 websocket 连接（gin 处理器）
func (h *Hub) Handle(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warnf("websocket 升级失败: %v", err)
		return
	}
	cl := &client{
		id:   fmt.Sprintf("0x%s", uuid.New().String()[:8]),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	h.mu.Lock()
	h.clients[cl] = struct{}{}
	h.mu.Unlock()
	h.logger.Infof("websocket 已连接 subscription=%s remote=%s", cl.id, conn.RemoteAddr())

	go h.writeLoop(cl)
	h.readLoop(cl)
}

// readLoop 只处理 pong 和关闭，客户端不需要发送消息
func (h *Hub) readLoop(cl *client) {
	defer func() {
		h.remove(cl)
		_ = cl.conn.Close()
	}()
	cl.conn.SetReadLimit(512)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warnf("websocket 异常关闭 subscription=%s: %v", cl.id, err)
			}
			return
		}
	}
}

func (h *Hub) writeLoop(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()
	for {
		select {
		case msg, open := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !open {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debugf("websocket 写入失败 subscription=%s: %v", cl.id, err)
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[cl]; ok {
		close(cl.send)
		delete(h.clients, cl)
	}
	h.logger.Debugf("websocket 已断开 subscription=%s", cl.id)
}
