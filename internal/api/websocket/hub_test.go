package websocket

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	eventbus "github.com/shelfchain/v1/internal/core/infrastructure/event"
	"github.com/shelfchain/v1/pkg/interfaces/infrastructure/event"
	"github.com/shelfchain/v1/pkg/types"
)

func newHubServer(t *testing.T) (*Hub, *eventbus.EventBus, *websocket.Conn) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	bus := eventbus.New(nil)
	hub, err := NewHub(bus, nil)
	require.NoError(t, err)

	router := gin.New()
	router.GET("/events", hub.Handle)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)
	return hub, bus, conn
}

func readNotification(t *testing.T, conn *websocket.Conn) (Notification, json.RawMessage) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var raw struct {
		Notification
		Params struct {
			Subscription string          `json:"subscription"`
			Event        event.EventType `json:"event"`
			Result       json.RawMessage `json:"result"`
		} `json:"params"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	n := Notification{
		JSONRPC: raw.JSONRPC,
		Method:  raw.Method,
		Params:  NotifyParams{Subscription: raw.Params.Subscription, Event: raw.Params.Event},
	}
	return n, raw.Params.Result
}

func TestHub_ForwardsBusEvents(t *testing.T) {
	_, bus, conn := newHubServer(t)

	bus.Publish(event.EventSessionReset, types.Session{State: types.SessionDisconnected})
	n, result := readNotification(t, conn)
	assert.Equal(t, "2.0", n.JSONRPC)
	assert.Equal(t, "shelf_event", n.Method)
	assert.Equal(t, event.EventSessionReset, n.Params.Event)
	assert.True(t, strings.HasPrefix(n.Params.Subscription, "0x"))

	var s types.Session
	require.NoError(t, json.Unmarshal(result, &s))
	assert.Equal(t, types.SessionDisconnected, s.State)
	assert.False(t, s.HasAccount())

	tx := common.HexToHash("0x01")
	bus.Publish(event.EventTxConfirmed, "borrow", tx)
	n, result = readNotification(t, conn)
	assert.Equal(t, event.EventTxConfirmed, n.Params.Event)
	var confirmed map[string]string
	require.NoError(t, json.Unmarshal(result, &confirmed))
	assert.Equal(t, "borrow", confirmed["action"])
	assert.Equal(t, tx.Hex(), confirmed["tx_hash"])
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	hub, bus, conn := newHubServer(t)

	hub.Close()
	assert.Equal(t, 0, hub.Clients())
	assert.False(t, bus.HasCallback(event.EventSessionReset))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
