package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfchain/v1/client/core/config"
	"github.com/shelfchain/v1/client/core/contract"
	"github.com/shelfchain/v1/client/core/wallet"
)

// Node 直接作为合约网关和钱包的链后端
var (
	_ contract.Backend   = (*Node)(nil)
	_ wallet.ChainReader = (*Node)(nil)
)

// newRPCServer 返回一个只响应 eth_chainId 的 JSON-RPC 服务
func newRPCServer(t *testing.T, chainHex string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if req.Method == "eth_chainId" {
			resp["result"] = chainHex
		} else {
			resp["error"] = map[string]interface{}{"code": -32601, "message": "method not found"}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDial_PicksFirstHealthyByPriority(t *testing.T) {
	healthy := newRPCServer(t, "0xaa36a7")
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(dead.Close)

	node, err := Dial(context.Background(), DialOptions{
		Endpoints: []config.EndpointConfig{
			{Name: "backup", Priority: 2, JSONRPC: healthy.URL},
			{Name: "primary", Priority: 1, JSONRPC: dead.URL},
		},
		ProbeTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	defer node.Close()

	assert.Equal(t, "backup", node.Name)
	assert.Equal(t, uint64(11155111), node.ID.Uint64())
	id, err := node.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, node.ID, id)
	assert.NoError(t, node.Ping(context.Background()))
}

func TestDial_AllUnavailable(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(dead.Close)

	_, err := Dial(context.Background(), DialOptions{
		Endpoints: []config.EndpointConfig{{Name: "dead", Priority: 1, JSONRPC: dead.URL}},
	})
	assert.ErrorIs(t, err, ErrNoEndpoint)

	_, err = Dial(context.Background(), DialOptions{})
	assert.Error(t, err)
}
