package app

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
	"github.com/shelfchain/v1/client/core/wallet"
	logconfig "github.com/shelfchain/v1/internal/config/log"
	"github.com/shelfchain/v1/pkg/types"
)

// rpcStub 只应答 eth_chainId 的 JSON-RPC 节点
func rpcStub(t *testing.T, chainID string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if req.Method == "eth_chainId" {
			resp["result"] = chainID
		} else {
			resp["error"] = map[string]interface{}{"code": -32601, "message": "method not found"}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testProfile(t *testing.T, rpcURL string) *config.Profile {
	dir := t.TempDir()
	return &config.Profile{
		Name:              "test",
		ChainID:           config.SepoliaChainID,
		Endpoints:         []config.EndpointConfig{{Name: "stub", Priority: 1, JSONRPC: rpcURL}},
		ContractAddress:   config.DefaultContractAddress,
		ContentGateway:    config.DefaultContentGateway,
		KeystorePath:      dir + "/keystores",
		DataPath:          dir + "/data",
		Timeout:           config.Duration(5 * time.Second),
		MetadataTimeout:   config.Duration(time.Second),
		ReceiptTimeout:    config.Duration(time.Second),
		ChainPollInterval: config.Duration(50 * time.Millisecond),
		HintStore:         config.HintStoreConfig{Backend: "badger"},
		Log:               &logconfig.LogOptions{Level: "error"},
	}
}

func TestStart_AssemblesComponents(t *testing.T) {
	srv := rpcStub(t, "0xaa36a7")
	a, err := Start(context.Background(),
		WithProfile(testProfile(t, srv.URL)),
		WithPrompter(wallet.StaticPrompter{}),
	)
	require.NoError(t, err)
	defer func() { assert.NoError(t, a.Stop()) }()

	c := a.Components()
	require.NotNil(t, c)
	assert.Equal(t, uint64(config.SepoliaChainID), c.Node.ID.Uint64())
	assert.Equal(t, types.SessionDisconnected, c.Sessions.Session().State)
	assert.Equal(t, c.Profile.Contract(), c.Gateway.Address())

	id, err := c.Provider.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(config.SepoliaChainID), id)
}

func TestStart_ConnectWithoutAccounts(t *testing.T) {
	srv := rpcStub(t, "0xaa36a7")
	a, err := Start(context.Background(),
		WithProfile(testProfile(t, srv.URL)),
		WithPrompter(wallet.StaticPrompter{}),
	)
	require.NoError(t, err)
	defer a.Stop()

	_, err = a.Components().Sessions.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.SessionDisconnected, a.Components().Sessions.Session().State)
}

func TestStart_WithAPI(t *testing.T) {
	srv := rpcStub(t, "0xaa36a7")
	a, err := Start(context.Background(),
		WithProfile(testProfile(t, srv.URL)),
		WithPrompter(wallet.StaticPrompter{}),
		WithAPI("127.0.0.1:0"),
	)
	require.NoError(t, err)
	assert.NoError(t, a.Stop())
}

func TestStart_Validation(t *testing.T) {
	_, err := Start(context.Background())
	assert.Error(t, err)

	p := testProfile(t, "http://127.0.0.1:1")
	p.ContractAddress = "not-an-address"
	_, err = Start(context.Background(), WithProfile(p))
	assert.Error(t, err)
}

func TestStart_NoReachableEndpoint(t *testing.T) {
	p := testProfile(t, "http://127.0.0.1:1")
	p.Timeout = config.Duration(500 * time.Millisecond)
	_, err := Start(context.Background(), WithProfile(p), WithPrompter(wallet.StaticPrompter{}))
	assert.Error(t, err)
}
