// Package transport 负责按优先级选择可用的以太坊节点端点
package transport

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/shelfchain/v1/client/core/config"
	"github.com/shelfchain/v1/pkg/interfaces/infrastructure/log"
)

// ErrNoEndpoint 所有端点均不可用
var ErrNoEndpoint = errors.New("no reachable endpoint")

// Node 已连接的节点
type Node struct {
	*ethclient.Client

	Name string
	URL  string
	// ID 拨号时探测到的链 ID
	ID *big.Int
}

// DialOptions 拨号参数
type DialOptions struct {
	Endpoints []config.EndpointConfig
	// ProbeTimeout 单个端点健康探测超时
	ProbeTimeout time.Duration
	Logger       log.Logger
}

// Dial 按优先级依次尝试端点，返回第一个能响应 eth_chainId 的节点
//
// 只在拨号时做一次选择，之后的调用不做故障转移。
func Dial(ctx context.Context, opts DialOptions) (*Node, error) {
	if len(opts.Endpoints) == 0 {
		return nil, fmt.Errorf("no endpoints configured")
	}
	timeout := opts.ProbeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	p := &config.Profile{Endpoints: opts.Endpoints}
	var lastErr error
	for _, ep := range p.SortedEndpoints() {
		url := ep.URL()
		if url == "" {
			continue
		}

		node, err := probe(ctx, ep.Name, url, timeout)
		if err != nil {
			lastErr = err
			if opts.Logger != nil {
				opts.Logger.Warnf("endpoint %s (%s) unavailable: %v", ep.Name, url, err)
			}
			continue
		}
		if opts.Logger != nil {
			opts.Logger.Infof("using endpoint %s chain=%s", ep.Name, node.ID)
		}
		return node, nil
	}

	if lastErr == nil {
		return nil, ErrNoEndpoint
	}
	return nil, fmt.Errorf("%w: %v", ErrNoEndpoint, lastErr)
}

func probe(ctx context.Context, name, url string, timeout time.Duration) (*Node, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := ethclient.DialContext(dialCtx, url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	chainID, err := client.ChainID(dialCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("chain id: %w", err)
	}
	return &Node{Client: client, Name: name, URL: url, ID: chainID}, nil
}

// ChainID 向节点查询当前链 ID
//
// 钱包切链时节点返回的值会变化，ID 只记录拨号时的结果。
func (n *Node) ChainID(ctx context.Context) (*big.Int, error) {
	return n.Client.ChainID(ctx)
}

// Ping 探测当前节点是否可用
func (n *Node) Ping(ctx context.Context) error {
	_, err := n.Client.ChainID(ctx)
	return err
}
