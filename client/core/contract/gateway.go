// Package contract 封装对图书馆合约的只读调用和写交易
package contract

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	logimpl "github.com/shelfchain/v1/internal/core/infrastructure/log"
	"github.com/shelfchain/v1/internal/core/infrastructure/metrics"
	"github.com/shelfchain/v1/pkg/interfaces/infrastructure/log"
)

// Backend 节点能力的最小集合，*ethclient.Client 满足该接口
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// TxSigner 交易签名者，由钱包提供
type TxSigner interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// SendOpts 写交易参数
type SendOpts struct {
	Signer TxSigner
	// Value 随交易发送的 wei，nil 表示 0
	Value *big.Int
}

// Receipt 交易回执摘要
type Receipt struct {
	TxHash      common.Hash `json:"tx_hash"`
	Status      uint64      `json:"status"`
	BlockNumber uint64      `json:"block_number"`
	GasUsed     uint64      `json:"gas_used"`
}

// Config 网关配置
type Config struct {
	Address        common.Address
	Logger         log.Logger
	Metrics        *metrics.Collectors
	ReceiptPoll    time.Duration
	ReceiptTimeout time.Duration
}

// Gateway 合约网关
//
// 每次调用都直接访问节点，不缓存、不重试。
type Gateway struct {
	backend Backend
	address common.Address
	abi     abi.ABI
	logger  log.Logger
	metrics *metrics.Collectors

	receiptPoll    time.Duration
	receiptTimeout time.Duration

	chainMu sync.Mutex
	chainID *big.Int
}

// NewGateway 创建使用当前 ABI 的网关
func NewGateway(backend Backend, cfg Config) *Gateway {
	return newGateway(backend, parsedLibrary, cfg, "contract")
}

func newGateway(backend Backend, parsed abi.ABI, cfg Config, module string) *Gateway {
	g := &Gateway{
		backend:        backend,
		address:        cfg.Address,
		abi:            parsed,
		logger:         logimpl.NewModuleLogger(cfg.Logger, module),
		metrics:        cfg.Metrics,
		receiptPoll:    cfg.ReceiptPoll,
		receiptTimeout: cfg.ReceiptTimeout,
	}
	if g.receiptPoll <= 0 {
		g.receiptPoll = 2 * time.Second
	}
	if g.receiptTimeout <= 0 {
		g.receiptTimeout = 3 * time.Minute
	}
	return g
}

// Address 合约地址
func (g *Gateway) Address() common.Address {
	return g.address
}

// ABI 返回网关使用的 ABI
func (g *Gateway) ABI() abi.ABI {
	return g.abi
}

// Call 执行只读调用并按 ABI 解码返回值
func (g *Gateway) Call(ctx context.Context, method string, args ...interface{}) (out []interface{}, err error) {
	started := time.Now()
	defer func() {
		g.metrics.ObserveContractCall(method, "call", started, err)
	}()

	m, ok := g.abi.Methods[method]
	if !ok {
		return nil, &ContractReadError{Method: method, Err: ErrMethodNotFound}
	}

	input, err := g.abi.Pack(method, args...)
	if err != nil {
		return nil, &ContractReadError{Method: method, Err: fmt.Errorf("pack arguments: %w", err)}
	}

	data, err := g.backend.CallContract(ctx, ethereum.CallMsg{To: &g.address, Data: input}, nil)
	if err != nil {
		return nil, newReadError(method, err)
	}
	if len(data) == 0 && len(m.Outputs) > 0 {
		return nil, &ContractReadError{Method: method, Err: ErrEmptyResult}
	}

	out, err = m.Outputs.Unpack(data)
	if err != nil {
		return nil, &ContractReadError{Method: method, Err: fmt.Errorf("unpack result: %w", err)}
	}
	return out, nil
}

// Send 构造、签名并广播写交易，等待上链后返回回执
//
// 流程：估算gas（回滚在此暴露）→ 取nonce和gas价格 → 钱包签名 → 广播 → 等待回执。
func (g *Gateway) Send(ctx context.Context, method string, opts SendOpts, args ...interface{}) (rcpt *Receipt, err error) {
	started := time.Now()
	defer func() {
		g.metrics.ObserveContractCall(method, "send", started, err)
	}()

	if opts.Signer == nil {
		return nil, &ContractWriteError{Method: method, Err: ErrNoSigner}
	}
	if _, ok := g.abi.Methods[method]; !ok {
		return nil, &ContractWriteError{Method: method, Err: ErrMethodNotFound}
	}

	input, err := g.abi.Pack(method, args...)
	if err != nil {
		return nil, &ContractWriteError{Method: method, Err: fmt.Errorf("pack arguments: %w", err)}
	}

	value := opts.Value
	if value == nil {
		value = new(big.Int)
	}
	from := opts.Signer.Address()
	msg := ethereum.CallMsg{From: from, To: &g.address, Value: value, Data: input}

	gas, err := g.backend.EstimateGas(ctx, msg)
	if err != nil {
		return nil, newWriteError(method, common.Hash{}, err)
	}
	nonce, err := g.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, newWriteError(method, common.Hash{}, fmt.Errorf("pending nonce: %w", err))
	}
	gasPrice, err := g.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, newWriteError(method, common.Hash{}, fmt.Errorf("gas price: %w", err))
	}
	chainID, err := g.ChainID(ctx)
	if err != nil {
		return nil, newWriteError(method, common.Hash{}, err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &g.address,
		Value:    value,
		Data:     input,
	})

	signed, err := opts.Signer.SignTx(tx, chainID)
	if err != nil {
		return nil, &ContractWriteError{Method: method, Err: fmt.Errorf("sign transaction: %w", err)}
	}

	if err := g.backend.SendTransaction(ctx, signed); err != nil {
		return nil, newWriteError(method, signed.Hash(), err)
	}
	g.logger.Infof("sent %s tx=%s from=%s", method, signed.Hash().Hex(), from.Hex())

	receipt, err := g.waitMined(ctx, signed.Hash())
	if err != nil {
		return nil, newWriteError(method, signed.Hash(), err)
	}

	rcpt = &Receipt{
		TxHash:  receipt.TxHash,
		Status:  receipt.Status,
		GasUsed: receipt.GasUsed,
	}
	if receipt.BlockNumber != nil {
		rcpt.BlockNumber = receipt.BlockNumber.Uint64()
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		reason := g.replayReason(ctx, msg, receipt.BlockNumber)
		return rcpt, &ContractWriteError{Method: method, Reason: reason, TxHash: signed.Hash(), Err: ErrTxFailed}
	}
	return rcpt, nil
}

// ChainID 返回节点链 ID（首次调用后缓存）
func (g *Gateway) ChainID(ctx context.Context) (*big.Int, error) {
	g.chainMu.Lock()
	defer g.chainMu.Unlock()
	if g.chainID != nil {
		return g.chainID, nil
	}
	id, err := g.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	g.chainID = id
	return id, nil
}

// waitMined 轮询交易回执
func (g *Gateway) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, g.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(g.receiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := g.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			g.logger.Debugf("receipt %s not available: %v", hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrReceiptTimeout
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// replayReason 在交易所在区块重放调用以获取回滚原因
func (g *Gateway) replayReason(ctx context.Context, msg ethereum.CallMsg, block *big.Int) string {
	_, err := g.backend.CallContract(ctx, msg, block)
	if err == nil {
		return ""
	}
	reason, _ := RevertReason(err)
	return reason
}

// FilterEvents 查询合约事件日志
func (g *Gateway) FilterEvents(ctx context.Context, event string, fromBlock *big.Int) ([]types.Log, error) {
	ev, ok := g.abi.Events[event]
	if !ok {
		return nil, &ContractReadError{Method: event, Err: ErrMethodNotFound}
	}
	logs, err := g.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: fromBlock,
		Addresses: []common.Address{g.address},
		Topics:    [][]common.Hash{{ev.ID}},
	})
	if err != nil {
		return nil, newReadError(event, err)
	}
	return logs, nil
}
