package contract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	// ErrMethodNotFound ABI 中不存在该方法
	ErrMethodNotFound = errors.New("method not in ABI")
	// ErrEmptyResult 调用返回空数据，通常表示部署的合约没有该方法
	ErrEmptyResult = errors.New("empty return data")
	// ErrReverted 调用被合约回滚
	ErrReverted = errors.New("execution reverted")
	// ErrTxFailed 交易已上链但执行失败
	ErrTxFailed = errors.New("transaction failed")
	// ErrNoSigner 写操作缺少签名者
	ErrNoSigner = errors.New("no signer for write")
	// ErrReceiptTimeout 等待交易回执超时
	ErrReceiptTimeout = errors.New("timed out waiting for receipt")
)

// ContractReadError 只读调用失败
type ContractReadError struct {
	Method string
	// Reason 合约回滚原因，可能为空
	Reason string
	Err    error
}

func (e *ContractReadError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("contract read %s: %s", e.Method, e.Reason)
	}
	return fmt.Sprintf("contract read %s: %v", e.Method, e.Err)
}

func (e *ContractReadError) Unwrap() error {
	return e.Err
}

// Reverted 是否为合约主动回滚（而非网络或解码错误）
func (e *ContractReadError) Reverted() bool {
	return errors.Is(e.Err, ErrReverted)
}

// ContractWriteError 写交易失败
type ContractWriteError struct {
	Method string
	Reason string
	// TxHash 交易已广播时非零
	TxHash common.Hash
	Err    error
}

func (e *ContractWriteError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "contract write %s", e.Method)
	if e.TxHash != (common.Hash{}) {
		fmt.Fprintf(&b, " (tx %s)", e.TxHash.Hex())
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	} else if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ContractWriteError) Unwrap() error {
	return e.Err
}

// RevertReason 从节点错误中提取回滚原因
//
// 依次尝试 rpc.DataError 携带的 Error(string) 数据和
// "execution reverted: <reason>" 形式的错误信息。
func RevertReason(err error) (string, bool) {
	if err == nil {
		return "", false
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if raw, ok := dataErr.ErrorData().(string); ok {
			if data, decErr := hexutil.Decode(raw); decErr == nil {
				if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
					return reason, true
				}
			}
		}
	}

	msg := err.Error()
	idx := strings.Index(msg, "execution reverted")
	if idx < 0 {
		return "", false
	}
	reason := strings.TrimPrefix(msg[idx:], "execution reverted")
	reason = strings.TrimSpace(strings.TrimPrefix(reason, ":"))
	return reason, true
}

func newReadError(method string, err error) *ContractReadError {
	if reason, ok := RevertReason(err); ok {
		return &ContractReadError{Method: method, Reason: reason, Err: fmt.Errorf("%w: %v", ErrReverted, err)}
	}
	return &ContractReadError{Method: method, Err: err}
}

func newWriteError(method string, txHash common.Hash, err error) *ContractWriteError {
	reason, _ := RevertReason(err)
	return &ContractWriteError{Method: method, Reason: reason, TxHash: txHash, Err: err}
}
