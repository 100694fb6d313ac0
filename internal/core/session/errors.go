package session

import (
	"errors"
	"fmt"
)

// ErrConnectInterrupted 连接过程中会话被重置，结果已丢弃
var ErrConnectInterrupted = errors.New("session reset while connecting")

// NoWalletError 没有可用的钱包或账户
type NoWalletError struct {
	Err error
}

func (e *NoWalletError) Error() string {
	if e.Err == nil {
		return "no wallet available"
	}
	return fmt.Sprintf("no wallet available: %v", e.Err)
}

func (e *NoWalletError) Unwrap() error {
	return e.Err
}

// WalletRejectedError 用户拒绝了授权
type WalletRejectedError struct {
	Err error
}

func (e *WalletRejectedError) Error() string {
	return fmt.Sprintf("wallet connection rejected: %v", e.Err)
}

func (e *WalletRejectedError) Unwrap() error {
	return e.Err
}

// WrongNetworkError 钱包所在链与 profile 不一致
type WrongNetworkError struct {
	Expected uint64
	Actual   uint64
}

func (e *WrongNetworkError) Error() string {
	return fmt.Sprintf("wrong network: expected chain %d, wallet is on %d", e.Expected, e.Actual)
}
