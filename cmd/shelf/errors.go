package main

import (
	"errors"
	"fmt"

	"github.com/shelfchain/v1/client/core/contract"
	"github.com/shelfchain/v1/internal/core/history"
	"github.com/shelfchain/v1/internal/core/library"
	"github.com/shelfchain/v1/internal/core/session"
)

// explain 把分层错误转换成给用户看的提示，原始错误保留在链上
func explain(err error) error {
	if err == nil {
		return nil
	}
	var (
		noWallet    *session.NoWalletError
		rejected    *session.WalletRejectedError
		wrongNet    *session.WrongNetworkError
		writeErr    *contract.ContractWriteError
		unavailable *history.HistoryUnavailableError
	)
	switch {
	case errors.As(err, &noWallet):
		return fmt.Errorf("没有可用的钱包账户，请先执行 shelf wallet new 或 shelf wallet import: %w", err)
	case errors.As(err, &wrongNet):
		return fmt.Errorf("请切换到链 %d 后重试: %w", wrongNet.Expected, err)
	case errors.As(err, &rejected):
		return fmt.Errorf("已取消连接: %w", err)
	case errors.Is(err, library.ErrActiveBorrow):
		return fmt.Errorf("You already have an active borrow. Please return your current book first: %w", err)
	case errors.Is(err, library.ErrNoCurrentBorrow):
		return fmt.Errorf("当前没有借阅中的书: %w", err)
	case errors.Is(err, library.ErrNotAdmin):
		return fmt.Errorf("只有管理员可以执行该操作: %w", err)
	case errors.As(err, &writeErr) && writeErr.Reason != "":
		return fmt.Errorf("交易失败 (%s): %w", writeErr.Reason, err)
	case errors.As(err, &unavailable):
		return fmt.Errorf("暂时无法读取借阅历史，请稍后重试: %w", err)
	}
	return err
}
