// Package handlers 本地网关的 HTTP 处理器
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shelfchain/v1/client/core/contract"
	"github.com/shelfchain/v1/client/core/wallet"
	"github.com/shelfchain/v1/internal/core/history"
	"github.com/shelfchain/v1/internal/core/library"
	"github.com/shelfchain/v1/internal/core/session"
)

// APIResponse 统一响应格式
//
// 列表读取失败时仍返回 200，Data 为空列表，Error 作为提示横幅。
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// APIError 错误详情
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Reason    string `json:"reason,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// 错误码
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeNoWallet           = "NO_WALLET"
	CodeWalletRejected     = "WALLET_REJECTED"
	CodeWrongNetwork       = "WRONG_NETWORK"
	CodeSessionReset       = "SESSION_RESET"
	CodeNotConnected       = "NOT_CONNECTED"
	CodeNotAdmin           = "NOT_ADMIN"
	CodeActiveBorrow       = "ACTIVE_BORROW"
	CodeNoCurrentBorrow    = "NO_CURRENT_BORROW"
	CodeTransactionFailed  = "TRANSACTION_FAILED"
	CodeContractRead       = "CONTRACT_READ_FAILED"
	CodeHistoryUnavailable = "HISTORY_UNAVAILABLE"
	CodeTimeout            = "TIMEOUT"
	CodeInternal           = "INTERNAL_ERROR"
)

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: data})
}

// degraded 列表读取失败，返回空列表和横幅
func degraded(c *gin.Context, empty interface{}, err error) {
	_ = c.Error(err)
	_, apiErr := classify(err)
	c.JSON(http.StatusOK, APIResponse{Success: false, Data: empty, Error: apiErr})
}

func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	status, apiErr := classify(err)
	c.AbortWithStatusJSON(status, APIResponse{Success: false, Error: apiErr})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, APIResponse{
		Success: false,
		Error:   &APIError{Code: CodeInvalidRequest, Message: msg},
	})
}

// classify 把各层错误映射为 HTTP 状态和错误码
func classify(err error) (int, *APIError) {
	var (
		noWallet    *session.NoWalletError
		rejected    *session.WalletRejectedError
		wrongNet    *session.WrongNetworkError
		writeErr    *contract.ContractWriteError
		readErr     *contract.ContractReadError
		unavailable *history.HistoryUnavailableError
	)
	msg := err.Error()
	switch {
	case errors.As(err, &noWallet):
		return http.StatusPreconditionFailed, &APIError{Code: CodeNoWallet, Message: msg}
	case errors.As(err, &wrongNet):
		return http.StatusPreconditionFailed, &APIError{Code: CodeWrongNetwork, Message: msg}
	case errors.As(err, &rejected), errors.Is(err, wallet.ErrUserRejected),
		errors.Is(err, wallet.ErrWrongPassword), errors.Is(err, wallet.ErrNonInteractive):
		return http.StatusUnauthorized, &APIError{Code: CodeWalletRejected, Message: msg}
	case errors.Is(err, session.ErrConnectInterrupted):
		return http.StatusConflict, &APIError{Code: CodeSessionReset, Message: msg, Retryable: true}
	case errors.Is(err, library.ErrNotConnected):
		return http.StatusUnauthorized, &APIError{Code: CodeNotConnected, Message: msg}
	case errors.Is(err, library.ErrNotAdmin):
		return http.StatusForbidden, &APIError{Code: CodeNotAdmin, Message: msg}
	case errors.Is(err, library.ErrInvalidArgument):
		return http.StatusBadRequest, &APIError{Code: CodeInvalidRequest, Message: msg}
	case errors.Is(err, library.ErrNoCurrentBorrow):
		return http.StatusConflict, &APIError{Code: CodeNoCurrentBorrow, Message: msg}
	case errors.Is(err, library.ErrActiveBorrow):
		apiErr := &APIError{Code: CodeActiveBorrow, Message: "You already have an active borrow. Please return your current book first."}
		if errors.As(err, &writeErr) {
			apiErr.Reason = writeErr.Reason
		}
		return http.StatusUnprocessableEntity, apiErr
	case errors.As(err, &writeErr):
		return http.StatusUnprocessableEntity, &APIError{Code: CodeTransactionFailed, Message: msg, Reason: writeErr.Reason}
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable, &APIError{Code: CodeHistoryUnavailable, Message: msg, Retryable: true}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, &APIError{Code: CodeTimeout, Message: msg, Retryable: true}
	case errors.As(err, &readErr):
		return http.StatusBadGateway, &APIError{Code: CodeContractRead, Message: msg, Reason: readErr.Reason, Retryable: true}
	}
	return http.StatusInternalServerError, &APIError{Code: CodeInternal, Message: msg}
}
