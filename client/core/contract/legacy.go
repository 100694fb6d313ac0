package contract

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// LegacyGateway 使用旧 ABI 的只读网关，地址与当前网关相同
//
// 只用于读取不含 dueDate/deposit 的借阅记录，不提供写操作。
type LegacyGateway struct {
	g *Gateway
}

// NewLegacyGateway 创建旧 ABI 网关
func NewLegacyGateway(backend Backend, cfg Config) *LegacyGateway {
	return &LegacyGateway{g: newGateway(backend, parsedLegacy, cfg, "contract.legacy")}
}

// Call 执行只读调用
func (l *LegacyGateway) Call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	return l.g.Call(ctx, method, args...)
}

// AllBorrowHistory 全部借阅记录（旧格式）
func (l *LegacyGateway) AllBorrowHistory(ctx context.Context) ([]interface{}, error) {
	return callRecords(ctx, l.g, MethodGetAllBorrowHistory)
}

// MemberBorrowHistory 指定会员的借阅记录（旧格式）
func (l *LegacyGateway) MemberBorrowHistory(ctx context.Context, member common.Address) ([]interface{}, error) {
	return callRecords(ctx, l.g, MethodGetMemberBorrowHistory, member)
}

// BorrowHistoryAt 按序号读取单条记录（旧格式），返回按位置排列的字段
func (l *LegacyGateway) BorrowHistoryAt(ctx context.Context, index uint64) (interface{}, error) {
	return l.g.Call(ctx, MethodBorrowHistory, new(big.Int).SetUint64(index))
}
