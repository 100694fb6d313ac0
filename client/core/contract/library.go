package contract

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"reflect"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/shelfchain/v1/pkg/types"
)

// ErrBookNotFound getBook 返回空记录
var ErrBookNotFound = errors.New("book not found")

// 与 ABI tuple 对应的解码结构，字段名为 ABI 名称的驼峰形式
type bookTuple struct {
	Id          *big.Int
	IpfsHash    string
	Stock       *big.Int
	TotalCopies *big.Int
}

type memberTuple struct {
	Name         string
	IsRegistered bool
	RegisteredAt *big.Int
}

// Admin 读取管理员地址
func (g *Gateway) Admin(ctx context.Context) (common.Address, error) {
	out, err := g.Call(ctx, MethodAdmin)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, unexpected(MethodAdmin, out[0])
	}
	return addr, nil
}

// IsMember 查询是否为注册会员
func (g *Gateway) IsMember(ctx context.Context, account common.Address) (bool, error) {
	out, err := g.Call(ctx, MethodIsMember, account)
	if err != nil {
		return false, err
	}
	v, ok := out[0].(bool)
	if !ok {
		return false, unexpected(MethodIsMember, out[0])
	}
	return v, nil
}

// GetMember 读取会员信息
func (g *Gateway) GetMember(ctx context.Context, account common.Address) (*types.Member, error) {
	out, err := g.Call(ctx, MethodGetMember, account)
	if err != nil {
		return nil, err
	}
	var t memberTuple
	if err := convertTuple(MethodGetMember, out[0], &t); err != nil {
		return nil, err
	}
	return &types.Member{
		Address:      account,
		Name:         t.Name,
		IsRegistered: t.IsRegistered,
		RegisteredAt: bigToUint64(t.RegisteredAt),
	}, nil
}

// AllBookIDs 读取全部书籍 ID，保持合约返回顺序
func (g *Gateway) AllBookIDs(ctx context.Context) ([]uint64, error) {
	out, err := g.Call(ctx, MethodGetAllBookIds)
	if err != nil {
		return nil, err
	}
	raw, ok := out[0].([]*big.Int)
	if !ok {
		return nil, unexpected(MethodGetAllBookIds, out[0])
	}
	ids := make([]uint64, 0, len(raw))
	for _, id := range raw {
		ids = append(ids, bigToUint64(id))
	}
	return ids, nil
}

// GetBook 读取单本书的链上字段，不含元数据
func (g *Gateway) GetBook(ctx context.Context, id uint64) (*types.Book, error) {
	out, err := g.Call(ctx, MethodGetBook, new(big.Int).SetUint64(id))
	if err != nil {
		return nil, err
	}
	var t bookTuple
	if err := convertTuple(MethodGetBook, out[0], &t); err != nil {
		return nil, err
	}
	if t.Id == nil || t.Id.Sign() == 0 {
		return nil, &ContractReadError{Method: MethodGetBook, Err: fmt.Errorf("%w: %d", ErrBookNotFound, id)}
	}
	return &types.Book{
		ID:          bigToUint64(t.Id),
		ContentID:   t.IpfsHash,
		Stock:       bigToUint64(t.Stock),
		TotalCopies: bigToUint64(t.TotalCopies),
	}, nil
}

// CurrentBorrow 当前借阅的书籍 ID，0 表示没有
func (g *Gateway) CurrentBorrow(ctx context.Context, account common.Address) (uint64, error) {
	return g.callUint(ctx, MethodGetCurrentBorrow, account)
}

// LibraryStats 读取统计数据
func (g *Gateway) LibraryStats(ctx context.Context) (*types.LibraryStats, error) {
	out, err := g.Call(ctx, MethodGetLibraryStats)
	if err != nil {
		return nil, err
	}
	vals := make([]uint64, 4)
	for i := range vals {
		n, ok := out[i].(*big.Int)
		if !ok {
			return nil, unexpected(MethodGetLibraryStats, out[i])
		}
		vals[i] = bigToUint64(n)
	}
	return &types.LibraryStats{
		TotalBooks:   vals[0],
		TotalMembers: vals[1],
		TotalBorrows: vals[2],
		ActiveLoans:  vals[3],
	}, nil
}

// BorrowCount 借阅记录总数，记录序号从 1 开始
func (g *Gateway) BorrowCount(ctx context.Context) (uint64, error) {
	return g.callUint(ctx, MethodBorrowCount)
}

// DepositPerMinute 每分钟押金（wei）
func (g *Gateway) DepositPerMinute(ctx context.Context) (*big.Int, error) {
	out, err := g.Call(ctx, MethodDepositPerMinute)
	if err != nil {
		return nil, err
	}
	n, ok := out[0].(*big.Int)
	if !ok {
		return nil, unexpected(MethodDepositPerMinute, out[0])
	}
	return n, nil
}

// AllBorrowHistory 全部借阅记录，元素为 ABI 解码后的原始 tuple
func (g *Gateway) AllBorrowHistory(ctx context.Context) ([]interface{}, error) {
	return callRecords(ctx, g, MethodGetAllBorrowHistory)
}

// MemberBorrowHistory 指定会员的借阅记录
func (g *Gateway) MemberBorrowHistory(ctx context.Context, member common.Address) ([]interface{}, error) {
	return callRecords(ctx, g, MethodGetMemberBorrowHistory, member)
}

// BorrowHistoryAt 按序号读取单条记录，返回按位置排列的字段
func (g *Gateway) BorrowHistoryAt(ctx context.Context, index uint64) (interface{}, error) {
	return g.Call(ctx, MethodBorrowHistory, new(big.Int).SetUint64(index))
}

// AddBook 管理员添加书籍
func (g *Gateway) AddBook(ctx context.Context, signer TxSigner, contentID string, stock uint64) (*Receipt, error) {
	return g.Send(ctx, MethodAddBook, SendOpts{Signer: signer}, contentID, new(big.Int).SetUint64(stock))
}

// RegisterMember 注册会员
func (g *Gateway) RegisterMember(ctx context.Context, signer TxSigner, name string) (*Receipt, error) {
	return g.Send(ctx, MethodRegisterMember, SendOpts{Signer: signer}, name)
}

// BorrowBook 借书，deposit 为 nil 时不附带押金
func (g *Gateway) BorrowBook(ctx context.Context, signer TxSigner, bookID uint64, deposit *big.Int) (*Receipt, error) {
	return g.Send(ctx, MethodBorrowBook, SendOpts{Signer: signer, Value: deposit}, new(big.Int).SetUint64(bookID))
}

// ReturnBook 还书
func (g *Gateway) ReturnBook(ctx context.Context, signer TxSigner, bookID uint64) (*Receipt, error) {
	return g.Send(ctx, MethodReturnBook, SendOpts{Signer: signer}, new(big.Int).SetUint64(bookID))
}

// MemberRegistrations 扫描 MemberRegistered 事件
func (g *Gateway) MemberRegistrations(ctx context.Context, fromBlock *big.Int) ([]types.Member, error) {
	logs, err := g.FilterEvents(ctx, EventMemberRegistered, fromBlock)
	if err != nil {
		return nil, err
	}
	ev := g.abi.Events[EventMemberRegistered]

	members := make([]types.Member, 0, len(logs))
	for _, lg := range logs {
		if len(lg.Topics) < 2 {
			continue
		}
		vals, err := ev.Inputs.NonIndexed().Unpack(lg.Data)
		if err != nil || len(vals) < 2 {
			g.logger.Warnf("skip undecodable MemberRegistered log tx=%s: %v", lg.TxHash.Hex(), err)
			continue
		}
		name, _ := vals[0].(string)
		ts, _ := vals[1].(*big.Int)
		members = append(members, types.Member{
			Address:      common.BytesToAddress(lg.Topics[1].Bytes()),
			Name:         name,
			RegisteredAt: bigToUint64(ts),
			IsRegistered: true,
		})
	}
	return members, nil
}

func (g *Gateway) callUint(ctx context.Context, method string, args ...interface{}) (uint64, error) {
	out, err := g.Call(ctx, method, args...)
	if err != nil {
		return 0, err
	}
	n, ok := out[0].(*big.Int)
	if !ok {
		return 0, unexpected(method, out[0])
	}
	return bigToUint64(n), nil
}

// callRecords 调用返回 tuple[] 的方法，并展开为元素切片
func callRecords(ctx context.Context, g *Gateway, method string, args ...interface{}) ([]interface{}, error) {
	out, err := g.Call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	v := reflect.ValueOf(out[0])
	if v.Kind() != reflect.Slice {
		return nil, unexpected(method, out[0])
	}
	records := make([]interface{}, v.Len())
	for i := 0; i < v.Len(); i++ {
		records[i] = v.Index(i).Interface()
	}
	return records, nil
}

// convertTuple 将 ABI 解码得到的匿名结构体转换为具名结构体
func convertTuple(method string, in interface{}, out interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ContractReadError{Method: method, Err: fmt.Errorf("decode tuple: %v", r)}
		}
	}()
	abi.ConvertType(in, out)
	return nil
}

func unexpected(method string, v interface{}) error {
	return &ContractReadError{Method: method, Err: fmt.Errorf("unexpected result type %T", v)}
}

// bigToUint64 超出范围时截断为 MaxUint64
func bigToUint64(n *big.Int) uint64 {
	if n == nil || n.Sign() <= 0 {
		return 0
	}
	if !n.IsUint64() {
		return ^uint64(0)
	}
	return n.Uint64()
}
