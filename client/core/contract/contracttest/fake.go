// Package contracttest 提供内存中的图书馆合约模拟，实现 contract.Backend
//
// 调用数据按真实 ABI 编解码，可切换为旧版记录格式，用于测试兼容读取路径。
package contracttest

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/shelfchain/v1/client/core/contract"
)

// 起始时间戳，每笔写交易推进一分钟
const genesisTime = 1_700_000_000

// RevertError 模拟节点返回的回滚错误（实现 rpc.DataError）
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return "execution reverted"
	}
	return "execution reverted: " + e.Reason
}

func (e *RevertError) ErrorCode() int { return 3 }

func (e *RevertError) ErrorData() interface{} {
	if e.Reason == "" {
		return nil
	}
	return hexutil.Encode(EncodeRevert(e.Reason))
}

// EncodeRevert 编码 Error(string)
func EncodeRevert(reason string) []byte {
	stringType, _ := abi.NewType("string", "", nil)
	packed, _ := abi.Arguments{{Type: stringType}}.Pack(reason)
	return append(crypto.Keccak256([]byte("Error(string)"))[:4], packed...)
}

type book struct {
	cid   string
	stock uint64
	total uint64
}

type member struct {
	name         string
	registeredAt uint64
}

// Record 一条借阅记录
type Record struct {
	Borrower   common.Address
	BookID     uint64
	BorrowTime uint64
	ReturnTime uint64
	Returned   bool
	DueDate    uint64
	Deposit    *big.Int
}

// 按 ABI 名称驼峰化命名，供 Outputs.Pack 使用
type bookOut struct {
	Id          *big.Int
	IpfsHash    string
	Stock       *big.Int
	TotalCopies *big.Int
}

type memberOut struct {
	Name         string
	IsRegistered bool
	RegisteredAt *big.Int
}

type recordOut struct {
	BorrowId   *big.Int
	Borrower   common.Address
	BookId     *big.Int
	BorrowTime *big.Int
	ReturnTime *big.Int
	Returned   bool
	DueDate    *big.Int
	Deposit    *big.Int
}

type legacyRecordOut struct {
	BorrowId   *big.Int
	Borrower   common.Address
	BookId     *big.Int
	BorrowTime *big.Int
	ReturnTime *big.Int
	Returned   bool
}

// FakeLibrary 内存合约
type FakeLibrary struct {
	mu sync.Mutex

	chainID *big.Int
	admin   common.Address
	deposit *big.Int

	// Legacy 为 true 时借阅记录按旧格式编码，borrowBook 不接受押金
	Legacy bool
	// IsMemberReverts 为 true 时 isMember 对非会员回滚
	IsMemberReverts bool

	modern abi.ABI
	legacy abi.ABI

	books       []book
	members     map[common.Address]*member
	memberOrder []common.Address
	current     map[common.Address]uint64
	history     []Record

	failures     map[string]error
	revertOnMine map[string]string
	calls        map[string]int

	nonces   map[common.Address]uint64
	receipts map[common.Hash]*types.Receipt
	logs     []types.Log
	block    uint64
	now      uint64
}

// NewFakeLibrary 创建空合约，admin 为部署者
func NewFakeLibrary(chainID uint64, admin common.Address) *FakeLibrary {
	return &FakeLibrary{
		chainID:      new(big.Int).SetUint64(chainID),
		admin:        admin,
		deposit:      big.NewInt(1_000_000_000_000),
		modern:       contract.ParsedLibraryABI(),
		legacy:       contract.ParsedLegacyABI(),
		members:      make(map[common.Address]*member),
		current:      make(map[common.Address]uint64),
		failures:     make(map[string]error),
		revertOnMine: make(map[string]string),
		calls:        make(map[string]int),
		nonces:       make(map[common.Address]uint64),
		receipts:     make(map[common.Hash]*types.Receipt),
		block:        1,
		now:          genesisTime,
	}
}

// ===== 测试辅助 =====

// SeedBook 直接添加书籍，返回 ID
func (f *FakeLibrary) SeedBook(cid string, stock uint64) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.books = append(f.books, book{cid: cid, stock: stock, total: stock})
	return uint64(len(f.books))
}

// SetStock 修改库存
func (f *FakeLibrary) SetStock(id, stock uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.books[id-1].stock = stock
}

// SeedMember 直接注册会员
func (f *FakeLibrary) SeedMember(addr common.Address, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registerLocked(addr, name)
}

// SeedRecord 直接追加借阅记录，返回记录序号
func (f *FakeLibrary) SeedRecord(r Record) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, r)
	return uint64(len(f.history))
}

// SetCurrentBorrow 直接设置当前借阅
func (f *FakeLibrary) SetCurrentBorrow(addr common.Address, bookID uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current[addr] = bookID
}

// SetDeposit 设置每分钟押金
func (f *FakeLibrary) SetDeposit(v *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deposit = new(big.Int).Set(v)
}

// Fail 使指定方法的只读调用返回 err，err 为 nil 时取消
func (f *FakeLibrary) Fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, method)
		return
	}
	f.failures[method] = err
}

// RevertOnMine 使指定写方法通过估算但在上链时失败
func (f *FakeLibrary) RevertOnMine(method, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revertOnMine[method] = reason
}

// Calls 返回方法被只读调用的次数
func (f *FakeLibrary) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Records 返回全部记录副本
func (f *FakeLibrary) Records() []Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Record(nil), f.history...)
}

// Stock 返回书籍当前库存
func (f *FakeLibrary) Stock(id uint64) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.books[id-1].stock
}

// ===== contract.Backend =====

func (f *FakeLibrary) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.chainID), nil
}

func (f *FakeLibrary) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, args, err := f.decode(msg.Data)
	if err != nil {
		return nil, &RevertError{}
	}
	f.calls[m.Name]++
	if err := f.failures[m.Name]; err != nil {
		return nil, err
	}

	if !m.IsConstant() {
		// 写方法的 eth_call：模拟执行但不提交
		if reason, ok := f.revertOnMine[m.Name]; ok && blockNumber != nil {
			return nil, &RevertError{Reason: reason}
		}
		if err := f.check(msg.From, msg.Value, m.Name, args); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return f.view(m, args)
}

func (f *FakeLibrary) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, args, err := f.decode(msg.Data)
	if err != nil {
		return 0, &RevertError{}
	}
	if err := f.check(msg.From, msg.Value, m.Name, args); err != nil {
		return 0, err
	}
	return 120_000, nil
}

func (f *FakeLibrary) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonces[account], nil
}

func (f *FakeLibrary) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *FakeLibrary) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	from, err := types.Sender(types.LatestSignerForChainID(f.chainID), tx)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	if tx.Nonce() != f.nonces[from] {
		return fmt.Errorf("nonce too low")
	}
	m, args, err := f.decode(tx.Data())
	if err != nil {
		return fmt.Errorf("unknown method")
	}

	f.nonces[from]++
	f.block++
	f.now += 60

	status := types.ReceiptStatusSuccessful
	if _, ok := f.revertOnMine[m.Name]; ok {
		status = types.ReceiptStatusFailed
	} else if err := f.check(from, tx.Value(), m.Name, args); err != nil {
		status = types.ReceiptStatusFailed
	} else {
		f.apply(from, tx.Value(), tx.Hash(), m.Name, args)
	}

	f.receipts[tx.Hash()] = &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(f.block),
		GasUsed:     21_000,
	}
	return nil
}

func (f *FakeLibrary) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *FakeLibrary) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []types.Log
	for _, lg := range f.logs {
		if len(q.Topics) > 0 && len(q.Topics[0]) > 0 && lg.Topics[0] != q.Topics[0][0] {
			continue
		}
		out = append(out, lg)
	}
	return out, nil
}

// ===== 内部实现 =====

func (f *FakeLibrary) decode(data []byte) (*abi.Method, []interface{}, error) {
	if len(data) < 4 {
		return nil, nil, errors.New("short call data")
	}
	m, err := f.modern.MethodById(data[:4])
	if err != nil {
		return nil, nil, err
	}
	args, err := m.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, err
	}
	return m, args, nil
}

func (f *FakeLibrary) view(m *abi.Method, args []interface{}) ([]byte, error) {
	switch m.Name {
	case contract.MethodAdmin:
		return m.Outputs.Pack(f.admin)
	case contract.MethodDepositPerMinute:
		if f.Legacy {
			return nil, &RevertError{}
		}
		return m.Outputs.Pack(new(big.Int).Set(f.deposit))
	case contract.MethodIsMember:
		addr := args[0].(common.Address)
		_, ok := f.members[addr]
		if !ok && f.IsMemberReverts {
			return nil, &RevertError{Reason: "Not a member"}
		}
		return m.Outputs.Pack(ok)
	case contract.MethodGetMember:
		addr := args[0].(common.Address)
		out := memberOut{RegisteredAt: new(big.Int)}
		if mem, ok := f.members[addr]; ok {
			out = memberOut{Name: mem.name, IsRegistered: true, RegisteredAt: new(big.Int).SetUint64(mem.registeredAt)}
		}
		return m.Outputs.Pack(out)
	case contract.MethodGetAllBookIds:
		ids := make([]*big.Int, len(f.books))
		for i := range f.books {
			ids[i] = big.NewInt(int64(i + 1))
		}
		return m.Outputs.Pack(ids)
	case contract.MethodGetBook:
		id := args[0].(*big.Int).Uint64()
		if id == 0 || id > uint64(len(f.books)) {
			return nil, &RevertError{Reason: "Book does not exist"}
		}
		b := f.books[id-1]
		return m.Outputs.Pack(bookOut{
			Id:          new(big.Int).SetUint64(id),
			IpfsHash:    b.cid,
			Stock:       new(big.Int).SetUint64(b.stock),
			TotalCopies: new(big.Int).SetUint64(b.total),
		})
	case contract.MethodGetCurrentBorrow:
		return m.Outputs.Pack(new(big.Int).SetUint64(f.current[args[0].(common.Address)]))
	case contract.MethodGetLibraryStats:
		var active uint64
		for _, id := range f.current {
			if id != 0 {
				active++
			}
		}
		return m.Outputs.Pack(
			big.NewInt(int64(len(f.books))),
			big.NewInt(int64(len(f.members))),
			big.NewInt(int64(len(f.history))),
			new(big.Int).SetUint64(active),
		)
	case contract.MethodBorrowCount:
		return m.Outputs.Pack(big.NewInt(int64(len(f.history))))
	case contract.MethodBorrowHistory:
		idx := args[0].(*big.Int).Uint64()
		var r Record
		if idx >= 1 && idx <= uint64(len(f.history)) {
			r = f.history[idx-1]
		}
		return f.packSingle(idx, r)
	case contract.MethodGetAllBorrowHistory:
		return f.packRecords(m.Name, func(Record) bool { return true })
	case contract.MethodGetMemberBorrowHistory:
		addr := args[0].(common.Address)
		return f.packRecords(m.Name, func(r Record) bool { return r.Borrower == addr })
	}
	return nil, &RevertError{}
}

func (f *FakeLibrary) packSingle(idx uint64, r Record) ([]byte, error) {
	id := new(big.Int).SetUint64(idx)
	if r.BookID == 0 {
		id = new(big.Int)
	}
	if f.Legacy {
		return f.legacy.Methods[contract.MethodBorrowHistory].Outputs.Pack(
			id, r.Borrower, new(big.Int).SetUint64(r.BookID),
			new(big.Int).SetUint64(r.BorrowTime), new(big.Int).SetUint64(r.ReturnTime), r.Returned,
		)
	}
	return f.modern.Methods[contract.MethodBorrowHistory].Outputs.Pack(
		id, r.Borrower, new(big.Int).SetUint64(r.BookID),
		new(big.Int).SetUint64(r.BorrowTime), new(big.Int).SetUint64(r.ReturnTime), r.Returned,
		new(big.Int).SetUint64(r.DueDate), depositOf(r),
	)
}

func (f *FakeLibrary) packRecords(method string, keep func(Record) bool) ([]byte, error) {
	if f.Legacy {
		out := []legacyRecordOut{}
		for i, r := range f.history {
			if !keep(r) {
				continue
			}
			out = append(out, legacyRecordOut{
				BorrowId:   big.NewInt(int64(i + 1)),
				Borrower:   r.Borrower,
				BookId:     new(big.Int).SetUint64(r.BookID),
				BorrowTime: new(big.Int).SetUint64(r.BorrowTime),
				ReturnTime: new(big.Int).SetUint64(r.ReturnTime),
				Returned:   r.Returned,
			})
		}
		return f.legacy.Methods[method].Outputs.Pack(out)
	}

	out := []recordOut{}
	for i, r := range f.history {
		if !keep(r) {
			continue
		}
		out = append(out, recordOut{
			BorrowId:   big.NewInt(int64(i + 1)),
			Borrower:   r.Borrower,
			BookId:     new(big.Int).SetUint64(r.BookID),
			BorrowTime: new(big.Int).SetUint64(r.BorrowTime),
			ReturnTime: new(big.Int).SetUint64(r.ReturnTime),
			Returned:   r.Returned,
			DueDate:    new(big.Int).SetUint64(r.DueDate),
			Deposit:    depositOf(r),
		})
	}
	return f.modern.Methods[method].Outputs.Pack(out)
}

func depositOf(r Record) *big.Int {
	if r.Deposit == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(r.Deposit)
}

// check 校验写操作，失败返回回滚错误
func (f *FakeLibrary) check(from common.Address, value *big.Int, method string, args []interface{}) error {
	hasValue := value != nil && value.Sign() > 0
	if hasValue && method != contract.MethodBorrowBook {
		return &RevertError{}
	}

	switch method {
	case contract.MethodRegisterMember:
		if _, ok := f.members[from]; ok {
			return &RevertError{Reason: "Already registered"}
		}
		if strings.TrimSpace(args[0].(string)) == "" {
			return &RevertError{Reason: "Name required"}
		}
	case contract.MethodAddBook:
		if from != f.admin {
			return &RevertError{Reason: "Only admin can perform this action"}
		}
		if args[1].(*big.Int).Sign() <= 0 {
			return &RevertError{Reason: "Stock must be positive"}
		}
	case contract.MethodBorrowBook:
		if f.Legacy && hasValue {
			// 旧合约的 borrowBook 不是 payable
			return &RevertError{}
		}
		if _, ok := f.members[from]; !ok {
			return &RevertError{Reason: "Not a registered member"}
		}
		if f.current[from] != 0 {
			return &RevertError{Reason: "You already have an active borrow"}
		}
		id := args[0].(*big.Int).Uint64()
		if id == 0 || id > uint64(len(f.books)) {
			return &RevertError{Reason: "Book does not exist"}
		}
		if f.books[id-1].stock == 0 {
			return &RevertError{Reason: "Book not available"}
		}
		if !f.Legacy && (value == nil || value.Cmp(f.deposit) < 0) {
			return &RevertError{Reason: "Insufficient deposit"}
		}
	case contract.MethodReturnBook:
		id := args[0].(*big.Int).Uint64()
		if f.current[from] == 0 || f.current[from] != id {
			return &RevertError{Reason: "No active borrow for this book"}
		}
	default:
		return &RevertError{}
	}
	return nil
}

func (f *FakeLibrary) apply(from common.Address, value *big.Int, txHash common.Hash, method string, args []interface{}) {
	switch method {
	case contract.MethodRegisterMember:
		f.registerLocked(from, args[0].(string))
		f.emitMemberRegistered(from, args[0].(string), txHash)
	case contract.MethodAddBook:
		stock := args[1].(*big.Int).Uint64()
		f.books = append(f.books, book{cid: args[0].(string), stock: stock, total: stock})
	case contract.MethodBorrowBook:
		id := args[0].(*big.Int).Uint64()
		f.books[id-1].stock--
		f.current[from] = id
		r := Record{
			Borrower:   from,
			BookID:     id,
			BorrowTime: f.now,
			DueDate:    f.now + 7*24*3600,
		}
		// Send 总是带 value，0 表示没有押金
		if value != nil && value.Sign() > 0 {
			r.Deposit = new(big.Int).Set(value)
		}
		f.history = append(f.history, r)
	case contract.MethodReturnBook:
		id := args[0].(*big.Int).Uint64()
		f.books[id-1].stock++
		f.current[from] = 0
		for i := len(f.history) - 1; i >= 0; i-- {
			if f.history[i].Borrower == from && f.history[i].BookID == id && !f.history[i].Returned {
				f.history[i].Returned = true
				f.history[i].ReturnTime = f.now
				break
			}
		}
	}
}

func (f *FakeLibrary) registerLocked(addr common.Address, name string) {
	if _, ok := f.members[addr]; ok {
		return
	}
	f.members[addr] = &member{name: name, registeredAt: f.now}
	f.memberOrder = append(f.memberOrder, addr)
}

func (f *FakeLibrary) emitMemberRegistered(addr common.Address, name string, txHash common.Hash) {
	ev := f.modern.Events[contract.EventMemberRegistered]
	data, _ := ev.Inputs.NonIndexed().Pack(name, new(big.Int).SetUint64(f.now))
	f.logs = append(f.logs, types.Log{
		Topics:      []common.Hash{ev.ID, common.BytesToHash(addr.Bytes())},
		Data:        data,
		BlockNumber: f.block,
		TxHash:      txHash,
	})
}

// KeySigner 使用私钥直接签名的测试签名者
type KeySigner struct {
	Key *ecdsa.PrivateKey
}

// NewKeySigner 生成随机私钥
func NewKeySigner() *KeySigner {
	key, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}
	return &KeySigner{Key: key}
}

func (s *KeySigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.Key.PublicKey)
}

func (s *KeySigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.Key)
}
