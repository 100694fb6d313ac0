// Package library 提供书目、借还和管理员操作
//
// 所有状态都从合约读取，这里不缓存任何业务数据；每次写操作之后由
// Refresher 按固定顺序重新读取视图。
package library

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/shelfchain/v1/client/core/contract"
	"github.com/shelfchain/v1/internal/core/hints"
	"github.com/shelfchain/v1/internal/core/history"
	logmod "github.com/shelfchain/v1/internal/core/infrastructure/log"
	"github.com/shelfchain/v1/pkg/interfaces/infrastructure/event"
	"github.com/shelfchain/v1/pkg/interfaces/infrastructure/log"
	"github.com/shelfchain/v1/pkg/types"
)

var (
	// ErrActiveBorrow 账户已有未归还的书
	ErrActiveBorrow = errors.New("you already have an active borrow")
	// ErrNoCurrentBorrow 没有可归还的书
	ErrNoCurrentBorrow = errors.New("no active borrow to return")
	// ErrNotConnected 操作需要已连接的账户
	ErrNotConnected = errors.New("wallet not connected")
	// ErrNotAdmin 操作需要管理员账户
	ErrNotAdmin = errors.New("admin account required")
	// ErrInvalidArgument 参数校验失败
	ErrInvalidArgument = errors.New("invalid argument")
)

// Contract 合约读写
type Contract interface {
	AllBookIDs(ctx context.Context) ([]uint64, error)
	GetBook(ctx context.Context, id uint64) (*types.Book, error)
	CurrentBorrow(ctx context.Context, account common.Address) (uint64, error)
	LibraryStats(ctx context.Context) (*types.LibraryStats, error)
	DepositPerMinute(ctx context.Context) (*big.Int, error)
	GetMember(ctx context.Context, account common.Address) (*types.Member, error)
	MemberRegistrations(ctx context.Context, fromBlock *big.Int) ([]types.Member, error)

	AddBook(ctx context.Context, signer contract.TxSigner, contentID string, stock uint64) (*contract.Receipt, error)
	RegisterMember(ctx context.Context, signer contract.TxSigner, name string) (*contract.Receipt, error)
	BorrowBook(ctx context.Context, signer contract.TxSigner, bookID uint64, deposit *big.Int) (*contract.Receipt, error)
	ReturnBook(ctx context.Context, signer contract.TxSigner, bookID uint64) (*contract.Receipt, error)
}

// SignerSource 按账户取得签名器
type SignerSource interface {
	Signer(ctx context.Context, account common.Address) (contract.TxSigner, error)
}

// BookView 书目中的一行
type BookView struct {
	types.Book
	Available bool `json:"available"`
	// Borrowable 有库存且账户当前没有借阅
	Borrowable bool `json:"borrowable"`
}

// Config 服务依赖
type Config struct {
	Contract Contract
	Signers  SignerSource
	Metadata history.Enricher
	// Hints 可为 nil
	Hints       hints.Store
	Concurrency int
	Bus         event.EventBus
	Logger      log.Logger
}

// Service 图书馆业务
type Service struct {
	contract    Contract
	signers     SignerSource
	meta        history.Enricher
	hints       hints.Store
	concurrency int
	bus         event.EventBus
	logger      log.Logger
}

// NewService 创建服务
func NewService(cfg Config) (*Service, error) {
	if cfg.Contract == nil {
		return nil, errors.New("contract is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = history.DefaultConcurrency
	}
	return &Service{
		contract:    cfg.Contract,
		signers:     cfg.Signers,
		meta:        cfg.Metadata,
		hints:       cfg.Hints,
		concurrency: cfg.Concurrency,
		bus:         cfg.Bus,
		logger:      logmod.NewModuleLogger(cfg.Logger, "library"),
	}, nil
}

// Catalog 全部书籍，保持合约返回的 ID 顺序
//
// account 为零地址时不读取当前借阅，所有有库存的书都可借。
func (s *Service) Catalog(ctx context.Context, account common.Address) ([]BookView, error) {
	ids, err := s.contract.AllBookIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}

	books := make([]*types.Book, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			book, err := s.book(gctx, id)
			if err != nil {
				return err
			}
			books[i] = book
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var current uint64
	if account != (common.Address{}) {
		current, err = s.currentBorrowID(ctx, account)
		if err != nil {
			return nil, err
		}
	}

	views := make([]BookView, 0, len(books))
	for _, b := range books {
		available := b.Available()
		views = append(views, BookView{
			Book:       *b,
			Available:  available,
			Borrowable: available && current == 0,
		})
	}
	return views, nil
}

// FilterBooks 按书名或作者过滤，大小写不敏感
func FilterBooks(views []BookView, query string) []BookView {
	if strings.TrimSpace(query) == "" {
		return views
	}
	out := make([]BookView, 0, len(views))
	for _, v := range views {
		if v.Book.Matches(query) {
			out = append(out, v)
		}
	}
	return out
}

// Book 读取单本书并补全元数据
func (s *Service) Book(ctx context.Context, id uint64) (*types.Book, error) {
	return s.book(ctx, id)
}

func (s *Service) book(ctx context.Context, id uint64) (*types.Book, error) {
	book, err := s.contract.GetBook(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get book %d: %w", id, err)
	}
	if s.meta != nil {
		s.meta.Enrich(ctx, book)
	}
	return book, nil
}

// CurrentBorrow 账户当前借阅的书，没有时返回 nil
func (s *Service) CurrentBorrow(ctx context.Context, account common.Address) (*types.Book, error) {
	id, err := s.currentBorrowID(ctx, account)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, nil
	}
	return s.book(ctx, id)
}

// CachedCurrentBorrow 上次记录的借阅 ID，仅用于先行展示
func (s *Service) CachedCurrentBorrow(ctx context.Context, account common.Address) (uint64, bool) {
	if s.hints == nil {
		return 0, false
	}
	id, ok, err := s.hints.Get(ctx, account)
	if err != nil {
		s.logger.Warnf("读取借阅提示失败 account=%s: %v", account.Hex(), err)
		return 0, false
	}
	return id, ok
}

// currentBorrowID 以链上值为准并同步提示缓存
func (s *Service) currentBorrowID(ctx context.Context, account common.Address) (uint64, error) {
	id, err := s.contract.CurrentBorrow(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("current borrow: %w", err)
	}
	if s.hints != nil {
		if id == 0 {
			err = s.hints.Delete(ctx, account)
		} else {
			err = s.hints.Set(ctx, account, id)
		}
		if err != nil {
			s.logger.Warnf("更新借阅提示失败 account=%s: %v", account.Hex(), err)
		}
	}
	return id, nil
}

// DepositPerMinute 每分钟押金，读取失败时为 0
func (s *Service) DepositPerMinute(ctx context.Context) *big.Int {
	v, err := s.contract.DepositPerMinute(ctx)
	if err != nil {
		s.logger.Warnf("读取押金失败，按 0 处理: %v", err)
		return new(big.Int)
	}
	return v
}

// Borrow 借书
//
// 先附带押金发送；失败且不是"已有借阅"时再不带押金发送一次，兼容旧合约。
func (s *Service) Borrow(ctx context.Context, account common.Address, bookID uint64) (*contract.Receipt, error) {
	signer, err := s.signer(ctx, account)
	if err != nil {
		return nil, err
	}

	deposit, derr := s.contract.DepositPerMinute(ctx)
	if derr != nil {
		s.logger.Warnf("读取押金失败，按旧合约借书: %v", derr)
	} else {
		rcpt, err := s.contract.BorrowBook(ctx, signer, bookID, deposit)
		if err == nil {
			s.published(event.EventTxConfirmed, "borrow", rcpt)
			return rcpt, nil
		}
		if isActiveBorrow(err) {
			return nil, fmt.Errorf("%w: %w", ErrActiveBorrow, err)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		s.logger.Warnf("附带押金借书失败，尝试不带押金 book=%d: %v", bookID, err)
	}

	rcpt, err := s.contract.BorrowBook(ctx, signer, bookID, nil)
	if err != nil {
		if isActiveBorrow(err) {
			return nil, fmt.Errorf("%w: %w", ErrActiveBorrow, err)
		}
		return nil, err
	}
	s.logger.Infof("旧合约模式借书成功 book=%d", bookID)
	s.published(event.EventTxConfirmed, "borrow", rcpt)
	return rcpt, nil
}

// Return 还书，bookID 为 0 时归还当前借阅
func (s *Service) Return(ctx context.Context, account common.Address, bookID uint64) (*contract.Receipt, error) {
	if bookID == 0 {
		id, err := s.currentBorrowID(ctx, account)
		if err != nil {
			return nil, err
		}
		if id == 0 {
			return nil, ErrNoCurrentBorrow
		}
		bookID = id
	}
	signer, err := s.signer(ctx, account)
	if err != nil {
		return nil, err
	}
	rcpt, err := s.contract.ReturnBook(ctx, signer, bookID)
	if err != nil {
		return nil, err
	}
	s.published(event.EventTxConfirmed, "return", rcpt)
	return rcpt, nil
}

// AddBook 管理员添加书籍
func (s *Service) AddBook(ctx context.Context, account common.Address, contentID string, stock uint64) (*contract.Receipt, error) {
	contentID = strings.TrimSpace(contentID)
	if contentID == "" {
		return nil, fmt.Errorf("%w: content id is required", ErrInvalidArgument)
	}
	if stock == 0 {
		return nil, fmt.Errorf("%w: stock must be positive", ErrInvalidArgument)
	}
	signer, err := s.signer(ctx, account)
	if err != nil {
		return nil, err
	}
	rcpt, err := s.contract.AddBook(ctx, signer, contentID, stock)
	if err != nil {
		return nil, err
	}
	s.published(event.EventTxConfirmed, "addBook", rcpt)
	return rcpt, nil
}

// RegisterMember 注册会员
func (s *Service) RegisterMember(ctx context.Context, account common.Address, name string) (*contract.Receipt, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: member name is required", ErrInvalidArgument)
	}
	signer, err := s.signer(ctx, account)
	if err != nil {
		return nil, err
	}
	rcpt, err := s.contract.RegisterMember(ctx, signer, name)
	if err != nil {
		return nil, err
	}
	s.published(event.EventTxConfirmed, "registerMember", rcpt)
	return rcpt, nil
}

// Stats 管理员统计
func (s *Service) Stats(ctx context.Context) (*types.LibraryStats, error) {
	st, err := s.contract.LibraryStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("library stats: %w", err)
	}
	return st, nil
}

// Members 从注册事件中列出会员
func (s *Service) Members(ctx context.Context) ([]types.Member, error) {
	members, err := s.contract.MemberRegistrations(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

// BorrowerName 借阅人姓名，未注册或读取失败时为 "Unknown"
func (s *Service) BorrowerName(ctx context.Context, account common.Address) string {
	m, err := s.contract.GetMember(ctx, account)
	if err != nil {
		s.logger.Warnf("读取会员信息失败 account=%s: %v", account.Hex(), err)
		return types.PlaceholderAuthor
	}
	if !m.IsRegistered || m.Name == "" {
		return types.PlaceholderAuthor
	}
	return m.Name
}

func (s *Service) signer(ctx context.Context, account common.Address) (contract.TxSigner, error) {
	if account == (common.Address{}) {
		return nil, ErrNotConnected
	}
	if s.signers == nil {
		return nil, contract.ErrNoSigner
	}
	return s.signers.Signer(ctx, account)
}

func (s *Service) published(t event.EventType, action string, rcpt *contract.Receipt) {
	s.logger.Infof("交易已确认 action=%s tx=%s block=%d", action, rcpt.TxHash.Hex(), rcpt.BlockNumber)
	if s.bus != nil {
		s.bus.Publish(t, action, rcpt.TxHash)
	}
}

func isActiveBorrow(err error) bool {
	var werr *contract.ContractWriteError
	if errors.As(err, &werr) && strings.Contains(strings.ToLower(werr.Reason), "active borrow") {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "active borrow")
}
