// Package history 读取并整理借阅历史
//
// 合约在不同时期部署过两种记录格式，读取按以下层级依次回退：
//
//  1. 新格式批量接口（getAllBorrowHistory / getMemberBorrowHistory）
//  2. 旧格式批量接口
//  3. borrowCount 加逐条 borrowHistory(i)，每条先新格式后旧格式
//
// 任何一层成功即不再尝试后续层级。
package history

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	logmod "github.com/shelfchain/v1/internal/core/infrastructure/log"
	"github.com/shelfchain/v1/internal/core/infrastructure/metrics"
	"github.com/shelfchain/v1/pkg/interfaces/infrastructure/log"
	"github.com/shelfchain/v1/pkg/types"
)

// Scope 历史范围
type Scope string

const (
	ScopeAll    Scope = "all"
	ScopeMember Scope = "member"
)

// Tier 提供结果的读取层级
type Tier string

const (
	TierModern Tier = "modern"
	TierLegacy Tier = "legacy"
	TierScan   Tier = "scan"
)

// DefaultConcurrency 补全书籍信息的并发上限
const DefaultConcurrency = 8

// RecordSource 一种记录格式的读取接口
type RecordSource interface {
	AllBorrowHistory(ctx context.Context) ([]interface{}, error)
	MemberBorrowHistory(ctx context.Context, member common.Address) ([]interface{}, error)
	BorrowHistoryAt(ctx context.Context, index uint64) (interface{}, error)
}

// ModernSource 新格式读取接口，额外提供记录总数
type ModernSource interface {
	RecordSource
	BorrowCount(ctx context.Context) (uint64, error)
}

// BookSource 书籍读取
type BookSource interface {
	GetBook(ctx context.Context, id uint64) (*types.Book, error)
}

// Enricher 为书籍补全元数据，失败时自行填充占位值
type Enricher interface {
	Enrich(ctx context.Context, book *types.Book)
}

// HistoryUnavailableError 所有层级都失败
type HistoryUnavailableError struct {
	Scope Scope
	Err   error
}

func (e *HistoryUnavailableError) Error() string {
	return fmt.Sprintf("%s borrow history unavailable: %v", e.Scope, e.Err)
}

func (e *HistoryUnavailableError) Unwrap() error {
	return e.Err
}

// Result 整理后的历史
type Result struct {
	Records []types.BorrowRecord
	Tier    Tier
}

// Config 协调器依赖
type Config struct {
	Modern      ModernSource
	Legacy      RecordSource
	Books       BookSource
	Metadata    Enricher
	Concurrency int
	Logger      log.Logger
	Metrics     *metrics.Collectors
}

// Reconciler 历史协调器
type Reconciler struct {
	modern      ModernSource
	legacy      RecordSource
	books       BookSource
	meta        Enricher
	concurrency int
	logger      log.Logger
	metrics     *metrics.Collectors
}

// NewReconciler 创建协调器，Legacy 和 Metadata 可为 nil
func NewReconciler(cfg Config) *Reconciler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Reconciler{
		modern:      cfg.Modern,
		legacy:      cfg.Legacy,
		books:       cfg.Books,
		meta:        cfg.Metadata,
		concurrency: cfg.Concurrency,
		logger:      logmod.NewModuleLogger(cfg.Logger, "history"),
		metrics:     cfg.Metrics,
	}
}

// All 全部借阅历史（管理员视图）
func (r *Reconciler) All(ctx context.Context) (*Result, error) {
	return r.reconcile(ctx, ScopeAll, common.Address{})
}

// ForMember 指定会员的借阅历史
func (r *Reconciler) ForMember(ctx context.Context, member common.Address) (*Result, error) {
	return r.reconcile(ctx, ScopeMember, member)
}

func (r *Reconciler) reconcile(ctx context.Context, scope Scope, member common.Address) (*Result, error) {
	raw, tier, err := r.fetch(ctx, scope, member)
	if err != nil {
		r.metrics.IncHistoryTier(string(scope), "unavailable")
		r.logger.Errorf("借阅历史不可用 scope=%s: %v", scope, err)
		return nil, &HistoryUnavailableError{Scope: scope, Err: err}
	}
	r.metrics.IncHistoryTier(string(scope), string(tier))

	records := make([]types.BorrowRecord, 0, len(raw))
	for _, item := range raw {
		rec, ok := Normalize(item)
		if !ok {
			continue
		}
		if scope == ScopeMember && tier == TierScan && rec.Borrower != member {
			continue
		}
		records = append(records, rec)
	}

	records, err = r.enrich(ctx, records)
	if err != nil {
		return nil, err
	}

	// 按借出时间倒序，相同时间保持合约顺序
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].BorrowTime > records[j].BorrowTime
	})

	r.logger.Debugf("借阅历史 scope=%s tier=%s count=%d", scope, tier, len(records))
	return &Result{Records: records, Tier: tier}, nil
}

// fetch 依次尝试各层级，返回原始记录
func (r *Reconciler) fetch(ctx context.Context, scope Scope, member common.Address) ([]interface{}, Tier, error) {
	raw, err := bulk(ctx, r.modern, scope, member)
	if err == nil {
		return raw, TierModern, nil
	}
	r.logger.Warnf("新格式批量读取失败，尝试旧格式 scope=%s: %v", scope, err)

	if r.legacy != nil {
		raw, err = bulk(ctx, r.legacy, scope, member)
		if err == nil {
			return raw, TierLegacy, nil
		}
		r.logger.Warnf("旧格式批量读取失败，改为逐条扫描 scope=%s: %v", scope, err)
	}

	raw, err = r.scan(ctx)
	if err != nil {
		return nil, "", err
	}
	return raw, TierScan, nil
}

func bulk(ctx context.Context, src RecordSource, scope Scope, member common.Address) ([]interface{}, error) {
	if scope == ScopeMember {
		return src.MemberBorrowHistory(ctx, member)
	}
	return src.AllBorrowHistory(ctx)
}

// scan 逐条读取 1..borrowCount
//
// 单条两种格式都失败时跳过该条；全部失败才视为本层失败。
func (r *Reconciler) scan(ctx context.Context) ([]interface{}, error) {
	count, err := r.modern.BorrowCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("read borrow count: %w", err)
	}

	raw := make([]interface{}, 0, count)
	var lastErr error
	for i := uint64(1); i <= count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item, err := r.modern.BorrowHistoryAt(ctx, i)
		if err != nil && r.legacy != nil {
			item, err = r.legacy.BorrowHistoryAt(ctx, i)
		}
		if err != nil {
			r.logger.Warnf("跳过无法读取的借阅记录 index=%d: %v", i, err)
			lastErr = err
			continue
		}
		raw = append(raw, item)
	}

	if count > 0 && len(raw) == 0 {
		return nil, fmt.Errorf("all %d indexed records unreadable: %w", count, lastErr)
	}
	return raw, nil
}

// enrich 为记录关联书籍和元数据，每本书只读取一次
//
// 书籍读取失败的记录被丢弃并记录日志，不影响其他记录。
func (r *Reconciler) enrich(ctx context.Context, records []types.BorrowRecord) ([]types.BorrowRecord, error) {
	if len(records) == 0 {
		return records, nil
	}

	ids := make([]uint64, 0, len(records))
	seen := make(map[uint64]bool, len(records))
	for _, rec := range records {
		if !seen[rec.BookID] {
			seen[rec.BookID] = true
			ids = append(ids, rec.BookID)
		}
	}

	books := make([]*types.Book, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			book, err := r.books.GetBook(gctx, id)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				r.logger.Warnf("读取书籍失败，丢弃相关借阅记录 bookId=%d: %v", id, err)
				return nil
			}
			if r.meta != nil {
				r.meta.Enrich(gctx, book)
			}
			books[i] = book
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byID := make(map[uint64]*types.Book, len(ids))
	for i, id := range ids {
		if books[i] != nil {
			byID[id] = books[i]
		}
	}

	out := records[:0]
	for _, rec := range records {
		book, ok := byID[rec.BookID]
		if !ok {
			continue
		}
		b := *book
		rec.Book = &b
		out = append(out, rec)
	}
	return out, nil
}
