package library

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/shelfchain/v1/internal/core/history"
	logmod "github.com/shelfchain/v1/internal/core/infrastructure/log"
	"github.com/shelfchain/v1/pkg/interfaces/infrastructure/event"
	"github.com/shelfchain/v1/pkg/interfaces/infrastructure/log"
	"github.com/shelfchain/v1/pkg/types"
)

// ErrStale 刷新期间会话已重置，快照被丢弃
var ErrStale = errors.New("session changed during refresh")

// SessionView 读取当前会话
type SessionView interface {
	Session() types.Session
	Generation() uint64
}

// HistoryReader 借阅历史
type HistoryReader interface {
	All(ctx context.Context) (*history.Result, error)
	ForMember(ctx context.Context, member common.Address) (*history.Result, error)
}

// Snapshot 一次刷新得到的全部视图
//
// 读取失败不会中断刷新，对应列表为空，错误文本进入 Errors 作为提示横幅。
type Snapshot struct {
	Generation  uint64               `json:"generation"`
	Account     common.Address       `json:"account"`
	Stats       *types.LibraryStats  `json:"stats,omitempty"`
	Books       []BookView           `json:"books"`
	Current     *types.Book          `json:"current,omitempty"`
	History     []types.BorrowRecord `json:"history"`
	HistoryTier history.Tier         `json:"history_tier,omitempty"`
	Errors      []string             `json:"errors,omitempty"`
	RefreshedAt time.Time            `json:"refreshed_at"`
}

// Refresher 写操作之后重新读取视图
type Refresher struct {
	service  *Service
	history  HistoryReader
	sessions SessionView
	bus      event.EventBus
	logger   log.Logger
}

// NewRefresher 创建刷新器
func NewRefresher(service *Service, hist HistoryReader, sessions SessionView, bus event.EventBus, logger log.Logger) *Refresher {
	return &Refresher{
		service:  service,
		history:  hist,
		sessions: sessions,
		bus:      bus,
		logger:   logmod.NewModuleLogger(logger, "refresh"),
	}
}

// AfterWrite 依次读取统计、书目、当前借阅和历史
//
// 刷新与写操作不是原子的。会话代数在刷新期间变化时返回 ErrStale，结果不应被使用。
func (r *Refresher) AfterWrite(ctx context.Context) (*Snapshot, error) {
	sess := r.sessions.Session()
	snap := &Snapshot{
		Generation: sess.Generation,
		Account:    sess.Account,
		Books:      []BookView{},
		History:    []types.BorrowRecord{},
	}
	degrade := func(what string, err error) {
		r.logger.Warnf("刷新%s失败: %v", what, err)
		snap.Errors = append(snap.Errors, what+": "+err.Error())
	}

	if sess.IsAdmin {
		if st, err := r.service.Stats(ctx); err != nil {
			degrade("stats", err)
		} else {
			snap.Stats = st
		}
	}

	if books, err := r.service.Catalog(ctx, sess.Account); err != nil {
		degrade("catalog", err)
	} else {
		snap.Books = books
	}

	if sess.HasAccount() {
		if cur, err := r.service.CurrentBorrow(ctx, sess.Account); err != nil {
			degrade("current borrow", err)
		} else {
			snap.Current = cur
		}
	}

	if r.history != nil && sess.HasAccount() {
		var (
			res *history.Result
			err error
		)
		if sess.IsAdmin {
			res, err = r.history.All(ctx)
		} else {
			res, err = r.history.ForMember(ctx, sess.Account)
		}
		if err != nil {
			degrade("history", err)
		} else {
			snap.History = res.Records
			snap.HistoryTier = res.Tier
		}
	}

	if r.sessions.Generation() != snap.Generation {
		r.logger.Debugf("会话已变化，丢弃刷新结果 generation=%d", snap.Generation)
		return nil, ErrStale
	}
	snap.RefreshedAt = time.Now().UTC()
	if r.bus != nil {
		r.bus.Publish(event.EventViewRefreshed, snap)
	}
	return snap, nil
}
