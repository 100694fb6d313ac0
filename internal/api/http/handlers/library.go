package handlers

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/shelfchain/v1/client/core/contract"
	logmod "github.com/shelfchain/v1/internal/core/infrastructure/log"
	"github.com/shelfchain/v1/internal/core/library"
	"github.com/shelfchain/v1/pkg/interfaces/infrastructure/log"
	"github.com/shelfchain/v1/pkg/types"
)

// Sessions 会话管理
type Sessions interface {
	Session() types.Session
	Connect(ctx context.Context) (types.Session, error)
	Disconnect(ctx context.Context) types.Session
	OnReset(fn func())
}

// LibraryHandlers 会话、书目、借还、历史和管理员接口
type LibraryHandlers struct {
	sessions  Sessions
	library   *library.Service
	history   library.HistoryReader
	refresher *library.Refresher
	logger    log.Logger

	// snapshot 最近一次刷新的视图，会话重置时清空
	snapshot atomic.Pointer[library.Snapshot]
}

// NewLibraryHandlers 创建处理器并注册重置钩子
func NewLibraryHandlers(sessions Sessions, svc *library.Service, hist library.HistoryReader, refresher *library.Refresher, logger log.Logger) *LibraryHandlers {
	h := &LibraryHandlers{
		sessions:  sessions,
		library:   svc,
		history:   hist,
		refresher: refresher,
		logger:    logmod.NewModuleLogger(logger, "api"),
	}
	sessions.OnReset(func() { h.snapshot.Store(nil) })
	return h
}

// RegisterRoutes 注册路由
func (h *LibraryHandlers) RegisterRoutes(v1 *gin.RouterGroup) {
	sess := v1.Group("/session")
	sess.GET("", h.GetSession)
	sess.POST("/connect", h.Connect)
	sess.POST("/disconnect", h.Disconnect)

	books := v1.Group("/books")
	books.GET("", h.ListBooks)
	books.POST("", h.requireAdmin, h.AddBook)
	books.GET("/:id", h.GetBook)
	books.POST("/:id/borrow", h.requireAccount, h.Borrow)
	books.POST("/:id/return", h.requireAccount, h.Return)

	v1.GET("/borrow/current", h.requireAccount, h.CurrentBorrow)
	v1.GET("/deposit", h.Deposit)
	v1.GET("/snapshot", h.Snapshot)

	v1.GET("/history/me", h.requireAccount, h.MyHistory)
	v1.GET("/history", h.requireAdmin, h.AllHistory)

	v1.GET("/stats", h.requireAdmin, h.Stats)
	v1.GET("/members", h.requireAdmin, h.Members)
	v1.POST("/members", h.requireAccount, h.Register)
}

func (h *LibraryHandlers) requireAccount(c *gin.Context) {
	if !h.sessions.Session().HasAccount() {
		fail(c, library.ErrNotConnected)
		return
	}
	c.Next()
}

func (h *LibraryHandlers) requireAdmin(c *gin.Context) {
	s := h.sessions.Session()
	if !s.HasAccount() {
		fail(c, library.ErrNotConnected)
		return
	}
	if !s.IsAdmin {
		fail(c, library.ErrNotAdmin)
		return
	}
	c.Next()
}

// ===== 会话 =====

func (h *LibraryHandlers) GetSession(c *gin.Context) {
	ok(c, h.sessions.Session())
}

func (h *LibraryHandlers) Connect(c *gin.Context) {
	s, err := h.sessions.Connect(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, s)
}

func (h *LibraryHandlers) Disconnect(c *gin.Context) {
	ok(c, h.sessions.Disconnect(c.Request.Context()))
}

// ===== 书目 =====

func (h *LibraryHandlers) ListBooks(c *gin.Context) {
	s := h.sessions.Session()
	views, err := h.library.Catalog(c.Request.Context(), s.Account)
	if err != nil {
		degraded(c, []library.BookView{}, err)
		return
	}
	ok(c, library.FilterBooks(views, c.Query("q")))
}

func (h *LibraryHandlers) GetBook(c *gin.Context) {
	id, good := bookID(c)
	if !good {
		return
	}
	book, err := h.library.Book(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, book)
}

type addBookRequest struct {
	ContentID string `json:"content_id" binding:"required"`
	Stock     uint64 `json:"stock" binding:"required"`
}

func (h *LibraryHandlers) AddBook(c *gin.Context) {
	var req addBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "content_id and a positive stock are required")
		return
	}
	s := h.sessions.Session()
	rcpt, err := h.library.AddBook(c.Request.Context(), s.Account, req.ContentID, req.Stock)
	h.afterWrite(c, rcpt, err)
}

func (h *LibraryHandlers) Borrow(c *gin.Context) {
	id, good := bookID(c)
	if !good {
		return
	}
	s := h.sessions.Session()
	rcpt, err := h.library.Borrow(c.Request.Context(), s.Account, id)
	h.afterWrite(c, rcpt, err)
}

func (h *LibraryHandlers) Return(c *gin.Context) {
	id, good := bookID(c)
	if !good {
		return
	}
	s := h.sessions.Session()
	rcpt, err := h.library.Return(c.Request.Context(), s.Account, id)
	h.afterWrite(c, rcpt, err)
}

type currentBorrowResponse struct {
	Book *types.Book `json:"book"`
	// HintID 本地记录的上次借阅，仅供参考
	HintID uint64 `json:"hint_id,omitempty"`
}

func (h *LibraryHandlers) CurrentBorrow(c *gin.Context) {
	ctx := c.Request.Context()
	account := h.sessions.Session().Account
	hint, _ := h.library.CachedCurrentBorrow(ctx, account)
	book, err := h.library.CurrentBorrow(ctx, account)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, currentBorrowResponse{Book: book, HintID: hint})
}

func (h *LibraryHandlers) Deposit(c *gin.Context) {
	ok(c, gin.H{"deposit_per_minute": h.library.DepositPerMinute(c.Request.Context()).String()})
}

// Snapshot 最近一次刷新结果，没有时立即刷新
func (h *LibraryHandlers) Snapshot(c *gin.Context) {
	if snap := h.snapshot.Load(); snap != nil {
		ok(c, snap)
		return
	}
	snap, err := h.refresher.AfterWrite(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	h.snapshot.Store(snap)
	ok(c, snap)
}

// ===== 历史 =====

type historyResponse struct {
	Records []types.BorrowRecord `json:"records"`
	Tier    string               `json:"tier"`
	// BorrowerNames 管理员视图中借阅人地址到姓名
	BorrowerNames map[common.Address]string `json:"borrower_names,omitempty"`
}

func (h *LibraryHandlers) MyHistory(c *gin.Context) {
	res, err := h.history.ForMember(c.Request.Context(), h.sessions.Session().Account)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, historyResponse{Records: res.Records, Tier: string(res.Tier)})
}

func (h *LibraryHandlers) AllHistory(c *gin.Context) {
	ctx := c.Request.Context()
	res, err := h.history.All(ctx)
	if err != nil {
		fail(c, err)
		return
	}
	names := make(map[common.Address]string)
	for _, r := range res.Records {
		if _, seen := names[r.Borrower]; !seen {
			names[r.Borrower] = h.library.BorrowerName(ctx, r.Borrower)
		}
	}
	ok(c, historyResponse{Records: res.Records, Tier: string(res.Tier), BorrowerNames: names})
}

// ===== 管理员与会员 =====

func (h *LibraryHandlers) Stats(c *gin.Context) {
	st, err := h.library.Stats(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, st)
}

func (h *LibraryHandlers) Members(c *gin.Context) {
	members, err := h.library.Members(c.Request.Context())
	if err != nil {
		degraded(c, []types.Member{}, err)
		return
	}
	ok(c, members)
}

type registerRequest struct {
	Name string `json:"name" binding:"required"`
}

func (h *LibraryHandlers) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "name is required")
		return
	}
	rcpt, err := h.library.RegisterMember(c.Request.Context(), h.sessions.Session().Account, req.Name)
	h.afterWrite(c, rcpt, err)
}

// ===== 写操作后刷新 =====

type writeResponse struct {
	Receipt  *contract.Receipt `json:"receipt"`
	Snapshot *library.Snapshot `json:"snapshot,omitempty"`
	// Stale 刷新期间会话已重置，未附带视图
	Stale bool `json:"stale,omitempty"`
}

func (h *LibraryHandlers) afterWrite(c *gin.Context, rcpt *contract.Receipt, err error) {
	if err != nil {
		fail(c, err)
		return
	}
	resp := writeResponse{Receipt: rcpt}
	snap, err := h.refresher.AfterWrite(c.Request.Context())
	switch {
	case errors.Is(err, library.ErrStale):
		resp.Stale = true
	case err != nil:
		h.logger.Warnf("写操作后刷新失败: %v", err)
	default:
		h.snapshot.Store(snap)
		resp.Snapshot = snap
	}
	ok(c, resp)
}

func bookID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "book id must be a positive integer")
		return 0, false
	}
	return id, true
}
