// Package types 图书馆合约的视图类型和会话状态
package types

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// 元数据缺失时的占位值
const (
	PlaceholderName   = "Unknown Book"
	PlaceholderAuthor = "Unknown"
)

// Book 合约中的一本书，Name/Author 来自内容网关上的元数据
type Book struct {
	ID          uint64 `json:"id"`
	ContentID   string `json:"content_id"`
	Stock       uint64 `json:"stock"`
	TotalCopies uint64 `json:"total_copies"`

	Name        string `json:"name"`
	Author      string `json:"author"`
	DocumentURL string `json:"document_url,omitempty"`
	// MetadataPlaceholder 为 true 表示 Name/Author 为占位值
	MetadataPlaceholder bool `json:"metadata_placeholder,omitempty"`
}

// Available 是否还有库存
func (b *Book) Available() bool {
	return b != nil && b.Stock > 0
}

// Matches 按书名或作者做不区分大小写的包含匹配，空查询匹配全部
func (b *Book) Matches(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(b.Name), q) ||
		strings.Contains(strings.ToLower(b.Author), q)
}

// BorrowRecord 一条借阅记录
//
// DueDate 和 Deposit 为 nil 表示旧合约没有这两个字段。
type BorrowRecord struct {
	BorrowID   uint64         `json:"borrow_id"`
	Borrower   common.Address `json:"borrower"`
	BookID     uint64         `json:"book_id"`
	BorrowTime uint64         `json:"borrow_time"`
	ReturnTime uint64         `json:"return_time"`
	Returned   bool           `json:"returned"`
	DueDate    *uint64        `json:"due_date,omitempty"`
	Deposit    *big.Int       `json:"deposit,omitempty"`

	Book *Book `json:"book,omitempty"`
}

// DueDateOrZero 展示用，旧记录返回 0
func (r *BorrowRecord) DueDateOrZero() uint64 {
	if r.DueDate == nil {
		return 0
	}
	return *r.DueDate
}

// DepositOrZero 展示用，旧记录返回 0
func (r *BorrowRecord) DepositOrZero() *big.Int {
	if r.Deposit == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(r.Deposit)
}

// Legacy 是否为缺少 dueDate/deposit 的旧格式记录
func (r *BorrowRecord) Legacy() bool {
	return r.DueDate == nil && r.Deposit == nil
}

// LibraryStats 管理员面板统计
type LibraryStats struct {
	TotalBooks   uint64 `json:"total_books"`
	TotalMembers uint64 `json:"total_members"`
	TotalBorrows uint64 `json:"total_borrows"`
	ActiveLoans  uint64 `json:"active_loans"`
}

// Member 注册会员
type Member struct {
	Address      common.Address `json:"address"`
	Name         string         `json:"name"`
	RegisteredAt uint64         `json:"registered_at"`
	IsRegistered bool           `json:"is_registered"`
}

// SessionState 会话状态
type SessionState string

const (
	SessionDisconnected SessionState = "disconnected"
	SessionConnecting   SessionState = "connecting"
	SessionConnected    SessionState = "connected"
)

// Session 当前钱包会话
//
// Account 为零地址表示未连接，此时 IsAdmin/IsMember 恒为 false。
type Session struct {
	State      SessionState   `json:"state"`
	Account    common.Address `json:"account"`
	IsAdmin    bool           `json:"is_admin"`
	IsMember   bool           `json:"is_member"`
	Connecting bool           `json:"connecting"`
	// Generation 每次重置递增，用于丢弃过期的读取结果
	Generation uint64 `json:"generation"`
}

// HasAccount 是否已连接账户
func (s Session) HasAccount() bool {
	return s.Account != (common.Address{})
}
