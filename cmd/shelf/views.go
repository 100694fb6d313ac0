package main

import (
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"

	"github.com/shelfchain/v1/client/core/contract"
	"github.com/shelfchain/v1/client/core/wallet"
	"github.com/shelfchain/v1/internal/core/library"
	"github.com/shelfchain/v1/pkg/types"
)

// 表格视图，JSON 输出时直接序列化底层数据

type bookTable []library.BookView

func (t bookTable) Table() [][]string {
	rows := [][]string{{"ID", "Title", "Author", "Stock", "Status"}}
	for _, v := range t {
		status := "available"
		switch {
		case !v.Available:
			status = "out of stock"
		case !v.Borrowable:
			status = "return your book first"
		}
		rows = append(rows, []string{
			strconv.FormatUint(v.ID, 10),
			v.Name,
			v.Author,
			fmt.Sprintf("%d/%d", v.Stock, v.TotalCopies),
			status,
		})
	}
	return rows
}

type historyTable struct {
	Records []types.BorrowRecord      `json:"records"`
	Tier    string                    `json:"tier"`
	Names   map[common.Address]string `json:"borrower_names,omitempty"`
}

func (t historyTable) Table() [][]string {
	header := []string{"Borrow", "Book", "Borrowed", "Returned", "Due", "Deposit"}
	if t.Names != nil {
		header = append(header, "Borrower")
	}
	rows := [][]string{header}
	for _, r := range t.Records {
		title := strconv.FormatUint(r.BookID, 10)
		if r.Book != nil {
			title = fmt.Sprintf("%d %s", r.BookID, r.Book.Name)
		}
		row := []string{
			strconv.FormatUint(r.BorrowID, 10),
			title,
			formatTime(r.BorrowTime),
			returnedCell(r),
			dueCell(r.DueDate),
			ethCell(r.Deposit),
		}
		if t.Names != nil {
			row = append(row, fmt.Sprintf("%s (%s)", t.Names[r.Borrower], shortAddr(r.Borrower)))
		}
		rows = append(rows, row)
	}
	return rows
}

type memberTable []types.Member

func (t memberTable) Table() [][]string {
	rows := [][]string{{"Address", "Name", "Registered"}}
	for _, m := range t {
		rows = append(rows, []string{m.Address.Hex(), m.Name, formatTime(m.RegisteredAt)})
	}
	return rows
}

type accountTable []*wallet.AccountInfo

func (t accountTable) Table() [][]string {
	rows := [][]string{{"", "Address", "Label", "Source", "Created"}}
	for _, a := range t {
		mark := ""
		if a.Selected {
			mark = "*"
		}
		rows = append(rows, []string{mark, a.Address.Hex(), a.Label, a.Source, a.CreatedAt.Format("2006-01-02 15:04")})
	}
	return rows
}

type sessionView struct {
	types.Session
	Profile  string `json:"profile"`
	ChainID  uint64 `json:"chain_id"`
	Contract string `json:"contract"`
}

func (v sessionView) Table() [][]string {
	account := "-"
	if v.HasAccount() {
		account = v.Account.Hex()
	}
	return [][]string{
		{"Key", "Value"},
		{"profile", v.Profile},
		{"chain", strconv.FormatUint(v.ChainID, 10)},
		{"contract", v.Contract},
		{"state", string(v.State)},
		{"account", account},
		{"admin", yesNo(v.IsAdmin)},
		{"member", yesNo(v.IsMember)},
	}
}

type writeView struct {
	Action   string            `json:"action"`
	Receipt  *contract.Receipt `json:"receipt"`
	Snapshot *library.Snapshot `json:"snapshot,omitempty"`
}

func (v writeView) Table() [][]string {
	rows := [][]string{
		{"Key", "Value"},
		{"action", v.Action},
		{"tx", v.Receipt.TxHash.Hex()},
		{"block", strconv.FormatUint(v.Receipt.BlockNumber, 10)},
		{"gas", strconv.FormatUint(v.Receipt.GasUsed, 10)},
	}
	if v.Snapshot != nil {
		current := "-"
		if v.Snapshot.Current != nil {
			current = fmt.Sprintf("%d %s", v.Snapshot.Current.ID, v.Snapshot.Current.Name)
		}
		rows = append(rows,
			[]string{"current borrow", current},
			[]string{"history", fmt.Sprintf("%d records (%s)", len(v.Snapshot.History), v.Snapshot.HistoryTier)},
		)
		for _, e := range v.Snapshot.Errors {
			rows = append(rows, []string{"warning", e})
		}
	}
	return rows
}

type statsView types.LibraryStats

func (v statsView) Table() [][]string {
	return [][]string{
		{"Metric", "Value"},
		{"total books", strconv.FormatUint(v.TotalBooks, 10)},
		{"total members", strconv.FormatUint(v.TotalMembers, 10)},
		{"total borrows", strconv.FormatUint(v.TotalBorrows, 10)},
		{"active loans", strconv.FormatUint(v.ActiveLoans, 10)},
	}
}

func formatTime(unix uint64) string {
	if unix == 0 {
		return "-"
	}
	return time.Unix(int64(unix), 0).Format("2006-01-02 15:04")
}

func returnedCell(r types.BorrowRecord) string {
	if !r.Returned {
		return "borrowing"
	}
	return formatTime(r.ReturnTime)
}

func dueCell(due *uint64) string {
	if due == nil {
		return "-"
	}
	return formatTime(*due)
}

// ethCell wei 转 ETH 文本
func ethCell(wei *big.Int) string {
	if wei == nil {
		return "-"
	}
	f := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(params.Ether))
	return f.Text('f', 6) + " ETH"
}

func shortAddr(a common.Address) string {
	h := a.Hex()
	return h[:6] + "…" + h[len(h)-4:]
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
