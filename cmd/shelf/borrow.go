package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/shelfchain/v1/client/core/contract"
	"github.com/shelfchain/v1/internal/app"
	"github.com/shelfchain/v1/internal/core/library"
	"github.com/shelfchain/v1/pkg/types"
)

var (
	historyAll   bool
	registerName string
)

// printWrite 写操作成功后刷新视图再输出
//
// 刷新失败不影响写操作的结果。
func printWrite(ctx context.Context, c *app.Components, action string, rcpt *contract.Receipt) error {
	formatter.PrintSuccess(fmt.Sprintf("%s 已确认 tx=%s", action, rcpt.TxHash.Hex()))
	v := writeView{Action: action, Receipt: rcpt}
	snap, err := c.Refresher.AfterWrite(ctx)
	switch {
	case errors.Is(err, library.ErrStale):
		formatter.PrintWarning("会话已重置，未刷新视图")
	case err != nil:
		formatter.PrintWarning(fmt.Sprintf("刷新视图失败: %v", err))
	default:
		v.Snapshot = snap
	}
	return formatter.Print(v)
}

var borrowCmd = &cobra.Command{
	Use:   "borrow <id>",
	Short: "借书",
	Long: `借阅一本书，押金按合约的 DEPOSIT_PER_MINUTE 随交易发送。

旧版合约不接受押金时会改为不带押金重发一次。已有借阅时不会重试。`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseBookID(args[0])
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, c *app.Components, s types.Session) error {
			if deposit := c.Library.DepositPerMinute(ctx); deposit.Sign() > 0 {
				formatter.PrintInfo("押金 " + ethCell(deposit))
			}
			rcpt, err := c.Library.Borrow(ctx, s.Account, id)
			if err != nil {
				return explain(err)
			}
			return printWrite(ctx, c, "borrow", rcpt)
		})
	},
}

var returnCmd = &cobra.Command{
	Use:   "return [id]",
	Short: "还书",
	Long:  "不指定 id 时归还当前借阅的书",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var id uint64
		if len(args) == 1 {
			var err error
			if id, err = parseBookID(args[0]); err != nil {
				return err
			}
		}
		return withSession(cmd, func(ctx context.Context, c *app.Components, s types.Session) error {
			rcpt, err := c.Library.Return(ctx, s.Account, id)
			if err != nil {
				return explain(err)
			}
			return printWrite(ctx, c, "return", rcpt)
		})
	},
}

var currentCmd = &cobra.Command{
	Use:   "current",
	Short: "当前借阅",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, c *app.Components, s types.Session) error {
			book, err := c.Library.CurrentBorrow(ctx, s.Account)
			if err != nil {
				if hint, ok := c.Library.CachedCurrentBorrow(ctx, s.Account); ok {
					formatter.PrintWarning(fmt.Sprintf("读取失败，上次记录的借阅为 #%d", hint))
				}
				return err
			}
			if book == nil {
				formatter.PrintInfo("当前没有借阅")
				return nil
			}
			return formatter.Print(bookTable{{Book: *book, Available: book.Stock > 0}})
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "借阅历史",
	Long:  "默认显示当前账户的记录；--all 显示全部记录（仅管理员）。按借阅时间从新到旧排列。",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, c *app.Components, s types.Session) error {
			if historyAll {
				if !s.IsAdmin {
					return explain(library.ErrNotAdmin)
				}
				res, err := c.History.All(ctx)
				if err != nil {
					return explain(err)
				}
				names := make(map[common.Address]string)
				for _, r := range res.Records {
					if _, ok := names[r.Borrower]; !ok {
						names[r.Borrower] = c.Library.BorrowerName(ctx, r.Borrower)
					}
				}
				return formatter.Print(historyTable{Records: res.Records, Tier: string(res.Tier), Names: names})
			}

			res, err := c.History.ForMember(ctx, s.Account)
			if err != nil {
				return explain(err)
			}
			return formatter.Print(historyTable{Records: res.Records, Tier: string(res.Tier)})
		})
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "注册会员",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, c *app.Components, s types.Session) error {
			if s.IsMember {
				formatter.PrintInfo("已经是会员")
				return nil
			}
			rcpt, err := c.Library.RegisterMember(ctx, s.Account, registerName)
			if err != nil {
				return explain(err)
			}
			return printWrite(ctx, c, "register", rcpt)
		})
	},
}

func init() {
	historyCmd.Flags().BoolVar(&historyAll, "all", false, "全部借阅记录（管理员）")
	registerCmd.Flags().StringVar(&registerName, "name", "", "会员名")
	_ = registerCmd.MarkFlagRequired("name")
}
