package main

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/shelfchain/v1/internal/app"
	"github.com/shelfchain/v1/internal/core/library"
	"github.com/shelfchain/v1/pkg/types"
)

var (
	addBookCID   string
	addBookStock uint64
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "管理员操作",
	Long:  "需要当前账户是合约的 admin",
}

// withAdmin 连接钱包并要求管理员身份
func withAdmin(cmd *cobra.Command, fn func(ctx context.Context, c *app.Components, s types.Session) error) error {
	return withSession(cmd, func(ctx context.Context, c *app.Components, s types.Session) error {
		if !s.IsAdmin {
			return explain(library.ErrNotAdmin)
		}
		return fn(ctx, c, s)
	})
}

var adminAddBookCmd = &cobra.Command{
	Use:   "add-book",
	Short: "添加书籍",
	Long:  "--cid 为元数据的内容 ID；不指定时从 profile 的 metadata_cids 中选择",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAdmin(cmd, func(ctx context.Context, c *app.Components, s types.Session) error {
			cid := addBookCID
			if cid == "" {
				var err error
				if cid, err = chooseCID(c.Profile.MetadataCIDs); err != nil {
					return err
				}
			}
			rcpt, err := c.Library.AddBook(ctx, s.Account, cid, addBookStock)
			if err != nil {
				return explain(err)
			}
			return printWrite(ctx, c, "addBook", rcpt)
		})
	},
}

func chooseCID(options []string) (string, error) {
	if len(options) == 0 {
		return "", fmt.Errorf("--cid is required: profile has no metadata_cids")
	}
	cid, err := pterm.DefaultInteractiveSelect.
		WithDefaultText("选择书籍元数据").
		WithOptions(options).
		Show()
	if err != nil {
		return "", fmt.Errorf("select cid: %w", err)
	}
	return cid, nil
}

var adminStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "图书馆统计",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAdmin(cmd, func(ctx context.Context, c *app.Components, s types.Session) error {
			st, err := c.Library.Stats(ctx)
			if err != nil {
				return explain(err)
			}
			return formatter.Print(statsView(*st))
		})
	},
}

var adminMembersCmd = &cobra.Command{
	Use:   "members",
	Short: "注册会员列表",
	Long:  "从 MemberRegistered 事件读取",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAdmin(cmd, func(ctx context.Context, c *app.Components, s types.Session) error {
			members, err := c.Library.Members(ctx)
			if err != nil {
				formatter.PrintError(explain(err))
				return formatter.Print(memberTable{})
			}
			return formatter.Print(memberTable(members))
		})
	},
}

type cidTable [][]string

func (t cidTable) Table() [][]string { return t }

var adminCIDsCmd = &cobra.Command{
	Use:   "cids",
	Short: "预置的元数据内容 ID",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, c *app.Components) error {
			rows := cidTable{{"CID", "Title", "Author"}}
			for _, cid := range c.Profile.MetadataCIDs {
				b := types.Book{ContentID: cid}
				c.Metadata.Enrich(ctx, &b)
				rows = append(rows, []string{cid, b.Name, b.Author})
			}
			return formatter.Print(rows)
		})
	},
}

func init() {
	adminAddBookCmd.Flags().StringVar(&addBookCID, "cid", "", "元数据内容 ID")
	adminAddBookCmd.Flags().Uint64Var(&addBookStock, "stock", 0, "库存数量")
	_ = adminAddBookCmd.MarkFlagRequired("stock")
	adminCmd.AddCommand(adminAddBookCmd, adminStatsCmd, adminMembersCmd, adminCIDsCmd)
}
