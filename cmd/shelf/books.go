package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/shelfchain/v1/internal/app"
	"github.com/shelfchain/v1/internal/core/library"
)

var (
	booksSearch string
	booksOut    string
)

var booksCmd = &cobra.Command{
	Use:   "books",
	Short: "书目",
}

// grantedAccount 已授权时静默连接，返回当前账户，否则为零地址
func grantedAccount(ctx context.Context, c *app.Components) common.Address {
	accounts, err := c.Provider.Accounts(ctx)
	if err != nil || len(accounts) == 0 {
		return common.Address{}
	}
	s, err := c.Sessions.Connect(ctx)
	if err != nil {
		formatter.PrintWarning(explain(err).Error())
		return common.Address{}
	}
	return s.Account
}

var booksListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出全部书籍",
	Long:  "库存为 0 的书不可借；当前账户已有借阅时所有书都不可借。",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, c *app.Components) error {
			views, err := c.Library.Catalog(ctx, grantedAccount(ctx, c))
			if err != nil {
				formatter.PrintError(explain(err))
				return formatter.Print(bookTable{})
			}
			return formatter.Print(bookTable(library.FilterBooks(views, booksSearch)))
		})
	},
}

var booksReadCmd = &cobra.Command{
	Use:   "read <id>",
	Short: "打开书籍文档",
	Long:  "不带 --out 时只打印文档地址，带 --out 时下载到文件（- 表示标准输出）",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseBookID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, c *app.Components) error {
			book, err := c.Library.Book(ctx, id)
			if err != nil {
				return err
			}
			if booksOut == "" {
				url := c.Metadata.DocumentURL(ctx, book)
				if url == "" {
					return fmt.Errorf("book %d has no document", id)
				}
				return formatter.Print(map[string]interface{}{"id": id, "title": book.Name, "url": url})
			}

			body, url, err := c.Metadata.OpenDocument(ctx, book)
			if err != nil {
				return err
			}
			defer body.Close()

			var w io.Writer = os.Stdout
			if booksOut != "-" {
				f, err := os.Create(booksOut)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			n, err := io.Copy(w, body)
			if err != nil {
				return fmt.Errorf("download %s: %w", url, err)
			}
			if booksOut != "-" {
				formatter.PrintSuccess(fmt.Sprintf("已保存 %s (%d bytes)", booksOut, n))
			}
			return nil
		})
	},
}

func parseBookID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid book id %q", s)
	}
	return id, nil
}

func init() {
	booksListCmd.Flags().StringVarP(&booksSearch, "search", "s", "", "按书名或作者过滤（不区分大小写）")
	booksReadCmd.Flags().StringVar(&booksOut, "out", "", "下载到文件")
	booksCmd.AddCommand(booksListCmd, booksReadCmd)
}
