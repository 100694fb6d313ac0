package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shelfchain/v1/client/core/wallet"
	"github.com/shelfchain/v1/internal/app"
	"github.com/shelfchain/v1/internal/app/version"
)

var (
	serveListen      string
	serveAutoApprove bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动本地网关",
	Long: `启动本地 HTTP 网关，持有一个会话并提供 JSON API、websocket 事件和 /metrics。

连接授权和解锁密码在本终端中输入。设置 SHELF_PASSWORD 并加上 --auto-approve
可以在无终端的环境中运行。

  GET  /api/v1/session            POST /api/v1/session/connect
  GET  /api/v1/books?q=           POST /api/v1/books/:id/borrow
  GET  /api/v1/history/me         GET  /api/v1/events (websocket)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		opts := []app.Option{app.WithAPI(serveListen)}
		if pw := os.Getenv("SHELF_PASSWORD"); serveAutoApprove || pw != "" {
			opts = append(opts, app.WithPrompter(wallet.StaticPrompter{Allow: serveAutoApprove, Secret: pw}))
		}

		a, err := startApp(ctx, opts...)
		if err != nil {
			return err
		}
		c := a.Components()
		listen := serveListen
		if listen == "" {
			listen = c.Profile.API.Listen
		}
		formatter.PrintSuccess(fmt.Sprintf("本地网关已启动 http://%s (profile %s, chain %d)", listen, c.Profile.Name, c.Profile.ChainID))
		formatter.PrintInfo("按 Ctrl+C 停止")
		a.Wait()
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本",
	RunE: func(cmd *cobra.Command, args []string) error {
		if globalFlags.OutputFormat == "table" {
			fmt.Println(version.GetFullVersion())
			return nil
		}
		return formatter.Print(version.GetBuildInfo())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "监听地址 (默认使用 profile 中的 api.listen)")
	serveCmd.Flags().BoolVar(&serveAutoApprove, "auto-approve", false, "自动同意连接授权")
}
