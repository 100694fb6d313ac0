package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/shelfchain/v1/internal/app"
	"github.com/shelfchain/v1/pkg/types"
)

func describe(c *app.Components, s types.Session) sessionView {
	return sessionView{
		Session:  s,
		Profile:  c.Profile.Name,
		ChainID:  c.Profile.ChainID,
		Contract: c.Profile.Contract().Hex(),
	}
}

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "连接钱包",
	Long: `请求访问当前账户并校验网络、读取管理员和会员身份。

首次连接会询问是否授权，授权记录保存在 profile 的数据目录中。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, c *app.Components, s types.Session) error {
			formatter.PrintSuccess("已连接 " + s.Account.Hex())
			if !s.IsMember {
				formatter.PrintInfo("还不是会员，借书前请执行 shelf register --name <name>")
			}
			return formatter.Print(describe(c, s))
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "显示连接状态",
	Long:  "只使用已授权的账户，不会弹出授权确认",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, c *app.Components) error {
			accounts, err := c.Provider.Accounts(ctx)
			if err != nil {
				return err
			}
			s := c.Sessions.Session()
			if len(accounts) > 0 {
				if s, err = c.Sessions.Connect(ctx); err != nil {
					return explain(err)
				}
			}
			return formatter.Print(describe(c, s))
		})
	},
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "断开钱包",
	Long:  "撤销授权并清空本地借阅提示，撤销失败时仍然视为已断开",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, c *app.Components) error {
			s := c.Sessions.Disconnect(ctx)
			formatter.PrintSuccess("已断开")
			return formatter.Print(describe(c, s))
		})
	},
}
