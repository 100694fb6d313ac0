package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shelfchain/v1/client/core/config"
	"github.com/shelfchain/v1/client/core/output"
	"github.com/shelfchain/v1/internal/app"
	logconfig "github.com/shelfchain/v1/internal/config/log"
	"github.com/shelfchain/v1/pkg/types"
)

// GlobalFlags 全局标志
type GlobalFlags struct {
	Profile      string
	ConfigDir    string
	OutputFormat string
	Silent       bool
	Verbose      bool
}

var (
	globalFlags GlobalFlags
	profileMgr  *config.ProfileManager
	formatter   *output.Formatter
)

var rootCmd = &cobra.Command{
	Use:   "shelf",
	Short: "链上图书馆客户端",
	Long: `shelf - 链上借阅图书馆的钱包客户端

所有数据都来自合约，本地只保存 keystore、连接授权和当前借阅提示。

  shelf wallet new          创建账户
  shelf connect             连接钱包
  shelf books list          浏览书目
  shelf borrow <id>         借书（每个账户同时只能借一本）
  shelf serve               启动本地网关（HTTP + websocket）`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		profileMgr, err = config.NewProfileManager(globalFlags.ConfigDir)
		if err != nil {
			return fmt.Errorf("初始化配置: %w", err)
		}
		formatter = output.NewFormatter(output.Format(globalFlags.OutputFormat), os.Stdout)
		formatter.SetSilent(globalFlags.Silent)
		return nil
	},
}

// Execute 执行根命令，出错时退出码为 1
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if formatter != nil {
			formatter.PrintError(err)
		} else {
			fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalFlags.Profile, "profile", "", "使用指定的Profile (默认使用当前Profile)")
	rootCmd.PersistentFlags().StringVar(&globalFlags.ConfigDir, "config-dir", "", "配置目录 (默认: ~/.shelf)")
	rootCmd.PersistentFlags().StringVarP(&globalFlags.OutputFormat, "output", "o", "table", "输出格式: table|json|pretty")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.Silent, "silent", false, "静默模式 (仅输出结果)")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "在终端输出调试日志")

	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(walletCmd)
	rootCmd.AddCommand(connectCmd, statusCmd, disconnectCmd)
	rootCmd.AddCommand(booksCmd)
	rootCmd.AddCommand(borrowCmd, returnCmd, currentCmd, historyCmd, registerCmd)
	rootCmd.AddCommand(adminCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// currentProfile 返回 --profile 指定的或当前的 profile
func currentProfile() (*config.Profile, error) {
	if globalFlags.Profile != "" {
		return profileMgr.GetProfile(globalFlags.Profile)
	}
	return profileMgr.GetCurrentProfile()
}

// startApp 按当前 profile 组装应用，调用方负责 Stop
func startApp(ctx context.Context, opts ...app.Option) (app.App, error) {
	profile, err := currentProfile()
	if err != nil {
		return nil, err
	}
	if globalFlags.Verbose {
		p := *profile
		lo := logconfig.LogOptions{}
		if p.Log != nil {
			lo = *p.Log
		}
		lo.Level, lo.ToConsole = "debug", true
		p.Log = &lo
		profile = &p
	}
	return app.Start(ctx, append([]app.Option{app.WithProfile(profile)}, opts...)...)
}

// withApp 启动应用，执行 fn 后停止
func withApp(cmd *cobra.Command, fn func(ctx context.Context, c *app.Components) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := startApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Stop(); err != nil {
			formatter.PrintWarning(fmt.Sprintf("停止时出错: %v", err))
		}
	}()
	return fn(ctx, a.Components())
}

// withSession 启动应用并连接钱包
//
// 已授权的账户不会再次弹出确认，只有写操作需要输入密码。
func withSession(cmd *cobra.Command, fn func(ctx context.Context, c *app.Components, s types.Session) error) error {
	return withApp(cmd, func(ctx context.Context, c *app.Components) error {
		s, err := c.Sessions.Connect(ctx)
		if err != nil {
			return explain(err)
		}
		return fn(ctx, c, s)
	})
}
