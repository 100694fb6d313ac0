package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/shelfchain/v1/client/core/wallet"
	"github.com/shelfchain/v1/internal/app"
)

var (
	walletPassword   string
	walletLabel      string
	walletPassphrase string
	walletPath       string
	walletWords      int
)

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "本地钱包",
	Long:  "管理 keystore 中的账户。账户按 profile 分目录保存。",
}

func accountManager() (*wallet.AccountManager, error) {
	p, err := currentProfile()
	if err != nil {
		return nil, err
	}
	return wallet.NewAccountManager(p.KeystorePath)
}

var walletNewCmd = &cobra.Command{
	Use:   "new",
	Short: "创建随机账户",
	RunE: func(cmd *cobra.Command, args []string) error {
		am, err := accountManager()
		if err != nil {
			return err
		}
		pw, err := newPassword()
		if err != nil {
			return err
		}
		info, err := am.CreateAccount(pw, walletLabel)
		if err != nil {
			return err
		}
		formatter.PrintSuccess(fmt.Sprintf("账户已创建: %s", info.Address.Hex()))
		return formatter.Print(accountTable{info})
	},
}

var walletImportCmd = &cobra.Command{
	Use:   "import [private-key]",
	Short: "导入私钥",
	Long:  "导入十六进制私钥，不带参数时从终端读取",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		am, err := accountManager()
		if err != nil {
			return err
		}
		var key string
		if len(args) == 1 {
			key = args[0]
		} else if key, err = promptSecret("私钥"); err != nil {
			return err
		}
		pw, err := newPassword()
		if err != nil {
			return err
		}
		info, err := am.ImportPrivateKey(key, pw, walletLabel)
		if err != nil {
			return err
		}
		formatter.PrintSuccess(fmt.Sprintf("账户已导入: %s", info.Address.Hex()))
		return formatter.Print(accountTable{info})
	},
}

var walletMnemonicCmd = &cobra.Command{
	Use:   "mnemonic",
	Short: "生成或导入 BIP39 助记词",
	Long: `不带 --import 时生成新的助记词并创建账户；带 --import 时从终端读取助记词。

派生路径默认 m/44'/60'/0'/0/0，与常见以太坊钱包一致。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		am, err := accountManager()
		if err != nil {
			return err
		}
		imported, _ := cmd.Flags().GetBool("import")

		var mnemonic string
		if imported {
			if mnemonic, err = promptLine("助记词"); err != nil {
				return err
			}
			if err := wallet.ValidateMnemonic(mnemonic); err != nil {
				return err
			}
		} else {
			strength := wallet.Mnemonic12Words
			switch walletWords {
			case 12:
			case 24:
				strength = wallet.Mnemonic24Words
			default:
				return fmt.Errorf("unsupported word count %d, use 12 or 24", walletWords)
			}
			if mnemonic, err = wallet.GenerateMnemonic(strength); err != nil {
				return err
			}
		}

		pw, err := newPassword()
		if err != nil {
			return err
		}
		info, err := am.ImportMnemonic(mnemonic, walletPassphrase, walletPath, pw, walletLabel)
		if err != nil {
			return err
		}
		if !imported {
			formatter.PrintWarning("请离线备份以下助记词，丢失后无法恢复账户:")
			fmt.Fprintf(os.Stderr, "\n  %s\n\n", mnemonic)
		}
		formatter.PrintSuccess(fmt.Sprintf("账户已创建: %s (%s)", info.Address.Hex(), info.Path))
		return formatter.Print(accountTable{info})
	},
}

var walletListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出账户",
	RunE: func(cmd *cobra.Command, args []string) error {
		am, err := accountManager()
		if err != nil {
			return err
		}
		accounts, err := am.ListAccounts()
		if err != nil {
			return err
		}
		return formatter.Print(accountTable(accounts))
	},
}

var walletUseCmd = &cobra.Command{
	Use:   "use <address>",
	Short: "选择默认账户",
	Long:  "connect 时使用的账户。运行中的 shelf serve 轮询到变化后会重置会话。",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !common.IsHexAddress(args[0]) {
			return fmt.Errorf("invalid address %q", args[0])
		}
		addr := common.HexToAddress(args[0])
		return withApp(cmd, func(ctx context.Context, c *app.Components) error {
			if err := c.Provider.SelectAccount(ctx, addr); err != nil {
				return err
			}
			formatter.PrintSuccess(fmt.Sprintf("默认账户: %s", addr.Hex()))
			return nil
		})
	},
}

var walletRevokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "撤销对合约的连接授权",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, c *app.Components) error {
			if err := c.Provider.RevokePermissions(ctx); err != nil {
				return err
			}
			formatter.PrintSuccess("已撤销授权，下次连接需要重新确认")
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{walletNewCmd, walletImportCmd, walletMnemonicCmd} {
		c.Flags().StringVar(&walletPassword, "password", "", "keystore 密码 (不推荐在命令行中传入)")
		c.Flags().StringVar(&walletLabel, "label", "", "账户标签")
	}
	walletMnemonicCmd.Flags().Bool("import", false, "导入已有助记词")
	walletMnemonicCmd.Flags().IntVar(&walletWords, "words", 12, "助记词数量: 12|24")
	walletMnemonicCmd.Flags().StringVar(&walletPassphrase, "passphrase", "", "BIP39 口令 (可选)")
	walletMnemonicCmd.Flags().StringVar(&walletPath, "path", wallet.DefaultPath, "派生路径")

	walletCmd.AddCommand(walletNewCmd, walletImportCmd, walletMnemonicCmd, walletListCmd, walletUseCmd, walletRevokeCmd)
}

// ===== 终端输入 =====

func newPassword() (string, error) {
	if walletPassword != "" {
		return walletPassword, nil
	}
	pw, err := promptSecret("请输入密码")
	if err != nil {
		return "", err
	}
	confirm, err := promptSecret("请确认密码")
	if err != nil {
		return "", err
	}
	if pw != confirm {
		return "", fmt.Errorf("passwords do not match")
	}
	return pw, nil
}

func promptSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", wallet.ErrNonInteractive
	}
	fmt.Fprint(os.Stderr, prompt+": ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return string(b), nil
}

func promptLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt+": ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
