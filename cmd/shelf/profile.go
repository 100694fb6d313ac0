package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Profile管理",
	Long:  "管理网络配置 (sepolia/local)，profile 保存在 ~/.shelf/profiles/*.json",
}

type profileTable []map[string]interface{}

func (t profileTable) Table() [][]string {
	rows := [][]string{{"", "Name", "Chain", "Contract"}}
	for _, p := range t {
		mark := ""
		if p["current"] == true {
			mark = "*"
		}
		rows = append(rows, []string{mark, fmt.Sprint(p["name"]), fmt.Sprint(p["chain_id"]), fmt.Sprint(p["contract"])})
	}
	return rows
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出所有profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		current := profileMgr.CurrentName()
		var result profileTable
		for _, name := range profileMgr.ListProfiles() {
			p, err := profileMgr.GetProfile(name)
			if err != nil {
				continue
			}
			result = append(result, map[string]interface{}{
				"name":     name,
				"chain_id": p.ChainID,
				"contract": p.ContractAddress,
				"current":  name == current,
			})
		}
		return formatter.Print(result)
	},
}

var profileShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "显示profile详情",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			p, err := profileMgr.GetProfile(args[0])
			if err != nil {
				return err
			}
			return formatter.Print(p)
		}
		p, err := currentProfile()
		if err != nil {
			return err
		}
		return formatter.Print(p)
	},
}

var profileUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "切换profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := profileMgr.SwitchProfile(args[0]); err != nil {
			return err
		}
		formatter.PrintSuccess(fmt.Sprintf("已切换到 profile '%s'", args[0]))
		return nil
	},
}

func init() {
	profileCmd.AddCommand(profileListCmd, profileShowCmd, profileUseCmd)
}
