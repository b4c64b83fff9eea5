package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"evm-bridge/config"
)

var chainsCmd = &cobra.Command{
	Use:     "chains",
	Aliases: []string{"networks", "ls"},
	Short:   "List configured chains",
	Long: `List every configured chain and whether it can be a bridge source.

A chain is a source when its wrapped native, settlement asset, routers,
settlement contract and deposit contract are all configured. Any configured
chain can be a destination.

Examples:
  evm-bridge chains
  evm-bridge chains --json`,
	Run: runChains,
}

func init() {
	rootCmd.AddCommand(chainsCmd)
}

type chainInfo struct {
	Name         string `json:"name"`
	ChainID      int64  `json:"chain_id"`
	NativeSymbol string `json:"native_symbol"`
	Decimals     int32  `json:"decimals"`
	Source       bool   `json:"source"`
	Settlement   string `json:"settlement_contract,omitempty"`
	Missing      string `json:"missing,omitempty"`
}

func runChains(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := config.Load()
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	chains := make([]chainInfo, 0, len(cfg.Networks))
	for _, name := range cfg.NetworkNames() {
		n := cfg.Networks[name]
		info := chainInfo{
			Name:         name,
			ChainID:      n.ChainID,
			NativeSymbol: n.NativeSymbol,
			Decimals:     n.Decimals,
		}
		if c, err := n.Contracts(); err == nil {
			info.Source = true
			info.Settlement = c.SettlementContract.Hex()
		} else {
			info.Missing = err.Error()
		}
		chains = append(chains, info)
	}

	if jsonOutput {
		printJSON(chains)
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	color.Green("                                CONFIGURED CHAINS")
	fmt.Println(strings.Repeat("=", 90))

	sources := 0
	for _, c := range chains {
		role := color.HiBlackString("destination only")
		if c.Source {
			role = color.GreenString("source + destination")
			sources++
		}
		fmt.Printf("\n  %-12s  chain %-8d  %-6s  %s\n",
			color.CyanString(strings.ToUpper(c.Name)), c.ChainID, color.YellowString(c.NativeSymbol), role)
		if c.Source {
			fmt.Printf("                settlement %s\n", color.HiBlackString(c.Settlement))
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 90))
	fmt.Printf("\nTotal: %d chains, %d can bridge out\n\n", len(chains), sources)
}
