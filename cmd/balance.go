package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"evm-bridge/pkg/amount"
	"evm-bridge/pkg/balance"
	"evm-bridge/pkg/types"
)

var (
	balanceAddress string
	balanceChain   string
)

var balanceCmd = &cobra.Command{
	Use:     "balance",
	Aliases: []string{"balances"},
	Short:   "Show native and settlement asset balances",
	Long: `Show balances on every configured chain.

The native asset balance is shown for each chain, and the settlement asset
balance for chains that can be a bridge source.

Examples:
  evm-bridge balance
  evm-bridge balance --chain base
  evm-bridge balance --address 0x123...`,
	Run: runBalance,
}

func init() {
	rootCmd.AddCommand(balanceCmd)

	balanceCmd.Flags().StringVar(&balanceAddress, "address", "", "Address to inspect (defaults to your wallet)")
	balanceCmd.Flags().StringVar(&balanceChain, "chain", "", "Only show this chain")
}

type balanceRow struct {
	Chain  string `json:"chain"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	Raw    string `json:"raw"`
}

func runBalance(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	a := loadApp(cmd)
	defer a.Close()

	var account common.Address
	if balanceAddress != "" {
		if !common.IsHexAddress(balanceAddress) {
			printError(types.NewError(types.KindValidation, nil, "invalid address %q", balanceAddress))
			os.Exit(1)
		}
		account = common.HexToAddress(balanceAddress)
	} else {
		addr, err := a.walletAddress()
		if err != nil {
			printError(err)
			os.Exit(1)
		}
		account = addr
	}

	names := a.cfg.NetworkNames()
	if balanceChain != "" {
		if _, err := a.cfg.Network(balanceChain); err != nil {
			printError(err)
			os.Exit(1)
		}
		names = []string{strings.ToLower(balanceChain)}
	}

	var queries []balance.Query
	rows := make(map[string]balanceRow)
	for _, name := range names {
		n := a.cfg.Networks[name]
		reader, err := a.pool.Get(n.ReadURL())
		if err != nil {
			printError(types.NewError(types.KindNetwork, err, "failed to connect to %s", name))
			os.Exit(1)
		}

		label := name + "/" + n.NativeSymbol
		queries = append(queries, balance.Query{Label: label, Reader: reader, Account: account})
		rows[label] = balanceRow{Chain: name, Asset: n.NativeSymbol}

		if c, err := n.Contracts(); err == nil {
			label := name + "/settlement"
			queries = append(queries, balance.Query{Label: label, Reader: reader, Account: account, Token: c.SettlementAsset})
			rows[label] = balanceRow{Chain: name, Asset: "settlement"}
		}
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Fetching balances..."
		s.Start()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	snapshot, err := balance.NewInspector(a.logger).Snapshot(ctx, queries...)
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		printError(types.NewError(types.KindNetwork, err, "failed to fetch balances"))
		os.Exit(1)
	}

	out := make([]balanceRow, 0, len(queries))
	for _, q := range queries {
		row := rows[q.Label]
		n := a.cfg.Networks[row.Chain]
		decimals := n.Decimals
		if !q.Native() {
			decimals = n.SettlementDecimals
		}
		row.Raw = snapshot[q.Label].String()
		row.Amount = amount.Format(snapshot[q.Label], decimals)
		out = append(out, row)
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"address":  account.Hex(),
			"balances": out,
		})
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                       BALANCES")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("\n  Address: %s\n\n", color.CyanString(account.Hex()))
	for _, row := range out {
		fmt.Printf("  %-12s %-12s %s\n", row.Chain, color.YellowString(row.Asset), row.Amount)
	}
	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}
