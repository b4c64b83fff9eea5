package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"evm-bridge/config"
	"evm-bridge/pkg/journal"
)

var (
	historyChain string
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:     "history",
	Aliases: []string{"hist"},
	Short:   "List past bridge attempts",
	Long: `List bridge attempts that broadcast a transaction, newest first.

Examples:
  evm-bridge history
  evm-bridge history --chain ethereum --limit 5`,
	Run: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVar(&historyChain, "chain", "", "Filter by source chain")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of entries to show (0 for all)")
}

func runHistory(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := config.Load()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	logger := newLogger(cmd, cfg)
	defer logger.Sync()

	store, err := journal.NewStorage(cfg.JournalPath, logger)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	var entries []*journal.Entry
	for _, e := range store.List() {
		if historyChain != "" && !strings.EqualFold(e.SourceChain, historyChain) {
			continue
		}
		entries = append(entries, e)
		if historyLimit > 0 && len(entries) == historyLimit {
			break
		}
	}

	if jsonOutput {
		if entries == nil {
			entries = []*journal.Entry{}
		}
		printJSON(entries)
		return
	}

	if len(entries) == 0 {
		color.Yellow("No bridge attempts found.\n")
		fmt.Println("\nStart one with:")
		color.Cyan("  evm-bridge bridge <amount> <asset> from <chain> to <chain>\n")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 110))
	color.Green("                                           BRIDGE HISTORY")
	fmt.Println(strings.Repeat("=", 110))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nDATE\tROUTE\tAMOUNT\tSTATE\tTX HASH\tDEPOSIT ID")
	fmt.Fprintln(w, strings.Repeat("-", 110))

	for _, e := range entries {
		route := fmt.Sprintf("%s -> %s", e.SourceChain, e.DestChain)
		depositID := truncateString(e.DepositID, 18)
		if depositID != "" && !e.Canonical {
			depositID += " (prelim)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s %s\t%s\t%s\t%s\n",
			e.Created.Local().Format("2006-01-02 15:04"),
			route,
			e.Amount, e.Asset,
			getColoredState(e.State),
			truncateString(e.TxHash, 18),
			depositID)
	}

	w.Flush()
	fmt.Println("\n" + strings.Repeat("=", 110))
	fmt.Printf("\nShowing %d of %d attempts. Journal: %s\n\n", len(entries), store.Count(), store.GetFilePath())
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
