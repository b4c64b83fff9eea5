package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"evm-bridge/config"
	"evm-bridge/pkg/amount"
	"evm-bridge/pkg/bridge"
	"evm-bridge/pkg/journal"
	"evm-bridge/pkg/parser"
	"evm-bridge/pkg/types"
)

var (
	fromChain     string
	recipientAddr string
	requesterAddr string
	noConfirm     bool
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge <amount> <asset> [from <chain>] to <chain>",
	Short: "Bridge a native asset to another EVM chain",
	Long: `Bridge a native asset to another chain in one atomic transaction.

The amount is wrapped, swapped into the settlement asset and forwarded to the
settlement contract. The whole batch is simulated before you sign, so a call
that would revert is reported without spending gas.

The recipient defaults to the signing wallet's address.

Examples:
  evm-bridge bridge 0.5 ETH from ethereum to base
  evm-bridge bridge 0.5 ETH to base --from-chain ethereum
  evm-bridge bridge 1 ETH from arbitrum to base --recipient 0x123... --yes`,
	Args: cobra.MinimumNArgs(1),
	Run:  runBridge,
}

func init() {
	rootCmd.AddCommand(bridgeCmd)

	bridgeCmd.Flags().StringVar(&fromChain, "from-chain", "", "Source chain (overrides 'from <chain>')")
	bridgeCmd.Flags().StringVar(&recipientAddr, "recipient", "", "Recipient address on the destination chain (defaults to your wallet)")
	bridgeCmd.Flags().StringVar(&requesterAddr, "requester", "", "Address credited as the requester (defaults to your wallet)")
	bridgeCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompt")
}

func runBridge(cmd *cobra.Command, args []string) {
	req, err := parser.ParseBridgeCommand(strings.Join(args, " "))
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	if fromChain != "" {
		req.SourceChain = strings.ToLower(fromChain)
	}
	if req.SourceChain == "" {
		printError(types.NewError(types.KindValidation, nil, "source chain is required: use 'from <chain>' or --from-chain"))
		os.Exit(1)
	}
	req.Requester = requesterAddr

	jsonOutput, _ := cmd.Flags().GetBool("json")

	a := loadApp(cmd)
	defer a.Close()

	store, err := journal.NewStorage(a.cfg.JournalPath, a.logger)
	if err != nil {
		// history is optional; the bridge still runs without it
		a.logger.Warn("journal unavailable", zap.String("path", a.cfg.JournalPath), zap.Error(err))
	}

	var hooks []bridge.Hook
	if store != nil {
		hooks = append(hooks, store)
	}

	p, wallet, err := a.pipeline(req.SourceChain, hooks...)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer wallet.Close()

	req.Recipient = recipientAddr
	if req.Recipient == "" {
		addr, err := wallet.Address()
		if err != nil {
			printError(types.NewError(types.KindNetwork, err, "failed to open wallet on %s", req.SourceChain))
			os.Exit(1)
		}
		req.Recipient = addr.Hex()
	}

	if err := parser.ValidateBridgeRequest(req); err != nil {
		printError(err)
		os.Exit(1)
	}
	if err := p.Validate(*req); err != nil {
		printError(err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	source, _ := a.cfg.Network(req.SourceChain)

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Fetching quote..."
		s.Start()
	}

	q, err := p.Quote(ctx, *req)
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if !jsonOutput {
		displayQuote(q, req, source, a.cfg.SlippageBps)
	}

	if !noConfirm && !a.cfg.AutoConfirm && !jsonOutput {
		if !confirmBridge() {
			fmt.Println("\nBridge cancelled.")
			os.Exit(0)
		}
	}

	if !jsonOutput {
		s.Suffix = " Simulating, signing and waiting for confirmation..."
		s.Start()
	}

	// the batch is built from the quote shown above, not a fresh one
	res, err := p.RunWithQuote(ctx, *req, q)
	if !jsonOutput {
		s.Stop()
	}

	if jsonOutput {
		printJSON(resultOutput(res, err))
	} else {
		displayResult(res, err)
	}
	if err != nil {
		os.Exit(1)
	}
}

func confirmBridge() bool {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print("\nProceed with bridge? (y/N): ")

	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

func displayQuote(q *types.RouteQuote, req *types.BridgeRequest, source config.EVMNetwork, slippageBps uint32) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                     BRIDGE QUOTE")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  From:              %s %s on %s\n",
		amount.Format(q.AmountIn, source.Decimals), color.YellowString(source.NativeSymbol), req.SourceChain)
	fmt.Printf("  Expected:          ~%s\n", amount.Format(q.AmountOutExpected, source.SettlementDecimals))
	fmt.Printf("  Minimum:           %s (%.2f%% slippage)\n",
		amount.Format(q.AmountOutMin, source.SettlementDecimals), float64(slippageBps)/100)
	fmt.Printf("  Destination Chain: %s\n", req.DestinationChain)
	fmt.Printf("  Recipient:         %s\n", color.CyanString(req.Recipient))
	fmt.Printf("  Router:            %s (%s)\n", q.Router.Hex(), q.Backend)

	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")
}

func displayResult(res *bridge.Result, err error) {
	if err != nil {
		printError(err)
		if res != nil && res.TxHash != (common.Hash{}) {
			fmt.Printf("  Transaction: %s\n", color.CyanString(res.TxHash.Hex()))
			fmt.Println("\nYou can check it again using:")
			color.Cyan("  evm-bridge status %s\n", res.TxHash.Hex())
		}
		return
	}

	printSuccess(color.GreenString("✓ %s", res.Message))
	fmt.Printf("  Transaction: %s\n", color.CyanString(res.TxHash.Hex()))
	if res.DepositID != nil {
		label := "Deposit ID:"
		if !res.DepositID.IsCanonical() {
			label = "Deposit ID (preliminary):"
		}
		fmt.Printf("  %s %s\n", label, color.HiBlackString(res.DepositID.Hex()))
	}
	if !res.Reconciled {
		color.Yellow("\n  The settlement event was not found in the receipt. Re-check later with:")
		color.Cyan("  evm-bridge status %s\n", res.TxHash.Hex())
	}
}

func resultOutput(res *bridge.Result, err error) map[string]interface{} {
	output := map[string]interface{}{
		"success": err == nil && res != nil && res.Success,
	}
	if res != nil {
		output["attempt_id"] = res.AttemptID
		output["state"] = res.State
		output["message"] = res.Message
		output["reconciled"] = res.Reconciled
		if res.TxHash != (common.Hash{}) {
			output["tx_hash"] = res.TxHash.Hex()
		}
		if res.DepositID != nil {
			output["deposit_id"] = res.DepositID.Hex()
			output["deposit_id_canonical"] = res.DepositID.IsCanonical()
		}
		if res.Quote != nil {
			output["amount_in"] = res.Quote.AmountIn.String()
			output["amount_out_expected"] = res.Quote.AmountOutExpected.String()
			output["amount_out_min"] = res.Quote.AmountOutMin.String()
			output["router_backend"] = res.Quote.Backend.String()
		}
	}
	if err != nil {
		output["error"] = err.Error()
		output["category"] = types.CategoryOf(err)
	}
	return output
}
