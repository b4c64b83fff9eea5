package cmd

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"evm-bridge/pkg/amount"
	"evm-bridge/pkg/parser"
	"evm-bridge/pkg/quote"
	"evm-bridge/pkg/types"
)

var quoteCmd = &cobra.Command{
	Use:   "quote <amount> <asset> from <chain> to <chain>",
	Short: "Price a bridge without sending anything",
	Long: `Quote the settlement asset amount a bridge would deliver.

No wallet is needed: the quote only reads the source chain's routers.

Examples:
  evm-bridge quote 0.5 ETH from ethereum to base
  evm-bridge quote 2 ETH to arbitrum --from-chain base --json`,
	Args: cobra.MinimumNArgs(1),
	Run:  runQuote,
}

func init() {
	rootCmd.AddCommand(quoteCmd)

	quoteCmd.Flags().StringVar(&fromChain, "from-chain", "", "Source chain (overrides 'from <chain>')")
}

func runQuote(cmd *cobra.Command, args []string) {
	req, err := parser.ParseBridgeCommand(strings.Join(args, " "))
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	if fromChain != "" {
		req.SourceChain = strings.ToLower(fromChain)
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")

	a := loadApp(cmd)
	defer a.Close()

	source, err := a.cfg.Network(req.SourceChain)
	if err != nil {
		printError(types.NewError(types.KindValidation, err, "unknown source chain"))
		os.Exit(1)
	}
	if _, err := a.cfg.Network(req.DestinationChain); err != nil {
		printError(types.NewError(types.KindValidation, err, "unknown destination chain"))
		os.Exit(1)
	}
	if !strings.EqualFold(req.SourceAsset, source.NativeSymbol) {
		printError(types.NewError(types.KindValidation, nil, "only %s can be bridged from %s", source.NativeSymbol, req.SourceChain))
		os.Exit(1)
	}

	contracts, err := source.Contracts()
	if err != nil {
		printError(types.NewError(types.KindValidation, err, "%s cannot be a source chain", req.SourceChain))
		os.Exit(1)
	}
	amountIn, err := amount.Parse(req.Amount, source.Decimals)
	if err != nil {
		printError(types.NewError(types.KindValidation, err, "invalid amount %q", req.Amount))
		os.Exit(1)
	}

	reader, err := a.pool.Get(source.ReadURL())
	if err != nil {
		printError(types.NewError(types.KindNetwork, err, "failed to connect to %s", req.SourceChain))
		os.Exit(1)
	}

	engine, err := quote.NewEngine(reader, contracts.PrimaryRouter, contracts.FallbackRouter, a.cfg.SlippageBps,
		a.logger.With(zap.String("network", req.SourceChain)))
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Fetching quote..."
		s.Start()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	q, err := engine.GetQuote(ctx, amountIn, quote.Pair{In: contracts.WrappedNative, Out: contracts.SettlementAsset})
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"source_chain":         req.SourceChain,
			"dest_chain":           req.DestinationChain,
			"amount_in":            q.AmountIn.String(),
			"amount_out_expected":  q.AmountOutExpected.String(),
			"amount_out_min":       q.AmountOutMin.String(),
			"amount_out_formatted": amount.Format(q.AmountOutExpected, source.SettlementDecimals),
			"slippage_bps":         q.SlippageBps,
			"router":               q.Router.Hex(),
			"router_backend":       q.Backend.String(),
		})
		return
	}

	req.Recipient = "(not set)"
	displayQuote(q, req, source, q.SlippageBps)
}
