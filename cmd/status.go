package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"evm-bridge/pkg/amount"
	"evm-bridge/pkg/bridge"
	"evm-bridge/pkg/journal"
	"evm-bridge/pkg/reconcile"
	"evm-bridge/pkg/types"
)

var (
	statusChain   string
	watchStatus   bool
	watchInterval int
)

var statusCmd = &cobra.Command{
	Use:   "status <tx-hash>",
	Short: "Check the status of a bridge transaction",
	Long: `Check a bridge transaction by its hash and recover its deposit id.

When the transaction is in your history the source chain is taken from there,
and a recovered canonical deposit id is written back to the history.

Examples:
  evm-bridge status 0x1234...abcd
  evm-bridge status 0x1234...abcd --chain ethereum
  evm-bridge status 0x1234...abcd --watch --interval 10`,
	Args: cobra.ExactArgs(1),
	Run:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusChain, "chain", "", "Source chain of the transaction")
	statusCmd.Flags().BoolVarP(&watchStatus, "watch", "w", false, "Watch status updates until the transaction is mined")
	statusCmd.Flags().IntVar(&watchInterval, "interval", 5, "Polling interval in seconds (when watching)")
}

// txStatus is what a status lookup found
type txStatus struct {
	TxHash      string `json:"tx_hash"`
	Chain       string `json:"chain"`
	State       string `json:"state"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	DepositID   string `json:"deposit_id,omitempty"`
	Canonical   bool   `json:"canonical"`
	Settled     string `json:"settled_amount,omitempty"`
}

type statusChecker struct {
	app        *app
	chain      string
	txHash     common.Hash
	store      *journal.Storage
	entry      *journal.Entry
	reconciler *reconcile.Reconciler
}

func runStatus(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	raw, err := hexutil.Decode(args[0])
	if err != nil || len(raw) != common.HashLength {
		printError(types.NewError(types.KindValidation, err, "invalid transaction hash %q", args[0]))
		os.Exit(1)
	}

	a := loadApp(cmd)
	defer a.Close()

	c := &statusChecker{app: a, txHash: common.BytesToHash(raw), chain: strings.ToLower(statusChain)}
	if store, err := journal.NewStorage(a.cfg.JournalPath, a.logger); err == nil {
		c.store = store
		if entry, err := store.Get(c.txHash.Hex()); err == nil {
			c.entry = entry
			if c.chain == "" {
				c.chain = entry.SourceChain
			}
		}
	} else {
		a.logger.Warn("journal unavailable", zap.String("path", a.cfg.JournalPath), zap.Error(err))
	}

	if c.chain == "" {
		printError(types.NewError(types.KindValidation, nil, "transaction is not in history; pass --chain"))
		os.Exit(1)
	}
	network, err := a.cfg.Network(c.chain)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	contracts, err := network.Contracts()
	if err != nil {
		printError(types.NewError(types.KindValidation, err, "%s cannot be a source chain", c.chain))
		os.Exit(1)
	}
	c.reconciler = reconcile.NewReconciler(contracts.SettlementContract, a.logger)

	if watchStatus {
		if jsonOutput {
			fmt.Println(`{"error": "watch mode not supported with JSON output"}`)
			os.Exit(1)
		}
		c.watch()
		return
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Checking transaction status..."
		s.Start()
	}

	status, err := c.check(context.Background())
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if jsonOutput {
		printJSON(status)
	} else {
		displayStatus(status)
	}
}

func (c *statusChecker) watch() {
	fmt.Printf("\nWatching transaction %s on %s\n", color.CyanString(c.txHash.Hex()), c.chain)
	fmt.Printf("Checking every %d seconds. Press Ctrl+C to stop.\n\n", watchInterval)

	ticker := time.NewTicker(time.Duration(watchInterval) * time.Second)
	defer ticker.Stop()

	for {
		status, err := c.check(context.Background())
		if err != nil {
			color.Red("Error: %v", err)
		} else {
			displayStatus(status)
			if status.State != "pending" {
				return
			}
		}
		<-ticker.C
	}
}

// check looks the receipt up and reconciles it. A recovered canonical id is
// written back to the journal.
func (c *statusChecker) check(ctx context.Context) (*txStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	status := &txStatus{TxHash: c.txHash.Hex(), Chain: c.chain}

	n, _ := c.app.cfg.Network(c.chain)
	client, err := c.app.pool.Get(n.ReadURL())
	if err != nil {
		return nil, types.NewError(types.KindNetwork, err, "failed to connect to %s", c.chain)
	}

	receipt, err := client.TransactionReceipt(ctx, c.txHash)
	if errors.Is(err, ethereum.NotFound) {
		status.State = "pending"
		return status, nil
	}
	if err != nil {
		return nil, types.NewError(types.KindNetwork, err, "failed to fetch receipt")
	}
	status.BlockNumber = receipt.BlockNumber.Uint64()

	var preliminary types.PreliminaryID
	if c.entry != nil && !c.entry.Canonical {
		if b, err := hexutil.Decode(c.entry.DepositID); err == nil && len(b) == len(preliminary) {
			copy(preliminary[:], b)
		}
	}

	settled := c.reconciler.Reconcile(receipt, preliminary)
	switch {
	case settled.Status == types.TxReverted:
		status.State = string(bridge.StateReverted)
		c.record(settled)
		return status, nil
	case settled.Reconciled:
		status.State = string(bridge.StateSettled)
		status.Canonical = true
		status.Settled = amount.Format(settled.SettledAmount, n.SettlementDecimals)
	default:
		status.State = string(bridge.StateUnreconciled)
	}
	if preliminary != (types.PreliminaryID{}) || settled.Reconciled {
		status.DepositID = settled.DepositID.Hex()
	}

	c.record(settled)
	return status, nil
}

// record writes a mined outcome back to the journal entry, if there is one
func (c *statusChecker) record(settled types.SettlementReceipt) {
	if c.store == nil || c.entry == nil {
		return
	}

	if err := c.store.ApplyReceipt(c.txHash.Hex(), settled); err != nil {
		c.app.logger.Warn("failed to update journal", zap.String("txHash", c.txHash.Hex()), zap.Error(err))
	}
}

func displayStatus(status *txStatus) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                       BRIDGE STATUS")
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  Transaction:     %s\n", color.CyanString(status.TxHash))
	fmt.Printf("  Chain:           %s\n", status.Chain)
	fmt.Printf("  Status:          %s\n", getColoredState(status.State))
	if status.BlockNumber > 0 {
		fmt.Printf("  Block:           %d\n", status.BlockNumber)
	}
	if status.DepositID != "" {
		label := "Deposit ID:     "
		if !status.Canonical {
			label = "Preliminary ID: "
		}
		fmt.Printf("  %s %s\n", label, color.HiBlackString(status.DepositID))
	}
	if status.Settled != "" {
		fmt.Printf("  Settled Amount:  %s\n", status.Settled)
	}

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}

func getColoredState(state string) string {
	upper := strings.ToUpper(state)

	switch bridge.State(state) {
	case bridge.StateSettled:
		return color.GreenString(upper)
	case bridge.StateUnreconciled, bridge.StateUnconfirmed, bridge.StateSubmitted:
		return color.YellowString(upper)
	case bridge.StateReverted, bridge.StateRejected:
		return color.RedString(upper)
	default:
		if state == "pending" {
			return color.YellowString(upper)
		}
		return upper
	}
}
