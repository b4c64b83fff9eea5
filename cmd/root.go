package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"evm-bridge/config"
	"evm-bridge/pkg/types"
)

var rootCmd = &cobra.Command{
	Use:   "evm-bridge",
	Short: "A CLI for bridging native assets between EVM chains",
	Long: `evm-bridge moves native assets from one EVM chain to another in a single
transaction. The native asset is wrapped, swapped into the bridge's settlement
asset and handed to the settlement contract, all atomically, after the whole
batch has been simulated.

Examples:
  evm-bridge bridge 0.5 ETH to base --from-chain ethereum
  evm-bridge quote 0.5 ETH from ethereum to base
  evm-bridge balance
  evm-bridge status <tx-hash> --chain ethereum
  evm-bridge history
  evm-bridge chains`,
	Version: "0.1.0",
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output in JSON format")
}

// newLogger builds the diagnostic logger. User-facing output goes through
// fmt and color; the logger writes to stderr.
func newLogger(cmd *cobra.Command, cfg *config.Config) *zap.Logger {
	level := zapcore.WarnLevel
	if cfg != nil && cfg.LogLevel != "" {
		if parsed, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
			level = parsed
		}
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = zapcore.DebugLevel
	}

	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.DisableStacktrace = true

	logger, err := zc.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func printError(err error) {
	if category := types.CategoryOf(err); category != "" {
		fmt.Printf("\nError [%s]: %v\n\n", color.RedString(category), err)
		return
	}
	fmt.Printf("\nError: %v\n\n", err)
}

func printSuccess(message string) {
	fmt.Printf("\n%s\n\n", message)
}

func printJSON(v interface{}) {
	jsonData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	fmt.Println(string(jsonData))
}
