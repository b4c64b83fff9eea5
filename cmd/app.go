package cmd

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"evm-bridge/config"
	"evm-bridge/pkg/balance"
	"evm-bridge/pkg/bridge"
	"evm-bridge/pkg/deposit"
	"evm-bridge/pkg/executor"
)

// app bundles what a command needs to talk to the configured chains
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	pool   *balance.Pool
}

func loadApp(cmd *cobra.Command) *app {
	cfg, err := config.Load()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	return &app{cfg: cfg, logger: newLogger(cmd, cfg), pool: balance.NewPool()}
}

func (a *app) Close() {
	a.pool.Close()
	_ = a.logger.Sync()
}

// networks resolves every configured chain to a read-only connection.
// Chains without a complete contract set can only be destinations.
func (a *app) networks() ([]bridge.Network, error) {
	out := make([]bridge.Network, 0, len(a.cfg.Networks))
	for _, name := range a.cfg.NetworkNames() {
		n := a.cfg.Networks[name]

		reader, err := a.pool.Get(n.ReadURL())
		if err != nil {
			return nil, fmt.Errorf("network %s: %w", name, err)
		}

		network := bridge.Network{
			Name:         name,
			ChainID:      big.NewInt(n.ChainID),
			NativeSymbol: n.NativeSymbol,
			Decimals:     n.Decimals,
			Reader:       reader,
		}
		if contracts, err := n.Contracts(); err == nil {
			network.Contracts = contracts
		} else {
			a.logger.Debug("network is destination only", zap.String("network", name), zap.Error(err))
		}
		out = append(out, network)
	}
	return out, nil
}

// pipeline builds a bridge pipeline signing on sourceChain
func (a *app) pipeline(sourceChain string, hooks ...bridge.Hook) (*bridge.Pipeline, *deposit.Manager, error) {
	wallet, err := deposit.NewManager(a.cfg.Networks, sourceChain)
	if err != nil {
		return nil, nil, err
	}

	networks, err := a.networks()
	if err != nil {
		wallet.Close()
		return nil, nil, err
	}

	p, err := bridge.New(wallet, networks, bridge.Options{
		SlippageBps:      a.cfg.SlippageBps,
		SwapDeadline:     a.cfg.SwapDeadline,
		GasBufferPercent: a.cfg.GasBufferPercent,
		Confirmation: executor.Policy{
			PollInterval:  a.cfg.ConfirmPollInterval,
			Confirmations: a.cfg.Confirmations,
			Timeout:       a.cfg.ConfirmTimeout,
		},
		Hooks: hooks,
	}, a.logger)
	if err != nil {
		wallet.Close()
		return nil, nil, err
	}
	return p, wallet, nil
}

// walletAddress derives the signing address from the first configured key
func (a *app) walletAddress() (common.Address, error) {
	for _, name := range a.cfg.NetworkNames() {
		key := strings.TrimPrefix(a.cfg.Networks[name].PrivateKey, "0x")
		if key == "" {
			continue
		}
		pk, err := crypto.HexToECDSA(key)
		if err != nil {
			return common.Address{}, fmt.Errorf("network %s: invalid private key: %w", name, err)
		}
		return crypto.PubkeyToAddress(pk.PublicKey), nil
	}
	return common.Address{}, fmt.Errorf("no private key configured; pass --address")
}
