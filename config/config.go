package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

const (
	DefaultSlippageBps         = 100
	DefaultSwapDeadline        = 20 * time.Minute
	DefaultConfirmTimeout      = 10 * time.Minute
	DefaultConfirmPollInterval = 3 * time.Second
	DefaultConfirmations       = 1
	DefaultGasBufferPercent    = 20
	DefaultJournalFileName     = ".evm-bridge-history.json"
	DefaultMulticall3          = "0xcA11bde05977b3631167028862bE2a173976CA11"
)

// EVMNetwork holds the connection and contract settings for one chain
type EVMNetwork struct {
	ChainID      int64  `mapstructure:"chain_id"`
	RPCUrl       string `mapstructure:"rpc_url"`
	ReadRPCUrl   string `mapstructure:"read_rpc_url"` // read-only connection, defaults to RPCUrl
	PrivateKey   string `mapstructure:"private_key"`
	NativeSymbol string `mapstructure:"native_symbol"`
	Decimals     int32  `mapstructure:"decimals"`

	WrappedNative      string `mapstructure:"wrapped_native"`
	SettlementAsset    string `mapstructure:"settlement_asset"`
	SettlementDecimals int32  `mapstructure:"settlement_decimals"`
	Multicall          string `mapstructure:"multicall"`
	PrimaryRouter      string `mapstructure:"primary_router"`
	FallbackRouter     string `mapstructure:"fallback_router"`
	SettlementContract string `mapstructure:"settlement_contract"`
	DepositContract    string `mapstructure:"deposit_contract"`

	GasPrice *int64  `mapstructure:"gas_price"`
	GasLimit *uint64 `mapstructure:"gas_limit"`
}

// ReadURL returns the endpoint used for read-only queries
func (n EVMNetwork) ReadURL() string {
	if n.ReadRPCUrl != "" {
		return n.ReadRPCUrl
	}
	return n.RPCUrl
}

// SourceContracts are the parsed addresses a source network needs
type SourceContracts struct {
	WrappedNative      common.Address
	SettlementAsset    common.Address
	Multicall          common.Address
	PrimaryRouter      common.Address
	FallbackRouter     common.Address
	SettlementContract common.Address
	DepositContract    common.Address
}

type addressField struct {
	name  string
	value string
	dst   *common.Address
}

// Contracts validates and parses the addresses needed to bridge out of this
// network
func (n EVMNetwork) Contracts() (*SourceContracts, error) {
	c := &SourceContracts{}
	fields := []addressField{
		{"wrapped_native", n.WrappedNative, &c.WrappedNative},
		{"settlement_asset", n.SettlementAsset, &c.SettlementAsset},
		{"multicall", n.Multicall, &c.Multicall},
		{"primary_router", n.PrimaryRouter, &c.PrimaryRouter},
		{"fallback_router", n.FallbackRouter, &c.FallbackRouter},
		{"settlement_contract", n.SettlementContract, &c.SettlementContract},
		{"deposit_contract", n.DepositContract, &c.DepositContract},
	}

	for _, f := range fields {
		if !common.IsHexAddress(f.value) {
			return nil, fmt.Errorf("%s: invalid or missing address %q", f.name, f.value)
		}
		*f.dst = common.HexToAddress(f.value)
	}
	return c, nil
}

// Config holds the application configuration
type Config struct {
	Networks            map[string]EVMNetwork
	SlippageBps         uint32
	SwapDeadline        time.Duration
	ConfirmTimeout      time.Duration
	ConfirmPollInterval time.Duration
	Confirmations       uint64
	GasBufferPercent    uint64
	LogLevel            string
	JournalPath         string
	AutoConfirm         bool
}

// Network looks up a configured network by name
func (c *Config) Network(name string) (EVMNetwork, error) {
	network, exists := c.Networks[strings.ToLower(name)]
	if !exists {
		return EVMNetwork{}, fmt.Errorf("network %s not configured (configured: %s)", name, strings.Join(c.NetworkNames(), ", "))
	}
	return network, nil
}

// NetworkNames returns the configured network names in order
func (c *Config) NetworkNames() []string {
	names := make([]string, 0, len(c.Networks))
	for name := range c.Networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the settings that apply to every network
func (c *Config) Validate() error {
	if len(c.Networks) == 0 {
		return fmt.Errorf("no networks configured. Add a networks section to .evm-bridge.yaml")
	}
	if c.SlippageBps > 10000 {
		return fmt.Errorf("slippage_bps must be at most 10000, got %d", c.SlippageBps)
	}
	if c.SwapDeadline <= 0 {
		return fmt.Errorf("swap_deadline must be positive")
	}
	if c.ConfirmTimeout <= 0 || c.ConfirmPollInterval <= 0 {
		return fmt.Errorf("confirm_timeout and confirm_poll_interval must be positive")
	}
	if c.Confirmations == 0 {
		return fmt.Errorf("confirmations must be at least 1")
	}

	for name, network := range c.Networks {
		if network.ChainID <= 0 {
			return fmt.Errorf("network %s: chain_id is required", name)
		}
		if network.RPCUrl == "" {
			return fmt.Errorf("network %s: rpc_url is required", name)
		}
	}
	return nil
}

var globalConfig *Config

// Load reads configuration from environment variables and config file
func Load() (*Config, error) {
	viper.SetConfigName(".evm-bridge")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME")
	viper.AddConfigPath(".")

	// Read from environment variables
	viper.SetEnvPrefix("EVM_BRIDGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Read config file (optional)
	_ = viper.ReadInConfig()

	cfg, err := FromViper(viper.GetViper())
	if err != nil {
		return nil, err
	}

	globalConfig = cfg
	return cfg, nil
}

// FromViper builds a Config from an already populated viper instance
func FromViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	var networks map[string]EVMNetwork
	if err := v.UnmarshalKey("networks", &networks); err != nil {
		return nil, fmt.Errorf("failed to parse networks: %w", err)
	}

	normalized := make(map[string]EVMNetwork, len(networks))
	for name, network := range networks {
		name = strings.ToLower(name)
		// Secrets usually come from the environment rather than the file
		if network.PrivateKey == "" {
			network.PrivateKey = v.GetString("networks." + name + ".private_key")
		}
		if network.PrivateKey == "" {
			network.PrivateKey = v.GetString("private_key")
		}
		if network.Decimals == 0 {
			network.Decimals = 18
		}
		if network.SettlementDecimals == 0 {
			network.SettlementDecimals = 6
		}
		if network.Multicall == "" {
			network.Multicall = DefaultMulticall3
		}
		if network.NativeSymbol == "" {
			network.NativeSymbol = "ETH"
		}
		normalized[name] = network
	}

	journalPath := v.GetString("journal_path")
	if journalPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			journalPath = filepath.Join(home, DefaultJournalFileName)
		}
	}

	cfg := &Config{
		Networks:            normalized,
		SlippageBps:         v.GetUint32("slippage_bps"),
		SwapDeadline:        v.GetDuration("swap_deadline"),
		ConfirmTimeout:      v.GetDuration("confirm_timeout"),
		ConfirmPollInterval: v.GetDuration("confirm_poll_interval"),
		Confirmations:       v.GetUint64("confirmations"),
		GasBufferPercent:    v.GetUint64("gas_buffer_percent"),
		LogLevel:            v.GetString("log_level"),
		JournalPath:         journalPath,
		AutoConfirm:         v.GetBool("auto_confirm"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("slippage_bps", DefaultSlippageBps)
	v.SetDefault("swap_deadline", DefaultSwapDeadline)
	v.SetDefault("confirm_timeout", DefaultConfirmTimeout)
	v.SetDefault("confirm_poll_interval", DefaultConfirmPollInterval)
	v.SetDefault("confirmations", DefaultConfirmations)
	v.SetDefault("gas_buffer_percent", DefaultGasBufferPercent)
	v.SetDefault("log_level", "warn")
}

// Get returns the global configuration
func Get() *Config {
	if globalConfig == nil {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
			os.Exit(1)
		}
		return cfg
	}
	return globalConfig
}

// Set updates the global configuration
func Set(cfg *Config) {
	globalConfig = cfg
}
