package deposit

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"evm-bridge/config"
)

// networkSigner is the per-network signer a Manager delegates to
type networkSigner interface {
	Address() common.Address
	ChainID(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, to common.Address, value *big.Int, data []byte, gasLimit uint64) (*types.Transaction, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

type signerFactory func(name string, network config.EVMNetwork) (networkSigner, error)

// Manager is a wallet spanning every configured EVM network. It signs on one
// active network at a time and can switch between them.
type Manager struct {
	networks  map[string]config.EVMNetwork
	newSigner signerFactory

	mu      sync.Mutex
	signers map[string]networkSigner
	active  string
}

// NewManager creates a new wallet manager with the given network active
func NewManager(networks map[string]config.EVMNetwork, active string) (*Manager, error) {
	return newManager(networks, active, func(name string, network config.EVMNetwork) (networkSigner, error) {
		return NewEVMSigner(name, network)
	})
}

func newManager(networks map[string]config.EVMNetwork, active string, factory signerFactory) (*Manager, error) {
	active = strings.ToLower(active)
	if _, exists := networks[active]; !exists {
		return nil, fmt.Errorf("network %s not configured", active)
	}

	return &Manager{
		networks:  networks,
		newSigner: factory,
		signers:   make(map[string]networkSigner),
		active:    active,
	}, nil
}

// ActiveNetwork returns the name of the network currently signing
func (m *Manager) ActiveNetwork() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// SwitchChain makes the network with the given chain id the active one. The
// target's signer is opened first; on failure the active network is unchanged.
func (m *Manager) SwitchChain(ctx context.Context, chainID *big.Int) error {
	if chainID == nil {
		return fmt.Errorf("chain id is required")
	}

	for name, network := range m.networks {
		if network.ChainID != chainID.Int64() {
			continue
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		if _, err := m.signerLocked(name); err != nil {
			return fmt.Errorf("failed to switch to %s: %w", name, err)
		}
		m.active = name
		return nil
	}

	return fmt.Errorf("no configured network with chain id %s", chainID)
}

// signer returns the active network's signer, connecting on first use
func (m *Manager) signer() (networkSigner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signerLocked(m.active)
}

func (m *Manager) signerLocked(name string) (networkSigner, error) {
	if s, exists := m.signers[name]; exists {
		return s, nil
	}

	s, err := m.newSigner(name, m.networks[name])
	if err != nil {
		return nil, err
	}
	m.signers[name] = s
	return s, nil
}

// Address returns the sender address on the active network
func (m *Manager) Address() (common.Address, error) {
	s, err := m.signer()
	if err != nil {
		return common.Address{}, err
	}
	addr := s.Address()
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("network %s: signer has no address", m.ActiveNetwork())
	}
	return addr, nil
}

// ChainID returns the active network's chain id
func (m *Manager) ChainID(ctx context.Context) (*big.Int, error) {
	s, err := m.signer()
	if err != nil {
		return nil, err
	}
	return s.ChainID(ctx)
}

// SendTransaction signs and broadcasts on the active network
func (m *Manager) SendTransaction(ctx context.Context, to common.Address, value *big.Int, data []byte, gasLimit uint64) (*types.Transaction, error) {
	s, err := m.signer()
	if err != nil {
		return nil, err
	}
	return s.SendTransaction(ctx, to, value, data, gasLimit)
}

// TransactionReceipt looks up a receipt on the active network
func (m *Manager) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	s, err := m.signer()
	if err != nil {
		return nil, err
	}
	return s.TransactionReceipt(ctx, txHash)
}

// BlockNumber returns the active network's head height
func (m *Manager) BlockNumber(ctx context.Context) (uint64, error) {
	s, err := m.signer()
	if err != nil {
		return 0, err
	}
	return s.BlockNumber(ctx)
}

// GetSupportedChains returns the configured network names
func (m *Manager) GetSupportedChains() []string {
	supported := make([]string, 0, len(m.networks))
	for name := range m.networks {
		supported = append(supported, name)
	}
	sort.Strings(supported)
	return supported
}

// Close closes every opened connection
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, s := range m.signers {
		s.Close()
		delete(m.signers, name)
	}
}
