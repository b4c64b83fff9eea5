package deposit

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evm-bridge/config"
)

type mockSigner struct {
	name    string
	chainID int64
	sent    int
	closed  bool
}

func (m *mockSigner) Address() common.Address { return sender }

func (m *mockSigner) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(m.chainID), nil
}

func (m *mockSigner) SendTransaction(ctx context.Context, to common.Address, value *big.Int, data []byte, gasLimit uint64) (*types.Transaction, error) {
	m.sent++
	return types.NewTx(&types.LegacyTx{To: &to, Value: value, Gas: gasLimit, Data: data}), nil
}

func (m *mockSigner) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return &types.Receipt{TxHash: txHash, Status: types.ReceiptStatusSuccessful}, nil
}

func (m *mockSigner) BlockNumber(ctx context.Context) (uint64, error) { return 1, nil }

func (m *mockSigner) Close() { m.closed = true }

var testNetworks = map[string]config.EVMNetwork{
	"ethereum": {ChainID: 1},
	"base":     {ChainID: 8453},
}

func newTestManager(t *testing.T, active string) (*Manager, map[string]*mockSigner) {
	t.Helper()
	created := make(map[string]*mockSigner)
	m, err := newManager(testNetworks, active, func(name string, network config.EVMNetwork) (networkSigner, error) {
		s := &mockSigner{name: name, chainID: network.ChainID}
		created[name] = s
		return s, nil
	})
	require.NoError(t, err)
	return m, created
}

func TestManagerSwitchChain(t *testing.T) {
	m, created := newTestManager(t, "base")
	ctx := context.Background()

	id, err := m.ChainID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(8453), id.Int64())

	require.NoError(t, m.SwitchChain(ctx, big.NewInt(1)))
	assert.Equal(t, "ethereum", m.ActiveNetwork())

	_, err = m.SendTransaction(ctx, recipient, big.NewInt(1), nil, 21000)
	require.NoError(t, err)
	assert.Equal(t, 1, created["ethereum"].sent)
	assert.Equal(t, 0, created["base"].sent)

	assert.Error(t, m.SwitchChain(ctx, big.NewInt(42)))
	assert.Equal(t, "ethereum", m.ActiveNetwork())
}

func TestManagerSwitchChainOpensSigner(t *testing.T) {
	m, err := newManager(testNetworks, "ethereum", func(name string, network config.EVMNetwork) (networkSigner, error) {
		if name == "base" {
			return nil, errors.New("failed to connect to RPC endpoint")
		}
		return &mockSigner{name: name, chainID: network.ChainID}, nil
	})
	require.NoError(t, err)
	ctx := context.Background()

	addr, err := m.Address()
	require.NoError(t, err)
	assert.Equal(t, sender, addr)

	err = m.SwitchChain(ctx, big.NewInt(8453))
	assert.ErrorContains(t, err, "failed to connect")
	assert.Equal(t, "ethereum", m.ActiveNetwork())

	addr, err = m.Address()
	require.NoError(t, err)
	assert.Equal(t, sender, addr)
}

func TestManagerAddressReportsSignerError(t *testing.T) {
	m, err := newManager(testNetworks, "base", func(name string, network config.EVMNetwork) (networkSigner, error) {
		return nil, errors.New("invalid private key")
	})
	require.NoError(t, err)

	addr, err := m.Address()
	assert.ErrorContains(t, err, "invalid private key")
	assert.Equal(t, common.Address{}, addr)
}

func TestManagerReusesConnections(t *testing.T) {
	m, created := newTestManager(t, "ethereum")
	ctx := context.Background()

	_, _ = m.ChainID(ctx)
	first := created["ethereum"]
	_, _ = m.BlockNumber(ctx)
	assert.Same(t, first, created["ethereum"])

	m.Close()
	assert.True(t, first.closed)
}

func TestManagerUnknownNetwork(t *testing.T) {
	_, err := NewManager(testNetworks, "solana")
	assert.Error(t, err)
}

func TestManagerSupportedChains(t *testing.T) {
	m, _ := newTestManager(t, "base")
	assert.Equal(t, []string{"base", "ethereum"}, m.GetSupportedChains())
}

type codedError struct{ code int }

func (e codedError) Error() string  { return fmt.Sprintf("rpc error %d", e.code) }
func (e codedError) ErrorCode() int { return e.code }

func TestIsUserRejected(t *testing.T) {
	assert.True(t, IsUserRejected(ErrUserRejected))
	assert.True(t, IsUserRejected(fmt.Errorf("failed to send transaction: %w", ErrUserRejected)))
	assert.True(t, IsUserRejected(fmt.Errorf("wrapped: %w", codedError{code: 4001})))
	assert.False(t, IsUserRejected(codedError{code: -32000}))
	assert.False(t, IsUserRejected(errors.New("nonce too low")))
}
