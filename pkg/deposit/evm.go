package deposit

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"evm-bridge/config"
)

// userRejectedCode is the EIP-1193 "user rejected request" code returned by
// remote signers.
const userRejectedCode = 4001

// ErrUserRejected means the signer declined to sign.
var ErrUserRejected = errors.New("user rejected the request")

// IsUserRejected reports whether err is a signer rejection.
func IsUserRejected(err error) bool {
	if errors.Is(err, ErrUserRejected) {
		return true
	}
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr) && rpcErr.ErrorCode() == userRejectedCode
}

// EVMSigner signs and broadcasts transactions on one EVM network. It owns
// the write-path connection for that network.
type EVMSigner struct {
	networkName string
	network     config.EVMNetwork
	client      *ethclient.Client
	privateKey  *ecdsa.PrivateKey
	address     common.Address
}

// NewEVMSigner creates a new EVM signer for a specific network
func NewEVMSigner(networkName string, network config.EVMNetwork) (*EVMSigner, error) {
	// Validate configuration
	if network.RPCUrl == "" {
		return nil, fmt.Errorf("RPC URL not configured for network %s", networkName)
	}
	if network.PrivateKey == "" {
		return nil, fmt.Errorf("private key not configured for network %s", networkName)
	}

	// Parse private key
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(network.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	// Connect to the RPC endpoint
	client, err := ethclient.Dial(network.RPCUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}

	return &EVMSigner{
		networkName: networkName,
		network:     network,
		client:      client,
		privateKey:  privateKey,
		address:     crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

// Network returns the configured network name
func (e *EVMSigner) Network() string {
	return e.networkName
}

// Address returns the sender address derived from the private key
func (e *EVMSigner) Address() common.Address {
	return e.address
}

// ChainID returns the chain id reported by the node. It must match the
// configured one.
func (e *EVMSigner) ChainID(ctx context.Context) (*big.Int, error) {
	chainID, err := e.client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	if chainID.Int64() != e.network.ChainID {
		return nil, fmt.Errorf("network %s: node reports chain id %s, configured %d", e.networkName, chainID, e.network.ChainID)
	}
	return chainID, nil
}

// SendTransaction signs a call to `to` carrying `value` and broadcasts it.
func (e *EVMSigner) SendTransaction(ctx context.Context, to common.Address, value *big.Int, data []byte, gasLimit uint64) (*types.Transaction, error) {
	// Get nonce
	nonce, err := e.client.PendingNonceAt(ctx, e.address)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	// Get gas price
	gasPrice, err := e.getGasPrice(ctx)
	if err != nil {
		return nil, err
	}

	// A configured gas limit overrides the estimate
	if e.network.GasLimit != nil {
		gasLimit = *e.network.GasLimit
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	// Sign transaction
	chainID := big.NewInt(e.network.ChainID)
	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), e.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	// Send transaction
	if err := e.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}

	return signedTx, nil
}

// TransactionReceipt returns the receipt of a mined transaction, or
// ethereum.NotFound while it is pending.
func (e *EVMSigner) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return e.client.TransactionReceipt(ctx, txHash)
}

// BlockNumber returns the current head height
func (e *EVMSigner) BlockNumber(ctx context.Context) (uint64, error) {
	return e.client.BlockNumber(ctx)
}

// getGasPrice returns the gas price to use for transactions
func (e *EVMSigner) getGasPrice(ctx context.Context) (*big.Int, error) {
	// Use configured gas price if available
	if e.network.GasPrice != nil {
		return big.NewInt(*e.network.GasPrice), nil
	}

	// Otherwise, get current gas price from network
	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	return gasPrice, nil
}

// Close closes the client connection
func (e *EVMSigner) Close() {
	if e.client != nil {
		e.client.Close()
	}
}
