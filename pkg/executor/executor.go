// Package executor broadcasts a composed batch as a single transaction and
// waits for it to be included.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"evm-bridge/pkg/deposit"
	"evm-bridge/pkg/types"
)

// Signer signs and broadcasts on the source chain and reads back receipts
type Signer interface {
	SendTransaction(ctx context.Context, to common.Address, value *big.Int, data []byte, gasLimit uint64) (*ethtypes.Transaction, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Transaction is the encoded batch to broadcast
type Transaction interface {
	To() common.Address
	Value() *big.Int
	Calldata() []byte
}

// Policy bounds the wait for inclusion
type Policy struct {
	PollInterval  time.Duration
	Confirmations uint64
	Timeout       time.Duration
}

// DefaultPolicy waits for one confirmation for at most ten minutes
var DefaultPolicy = Policy{
	PollInterval:  3 * time.Second,
	Confirmations: 1,
	Timeout:       10 * time.Minute,
}

// Executor submits batches. It never retries.
type Executor struct {
	signer Signer
	policy Policy
	logger *zap.Logger
}

// NewExecutor creates an executor. Zero policy fields take DefaultPolicy values.
func NewExecutor(signer Signer, policy Policy, logger *zap.Logger) *Executor {
	if policy.PollInterval <= 0 {
		policy.PollInterval = DefaultPolicy.PollInterval
	}
	if policy.Confirmations == 0 {
		policy.Confirmations = DefaultPolicy.Confirmations
	}
	if policy.Timeout <= 0 {
		policy.Timeout = DefaultPolicy.Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{signer: signer, policy: policy, logger: logger}
}

// Submit signs and broadcasts tx with the wrap amount attached.
func (e *Executor) Submit(ctx context.Context, tx Transaction, gasLimit uint64) (*ethtypes.Transaction, error) {
	signed, err := e.signer.SendTransaction(ctx, tx.To(), tx.Value(), tx.Calldata(), gasLimit)
	if err != nil {
		if deposit.IsUserRejected(err) {
			return nil, types.NewError(types.KindUserRejected, err, "signer declined the transaction")
		}
		return nil, types.NewError(types.KindNetwork, err, "failed to broadcast transaction")
	}

	e.logger.Info("batch submitted",
		zap.String("txHash", signed.Hash().Hex()),
		zap.String("to", tx.To().Hex()),
		zap.String("value", tx.Value().String()),
		zap.Uint64("gasLimit", gasLimit))
	return signed, nil
}

// WaitForReceipt polls until the transaction has the configured number of
// confirmations. Reverted receipts are returned as-is. Running out of time
// yields a ConfirmationTimeout error carrying the hash.
func (e *Executor) WaitForReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, e.policy.Timeout)
	defer cancel()

	ticker := time.NewTicker(e.policy.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := e.signer.TransactionReceipt(waitCtx, txHash)
		switch {
		case err == nil:
			confirmed, confErr := e.confirmed(waitCtx, receipt)
			if confErr != nil {
				e.logger.Debug("failed to read head", zap.Error(confErr))
			} else if confirmed {
				e.logger.Debug("transaction confirmed",
					zap.String("txHash", txHash.Hex()),
					zap.Uint64("status", receipt.Status),
					zap.Uint64("gasUsed", receipt.GasUsed))
				return receipt, nil
			}
		case errors.Is(err, ethereum.NotFound):
		default:
			// Transient lookup failures don't end the wait; the tx is already out
			e.logger.Debug("receipt lookup failed", zap.String("txHash", txHash.Hex()), zap.Error(err))
		}

		select {
		case <-waitCtx.Done():
			var waitErr *types.BridgeError
			if ctx.Err() != nil {
				waitErr = types.NewError(types.KindConfirmationTimeout, ctx.Err(),
					"stopped waiting for transaction %s before it was confirmed", txHash.Hex())
			} else {
				waitErr = types.NewError(types.KindConfirmationTimeout, waitCtx.Err(),
					"transaction %s not confirmed after %s", txHash.Hex(), e.policy.Timeout)
			}
			waitErr.TxHash = txHash
			return nil, waitErr
		case <-ticker.C:
		}
	}
}

func (e *Executor) confirmed(ctx context.Context, receipt *ethtypes.Receipt) (bool, error) {
	if e.policy.Confirmations <= 1 {
		return true, nil
	}
	if receipt.BlockNumber == nil {
		return false, fmt.Errorf("receipt has no block number")
	}

	head, err := e.signer.BlockNumber(ctx)
	if err != nil {
		return false, err
	}
	included := receipt.BlockNumber.Uint64()
	if head < included {
		return false, nil
	}
	return head-included+1 >= e.policy.Confirmations, nil
}
