// Package preflight simulates a composed batch before it is signed. A failed
// simulation is final: callers must not submit.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"evm-bridge/pkg/contracts"
	"evm-bridge/pkg/types"
)

// Transaction is the encoded call being simulated
type Transaction interface {
	To() common.Address
	Value() *big.Int
	Calldata() []byte
}

// settlement custom errors and the category each decodes to
var knownErrors = map[string]types.RevertReason{
	"InsufficientBalance":  types.ReasonInsufficientBalance,
	"InvalidDepositId":     types.ReasonInvalidIdentifier,
	"DepositIdAlreadyUsed": types.ReasonIdentifierReused,
}

var selectors = buildSelectors()

func buildSelectors() map[[4]byte]types.RevertReason {
	table := make(map[[4]byte]types.RevertReason, len(knownErrors))
	for name, reason := range knownErrors {
		abiErr, ok := contracts.Settlement.Errors[name]
		if !ok {
			panic(fmt.Sprintf("settlement ABI is missing error %s", name))
		}
		var sel [4]byte
		copy(sel[:], abiErr.ID[:4])
		table[sel] = reason
	}
	return table
}

// Estimator runs eth_estimateGas over the whole batch
type Estimator struct {
	estimator     ethereum.GasEstimator
	bufferPercent uint64
	logger        *zap.Logger
}

// NewEstimator creates an estimator. bufferPercent is added on top of a
// successful estimate.
func NewEstimator(estimator ethereum.GasEstimator, bufferPercent uint64, logger *zap.Logger) *Estimator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Estimator{
		estimator:     estimator,
		bufferPercent: bufferPercent,
		logger:        logger,
	}
}

// Estimate simulates tx as sent from `from` and returns the gas limit to
// use. Any failure is a SimulationFailed error.
func (e *Estimator) Estimate(ctx context.Context, from common.Address, tx Transaction) (uint64, error) {
	to := tx.To()
	msg := ethereum.CallMsg{
		From:  from,
		To:    &to,
		Value: tx.Value(),
		Data:  tx.Calldata(),
	}

	gas, err := e.estimator.EstimateGas(ctx, msg)
	if err != nil {
		bridgeErr := Decode(err)
		e.logger.Warn("preflight simulation failed",
			zap.String("from", from.Hex()),
			zap.String("to", to.Hex()),
			zap.String("category", bridgeErr.Category()),
			zap.Error(err))
		return 0, bridgeErr
	}

	limit := gas + gas*e.bufferPercent/100
	e.logger.Debug("preflight simulation passed",
		zap.Uint64("estimate", gas),
		zap.Uint64("gasLimit", limit))
	return limit, nil
}

// Decode turns a failed estimate into a SimulationFailed error, recognising
// the settlement contract's custom errors and Error(string) reverts.
func Decode(err error) *types.BridgeError {
	data := revertData(err)
	reason, message := DecodeRevert(data)

	if message == "" {
		message = "transaction would revert"
	} else {
		message = "transaction would revert: " + message
	}

	return &types.BridgeError{
		Kind:    types.KindSimulationFailed,
		Reason:  reason,
		Message: message,
		Err:     err,
	}
}

// DecodeRevert classifies raw revert data. Unknown data yields ReasonNone
// and whatever reason string could be recovered.
func DecodeRevert(data []byte) (types.RevertReason, string) {
	if len(data) < 4 {
		return types.ReasonNone, ""
	}

	var sel [4]byte
	copy(sel[:], data[:4])
	if reason, ok := selectors[sel]; ok {
		return reason, string(reason)
	}

	if msg, err := abi.UnpackRevert(data); err == nil {
		return types.ReasonNone, msg
	}
	return types.ReasonNone, fmt.Sprintf("unknown revert data %s", hexutil.Encode(data))
}

// revertData pulls the revert payload out of an RPC error, if the node
// returned one.
func revertData(err error) []byte {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return nil
	}

	switch d := dataErr.ErrorData().(type) {
	case string:
		b, decodeErr := hexutil.Decode(d)
		if decodeErr != nil {
			return nil
		}
		return b
	case []byte:
		return d
	case hexutil.Bytes:
		return d
	default:
		return nil
	}
}
