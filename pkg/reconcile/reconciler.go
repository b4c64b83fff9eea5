// Package reconcile recovers the canonical deposit identifier from a
// confirmed transaction's logs.
package reconcile

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"evm-bridge/pkg/contracts"
	"evm-bridge/pkg/types"
)

// Reconciler matches DepositForwarded events emitted by one settlement contract
type Reconciler struct {
	settlement common.Address
	logger     *zap.Logger
}

// NewReconciler creates a reconciler for the given settlement contract
func NewReconciler(settlement common.Address, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{settlement: settlement, logger: logger}
}

// Find returns the first settlement event in logs, in emission order.
func (r *Reconciler) Find(logs []*ethtypes.Log) (*contracts.DepositForwarded, bool) {
	for _, l := range logs {
		if l == nil || l.Address != r.settlement {
			continue
		}
		ev, err := contracts.ParseDepositForwarded(*l)
		if err != nil {
			if !errors.Is(err, contracts.ErrNotDepositForwarded) {
				r.logger.Debug("skipping undecodable settlement log",
					zap.Uint("logIndex", l.Index),
					zap.Error(err))
			}
			continue
		}
		return ev, true
	}
	return nil, false
}

// Reconcile builds the settlement receipt for a mined transaction. When no
// event is found the preliminary identifier is kept and Reconciled is false.
func (r *Reconciler) Reconcile(receipt *ethtypes.Receipt, preliminary types.PreliminaryID) types.SettlementReceipt {
	result := types.SettlementReceipt{
		TxHash:    receipt.TxHash,
		Status:    types.TxSuccess,
		DepositID: preliminary,
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		result.Status = types.TxReverted
		return result
	}

	ev, ok := r.Find(receipt.Logs)
	if !ok {
		r.logger.Warn("settlement event not found, keeping preliminary deposit id",
			zap.String("kind", string(types.KindReconciliationWarning)),
			zap.String("txHash", receipt.TxHash.Hex()),
			zap.String("settlement", r.settlement.Hex()),
			zap.String("preliminaryId", preliminary.Hex()),
			zap.Int("logs", len(receipt.Logs)))
		return result
	}

	result.DepositID = types.CanonicalID(ev.DepositId)
	result.SettledAmount = new(big.Int).Set(ev.Amount)
	result.Reconciled = true

	r.logger.Debug("deposit reconciled",
		zap.String("txHash", receipt.TxHash.Hex()),
		zap.String("depositId", result.DepositID.Hex()),
		zap.String("amount", ev.Amount.String()))
	return result
}
