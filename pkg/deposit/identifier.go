package deposit

import (
	"encoding/binary"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"evm-bridge/pkg/types"
)

// Deriver computes client-side deposit identifiers.
//
// The preliminary identifier is a placeholder for display and tracking
// before a transaction exists. The settlement contract derives the real one
// from inclusion-time data (block hash, log position), so the two never
// match; only the CanonicalID recovered from the settlement event may be
// used for tracking.
type Deriver struct {
	now func() time.Time
}

// NewDeriver creates a deriver. A nil clock uses time.Now.
func NewDeriver(now func() time.Time) *Deriver {
	if now == nil {
		now = time.Now
	}
	return &Deriver{now: now}
}

// Preliminary derives an identifier for a new attempt. The clock is read
// once, so repeated attempts never produce the same value.
func (d *Deriver) Preliminary(sender, recipient common.Address, destinationChainID *big.Int) types.PreliminaryID {
	return PreliminaryAt(sender, recipient, destinationChainID, d.now())
}

// PreliminaryAt is keccak256(sender ‖ recipient ‖ uint256(chainID) ‖ uint64(unixNano)).
func PreliminaryAt(sender, recipient common.Address, destinationChainID *big.Int, at time.Time) types.PreliminaryID {
	chainID := destinationChainID
	if chainID == nil {
		chainID = new(big.Int)
	}

	buf := make([]byte, 0, common.AddressLength*2+32+8)
	buf = append(buf, sender.Bytes()...)
	buf = append(buf, recipient.Bytes()...)
	buf = append(buf, common.LeftPadBytes(chainID.Bytes(), 32)...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(at.UnixNano()))

	var id types.PreliminaryID
	copy(id[:], crypto.Keccak256(buf))
	return id
}
