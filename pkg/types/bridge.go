package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// BridgeRequest represents a user's bridge command
type BridgeRequest struct {
	SourceAsset      string
	SourceChain      string
	DestinationChain string
	Amount           string // decimal string at the source asset's precision
	Recipient        string
	Requester        string
}

// RouterBackend identifies which pricing backend produced a quote
type RouterBackend int

const (
	Primary RouterBackend = iota
	Fallback
)

func (b RouterBackend) String() string {
	switch b {
	case Primary:
		return "primary"
	case Fallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// RouteQuote is the priced route for one input amount. It is recomputed
// whenever the input changes.
type RouteQuote struct {
	Backend           RouterBackend
	Router            common.Address
	Path              []common.Address
	AmountIn          *big.Int
	AmountOutExpected *big.Int
	AmountOutMin      *big.Int
	SlippageBps       uint32
}

// CallStep is a single call inside the atomic batch
type CallStep struct {
	Target       common.Address
	Value        *big.Int
	Payload      []byte
	AllowFailure bool
}

// DepositIdentifier correlates a source-chain deposit with its destination
// credit. It is either a PreliminaryID or a CanonicalID and nothing else.
type DepositIdentifier interface {
	Bytes() [32]byte
	Hex() string
	IsCanonical() bool
	isDepositIdentifier()
}

// PreliminaryID is derived client-side before submission. Display only.
type PreliminaryID [32]byte

func (id PreliminaryID) Bytes() [32]byte      { return id }
func (id PreliminaryID) Hex() string          { return hexutil.Encode(id[:]) }
func (id PreliminaryID) IsCanonical() bool    { return false }
func (id PreliminaryID) isDepositIdentifier() {}

// CanonicalID is recovered from the settlement event after confirmation and
// is authoritative for any downstream tracking.
type CanonicalID [32]byte

func (id CanonicalID) Bytes() [32]byte      { return id }
func (id CanonicalID) Hex() string          { return hexutil.Encode(id[:]) }
func (id CanonicalID) IsCanonical() bool    { return true }
func (id CanonicalID) isDepositIdentifier() {}

// TxStatus is the inclusion outcome of a submitted transaction
type TxStatus string

const (
	TxSuccess  TxStatus = "success"
	TxReverted TxStatus = "reverted"
)

// SettlementReceipt is produced exactly once per attempt, at the end of the
// pipeline.
type SettlementReceipt struct {
	TxHash        common.Hash
	Status        TxStatus
	DepositID     DepositIdentifier
	SettledAmount *big.Int
	Reconciled    bool
}
