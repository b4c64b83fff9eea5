// Package batch assembles the fixed wrap, approve, swap, settle call
// sequence and encodes it as one Multicall3 transaction.
package batch

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"evm-bridge/pkg/contracts"
	"evm-bridge/pkg/types"
)

// Step is the position of a call inside the batch
type Step int

const (
	StepWrap Step = iota
	StepApprove
	StepSwap
	StepSettle

	stepCount = 4
)

func (s Step) String() string {
	switch s {
	case StepWrap:
		return "wrap"
	case StepApprove:
		return "approve"
	case StepSwap:
		return "swap"
	case StepSettle:
		return "settle"
	default:
		return "unknown"
	}
}

// Params is everything one attempt contributes to the batch
type Params struct {
	Quote              *types.RouteQuote
	WrappedNative      common.Address
	SettlementAsset    common.Address
	SettlementContract common.Address
	DepositContract    common.Address
	Recipient          common.Address
	Requester          common.Address
	DestinationChainID *big.Int
	DepositID          types.PreliminaryID
}

// Batch is a composed, immutable call sequence
type Batch struct {
	to       common.Address
	steps    [stepCount]types.CallStep
	value    *big.Int
	deadline time.Time
	calldata []byte
}

// Steps returns a copy of the calls in execution order
func (b *Batch) Steps() []types.CallStep {
	out := make([]types.CallStep, 0, stepCount)
	for _, s := range b.steps {
		out = append(out, types.CallStep{
			Target:       s.Target,
			Value:        new(big.Int).Set(s.Value),
			Payload:      common.CopyBytes(s.Payload),
			AllowFailure: s.AllowFailure,
		})
	}
	return out
}

// Step returns a copy of a single call
func (b *Batch) Step(s Step) types.CallStep {
	return b.Steps()[s]
}

// To is the Multicall3 contract the batch is sent to
func (b *Batch) To() common.Address {
	return b.to
}

// Value is the native amount attached to the transaction, equal to the wrap amount
func (b *Batch) Value() *big.Int {
	return new(big.Int).Set(b.value)
}

// Deadline is the swap deadline
func (b *Batch) Deadline() time.Time {
	return b.deadline
}

// Calldata returns the encoded aggregate3Value call
func (b *Batch) Calldata() []byte {
	return common.CopyBytes(b.calldata)
}

// Composer builds batches for one source network
type Composer struct {
	multicall common.Address
	window    time.Duration
	now       func() time.Time
}

// NewComposer creates a composer. The window bounds the swap deadline; a nil
// clock uses time.Now.
func NewComposer(multicall common.Address, window time.Duration, now func() time.Time) (*Composer, error) {
	if multicall == (common.Address{}) {
		return nil, fmt.Errorf("multicall address is required")
	}
	if window <= 0 {
		return nil, fmt.Errorf("swap deadline window must be positive")
	}
	if now == nil {
		now = time.Now
	}
	return &Composer{multicall: multicall, window: window, now: now}, nil
}

// Compose builds the four calls and encodes them.
func (c *Composer) Compose(p Params) (*Batch, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	q := p.Quote
	deadline := c.now().Add(c.window)
	zero := new(big.Int)

	wrap, err := contracts.WrappedNative.Pack("deposit")
	if err != nil {
		return nil, fmt.Errorf("failed to pack wrap: %w", err)
	}

	approve, err := contracts.WrappedNative.Pack("approve", q.Router, contracts.MaxAllowance)
	if err != nil {
		return nil, fmt.Errorf("failed to pack approve: %w", err)
	}

	// Swap output goes to the settlement contract, not back to the requester
	swap, err := contracts.Router.Pack("swapExactTokensForTokens",
		q.AmountIn, q.AmountOutMin, q.Path, p.SettlementContract, big.NewInt(deadline.Unix()))
	if err != nil {
		return nil, fmt.Errorf("failed to pack swap: %w", err)
	}

	settle, err := c.settlementCall(p)
	if err != nil {
		return nil, err
	}

	b := &Batch{
		to:       c.multicall,
		value:    new(big.Int).Set(q.AmountIn),
		deadline: deadline,
	}
	b.steps[StepWrap] = types.CallStep{Target: p.WrappedNative, Value: new(big.Int).Set(q.AmountIn), Payload: wrap}
	b.steps[StepApprove] = types.CallStep{Target: p.WrappedNative, Value: zero, Payload: approve, AllowFailure: true}
	b.steps[StepSwap] = types.CallStep{Target: q.Router, Value: zero, Payload: swap}
	b.steps[StepSettle] = types.CallStep{Target: p.SettlementContract, Value: zero, Payload: settle}

	calls := make([]contracts.Call3Value, 0, stepCount)
	for _, s := range b.steps {
		calls = append(calls, contracts.Call3Value{
			Target:       s.Target,
			AllowFailure: s.AllowFailure,
			Value:        s.Value,
			CallData:     s.Payload,
		})
	}
	b.calldata, err = contracts.Multicall3.Pack("aggregate3Value", calls)
	if err != nil {
		return nil, fmt.Errorf("failed to pack multicall: %w", err)
	}

	return b, nil
}

// settlementCall has the settlement contract approve the deposit contract
// for exactly the expected amount and deposit it with the routing payload.
func (c *Composer) settlementCall(p Params) ([]byte, error) {
	expected := p.Quote.AmountOutExpected
	ref := p.DepositID.Bytes()

	routing, err := contracts.PackRouting(p.Recipient, p.DestinationChainID, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to pack routing: %w", err)
	}

	approve, err := contracts.ERC20.Pack("approve", p.DepositContract, expected)
	if err != nil {
		return nil, fmt.Errorf("failed to pack settlement approve: %w", err)
	}

	deposit, err := contracts.Deposit.Pack("depositFor",
		p.Recipient, p.SettlementAsset, expected, p.DestinationChainID, routing)
	if err != nil {
		return nil, fmt.Errorf("failed to pack depositFor: %w", err)
	}

	inner := []contracts.ForwardCall{
		{Target: p.SettlementAsset, CallData: approve, Value: new(big.Int)},
		{Target: p.DepositContract, CallData: deposit, Value: new(big.Int)},
	}

	data, err := contracts.Settlement.Pack("forward", inner, p.Requester, p.Recipient, ref[:])
	if err != nil {
		return nil, fmt.Errorf("failed to pack forward: %w", err)
	}
	return data, nil
}

func (p Params) validate() error {
	q := p.Quote
	if q == nil {
		return fmt.Errorf("quote is required")
	}
	if q.AmountIn == nil || q.AmountIn.Sign() <= 0 {
		return fmt.Errorf("quote amount in must be positive")
	}
	if q.AmountOutExpected == nil || q.AmountOutMin == nil || q.AmountOutMin.Cmp(q.AmountOutExpected) > 0 {
		return fmt.Errorf("quote minimum output exceeds expected output")
	}
	if len(q.Path) < 2 || q.Path[0] != p.WrappedNative || q.Path[len(q.Path)-1] != p.SettlementAsset {
		return fmt.Errorf("quote path does not run from wrapped native to settlement asset")
	}
	if p.SettlementContract == (common.Address{}) || p.DepositContract == (common.Address{}) {
		return fmt.Errorf("settlement and deposit contracts are required")
	}
	if p.Recipient == (common.Address{}) || p.Requester == (common.Address{}) {
		return fmt.Errorf("recipient and requester are required")
	}
	if p.DestinationChainID == nil || p.DestinationChainID.Sign() <= 0 {
		return fmt.Errorf("destination chain id is required")
	}
	return nil
}
