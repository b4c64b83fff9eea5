// Package bridge drives one bridge attempt through balance check, quote,
// composition, simulation, submission and reconciliation.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"evm-bridge/config"
	"evm-bridge/pkg/amount"
	"evm-bridge/pkg/balance"
	"evm-bridge/pkg/batch"
	"evm-bridge/pkg/deposit"
	"evm-bridge/pkg/executor"
	"evm-bridge/pkg/preflight"
	"evm-bridge/pkg/quote"
	"evm-bridge/pkg/reconcile"
	"evm-bridge/pkg/types"
)

// ChainReader is the read-only connection used for balances, quotes and
// simulation on one network
type ChainReader interface {
	balance.Reader
	ethereum.GasEstimator
}

// Wallet signs on the source chain
type Wallet interface {
	executor.Signer
	Address() (common.Address, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// ChainSwitcher is implemented by wallets that can change their active chain
type ChainSwitcher interface {
	SwitchChain(ctx context.Context, chainID *big.Int) error
}

// Network describes one chain the pipeline can bridge from or to
type Network struct {
	Name         string
	ChainID      *big.Int
	NativeSymbol string
	Decimals     int32
	Reader       ChainReader
	// Contracts is nil for networks that are only ever a destination
	Contracts *config.SourceContracts
}

// Options tunes a pipeline
type Options struct {
	SlippageBps      uint32
	SwapDeadline     time.Duration
	GasBufferPercent uint64
	Confirmation     executor.Policy
	Now              func() time.Time
	Hooks            []Hook
}

// Result is returned for every attempt, successful or not
type Result struct {
	AttemptID  string
	Success    bool
	TxHash     common.Hash
	Message    string
	DepositID  types.DepositIdentifier
	Reconciled bool
	State      State
	Quote      *types.RouteQuote
	Receipt    *types.SettlementReceipt
}

type source struct {
	network    Network
	engine     *quote.Engine
	composer   *batch.Composer
	estimator  *preflight.Estimator
	reconciler *reconcile.Reconciler
}

// route is a validated request resolved against the configured networks
type route struct {
	src       *source
	dest      Network
	amountIn  *big.Int
	recipient common.Address
	requester common.Address
}

// Pipeline runs bridge attempts. Attempts share only the read-only
// connections and may run concurrently.
type Pipeline struct {
	wallet    Wallet
	networks  map[string]Network
	sources   map[string]*source
	executor  *executor.Executor
	inspector *balance.Inspector
	deriver   *deposit.Deriver
	hooks     []Hook
	now       func() time.Time
	logger    *zap.Logger
}

// New creates a pipeline over the given networks
func New(wallet Wallet, networks []Network, opts Options, logger *zap.Logger) (*Pipeline, error) {
	if wallet == nil {
		return nil, fmt.Errorf("wallet is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SwapDeadline <= 0 {
		opts.SwapDeadline = config.DefaultSwapDeadline
	}

	p := &Pipeline{
		wallet:    wallet,
		networks:  make(map[string]Network, len(networks)),
		sources:   make(map[string]*source),
		executor:  executor.NewExecutor(wallet, opts.Confirmation, logger),
		inspector: balance.NewInspector(logger),
		deriver:   deposit.NewDeriver(opts.Now),
		hooks:     opts.Hooks,
		now:       opts.Now,
		logger:    logger,
	}

	for _, n := range networks {
		name := strings.ToLower(n.Name)
		if n.ChainID == nil || n.ChainID.Sign() <= 0 {
			return nil, fmt.Errorf("network %s: chain id is required", name)
		}
		p.networks[name] = n

		if n.Contracts == nil {
			continue
		}
		if n.Reader == nil {
			return nil, fmt.Errorf("network %s: a source network needs a reader", name)
		}

		c := n.Contracts
		engine, err := quote.NewEngine(n.Reader, c.PrimaryRouter, c.FallbackRouter, opts.SlippageBps, logger.With(zap.String("network", name)))
		if err != nil {
			return nil, fmt.Errorf("network %s: %w", name, err)
		}
		composer, err := batch.NewComposer(c.Multicall, opts.SwapDeadline, opts.Now)
		if err != nil {
			return nil, fmt.Errorf("network %s: %w", name, err)
		}
		p.sources[name] = &source{
			network:    n,
			engine:     engine,
			composer:   composer,
			estimator:  preflight.NewEstimator(n.Reader, opts.GasBufferPercent, logger),
			reconciler: reconcile.NewReconciler(c.SettlementContract, logger),
		}
	}

	return p, nil
}

// Validate checks a request without touching the network
func (p *Pipeline) Validate(req types.BridgeRequest) error {
	_, err := p.validate(req)
	return err
}

func (p *Pipeline) validate(req types.BridgeRequest) (*route, error) {
	invalid := func(format string, args ...interface{}) error {
		return types.NewError(types.KindValidation, nil, format, args...)
	}

	srcName := strings.ToLower(strings.TrimSpace(req.SourceChain))
	destName := strings.ToLower(strings.TrimSpace(req.DestinationChain))
	if srcName == "" || destName == "" {
		return nil, invalid("source and destination chains are required")
	}
	if srcName == destName {
		return nil, invalid("source and destination chains must differ")
	}

	dest, ok := p.networks[destName]
	if !ok {
		return nil, invalid("destination chain %s is not configured", destName)
	}
	src, ok := p.sources[srcName]
	if !ok {
		if _, known := p.networks[srcName]; known {
			return nil, invalid("chain %s has no bridge contracts configured", srcName)
		}
		return nil, invalid("source chain %s is not configured", srcName)
	}
	if src.network.ChainID.Cmp(dest.ChainID) == 0 {
		return nil, invalid("source and destination chains must differ")
	}

	if req.SourceAsset != "" && !strings.EqualFold(req.SourceAsset, src.network.NativeSymbol) {
		return nil, invalid("only the native asset %s can be bridged from %s, got %s",
			src.network.NativeSymbol, srcName, req.SourceAsset)
	}

	amountIn, err := amount.Parse(req.Amount, src.network.Decimals)
	if err != nil {
		return nil, types.NewError(types.KindValidation, err, "invalid amount %q", req.Amount)
	}

	if !common.IsHexAddress(req.Recipient) {
		return nil, invalid("invalid recipient address %q", req.Recipient)
	}
	recipient := common.HexToAddress(req.Recipient)
	if recipient == (common.Address{}) {
		return nil, invalid("recipient cannot be the zero address")
	}

	var requester common.Address
	if req.Requester != "" {
		if !common.IsHexAddress(req.Requester) {
			return nil, invalid("invalid requester address %q", req.Requester)
		}
		requester = common.HexToAddress(req.Requester)
	}

	return &route{
		src:       src,
		dest:      dest,
		amountIn:  amountIn,
		recipient: recipient,
		requester: requester,
	}, nil
}

// Quote prices a request without composing or submitting anything
func (p *Pipeline) Quote(ctx context.Context, req types.BridgeRequest) (*types.RouteQuote, error) {
	r, err := p.validate(req)
	if err != nil {
		return nil, err
	}
	c := r.src.network.Contracts
	return r.src.engine.GetQuote(ctx, r.amountIn, quote.Pair{In: c.WrappedNative, Out: c.SettlementAsset})
}

// Run performs one bridge attempt, pricing it itself. The returned Result is
// always non-nil; the error is a *types.BridgeError whenever Success is false.
func (p *Pipeline) Run(ctx context.Context, req types.BridgeRequest) (*Result, error) {
	return p.run(ctx, req, nil)
}

// RunWithQuote performs one bridge attempt using a quote the caller already
// showed to the user, typically from Quote. The batch is composed from that
// quote without re-pricing, so the minimum output signed is the one confirmed.
// The quote must be for the request's amount and the source chain's routers.
func (p *Pipeline) RunWithQuote(ctx context.Context, req types.BridgeRequest, confirmed *types.RouteQuote) (*Result, error) {
	if confirmed == nil {
		err := types.NewError(types.KindValidation, nil, "confirmed quote is required")
		return &Result{State: StateRejected, Message: err.Error()}, err
	}
	return p.run(ctx, req, confirmed)
}

func (p *Pipeline) run(ctx context.Context, req types.BridgeRequest, confirmed *types.RouteQuote) (*Result, error) {
	started := p.now()
	res := &Result{AttemptID: uuid.NewString(), State: StateIdle}
	logger := p.logger.With(zap.String("attemptId", res.AttemptID))
	m := newMachine(logger)

	finish := func(terminal State, err error) (*Result, error) {
		m.mustAdvance(terminal)
		res.State = terminal
		if err != nil {
			res.Success = false
			res.Message = err.Error()
			logger.Warn("bridge attempt failed",
				zap.String("state", string(terminal)),
				zap.String("category", types.CategoryOf(err)),
				zap.Error(err))
		}

		attemptsTotal.WithLabelValues(string(terminal)).Inc()
		attemptDuration.Observe(p.now().Sub(started).Seconds())

		if terminal.Broadcast() {
			for _, h := range p.hooks {
				h.AttemptFinished(ctx, req, res)
			}
		}
		return res, err
	}

	r, err := p.validate(req)
	if err != nil {
		return finish(StateRejected, err)
	}
	src := r.src
	addrs := src.network.Contracts
	if confirmed != nil {
		if err := checkQuote(confirmed, r.amountIn, addrs); err != nil {
			return finish(StateRejected, err)
		}
	}

	logger.Info("bridge attempt started",
		zap.String("from", src.network.Name),
		zap.String("to", r.dest.Name),
		zap.String("amountIn", r.amountIn.String()),
		zap.String("recipient", r.recipient.Hex()))

	if err := p.ensureChain(ctx, src.network.ChainID); err != nil {
		return finish(StateRejected, err)
	}

	sender, err := p.wallet.Address()
	if err != nil {
		return finish(StateRejected, types.NewError(types.KindNetwork, err, "wallet has no signer for %s", src.network.Name))
	}
	if sender == (common.Address{}) {
		return finish(StateRejected, types.NewError(types.KindValidation, nil, "wallet reported the zero address"))
	}
	if r.requester == (common.Address{}) {
		r.requester = sender
	}

	if err := p.precheck(ctx, src.network, sender, r.amountIn); err != nil {
		return finish(StateRejected, err)
	}

	m.mustAdvance(StateQuoting)
	q := confirmed
	if q == nil {
		q, err = src.engine.GetQuote(ctx, r.amountIn, quote.Pair{In: addrs.WrappedNative, Out: addrs.SettlementAsset})
		if err != nil {
			return finish(StateRejected, err)
		}
	}
	quoteBackendTotal.WithLabelValues(q.Backend.String()).Inc()
	res.Quote = q

	preliminary := p.deriver.Preliminary(sender, r.recipient, r.dest.ChainID)
	res.DepositID = preliminary

	m.mustAdvance(StateComposing)
	b, err := src.composer.Compose(batch.Params{
		Quote:              q,
		WrappedNative:      addrs.WrappedNative,
		SettlementAsset:    addrs.SettlementAsset,
		SettlementContract: addrs.SettlementContract,
		DepositContract:    addrs.DepositContract,
		Recipient:          r.recipient,
		Requester:          r.requester,
		DestinationChainID: r.dest.ChainID,
		DepositID:          preliminary,
	})
	if err != nil {
		return finish(StateRejected, types.NewError(types.KindValidation, err, "failed to compose batch"))
	}

	m.mustAdvance(StateEstimating)
	gasLimit, err := src.estimator.Estimate(ctx, sender, b)
	if err != nil {
		preflightRejectionsTotal.WithLabelValues(types.CategoryOf(err)).Inc()
		return finish(StateRejected, err)
	}

	tx, err := p.executor.Submit(ctx, b, gasLimit)
	if err != nil {
		return finish(StateRejected, err)
	}
	m.mustAdvance(StateSubmitted)
	res.TxHash = tx.Hash()

	receipt, err := p.executor.WaitForReceipt(ctx, res.TxHash)
	if err != nil {
		var be *types.BridgeError
		if !errors.As(err, &be) {
			be = types.NewError(types.KindNetwork, err, "failed waiting for transaction")
		}
		be.TxHash = res.TxHash
		return finish(StateUnconfirmed, be)
	}

	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		reverted := src.reconciler.Reconcile(receipt, preliminary)
		res.Receipt = &reverted
		revertErr := types.NewError(types.KindSettlementReverted, nil,
			"transaction %s reverted on-chain; no funds moved", res.TxHash.Hex())
		revertErr.TxHash = res.TxHash
		return finish(StateReverted, revertErr)
	}

	m.mustAdvance(StateConfirmed)
	m.mustAdvance(StateReconciling)
	settled := src.reconciler.Reconcile(receipt, preliminary)
	res.Receipt = &settled
	res.DepositID = settled.DepositID
	res.Reconciled = settled.Reconciled
	res.Success = true

	p.postcheck(ctx, logger, src.network, r.dest, sender, r.recipient)

	display := amount.Format(r.amountIn, src.network.Decimals)
	if !settled.Reconciled {
		res.Message = fmt.Sprintf("Bridged %s %s from %s to %s; settlement event not found, tracking with preliminary deposit id %s",
			display, src.network.NativeSymbol, src.network.Name, r.dest.Name, preliminary.Hex())
		return finish(StateUnreconciled, nil)
	}

	res.Message = fmt.Sprintf("Bridged %s %s from %s to %s", display, src.network.NativeSymbol, src.network.Name, r.dest.Name)
	logger.Info("bridge attempt settled",
		zap.String("txHash", res.TxHash.Hex()),
		zap.String("depositId", settled.DepositID.Hex()),
		zap.String("settledAmount", settled.SettledAmount.String()))
	return finish(StateSettled, nil)
}

// ensureChain puts the wallet on the source chain, switching if it can
func (p *Pipeline) ensureChain(ctx context.Context, want *big.Int) error {
	current, err := p.wallet.ChainID(ctx)
	if err != nil {
		return types.NewError(types.KindNetwork, err, "failed to read wallet chain id")
	}
	if current.Cmp(want) == 0 {
		return nil
	}

	switcher, ok := p.wallet.(ChainSwitcher)
	if !ok {
		return types.NewError(types.KindValidation, nil, "wallet is on chain %s but the source chain is %s", current, want)
	}
	if err := switcher.SwitchChain(ctx, want); err != nil {
		return types.NewError(types.KindNetwork, err, "failed to switch wallet to chain %s", want)
	}
	return nil
}

// checkQuote rejects a caller-supplied quote that was not priced for this
// amount on this chain's routers
func checkQuote(q *types.RouteQuote, amountIn *big.Int, c *config.SourceContracts) error {
	invalid := func(format string, args ...interface{}) error {
		return types.NewError(types.KindValidation, nil, "confirmed quote "+format, args...)
	}

	if q.AmountIn == nil || q.AmountOutExpected == nil || q.AmountOutMin == nil {
		return invalid("is incomplete")
	}
	if q.AmountIn.Cmp(amountIn) != 0 {
		return invalid("is for %s base units, request is for %s", q.AmountIn, amountIn)
	}
	if len(q.Path) != 2 || q.Path[0] != c.WrappedNative || q.Path[1] != c.SettlementAsset {
		return invalid("has an unexpected swap path")
	}

	router := c.PrimaryRouter
	if q.Backend == types.Fallback {
		router = c.FallbackRouter
	}
	if q.Router != router {
		return invalid("router %s is not the configured %s router", q.Router.Hex(), q.Backend)
	}
	if q.AmountOutMin.Sign() <= 0 || q.AmountOutMin.Cmp(q.AmountOutExpected) > 0 {
		return invalid("has an invalid minimum output")
	}
	return nil
}

// precheck confirms the sender holds at least the wrap amount
func (p *Pipeline) precheck(ctx context.Context, n Network, sender common.Address, amountIn *big.Int) error {
	have, err := p.inspector.Balance(ctx, balance.Query{Label: "source native", Reader: n.Reader, Account: sender})
	if err != nil {
		return types.NewError(types.KindNetwork, err, "failed to check balance")
	}
	if have.Cmp(amountIn) < 0 {
		return &types.BridgeError{
			Kind:   types.KindValidation,
			Reason: types.ReasonBalanceShortfall,
			Message: fmt.Sprintf("insufficient %s balance: have %s, need %s",
				n.NativeSymbol, amount.Format(have, n.Decimals), amount.Format(amountIn, n.Decimals)),
		}
	}
	return nil
}

// postcheck logs balances after settlement. Failures are not reported to
// the caller since funds have already moved.
func (p *Pipeline) postcheck(ctx context.Context, logger *zap.Logger, src, dest Network, sender, recipient common.Address) {
	queries := []balance.Query{
		{Label: "source native", Reader: src.Reader, Account: sender},
		{Label: "source wrapped", Reader: src.Reader, Account: sender, Token: src.Contracts.WrappedNative},
	}
	if dest.Reader != nil {
		queries = append(queries, balance.Query{Label: "destination native", Reader: dest.Reader, Account: recipient})
	}

	snap, err := p.inspector.Snapshot(ctx, queries...)
	if err != nil {
		logger.Warn("post-settlement balance check failed", zap.Error(err))
		return
	}
	for label, bal := range snap {
		logger.Info("post-settlement balance", zap.String("label", label), zap.String("balance", bal.String()))
	}
}
