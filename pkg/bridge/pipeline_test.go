package bridge

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evm-bridge/config"
	"evm-bridge/pkg/contracts"
	"evm-bridge/pkg/deposit"
	"evm-bridge/pkg/executor"
	"evm-bridge/pkg/types"
)

var (
	weth           = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdc           = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	multicall      = common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")
	primaryRouter  = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	fallbackRouter = common.HexToAddress("0xd9e1cE17f2641f24aE83637ab66a2cca9C378B9F")
	settlement     = common.HexToAddress("0x5e77000000000000000000000000000000000001")
	depositor      = common.HexToAddress("0xde90000000000000000000000000000000000002")
	sender         = common.HexToAddress("0x2222222222222222222222222222222222222222")
	recipient      = "0x1111111111111111111111111111111111111111"

	halfEther  = big.NewInt(500000000000000000)
	oneEther   = big.NewInt(1000000000000000000)
	canonical  = [32]byte{0xc0, 0xff, 0xee}
	fixedClock = func() time.Time { return time.Unix(1700000000, 0) }
)

// fakeChain is a read-only connection answering router quotes, balances and
// gas estimates
type fakeChain struct {
	mu          sync.Mutex
	calls       int
	native      *big.Int
	wrapped     *big.Int
	balanceOf   []common.Address
	quotes      map[common.Address]*big.Int
	quoteErrs   map[common.Address]error
	quoted      []common.Address
	gas         uint64
	estimateErr error
	estimates   []ethereum.CallMsg
}

func (f *fakeChain) BalanceAt(ctx context.Context, account common.Address, block *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.native, nil
}

func (f *fakeChain) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if bal := contracts.ERC20.Methods["balanceOf"]; bytes.Equal(msg.Data[:4], bal.ID) {
		f.balanceOf = append(f.balanceOf, *msg.To)
		wrapped := f.wrapped
		if wrapped == nil {
			wrapped = big.NewInt(0)
		}
		return bal.Outputs.Pack(wrapped)
	}

	method := contracts.Router.Methods["getAmountsOut"]
	if !bytes.Equal(msg.Data[:4], method.ID) {
		return nil, errors.New("unexpected call")
	}
	f.quoted = append(f.quoted, *msg.To)
	if err := f.quoteErrs[*msg.To]; err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack([]*big.Int{args[0].(*big.Int), f.quotes[*msg.To]})
}

func (f *fakeChain) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.estimates = append(f.estimates, msg)
	return f.gas, f.estimateErr
}

type fakeWallet struct {
	mu        sync.Mutex
	calls     int
	chainID   int64
	switched  []int64
	switchErr error
	address   *common.Address
	signerErr error
	sendErr   error
	sent      []*ethtypes.Transaction
	status    uint64
	logs      []*ethtypes.Log
	pending   bool
}

func (w *fakeWallet) Address() (common.Address, error) {
	if w.signerErr != nil {
		return common.Address{}, w.signerErr
	}
	if w.address != nil {
		return *w.address, nil
	}
	return sender, nil
}

func (w *fakeWallet) ChainID(ctx context.Context) (*big.Int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	return big.NewInt(w.chainID), nil
}

func (w *fakeWallet) SwitchChain(ctx context.Context, chainID *big.Int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.switchErr != nil {
		return w.switchErr
	}
	w.switched = append(w.switched, chainID.Int64())
	w.chainID = chainID.Int64()
	return nil
}

func (w *fakeWallet) SendTransaction(ctx context.Context, to common.Address, value *big.Int, data []byte, gasLimit uint64) (*ethtypes.Transaction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.sendErr != nil {
		return nil, w.sendErr
	}
	tx := ethtypes.NewTx(&ethtypes.LegacyTx{Nonce: uint64(len(w.sent)), To: &to, Value: value, Gas: gasLimit, Data: data})
	w.sent = append(w.sent, tx)
	return tx, nil
}

func (w *fakeWallet) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.pending {
		return nil, ethereum.NotFound
	}
	return &ethtypes.Receipt{TxHash: txHash, Status: w.status, Logs: w.logs, BlockNumber: big.NewInt(100)}, nil
}

func (w *fakeWallet) BlockNumber(ctx context.Context) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	return 100, nil
}

func settlementLog(t *testing.T) *ethtypes.Log {
	t.Helper()
	data, err := contracts.Settlement.Events["DepositForwarded"].Inputs.NonIndexed().Pack(big.NewInt(1000), canonical)
	require.NoError(t, err)
	return &ethtypes.Log{
		Address: settlement,
		Topics: []common.Hash{
			contracts.DepositForwardedTopic,
			common.BytesToHash(sender.Bytes()),
			common.BytesToHash(usdc.Bytes()),
		},
		Data: data,
	}
}

type fixture struct {
	source   *fakeChain
	dest     *fakeChain
	wallet   *fakeWallet
	pipeline *Pipeline
	finished []*Result
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		source: &fakeChain{
			native: oneEther,
			quotes: map[common.Address]*big.Int{primaryRouter: big.NewInt(1000), fallbackRouter: big.NewInt(995)},
			gas:    200000,
		},
		dest: &fakeChain{native: big.NewInt(0)},
		wallet: &fakeWallet{
			chainID: 1,
			status:  ethtypes.ReceiptStatusSuccessful,
			logs:    []*ethtypes.Log{settlementLog(t)},
		},
	}

	networks := []Network{
		{
			Name:         "ethereum",
			ChainID:      big.NewInt(1),
			NativeSymbol: "ETH",
			Decimals:     18,
			Reader:       f.source,
			Contracts: &config.SourceContracts{
				WrappedNative:      weth,
				SettlementAsset:    usdc,
				Multicall:          multicall,
				PrimaryRouter:      primaryRouter,
				FallbackRouter:     fallbackRouter,
				SettlementContract: settlement,
				DepositContract:    depositor,
			},
		},
		{Name: "base", ChainID: big.NewInt(8453), NativeSymbol: "ETH", Decimals: 18, Reader: f.dest},
	}

	p, err := New(f.wallet, networks, Options{
		SlippageBps:      100,
		SwapDeadline:     20 * time.Minute,
		GasBufferPercent: 20,
		Confirmation:     executor.Policy{PollInterval: time.Millisecond, Confirmations: 1, Timeout: time.Second},
		Now:              fixedClock,
		Hooks: []Hook{HookFunc(func(ctx context.Context, req types.BridgeRequest, res *Result) {
			f.finished = append(f.finished, res)
		})},
	}, nil)
	require.NoError(t, err)
	f.pipeline = p
	return f
}

func request(amount string) types.BridgeRequest {
	return types.BridgeRequest{
		SourceAsset:      "ETH",
		SourceChain:      "ethereum",
		DestinationChain: "base",
		Amount:           amount,
		Recipient:        recipient,
	}
}

func TestScenarioASettled(t *testing.T) {
	f := newFixture(t)

	res, err := f.pipeline.Run(context.Background(), request("0.5"))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.True(t, res.Reconciled)
	assert.Equal(t, StateSettled, res.State)
	assert.NotEmpty(t, res.AttemptID)
	require.True(t, res.DepositID.IsCanonical())
	assert.Equal(t, types.CanonicalID(canonical), res.DepositID)

	require.NotNil(t, res.Quote)
	assert.Equal(t, types.Primary, res.Quote.Backend)
	assert.Equal(t, halfEther, res.Quote.AmountIn)
	assert.Equal(t, big.NewInt(1000), res.Quote.AmountOutExpected)
	assert.Equal(t, big.NewInt(990), res.Quote.AmountOutMin)

	require.Len(t, f.source.estimates, 1)
	assert.Equal(t, multicall, *f.source.estimates[0].To)
	assert.Equal(t, halfEther, f.source.estimates[0].Value)

	require.Len(t, f.wallet.sent, 1)
	tx := f.wallet.sent[0]
	assert.Equal(t, res.TxHash, tx.Hash())
	assert.Equal(t, halfEther, tx.Value())
	assert.Equal(t, uint64(240000), tx.Gas())
	assert.Equal(t, f.source.estimates[0].Data, tx.Data())

	require.NotNil(t, res.Receipt)
	assert.Equal(t, types.TxSuccess, res.Receipt.Status)
	assert.Equal(t, big.NewInt(1000), res.Receipt.SettledAmount)
	require.Len(t, f.finished, 1)
	assert.Same(t, res, f.finished[0])
}

func TestScenarioBFallbackQuote(t *testing.T) {
	f := newFixture(t)
	f.source.quoteErrs = map[common.Address]error{primaryRouter: errors.New("execution reverted")}

	res, err := f.pipeline.Run(context.Background(), request("0.5"))
	require.NoError(t, err)

	assert.Equal(t, []common.Address{primaryRouter, fallbackRouter}, f.source.quoted)
	assert.Equal(t, types.Fallback, res.Quote.Backend)
	assert.Equal(t, fallbackRouter, res.Quote.Router)
	assert.Equal(t, big.NewInt(995), res.Quote.AmountOutExpected)
	assert.Equal(t, StateSettled, res.State)
	assert.Len(t, f.wallet.sent, 1)
}

func TestScenarioCInsufficientBalanceSelector(t *testing.T) {
	f := newFixture(t)
	f.source.estimateErr = &revertError{data: hexutil.Encode(contracts.Settlement.Errors["InsufficientBalance"].ID.Bytes()[:4])}

	res, err := f.pipeline.Run(context.Background(), request("0.5"))
	require.Error(t, err)

	assert.Equal(t, "insufficient-balance", types.CategoryOf(err))
	assert.Equal(t, types.KindSimulationFailed, types.KindOf(err))
	assert.False(t, res.Success)
	assert.Equal(t, StateRejected, res.State)
	assert.Equal(t, common.Hash{}, res.TxHash)
	assert.Empty(t, f.wallet.sent)
	assert.Empty(t, f.finished)
}

func TestScenarioDZeroAmount(t *testing.T) {
	f := newFixture(t)

	res, err := f.pipeline.Run(context.Background(), request("0"))
	require.Error(t, err)

	assert.Equal(t, types.KindValidation, types.KindOf(err))
	assert.Equal(t, StateRejected, res.State)
	assert.Zero(t, f.source.calls)
	assert.Zero(t, f.dest.calls)
	assert.Zero(t, f.wallet.calls)
}

func TestUnreconciledKeepsPreliminary(t *testing.T) {
	f := newFixture(t)
	f.wallet.logs = nil

	res, err := f.pipeline.Run(context.Background(), request("0.5"))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.False(t, res.Reconciled)
	assert.Equal(t, StateUnreconciled, res.State)
	require.NotNil(t, res.DepositID)
	assert.False(t, res.DepositID.IsCanonical())

	want := deposit.PreliminaryAt(sender, common.HexToAddress(recipient), big.NewInt(8453), fixedClock())
	assert.Equal(t, want, res.DepositID)
	assert.Contains(t, res.Message, want.Hex())
}

func TestRevertedSettlement(t *testing.T) {
	f := newFixture(t)
	f.wallet.status = ethtypes.ReceiptStatusFailed

	res, err := f.pipeline.Run(context.Background(), request("0.5"))
	require.Error(t, err)

	var be *types.BridgeError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, types.KindSettlementReverted, be.Kind)
	assert.Equal(t, res.TxHash, be.TxHash)
	assert.False(t, be.Retryable())
	assert.Equal(t, StateReverted, res.State)
	assert.False(t, res.Success)
	require.Len(t, f.finished, 1)
}

func TestQuoteUnavailableBuildsNothing(t *testing.T) {
	f := newFixture(t)
	f.source.quoteErrs = map[common.Address]error{
		primaryRouter:  errors.New("execution reverted"),
		fallbackRouter: errors.New("connection reset"),
	}

	res, err := f.pipeline.Run(context.Background(), request("0.5"))
	require.Error(t, err)

	assert.Equal(t, types.KindQuoteUnavailable, types.KindOf(err))
	assert.Equal(t, StateRejected, res.State)
	assert.Nil(t, res.Quote)
	assert.Nil(t, res.DepositID)
	assert.Empty(t, f.source.estimates)
	assert.Empty(t, f.wallet.sent)
}

func TestPrecheckInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	f.source.native = big.NewInt(1)

	res, err := f.pipeline.Run(context.Background(), request("0.5"))
	require.Error(t, err)

	assert.Equal(t, types.KindValidation, types.KindOf(err))
	assert.Equal(t, "balance-shortfall", types.CategoryOf(err))
	assert.NotEqual(t, types.CategoryOf(err), string(types.ReasonInsufficientBalance))
	assert.Equal(t, StateRejected, res.State)
	assert.Empty(t, f.source.quoted)
}

func TestPostcheckReadsSourceWrapped(t *testing.T) {
	f := newFixture(t)

	_, err := f.pipeline.Run(context.Background(), request("0.5"))
	require.NoError(t, err)
	assert.Equal(t, []common.Address{weth}, f.source.balanceOf)
}

func TestSignerUnavailable(t *testing.T) {
	f := newFixture(t)
	f.wallet.signerErr = errors.New("invalid private key")

	res, err := f.pipeline.Run(context.Background(), request("0.5"))
	require.Error(t, err)
	assert.Equal(t, types.KindNetwork, types.KindOf(err))
	assert.Equal(t, StateRejected, res.State)
	assert.Empty(t, f.source.quoted)
	assert.Empty(t, f.source.estimates)
	assert.Empty(t, f.wallet.sent)
}

func TestZeroSenderRejected(t *testing.T) {
	f := newFixture(t)
	zero := common.Address{}
	f.wallet.address = &zero

	res, err := f.pipeline.Run(context.Background(), request("0.5"))
	require.Error(t, err)
	assert.Equal(t, types.KindValidation, types.KindOf(err))
	assert.Equal(t, StateRejected, res.State)
	assert.Empty(t, f.source.quoted)
	assert.Empty(t, f.wallet.sent)
}

func TestSwitchChainFailure(t *testing.T) {
	f := newFixture(t)
	f.wallet.chainID = 8453
	f.wallet.switchErr = errors.New("failed to connect to RPC endpoint")

	res, err := f.pipeline.Run(context.Background(), request("0.5"))
	require.Error(t, err)
	assert.Equal(t, types.KindNetwork, types.KindOf(err))
	assert.Equal(t, StateRejected, res.State)
	assert.Empty(t, f.wallet.sent)
}

func TestSwitchesWalletToSourceChain(t *testing.T) {
	f := newFixture(t)
	f.wallet.chainID = 8453

	_, err := f.pipeline.Run(context.Background(), request("0.5"))
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, f.wallet.switched)
}

func TestUserRejected(t *testing.T) {
	f := newFixture(t)
	f.wallet.sendErr = deposit.ErrUserRejected

	res, err := f.pipeline.Run(context.Background(), request("0.5"))
	require.Error(t, err)
	assert.Equal(t, types.KindUserRejected, types.KindOf(err))
	assert.Equal(t, StateRejected, res.State)
}

func TestConfirmationTimeout(t *testing.T) {
	f := newFixture(t)
	f.wallet.pending = true
	f.pipeline.executor = executor.NewExecutor(f.wallet, executor.Policy{PollInterval: time.Millisecond, Confirmations: 1, Timeout: 10 * time.Millisecond}, nil)

	res, err := f.pipeline.Run(context.Background(), request("0.5"))
	require.Error(t, err)

	var be *types.BridgeError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, types.KindConfirmationTimeout, be.Kind)
	assert.Equal(t, res.TxHash, be.TxHash)
	assert.NotEqual(t, common.Hash{}, res.TxHash)
	assert.Equal(t, StateUnconfirmed, res.State)
	require.Len(t, f.finished, 1)
}

func TestValidate(t *testing.T) {
	f := newFixture(t)

	cases := map[string]types.BridgeRequest{
		"same chain":       {SourceChain: "ethereum", DestinationChain: "ethereum", Amount: "1", Recipient: recipient},
		"unknown dest":     {SourceChain: "ethereum", DestinationChain: "solana", Amount: "1", Recipient: recipient},
		"dest only source": {SourceChain: "base", DestinationChain: "ethereum", Amount: "1", Recipient: recipient},
		"bad recipient":    {SourceChain: "ethereum", DestinationChain: "base", Amount: "1", Recipient: "0x123"},
		"negative":         {SourceChain: "ethereum", DestinationChain: "base", Amount: "-1", Recipient: recipient},
		"too precise":      {SourceChain: "ethereum", DestinationChain: "base", Amount: "0.0000000000000000001", Recipient: recipient},
		"wrong asset":      {SourceAsset: "USDC", SourceChain: "ethereum", DestinationChain: "base", Amount: "1", Recipient: recipient},
		"bad requester":    {SourceChain: "ethereum", DestinationChain: "base", Amount: "1", Recipient: recipient, Requester: "nope"},
		"zero recipient":   {SourceChain: "ethereum", DestinationChain: "base", Amount: "1", Recipient: "0x0000000000000000000000000000000000000000"},
		"missing chain":    {DestinationChain: "base", Amount: "1", Recipient: recipient},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			err := f.pipeline.Validate(req)
			require.Error(t, err)
			assert.Equal(t, types.KindValidation, types.KindOf(err))
		})
	}

	assert.NoError(t, f.pipeline.Validate(request("0.5")))
	assert.Zero(t, f.source.calls)
}

func TestQuoteOnly(t *testing.T) {
	f := newFixture(t)

	q, err := f.pipeline.Quote(context.Background(), request("0.5"))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(990), q.AmountOutMin)
	assert.Empty(t, f.source.estimates)
	assert.Zero(t, f.wallet.calls)
}

func TestRunWithQuoteKeepsConfirmedMinimum(t *testing.T) {
	f := newFixture(t)

	confirmed, err := f.pipeline.Quote(context.Background(), request("0.5"))
	require.NoError(t, err)
	require.Equal(t, types.Primary, confirmed.Backend)
	require.Equal(t, big.NewInt(990), confirmed.AmountOutMin)

	// primary router goes away after the user confirmed
	f.source.quoteErrs = map[common.Address]error{primaryRouter: errors.New("execution reverted")}
	f.source.quoted = nil

	res, err := f.pipeline.RunWithQuote(context.Background(), request("0.5"), confirmed)
	require.NoError(t, err)
	assert.Empty(t, f.source.quoted)
	assert.Same(t, confirmed, res.Quote)
	assert.Equal(t, StateSettled, res.State)

	require.Len(t, f.wallet.sent, 1)
	args, err := contracts.Multicall3.Methods["aggregate3Value"].Inputs.Unpack(f.wallet.sent[0].Data()[4:])
	require.NoError(t, err)
	calls := *abi.ConvertType(args[0], new([]contracts.Call3Value)).(*[]contracts.Call3Value)
	require.Len(t, calls, 4)
	assert.Equal(t, primaryRouter, calls[2].Target)

	swap, err := contracts.Router.Methods["swapExactTokensForTokens"].Inputs.Unpack(calls[2].CallData[4:])
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(990), swap[1])
}

func TestRunWithQuoteRejectsMismatch(t *testing.T) {
	f := newFixture(t)
	confirmed, err := f.pipeline.Quote(context.Background(), request("0.5"))
	require.NoError(t, err)

	other := *confirmed
	other.AmountIn = oneEther
	wrongRouter := *confirmed
	wrongRouter.Router = fallbackRouter
	badMin := *confirmed
	badMin.AmountOutMin = big.NewInt(2000)

	cases := map[string]*types.RouteQuote{
		"amount":  &other,
		"router":  &wrongRouter,
		"minimum": &badMin,
	}
	for name, q := range cases {
		t.Run(name, func(t *testing.T) {
			res, err := f.pipeline.RunWithQuote(context.Background(), request("0.5"), q)
			require.Error(t, err)
			assert.Equal(t, types.KindValidation, types.KindOf(err))
			assert.Equal(t, StateRejected, res.State)
		})
	}
	assert.Empty(t, f.wallet.sent)

	res, err := f.pipeline.RunWithQuote(context.Background(), request("0.5"), nil)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, StateRejected, res.State)
}

// revertError carries revert data like a JSON-RPC error
type revertError struct{ data string }

func (e *revertError) Error() string          { return "execution reverted" }
func (e *revertError) ErrorData() interface{} { return e.data }
