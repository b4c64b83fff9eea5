package balance

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evm-bridge/pkg/contracts"
)

var (
	account = common.HexToAddress("0x2222222222222222222222222222222222222222")
	weth    = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
)

type fakeReader struct {
	native   *big.Int
	tokens   map[common.Address]*big.Int
	err      error
	delay    time.Duration
	inFlight *int32
	peak     *int32
}

func (f *fakeReader) enter() func() {
	if f.inFlight == nil {
		return func() {}
	}
	n := atomic.AddInt32(f.inFlight, 1)
	for {
		p := atomic.LoadInt32(f.peak)
		if n <= p || atomic.CompareAndSwapInt32(f.peak, p, n) {
			break
		}
	}
	return func() { atomic.AddInt32(f.inFlight, -1) }
}

func (f *fakeReader) BalanceAt(ctx context.Context, a common.Address, block *big.Int) (*big.Int, error) {
	defer f.enter()()
	time.Sleep(f.delay)
	if f.err != nil {
		return nil, f.err
	}
	return f.native, nil
}

func (f *fakeReader) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	defer f.enter()()
	time.Sleep(f.delay)
	if f.err != nil {
		return nil, f.err
	}
	return contracts.ERC20.Methods["balanceOf"].Outputs.Pack(f.tokens[*msg.To])
}

func TestSnapshotNativeAndToken(t *testing.T) {
	source := &fakeReader{native: big.NewInt(5), tokens: map[common.Address]*big.Int{weth: big.NewInt(7)}}
	dest := &fakeReader{native: big.NewInt(9)}

	snap, err := NewInspector(nil).Snapshot(context.Background(),
		Query{Label: "source native", Reader: source, Account: account},
		Query{Label: "source wrapped", Reader: source, Account: account, Token: weth},
		Query{Label: "destination native", Reader: dest, Account: account},
	)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(5), snap["source native"])
	assert.Equal(t, big.NewInt(7), snap["source wrapped"])
	assert.Equal(t, big.NewInt(9), snap["destination native"])
}

func TestSnapshotRunsConcurrently(t *testing.T) {
	var inFlight, peak int32
	reader := func() *fakeReader {
		return &fakeReader{native: big.NewInt(1), delay: 20 * time.Millisecond, inFlight: &inFlight, peak: &peak}
	}

	_, err := NewInspector(nil).Snapshot(context.Background(),
		Query{Label: "a", Reader: reader(), Account: account},
		Query{Label: "b", Reader: reader(), Account: account},
		Query{Label: "c", Reader: reader(), Account: account},
	)
	require.NoError(t, err)
	assert.Greater(t, atomic.LoadInt32(&peak), int32(1))
}

func TestSnapshotFailure(t *testing.T) {
	cause := errors.New("dial tcp: i/o timeout")
	_, err := NewInspector(nil).Snapshot(context.Background(),
		Query{Label: "ok", Reader: &fakeReader{native: big.NewInt(1)}, Account: account},
		Query{Label: "broken", Reader: &fakeReader{err: cause}, Account: account},
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "broken")
}

func TestSnapshotRejectsBadQueries(t *testing.T) {
	r := &fakeReader{native: big.NewInt(1)}
	_, err := NewInspector(nil).Snapshot(context.Background(),
		Query{Label: "x", Reader: r}, Query{Label: "x", Reader: r})
	assert.Error(t, err)

	_, err = NewInspector(nil).Snapshot(context.Background(), Query{Label: "nil"})
	assert.Error(t, err)
}

func TestBalanceSingleQuery(t *testing.T) {
	bal, err := NewInspector(nil).Balance(context.Background(),
		Query{Label: "native", Reader: &fakeReader{native: big.NewInt(42)}, Account: account})
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(42), bal)
}

func TestPoolRequiresURL(t *testing.T) {
	_, err := NewPool().Get("")
	assert.Error(t, err)
}
