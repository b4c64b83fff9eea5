// Package balance performs read-only balance lookups. It never touches a
// signer's connection.
package balance

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"evm-bridge/pkg/contracts"
)

// Reader is a read-only chain connection
type Reader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	ethereum.ContractCaller
}

// Query is one balance lookup. A zero Token means the native asset.
type Query struct {
	Label   string
	Reader  Reader
	Account common.Address
	Token   common.Address
}

// Native reports whether the query is for the chain's native asset
func (q Query) Native() bool {
	return q.Token == (common.Address{})
}

// Snapshot maps query labels to balances in base units
type Snapshot map[string]*big.Int

// Inspector runs balance queries concurrently
type Inspector struct {
	logger *zap.Logger
}

// NewInspector creates an inspector
func NewInspector(logger *zap.Logger) *Inspector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inspector{logger: logger}
}

// Snapshot performs every query concurrently. Queries are independent, so
// the first failure cancels the rest.
func (i *Inspector) Snapshot(ctx context.Context, queries ...Query) (Snapshot, error) {
	seen := make(map[string]bool, len(queries))
	for _, q := range queries {
		if q.Reader == nil {
			return nil, fmt.Errorf("balance query %q has no reader", q.Label)
		}
		if seen[q.Label] {
			return nil, fmt.Errorf("duplicate balance query label %q", q.Label)
		}
		seen[q.Label] = true
	}

	results := make([]*big.Int, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for idx, q := range queries {
		idx, q := idx, q
		g.Go(func() error {
			bal, err := i.lookup(gctx, q)
			if err != nil {
				return fmt.Errorf("failed to get %s balance: %w", q.Label, err)
			}
			results[idx] = bal
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap := make(Snapshot, len(queries))
	for idx, q := range queries {
		snap[q.Label] = results[idx]
		i.logger.Debug("balance",
			zap.String("label", q.Label),
			zap.String("account", q.Account.Hex()),
			zap.String("balance", results[idx].String()))
	}
	return snap, nil
}

// Balance performs a single query
func (i *Inspector) Balance(ctx context.Context, q Query) (*big.Int, error) {
	snap, err := i.Snapshot(ctx, q)
	if err != nil {
		return nil, err
	}
	return snap[q.Label], nil
}

func (i *Inspector) lookup(ctx context.Context, q Query) (*big.Int, error) {
	if q.Native() {
		return q.Reader.BalanceAt(ctx, q.Account, nil)
	}

	data, err := contracts.ERC20.Pack("balanceOf", q.Account)
	if err != nil {
		return nil, err
	}
	out, err := q.Reader.CallContract(ctx, ethereum.CallMsg{To: &q.Token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	return contracts.UnpackBalance(out)
}

// Pool caches read-only connections by endpoint. Connections are shared
// across attempts and never used to sign.
type Pool struct {
	mu      sync.Mutex
	clients map[string]*ethclient.Client
	dial    func(url string) (*ethclient.Client, error)
}

// NewPool creates an empty pool
func NewPool() *Pool {
	return &Pool{
		clients: make(map[string]*ethclient.Client),
		dial:    ethclient.Dial,
	}
}

// Get returns the cached connection for url, dialing it on first use
func (p *Pool) Get(url string) (*ethclient.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("RPC URL is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[url]; ok {
		return c, nil
	}
	c, err := p.dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}
	p.clients[url] = c
	return c, nil
}

// Close closes every cached connection
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for url, c := range p.clients {
		c.Close()
		delete(p.clients, url)
	}
}
