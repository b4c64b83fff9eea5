// Package quote prices a swap route against a primary AMM router and falls
// back to a secondary router when the primary cannot answer.
package quote

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"evm-bridge/pkg/amount"
	"evm-bridge/pkg/contracts"
	"evm-bridge/pkg/types"
)

// Pair is the asset pair being priced
type Pair struct {
	In  common.Address
	Out common.Address
}

// Path returns the direct swap path for the pair
func (p Pair) Path() []common.Address {
	return []common.Address{p.In, p.Out}
}

type backend struct {
	kind    types.RouterBackend
	address common.Address
}

// Engine handles quote fetching for bridge attempts
type Engine struct {
	caller      ethereum.ContractCaller
	backends    []backend
	slippageBps uint32
	logger      *zap.Logger
}

// NewEngine creates a new quote engine. The caller should be a read-only
// connection.
func NewEngine(caller ethereum.ContractCaller, primary, fallback common.Address, slippageBps uint32, logger *zap.Logger) (*Engine, error) {
	if caller == nil {
		return nil, fmt.Errorf("contract caller is required")
	}
	if primary == (common.Address{}) || fallback == (common.Address{}) {
		return nil, fmt.Errorf("both primary and fallback routers are required")
	}
	if slippageBps > amount.BasisPoints {
		return nil, fmt.Errorf("slippage %d bps exceeds %d", slippageBps, amount.BasisPoints)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		caller: caller,
		backends: []backend{
			{kind: types.Primary, address: primary},
			{kind: types.Fallback, address: fallback},
		},
		slippageBps: slippageBps,
		logger:      logger,
	}, nil
}

// SlippageBps returns the configured tolerance
func (e *Engine) SlippageBps() uint32 {
	return e.slippageBps
}

// GetQuote prices amountIn along the pair's path. The fallback router is
// asked with the identical path only if the primary fails.
func (e *Engine) GetQuote(ctx context.Context, amountIn *big.Int, pair Pair) (*types.RouteQuote, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, types.NewError(types.KindValidation, nil, "quote amount must be greater than 0")
	}

	path := pair.Path()

	var errs []error
	for _, b := range e.backends {
		expected, err := e.amountOut(ctx, b.address, amountIn, path)
		if err != nil {
			e.logger.Warn("pricing backend failed",
				zap.Stringer("backend", b.kind),
				zap.String("router", b.address.Hex()),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s router %s: %w", b.kind, b.address.Hex(), err))
			continue
		}

		minOut, err := amount.MinOut(expected, e.slippageBps)
		if err != nil {
			return nil, fmt.Errorf("failed to apply slippage: %w", err)
		}

		e.logger.Debug("quote received",
			zap.Stringer("backend", b.kind),
			zap.String("amountIn", amountIn.String()),
			zap.String("amountOutExpected", expected.String()),
			zap.String("amountOutMin", minOut.String()))

		return &types.RouteQuote{
			Backend:           b.kind,
			Router:            b.address,
			Path:              path,
			AmountIn:          new(big.Int).Set(amountIn),
			AmountOutExpected: expected,
			AmountOutMin:      minOut,
			SlippageBps:       e.slippageBps,
		}, nil
	}

	return nil, types.NewError(types.KindQuoteUnavailable, errors.Join(errs...), "no pricing backend could quote the route")
}

// amountOut performs the getAmountsOut read call against one router
func (e *Engine) amountOut(ctx context.Context, router common.Address, amountIn *big.Int, path []common.Address) (*big.Int, error) {
	data, err := contracts.Router.Pack("getAmountsOut", amountIn, path)
	if err != nil {
		return nil, fmt.Errorf("failed to pack getAmountsOut: %w", err)
	}

	msg := ethereum.CallMsg{
		To:   &router,
		Data: data,
	}
	result, err := e.caller.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call getAmountsOut: %w", err)
	}

	amounts, err := contracts.UnpackAmountsOut(result)
	if err != nil {
		return nil, err
	}
	if len(amounts) != len(path) {
		return nil, fmt.Errorf("router returned %d amounts for a %d-hop path", len(amounts), len(path))
	}

	out := amounts[len(amounts)-1]
	if out == nil || out.Sign() <= 0 {
		return nil, fmt.Errorf("router quoted zero output")
	}

	return out, nil
}
