package bridge

import (
	"context"

	"evm-bridge/pkg/types"
)

// Hook is notified once when an attempt with a broadcast transaction ends.
// Hooks run after the result is final and cannot change it.
type Hook interface {
	AttemptFinished(ctx context.Context, req types.BridgeRequest, res *Result)
}

// HookFunc adapts a function to Hook
type HookFunc func(ctx context.Context, req types.BridgeRequest, res *Result)

func (f HookFunc) AttemptFinished(ctx context.Context, req types.BridgeRequest, res *Result) {
	f(ctx, req, res)
}
