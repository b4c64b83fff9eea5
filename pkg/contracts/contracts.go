// Package contracts holds the call surfaces of the external contracts the
// bridge talks to: the wrapped native token, the AMM routers, Multicall3,
// the settlement forwarder and the destination deposit contract.
package contracts

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
)

// The ERC20 calls the bridge makes on the settlement asset and for balances
const erc20ABI = `[
	{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"}
]`

// ERC20 plus the WETH9 deposit entry point
const wrappedNativeABI = `[
	{"constant":false,"inputs":[],"name":"deposit","outputs":[],"payable":true,"stateMutability":"payable","type":"function"},
	{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"}
]`

// Uniswap V2 style router
const routerABI = `[
	{"inputs":[{"name":"amountIn","type":"uint256"},{"name":"path","type":"address[]"}],"name":"getAmountsOut","outputs":[{"name":"amounts","type":"uint256[]"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"name":"swapExactTokensForTokens","outputs":[{"name":"amounts","type":"uint256[]"}],"stateMutability":"nonpayable","type":"function"}
]`

const multicall3ABI = `[
	{"inputs":[{"components":[{"name":"target","type":"address"},{"name":"allowFailure","type":"bool"},{"name":"value","type":"uint256"},{"name":"callData","type":"bytes"}],"name":"calls","type":"tuple[]"}],"name":"aggregate3Value","outputs":[{"components":[{"name":"success","type":"bool"},{"name":"returnData","type":"bytes"}],"name":"returnData","type":"tuple[]"}],"stateMutability":"payable","type":"function"}
]`

const settlementABI = `[
	{"inputs":[{"components":[{"name":"target","type":"address"},{"name":"callData","type":"bytes"},{"name":"value","type":"uint256"}],"name":"calls","type":"tuple[]"},{"name":"refundTo","type":"address"},{"name":"fallbackRecipient","type":"address"},{"name":"metadata","type":"bytes"}],"name":"forward","outputs":[],"stateMutability":"payable","type":"function"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"asset","type":"address"},{"indexed":false,"name":"amount","type":"uint256"},{"indexed":false,"name":"depositId","type":"bytes32"}],"name":"DepositForwarded","type":"event"},
	{"inputs":[],"name":"InsufficientBalance","type":"error"},
	{"inputs":[],"name":"InvalidDepositId","type":"error"},
	{"inputs":[],"name":"DepositIdAlreadyUsed","type":"error"}
]`

const depositABI = `[
	{"inputs":[{"name":"recipient","type":"address"},{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"destinationChainId","type":"uint256"},{"name":"routing","type":"bytes"}],"name":"depositFor","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

var (
	ERC20         = mustParse(erc20ABI)
	WrappedNative = mustParse(wrappedNativeABI)
	Router        = mustParse(routerABI)
	Multicall3    = mustParse(multicall3ABI)
	Settlement    = mustParse(settlementABI)
	Deposit       = mustParse(depositABI)

	// MaxAllowance is the effectively unlimited ERC20 approval.
	MaxAllowance = new(big.Int).Set(math.MaxBig256)

	// DepositForwardedTopic is topic0 of the settlement event.
	DepositForwardedTopic = Settlement.Events["DepositForwarded"].ID

	ErrNotDepositForwarded = errors.New("log is not a DepositForwarded event")
)

var routingArgs = abi.Arguments{
	{Type: mustType("address")},
	{Type: mustType("uint256")},
	{Type: mustType("bytes32")},
}

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("failed to parse ABI: %v", err))
	}
	return parsed
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// Call3Value is one Multicall3 aggregate3Value entry
type Call3Value struct {
	Target       common.Address
	AllowFailure bool
	Value        *big.Int
	CallData     []byte
}

// ForwardCall is one call the settlement contract makes on our behalf
type ForwardCall struct {
	Target   common.Address
	CallData []byte
	Value    *big.Int
}

// DepositForwarded is the decoded settlement event
type DepositForwarded struct {
	From      common.Address
	Asset     common.Address
	Amount    *big.Int
	DepositId [32]byte
	Raw       types.Log
}

// PackRouting encodes the routing payload handed to the deposit contract.
func PackRouting(recipient common.Address, destinationChainID *big.Int, clientRef [32]byte) ([]byte, error) {
	return routingArgs.Pack(recipient, destinationChainID, clientRef)
}

// UnpackAmountsOut decodes the result of getAmountsOut.
func UnpackAmountsOut(data []byte) ([]*big.Int, error) {
	out, err := Router.Unpack("getAmountsOut", data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack getAmountsOut: %w", err)
	}
	amounts, ok := out[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected getAmountsOut output type %T", out[0])
	}
	return amounts, nil
}

// UnpackBalance decodes the result of balanceOf.
func UnpackBalance(data []byte) (*big.Int, error) {
	out, err := ERC20.Unpack("balanceOf", data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack balanceOf: %w", err)
	}
	bal, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf output type %T", out[0])
	}
	return bal, nil
}

// ParseDepositForwarded decodes a settlement event from a log. The caller is
// responsible for checking the emitting address.
func ParseDepositForwarded(log types.Log) (*DepositForwarded, error) {
	if len(log.Topics) != 3 || log.Topics[0] != DepositForwardedTopic {
		return nil, ErrNotDepositForwarded
	}

	ev := &DepositForwarded{
		From:  common.BytesToAddress(log.Topics[1].Bytes()),
		Asset: common.BytesToAddress(log.Topics[2].Bytes()),
		Raw:   log,
	}
	if err := Settlement.UnpackIntoInterface(ev, "DepositForwarded", log.Data); err != nil {
		return nil, fmt.Errorf("failed to unpack DepositForwarded: %w", err)
	}
	if ev.Amount == nil {
		return nil, fmt.Errorf("DepositForwarded has no amount")
	}

	return ev, nil
}
