package parser

import (
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"evm-bridge/pkg/types"
)

// <amount> <asset> [FROM <chain>] TO <chain>
var bridgePattern = regexp.MustCompile(`^(\d+\.?\d*)\s+([A-Z0-9]+)(?:\s+FROM\s+([A-Z0-9-]+))?\s+TO\s+([A-Z0-9-]+)$`)

// ParseBridgeCommand parses a natural language bridge command
// Examples:
//   - "bridge 0.5 ETH to base"
//   - "0.5 eth from ethereum to arbitrum"
func ParseBridgeCommand(command string) (*types.BridgeRequest, error) {
	command = strings.TrimSpace(strings.ToUpper(command))
	command = strings.TrimPrefix(command, "BRIDGE ")

	matches := bridgePattern.FindStringSubmatch(command)
	if matches == nil {
		return nil, types.NewError(types.KindValidation, nil,
			"invalid bridge command format. Expected: 'bridge <amount> <asset> [from <chain>] to <chain>' (e.g., 'bridge 0.5 ETH to base')")
	}

	return &types.BridgeRequest{
		Amount:           matches[1],
		SourceAsset:      NormalizeAssetSymbol(matches[2]),
		SourceChain:      strings.ToLower(matches[3]),
		DestinationChain: strings.ToLower(matches[4]),
	}, nil
}

// ValidateBridgeRequest checks the request's shape. It makes no network
// calls; chain and precision checks happen once networks are known.
func ValidateBridgeRequest(req *types.BridgeRequest) error {
	if req.Amount == "" {
		return types.NewError(types.KindValidation, nil, "amount is required")
	}
	d, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return types.NewError(types.KindValidation, err, "invalid amount %q", req.Amount)
	}
	if !d.IsPositive() {
		return types.NewError(types.KindValidation, nil, "amount must be greater than 0")
	}
	if req.SourceChain == "" {
		return types.NewError(types.KindValidation, nil, "source chain is required")
	}
	if req.DestinationChain == "" {
		return types.NewError(types.KindValidation, nil, "destination chain is required")
	}
	if strings.EqualFold(req.SourceChain, req.DestinationChain) {
		return types.NewError(types.KindValidation, nil, "source and destination chains must differ")
	}
	if !common.IsHexAddress(req.Recipient) {
		return types.NewError(types.KindValidation, nil, "invalid recipient address %q", req.Recipient)
	}
	return nil
}

// NormalizeAssetSymbol normalizes asset symbols to the native form
func NormalizeAssetSymbol(symbol string) string {
	symbol = strings.TrimSpace(strings.ToUpper(symbol))

	// Wrapped forms bridge as their native asset
	aliases := map[string]string{
		"WETH": "ETH",
		"WPOL": "POL",
		"WBNB": "BNB",
	}

	if normalized, exists := aliases[symbol]; exists {
		return normalized
	}

	return symbol
}
