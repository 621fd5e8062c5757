package custody

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

// NativeDecimals is the precision of the chain's native asset
const NativeDecimals = 18

// ChainClient is the subset of the JSON-RPC client custody needs
type ChainClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ ChainClient = (*ethclient.Client)(nil)

// Dial connects to an RPC endpoint
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("custody: dial %s: %w", rpcURL, err)
	}
	return client, nil
}

// Token is an ERC-20 contract known to the custody layer
type Token struct {
	Symbol   string
	Address  common.Address
	Decimals int32
}

// TokenRegistry maps upper-case symbols to token contracts
type TokenRegistry map[string]Token

// ParseTokenRegistry parses "SYMBOL:0xaddress:decimals" entries separated by commas
func ParseTokenRegistry(spec string) (TokenRegistry, error) {
	registry := make(TokenRegistry)
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("custody: token entry %q must be SYMBOL:ADDRESS:DECIMALS", entry)
		}
		if !common.IsHexAddress(parts[1]) {
			return nil, fmt.Errorf("custody: token %s has invalid address %q", parts[0], parts[1])
		}
		decimals, err := strconv.ParseInt(parts[2], 10, 32)
		if err != nil || decimals < 0 {
			return nil, fmt.Errorf("custody: token %s has invalid decimals %q", parts[0], parts[2])
		}

		symbol := strings.ToUpper(strings.TrimSpace(parts[0]))
		registry[symbol] = Token{
			Symbol:   symbol,
			Address:  common.HexToAddress(parts[1]),
			Decimals: int32(decimals),
		}
	}
	return registry, nil
}

// Lookup returns the token for a symbol
func (r TokenRegistry) Lookup(symbol string) (Token, bool) {
	token, ok := r[strings.ToUpper(symbol)]
	return token, ok
}

// ToBaseUnits converts a display amount into integer base units, truncating dust
func ToBaseUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}

// FromBaseUnits converts integer base units into a display amount
func FromBaseUnits(units *big.Int, decimals int32) decimal.Decimal {
	if units == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(units, -decimals)
}
