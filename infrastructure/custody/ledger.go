package custody

import (
	"context"
	"fmt"
	"math/big"

	"wagerbot/domain"
	"wagerbot/domain/entities"
	"wagerbot/domain/interfaces"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// balanceOfSelector is the 4-byte selector of balanceOf(address)
var balanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31}

const (
	escrowAccountKind = "escrow"
	walletAccountKind = "wallet"
)

// Ledger implements interfaces.Ledger against an EVM chain
type Ledger struct {
	client   ChainClient
	accounts *Accounts
	tokens   TokenRegistry
}

// NewLedger creates a ledger reading balances through client
func NewLedger(client ChainClient, accounts *Accounts, tokens TokenRegistry) *Ledger {
	return &Ledger{client: client, accounts: accounts, tokens: tokens}
}

var _ interfaces.Ledger = (*Ledger)(nil)

// CreateEscrowAccount allocates a fresh account for a single wager
func (l *Ledger) CreateEscrowAccount(ctx context.Context) (entities.EscrowAccount, error) {
	return l.accounts.Create(ctx, escrowAccountKind)
}

// CreateWallet allocates a personal custodial wallet for a user
func (l *Ledger) CreateWallet(ctx context.Context) (entities.EscrowAccount, error) {
	return l.accounts.Create(ctx, walletAccountKind)
}

// GetBalance returns the native balance of address
func (l *Ledger) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	if !common.IsHexAddress(address) {
		return decimal.Zero, domain.Validationf("invalid address %q", address)
	}

	wei, err := l.client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("custody: balance of %s: %w", address, err)
	}
	return FromBaseUnits(wei, NativeDecimals), nil
}

// GetTokenBalance returns the ERC-20 balance of address.
// Unknown symbols and contracts without code report domain.ErrAccountNotFound.
func (l *Ledger) GetTokenBalance(ctx context.Context, address string, asset string) (decimal.Decimal, error) {
	if !common.IsHexAddress(address) {
		return decimal.Zero, domain.Validationf("invalid address %q", address)
	}

	token, ok := l.tokens.Lookup(asset)
	if !ok {
		return decimal.Zero, fmt.Errorf("custody: no token registered for %s: %w", asset, domain.ErrAccountNotFound)
	}

	data := append(append([]byte{}, balanceOfSelector...), common.LeftPadBytes(common.HexToAddress(address).Bytes(), 32)...)
	out, err := l.client.CallContract(ctx, ethereum.CallMsg{To: &token.Address, Data: data}, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("custody: %s balance of %s: %w", token.Symbol, address, err)
	}
	if len(out) == 0 {
		return decimal.Zero, fmt.Errorf("custody: %s contract returned no data: %w", token.Symbol, domain.ErrAccountNotFound)
	}

	return FromBaseUnits(new(big.Int).SetBytes(out), token.Decimals), nil
}
