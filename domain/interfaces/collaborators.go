package interfaces

import (
	"context"
	"time"

	"wagerbot/domain/entities"

	"github.com/shopspring/decimal"
)

// Ledger is the custodial ledger holding escrowed funds
type Ledger interface {
	// CreateEscrowAccount allocates a fresh custodial account and seals its signing key
	CreateEscrowAccount(ctx context.Context) (entities.EscrowAccount, error)

	// GetBalance returns the native asset balance of an address
	GetBalance(ctx context.Context, address string) (decimal.Decimal, error)

	// GetTokenBalance returns the balance of a token held by an address.
	// domain.ErrAccountNotFound means the address has never held the token.
	GetTokenBalance(ctx context.Context, address string, asset string) (decimal.Decimal, error)
}

// Oracle interprets free text and verifies claimed outcomes
type Oracle interface {
	ClassifyWager(ctx context.Context, message string) (*entities.DetectionResult, error)
	ClassifyDeadline(ctx context.Context, description string) (*entities.DeadlineClassification, error)
	VerifyOutcome(ctx context.Context, query entities.OutcomeQuery) (*entities.VerificationResult, error)
}

// SwapRequest asks for escrowed native funds to be converted into the payout asset
type SwapRequest struct {
	Escrow         entities.EscrowAccount
	NativeAmount   decimal.Decimal
	IdempotencyKey string
}

// Swapper converts native funds into the payout asset.
// A regional block is reported as domain.ErrProviderRestricted.
type Swapper interface {
	Swap(ctx context.Context, req SwapRequest) (*entities.SwapReceipt, error)
}

// TransferRequest moves payout funds out of an escrow account
type TransferRequest struct {
	Escrow         entities.EscrowAccount
	Destination    string
	Amount         decimal.Decimal
	IdempotencyKey string
}

// Transferer delivers funds and returns the transaction signature.
// Repeating a request with the same idempotency key never moves funds twice.
type Transferer interface {
	Transfer(ctx context.Context, req TransferRequest) (string, error)
}

// Notifier delivers a message to a chat identity, at most once
type Notifier interface {
	Deliver(ctx context.Context, recipient string, text string) error
}

// LockManager provides per-key mutual exclusion across processes
type LockManager interface {
	// Acquire takes the lock or returns domain.ErrLockHeld; the returned func releases it
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter throttles calls against an external provider
type RateLimiter interface {
	// Wait blocks until a call for key is allowed or ctx is done
	Wait(ctx context.Context, key string) error
}

// Archiver stores finished wagers in long-term storage
type Archiver interface {
	ArchiveWager(ctx context.Context, wager *entities.Wager) (string, error)
}
