package interfaces

import (
	"context"

	"wagerbot/domain/entities"

	"github.com/shopspring/decimal"
)

// WagerLifecycleService defines the interface for wager lifecycle operations
type WagerLifecycleService interface {
	// Create opens a pending wager with a fresh escrow account, the creator's stake and the side they take.
	// claim may be empty.
	Create(ctx context.Context, description, asset string, stake decimal.Decimal, initialParticipant, claim string) (*entities.Wager, error)

	// Join enrolls a participant at the first participant's stake with the side they take, and activates the wager
	Join(ctx context.Context, wagerID, participantID, claim string) (*entities.Wager, error)

	// Activate moves a pending wager to active once the funding gate allows it
	Activate(ctx context.Context, wagerID string) (*entities.Wager, error)

	// SetDeadline overwrites the deadline with now plus the given minutes and marks it trusted
	SetDeadline(ctx context.Context, wagerID string, minutesFromNow int) (*entities.Wager, error)

	// AssignDeadline derives the deadline from the wager description
	AssignDeadline(ctx context.Context, wagerID string) (*entities.Wager, error)

	// Resolve verifies a claimed outcome and completes the wager when it names a winner
	Resolve(ctx context.Context, wagerID, outcomeText, resolverID string) (*entities.VerificationResult, error)

	// ResolveDue lets the oracle determine the outcome of a wager whose deadline has passed
	ResolveDue(ctx context.Context, wagerID string) (*entities.VerificationResult, error)

	// Settle converts and pays out the escrow of a completed wager; amount is in the stake asset
	Settle(ctx context.Context, wagerID, winnerAddress string, amount decimal.Decimal) (*entities.SettlementReceipt, error)

	// Abandon closes a pending or active wager without a winner
	Abandon(ctx context.Context, wagerID, reason string) (*entities.Wager, error)

	// CheckEscrow reports the funding state of a wager's escrow
	CheckEscrow(ctx context.Context, wagerID string) (*entities.EscrowStatus, error)

	// GetWager retrieves a wager, failing with domain.ErrNotFound when unknown
	GetWager(ctx context.Context, wagerID string) (*entities.Wager, error)

	// ListForParticipant returns the wagers a participant is part of
	ListForParticipant(ctx context.Context, participantID string) ([]*entities.Wager, error)
}

// FundingMonitor reads escrow balances without mutating anything
type FundingMonitor interface {
	// Snapshot returns the balance of the native asset and every tracked token
	Snapshot(ctx context.Context, escrowAddress string, trackedAssets []string) (map[string]decimal.Decimal, error)

	// IsFullyFunded reports whether the escrow holds at least required of asset
	IsFullyFunded(ctx context.Context, escrowAddress string, required decimal.Decimal, asset string) (bool, error)
}

// DeadlineResolver decides when a wager can be checked
type DeadlineResolver interface {
	ClassifyDeadline(ctx context.Context, description string) entities.DeadlineDecision
}

// SettlementExecutor performs the convert-then-pay settlement of a completed wager
type SettlementExecutor interface {
	Settle(ctx context.Context, wager *entities.Wager, winnerAddress string, amount decimal.Decimal) (*entities.SettlementReceipt, error)

	// ResumeIncomplete retries settlements that stopped after conversion, returning how many were paid
	ResumeIncomplete(ctx context.Context) (int, error)
}
