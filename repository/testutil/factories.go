package testutil

import (
	"time"

	"wagerbot/domain/entities"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreateTestWager creates a pending wager staked by creator
func CreateTestWager(creator string, stake string) *entities.Wager {
	id := uuid.NewString()
	return &entities.Wager{
		ID:                 id,
		Description:        "It will rain in London tomorrow",
		Participants:       []string{creator},
		Amounts:            map[string]decimal.Decimal{creator: decimal.RequireFromString(stake)},
		Asset:              "USDC",
		Status:             entities.WagerStatusPending,
		Escrow:             entities.EscrowAccount{PublicIdentity: "0xescrow-" + id, SigningRef: "escrow-" + id},
		VerificationMethod: entities.VerificationMethodOracle,
		CreatedAt:          time.Now().UTC().Truncate(time.Microsecond),
	}
}

// CreateTestSettlement creates a not-started settlement for a wager
func CreateTestSettlement(wagerID string, destination string, nativeAmount string) *entities.Settlement {
	return &entities.Settlement{
		ID:             uuid.NewString(),
		WagerID:        wagerID,
		IdempotencyKey: "settlement:" + wagerID,
		State:          entities.SettlementStateNotStarted,
		Destination:    destination,
		NativeAmount:   decimal.RequireFromString(nativeAmount),
	}
}
