package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// SettlementState tracks how far a settlement has progressed
type SettlementState string

const (
	SettlementStateNotStarted SettlementState = "not_started"
	SettlementStateSwapped    SettlementState = "swapped"
	SettlementStatePaid       SettlementState = "paid"
)

// Settlement is the durable record of converting escrowed funds and paying the winner.
// Each step is persisted before the next one starts.
type Settlement struct {
	ID              string              `db:"id"`
	WagerID         string              `db:"wager_id"`
	IdempotencyKey  string              `db:"idempotency_key"`
	State           SettlementState     `db:"state"`
	Destination     string              `db:"destination"`
	NativeAmount    decimal.Decimal     `db:"native_amount"`
	SwapTxHash      *string             `db:"swap_tx_hash"`
	SwapToAmount    decimal.NullDecimal `db:"swap_to_amount"`
	SwapMocked      bool                `db:"swap_mocked"`
	SwappedAt       *time.Time          `db:"swapped_at"`
	PayoutSignature *string             `db:"payout_signature"`
	PaidAt          *time.Time          `db:"paid_at"`
	Attempts        int                 `db:"attempts"`
	LastError       *string             `db:"last_error"`
	CreatedAt       time.Time           `db:"created_at"`
	UpdatedAt       time.Time           `db:"updated_at"`
}

// PayoutIdempotencyKey is the key the transfer provider deduplicates the payout on
func (s *Settlement) PayoutIdempotencyKey() string {
	return s.IdempotencyKey + ":payout"
}

// SwapIdempotencyKey is the key the swap provider deduplicates the conversion on
func (s *Settlement) SwapIdempotencyKey() string {
	return s.IdempotencyKey + ":swap"
}

// Receipt renders the settlement as a receipt; only meaningful once paid
func (s *Settlement) Receipt() *SettlementReceipt {
	r := &SettlementReceipt{
		WagerID:     s.WagerID,
		Destination: s.Destination,
		Conversion: SwapReceipt{
			FromAmount: s.NativeAmount,
			Mock:       s.SwapMocked,
		},
	}
	if s.SwapTxHash != nil {
		r.Conversion.TxHash = *s.SwapTxHash
	}
	if s.SwapToAmount.Valid {
		r.Conversion.ToAmount = s.SwapToAmount.Decimal
	}
	if s.PayoutSignature != nil {
		r.PayoutSignature = *s.PayoutSignature
	}
	if s.PaidAt != nil {
		r.PaidAt = *s.PaidAt
	}
	return r
}

// SwapReceipt describes a native-to-payout-asset conversion
type SwapReceipt struct {
	TxHash     string
	FromAmount decimal.Decimal
	ToAmount   decimal.Decimal
	Mock       bool
}

// SettlementReceipt is returned once the winner has been paid
type SettlementReceipt struct {
	WagerID         string
	Destination     string
	Conversion      SwapReceipt
	PayoutSignature string
	PaidAt          time.Time
}
