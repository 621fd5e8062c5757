package entities

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestWagerStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from WagerStatus
		to   WagerStatus
		want bool
	}{
		{WagerStatusPending, WagerStatusActive, true},
		{WagerStatusPending, WagerStatusAbandoned, true},
		{WagerStatusPending, WagerStatusCompleted, false},
		{WagerStatusActive, WagerStatusCompleted, true},
		{WagerStatusActive, WagerStatusAbandoned, true},
		{WagerStatusActive, WagerStatusPending, false},
		{WagerStatusActive, WagerStatusActive, false},
		{WagerStatusCompleted, WagerStatusActive, false},
		{WagerStatusCompleted, WagerStatusAbandoned, false},
		{WagerStatusAbandoned, WagerStatusActive, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestWager_StakeHelpers(t *testing.T) {
	w := &Wager{
		Participants: []string{"alice", "bob"},
		Amounts: map[string]decimal.Decimal{
			"alice": decimal.NewFromInt(10),
			"bob":   decimal.NewFromInt(10),
		},
	}

	assert.True(t, w.Stake().Equal(decimal.NewFromInt(10)))
	assert.True(t, w.TotalStake().Equal(decimal.NewFromInt(20)))
	assert.True(t, w.IsParticipant("bob"))
	assert.False(t, w.IsParticipant("carol"))
	assert.True(t, w.AmountsMatchParticipants())

	w.Amounts["carol"] = decimal.NewFromInt(10)
	assert.False(t, w.AmountsMatchParticipants())

	empty := &Wager{}
	assert.True(t, empty.Stake().IsZero())
}

func TestWager_CloneIsDeep(t *testing.T) {
	original := &Wager{
		ID:           "w1",
		Participants: []string{"alice"},
		Amounts:      map[string]decimal.Decimal{"alice": decimal.NewFromInt(5)},
		Claims:       map[string]string{"alice": "it rains"},
		Verification: &Verification{Confidence: 0.9},
	}

	c := original.Clone()
	c.Participants = append(c.Participants, "bob")
	c.Amounts["bob"] = decimal.NewFromInt(5)
	c.Claims["bob"] = "it stays dry"
	c.Verification.Confidence = 0.1

	assert.Equal(t, []string{"alice"}, original.Participants)
	assert.Len(t, original.Amounts, 1)
	assert.Len(t, original.Claims, 1)
	assert.Equal(t, 0.9, original.Verification.Confidence)
}

func TestWager_ClaimHolder(t *testing.T) {
	w := &Wager{
		Participants: []string{"alice", "bob", "carol"},
		Claims:       map[string]string{"alice": "Lakers win", "bob": "Celtics win"},
	}

	holder, ok := w.ClaimHolder("  celtics WIN ")
	assert.True(t, ok)
	assert.Equal(t, "bob", holder)
	assert.Equal(t, "Lakers win", w.Claim("alice"))
	assert.Empty(t, w.Claim("carol"))

	_, ok = w.ClaimHolder("a draw")
	assert.False(t, ok)
	_, ok = w.ClaimHolder("")
	assert.False(t, ok)
}

func TestWager_DeadlinePassed(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	w := &Wager{}
	assert.False(t, w.DeadlinePassed(now))

	past := now.Add(-time.Minute)
	w.Deadline = &past
	assert.True(t, w.DeadlinePassed(now))

	future := now.Add(time.Minute)
	w.Deadline = &future
	assert.False(t, w.DeadlinePassed(now))
}

func TestSettlement_Receipt(t *testing.T) {
	hash := "0xswap"
	sig := "0xpay"
	paidAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &Settlement{
		WagerID:         "w1",
		IdempotencyKey:  "key",
		Destination:     "0xwinner",
		NativeAmount:    decimal.RequireFromString("1.5"),
		SwapTxHash:      &hash,
		SwapToAmount:    decimal.NewNullDecimal(decimal.RequireFromString("300")),
		PayoutSignature: &sig,
		PaidAt:          &paidAt,
	}

	r := s.Receipt()
	assert.Equal(t, "0xswap", r.Conversion.TxHash)
	assert.True(t, r.Conversion.ToAmount.Equal(decimal.NewFromInt(300)))
	assert.Equal(t, "0xpay", r.PayoutSignature)
	assert.Equal(t, paidAt, r.PaidAt)
	assert.Equal(t, "key:payout", s.PayoutIdempotencyKey())
}
