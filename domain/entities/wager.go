package entities

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// WagerStatus represents the lifecycle state of a wager
type WagerStatus string

const (
	WagerStatusPending   WagerStatus = "pending"
	WagerStatusActive    WagerStatus = "active"
	WagerStatusCompleted WagerStatus = "completed"
	WagerStatusAbandoned WagerStatus = "abandoned"
)

// VerificationMethodOracle marks wagers whose outcome is verified by the outcome oracle
const VerificationMethodOracle = "oracle"

// allowedTransitions lists the forward moves out of each non-terminal status
var allowedTransitions = map[WagerStatus][]WagerStatus{
	WagerStatusPending: {WagerStatusActive, WagerStatusAbandoned},
	WagerStatusActive:  {WagerStatusCompleted, WagerStatusAbandoned},
}

// IsTerminal reports whether no further transition is possible from s
func (s WagerStatus) IsTerminal() bool {
	return s == WagerStatusCompleted || s == WagerStatusAbandoned
}

// CanTransitionTo reports whether next is a permitted forward move from s
func (s WagerStatus) CanTransitionTo(next WagerStatus) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// EscrowAccount is the custodial holding bound to exactly one wager.
// SigningRef only means something to the custody adapters.
type EscrowAccount struct {
	PublicIdentity string `db:"escrow_public_key"`
	SigningRef     string `db:"escrow_key_ref"`
}

// Verification is the accepted oracle verdict stored on a completed wager
type Verification struct {
	Confidence  float64 `db:"verification_confidence"`
	Explanation string  `db:"verification_explanation"`
}

// Wager represents a proposition that participants stake funds on
type Wager struct {
	ID                 string                     `db:"id"`
	Description        string                     `db:"description"`
	Participants       []string                   `db:"-"`
	Amounts            map[string]decimal.Decimal `db:"-"`
	Claims             map[string]string          `db:"-"`
	Asset              string                     `db:"asset"`
	Status             WagerStatus                `db:"status"`
	Escrow             EscrowAccount              `db:"-"`
	Deadline           *time.Time                 `db:"deadline"`
	DeadlineManual     bool                       `db:"deadline_manual"`
	Winner             *string                    `db:"winner"`
	Outcome            *string                    `db:"outcome"`
	ResolvedBy         *string                    `db:"resolved_by"`
	Verification       *Verification              `db:"-"`
	VerificationMethod string                     `db:"verification_method"`
	CreatedAt          time.Time                  `db:"created_at"`
	CompletedAt        *time.Time                 `db:"completed_at"`
	AbandonedAt        *time.Time                 `db:"abandoned_at"`
	AbandonReason      *string                    `db:"abandon_reason"`
	ArchivedAt         *time.Time                 `db:"archived_at"`
	Version            int64                      `db:"version"`
	Settlement         *Settlement                `db:"-"`
}

// Stake returns the authoritative per-participant stake, which is the first participant's amount
func (w *Wager) Stake() decimal.Decimal {
	if len(w.Participants) == 0 {
		return decimal.Zero
	}
	return w.Amounts[w.Participants[0]]
}

// TotalStake returns the sum of all participant stakes
func (w *Wager) TotalStake() decimal.Decimal {
	total := decimal.Zero
	for _, p := range w.Participants {
		total = total.Add(w.Amounts[p])
	}
	return total
}

// Claim returns the side a participant took, empty when none was recorded
func (w *Wager) Claim(participant string) string {
	return w.Claims[participant]
}

// ClaimHolder finds the participant whose recorded claim equals claim, ignoring case
func (w *Wager) ClaimHolder(claim string) (string, bool) {
	claim = strings.TrimSpace(claim)
	if claim == "" {
		return "", false
	}
	for _, p := range w.Participants {
		if c := w.Claims[p]; c != "" && strings.EqualFold(c, claim) {
			return p, true
		}
	}
	return "", false
}

// IsParticipant checks if the identity has joined the wager
func (w *Wager) IsParticipant(id string) bool {
	for _, p := range w.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// AmountsMatchParticipants checks that the stake map is keyed by exactly the participant set
func (w *Wager) AmountsMatchParticipants() bool {
	if len(w.Amounts) != len(w.Participants) {
		return false
	}
	for _, p := range w.Participants {
		if _, ok := w.Amounts[p]; !ok {
			return false
		}
	}
	return true
}

// IsSettled reports whether the payout has been delivered
func (w *Wager) IsSettled() bool {
	return w.Settlement != nil && w.Settlement.State == SettlementStatePaid
}

// DeadlinePassed reports whether the deadline is set and not after now
func (w *Wager) DeadlinePassed(now time.Time) bool {
	return w.Deadline != nil && !now.Before(*w.Deadline)
}

// Clone returns a deep copy so a failed transition never leaks into the caller's record
func (w *Wager) Clone() *Wager {
	c := *w
	c.Participants = append([]string(nil), w.Participants...)
	c.Amounts = make(map[string]decimal.Decimal, len(w.Amounts))
	for k, v := range w.Amounts {
		c.Amounts[k] = v
	}
	if w.Claims != nil {
		c.Claims = make(map[string]string, len(w.Claims))
		for k, v := range w.Claims {
			c.Claims[k] = v
		}
	}
	if w.Verification != nil {
		v := *w.Verification
		c.Verification = &v
	}
	if w.Settlement != nil {
		s := *w.Settlement
		c.Settlement = &s
	}
	return &c
}

// EscrowStatus is the rendered funding view of a wager's escrow
type EscrowStatus struct {
	Wager         *Wager
	Balances      map[string]decimal.Decimal
	RequiredAsset string
	Required      decimal.Decimal
	FullyFunded   bool
}
