package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// DetectionResult is the oracle's reading of a free-text message
type DetectionResult struct {
	IsWager      bool            `json:"isWager"`
	Description  string          `json:"description"`
	Amount       decimal.Decimal `json:"amount"`
	Asset        string          `json:"asset"`
	Participants []string        `json:"participants"`
	BotMentioned bool            `json:"botMentioned"`
}

// DeadlineClassification is the oracle's judgement of when a wager can be checked
type DeadlineClassification struct {
	IsTimeBound bool       `json:"isTimeBound"`
	CheckTime   *time.Time `json:"checkTime"`
	Manual      bool       `json:"manual"`
	Explanation string     `json:"explanation"`
}

// OutcomeQuery is what the oracle is asked to verify.
// Claims maps a participant to the side they took.
type OutcomeQuery struct {
	Description  string
	OutcomeText  string
	Participants []string
	Claims       map[string]string
}

// VerificationResult is the oracle's verdict on a claimed outcome.
// Winner is the participant the verified outcome favours, empty when it names none.
type VerificationResult struct {
	Verified    bool    `json:"verified"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
	Winner      string  `json:"winner"`
}

// DeadlineDecision is the deadline the resolver settled on
type DeadlineDecision struct {
	Deadline       time.Time
	Manual         bool
	Classification DeadlineClassification
}
