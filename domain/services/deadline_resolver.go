package services

import (
	"context"
	"time"

	"wagerbot/domain/entities"
	"wagerbot/domain/interfaces"

	log "github.com/sirupsen/logrus"
)

// DefaultFallbackWindow is used when a wager cannot be checked at a known time
const DefaultFallbackWindow = 5 * time.Minute

// deadlineResolver turns the oracle's deadline classification into a decision
type deadlineResolver struct {
	oracle         interfaces.Oracle
	fallbackWindow time.Duration
	now            func() time.Time
}

// NewDeadlineResolver creates a new deadline resolver
func NewDeadlineResolver(oracle interfaces.Oracle, fallbackWindow time.Duration) interfaces.DeadlineResolver {
	if fallbackWindow <= 0 {
		fallbackWindow = DefaultFallbackWindow
	}
	return &deadlineResolver{
		oracle:         oracle,
		fallbackWindow: fallbackWindow,
		now:            time.Now,
	}
}

// ClassifyDeadline never fails: an unusable classification falls back to a short manual window
func (r *deadlineResolver) ClassifyDeadline(ctx context.Context, description string) entities.DeadlineDecision {
	classification, err := r.oracle.ClassifyDeadline(ctx, description)
	if err != nil || classification == nil {
		log.WithFields(log.Fields{
			"description": description,
			"error":       err,
		}).Warn("Deadline classification failed, using fallback window")
		classification = &entities.DeadlineClassification{
			IsTimeBound: false,
			Manual:      true,
			Explanation: "Error or not time-bound.",
		}
	}

	if classification.IsTimeBound && classification.CheckTime != nil {
		return entities.DeadlineDecision{
			Deadline:       classification.CheckTime.UTC(),
			Manual:         false,
			Classification: *classification,
		}
	}

	return entities.DeadlineDecision{
		Deadline:       r.now().UTC().Add(r.fallbackWindow),
		Manual:         true,
		Classification: *classification,
	}
}
