package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wagerbot/domain"
	"wagerbot/domain/entities"
	"wagerbot/domain/interfaces"
	"wagerbot/events"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const (
	// SweepResolverID is recorded as the resolver of wagers closed by the deadline sweep
	SweepResolverID = "deadline-sweep"

	participantListLimit = 20
)

// LifecycleConfig holds the policy knobs of the wager state machine
type LifecycleConfig struct {
	NativeAsset              string
	PayoutAsset              string
	ConfidenceThreshold      float64
	RequireFundingToActivate bool
	LockTTL                  time.Duration
}

// wagerLifecycleService drives wagers from creation to completion
type wagerLifecycleService struct {
	wagerRepo          interfaces.WagerRepository
	ledger             interfaces.Ledger
	oracle             interfaces.Oracle
	fundingMonitor     interfaces.FundingMonitor
	deadlineResolver   interfaces.DeadlineResolver
	settlementExecutor interfaces.SettlementExecutor
	eventPublisher     interfaces.EventPublisher
	locks              interfaces.LockManager
	cfg                LifecycleConfig
	now                func() time.Time
}

// NewWagerLifecycleService creates a new wager lifecycle service. locks may be nil.
func NewWagerLifecycleService(
	wagerRepo interfaces.WagerRepository,
	ledger interfaces.Ledger,
	oracle interfaces.Oracle,
	fundingMonitor interfaces.FundingMonitor,
	deadlineResolver interfaces.DeadlineResolver,
	settlementExecutor interfaces.SettlementExecutor,
	eventPublisher interfaces.EventPublisher,
	locks interfaces.LockManager,
	cfg LifecycleConfig,
) interfaces.WagerLifecycleService {
	return &wagerLifecycleService{
		wagerRepo:          wagerRepo,
		ledger:             ledger,
		oracle:             oracle,
		fundingMonitor:     fundingMonitor,
		deadlineResolver:   deadlineResolver,
		settlementExecutor: settlementExecutor,
		eventPublisher:     eventPublisher,
		locks:              locks,
		cfg:                cfg,
		now:                time.Now,
	}
}

// Create opens a pending wager funded by a fresh escrow account
func (s *wagerLifecycleService) Create(ctx context.Context, description, asset string, stake decimal.Decimal, initialParticipant, claim string) (*entities.Wager, error) {
	description = strings.TrimSpace(description)
	asset = strings.ToUpper(strings.TrimSpace(asset))
	initialParticipant = strings.TrimSpace(initialParticipant)
	claim = strings.TrimSpace(claim)

	if description == "" {
		return nil, domain.Validationf("description is required")
	}
	if asset == "" {
		return nil, domain.Validationf("asset is required")
	}
	if !s.supportedAsset(asset) {
		return nil, domain.Validationf("stakes in %s cannot be paid out, use %s or %s", asset, s.cfg.NativeAsset, s.cfg.PayoutAsset)
	}
	if !stake.IsPositive() {
		return nil, domain.Validationf("stake must be positive")
	}
	if initialParticipant == "" {
		return nil, domain.Validationf("initial participant is required")
	}

	escrow, err := s.ledger.CreateEscrowAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create escrow account: %w", domain.CollaboratorError("ledger", err))
	}

	wager := &entities.Wager{
		ID:                 uuid.NewString(),
		Description:        description,
		Participants:       []string{initialParticipant},
		Amounts:            map[string]decimal.Decimal{initialParticipant: stake},
		Claims:             map[string]string{},
		Asset:              asset,
		Status:             entities.WagerStatusPending,
		Escrow:             escrow,
		VerificationMethod: entities.VerificationMethodOracle,
		CreatedAt:          s.now().UTC(),
	}
	if claim != "" {
		wager.Claims[initialParticipant] = claim
	}

	if err := s.wagerRepo.Create(ctx, wager); err != nil {
		return nil, fmt.Errorf("failed to create wager: %w", err)
	}

	log.WithFields(log.Fields{
		"wagerID": wager.ID,
		"creator": initialParticipant,
		"stake":   stake.String(),
		"asset":   asset,
		"claim":   claim,
		"escrow":  escrow.PublicIdentity,
	}).Info("Wager created")

	s.publish(events.WagerCreatedEvent{
		WagerID:       wager.ID,
		CreatorID:     initialParticipant,
		Description:   description,
		Amount:        stake.String(),
		Asset:         asset,
		EscrowAddress: escrow.PublicIdentity,
	})

	return wager, nil
}

// supportedAsset reports whether a stake in asset can be settled: native stakes are
// converted before payout, payout-asset stakes are paid as they are
func (s *wagerLifecycleService) supportedAsset(asset string) bool {
	if s.cfg.NativeAsset == "" && s.cfg.PayoutAsset == "" {
		return true
	}
	return strings.EqualFold(asset, s.cfg.NativeAsset) || strings.EqualFold(asset, s.cfg.PayoutAsset)
}

// Join enrolls a participant, mirroring the first participant's stake
func (s *wagerLifecycleService) Join(ctx context.Context, wagerID, participantID, claim string) (*entities.Wager, error) {
	participantID = strings.TrimSpace(participantID)
	claim = strings.TrimSpace(claim)
	if participantID == "" {
		return nil, domain.Validationf("participant is required")
	}

	wager, err := s.mutate(ctx, wagerID, func(w *entities.Wager) (bool, error) {
		if w.Status != entities.WagerStatusPending {
			return false, domain.ErrNotJoinable
		}
		if w.IsParticipant(participantID) {
			return false, domain.ErrAlreadyParticipant
		}
		if holder, taken := w.ClaimHolder(claim); taken {
			return false, domain.Validationf("%s already holds the claim %q, pick the opposing side", holder, claim)
		}

		w.Participants = append(w.Participants, participantID)
		w.Amounts[participantID] = w.Stake()
		if claim != "" {
			if w.Claims == nil {
				w.Claims = make(map[string]string)
			}
			w.Claims[participantID] = claim
		}

		if s.activationAllowed(ctx, w) {
			w.Status = entities.WagerStatusActive
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"wagerID":     wager.ID,
		"participant": participantID,
		"claim":       claim,
		"status":      wager.Status,
	}).Info("Participant joined wager")

	s.publish(events.ParticipantJoinedEvent{
		WagerID:       wager.ID,
		ParticipantID: participantID,
		Claim:         claim,
		Participants:  wager.Participants,
		Activated:     wager.Status == entities.WagerStatusActive,
	})

	return wager, nil
}

// Activate moves a pending wager with at least two participants to active
func (s *wagerLifecycleService) Activate(ctx context.Context, wagerID string) (*entities.Wager, error) {
	return s.mutate(ctx, wagerID, func(w *entities.Wager) (bool, error) {
		if w.Status != entities.WagerStatusPending {
			return false, domain.ErrNotJoinable
		}
		if len(w.Participants) < 2 {
			return false, domain.Validationf("wager needs at least two participants")
		}
		if !s.activationAllowed(ctx, w) {
			return false, domain.ErrNotFunded
		}
		w.Status = entities.WagerStatusActive
		return true, nil
	})
}

// activationAllowed applies the optional funding gate
func (s *wagerLifecycleService) activationAllowed(ctx context.Context, w *entities.Wager) bool {
	if !s.cfg.RequireFundingToActivate {
		return true
	}

	required := w.TotalStake()
	funded, err := s.fundingMonitor.IsFullyFunded(ctx, w.Escrow.PublicIdentity, required, w.Asset)
	if err != nil {
		log.WithFields(log.Fields{
			"wagerID": w.ID,
			"error":   err,
		}).Warn("Funding check failed, wager stays pending")
		return false
	}
	return funded
}

// SetDeadline overwrites the deadline and marks it as human-set
func (s *wagerLifecycleService) SetDeadline(ctx context.Context, wagerID string, minutesFromNow int) (*entities.Wager, error) {
	if minutesFromNow <= 0 {
		return nil, domain.Validationf("minutes must be a positive number")
	}

	wager, err := s.mutate(ctx, wagerID, func(w *entities.Wager) (bool, error) {
		if w.Status.IsTerminal() {
			return false, domain.ErrAlreadyTerminal
		}
		deadline := s.now().UTC().Add(time.Duration(minutesFromNow) * time.Minute)
		w.Deadline = &deadline
		w.DeadlineManual = false
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.publishDeadline(wager)
	return wager, nil
}

// AssignDeadline derives the deadline from the description through the deadline resolver
func (s *wagerLifecycleService) AssignDeadline(ctx context.Context, wagerID string) (*entities.Wager, error) {
	current, err := s.GetWager(ctx, wagerID)
	if err != nil {
		return nil, err
	}
	if current.Status.IsTerminal() {
		return nil, domain.ErrAlreadyTerminal
	}

	decision := s.deadlineResolver.ClassifyDeadline(ctx, current.Description)

	wager, err := s.mutate(ctx, wagerID, func(w *entities.Wager) (bool, error) {
		if w.Status.IsTerminal() {
			return false, domain.ErrAlreadyTerminal
		}
		deadline := decision.Deadline
		w.Deadline = &deadline
		w.DeadlineManual = decision.Manual
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"wagerID":     wager.ID,
		"deadline":    decision.Deadline,
		"manual":      decision.Manual,
		"explanation": decision.Classification.Explanation,
	}).Info("Wager deadline assigned")

	s.publishDeadline(wager)
	return wager, nil
}

// Resolve verifies a claimed outcome and completes the wager for the participant it favours
func (s *wagerLifecycleService) Resolve(ctx context.Context, wagerID, outcomeText, resolverID string) (*entities.VerificationResult, error) {
	outcomeText = strings.TrimSpace(outcomeText)
	if outcomeText == "" {
		return nil, domain.Validationf("outcome text is required")
	}
	if strings.TrimSpace(resolverID) == "" {
		return nil, domain.Validationf("resolver is required")
	}
	return s.resolve(ctx, wagerID, outcomeText, resolverID, false)
}

// ResolveDue asks the oracle for the outcome of a wager whose trusted deadline has passed
func (s *wagerLifecycleService) ResolveDue(ctx context.Context, wagerID string) (*entities.VerificationResult, error) {
	return s.resolve(ctx, wagerID, "", SweepResolverID, true)
}

func (s *wagerLifecycleService) resolve(ctx context.Context, wagerID, outcomeText, resolverID string, sweep bool) (*entities.VerificationResult, error) {
	var result *entities.VerificationResult

	wager, err := s.mutate(ctx, wagerID, func(w *entities.Wager) (bool, error) {
		if w.Status != entities.WagerStatusActive {
			return false, domain.ErrNotActive
		}

		now := s.now().UTC()
		if sweep {
			if w.DeadlineManual || !w.DeadlinePassed(now) {
				return false, domain.ErrDeadlineNotReached
			}
		} else if w.Deadline != nil && !w.DeadlineManual && now.Before(*w.Deadline) {
			return false, domain.ErrDeadlineNotReached
		}

		verification, err := s.oracle.VerifyOutcome(ctx, entities.OutcomeQuery{
			Description:  w.Description,
			OutcomeText:  outcomeText,
			Participants: w.Participants,
			Claims:       w.Claims,
		})
		if err != nil || verification == nil {
			log.WithFields(log.Fields{
				"wagerID": w.ID,
				"error":   err,
			}).Warn("Outcome verification failed, treating as not verified")
			result = &entities.VerificationResult{
				Verified:    false,
				Confidence:  0,
				Explanation: "Error during verification",
			}
			return false, nil
		}
		result = verification

		if !verification.Verified {
			return false, nil
		}
		if verification.Confidence < s.cfg.ConfidenceThreshold {
			rejected := *verification
			rejected.Verified = false
			rejected.Explanation = fmt.Sprintf("confidence %.2f below threshold %.2f: %s",
				verification.Confidence, s.cfg.ConfidenceThreshold, verification.Explanation)
			result = &rejected
			return false, nil
		}

		winner, ok := matchWinner(w, verification.Winner)
		if !ok {
			return false, domain.ErrAmbiguousOutcome
		}
		if w.Winner != nil || w.CompletedAt != nil {
			return false, domain.ErrAlreadyTerminal
		}

		outcome := outcomeText
		if outcome == "" {
			outcome = verification.Explanation
		}
		w.Status = entities.WagerStatusCompleted
		w.CompletedAt = &now
		w.Winner = &winner
		w.Outcome = &outcome
		w.ResolvedBy = &resolverID
		w.Verification = &entities.Verification{
			Confidence:  verification.Confidence,
			Explanation: verification.Explanation,
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if wager.Status == entities.WagerStatusCompleted {
		log.WithFields(log.Fields{
			"wagerID":    wager.ID,
			"winner":     *wager.Winner,
			"resolvedBy": resolverID,
			"confidence": result.Confidence,
		}).Info("Wager resolved")

		s.publish(events.WagerResolvedEvent{
			WagerID:      wager.ID,
			Winner:       *wager.Winner,
			Outcome:      *wager.Outcome,
			Confidence:   result.Confidence,
			Participants: wager.Participants,
		})
	}

	return result, nil
}

// matchWinner maps the oracle's winner to a participant. The oracle may name the
// participant, ignoring case and a leading @, or repeat the claim it upheld.
func matchWinner(w *entities.Wager, named string) (string, bool) {
	named = strings.TrimSpace(named)
	if named == "" {
		return "", false
	}
	handle := strings.TrimPrefix(named, "@")
	for _, p := range w.Participants {
		if strings.EqualFold(strings.TrimPrefix(p, "@"), handle) {
			return p, true
		}
	}
	return w.ClaimHolder(named)
}

// Settle hands a completed wager to the settlement executor
func (s *wagerLifecycleService) Settle(ctx context.Context, wagerID, winnerAddress string, amount decimal.Decimal) (*entities.SettlementReceipt, error) {
	unlock, err := lockWager(ctx, s.locks, wagerID, s.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	defer unlock()

	wager, err := s.GetWager(ctx, wagerID)
	if err != nil {
		return nil, err
	}
	if wager.Status != entities.WagerStatusCompleted {
		return nil, domain.ErrNotCompleted
	}

	return s.settlementExecutor.Settle(ctx, wager, strings.TrimSpace(winnerAddress), amount)
}

// Abandon closes a pending or active wager without a winner
func (s *wagerLifecycleService) Abandon(ctx context.Context, wagerID, reason string) (*entities.Wager, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "abandoned"
	}

	wager, err := s.mutate(ctx, wagerID, func(w *entities.Wager) (bool, error) {
		if !w.Status.CanTransitionTo(entities.WagerStatusAbandoned) {
			return false, domain.ErrAlreadyTerminal
		}
		now := s.now().UTC()
		w.Status = entities.WagerStatusAbandoned
		w.AbandonedAt = &now
		w.AbandonReason = &reason
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"wagerID": wager.ID,
		"reason":  reason,
	}).Info("Wager abandoned")

	s.publish(events.WagerAbandonedEvent{
		WagerID:      wager.ID,
		Reason:       reason,
		Participants: wager.Participants,
	})
	return wager, nil
}

// CheckEscrow reports the escrow balances against the total stake
func (s *wagerLifecycleService) CheckEscrow(ctx context.Context, wagerID string) (*entities.EscrowStatus, error) {
	wager, err := s.GetWager(ctx, wagerID)
	if err != nil {
		return nil, err
	}

	tracked := []string{wager.Asset}
	if s.cfg.PayoutAsset != "" && !strings.EqualFold(s.cfg.PayoutAsset, wager.Asset) {
		tracked = append(tracked, s.cfg.PayoutAsset)
	}

	balances, err := s.fundingMonitor.Snapshot(ctx, wager.Escrow.PublicIdentity, tracked)
	if err != nil {
		return nil, fmt.Errorf("failed to read escrow balances: %w", err)
	}

	required := wager.TotalStake()
	return &entities.EscrowStatus{
		Wager:         wager,
		Balances:      balances,
		RequiredAsset: wager.Asset,
		Required:      required,
		FullyFunded:   balances[wager.Asset].GreaterThanOrEqual(required),
	}, nil
}

// GetWager retrieves a wager by ID
func (s *wagerLifecycleService) GetWager(ctx context.Context, wagerID string) (*entities.Wager, error) {
	wagerID = strings.TrimSpace(wagerID)
	if wagerID == "" {
		return nil, domain.Validationf("wager id is required")
	}

	wager, err := s.wagerRepo.GetByID(ctx, wagerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get wager: %w", err)
	}
	if wager == nil {
		return nil, fmt.Errorf("wager %s: %w", wagerID, domain.ErrNotFound)
	}
	return wager, nil
}

// ListForParticipant returns recent wagers a participant is part of
func (s *wagerLifecycleService) ListForParticipant(ctx context.Context, participantID string) ([]*entities.Wager, error) {
	wagers, err := s.wagerRepo.ListByParticipant(ctx, participantID, participantListLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list wagers: %w", err)
	}
	return wagers, nil
}

// mutate applies fn to a copy of the wager under the per-wager lock and persists it
// with a version check. fn returns false to leave the record untouched.
func (s *wagerLifecycleService) mutate(ctx context.Context, wagerID string, fn func(w *entities.Wager) (bool, error)) (*entities.Wager, error) {
	unlock, err := lockWager(ctx, s.locks, wagerID, s.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := s.GetWager(ctx, wagerID)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	changed, err := fn(next)
	if err != nil {
		return nil, err
	}
	if !changed {
		return current, nil
	}

	if err := s.wagerRepo.Update(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to update wager: %w", err)
	}
	return next, nil
}

func (s *wagerLifecycleService) publishDeadline(wager *entities.Wager) {
	if wager.Deadline == nil {
		return
	}
	s.publish(events.DeadlineSetEvent{
		WagerID:      wager.ID,
		Deadline:     *wager.Deadline,
		Manual:       wager.DeadlineManual,
		Participants: wager.Participants,
	})
}

func (s *wagerLifecycleService) publish(event events.Event) {
	if s.eventPublisher == nil {
		return
	}
	if err := s.eventPublisher.Publish(event); err != nil {
		log.WithFields(log.Fields{
			"eventType": event.Type(),
			"error":     err,
		}).Error("Failed to publish event")
	}
}
