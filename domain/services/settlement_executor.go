package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"wagerbot/domain"
	"wagerbot/domain/entities"
	"wagerbot/domain/interfaces"
	"wagerbot/events"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const resumeBatchSize = 50

// SettlementConfig tunes payout retries
type SettlementConfig struct {
	// PayoutAsset stakes are paid out as they are, without a conversion
	PayoutAsset      string
	PayoutMaxElapsed time.Duration
	PayoutMaxRetries uint64
	LockTTL          time.Duration
}

// settlementExecutor converts escrowed funds and pays the winner, recording each step
type settlementExecutor struct {
	settlementRepo interfaces.SettlementRepository
	wagerRepo      interfaces.WagerRepository
	swapper        interfaces.Swapper
	transferer     interfaces.Transferer
	eventPublisher interfaces.EventPublisher
	locks          interfaces.LockManager
	cfg            SettlementConfig
	newBackOff     func() backoff.BackOff
	now            func() time.Time
}

// NewSettlementExecutor creates a new settlement executor. locks may be nil.
func NewSettlementExecutor(
	settlementRepo interfaces.SettlementRepository,
	wagerRepo interfaces.WagerRepository,
	swapper interfaces.Swapper,
	transferer interfaces.Transferer,
	eventPublisher interfaces.EventPublisher,
	locks interfaces.LockManager,
	cfg SettlementConfig,
) interfaces.SettlementExecutor {
	e := &settlementExecutor{
		settlementRepo: settlementRepo,
		wagerRepo:      wagerRepo,
		swapper:        swapper,
		transferer:     transferer,
		eventPublisher: eventPublisher,
		locks:          locks,
		cfg:            cfg,
		now:            time.Now,
	}
	e.newBackOff = e.payoutBackOff
	return e
}

func (e *settlementExecutor) payoutBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxElapsedTime = e.cfg.PayoutMaxElapsed
	if b.MaxElapsedTime <= 0 {
		b.MaxElapsedTime = 2 * time.Minute
	}
	if e.cfg.PayoutMaxRetries > 0 {
		return backoff.WithMaxRetries(b, e.cfg.PayoutMaxRetries)
	}
	return b
}

// Settle runs or resumes the settlement of a completed wager.
// amount is denominated in the wager's stake asset.
func (e *settlementExecutor) Settle(ctx context.Context, wager *entities.Wager, winnerAddress string, amount decimal.Decimal) (*entities.SettlementReceipt, error) {
	if wager == nil {
		return nil, domain.Validationf("wager is required")
	}
	if wager.Status != entities.WagerStatusCompleted {
		return nil, domain.ErrNotCompleted
	}
	if winnerAddress == "" {
		return nil, domain.Validationf("winner address is required")
	}
	if !amount.IsPositive() {
		return nil, domain.Validationf("settlement amount must be positive")
	}

	settlement, err := e.settlementRepo.GetByWagerID(ctx, wager.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}

	switch {
	case settlement == nil:
		now := e.now().UTC()
		settlement = &entities.Settlement{
			ID:             uuid.NewString(),
			WagerID:        wager.ID,
			IdempotencyKey: "settlement:" + wager.ID,
			State:          entities.SettlementStateNotStarted,
			Destination:    winnerAddress,
			NativeAmount:   amount,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := e.settlementRepo.Create(ctx, settlement); err != nil {
			return nil, fmt.Errorf("failed to create settlement: %w", err)
		}

	case settlement.State == entities.SettlementStatePaid:
		log.WithFields(log.Fields{
			"wagerID":   wager.ID,
			"signature": settlement.PayoutSignature,
		}).Info("Settlement already paid, returning stored receipt")
		return settlement.Receipt(), nil

	case settlement.State == entities.SettlementStateNotStarted:
		settlement.Destination = winnerAddress
		settlement.NativeAmount = amount

	case settlement.Destination != winnerAddress:
		return nil, domain.Validationf("settlement is already paying out to %s", settlement.Destination)
	}

	return e.run(ctx, wager, settlement)
}

// run advances a settlement from its recorded state to paid
func (e *settlementExecutor) run(ctx context.Context, wager *entities.Wager, settlement *entities.Settlement) (*entities.SettlementReceipt, error) {
	logger := log.WithFields(log.Fields{
		"wagerID":     wager.ID,
		"settlement":  settlement.ID,
		"destination": settlement.Destination,
	})

	if settlement.State == entities.SettlementStateNotStarted {
		if err := e.convert(ctx, wager, settlement); err != nil {
			return nil, err
		}
		logger.WithFields(log.Fields{
			"toAmount": settlement.SwapToAmount.Decimal.String(),
			"mock":     settlement.SwapMocked,
		}).Info("Settlement conversion recorded")
	}

	signature, err := e.payout(ctx, wager, settlement)
	if err != nil {
		return nil, err
	}

	paidAt := e.now().UTC()
	settlement.State = entities.SettlementStatePaid
	settlement.PayoutSignature = &signature
	settlement.PaidAt = &paidAt
	settlement.LastError = nil
	settlement.UpdatedAt = paidAt
	if err := e.settlementRepo.Update(ctx, settlement); err != nil {
		// The transfer went out; retrying reuses the payout idempotency key.
		logger.WithFields(log.Fields{
			"signature": signature,
			"error":     err,
		}).Error("Payout delivered but settlement record could not be updated")
		return nil, fmt.Errorf("failed to record payout %s: %w", signature, err)
	}

	logger.WithFields(log.Fields{
		"signature": signature,
		"amount":    settlement.SwapToAmount.Decimal.String(),
	}).Info("Settlement paid")

	winner := ""
	if wager.Winner != nil {
		winner = *wager.Winner
	}
	e.publish(events.SettlementCompletedEvent{
		WagerID:          wager.ID,
		Winner:           winner,
		Destination:      settlement.Destination,
		Amount:           settlement.SwapToAmount.Decimal.String(),
		PayoutSignature:  signature,
		ConversionMocked: settlement.SwapMocked,
	})

	wager.Settlement = settlement
	return settlement.Receipt(), nil
}

// convert swaps the native amount into the payout asset and records the swapped state
func (e *settlementExecutor) convert(ctx context.Context, wager *entities.Wager, settlement *entities.Settlement) error {
	if e.cfg.PayoutAsset != "" && strings.EqualFold(wager.Asset, e.cfg.PayoutAsset) {
		log.WithFields(log.Fields{
			"wagerID": wager.ID,
			"asset":   wager.Asset,
			"amount":  settlement.NativeAmount.String(),
		}).Info("Stake already held in the payout asset, skipping conversion")
		return e.recordConversion(ctx, settlement, &entities.SwapReceipt{
			FromAmount: settlement.NativeAmount,
			ToAmount:   settlement.NativeAmount,
		})
	}

	receipt, err := e.swapper.Swap(ctx, interfaces.SwapRequest{
		Escrow:         wager.Escrow,
		NativeAmount:   settlement.NativeAmount,
		IdempotencyKey: settlement.SwapIdempotencyKey(),
	})
	if errors.Is(err, domain.ErrProviderRestricted) {
		log.WithFields(log.Fields{
			"wagerID": wager.ID,
			"amount":  settlement.NativeAmount.String(),
		}).Warn("Swap provider restricted, continuing with mock conversion")
		receipt = &entities.SwapReceipt{
			FromAmount: settlement.NativeAmount,
			ToAmount:   settlement.NativeAmount,
			Mock:       true,
		}
	} else if err != nil {
		e.recordFailure(ctx, settlement, err)
		return fmt.Errorf("settlement aborted, conversion failed: %w", domain.CollaboratorError("swap", err))
	}
	return e.recordConversion(ctx, settlement, receipt)
}

func (e *settlementExecutor) recordConversion(ctx context.Context, settlement *entities.Settlement, receipt *entities.SwapReceipt) error {
	swappedAt := e.now().UTC()
	settlement.State = entities.SettlementStateSwapped
	settlement.SwapMocked = receipt.Mock
	settlement.SwapToAmount = decimal.NewNullDecimal(receipt.ToAmount)
	settlement.SwappedAt = &swappedAt
	settlement.LastError = nil
	settlement.UpdatedAt = swappedAt
	if receipt.TxHash != "" {
		hash := receipt.TxHash
		settlement.SwapTxHash = &hash
	}
	if err := e.settlementRepo.Update(ctx, settlement); err != nil {
		return fmt.Errorf("failed to record conversion: %w", err)
	}
	return nil
}

// payout transfers the converted amount with retries under a stable idempotency key
func (e *settlementExecutor) payout(ctx context.Context, wager *entities.Wager, settlement *entities.Settlement) (string, error) {
	req := interfaces.TransferRequest{
		Escrow:         wager.Escrow,
		Destination:    settlement.Destination,
		Amount:         settlement.SwapToAmount.Decimal,
		IdempotencyKey: settlement.PayoutIdempotencyKey(),
	}

	operation := func() (string, error) {
		settlement.Attempts++
		signature, err := e.transferer.Transfer(ctx, req)
		if errors.Is(err, domain.ErrValidation) {
			return "", backoff.Permanent(err)
		}
		return signature, err
	}
	notify := func(err error, wait time.Duration) {
		log.WithFields(log.Fields{
			"wagerID": wager.ID,
			"attempt": settlement.Attempts,
			"wait":    wait,
			"error":   err,
		}).Warn("Payout attempt failed, retrying")
	}

	signature, err := backoff.RetryNotifyWithData(operation, backoff.WithContext(e.newBackOff(), ctx), notify)
	if err != nil {
		e.recordFailure(ctx, settlement, err)
		return "", fmt.Errorf("payout failed: %w", domain.CollaboratorError("transfer", err))
	}
	return signature, nil
}

func (e *settlementExecutor) recordFailure(ctx context.Context, settlement *entities.Settlement, cause error) {
	msg := cause.Error()
	settlement.LastError = &msg
	settlement.UpdatedAt = e.now().UTC()
	if err := e.settlementRepo.Update(ctx, settlement); err != nil {
		log.WithFields(log.Fields{
			"wagerID": settlement.WagerID,
			"error":   err,
		}).Error("Failed to record settlement failure")
	}

	e.publish(events.SettlementFailedEvent{
		WagerID: settlement.WagerID,
		State:   string(settlement.State),
		Error:   msg,
	})
}

// ResumeIncomplete retries the payout of every settlement that stopped after conversion
func (e *settlementExecutor) ResumeIncomplete(ctx context.Context) (int, error) {
	pending, err := e.settlementRepo.ListIncomplete(ctx, resumeBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list incomplete settlements: %w", err)
	}

	paid := 0
	for _, settlement := range pending {
		if settlement.State != entities.SettlementStateSwapped {
			continue
		}
		if err := e.resumeOne(ctx, settlement); err != nil {
			log.WithFields(log.Fields{
				"wagerID": settlement.WagerID,
				"error":   err,
			}).Warn("Failed to resume settlement")
			continue
		}
		paid++
	}
	return paid, nil
}

func (e *settlementExecutor) resumeOne(ctx context.Context, settlement *entities.Settlement) error {
	unlock, err := lockWager(ctx, e.locks, settlement.WagerID, e.cfg.LockTTL)
	if err != nil {
		return err
	}
	defer unlock()

	wager, err := e.wagerRepo.GetByID(ctx, settlement.WagerID)
	if err != nil {
		return fmt.Errorf("failed to get wager: %w", err)
	}
	if wager == nil {
		return fmt.Errorf("wager %s: %w", settlement.WagerID, domain.ErrNotFound)
	}

	_, err = e.run(ctx, wager, settlement)
	return err
}

func (e *settlementExecutor) publish(event events.Event) {
	if e.eventPublisher == nil {
		return
	}
	if err := e.eventPublisher.Publish(event); err != nil {
		log.WithFields(log.Fields{
			"eventType": event.Type(),
			"error":     err,
		}).Error("Failed to publish event")
	}
}
