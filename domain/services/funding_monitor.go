package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"wagerbot/domain"
	"wagerbot/domain/interfaces"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// fundingMonitor reads escrow balances from the ledger
type fundingMonitor struct {
	ledger      interfaces.Ledger
	limiter     interfaces.RateLimiter
	nativeAsset string
}

// NewFundingMonitor creates a new funding monitor. limiter may be nil.
func NewFundingMonitor(ledger interfaces.Ledger, limiter interfaces.RateLimiter, nativeAsset string) interfaces.FundingMonitor {
	return &fundingMonitor{
		ledger:      ledger,
		limiter:     limiter,
		nativeAsset: strings.ToUpper(nativeAsset),
	}
}

// Snapshot returns the native balance plus one entry per tracked token
func (m *fundingMonitor) Snapshot(ctx context.Context, escrowAddress string, trackedAssets []string) (map[string]decimal.Decimal, error) {
	if escrowAddress == "" {
		return nil, domain.Validationf("escrow address is required")
	}

	if err := m.throttle(ctx, escrowAddress); err != nil {
		return nil, err
	}
	native, err := m.ledger.GetBalance(ctx, escrowAddress)
	if err != nil {
		return nil, domain.CollaboratorError("ledger", err)
	}

	snapshot := map[string]decimal.Decimal{m.nativeAsset: native}
	for _, asset := range trackedAssets {
		asset = strings.ToUpper(asset)
		if _, seen := snapshot[asset]; seen {
			continue
		}

		if err := m.throttle(ctx, escrowAddress); err != nil {
			return nil, err
		}
		balance, err := m.ledger.GetTokenBalance(ctx, escrowAddress, asset)
		if errors.Is(err, domain.ErrAccountNotFound) {
			// Never funded with this token.
			balance = decimal.Zero
		} else if err != nil {
			return nil, domain.CollaboratorError("ledger", err)
		}
		snapshot[asset] = balance
	}

	log.WithFields(log.Fields{
		"escrow": escrowAddress,
		"assets": len(snapshot),
	}).Debug("Took escrow funding snapshot")

	return snapshot, nil
}

// IsFullyFunded checks the escrow's balance of one asset against the required amount
func (m *fundingMonitor) IsFullyFunded(ctx context.Context, escrowAddress string, required decimal.Decimal, asset string) (bool, error) {
	snapshot, err := m.Snapshot(ctx, escrowAddress, []string{asset})
	if err != nil {
		return false, err
	}
	return snapshot[strings.ToUpper(asset)].GreaterThanOrEqual(required), nil
}

func (m *fundingMonitor) throttle(ctx context.Context, escrowAddress string) error {
	if m.limiter == nil {
		return nil
	}
	if err := m.limiter.Wait(ctx, "ledger:"+escrowAddress); err != nil {
		return fmt.Errorf("ledger rate limit wait: %w", err)
	}
	return nil
}
