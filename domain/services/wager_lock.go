package services

import (
	"context"
	"fmt"
	"time"

	"wagerbot/domain/interfaces"
)

// DefaultLockTTL bounds how long a crashed holder can block a wager.
// It outlasts SettlementLockTTL for the default receipt timeout and payout window.
const DefaultLockTTL = 10 * time.Minute

const settlementLockMargin = time.Minute

// SettlementLockTTL is the longest a settlement can hold the wager lock.
// Both the swap and the final payout attempt may wait a full receipt timeout.
func SettlementLockTTL(receiptTimeout, payoutMaxElapsed time.Duration) time.Duration {
	return 2*receiptTimeout + payoutMaxElapsed + settlementLockMargin
}

// lockWager takes the per-wager lock when a lock manager is configured
func lockWager(ctx context.Context, locks interfaces.LockManager, wagerID string, ttl time.Duration) (func(), error) {
	if locks == nil {
		return func() {}, nil
	}
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	unlock, err := locks.Acquire(ctx, "wager:"+wagerID, ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to lock wager %s: %w", wagerID, err)
	}
	return unlock, nil
}
