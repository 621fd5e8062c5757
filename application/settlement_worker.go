package application

import (
	"context"
	"errors"
	"time"

	"wagerbot/domain"
	"wagerbot/domain/entities"
	"wagerbot/domain/interfaces"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// SettlementWorkerConfig controls the settlement sweep
type SettlementWorkerConfig struct {
	Interval    time.Duration
	AutoSettle  bool
	NativeAsset string
	GasReserve  decimal.Decimal
}

// SettlementWorker resumes interrupted payouts, pays winners with a registered wallet
// and archives paid wagers
type SettlementWorker struct {
	executor  interfaces.SettlementExecutor
	lifecycle interfaces.WagerLifecycleService
	wagerRepo interfaces.WagerRepository
	users     interfaces.UserRepository
	ledger    interfaces.Ledger
	archiver  interfaces.Archiver
	cfg       SettlementWorkerConfig
	now       func() time.Time
}

// NewSettlementWorker creates a new settlement worker. archiver may be nil.
func NewSettlementWorker(
	executor interfaces.SettlementExecutor,
	lifecycle interfaces.WagerLifecycleService,
	wagerRepo interfaces.WagerRepository,
	users interfaces.UserRepository,
	ledger interfaces.Ledger,
	archiver interfaces.Archiver,
	cfg SettlementWorkerConfig,
) *SettlementWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &SettlementWorker{
		executor:  executor,
		lifecycle: lifecycle,
		wagerRepo: wagerRepo,
		users:     users,
		ledger:    ledger,
		archiver:  archiver,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Start begins the settlement loop and returns a function that stops it
func (w *SettlementWorker) Start(ctx context.Context) func() {
	stopChan := make(chan struct{})

	go func() {
		log.WithField("interval", w.cfg.Interval).Info("Settlement worker started")

		ticker := time.NewTicker(w.cfg.Interval)
		defer ticker.Stop()

		for {
			w.RunOnce(ctx)

			select {
			case <-ctx.Done():
				log.Info("Settlement worker shutting down (context cancelled)...")
				return
			case <-stopChan:
				log.Info("Settlement worker shutting down (stop requested)...")
				return
			case <-ticker.C:
			}
		}
	}()

	return func() {
		close(stopChan)
	}
}

// RunOnce performs one pass of resume, auto-settle and archive
func (w *SettlementWorker) RunOnce(ctx context.Context) {
	resumed, err := w.executor.ResumeIncomplete(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to resume incomplete settlements")
	}

	var settled int
	if w.cfg.AutoSettle {
		settled = w.autoSettle(ctx)
	}

	var archived int
	if w.archiver != nil {
		archived = w.archive(ctx)
	}

	if resumed+settled+archived > 0 {
		log.WithFields(log.Fields{
			"resumed":  resumed,
			"settled":  settled,
			"archived": archived,
		}).Info("Completed settlement sweep")
	}
}

func (w *SettlementWorker) autoSettle(ctx context.Context) int {
	wagers, err := w.wagerRepo.ListCompletedUnsettled(ctx, sweepBatchSize)
	if err != nil {
		log.WithError(err).Error("Failed to list completed unsettled wagers")
		return 0
	}

	var settled int
	for _, wager := range wagers {
		if ctx.Err() != nil {
			break
		}
		if wager.Winner == nil || wager.Settlement != nil {
			// settlements already in progress belong to ResumeIncomplete or the winner's own payout
			continue
		}

		address, ok := w.winnerWallet(ctx, *wager.Winner)
		if !ok {
			continue
		}

		amount, err := payableAmount(ctx, w.ledger, wager, w.cfg.NativeAsset, w.cfg.GasReserve)
		if err != nil {
			log.WithFields(log.Fields{
				"wagerID": wager.ID,
				"error":   err,
			}).Debug("Escrow not payable yet")
			continue
		}

		if _, err := w.lifecycle.Settle(ctx, wager.ID, address, amount); err != nil {
			level := log.WarnLevel
			if errors.Is(err, domain.ErrLockHeld) {
				level = log.DebugLevel
			}
			log.WithFields(log.Fields{
				"wagerID": wager.ID,
				"error":   err,
			}).Log(level, "Automatic settlement failed")
			continue
		}
		settled++
	}
	return settled
}

func (w *SettlementWorker) winnerWallet(ctx context.Context, winner string) (string, bool) {
	user, err := w.users.GetByID(ctx, winner)
	if err != nil {
		log.WithFields(log.Fields{
			"userID": winner,
			"error":  err,
		}).Warn("Failed to look up winner")
		return "", false
	}
	if user == nil || !user.HasWallet() {
		return "", false
	}
	return *user.WalletAddress, true
}

func (w *SettlementWorker) archive(ctx context.Context) int {
	wagers, err := w.wagerRepo.ListSettledUnarchived(ctx, sweepBatchSize)
	if err != nil {
		log.WithError(err).Error("Failed to list settled wagers to archive")
		return 0
	}

	var archived int
	for _, wager := range wagers {
		if ctx.Err() != nil {
			break
		}
		if err := w.archiveOne(ctx, wager); err != nil {
			log.WithFields(log.Fields{
				"wagerID": wager.ID,
				"error":   err,
			}).Warn("Failed to archive wager")
			continue
		}
		archived++
	}
	return archived
}

func (w *SettlementWorker) archiveOne(ctx context.Context, wager *entities.Wager) error {
	key, err := w.archiver.ArchiveWager(ctx, wager)
	if err != nil {
		return err
	}
	if err := w.wagerRepo.MarkArchived(ctx, wager.ID, w.now().UTC()); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"wagerID": wager.ID,
		"key":     key,
	}).Debug("Wager archived")
	return nil
}
