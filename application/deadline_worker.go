package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"wagerbot/domain"
	"wagerbot/domain/entities"
	"wagerbot/domain/interfaces"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

const (
	sweepBatchSize = 50

	// maxRecheckInterval caps how long an unverifiable wager waits between oracle checks
	maxRecheckInterval = time.Hour

	// AbandonReasonExpired is recorded on pending wagers nobody joined in time
	AbandonReasonExpired = "expired: no participant joined before the pending window closed"
)

// DeadlineWorker resolves wagers whose deadline has passed, activates joined pending wagers
// once funded and expires stale pending wagers
type DeadlineWorker struct {
	lifecycle  interfaces.WagerLifecycleService
	wagerRepo  interfaces.WagerRepository
	interval   time.Duration
	pendingTTL time.Duration
	now        func() time.Time

	mu       sync.Mutex
	rechecks map[string]*recheck
}

// recheck delays the next oracle query for a wager that could not be resolved
type recheck struct {
	at      time.Time
	backOff *backoff.ExponentialBackOff
}

// NewDeadlineWorker creates a new deadline worker
func NewDeadlineWorker(lifecycle interfaces.WagerLifecycleService, wagerRepo interfaces.WagerRepository, interval, pendingTTL time.Duration) *DeadlineWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &DeadlineWorker{
		lifecycle:  lifecycle,
		wagerRepo:  wagerRepo,
		interval:   interval,
		pendingTTL: pendingTTL,
		now:        time.Now,
		rechecks:   make(map[string]*recheck),
	}
}

// Start begins the sweep loop and returns a function that stops it
func (w *DeadlineWorker) Start(ctx context.Context) func() {
	stopChan := make(chan struct{})

	go func() {
		log.WithField("interval", w.interval).Info("Deadline worker started")

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			w.RunOnce(ctx)

			select {
			case <-ctx.Done():
				log.Info("Deadline worker shutting down (context cancelled)...")
				return
			case <-stopChan:
				log.Info("Deadline worker shutting down (stop requested)...")
				return
			case <-ticker.C:
			}
		}
	}()

	return func() {
		close(stopChan)
	}
}

// RunOnce performs one sweep over due, joined and stale wagers
func (w *DeadlineWorker) RunOnce(ctx context.Context) {
	now := w.now().UTC()

	resolved, unresolved := w.resolveDue(ctx, now)
	activated := w.activatePending(ctx)
	expired := w.expireStalePending(ctx, now)

	if resolved+unresolved+activated+expired > 0 {
		log.WithFields(log.Fields{
			"resolved":   resolved,
			"unresolved": unresolved,
			"activated":  activated,
			"expired":    expired,
		}).Info("Completed deadline sweep")
	}
}

func (w *DeadlineWorker) resolveDue(ctx context.Context, now time.Time) (int, int) {
	due, err := w.wagerRepo.ListDueForResolution(ctx, now, sweepBatchSize)
	if err != nil {
		log.WithError(err).Error("Failed to list wagers due for resolution")
		return 0, 0
	}

	if len(due) < sweepBatchSize {
		w.forgetRechecks(due)
	}

	var resolved, unresolved int
	for _, wager := range due {
		if ctx.Err() != nil {
			break
		}
		if next, waiting := w.nextCheck(wager.ID, now); waiting {
			log.WithFields(log.Fields{
				"wagerID":   wager.ID,
				"nextCheck": next,
			}).Debug("Skipping due wager until its next check")
			continue
		}

		result, err := w.lifecycle.ResolveDue(ctx, wager.ID)
		switch {
		case err == nil && result.Verified:
			resolved++
			w.clearRecheck(wager.ID)
		case err == nil:
			unresolved++
			log.WithFields(log.Fields{
				"wagerID":     wager.ID,
				"confidence":  result.Confidence,
				"explanation": result.Explanation,
				"nextCheck":   w.scheduleRecheck(wager.ID, now),
			}).Info("Due wager could not be verified yet")
		case errors.Is(err, domain.ErrLockHeld), errors.Is(err, domain.ErrConcurrentUpdate):
			log.WithField("wagerID", wager.ID).Debug("Wager busy, retrying on next sweep")
		default:
			unresolved++
			log.WithFields(log.Fields{
				"wagerID":   wager.ID,
				"error":     err,
				"nextCheck": w.scheduleRecheck(wager.ID, now),
			}).Warn("Failed to resolve due wager")
		}
	}
	return resolved, unresolved
}

// activatePending retries activation of joined wagers held back by the funding gate
func (w *DeadlineWorker) activatePending(ctx context.Context) int {
	joined, err := w.wagerRepo.ListAwaitingActivation(ctx, sweepBatchSize)
	if err != nil {
		log.WithError(err).Error("Failed to list wagers awaiting activation")
		return 0
	}

	var activated int
	for _, wager := range joined {
		if ctx.Err() != nil {
			break
		}
		_, err := w.lifecycle.Activate(ctx, wager.ID)
		switch {
		case err == nil:
			activated++
			log.WithField("wagerID", wager.ID).Info("Activated funded wager")
		case errors.Is(err, domain.ErrNotFunded):
			log.WithField("wagerID", wager.ID).Debug("Wager not funded yet")
		case errors.Is(err, domain.ErrLockHeld), errors.Is(err, domain.ErrConcurrentUpdate):
			log.WithField("wagerID", wager.ID).Debug("Wager busy, retrying on next sweep")
		default:
			log.WithFields(log.Fields{
				"wagerID": wager.ID,
				"error":   err,
			}).Warn("Failed to activate wager")
		}
	}
	return activated
}

func (w *DeadlineWorker) expireStalePending(ctx context.Context, now time.Time) int {
	if w.pendingTTL <= 0 {
		return 0
	}

	stale, err := w.wagerRepo.ListStalePending(ctx, now.Add(-w.pendingTTL), sweepBatchSize)
	if err != nil {
		log.WithError(err).Error("Failed to list stale pending wagers")
		return 0
	}

	var expired int
	for _, wager := range stale {
		if ctx.Err() != nil {
			break
		}
		if _, err := w.lifecycle.Abandon(ctx, wager.ID, AbandonReasonExpired); err != nil {
			log.WithFields(log.Fields{
				"wagerID": wager.ID,
				"error":   err,
			}).Warn("Failed to expire pending wager")
			continue
		}
		expired++
	}
	return expired
}

func (w *DeadlineWorker) nextCheck(wagerID string, now time.Time) (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.rechecks[wagerID]
	if !ok {
		return time.Time{}, false
	}
	return r.at, now.Before(r.at)
}

// scheduleRecheck pushes the wager's next oracle query out, doubling the wait each time
func (w *DeadlineWorker) scheduleRecheck(wagerID string, now time.Time) time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.rechecks[wagerID]
	if !ok {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = w.interval
		bo.MaxInterval = max(maxRecheckInterval, w.interval)
		bo.Multiplier = 2
		bo.MaxElapsedTime = 0
		bo.RandomizationFactor = 0
		bo.Reset()
		r = &recheck{backOff: bo}
		w.rechecks[wagerID] = r
	}
	r.at = now.Add(r.backOff.NextBackOff())
	return r.at
}

func (w *DeadlineWorker) clearRecheck(wagerID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.rechecks, wagerID)
}

// forgetRechecks drops schedules of wagers that are no longer due
func (w *DeadlineWorker) forgetRechecks(due []*entities.Wager) {
	listed := make(map[string]bool, len(due))
	for _, wager := range due {
		listed[wager.ID] = true
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for id := range w.rechecks {
		if !listed[id] {
			delete(w.rechecks, id)
		}
	}
}
