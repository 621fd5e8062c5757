package services

import (
	"context"
	"sync"
	"time"

	"wagerbot/domain"
	"wagerbot/domain/entities"
)

// memoryWagerRepository keeps wagers in a map and enforces the version check like the SQL repository
type memoryWagerRepository struct {
	mu     sync.Mutex
	wagers map[string]*entities.Wager
}

func newMemoryWagerRepository() *memoryWagerRepository {
	return &memoryWagerRepository{wagers: make(map[string]*entities.Wager)}
}

func (r *memoryWagerRepository) Create(ctx context.Context, wager *entities.Wager) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	wager.Version = 1
	r.wagers[wager.ID] = wager.Clone()
	return nil
}

func (r *memoryWagerRepository) GetByID(ctx context.Context, id string) (*entities.Wager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wagers[id]
	if !ok {
		return nil, nil
	}
	return w.Clone(), nil
}

func (r *memoryWagerRepository) Update(ctx context.Context, wager *entities.Wager) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.wagers[wager.ID]
	if !ok || current.Version != wager.Version {
		return domain.ErrConcurrentUpdate
	}
	wager.Version++
	r.wagers[wager.ID] = wager.Clone()
	return nil
}

func (r *memoryWagerRepository) ListByParticipant(ctx context.Context, participantID string, limit int) ([]*entities.Wager, error) {
	return nil, nil
}

func (r *memoryWagerRepository) ListDueForResolution(ctx context.Context, now time.Time, limit int) ([]*entities.Wager, error) {
	return nil, nil
}

func (r *memoryWagerRepository) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*entities.Wager, error) {
	return nil, nil
}

func (r *memoryWagerRepository) ListAwaitingActivation(ctx context.Context, limit int) ([]*entities.Wager, error) {
	return nil, nil
}

func (r *memoryWagerRepository) ListCompletedUnsettled(ctx context.Context, limit int) ([]*entities.Wager, error) {
	return nil, nil
}

func (r *memoryWagerRepository) ListSettledUnarchived(ctx context.Context, limit int) ([]*entities.Wager, error) {
	return nil, nil
}

func (r *memoryWagerRepository) MarkArchived(ctx context.Context, id string, archivedAt time.Time) error {
	return nil
}
