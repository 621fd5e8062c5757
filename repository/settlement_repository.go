package repository

import (
	"context"
	"errors"
	"fmt"

	"wagerbot/database"
	"wagerbot/domain"
	"wagerbot/domain/entities"
	"wagerbot/domain/interfaces"

	"github.com/jackc/pgx/v5"
)

const settlementColumns = `
	id, wager_id, idempotency_key, state, destination, native_amount,
	swap_tx_hash, swap_to_amount, swap_mocked, swapped_at,
	payout_signature, paid_at, attempts, last_error, created_at, updated_at`

// SettlementRepository implements settlement data access
type SettlementRepository struct {
	q queryable
}

// NewSettlementRepository creates a new settlement repository
func NewSettlementRepository(db *database.DB) *SettlementRepository {
	return &SettlementRepository{q: db.Pool}
}

var _ interfaces.SettlementRepository = (*SettlementRepository)(nil)

// GetByWagerID retrieves the settlement of a wager
func (r *SettlementRepository) GetByWagerID(ctx context.Context, wagerID string) (*entities.Settlement, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlements WHERE wager_id = $1`

	settlement, err := scanSettlement(r.q.QueryRow(ctx, query, wagerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement for wager %s: %w", wagerID, err)
	}
	return settlement, nil
}

// Create inserts a new settlement. Only one settlement may exist per wager.
func (r *SettlementRepository) Create(ctx context.Context, settlement *entities.Settlement) error {
	query := `
		INSERT INTO settlements (
			id, wager_id, idempotency_key, state, destination, native_amount, attempts
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err := r.q.QueryRow(ctx, query,
		settlement.ID,
		settlement.WagerID,
		settlement.IdempotencyKey,
		settlement.State,
		settlement.Destination,
		settlement.NativeAmount,
		settlement.Attempts,
	).Scan(&settlement.CreatedAt, &settlement.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("settlement for wager %s already exists: %w", settlement.WagerID, domain.ErrConcurrentUpdate)
	}
	if err != nil {
		return fmt.Errorf("failed to create settlement: %w", err)
	}
	return nil
}

// Update writes the settlement's progress
func (r *SettlementRepository) Update(ctx context.Context, settlement *entities.Settlement) error {
	query := `
		UPDATE settlements SET
			state = $2,
			destination = $3,
			native_amount = $4,
			swap_tx_hash = $5,
			swap_to_amount = $6,
			swap_mocked = $7,
			swapped_at = $8,
			payout_signature = $9,
			paid_at = $10,
			attempts = $11,
			last_error = $12,
			updated_at = NOW()
		WHERE id = $1 AND state <> 'paid'
		RETURNING updated_at
	`

	err := r.q.QueryRow(ctx, query,
		settlement.ID,
		settlement.State,
		settlement.Destination,
		settlement.NativeAmount,
		settlement.SwapTxHash,
		settlement.SwapToAmount,
		settlement.SwapMocked,
		settlement.SwappedAt,
		settlement.PayoutSignature,
		settlement.PaidAt,
		settlement.Attempts,
		settlement.LastError,
	).Scan(&settlement.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("settlement %s is already paid: %w", settlement.ID, domain.ErrConcurrentUpdate)
	}
	if err != nil {
		return fmt.Errorf("failed to update settlement %s: %w", settlement.ID, err)
	}
	return nil
}

// ListIncomplete returns settlements that have not been paid, oldest progress first
func (r *SettlementRepository) ListIncomplete(ctx context.Context, limit int) ([]*entities.Settlement, error) {
	query := `
		SELECT ` + settlementColumns + `
		FROM settlements
		WHERE state <> 'paid'
		ORDER BY updated_at
		LIMIT $1
	`
	return querySettlements(ctx, r.q, query, limit)
}

func listSettlementsByWagerIDs(ctx context.Context, q queryable, wagerIDs []string) ([]*entities.Settlement, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlements WHERE wager_id = ANY($1)`
	return querySettlements(ctx, q, query, wagerIDs)
}

func querySettlements(ctx context.Context, q queryable, query string, args ...any) ([]*entities.Settlement, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query settlements: %w", err)
	}
	defer rows.Close()

	var settlements []*entities.Settlement
	for rows.Next() {
		settlement, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settlement: %w", err)
		}
		settlements = append(settlements, settlement)
	}

	return settlements, rows.Err()
}

func scanSettlement(row pgx.Row) (*entities.Settlement, error) {
	var s entities.Settlement
	err := row.Scan(
		&s.ID,
		&s.WagerID,
		&s.IdempotencyKey,
		&s.State,
		&s.Destination,
		&s.NativeAmount,
		&s.SwapTxHash,
		&s.SwapToAmount,
		&s.SwapMocked,
		&s.SwappedAt,
		&s.PayoutSignature,
		&s.PaidAt,
		&s.Attempts,
		&s.LastError,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
