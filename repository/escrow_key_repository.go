package repository

import (
	"context"
	"errors"
	"fmt"

	"wagerbot/database"
	"wagerbot/domain/interfaces"

	"github.com/jackc/pgx/v5"
)

// EscrowKeyRepository stores sealed custodial signing keys
type EscrowKeyRepository struct {
	q queryable
}

// NewEscrowKeyRepository creates a new escrow key repository
func NewEscrowKeyRepository(db *database.DB) *EscrowKeyRepository {
	return &EscrowKeyRepository{q: db.Pool}
}

var _ interfaces.EscrowKeyRepository = (*EscrowKeyRepository)(nil)

// Save stores a sealed key; references are never overwritten
func (r *EscrowKeyRepository) Save(ctx context.Context, ref string, address string, sealed []byte) error {
	query := `INSERT INTO escrow_keys (ref, address, sealed_key) VALUES ($1, $2, $3)`

	if _, err := r.q.Exec(ctx, query, ref, address, sealed); err != nil {
		return fmt.Errorf("failed to save escrow key %s: %w", ref, err)
	}
	return nil
}

// Get returns the sealed key for a reference
func (r *EscrowKeyRepository) Get(ctx context.Context, ref string) ([]byte, error) {
	var sealed []byte
	err := r.q.QueryRow(ctx, `SELECT sealed_key FROM escrow_keys WHERE ref = $1`, ref).Scan(&sealed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get escrow key %s: %w", ref, err)
	}
	return sealed, nil
}
