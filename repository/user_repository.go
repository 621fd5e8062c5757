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

// UserRepository implements the UserRepository interface
type UserRepository struct {
	q queryable
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{q: db.Pool}
}

var _ interfaces.UserRepository = (*UserRepository)(nil)

// GetByID retrieves a user by their chat identity
func (r *UserRepository) GetByID(ctx context.Context, id string) (*entities.User, error) {
	query := `
		SELECT id, username, wallet_address, wallet_key_ref, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	var user entities.User
	err := r.q.QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.Username,
		&user.WalletAddress,
		&user.WalletKeyRef,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", id, err)
	}

	return &user, nil
}

// Create creates a new user without a wallet
func (r *UserRepository) Create(ctx context.Context, user *entities.User) error {
	query := `
		INSERT INTO users (id, username)
		VALUES ($1, $2)
		RETURNING created_at, updated_at
	`

	err := r.q.QueryRow(ctx, query, user.ID, user.Username).Scan(&user.CreatedAt, &user.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("user %s already exists: %w", user.ID, domain.ErrValidation)
	}
	if err != nil {
		return fmt.Errorf("failed to create user %s: %w", user.ID, err)
	}
	return nil
}

// UpdateWallet binds a wallet to a user that does not have one yet
func (r *UserRepository) UpdateWallet(ctx context.Context, id string, address string, keyRef string) error {
	query := `
		UPDATE users
		SET wallet_address = $2, wallet_key_ref = $3, updated_at = NOW()
		WHERE id = $1 AND wallet_address IS NULL
	`

	tag, err := r.q.Exec(ctx, query, id, address, keyRef)
	if err != nil {
		return fmt.Errorf("failed to update wallet for user %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s not found or already has a wallet: %w", id, domain.ErrConcurrentUpdate)
	}
	return nil
}
