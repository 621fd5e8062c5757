package repository

import (
	"context"
	"fmt"
	"time"

	"wagerbot/database"
	"wagerbot/domain"
	"wagerbot/domain/entities"
	"wagerbot/domain/interfaces"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const wagerColumns = `
	w.id, w.description, w.asset, w.status, w.escrow_public_key, w.escrow_key_ref,
	w.deadline, w.deadline_manual, w.winner, w.outcome, w.resolved_by,
	w.verification_confidence, w.verification_explanation, w.verification_method,
	w.created_at, w.completed_at, w.abandoned_at, w.abandon_reason, w.archived_at, w.version`

// WagerRepository implements wager data access
type WagerRepository struct {
	db *database.DB
}

// NewWagerRepository creates a new wager repository
func NewWagerRepository(db *database.DB) *WagerRepository {
	return &WagerRepository{db: db}
}

var _ interfaces.WagerRepository = (*WagerRepository)(nil)

// Create inserts the wager and its participants in one transaction
func (r *WagerRepository) Create(ctx context.Context, wager *entities.Wager) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO wagers (
				id, description, asset, status, escrow_public_key, escrow_key_ref,
				deadline, deadline_manual, verification_method, created_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING version
		`

		err := tx.QueryRow(ctx, query,
			wager.ID,
			wager.Description,
			wager.Asset,
			wager.Status,
			wager.Escrow.PublicIdentity,
			wager.Escrow.SigningRef,
			wager.Deadline,
			wager.DeadlineManual,
			wager.VerificationMethod,
			wager.CreatedAt,
		).Scan(&wager.Version)
		if err != nil {
			return fmt.Errorf("failed to create wager: %w", err)
		}

		return insertParticipants(ctx, tx, wager)
	})
}

// GetByID retrieves a wager with its participants and settlement
func (r *WagerRepository) GetByID(ctx context.Context, id string) (*entities.Wager, error) {
	wagers, err := r.list(ctx, `SELECT `+wagerColumns+` FROM wagers w WHERE w.id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get wager %s: %w", id, err)
	}
	if len(wagers) == 0 {
		return nil, nil
	}
	return wagers[0], nil
}

// Update writes the wager when its stored version matches and appends new participants
func (r *WagerRepository) Update(ctx context.Context, wager *entities.Wager) error {
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE wagers SET
				status = $3,
				deadline = $4,
				deadline_manual = $5,
				winner = COALESCE(winner, $6),
				outcome = $7,
				resolved_by = $8,
				verification_confidence = $9,
				verification_explanation = $10,
				completed_at = COALESCE(completed_at, $11),
				abandoned_at = $12,
				abandon_reason = $13,
				version = version + 1
			WHERE id = $1 AND version = $2
		`

		var confidence *float64
		var explanation *string
		if wager.Verification != nil {
			confidence = &wager.Verification.Confidence
			explanation = &wager.Verification.Explanation
		}

		tag, err := tx.Exec(ctx, query,
			wager.ID,
			wager.Version,
			wager.Status,
			wager.Deadline,
			wager.DeadlineManual,
			wager.Winner,
			wager.Outcome,
			wager.ResolvedBy,
			confidence,
			explanation,
			wager.CompletedAt,
			wager.AbandonedAt,
			wager.AbandonReason,
		)
		if err != nil {
			return fmt.Errorf("failed to update wager: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrConcurrentUpdate
		}

		return insertParticipants(ctx, tx, wager)
	})
	if err != nil {
		return err
	}

	wager.Version++
	return nil
}

// ListByParticipant returns the newest wagers the participant has joined
func (r *WagerRepository) ListByParticipant(ctx context.Context, participantID string, limit int) ([]*entities.Wager, error) {
	query := `
		SELECT ` + wagerColumns + `
		FROM wagers w
		JOIN wager_participants p ON p.wager_id = w.id
		WHERE p.participant_id = $1
		ORDER BY w.created_at DESC
		LIMIT $2
	`
	wagers, err := r.list(ctx, query, participantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list wagers for participant %s: %w", participantID, err)
	}
	return wagers, nil
}

// ListDueForResolution returns active wagers whose automatic deadline has passed
func (r *WagerRepository) ListDueForResolution(ctx context.Context, now time.Time, limit int) ([]*entities.Wager, error) {
	query := `
		SELECT ` + wagerColumns + `
		FROM wagers w
		WHERE w.status = 'active'
		  AND NOT w.deadline_manual
		  AND w.deadline IS NOT NULL
		  AND w.deadline <= $1
		ORDER BY w.deadline
		LIMIT $2
	`
	wagers, err := r.list(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due wagers: %w", err)
	}
	return wagers, nil
}

// ListStalePending returns pending wagers created before the cutoff
func (r *WagerRepository) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*entities.Wager, error) {
	query := `
		SELECT ` + wagerColumns + `
		FROM wagers w
		WHERE w.status = 'pending' AND w.created_at < $1
		ORDER BY w.created_at
		LIMIT $2
	`
	wagers, err := r.list(ctx, query, createdBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale pending wagers: %w", err)
	}
	return wagers, nil
}

// ListAwaitingActivation returns pending wagers that already have an opposing participant
func (r *WagerRepository) ListAwaitingActivation(ctx context.Context, limit int) ([]*entities.Wager, error) {
	query := `
		SELECT ` + wagerColumns + `
		FROM wagers w
		WHERE w.status = 'pending'
		  AND (SELECT COUNT(*) FROM wager_participants p WHERE p.wager_id = w.id) >= 2
		ORDER BY w.created_at
		LIMIT $1
	`
	wagers, err := r.list(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list wagers awaiting activation: %w", err)
	}
	return wagers, nil
}

// ListCompletedUnsettled returns completed wagers without a paid settlement
func (r *WagerRepository) ListCompletedUnsettled(ctx context.Context, limit int) ([]*entities.Wager, error) {
	query := `
		SELECT ` + wagerColumns + `
		FROM wagers w
		LEFT JOIN settlements s ON s.wager_id = w.id
		WHERE w.status = 'completed'
		  AND (s.id IS NULL OR s.state <> 'paid')
		ORDER BY w.completed_at
		LIMIT $1
	`
	wagers, err := r.list(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsettled wagers: %w", err)
	}
	return wagers, nil
}

// ListSettledUnarchived returns paid wagers that have not been archived
func (r *WagerRepository) ListSettledUnarchived(ctx context.Context, limit int) ([]*entities.Wager, error) {
	query := `
		SELECT ` + wagerColumns + `
		FROM wagers w
		JOIN settlements s ON s.wager_id = w.id
		WHERE w.status = 'completed'
		  AND w.archived_at IS NULL
		  AND s.state = 'paid'
		ORDER BY s.paid_at
		LIMIT $1
	`
	wagers, err := r.list(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unarchived wagers: %w", err)
	}
	return wagers, nil
}

// MarkArchived stamps the archive time without touching the lifecycle version
func (r *WagerRepository) MarkArchived(ctx context.Context, id string, archivedAt time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE wagers SET archived_at = $2 WHERE id = $1 AND archived_at IS NULL`, id, archivedAt)
	if err != nil {
		return fmt.Errorf("failed to mark wager %s archived: %w", id, err)
	}
	return nil
}

// list runs a wager query and attaches participants and settlements
func (r *WagerRepository) list(ctx context.Context, query string, args ...any) ([]*entities.Wager, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wagers []*entities.Wager
	byID := make(map[string]*entities.Wager)
	for rows.Next() {
		wager, err := scanWager(rows)
		if err != nil {
			return nil, err
		}
		wagers = append(wagers, wager)
		byID[wager.ID] = wager
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(wagers) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(wagers))
	for _, w := range wagers {
		ids = append(ids, w.ID)
	}

	if err := loadParticipants(ctx, r.db, ids, byID); err != nil {
		return nil, err
	}

	settlements, err := listSettlementsByWagerIDs(ctx, r.db, ids)
	if err != nil {
		return nil, err
	}
	for _, s := range settlements {
		byID[s.WagerID].Settlement = s
	}

	return wagers, nil
}

func scanWager(row pgx.Row) (*entities.Wager, error) {
	var wager entities.Wager
	var confidence *float64
	var explanation *string

	err := row.Scan(
		&wager.ID,
		&wager.Description,
		&wager.Asset,
		&wager.Status,
		&wager.Escrow.PublicIdentity,
		&wager.Escrow.SigningRef,
		&wager.Deadline,
		&wager.DeadlineManual,
		&wager.Winner,
		&wager.Outcome,
		&wager.ResolvedBy,
		&confidence,
		&explanation,
		&wager.VerificationMethod,
		&wager.CreatedAt,
		&wager.CompletedAt,
		&wager.AbandonedAt,
		&wager.AbandonReason,
		&wager.ArchivedAt,
		&wager.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan wager: %w", err)
	}

	if confidence != nil {
		wager.Verification = &entities.Verification{Confidence: *confidence}
		if explanation != nil {
			wager.Verification.Explanation = *explanation
		}
	}
	wager.Amounts = make(map[string]decimal.Decimal)
	wager.Claims = make(map[string]string)

	return &wager, nil
}

func loadParticipants(ctx context.Context, q queryable, ids []string, byID map[string]*entities.Wager) error {
	query := `
		SELECT wager_id, participant_id, amount, claim
		FROM wager_participants
		WHERE wager_id = ANY($1)
		ORDER BY wager_id, join_order
	`

	rows, err := q.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("failed to load participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var wagerID, participantID, claim string
		var amount decimal.Decimal
		if err := rows.Scan(&wagerID, &participantID, &amount, &claim); err != nil {
			return fmt.Errorf("failed to scan participant: %w", err)
		}
		wager := byID[wagerID]
		wager.Participants = append(wager.Participants, participantID)
		wager.Amounts[participantID] = amount
		if claim != "" {
			wager.Claims[participantID] = claim
		}
	}

	return rows.Err()
}

// insertParticipants appends participants that are not stored yet; existing rows and their claims are never rewritten
func insertParticipants(ctx context.Context, q queryable, wager *entities.Wager) error {
	query := `
		INSERT INTO wager_participants (wager_id, participant_id, amount, join_order, claim)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (wager_id, participant_id) DO NOTHING
	`

	for i, participant := range wager.Participants {
		amount, ok := wager.Amounts[participant]
		if !ok {
			return fmt.Errorf("participant %s has no stake", participant)
		}
		if _, err := q.Exec(ctx, query, wager.ID, participant, amount, i, wager.Claim(participant)); err != nil {
			return fmt.Errorf("failed to store participant %s: %w", participant, err)
		}
	}

	return nil
}
