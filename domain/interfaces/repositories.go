package interfaces

import (
	"context"
	"time"

	"wagerbot/domain/entities"
	"wagerbot/events"
)

// WagerRepository defines the interface for wager data access
type WagerRepository interface {
	// Create persists a new wager together with its participants and escrow binding
	Create(ctx context.Context, wager *entities.Wager) error

	// GetByID retrieves a wager by its ID, returning nil when it does not exist
	GetByID(ctx context.Context, id string) (*entities.Wager, error)

	// Update writes the wager if its stored version still equals wager.Version.
	// On success wager.Version is advanced; on conflict domain.ErrConcurrentUpdate is returned.
	Update(ctx context.Context, wager *entities.Wager) error

	// ListByParticipant returns the most recent wagers a participant has joined
	ListByParticipant(ctx context.Context, participantID string, limit int) ([]*entities.Wager, error)

	// ListDueForResolution returns active wagers whose trusted deadline is at or before now
	ListDueForResolution(ctx context.Context, now time.Time, limit int) ([]*entities.Wager, error)

	// ListStalePending returns pending wagers created before the cutoff
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*entities.Wager, error)

	// ListAwaitingActivation returns pending wagers with at least two participants
	ListAwaitingActivation(ctx context.Context, limit int) ([]*entities.Wager, error)

	// ListCompletedUnsettled returns completed wagers with no paid settlement
	ListCompletedUnsettled(ctx context.Context, limit int) ([]*entities.Wager, error)

	// ListSettledUnarchived returns wagers whose settlement is paid but not yet archived
	ListSettledUnarchived(ctx context.Context, limit int) ([]*entities.Wager, error)

	// MarkArchived records when the wager was written to the archive
	MarkArchived(ctx context.Context, id string, archivedAt time.Time) error
}

// SettlementRepository defines the interface for settlement data access
type SettlementRepository interface {
	// GetByWagerID retrieves the settlement of a wager, returning nil when none exists
	GetByWagerID(ctx context.Context, wagerID string) (*entities.Settlement, error)

	// Create persists a new settlement; a second settlement for the same wager fails with domain.ErrConcurrentUpdate
	Create(ctx context.Context, settlement *entities.Settlement) error

	// Update writes the settlement's progress
	Update(ctx context.Context, settlement *entities.Settlement) error

	// ListIncomplete returns settlements that have not reached the paid state
	ListIncomplete(ctx context.Context, limit int) ([]*entities.Settlement, error)
}

// EscrowKeyRepository stores sealed signing keys for custodial accounts
type EscrowKeyRepository interface {
	// Save stores a sealed key under its reference
	Save(ctx context.Context, ref string, address string, sealed []byte) error

	// Get returns the sealed key for a reference, returning nil when it does not exist
	Get(ctx context.Context, ref string) ([]byte, error)
}

// UserRepository defines the interface for user data access
type UserRepository interface {
	// GetByID retrieves a user by their chat identity, returning nil when unknown
	GetByID(ctx context.Context, id string) (*entities.User, error)

	// Create creates a new user
	Create(ctx context.Context, user *entities.User) error

	// UpdateWallet binds a custodial wallet to the user
	UpdateWallet(ctx context.Context, id string, address string, keyRef string) error
}

// EventPublisher defines the interface for publishing events
type EventPublisher interface {
	Publish(event events.Event) error
}
