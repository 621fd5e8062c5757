package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrValidation marks bad caller input. No state was changed.
	ErrValidation = errors.New("validation error")

	// ErrNotFound is returned when a wager or user does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is the parent of every rejected state transition.
	ErrInvalidTransition = errors.New("invalid transition")

	ErrNotJoinable        = fmt.Errorf("%w: wager is no longer accepting participants", ErrInvalidTransition)
	ErrAlreadyParticipant = fmt.Errorf("%w: already a participant in this wager", ErrInvalidTransition)
	ErrNotActive          = fmt.Errorf("%w: wager is not active", ErrInvalidTransition)
	ErrNotCompleted       = fmt.Errorf("%w: wager has not been completed", ErrInvalidTransition)
	ErrDeadlineNotReached = fmt.Errorf("%w: wager deadline has not been reached", ErrInvalidTransition)
	ErrAmbiguousOutcome   = fmt.Errorf("%w: verified outcome does not name a participant", ErrInvalidTransition)
	ErrAlreadyTerminal    = fmt.Errorf("%w: wager is already closed", ErrInvalidTransition)
	ErrNotFunded          = fmt.Errorf("%w: escrow is not fully funded", ErrInvalidTransition)

	// ErrCollaborator wraps failures of the ledger, oracle, swap or transfer services.
	ErrCollaborator = errors.New("collaborator error")

	// ErrProviderRestricted is the swap provider refusing service for regional policy reasons.
	ErrProviderRestricted = errors.New("provider restricted")

	// ErrAccountNotFound is reported by the ledger when a token account does not exist yet.
	ErrAccountNotFound = errors.New("account not found")

	// ErrConcurrentUpdate is returned when a conditional update lost the race on the record version.
	ErrConcurrentUpdate = errors.New("concurrent update")

	// ErrLockHeld is returned when another worker holds the per-wager lock.
	ErrLockHeld = errors.New("lock already held")
)

// Validationf builds an ErrValidation with a caller-facing message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// CollaboratorError tags err as a collaborator failure for the named system.
func CollaboratorError(system string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrCollaborator, system, err)
}

// IsRetryable reports whether err is transient and the operation may be retried as-is.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrCollaborator),
		errors.Is(err, ErrConcurrentUpdate),
		errors.Is(err, ErrLockHeld),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}
