package events

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventTypeWagerCreated        EventType = "wager_created"
	EventTypeParticipantJoined   EventType = "participant_joined"
	EventTypeDeadlineSet         EventType = "deadline_set"
	EventTypeWagerResolved       EventType = "wager_resolved"
	EventTypeWagerAbandoned      EventType = "wager_abandoned"
	EventTypeSettlementCompleted EventType = "settlement_completed"
	EventTypeSettlementFailed    EventType = "settlement_failed"
)

// AllEventTypes lists every event the engine emits
var AllEventTypes = []EventType{
	EventTypeWagerCreated,
	EventTypeParticipantJoined,
	EventTypeDeadlineSet,
	EventTypeWagerResolved,
	EventTypeWagerAbandoned,
	EventTypeSettlementCompleted,
	EventTypeSettlementFailed,
}

// Event is the base interface for all events
type Event interface {
	Type() EventType
}

// WagerCreatedEvent represents a new pending wager with its escrow address
type WagerCreatedEvent struct {
	WagerID       string `json:"wager_id"`
	CreatorID     string `json:"creator_id"`
	Description   string `json:"description"`
	Amount        string `json:"amount"`
	Asset         string `json:"asset"`
	EscrowAddress string `json:"escrow_address"`
}

func (e WagerCreatedEvent) Type() EventType {
	return EventTypeWagerCreated
}

// ParticipantJoinedEvent represents a participant enrolling in a wager
type ParticipantJoinedEvent struct {
	WagerID       string   `json:"wager_id"`
	ParticipantID string   `json:"participant_id"`
	Claim         string   `json:"claim,omitempty"`
	Participants  []string `json:"participants"`
	Activated     bool     `json:"activated"`
}

func (e ParticipantJoinedEvent) Type() EventType {
	return EventTypeParticipantJoined
}

// DeadlineSetEvent represents a deadline being assigned or overwritten
type DeadlineSetEvent struct {
	WagerID      string    `json:"wager_id"`
	Deadline     time.Time `json:"deadline"`
	Manual       bool      `json:"manual"`
	Participants []string  `json:"participants"`
}

func (e DeadlineSetEvent) Type() EventType {
	return EventTypeDeadlineSet
}

// WagerResolvedEvent represents a wager that was resolved with a verified outcome
type WagerResolvedEvent struct {
	WagerID      string   `json:"wager_id"`
	Winner       string   `json:"winner"`
	Outcome      string   `json:"outcome"`
	Confidence   float64  `json:"confidence"`
	Participants []string `json:"participants"`
}

func (e WagerResolvedEvent) Type() EventType {
	return EventTypeWagerResolved
}

// WagerAbandonedEvent represents a wager closed without a winner
type WagerAbandonedEvent struct {
	WagerID      string   `json:"wager_id"`
	Reason       string   `json:"reason"`
	Participants []string `json:"participants"`
}

func (e WagerAbandonedEvent) Type() EventType {
	return EventTypeWagerAbandoned
}

// SettlementCompletedEvent represents a delivered payout
type SettlementCompletedEvent struct {
	WagerID          string `json:"wager_id"`
	Winner           string `json:"winner"`
	Destination      string `json:"destination"`
	Amount           string `json:"amount"`
	PayoutSignature  string `json:"payout_signature"`
	ConversionMocked bool   `json:"conversion_mocked"`
}

func (e SettlementCompletedEvent) Type() EventType {
	return EventTypeSettlementCompleted
}

// SettlementFailedEvent represents a settlement attempt that stopped before payout
type SettlementFailedEvent struct {
	WagerID string `json:"wager_id"`
	State   string `json:"state"`
	Error   string `json:"error"`
}

func (e SettlementFailedEvent) Type() EventType {
	return EventTypeSettlementFailed
}

// Handler is a function that handles events
type Handler func(ctx context.Context, event Event)

// Bus manages event subscriptions and dispatching
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	wg       sync.WaitGroup
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe adds a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)

	log.WithFields(log.Fields{
		"eventType":    eventType,
		"handlerCount": len(b.handlers[eventType]),
	}).Debug("Subscribed handler to event type")
}

// Emit publishes an event to all registered handlers
func (b *Bus) Emit(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[event.Type()]))
	copy(handlers, b.handlers[event.Type()])
	b.mu.RUnlock()

	log.WithFields(log.Fields{
		"eventType":    event.Type(),
		"handlerCount": len(handlers),
	}).Debug("Emitting event to handlers")

	// Call handlers asynchronously to avoid blocking
	for i, handler := range handlers {
		b.wg.Add(1)
		go func(h Handler, handlerIndex int) {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(log.Fields{
						"eventType":    event.Type(),
						"handlerIndex": handlerIndex,
						"panic":        r,
					}).Error("Event handler panicked")
				}
			}()
			h(ctx, event)
		}(handler, i)
	}
}

// Publish emits the event detached from the caller's context so handlers outlive the request
func (b *Bus) Publish(event Event) error {
	b.Emit(context.Background(), event)
	return nil
}

// Wait blocks until every handler started so far has returned
func (b *Bus) Wait() {
	b.wg.Wait()
}
