package infrastructure

import (
	"fmt"

	"wagerbot/events"
)

// WagerEventStream is the JetStream stream holding every wager event
const WagerEventStream = "wager_events"

var subjectsByType = map[events.EventType]string{
	events.EventTypeWagerCreated:        "wagers.created",
	events.EventTypeParticipantJoined:   "wagers.participant_joined",
	events.EventTypeDeadlineSet:         "wagers.deadline_set",
	events.EventTypeWagerResolved:       "wagers.resolved",
	events.EventTypeWagerAbandoned:      "wagers.abandoned",
	events.EventTypeSettlementCompleted: "settlements.completed",
	events.EventTypeSettlementFailed:    "settlements.failed",
}

// EventSubjectMapper handles mapping between domain events and NATS subjects
type EventSubjectMapper struct{}

// NewEventSubjectMapper creates a new event subject mapper
func NewEventSubjectMapper() *EventSubjectMapper {
	return &EventSubjectMapper{}
}

// MapEventToSubject converts a domain event to its corresponding NATS subject
func (m *EventSubjectMapper) MapEventToSubject(event events.Event) string {
	if subject, ok := subjectsByType[event.Type()]; ok {
		return subject
	}
	return fmt.Sprintf("unknown.%s", event.Type())
}

// GetAllSubjects returns all subjects that this service publishes to
func (m *EventSubjectMapper) GetAllSubjects() []string {
	subjects := make([]string, 0, len(events.AllEventTypes))
	for _, eventType := range events.AllEventTypes {
		subjects = append(subjects, subjectsByType[eventType])
	}
	return subjects
}
