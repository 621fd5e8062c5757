package application

import (
	"context"
	"fmt"
	"time"

	"wagerbot/domain/interfaces"
	"wagerbot/events"

	log "github.com/sirupsen/logrus"
)

// WagerNotifier tells participants about changes to their wagers
type WagerNotifier struct {
	notifier    interfaces.Notifier
	payoutAsset string
	timeout     time.Duration
}

// NewWagerNotifier creates a new wager notifier
func NewWagerNotifier(notifier interfaces.Notifier, payoutAsset string) *WagerNotifier {
	return &WagerNotifier{notifier: notifier, payoutAsset: payoutAsset, timeout: 15 * time.Second}
}

// RegisterApplicationSubscriptions subscribes the notifier to every participant-facing event
func RegisterApplicationSubscriptions(bus *events.Bus, n *WagerNotifier) {
	for _, eventType := range []events.EventType{
		events.EventTypeParticipantJoined,
		events.EventTypeDeadlineSet,
		events.EventTypeWagerResolved,
		events.EventTypeWagerAbandoned,
		events.EventTypeSettlementCompleted,
		events.EventTypeSettlementFailed,
	} {
		bus.Subscribe(eventType, n.Handle)
	}
}

// Handle renders the event and delivers it once to each recipient
func (n *WagerNotifier) Handle(ctx context.Context, event events.Event) {
	recipients, text := n.render(event)
	if text == "" || len(recipients) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	for _, recipient := range recipients {
		if err := n.notifier.Deliver(ctx, recipient, text); err != nil {
			log.WithFields(log.Fields{
				"eventType": event.Type(),
				"recipient": recipient,
				"error":     err,
			}).Warn("Failed to notify participant")
		}
	}
}

func (n *WagerNotifier) render(event events.Event) ([]string, string) {
	switch e := event.(type) {
	case events.ParticipantJoinedEvent:
		text := fmt.Sprintf("%s joined wager %s.", e.ParticipantID, e.WagerID)
		if e.Claim != "" {
			text = fmt.Sprintf("%s joined wager %s claiming: %s.", e.ParticipantID, e.WagerID, e.Claim)
		}
		if e.Activated {
			text += " The wager is now active."
		}
		return others(e.Participants, e.ParticipantID), text

	case events.DeadlineSetEvent:
		if e.Manual {
			return e.Participants, fmt.Sprintf("Wager %s needs a manual outcome check. Use /check_outcome %s <outcome> once it is known.", e.WagerID, e.WagerID)
		}
		return e.Participants, fmt.Sprintf("The outcome of wager %s will be checked at %s.", e.WagerID, e.Deadline.UTC().Format(time.RFC1123))

	case events.WagerResolvedEvent:
		return e.Participants, fmt.Sprintf("Wager %s has been resolved. Winner: %s (confidence %.0f%%).\n%s",
			e.WagerID, e.Winner, e.Confidence*100, e.Outcome)

	case events.WagerAbandonedEvent:
		return e.Participants, fmt.Sprintf("Wager %s was closed without a winner: %s", e.WagerID, e.Reason)

	case events.SettlementCompletedEvent:
		text := fmt.Sprintf("Your winnings from wager %s have been paid: %s %s to %s.\nTransaction: %s",
			e.WagerID, e.Amount, n.payoutAsset, e.Destination, e.PayoutSignature)
		if e.ConversionMocked {
			text += "\nThe conversion was simulated because the provider was unavailable in this region."
		}
		return []string{e.Winner}, text

	case events.SettlementFailedEvent:
		log.WithFields(log.Fields{
			"wagerID": e.WagerID,
			"state":   e.State,
			"error":   e.Error,
		}).Warn("Settlement stopped before payout")
		return nil, ""
	}
	return nil, ""
}

func others(participants []string, except string) []string {
	out := make([]string, 0, len(participants))
	for _, p := range participants {
		if p != except {
			out = append(out, p)
		}
	}
	return out
}
