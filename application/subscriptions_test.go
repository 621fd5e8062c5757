package application

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"wagerbot/domain/testhelpers"
	"wagerbot/events"

	"github.com/stretchr/testify/mock"
)

func TestWagerNotifier_Handle(t *testing.T) {
	deadline := time.Date(2024, 5, 2, 18, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		event      events.Event
		recipients []string
		contains   string
	}{
		{
			name:       "joined notifies the others",
			event:      events.ParticipantJoinedEvent{WagerID: testWagerID, ParticipantID: "bob", Participants: []string{"alice", "bob"}, Activated: true},
			recipients: []string{"alice"},
			contains:   "bob joined wager " + testWagerID + ". The wager is now active.",
		},
		{
			name:       "joined with a claim",
			event:      events.ParticipantJoinedEvent{WagerID: testWagerID, ParticipantID: "bob", Claim: "it stays dry", Participants: []string{"alice", "bob"}},
			recipients: []string{"alice"},
			contains:   "bob joined wager " + testWagerID + " claiming: it stays dry.",
		},
		{
			name:       "deadline",
			event:      events.DeadlineSetEvent{WagerID: testWagerID, Deadline: deadline, Participants: []string{"alice", "bob"}},
			recipients: []string{"alice", "bob"},
			contains:   "will be checked at Thu, 02 May 2024 18:00:00 UTC",
		},
		{
			name:       "manual deadline",
			event:      events.DeadlineSetEvent{WagerID: testWagerID, Deadline: deadline, Manual: true, Participants: []string{"alice"}},
			recipients: []string{"alice"},
			contains:   "needs a manual outcome check",
		},
		{
			name:       "resolved",
			event:      events.WagerResolvedEvent{WagerID: testWagerID, Winner: "bob", Outcome: "It rained", Confidence: 0.85, Participants: []string{"alice", "bob"}},
			recipients: []string{"alice", "bob"},
			contains:   "Winner: bob (confidence 85%)",
		},
		{
			name:       "abandoned",
			event:      events.WagerAbandonedEvent{WagerID: testWagerID, Reason: AbandonReasonExpired, Participants: []string{"alice"}},
			recipients: []string{"alice"},
			contains:   "closed without a winner",
		},
		{
			name:       "settlement completed goes to the winner",
			event:      events.SettlementCompletedEvent{WagerID: testWagerID, Winner: "bob", Destination: testWallet, Amount: "61.5", PayoutSignature: "0xpaid", ConversionMocked: true},
			recipients: []string{"bob"},
			contains:   "61.5 USDC to " + testWallet,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := &testhelpers.MockNotifier{}
			for _, r := range tt.recipients {
				notifier.On("Deliver", mock.Anything, r, mock.MatchedBy(func(text string) bool {
					return strings.Contains(text, tt.contains)
				})).Return(nil).Once()
			}

			NewWagerNotifier(notifier, "USDC").Handle(context.Background(), tt.event)

			notifier.AssertExpectations(t)
			notifier.AssertNumberOfCalls(t, "Deliver", len(tt.recipients))
		})
	}
}

func TestWagerNotifier_SilentEvents(t *testing.T) {
	notifier := &testhelpers.MockNotifier{}
	n := NewWagerNotifier(notifier, "USDC")

	n.Handle(context.Background(), events.SettlementFailedEvent{WagerID: testWagerID, State: "swapped", Error: "rpc down"})
	n.Handle(context.Background(), events.WagerCreatedEvent{WagerID: testWagerID})

	notifier.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything, mock.Anything)
}

func TestWagerNotifier_DeliveryFailureDoesNotStopOthers(t *testing.T) {
	notifier := &testhelpers.MockNotifier{}
	notifier.On("Deliver", mock.Anything, "alice", mock.Anything).Return(errors.New("blocked")).Once()
	notifier.On("Deliver", mock.Anything, "bob", mock.Anything).Return(nil).Once()

	NewWagerNotifier(notifier, "USDC").Handle(context.Background(), events.WagerAbandonedEvent{
		WagerID:      testWagerID,
		Reason:       "cancelled",
		Participants: []string{"alice", "bob"},
	})

	notifier.AssertExpectations(t)
}

func TestRegisterApplicationSubscriptions(t *testing.T) {
	bus := events.NewBus()
	notifier := &testhelpers.MockNotifier{}
	notifier.On("Deliver", mock.Anything, "alice", mock.Anything).Return(nil).Once()

	RegisterApplicationSubscriptions(bus, NewWagerNotifier(notifier, "USDC"))
	bus.Emit(context.Background(), events.WagerResolvedEvent{WagerID: testWagerID, Winner: "alice", Participants: []string{"alice"}})
	bus.Wait()

	notifier.AssertExpectations(t)
}
