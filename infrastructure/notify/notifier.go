// Package notify delivers wager notifications to chat identities over Discord and Telegram.
package notify

import (
	"context"
	"strings"

	"wagerbot/domain"
	"wagerbot/domain/interfaces"

	log "github.com/sirupsen/logrus"
)

// Sender delivers text to one identity on a single chat network
type Sender interface {
	Send(ctx context.Context, recipientID, text string) error
	Name() string
}

// Notifier routes a recipient of the form "<network>:<id>" to the matching sender.
// A recipient without a network prefix goes to the default sender.
type Notifier struct {
	senders       map[string]Sender
	defaultSender string
}

// NewNotifier creates a Notifier over the given senders; the first one is the default
func NewNotifier(senders ...Sender) *Notifier {
	n := &Notifier{senders: make(map[string]Sender, len(senders))}
	for _, s := range senders {
		if s == nil {
			continue
		}
		if n.defaultSender == "" {
			n.defaultSender = s.Name()
		}
		n.senders[s.Name()] = s
	}
	return n
}

var _ interfaces.Notifier = (*Notifier)(nil)

// Deliver sends text once; failures are returned and never retried here
func (n *Notifier) Deliver(ctx context.Context, recipient string, text string) error {
	network, id := n.route(recipient)
	sender, ok := n.senders[network]
	if !ok {
		log.WithFields(log.Fields{
			"recipient": recipient,
			"network":   network,
		}).Debug("No sender configured for recipient, dropping notification")
		return nil
	}
	if id == "" {
		return domain.Validationf("empty recipient")
	}

	if err := sender.Send(ctx, id, text); err != nil {
		log.WithFields(log.Fields{
			"sender":    sender.Name(),
			"recipient": id,
			"error":     err,
		}).Error("Failed to deliver notification")
		return domain.CollaboratorError(sender.Name(), err)
	}

	log.WithFields(log.Fields{
		"sender":    sender.Name(),
		"recipient": id,
	}).Debug("Notification delivered")
	return nil
}

func (n *Notifier) route(recipient string) (string, string) {
	if network, id, ok := strings.Cut(recipient, ":"); ok {
		if _, known := n.senders[network]; known {
			return network, id
		}
	}
	return n.defaultSender, recipient
}
