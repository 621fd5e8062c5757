package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// discordSession is the part of *discordgo.Session used for direct messages
type discordSession interface {
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordSender sends direct messages through a bot session
type DiscordSender struct {
	session discordSession
}

// NewDiscordSender opens a REST-only bot session for the token
func NewDiscordSender(token string) (*DiscordSender, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	return &DiscordSender{session: session}, nil
}

// Send opens (or reuses) the DM channel with the user and posts the text
func (d *DiscordSender) Send(ctx context.Context, recipientID, text string) error {
	channel, err := d.session.UserChannelCreate(recipientID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: open DM channel: %w", err)
	}

	if _, err := d.session.ChannelMessageSend(channel.ID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

// Name returns the sender identifier
func (d *DiscordSender) Name() string {
	return "discord"
}
