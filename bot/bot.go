package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wagerbot/application"

	"github.com/bwmarrin/discordgo"
	log "github.com/sirupsen/logrus"
)

// UserIDPrefix namespaces Discord users so notifications route back through Discord
const UserIDPrefix = "discord:"

// discordMessageLimit is the longest message Discord accepts
const discordMessageLimit = 2000

// Config holds bot configuration
type Config struct {
	Token          string
	CommandTimeout time.Duration
}

// MessageHandler turns an inbound chat message into a reply
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg application.Message) string
}

// replier is the part of the Discord session the bot replies through
type replier interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Bot relays Discord messages to the command surface
type Bot struct {
	config  Config
	session *discordgo.Session
	handler MessageHandler
	replies replier
	selfID  string
}

// New opens the Discord gateway and starts relaying messages
func New(config Config, handler MessageHandler) (*Bot, error) {
	dg, err := discordgo.New("Bot " + config.Token)
	if err != nil {
		return nil, fmt.Errorf("error creating discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	bot := newBot(config, handler, dg)
	bot.session = dg

	dg.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		bot.selfID = r.User.ID
		log.WithField("username", r.User.Username).Info("Discord gateway ready")
	})
	dg.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		bot.handleMessage(context.Background(), m.Message)
	})

	if err := dg.Open(); err != nil {
		return nil, fmt.Errorf("error opening connection: %w", err)
	}

	return bot, nil
}

func newBot(config Config, handler MessageHandler, replies replier) *Bot {
	if config.CommandTimeout <= 0 {
		config.CommandTimeout = 2 * time.Minute
	}
	return &Bot{config: config, handler: handler, replies: replies}
}

// Close closes the gateway connection
func (b *Bot) Close() error {
	if b.session == nil {
		return nil
	}
	return b.session.Close()
}

func (b *Bot) handleMessage(ctx context.Context, m *discordgo.Message) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == b.selfID {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, b.config.CommandTimeout)
	defer cancel()

	reply := b.handler.HandleMessage(ctx, application.Message{
		UserID:   UserIDPrefix + m.Author.ID,
		Username: m.Author.Username,
		Text:     m.Content,
		IsGroup:  m.GuildID != "",
	})
	if reply == "" {
		return
	}

	for _, chunk := range splitMessage(reply, discordMessageLimit) {
		if _, err := b.replies.ChannelMessageSend(m.ChannelID, chunk, discordgo.WithContext(ctx)); err != nil {
			log.WithFields(log.Fields{
				"channelID": m.ChannelID,
				"error":     err,
			}).Error("Failed to send reply")
			return
		}
	}
}

// splitMessage breaks text on line boundaries into chunks no longer than limit
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	for _, line := range strings.SplitAfter(text, "\n") {
		for len(line) > limit {
			if current.Len() > 0 {
				chunks = append(chunks, current.String())
				current.Reset()
			}
			chunks = append(chunks, line[:limit])
			line = line[limit:]
		}
		if current.Len()+len(line) > limit {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}
