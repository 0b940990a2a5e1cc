// Package discord is the transport: it receives user messages, feeds them to
// the agent, and implements the outbound messaging service.
package discord

import (
	"context"
	"fmt"
	"log"

	"github.com/bwmarrin/discordgo"

	"github.com/teodor/alva/internal/llm"
	"github.com/teodor/alva/internal/messaging"
)

// Agent is the slice of the agent the transport needs.
type Agent interface {
	HandleTurn(ctx context.Context, message, userID string, fallback []llm.Message) (string, int, error)
	RecordAssistantNote(userID, text string)
}

type Bot struct {
	session   *discordgo.Session
	agent     Agent
	channelID string // default channel for outbound messages
}

func NewBot(token, channelID string, ag Agent) (*Bot, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("creating Discord session: %w", err)
	}

	bot := &Bot{session: s, agent: ag, channelID: channelID}
	s.AddHandler(bot.onMessage)
	s.Identify.Intents = discordgo.IntentsDirectMessages | discordgo.IntentsGuildMessages | discordgo.IntentMessageContent

	if err := s.Open(); err != nil {
		return nil, fmt.Errorf("opening Discord connection: %w", err)
	}

	log.Printf("Discord bot connected as %s", s.State.User.Username)
	return bot, nil
}

func (b *Bot) Close() {
	b.session.Close()
}

// Send implements messaging.Service. Ping-priority messages mention the user
// so Discord notifies them.
func (b *Bot) Send(_ context.Context, text string, priority messaging.Priority, userID string, includeInContext bool) error {
	content := text
	if priority == messaging.PriorityPing && userID != "" {
		content = "<@" + userID + "> " + text
	}
	for _, chunk := range splitMessage(content, maxMessageLen) {
		if _, err := b.session.ChannelMessageSend(b.channelID, chunk); err != nil {
			return fmt.Errorf("sending message: %w", err)
		}
	}
	if includeInContext {
		b.agent.RecordAssistantNote(userID, text)
	}
	return nil
}
