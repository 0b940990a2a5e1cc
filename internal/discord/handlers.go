package discord

import (
	"context"
	"log"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/teodor/alva/internal/llm"
)

// Discord caps messages at 2000 characters.
const maxMessageLen = 2000

// fallbackFetch is how many prior channel messages seed a conversation the
// agent has no in-memory state for, e.g. after a restart.
const fallbackFetch = 4

func (b *Bot) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author.ID == s.State.User.ID || m.Author.Bot {
		return
	}

	// Only respond in DMs, the configured channel, or when mentioned.
	isDM := m.GuildID == ""
	isMentioned := false
	for _, u := range m.Mentions {
		if u.ID == s.State.User.ID {
			isMentioned = true
			break
		}
	}
	if !isDM && !isMentioned && m.ChannelID != b.channelID {
		return
	}

	content := strings.TrimSpace(stripMention(m.Content, s.State.User.ID))
	if content == "" {
		return
	}

	s.ChannelTyping(m.ChannelID)

	fallback := b.fallbackHistory(s, m)
	reply, _, err := b.agent.HandleTurn(context.Background(), content, m.Author.ID, fallback)
	if err != nil {
		log.Printf("discord: agent error: %v", err)
		s.ChannelMessageSend(m.ChannelID, "Something went wrong. Try again?")
		return
	}
	if reply == "" {
		return
	}

	for _, chunk := range splitMessage(reply, maxMessageLen) {
		if _, err := s.ChannelMessageSend(m.ChannelID, chunk); err != nil {
			log.Printf("discord: sending reply: %v", err)
			return
		}
	}
}

// fallbackHistory pulls the last few channel messages, oldest first, so a
// fresh conversation still has some context after a restart.
func (b *Bot) fallbackHistory(s *discordgo.Session, m *discordgo.MessageCreate) []llm.Message {
	prior, err := s.ChannelMessages(m.ChannelID, fallbackFetch, m.ID, "", "")
	if err != nil {
		log.Printf("discord: fetching fallback history: %v", err)
		return nil
	}

	// ChannelMessages returns newest first.
	var out []llm.Message
	for i := len(prior) - 1; i >= 0; i-- {
		msg := prior[i]
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		role := "user"
		if msg.Author.ID == s.State.User.ID {
			role = "assistant"
		}
		out = append(out, llm.Message{Role: role, Content: stripMention(msg.Content, s.State.User.ID)})
	}
	return out
}

func stripMention(s, userID string) string {
	s = strings.ReplaceAll(s, "<@"+userID+">", "")
	s = strings.ReplaceAll(s, "<@!"+userID+">", "")
	return s
}

func splitMessage(s string, maxLen int) []string {
	if len(s) <= maxLen {
		return []string{s}
	}
	var chunks []string
	for len(s) > 0 {
		end := maxLen
		if end > len(s) {
			end = len(s)
		}
		// Try to split at a newline
		if idx := strings.LastIndex(s[:end], "\n"); idx > 0 {
			end = idx + 1
		}
		chunks = append(chunks, s[:end])
		s = s[end:]
	}
	return chunks
}
