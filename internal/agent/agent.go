// Package agent runs the tool-calling loop that turns user messages and
// fired self-prompts into model conversations with bounded history.
package agent

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/teodor/alva/internal/llm"
	"github.com/teodor/alva/internal/tools"
)

const (
	// maxToolRounds bounds model round trips within one turn.
	maxToolRounds = 10
	// maxConsecutiveErrors aborts a turn after this many provider failures
	// in a row. Successful calls reset the counter.
	maxConsecutiveErrors = 3
)

// ToolExecutor runs one tool call. Failures come back inside the Result,
// never as panics or aborts of the surrounding turn.
type ToolExecutor interface {
	Execute(ctx context.Context, call llm.ToolCall, userID string) tools.Result
}

type Agent struct {
	client    llm.Client
	exec      ToolExecutor
	userLimit int
	now       func() time.Time

	mu    sync.Mutex
	convs map[string]*conversation
}

// New builds an agent that keeps at most historyUserLimit user messages per
// conversation.
func New(client llm.Client, exec ToolExecutor, historyUserLimit int) *Agent {
	if historyUserLimit <= 0 {
		historyUserLimit = 10
	}
	return &Agent{
		client:    client,
		exec:      exec,
		userLimit: historyUserLimit,
		now:       time.Now,
		convs:     map[string]*conversation{},
	}
}

func (a *Agent) conversation(userID string) *conversation {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.convs[userID]
	if !ok {
		c = newConversation(a.userLimit)
		a.convs[userID] = c
	}
	return c
}

// HandleTurn processes one user message and returns the model's final text
// along with the number of tool calls executed. fallback seeds a brand-new
// conversation with prior transport history, oldest first; it is ignored once
// the conversation has in-memory state.
func (a *Agent) HandleTurn(ctx context.Context, message, userID string, fallback []llm.Message) (string, int, error) {
	conv := a.conversation(userID)
	conv.mu.Lock()
	defer conv.mu.Unlock()

	if !conv.seeded {
		conv.seeded = true
		if len(conv.messages) == 0 && len(fallback) > 0 {
			conv.messages = append(conv.messages, fallback...)
		}
	}
	conv.drainNotes()

	if added := conv.registerGroups(tools.PredictGroups(message)); len(added) > 0 {
		conv.append(llm.Message{Role: "system", Content: "Added second layer tool groups: " + joinGroups(added) + "."})
	}

	conv.append(llm.Message{Role: "user", Content: message})
	conv.evict()

	return a.runLoop(ctx, conv, userID)
}

// HandleSelfPrompt runs a fired self-prompt in a fresh, throwaway
// conversation and returns the text of every tool result the run produced,
// in execution order. An empty result means the model took no action; the
// caller surfaces that, since the conversation itself is invisible to the
// user.
func (a *Agent) HandleSelfPrompt(ctx context.Context, prompt, userID string) ([]string, error) {
	conv := newConversation(a.userLimit)
	conv.registerGroups(tools.PredictGroups(prompt))
	conv.append(llm.Message{Role: "user", Content: llm.SelfPromptMessage(prompt)})

	conv.mu.Lock()
	defer conv.mu.Unlock()
	_, _, err := a.runLoop(ctx, conv, userID)

	var outputs []string
	for _, m := range conv.messages {
		if m.Role == "user" && m.ToolCallID != "" {
			outputs = append(outputs, m.Content)
		}
	}
	return outputs, err
}

// RecordAssistantNote records text as an assistant message without a model
// round trip. The messenger uses it so out-of-band messages the model sent
// stay visible in later turns. Notes are queued, never appended directly:
// the messenger calls this from inside tool execution, while the turn holds
// the conversation lock.
func (a *Agent) RecordAssistantNote(userID, text string) {
	a.conversation(userID).addNote(text)
}

// runLoop drives the model until it stops asking for tools, a round or error
// bound is hit, or the context dies. The caller holds conv.mu.
func (a *Agent) runLoop(ctx context.Context, conv *conversation, userID string) (string, int, error) {
	systemPrompt := llm.BuildSystemPrompt(a.now())
	toolCalls := 0
	consecutiveErrors := 0

	// Provider-error retries don't consume a round; the error counter bounds
	// them instead.
	for rounds := 0; rounds < maxToolRounds; rounds++ {
		resp, err := a.client.Chat(ctx, systemPrompt, conv.messages, conv.tools())
		if err != nil {
			if ctx.Err() != nil {
				return "", toolCalls, ctx.Err()
			}
			consecutiveErrors++
			log.Printf("agent: chat failed (%d/%d): %v", consecutiveErrors, maxConsecutiveErrors, err)
			if consecutiveErrors >= maxConsecutiveErrors {
				text := fmt.Sprintf("Something went wrong while I was thinking; I gave up after %d attempts. I completed %d tool call(s) before that.",
					maxConsecutiveErrors, toolCalls)
				conv.append(llm.Message{Role: "assistant", Content: text})
				return text, toolCalls, nil
			}
			conv.append(llm.Message{Role: "system", Content: fmt.Sprintf("System error: %v", err)})
			rounds--
			continue
		}
		consecutiveErrors = 0

		if !resp.WantsTools() {
			conv.append(llm.Message{Role: "assistant", Content: resp.Content})
			conv.evict()
			return resp.Content, toolCalls, nil
		}

		conv.append(llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			res := a.exec.Execute(ctx, tc, userID)
			toolCalls++
			log.Printf("agent: tool %s → %s", tc.Name, truncate(res.Text, 200))
			if len(res.Tools) > 0 {
				conv.addTools(res.Tools)
			}
			conv.append(llm.Message{
				Role:       "user",
				Content:    res.Text,
				ToolCallID: tc.ID,
			})
		}
		conv.drainNotes()
	}

	text := "I hit the maximum number of tool calls for one turn. Here's where I stopped."
	conv.append(llm.Message{Role: "assistant", Content: text})
	conv.evict()
	return text, toolCalls, nil
}

func joinGroups(gs []tools.Group) string {
	names := make([]string, len(gs))
	for i, g := range gs {
		names[i] = string(g)
	}
	return strings.Join(names, ", ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
