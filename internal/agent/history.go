package agent

import (
	"sync"

	"github.com/teodor/alva/internal/llm"
	"github.com/teodor/alva/internal/tools"
)

// conversation is the per-user dialogue state: the bounded message history
// plus the second-layer tool groups registered so far this session.
type conversation struct {
	mu        sync.Mutex
	messages  []llm.Message
	userLimit int
	seeded    bool

	// Assistant notes queue under their own lock: the messenger records them
	// from inside tool calls, while the turn still holds mu.
	noteMu sync.Mutex
	notes  []string

	groups     map[tools.Group]bool
	extraTools []llm.Tool
}

func newConversation(userLimit int) *conversation {
	return &conversation{
		userLimit: userLimit,
		groups:    map[tools.Group]bool{},
	}
}

func (c *conversation) append(m llm.Message) {
	c.messages = append(c.messages, m)
}

// addNote queues an assistant note without touching mu, so it is safe to
// call while a turn is running.
func (c *conversation) addNote(text string) {
	c.noteMu.Lock()
	c.notes = append(c.notes, text)
	c.noteMu.Unlock()
}

// drainNotes moves queued notes into the history as assistant messages.
// Caller holds mu.
func (c *conversation) drainNotes() {
	c.noteMu.Lock()
	notes := c.notes
	c.notes = nil
	c.noteMu.Unlock()
	for _, n := range notes {
		c.append(llm.Message{Role: "assistant", Content: n})
	}
}

// isUserTurn distinguishes real user messages from tool results, which also
// travel under the user role.
func isUserTurn(m llm.Message) bool {
	return m.Role == "user" && m.ToolCallID == ""
}

// evict drops the oldest messages, regardless of role, until at most
// userLimit real user messages remain. Once anything is dropped it keeps
// dropping up to the oldest surviving user message, so the history never
// opens with an orphaned tool result or dangling note.
func (c *conversation) evict() {
	count := 0
	for _, m := range c.messages {
		if isUserTurn(m) {
			count++
		}
	}
	i := 0
	for count > c.userLimit && i < len(c.messages) {
		if isUserTurn(c.messages[i]) {
			count--
		}
		i++
	}
	if i == 0 {
		return
	}
	for i < len(c.messages) && !isUserTurn(c.messages[i]) {
		i++
	}
	c.messages = append([]llm.Message(nil), c.messages[i:]...)
}

// registerGroups unlocks second-layer groups and returns the ones that were
// newly added.
func (c *conversation) registerGroups(groups []tools.Group) []tools.Group {
	var added []tools.Group
	for _, g := range groups {
		if c.groups[g] {
			continue
		}
		c.groups[g] = true
		c.extraTools = append(c.extraTools, tools.ForGroup(g)...)
		added = append(added, g)
	}
	return added
}

// addTools merges tool schemas returned by a documentation fetch, skipping
// ones already registered.
func (c *conversation) addTools(ts []llm.Tool) {
	known := map[string]bool{}
	for _, t := range c.extraTools {
		known[t.Name] = true
	}
	for _, t := range ts {
		if !known[t.Name] {
			c.extraTools = append(c.extraTools, t)
		}
	}
}

// tools returns the catalogue for the next model call: the first layer plus
// everything unlocked in this conversation.
func (c *conversation) tools() []llm.Tool {
	out := tools.FirstLayer()
	return append(out, c.extraTools...)
}
