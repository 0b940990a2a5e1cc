// Package messaging defines the outbound-message boundary the core talks
// through. The Discord transport implements it; tests use fakes.
package messaging

import "context"

// Priority controls how loudly a message is delivered. Ping mentions the
// user so the message is seen the same day.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityPing   Priority = "ping"
)

// ParsePriority maps a tool-call string to a Priority, defaulting to normal.
func ParsePriority(s string) Priority {
	if s == string(PriorityPing) {
		return PriorityPing
	}
	return PriorityNormal
}

// Service sends messages to the user outside the request/response cycle.
//
// When includeInContext is true, the sent text is also recorded in the agent's
// conversation history as an assistant message, so the model stays aware of
// out-of-band notices it caused.
type Service interface {
	Send(ctx context.Context, text string, priority Priority, userID string, includeInContext bool) error
}
