package tools

import "github.com/teodor/alva/internal/llm"

// ErrKind discriminates how a tool invocation failed. Failures are surfaced
// as textual results to the agent loop; they never abort a turn.
type ErrKind int

const (
	ErrNone ErrKind = iota
	// ErrToolNotFound: no registered tool under the requested name.
	ErrToolNotFound
	// ErrInvalidArguments: the payload didn't deserialize or validate
	// against the tool's schema.
	ErrInvalidArguments
	// ErrExecutionFailed: the handler itself returned an error.
	ErrExecutionFailed
)

// MessageSentConfirmation is the result text of a successful message_user
// call. The scheduler matches on it when relaying self-prompt outcomes: the
// message itself already reached the user directly.
const MessageSentConfirmation = "Sent message to user."

// Result is what a tool invocation hands back to the agent loop. Text is the
// compact machine-oriented result the model sees (the user-readable summary
// travels separately through the messaging side channel). Tools carries any
// newly unlocked second-layer schemas from a documentation fetch.
type Result struct {
	Text  string
	Err   ErrKind
	Tools []llm.Tool
}

// Failed reports whether the invocation produced an error of any kind.
func (r Result) Failed() bool {
	return r.Err != ErrNone
}
