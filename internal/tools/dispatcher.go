// Package tools defines the model-facing tool catalogue and executes tool
// calls against the backing services.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/teodor/alva/internal/home"
	"github.com/teodor/alva/internal/llm"
	"github.com/teodor/alva/internal/memory"
	"github.com/teodor/alva/internal/messaging"
	"github.com/teodor/alva/internal/planera"
	"github.com/teodor/alva/internal/schedule"
	"github.com/teodor/alva/internal/weather"
)

type handlerFunc func(ctx context.Context, args json.RawMessage, userID string) (Result, error)

// Dispatcher routes tool calls to handlers. Execution failures never
// propagate as errors to the caller; they come back as Results the agent
// loop feeds to the model, plus a fenced notice to the user for handler
// failures.
type Dispatcher struct {
	schedule *schedule.Service
	memory   *memory.Store
	msg      messaging.Service
	weather  *weather.Client
	planera  *planera.Client
	home     *home.Client

	shoppingSlug string
	tz           *time.Location

	handlers map[string]handlerFunc
}

// Deps carries the services the tool handlers call into. Weather, Planera,
// and Home may be nil when unconfigured; their tools then fail at call time.
type Deps struct {
	Schedule  *schedule.Service
	Memory    *memory.Store
	Messenger messaging.Service
	Weather   *weather.Client
	Planera   *planera.Client
	Home      *home.Client

	ShoppingSlug string
	Timezone     *time.Location
}

func NewDispatcher(deps Deps) *Dispatcher {
	tz := deps.Timezone
	if tz == nil {
		tz = time.Local
	}
	d := &Dispatcher{
		schedule:     deps.Schedule,
		memory:       deps.Memory,
		msg:          deps.Messenger,
		weather:      deps.Weather,
		planera:      deps.Planera,
		home:         deps.Home,
		shoppingSlug: deps.ShoppingSlug,
		tz:           tz,
	}
	d.handlers = map[string]handlerFunc{
		"create_reminder": d.createReminder,
		"get_reminders":   d.getReminders,
		"update_reminder": d.updateReminder,
		"remove_reminder": d.removeReminder,

		"add_user_memory":      d.addUserMemory,
		"add_assistant_memory": d.addAssistantMemory,
		"search_memory":        d.searchMemory,
		"update_memory":        d.updateMemory,
		"remove_memory":        d.removeMemory,

		"schedule_self_prompt": d.scheduleSelfPrompt,
		"update_self_prompt":   d.updateSelfPrompt,
		"delete_self_prompt":   d.deleteSelfPrompt,
		"message_user":         d.messageUser,
		"get_tool_docs":        d.getToolDocs,

		"get_weather": d.getWeather,

		"add_to_shopping_list": d.addToShoppingList,
		"get_shopping_list":    d.getShoppingList,

		"list_smart_entities": d.listSmartEntities,
		"control_light":       d.controlLight,
		"reset_light":         d.resetLight,
	}
	return d
}

// Execute runs a single tool call and shapes any failure into a Result the
// model can react to. Handler failures additionally notify the user through
// the messaging side channel so silent breakage doesn't go unnoticed.
func (d *Dispatcher) Execute(ctx context.Context, call llm.ToolCall, userID string) Result {
	h, ok := d.handlers[call.Name]
	if !ok {
		return Result{Text: fmt.Sprintf("Tool not found: %q.", call.Name), Err: ErrToolNotFound}
	}

	res, err := h(ctx, call.Args, userID)
	if err == nil {
		return res
	}

	var bad *argError
	if errors.As(err, &bad) {
		return Result{
			Text: fmt.Sprintf("Failed to deserialise tool call: %s.", bad.msg),
			Err:  ErrInvalidArguments,
		}
	}

	log.Printf("tools: %s failed: %v", call.Name, err)
	notice := fmt.Sprintf("Failed to execute tool %s:\n```\n%v\n```", call.Name, err)
	if sendErr := d.msg.Send(ctx, notice, messaging.PriorityNormal, userID, false); sendErr != nil {
		log.Printf("tools: failure notice for %s: %v", call.Name, sendErr)
	}
	return Result{Text: fmt.Sprintf("Call failed: '%v'.", err), Err: ErrExecutionFailed}
}

// argError marks a payload that didn't decode or validate. These come back
// to the model as-is and never trigger a user notice.
type argError struct {
	msg string
}

func (e *argError) Error() string { return e.msg }

func argErrorf(format string, args ...any) error {
	return &argError{msg: fmt.Sprintf(format, args...)}
}

func decodeArgs(data json.RawMessage, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return argErrorf("%v", err)
	}
	return nil
}

// parseLocalTime accepts the datetime shapes models actually produce and
// interprets zone-less ones in the configured timezone.
func (d *Dispatcher) parseLocalTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04", "2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, s, d.tz); err == nil {
			return t, nil
		}
	}
	return time.Time{}, argErrorf("unrecognised datetime %q, expected 'YYYY-MM-DD HH:MM'", s)
}

func (d *Dispatcher) parseLocalDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", s, d.tz)
	if err != nil {
		return time.Time{}, argErrorf("unrecognised date %q, expected 'YYYY-MM-DD'", s)
	}
	return t, nil
}
