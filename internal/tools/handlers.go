package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/teodor/alva/internal/db"
	"github.com/teodor/alva/internal/memory"
	"github.com/teodor/alva/internal/messaging"
	"github.com/teodor/alva/internal/planera"
	"github.com/teodor/alva/internal/schedule"
)

type recurrenceArgs struct {
	Frequency string `json:"frequency"`
	Interval  int    `json:"interval"`
}

func (r *recurrenceArgs) toRecurrence() (*schedule.Recurrence, error) {
	if r == nil {
		return nil, nil
	}
	switch r.Frequency {
	case "daily", "weekly", "monthly", "yearly":
	default:
		return nil, argErrorf("unknown recurrence frequency %q", r.Frequency)
	}
	n := r.Interval
	if n <= 0 {
		n = 1
	}
	return &schedule.Recurrence{Freq: db.Frequency(r.Frequency), Interval: n}, nil
}

func entryRecurrence(e *db.ScheduleEntry) *schedule.Recurrence {
	if !e.Recurring() {
		return nil
	}
	return &schedule.Recurrence{Freq: *e.RecurFreq, Interval: *e.RecurInterval}
}

// notify sends a human-readable confirmation to the user outside the model
// context. Delivery failures are logged by the messenger path; the tool call
// itself already succeeded.
func (d *Dispatcher) notify(ctx context.Context, text, userID string) {
	_ = d.msg.Send(ctx, text, messaging.PriorityNormal, userID, false)
}

// Reminders

func (d *Dispatcher) createReminder(ctx context.Context, data json.RawMessage, userID string) (Result, error) {
	var args struct {
		TriggerAt  string          `json:"trigger_at"`
		Message    string          `json:"message"`
		Priority   string          `json:"priority"`
		Recurrence *recurrenceArgs `json:"recurrence"`
	}
	if err := decodeArgs(data, &args); err != nil {
		return Result{}, err
	}
	if args.TriggerAt == "" || args.Message == "" {
		return Result{}, argErrorf("trigger_at and message are required")
	}
	triggerAt, err := d.parseLocalTime(args.TriggerAt)
	if err != nil {
		return Result{}, err
	}
	rec, err := args.Recurrence.toRecurrence()
	if err != nil {
		return Result{}, err
	}

	id, err := d.schedule.CreateReminder(ctx, triggerAt, args.Message, messaging.ParsePriority(args.Priority), rec, userID)
	if err != nil {
		return Result{}, err
	}
	d.notify(ctx, fmt.Sprintf("Created reminder %d. %s", id, schedule.Describe(triggerAt, args.Message, rec, d.tz)), userID)
	return Result{Text: fmt.Sprintf("Created reminder with ID %d.", id)}, nil
}

func (d *Dispatcher) updateReminder(ctx context.Context, data json.RawMessage, userID string) (Result, error) {
	return d.updateEntry(ctx, data, userID, db.KindReminder)
}

func (d *Dispatcher) updateSelfPrompt(ctx context.Context, data json.RawMessage, userID string) (Result, error) {
	return d.updateEntry(ctx, data, userID, db.KindSelfPrompt)
}

func (d *Dispatcher) updateEntry(ctx context.Context, data json.RawMessage, userID string, kind db.ScheduleEntryKind) (Result, error) {
	var args struct {
		ID         int64           `json:"id"`
		TriggerAt  *string         `json:"trigger_at"`
		Message    *string         `json:"message"`
		Prompt     *string         `json:"prompt"`
		Priority   *string         `json:"priority"`
		Recurrence *recurrenceArgs `json:"recurrence"`
	}
	if err := decodeArgs(data, &args); err != nil {
		return Result{}, err
	}
	if args.ID == 0 {
		return Result{}, argErrorf("id is required")
	}

	var upd schedule.EntryUpdate
	if args.TriggerAt != nil {
		t, err := d.parseLocalTime(*args.TriggerAt)
		if err != nil {
			return Result{}, err
		}
		upd.TriggerAt = &t
	}
	if args.Message != nil {
		upd.Content = args.Message
	} else if args.Prompt != nil {
		upd.Content = args.Prompt
	}
	if args.Priority != nil {
		p := messaging.ParsePriority(*args.Priority)
		upd.Priority = &p
	}
	if args.Recurrence != nil {
		rec, err := args.Recurrence.toRecurrence()
		if err != nil {
			return Result{}, err
		}
		upd.Recurrence = rec
	}

	entry, err := d.schedule.Update(ctx, args.ID, kind, upd)
	if err != nil {
		return d.entryNotFound(err, kind, args.ID)
	}
	noun := entryNoun(kind)
	d.notify(ctx, fmt.Sprintf("Updated %s %d. %s", noun, entry.ID,
		schedule.Describe(entry.TriggerAt, entry.Content, entryRecurrence(entry), d.tz)), userID)
	return Result{Text: fmt.Sprintf("Updated %s %d.", noun, entry.ID)}, nil
}

func (d *Dispatcher) getReminders(ctx context.Context, _ json.RawMessage, _ string) (Result, error) {
	entries, err := d.schedule.ListReminders(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(entries) == 0 {
		return Result{Text: "There are no active reminders."}, nil
	}
	var b strings.Builder
	b.WriteString("Active reminders:")
	for i := range entries {
		e := &entries[i]
		fmt.Fprintf(&b, "\n- [%d] %s", e.ID, schedule.Describe(e.TriggerAt, e.Content, entryRecurrence(e), d.tz))
	}
	return Result{Text: b.String()}, nil
}

func (d *Dispatcher) removeReminder(ctx context.Context, data json.RawMessage, userID string) (Result, error) {
	return d.removeEntry(ctx, data, userID, db.KindReminder)
}

func (d *Dispatcher) deleteSelfPrompt(ctx context.Context, data json.RawMessage, userID string) (Result, error) {
	return d.removeEntry(ctx, data, userID, db.KindSelfPrompt)
}

func (d *Dispatcher) removeEntry(ctx context.Context, data json.RawMessage, userID string, kind db.ScheduleEntryKind) (Result, error) {
	var args struct {
		ID int64 `json:"id"`
	}
	if err := decodeArgs(data, &args); err != nil {
		return Result{}, err
	}
	if args.ID == 0 {
		return Result{}, argErrorf("id is required")
	}
	entry, err := d.schedule.Remove(ctx, args.ID, kind)
	if err != nil {
		return d.entryNotFound(err, kind, args.ID)
	}
	noun := entryNoun(kind)
	d.notify(ctx, fmt.Sprintf("Removed %s %d: '%s'", noun, entry.ID, entry.Content), userID)
	return Result{Text: fmt.Sprintf("Removed %s %d.", noun, entry.ID)}, nil
}

// entryNotFound keeps missing-ID failures in the model loop instead of
// escalating them to the user as execution failures.
func (d *Dispatcher) entryNotFound(err error, kind db.ScheduleEntryKind, id int64) (Result, error) {
	if errors.Is(err, db.ErrNotFound) {
		return Result{}, argErrorf("no %s with ID %d", entryNoun(kind), id)
	}
	return Result{}, err
}

func entryNoun(kind db.ScheduleEntryKind) string {
	if kind == db.KindSelfPrompt {
		return "self-prompt"
	}
	return "reminder"
}

// Autonomy

func (d *Dispatcher) scheduleSelfPrompt(ctx context.Context, data json.RawMessage, userID string) (Result, error) {
	var args struct {
		TriggerAt  string          `json:"trigger_at"`
		Prompt     string          `json:"prompt"`
		Recurrence *recurrenceArgs `json:"recurrence"`
	}
	if err := decodeArgs(data, &args); err != nil {
		return Result{}, err
	}
	if args.TriggerAt == "" || args.Prompt == "" {
		return Result{}, argErrorf("trigger_at and prompt are required")
	}
	triggerAt, err := d.parseLocalTime(args.TriggerAt)
	if err != nil {
		return Result{}, err
	}
	rec, err := args.Recurrence.toRecurrence()
	if err != nil {
		return Result{}, err
	}

	id, err := d.schedule.CreateSelfPrompt(ctx, triggerAt, args.Prompt, rec, userID)
	if err != nil {
		return Result{}, err
	}
	d.notify(ctx, fmt.Sprintf("Scheduled self-prompt %d. %s", id, schedule.Describe(triggerAt, args.Prompt, rec, d.tz)), userID)
	return Result{Text: fmt.Sprintf("Scheduled self-prompt with ID %d.", id)}, nil
}

func (d *Dispatcher) messageUser(ctx context.Context, data json.RawMessage, userID string) (Result, error) {
	var args struct {
		Message  string `json:"message"`
		Priority string `json:"priority"`
	}
	if err := decodeArgs(data, &args); err != nil {
		return Result{}, err
	}
	if args.Message == "" {
		return Result{}, argErrorf("message is required")
	}
	if err := d.msg.Send(ctx, args.Message, messaging.ParsePriority(args.Priority), userID, true); err != nil {
		return Result{}, err
	}
	return Result{Text: MessageSentConfirmation}, nil
}

func (d *Dispatcher) getToolDocs(_ context.Context, data json.RawMessage, _ string) (Result, error) {
	var args struct {
		Group string `json:"group"`
	}
	if err := decodeArgs(data, &args); err != nil {
		return Result{}, err
	}
	g := Group(args.Group)
	tools := ForGroup(g)
	if len(tools) == 0 {
		return Result{}, argErrorf("unknown tool group %q", args.Group)
	}
	return Result{
		Text:  fmt.Sprintf("Registered tool group '%s'. Its tools can now be called directly.", g),
		Tools: tools,
	}, nil
}

// Vector memory

func (d *Dispatcher) addUserMemory(ctx context.Context, data json.RawMessage, userID string) (Result, error) {
	return d.addMemory(ctx, data, db.ContextUserMemory)
}

func (d *Dispatcher) addAssistantMemory(ctx context.Context, data json.RawMessage, userID string) (Result, error) {
	return d.addMemory(ctx, data, db.ContextAssistantMemory)
}

// addMemory embeds once, reusing the vector for both the neighbour preview
// and the insert, then hands the neighbours back so the model can prune
// duplicates.
func (d *Dispatcher) addMemory(ctx context.Context, data json.RawMessage, kind db.EmbeddingContext) (Result, error) {
	var args struct {
		Content string `json:"content"`
	}
	if err := decodeArgs(data, &args); err != nil {
		return Result{}, err
	}
	if args.Content == "" {
		return Result{}, argErrorf("content is required")
	}

	vector, err := d.memory.Embed(ctx, args.Content)
	if err != nil {
		return Result{}, err
	}
	neighbors, err := d.memory.SearchVector(ctx, vector, memory.SearchOptions{Limit: 3})
	if err != nil {
		return Result{}, err
	}
	entry, err := d.memory.Add(ctx, kind, args.Content, nil, vector)
	if err != nil {
		return Result{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "New memory added with ID %d.", entry.ID)
	if len(neighbors) > 0 {
		b.WriteString(" Its closest existing memories are listed below; if the new memory duplicates one of them, remove the duplicate with remove_memory.\n")
		b.WriteString(formatMemories(neighbors, d))
	}
	return Result{Text: b.String()}, nil
}

func (d *Dispatcher) searchMemory(ctx context.Context, data json.RawMessage, _ string) (Result, error) {
	var args struct {
		Query        string `json:"query"`
		Context      string `json:"context"`
		IncludeStale bool   `json:"include_stale"`
		After        string `json:"after"`
		Before       string `json:"before"`
	}
	if err := decodeArgs(data, &args); err != nil {
		return Result{}, err
	}
	if args.Query == "" {
		return Result{}, argErrorf("query is required")
	}

	opts := memory.SearchOptions{Limit: 3, IncludeStale: args.IncludeStale}
	switch args.Context {
	case "":
	case string(db.ContextUserMemory), string(db.ContextAssistantMemory), string(db.ContextAssistantAction):
		opts.Context = db.EmbeddingContext(args.Context)
	default:
		return Result{}, argErrorf("unknown memory context %q", args.Context)
	}
	if args.After != "" {
		t, err := d.parseLocalTime(args.After)
		if err != nil {
			return Result{}, err
		}
		opts.After = t.UTC()
	}
	if args.Before != "" {
		t, err := d.parseLocalTime(args.Before)
		if err != nil {
			return Result{}, err
		}
		opts.Before = t.UTC()
	}

	entries, err := d.memory.Search(ctx, args.Query, opts)
	if err != nil {
		return Result{}, err
	}
	if len(entries) == 0 {
		return Result{Text: "No matching memories found."}, nil
	}
	return Result{Text: formatMemories(entries, d)}, nil
}

func formatMemories(entries []db.EmbeddingEntry, d *Dispatcher) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%d] (%s, %s", e.ID, e.Context, e.CreatedAt.In(d.tz).Format("2006-01-02 15:04"))
		if e.Stale {
			b.WriteString(", stale")
		}
		fmt.Fprintf(&b, ") %s", e.Content)
	}
	return b.String()
}

func (d *Dispatcher) updateMemory(ctx context.Context, data json.RawMessage, _ string) (Result, error) {
	var args struct {
		ID      int64  `json:"id"`
		Content string `json:"content"`
	}
	if err := decodeArgs(data, &args); err != nil {
		return Result{}, err
	}
	if args.ID == 0 || args.Content == "" {
		return Result{}, argErrorf("id and content are required")
	}
	if _, err := d.memory.Update(ctx, args.ID, args.Content); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return Result{}, argErrorf("no memory with ID %d", args.ID)
		}
		return Result{}, err
	}
	return Result{Text: fmt.Sprintf("Updated memory %d.", args.ID)}, nil
}

func (d *Dispatcher) removeMemory(ctx context.Context, data json.RawMessage, _ string) (Result, error) {
	var args struct {
		ID int64 `json:"id"`
	}
	if err := decodeArgs(data, &args); err != nil {
		return Result{}, err
	}
	if args.ID == 0 {
		return Result{}, argErrorf("id is required")
	}
	if _, err := d.memory.Remove(ctx, args.ID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return Result{}, argErrorf("no memory with ID %d", args.ID)
		}
		return Result{}, err
	}
	return Result{Text: fmt.Sprintf("Removed memory %d.", args.ID)}, nil
}

// Weather

func (d *Dispatcher) getWeather(ctx context.Context, data json.RawMessage, _ string) (Result, error) {
	if d.weather == nil {
		return Result{}, fmt.Errorf("weather is not configured")
	}
	var args struct {
		Location  string `json:"location"`
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
	}
	if err := decodeArgs(data, &args); err != nil {
		return Result{}, err
	}
	if args.Location == "" || args.StartDate == "" || args.EndDate == "" {
		return Result{}, argErrorf("location, start_date, and end_date are required")
	}
	start, err := d.parseLocalDate(args.StartDate)
	if err != nil {
		return Result{}, err
	}
	end, err := d.parseLocalDate(args.EndDate)
	if err != nil {
		return Result{}, err
	}

	report, err := d.weather.Fetch(ctx, args.Location, start, end)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: report}, nil
}

// Shopping list

func (d *Dispatcher) addToShoppingList(ctx context.Context, data json.RawMessage, userID string) (Result, error) {
	if d.planera == nil {
		return Result{}, fmt.Errorf("shopping list is not configured")
	}
	var args struct {
		Content string `json:"content"`
	}
	if err := decodeArgs(data, &args); err != nil {
		return Result{}, err
	}
	if args.Content == "" {
		return Result{}, argErrorf("content is required")
	}
	id, err := d.planera.CreateTicket(ctx, d.shoppingSlug, args.Content, "")
	if err != nil {
		return Result{}, err
	}
	d.notify(ctx, fmt.Sprintf("Added '%s' to the shopping list.", args.Content), userID)
	return Result{Text: fmt.Sprintf("Added shopping list item %d.", id)}, nil
}

func (d *Dispatcher) getShoppingList(ctx context.Context, _ json.RawMessage, _ string) (Result, error) {
	if d.planera == nil {
		return Result{}, fmt.Errorf("shopping list is not configured")
	}
	tickets, err := d.planera.Tickets(ctx, d.shoppingSlug, planera.FilterOpen)
	if err != nil {
		return Result{}, err
	}
	if len(tickets) == 0 {
		return Result{Text: "The shopping list is empty."}, nil
	}
	var b strings.Builder
	b.WriteString("Open shopping list items:")
	for _, t := range tickets {
		fmt.Fprintf(&b, "\n- [%d] %s", t.ID, t.Title)
	}
	return Result{Text: b.String()}, nil
}

// Home automation

func (d *Dispatcher) listSmartEntities(ctx context.Context, _ json.RawMessage, _ string) (Result, error) {
	if d.home == nil {
		return Result{}, fmt.Errorf("home automation is not configured")
	}
	lights, err := d.home.Lights(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(lights) == 0 {
		return Result{Text: "No light entities found."}, nil
	}
	body, err := json.Marshal(lights)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: string(body)}, nil
}

func (d *Dispatcher) controlLight(ctx context.Context, data json.RawMessage, _ string) (Result, error) {
	if d.home == nil {
		return Result{}, fmt.Errorf("home automation is not configured")
	}
	var args struct {
		EntityID       string `json:"entity_id"`
		On             bool   `json:"on"`
		BrightnessStep *int   `json:"brightness_step"`
		ColdnessStep   *int   `json:"coldness_step"`
	}
	if err := decodeArgs(data, &args); err != nil {
		return Result{}, err
	}
	if args.EntityID == "" {
		return Result{}, argErrorf("entity_id is required")
	}
	if err := d.home.ControlLight(ctx, args.EntityID, args.On, args.BrightnessStep, args.ColdnessStep); err != nil {
		return Result{}, err
	}
	return Result{Text: fmt.Sprintf("Updated light '%s'.", args.EntityID)}, nil
}

func (d *Dispatcher) resetLight(ctx context.Context, data json.RawMessage, _ string) (Result, error) {
	if d.home == nil {
		return Result{}, fmt.Errorf("home automation is not configured")
	}
	var args struct {
		EntityID string `json:"entity_id"`
	}
	if err := decodeArgs(data, &args); err != nil {
		return Result{}, err
	}
	if args.EntityID == "" {
		return Result{}, argErrorf("entity_id is required")
	}
	if err := d.home.ResetLight(ctx, args.EntityID); err != nil {
		return Result{}, err
	}
	return Result{Text: fmt.Sprintf("Reset light '%s'.", args.EntityID)}, nil
}
