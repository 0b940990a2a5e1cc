package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/teodor/alva/internal/db"
	"github.com/teodor/alva/internal/memory"
	"github.com/teodor/alva/internal/messaging"
	"github.com/teodor/alva/internal/tools"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text))}, nil
}

type sentMessage struct {
	Text             string
	Priority         messaging.Priority
	UserID           string
	IncludeInContext bool
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
	gate chan struct{} // when set, Send blocks until the gate closes
}

func (m *fakeMessenger) Send(_ context.Context, text string, priority messaging.Priority, userID string, includeInContext bool) error {
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMessage{text, priority, userID, includeInContext})
	return nil
}

func (m *fakeMessenger) messages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.sent...)
}

type fakePrompter struct {
	mu      sync.Mutex
	prompts []string
	outputs []string
	err     error
}

func (p *fakePrompter) HandleSelfPrompt(_ context.Context, prompt, _ string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, prompt)
	return p.outputs, p.err
}

var sweepTime = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T) (*Scheduler, *fakeMessenger, *fakePrompter, *db.DB, *memory.Store) {
	t.Helper()
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	store := memory.New(database, fakeEmbedder{})
	msg := &fakeMessenger{}
	prompter := &fakePrompter{outputs: []string{tools.MessageSentConfirmation}}
	s := New(database, store, msg, prompter, 20*time.Second)
	s.now = func() time.Time { return sweepTime }
	return s, msg, prompter, database, store
}

func addEntry(t *testing.T, database *db.DB, store *memory.Store, e db.ScheduleEntry) int64 {
	t.Helper()
	id, err := database.CreateScheduleEntry(&e)
	if err != nil {
		t.Fatalf("creating entry: %v", err)
	}
	_, err = store.Add(context.Background(), db.ContextAssistantAction,
		"Scheduled: "+e.Content, &memory.Ref{Kind: memory.RelatedKindSchedule, ID: id}, nil)
	if err != nil {
		t.Fatalf("creating memory record: %v", err)
	}
	return id
}

func TestSweepDeactivatesOneShotReminder(t *testing.T) {
	s, msg, _, database, store := newTestScheduler(t)
	id := addEntry(t, database, store, db.ScheduleEntry{
		TriggerAt: sweepTime.Add(-time.Minute),
		Content:   "water the plants",
		Kind:      db.KindReminder,
		Priority:  messaging.PriorityPing,
		UserID:    "u1",
	})

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	sent := msg.messages()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	if sent[0].Text != "water the plants" || sent[0].Priority != messaging.PriorityPing || !sent[0].IncludeInContext {
		t.Errorf("sent = %+v", sent[0])
	}

	entry, err := database.GetScheduleEntry(id)
	if err != nil {
		t.Fatalf("reloading entry: %v", err)
	}
	if entry.Active {
		t.Error("one-shot entry still active after firing")
	}
}

func TestSweepAdvancesRecurringEntry(t *testing.T) {
	s, _, _, database, store := newTestScheduler(t)
	freq := db.FreqDaily
	interval := 1
	// Three days overdue: a single advance would still be in the past.
	id := addEntry(t, database, store, db.ScheduleEntry{
		TriggerAt:     sweepTime.AddDate(0, 0, -3),
		Content:       "stretch",
		Kind:          db.KindReminder,
		UserID:        "u1",
		RecurFreq:     &freq,
		RecurInterval: &interval,
	})

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	entry, err := database.GetScheduleEntry(id)
	if err != nil {
		t.Fatalf("reloading entry: %v", err)
	}
	if !entry.Active {
		t.Error("recurring entry deactivated")
	}
	want := sweepTime.AddDate(0, 0, 1)
	if !entry.TriggerAt.Equal(want) {
		t.Errorf("trigger_at = %v, want %v", entry.TriggerAt, want)
	}
}

func TestSweepMarksMemoryRecordStale(t *testing.T) {
	s, _, _, database, store := newTestScheduler(t)
	freq := db.FreqWeekly
	interval := 1
	id := addEntry(t, database, store, db.ScheduleEntry{
		TriggerAt:     sweepTime.Add(-time.Minute),
		Content:       "weekly review",
		Kind:          db.KindReminder,
		UserID:        "u1",
		RecurFreq:     &freq,
		RecurInterval: &interval,
	})

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	// Even though the entry keeps recurring, its scheduling record is stale
	// after the first fire.
	record, err := database.FindEmbeddingByRelated(memory.RelatedKindSchedule, id)
	if err != nil {
		t.Fatalf("finding record: %v", err)
	}
	if !record.Stale {
		t.Error("memory record not marked stale after fire")
	}
}

func TestFailedReminderStaysDue(t *testing.T) {
	s, msg, _, database, store := newTestScheduler(t)
	msg.err = errors.New("transport down")
	id := addEntry(t, database, store, db.ScheduleEntry{
		TriggerAt: sweepTime.Add(-time.Minute),
		Content:   "water the plants",
		Kind:      db.KindReminder,
		UserID:    "u1",
	})

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	entry, err := database.GetScheduleEntry(id)
	if err != nil {
		t.Fatalf("reloading entry: %v", err)
	}
	if !entry.Active || !entry.TriggerAt.Equal(sweepTime.Add(-time.Minute)) {
		t.Errorf("failed entry should be untouched, got %+v", entry)
	}

	// Once the transport recovers the entry fires on the next sweep.
	msg.err = nil
	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	entry, _ = database.GetScheduleEntry(id)
	if entry.Active {
		t.Error("entry still active after successful retry")
	}
}

func TestSelfPromptFires(t *testing.T) {
	s, msg, prompter, database, store := newTestScheduler(t)
	id := addEntry(t, database, store, db.ScheduleEntry{
		TriggerAt: sweepTime.Add(-time.Minute),
		Content:   "check in with the user about the trip",
		Kind:      db.KindSelfPrompt,
		UserID:    "u1",
	})

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if len(prompter.prompts) != 1 || prompter.prompts[0] != "check in with the user about the trip" {
		t.Errorf("prompts = %v", prompter.prompts)
	}
	if len(msg.messages()) != 0 {
		t.Errorf("a run that only messaged the user should relay nothing, sent %+v", msg.messages())
	}
	entry, _ := database.GetScheduleEntry(id)
	if entry.Active {
		t.Error("one-shot self-prompt still active")
	}
}

func TestSelfPromptWithoutToolCallsNotifiesUser(t *testing.T) {
	s, msg, prompter, database, store := newTestScheduler(t)
	prompter.outputs = nil
	addEntry(t, database, store, db.ScheduleEntry{
		TriggerAt: sweepTime.Add(-time.Minute),
		Content:   "do the thing",
		Kind:      db.KindSelfPrompt,
		UserID:    "u1",
	})

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	sent := msg.messages()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	if !strings.Contains(sent[0].Text, "do the thing") || sent[0].IncludeInContext {
		t.Errorf("notice = %+v", sent[0])
	}
}

func TestSelfPromptRelaysToolOutputs(t *testing.T) {
	s, msg, prompter, database, store := newTestScheduler(t)
	prompter.outputs = []string{tools.MessageSentConfirmation, "Created reminder with ID 2."}
	addEntry(t, database, store, db.ScheduleEntry{
		TriggerAt: sweepTime.Add(-time.Minute),
		Content:   "set up tomorrow's reminders",
		Kind:      db.KindSelfPrompt,
		UserID:    "u1",
	})

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	// The message_user confirmation is skipped; the reminder outcome is
	// relayed fenced and lands in the model context.
	sent := msg.messages()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1: %+v", len(sent), sent)
	}
	if sent[0].Text != "```\nCreated reminder with ID 2.\n```" || !sent[0].IncludeInContext {
		t.Errorf("relayed = %+v", sent[0])
	}
}

func TestSelfPromptErrorStillReconciles(t *testing.T) {
	s, _, prompter, database, store := newTestScheduler(t)
	prompter.err = errors.New("model down")
	id := addEntry(t, database, store, db.ScheduleEntry{
		TriggerAt: sweepTime.Add(-time.Minute),
		Content:   "do the thing",
		Kind:      db.KindSelfPrompt,
		UserID:    "u1",
	})

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	// The prompt was consumed; re-running it could duplicate side effects.
	entry, _ := database.GetScheduleEntry(id)
	if entry.Active {
		t.Error("failed self-prompt should still deactivate")
	}
}

func TestSweepIgnoresFutureEntries(t *testing.T) {
	s, msg, _, database, store := newTestScheduler(t)
	addEntry(t, database, store, db.ScheduleEntry{
		TriggerAt: sweepTime.Add(time.Hour),
		Content:   "not yet",
		Kind:      db.KindReminder,
		UserID:    "u1",
	})

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(msg.messages()) != 0 {
		t.Errorf("future entry fired: %+v", msg.messages())
	}
}

func TestConcurrentTickIsSkipped(t *testing.T) {
	s, msg, _, database, store := newTestScheduler(t)
	msg.gate = make(chan struct{})
	addEntry(t, database, store, db.ScheduleEntry{
		TriggerAt: sweepTime.Add(-time.Minute),
		Content:   "water the plants",
		Kind:      db.KindReminder,
		UserID:    "u1",
	})

	done := make(chan struct{})
	go func() {
		s.trySweep()
		close(done)
	}()

	// Wait until the first sweep is mid-flight (blocked in Send).
	for !s.sweeping.Load() {
		time.Sleep(time.Millisecond)
	}

	// A tick landing now must bail out instead of double-firing.
	s.trySweep()

	close(msg.gate)
	<-done

	if got := len(msg.messages()); got != 1 {
		t.Errorf("reminder fired %d times, want 1", got)
	}
}
