package db

import (
	"errors"
	"testing"
	"time"

	"github.com/teodor/alva/internal/messaging"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestScheduleEntryRoundtrip(t *testing.T) {
	d := openTestDB(t)
	freq := FreqWeekly
	interval := 2
	in := &ScheduleEntry{
		TriggerAt:     time.Date(2026, 9, 1, 8, 30, 0, 0, time.UTC),
		Content:       "take out the bins",
		Kind:          KindReminder,
		Priority:      messaging.PriorityPing,
		UserID:        "u1",
		RecurFreq:     &freq,
		RecurInterval: &interval,
	}
	id, err := d.CreateScheduleEntry(in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !in.Active {
		t.Error("create should mark the entry active")
	}

	got, err := d.GetScheduleEntry(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.TriggerAt.Equal(in.TriggerAt) || got.Content != in.Content || got.Kind != KindReminder {
		t.Errorf("got %+v", got)
	}
	if got.Priority != messaging.PriorityPing || got.UserID != "u1" {
		t.Errorf("got %+v", got)
	}
	if !got.Recurring() || *got.RecurFreq != FreqWeekly || *got.RecurInterval != 2 {
		t.Errorf("recurrence lost: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("created_at not set")
	}
}

func TestScheduleEntryDefaults(t *testing.T) {
	d := openTestDB(t)
	id, err := d.CreateScheduleEntry(&ScheduleEntry{
		TriggerAt: time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC),
		Content:   "one-shot",
		Kind:      KindSelfPrompt,
		UserID:    "u1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := d.GetScheduleEntry(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Priority != messaging.PriorityNormal {
		t.Errorf("priority = %q, want normal", got.Priority)
	}
	if got.Recurring() {
		t.Errorf("unexpected recurrence: %+v", got)
	}
}

func TestScheduleEntryNotFound(t *testing.T) {
	d := openTestDB(t)
	if _, err := d.GetScheduleEntry(42); !errors.Is(err, ErrNotFound) {
		t.Errorf("get: %v, want ErrNotFound", err)
	}
	if err := d.DeleteScheduleEntry(42); !errors.Is(err, ErrNotFound) {
		t.Errorf("delete: %v, want ErrNotFound", err)
	}
	if err := d.UpdateScheduleEntry(&ScheduleEntry{ID: 42, TriggerAt: time.Now(), Priority: messaging.PriorityNormal}); !errors.Is(err, ErrNotFound) {
		t.Errorf("update: %v, want ErrNotFound", err)
	}
}

func TestListDueScheduleEntries(t *testing.T) {
	d := openTestDB(t)
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	mk := func(trigger time.Time, content string) int64 {
		id, err := d.CreateScheduleEntry(&ScheduleEntry{
			TriggerAt: trigger, Content: content, Kind: KindReminder, UserID: "u1",
		})
		if err != nil {
			t.Fatalf("create %q: %v", content, err)
		}
		return id
	}
	mk(now.Add(-time.Hour), "past")
	mk(now, "exactly now")
	mk(now.Add(time.Hour), "future")
	inactiveID := mk(now.Add(-time.Hour), "inactive")
	if err := d.ApplySweepResults([]SweepResult{{ID: inactiveID, Deactivate: true}}); err != nil {
		t.Fatalf("deactivating: %v", err)
	}

	due, err := d.ListDueScheduleEntries(now)
	if err != nil {
		t.Fatalf("listing due: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("got %d due entries, want 2: %+v", len(due), due)
	}
	if due[0].Content != "past" || due[1].Content != "exactly now" {
		t.Errorf("due = %q, %q", due[0].Content, due[1].Content)
	}
}

func TestApplySweepResultsBatch(t *testing.T) {
	d := openTestDB(t)
	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	oneShot, _ := d.CreateScheduleEntry(&ScheduleEntry{TriggerAt: base, Content: "a", Kind: KindReminder, UserID: "u1"})
	recurring, _ := d.CreateScheduleEntry(&ScheduleEntry{TriggerAt: base, Content: "b", Kind: KindReminder, UserID: "u1"})

	next := base.AddDate(0, 0, 1)
	err := d.ApplySweepResults([]SweepResult{
		{ID: oneShot, Deactivate: true},
		{ID: recurring, NextTrigger: next},
	})
	if err != nil {
		t.Fatalf("applying: %v", err)
	}

	e1, _ := d.GetScheduleEntry(oneShot)
	if e1.Active {
		t.Error("one-shot still active")
	}
	e2, _ := d.GetScheduleEntry(recurring)
	if !e2.Active || !e2.TriggerAt.Equal(next) {
		t.Errorf("recurring = %+v", e2)
	}
}

func TestEmbeddingRoundtrip(t *testing.T) {
	d := openTestDB(t)
	rel := int64(7)
	in := &EmbeddingEntry{
		Context:     ContextUserMemory,
		Content:     "likes green tea",
		Vector:      []float32{0.25, -1, 3},
		RelatedKind: "schedule_entries",
		RelatedID:   &rel,
	}
	id, err := d.InsertEmbedding(in)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := d.GetEmbedding(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != in.Content || got.Context != ContextUserMemory || got.Stale {
		t.Errorf("got %+v", got)
	}
	if len(got.Vector) != 3 || got.Vector[0] != 0.25 || got.Vector[1] != -1 || got.Vector[2] != 3 {
		t.Errorf("vector = %v", got.Vector)
	}
	if got.RelatedKind != "schedule_entries" || got.RelatedID == nil || *got.RelatedID != 7 {
		t.Errorf("back-reference lost: %+v", got)
	}

	byRel, err := d.FindEmbeddingByRelated("schedule_entries", 7)
	if err != nil {
		t.Fatalf("find by related: %v", err)
	}
	if byRel.ID != id {
		t.Errorf("found %d, want %d", byRel.ID, id)
	}
}

func TestEmbeddingRelatedUniqueness(t *testing.T) {
	d := openTestDB(t)
	rel := int64(7)
	mk := func() error {
		_, err := d.InsertEmbedding(&EmbeddingEntry{
			Context: ContextAssistantAction, Content: "x", Vector: []float32{1},
			RelatedKind: "schedule_entries", RelatedID: &rel,
		})
		return err
	}
	if err := mk(); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := mk(); err == nil {
		t.Error("second insert for the same back-reference should fail")
	}

	// Unrelated records are not constrained.
	if _, err := d.InsertEmbedding(&EmbeddingEntry{Context: ContextUserMemory, Content: "y", Vector: []float32{1}}); err != nil {
		t.Errorf("unrelated insert: %v", err)
	}
	if _, err := d.InsertEmbedding(&EmbeddingEntry{Context: ContextUserMemory, Content: "z", Vector: []float32{1}}); err != nil {
		t.Errorf("second unrelated insert: %v", err)
	}
}

func TestListEmbeddingCandidatesFilters(t *testing.T) {
	d := openTestDB(t)
	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	mk := func(ctx EmbeddingContext, content string, createdAt time.Time, vector []float32) int64 {
		id, err := d.InsertEmbedding(&EmbeddingEntry{
			Context: ctx, Content: content, Vector: vector, CreatedAt: createdAt,
		})
		if err != nil {
			t.Fatalf("insert %q: %v", content, err)
		}
		return id
	}
	mk(ContextUserMemory, "old", base.AddDate(0, 0, -10), []float32{1})
	mk(ContextUserMemory, "recent", base, []float32{1})
	mk(ContextAssistantMemory, "other context", base, []float32{1})
	mk(ContextUserMemory, "no vector", base, nil)
	staleID := mk(ContextUserMemory, "stale", base, []float32{1})
	if err := d.MarkEmbeddingStale(staleID); err != nil {
		t.Fatalf("marking stale: %v", err)
	}

	got, err := d.ListEmbeddingCandidates(EmbeddingFilter{Context: ContextUserMemory, After: base.AddDate(0, 0, -1)})
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(got) != 1 || got[0].Content != "recent" {
		t.Errorf("candidates = %+v", got)
	}

	got, err = d.ListEmbeddingCandidates(EmbeddingFilter{Context: ContextUserMemory, IncludeStale: true})
	if err != nil {
		t.Fatalf("listing with stale: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("got %d candidates with stale, want 3", len(got))
	}
	for _, e := range got {
		if e.Content == "no vector" {
			t.Error("vectorless row leaked into candidates")
		}
	}
}

func TestUpdateEmbedding(t *testing.T) {
	d := openTestDB(t)
	id, err := d.InsertEmbedding(&EmbeddingEntry{Context: ContextUserMemory, Content: "before", Vector: []float32{1}})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	e, _ := d.GetEmbedding(id)
	e.Content = "after"
	e.Vector = []float32{2}
	if err := d.UpdateEmbedding(e); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := d.GetEmbedding(id)
	if got.Content != "after" || got.Vector[0] != 2 {
		t.Errorf("got %+v", got)
	}

	if err := d.DeleteEmbedding(id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := d.GetEmbedding(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete: %v", err)
	}
}
