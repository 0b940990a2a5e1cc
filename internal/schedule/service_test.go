package schedule

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/teodor/alva/internal/db"
	"github.com/teodor/alva/internal/memory"
	"github.com/teodor/alva/internal/messaging"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text))}, nil
}

func newTestService(t *testing.T) (*Service, *db.DB, *memory.Store) {
	t.Helper()
	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	store := memory.New(database, fakeEmbedder{})
	return New(database, store, time.UTC), database, store
}

func TestAdvance(t *testing.T) {
	base := time.Date(2026, 1, 31, 9, 0, 0, 0, time.UTC)
	cases := []struct {
		freq     db.Frequency
		interval int
		want     time.Time
	}{
		{db.FreqDaily, 1, time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)},
		{db.FreqDaily, 3, time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)},
		{db.FreqWeekly, 1, time.Date(2026, 2, 7, 9, 0, 0, 0, time.UTC)},
		{db.FreqWeekly, 2, time.Date(2026, 2, 14, 9, 0, 0, 0, time.UTC)},
		// Jan 31 + 1 month normalizes into March, AddDate semantics.
		{db.FreqMonthly, 1, time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)},
		{db.FreqYearly, 1, time.Date(2027, 1, 31, 9, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got := Advance(base, tc.freq, tc.interval)
		if !got.Equal(tc.want) {
			t.Errorf("Advance(%s, %d) = %v, want %v", tc.freq, tc.interval, got, tc.want)
		}
	}
}

func TestCreateReminderWritesMemoryRecord(t *testing.T) {
	svc, database, _ := newTestService(t)
	ctx := context.Background()
	trigger := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	id, err := svc.CreateReminder(ctx, trigger, "water the plants", messaging.PriorityNormal,
		&Recurrence{Freq: db.FreqDaily, Interval: 3}, "u1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	entry, err := database.GetScheduleEntry(id)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if entry.Kind != db.KindReminder || !entry.Recurring() || *entry.RecurInterval != 3 {
		t.Errorf("entry = %+v", entry)
	}

	record, err := database.FindEmbeddingByRelated(memory.RelatedKindSchedule, id)
	if err != nil {
		t.Fatalf("find record: %v", err)
	}
	if record.Context != db.ContextAssistantAction {
		t.Errorf("record context = %q", record.Context)
	}
	if !strings.Contains(record.Content, "water the plants") || !strings.Contains(record.Content, "every 3 day(s)") {
		t.Errorf("record content = %q", record.Content)
	}
	if !strings.HasPrefix(record.Content, "Reminder scheduled") {
		t.Errorf("record content = %q", record.Content)
	}
}

func TestCreateSelfPromptRecord(t *testing.T) {
	svc, database, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.CreateSelfPrompt(ctx, time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC),
		"check the weather and warn the user", nil, "u1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	record, err := database.FindEmbeddingByRelated(memory.RelatedKindSchedule, id)
	if err != nil {
		t.Fatalf("find record: %v", err)
	}
	if !strings.HasPrefix(record.Content, "Self-prompt scheduled") {
		t.Errorf("record content = %q", record.Content)
	}
}

func TestUpdateRefreshesMemoryRecord(t *testing.T) {
	svc, database, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.CreateReminder(ctx, time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC),
		"old text", messaging.PriorityNormal, nil, "u1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	newContent := "new text"
	if _, err := svc.Update(ctx, id, db.KindReminder, EntryUpdate{Content: &newContent}); err != nil {
		t.Fatalf("update: %v", err)
	}

	entry, _ := database.GetScheduleEntry(id)
	if entry.Content != "new text" {
		t.Errorf("entry content = %q", entry.Content)
	}
	record, err := database.FindEmbeddingByRelated(memory.RelatedKindSchedule, id)
	if err != nil {
		t.Fatalf("find record: %v", err)
	}
	if !strings.Contains(record.Content, "new text") || strings.Contains(record.Content, "old text") {
		t.Errorf("record content = %q", record.Content)
	}
}

func TestUpdateRejectsKindMismatch(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.CreateSelfPrompt(ctx, time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC), "task", nil, "u1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	content := "x"
	if _, err := svc.Update(ctx, id, db.KindReminder, EntryUpdate{Content: &content}); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("update: %v, want ErrNotFound", err)
	}
	if _, err := svc.Remove(ctx, id, db.KindReminder); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("remove: %v, want ErrNotFound", err)
	}
}

func TestRemoveDeletesMemoryRecord(t *testing.T) {
	svc, database, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.CreateReminder(ctx, time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC),
		"short-lived", messaging.PriorityNormal, nil, "u1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	removed, err := svc.Remove(ctx, id, db.KindReminder)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if removed.Content != "short-lived" {
		t.Errorf("removed = %+v", removed)
	}
	if _, err := database.GetScheduleEntry(id); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("entry survived: %v", err)
	}
	if _, err := database.FindEmbeddingByRelated(memory.RelatedKindSchedule, id); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("record survived: %v", err)
	}
}

func TestDescribe(t *testing.T) {
	trigger := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	got := Describe(trigger, "water the plants", nil, time.UTC)
	if got != "Trigger at 2026-09-01 10:00 with message: 'water the plants'" {
		t.Errorf("got %q", got)
	}

	got = Describe(trigger, "stretch", &Recurrence{Freq: db.FreqWeekly, Interval: 2}, time.UTC)
	if got != "Initial trigger at 2026-09-01 10:00 and then every 2 week(s) with message: 'stretch'" {
		t.Errorf("got %q", got)
	}
}
