// Package schedule manages schedule entries (reminders and self-prompts) and
// keeps each entry's backing memory record in sync with it.
package schedule

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/teodor/alva/internal/db"
	"github.com/teodor/alva/internal/memory"
	"github.com/teodor/alva/internal/messaging"
)

// Recurrence repeats an entry every Interval units of Freq.
type Recurrence struct {
	Freq     db.Frequency
	Interval int
}

// Advance moves a trigger time forward by one recurrence step. Month and
// year steps are calendar-aware.
func Advance(t time.Time, freq db.Frequency, interval int) time.Time {
	switch freq {
	case db.FreqDaily:
		return t.AddDate(0, 0, interval)
	case db.FreqWeekly:
		return t.AddDate(0, 0, interval*7)
	case db.FreqMonthly:
		return t.AddDate(0, interval, 0)
	case db.FreqYearly:
		return t.AddDate(interval, 0, 0)
	}
	return t
}

type Service struct {
	db     *db.DB
	memory *memory.Store
	tz     *time.Location
}

func New(database *db.DB, store *memory.Store, tz *time.Location) *Service {
	if tz == nil {
		tz = time.Local
	}
	return &Service{db: database, memory: store, tz: tz}
}

// CreateReminder persists a reminder entry plus its AssistantAction memory
// record and returns the entry ID.
func (s *Service) CreateReminder(ctx context.Context, triggerAt time.Time, message string, priority messaging.Priority, rec *Recurrence, userID string) (int64, error) {
	return s.createEntry(ctx, db.KindReminder, triggerAt, message, priority, rec, userID)
}

// CreateSelfPrompt persists a self-prompt entry plus its memory record.
func (s *Service) CreateSelfPrompt(ctx context.Context, triggerAt time.Time, prompt string, rec *Recurrence, userID string) (int64, error) {
	return s.createEntry(ctx, db.KindSelfPrompt, triggerAt, prompt, messaging.PriorityNormal, rec, userID)
}

func (s *Service) createEntry(ctx context.Context, kind db.ScheduleEntryKind, triggerAt time.Time, content string, priority messaging.Priority, rec *Recurrence, userID string) (int64, error) {
	entry := &db.ScheduleEntry{
		TriggerAt: triggerAt.UTC(),
		Content:   content,
		Kind:      kind,
		Priority:  priority,
		UserID:    userID,
	}
	if rec != nil {
		f := rec.Freq
		n := rec.Interval
		if n <= 0 {
			n = 1
		}
		entry.RecurFreq = &f
		entry.RecurInterval = &n
	}

	id, err := s.db.CreateScheduleEntry(entry)
	if err != nil {
		return 0, err
	}

	// The memory record is best-effort: a failed embedding should not lose
	// the schedule entry itself.
	_, err = s.memory.Add(ctx, db.ContextAssistantAction,
		s.describeEntry(kind, content, triggerAt, rec),
		&memory.Ref{Kind: memory.RelatedKindSchedule, ID: id}, nil)
	if err != nil {
		log.Printf("schedule: memory record for entry %d: %v", id, err)
	}

	return id, nil
}

// ListReminders returns the active reminders, soonest first.
func (s *Service) ListReminders(_ context.Context) ([]db.ScheduleEntry, error) {
	return s.db.ListScheduleEntries(db.KindReminder, true)
}

// EntryUpdate carries the mutable fields of an entry; nil means unchanged.
type EntryUpdate struct {
	TriggerAt  *time.Time
	Content    *string
	Priority   *messaging.Priority
	Recurrence *Recurrence
}

// Update applies an update to an entry of the expected kind and refreshes its
// memory record.
func (s *Service) Update(ctx context.Context, id int64, kind db.ScheduleEntryKind, upd EntryUpdate) (*db.ScheduleEntry, error) {
	entry, err := s.db.GetScheduleEntry(id)
	if err != nil {
		return nil, err
	}
	if entry.Kind != kind {
		return nil, fmt.Errorf("schedule entry %d is not a %s: %w", id, kind, db.ErrNotFound)
	}

	if upd.TriggerAt != nil {
		entry.TriggerAt = upd.TriggerAt.UTC()
	}
	if upd.Content != nil {
		entry.Content = *upd.Content
	}
	if upd.Priority != nil {
		entry.Priority = *upd.Priority
	}
	if upd.Recurrence != nil {
		f := upd.Recurrence.Freq
		n := upd.Recurrence.Interval
		entry.RecurFreq = &f
		entry.RecurInterval = &n
	}
	if err := s.db.UpdateScheduleEntry(entry); err != nil {
		return nil, err
	}

	var rec *Recurrence
	if entry.Recurring() {
		rec = &Recurrence{Freq: *entry.RecurFreq, Interval: *entry.RecurInterval}
	}
	record, err := s.memory.FindByRelated(ctx, memory.RelatedKindSchedule, id)
	if err == nil {
		if _, err := s.memory.Update(ctx, record.ID, s.describeEntry(entry.Kind, entry.Content, entry.TriggerAt, rec)); err != nil {
			log.Printf("schedule: refreshing memory record for entry %d: %v", id, err)
		}
	}

	return entry, nil
}

// Remove deletes an entry of the expected kind along with its memory record
// and returns the deleted entry.
func (s *Service) Remove(ctx context.Context, id int64, kind db.ScheduleEntryKind) (*db.ScheduleEntry, error) {
	entry, err := s.db.GetScheduleEntry(id)
	if err != nil {
		return nil, err
	}
	if entry.Kind != kind {
		return nil, fmt.Errorf("schedule entry %d is not a %s: %w", id, kind, db.ErrNotFound)
	}
	if err := s.db.DeleteScheduleEntry(id); err != nil {
		return nil, err
	}
	record, err := s.memory.FindByRelated(ctx, memory.RelatedKindSchedule, id)
	if err == nil {
		if _, err := s.memory.Remove(ctx, record.ID); err != nil {
			log.Printf("schedule: removing memory record for entry %d: %v", id, err)
		}
	}
	return entry, nil
}

// Describe renders an entry's scheduling in human-readable form for user
// notices.
func Describe(triggerAt time.Time, message string, rec *Recurrence, tz *time.Location) string {
	local := triggerAt.In(tz).Format("2006-01-02 15:04")
	if rec == nil {
		return fmt.Sprintf("Trigger at %s with message: '%s'", local, message)
	}
	return fmt.Sprintf("Initial trigger at %s and then every %d %s with message: '%s'",
		local, rec.Interval, freqUnit(rec.Freq), message)
}

func (s *Service) describeEntry(kind db.ScheduleEntryKind, content string, triggerAt time.Time, rec *Recurrence) string {
	noun := "Reminder"
	if kind == db.KindSelfPrompt {
		noun = "Self-prompt"
	}
	local := triggerAt.In(s.tz).Format("2006-01-02T15:04:05")
	if rec == nil {
		return fmt.Sprintf("%s scheduled for %s with prompt: '%s'.", noun, local, content)
	}
	return fmt.Sprintf("%s scheduled for initial trigger at %s and then every %d %s with prompt: '%s'.",
		noun, local, rec.Interval, freqUnit(rec.Freq), content)
}

func freqUnit(f db.Frequency) string {
	switch f {
	case db.FreqDaily:
		return "day(s)"
	case db.FreqWeekly:
		return "week(s)"
	case db.FreqMonthly:
		return "month(s)"
	case db.FreqYearly:
		return "year(s)"
	}
	return string(f)
}
