package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/teodor/alva/internal/messaging"
)

type ScheduleEntryKind string

const (
	KindReminder   ScheduleEntryKind = "reminder"
	KindSelfPrompt ScheduleEntryKind = "self_prompt"
)

// Frequency is the unit of a recurrence rule.
type Frequency string

const (
	FreqDaily   Frequency = "daily"
	FreqWeekly  Frequency = "weekly"
	FreqMonthly Frequency = "monthly"
	FreqYearly  Frequency = "yearly"
)

// ScheduleEntry is a persisted time-trigger: either a reminder delivered to
// the user or a self-prompt fed back into the agent. Trigger times are
// always stored in UTC. An entry either has both recurrence fields set or
// neither.
type ScheduleEntry struct {
	ID            int64              `json:"id"`
	CreatedAt     time.Time          `json:"created_at"`
	TriggerAt     time.Time          `json:"trigger_at"`
	Content       string             `json:"content"`
	Kind          ScheduleEntryKind  `json:"kind"`
	Active        bool               `json:"active"`
	Priority      messaging.Priority `json:"priority"`
	UserID        string             `json:"user_id"`
	RecurFreq     *Frequency         `json:"recur_freq,omitempty"`
	RecurInterval *int               `json:"recur_interval,omitempty"`
}

// Recurring reports whether the entry carries a recurrence rule.
func (e *ScheduleEntry) Recurring() bool {
	return e.RecurFreq != nil && e.RecurInterval != nil
}

const scheduleColumns = "id, created_at, trigger_at, content, kind, active, priority, user_id, recur_freq, recur_interval"

// CreateScheduleEntry inserts a new entry and returns its ID.
func (d *DB) CreateScheduleEntry(e *ScheduleEntry) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Priority == "" {
		e.Priority = messaging.PriorityNormal
	}
	e.Active = true
	res, err := d.conn.Exec(
		"INSERT INTO schedule_entries (created_at, trigger_at, content, kind, active, priority, user_id, recur_freq, recur_interval) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		formatTime(e.CreatedAt), formatTime(e.TriggerAt), e.Content, string(e.Kind),
		boolToInt(true), string(e.Priority), e.UserID, freqArg(e.RecurFreq), intArg(e.RecurInterval),
	)
	if err != nil {
		return 0, fmt.Errorf("creating schedule entry: %w", err)
	}
	return res.LastInsertId()
}

// GetScheduleEntry returns the entry with the given ID, or ErrNotFound.
func (d *DB) GetScheduleEntry(id int64) (*ScheduleEntry, error) {
	row := d.conn.QueryRow("SELECT "+scheduleColumns+" FROM schedule_entries WHERE id = ?", id)
	e, err := scanScheduleEntry(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("schedule entry %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting schedule entry %d: %w", id, err)
	}
	return e, nil
}

// UpdateScheduleEntry writes all mutable fields of the entry back by ID.
func (d *DB) UpdateScheduleEntry(e *ScheduleEntry) error {
	res, err := d.conn.Exec(
		"UPDATE schedule_entries SET trigger_at = ?, content = ?, active = ?, priority = ?, recur_freq = ?, recur_interval = ? WHERE id = ?",
		formatTime(e.TriggerAt), e.Content, boolToInt(e.Active), string(e.Priority),
		freqArg(e.RecurFreq), intArg(e.RecurInterval), e.ID,
	)
	if err != nil {
		return fmt.Errorf("updating schedule entry %d: %w", e.ID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("schedule entry %d: %w", e.ID, ErrNotFound)
	}
	return nil
}

// DeleteScheduleEntry removes an entry by ID.
func (d *DB) DeleteScheduleEntry(id int64) error {
	res, err := d.conn.Exec("DELETE FROM schedule_entries WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting schedule entry %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("schedule entry %d: %w", id, ErrNotFound)
	}
	return nil
}

// ListDueScheduleEntries returns active entries whose trigger time is at or
// before now.
func (d *DB) ListDueScheduleEntries(now time.Time) ([]ScheduleEntry, error) {
	rows, err := d.conn.Query(
		"SELECT "+scheduleColumns+" FROM schedule_entries WHERE active = 1 AND trigger_at <= ? ORDER BY trigger_at ASC",
		formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("listing due schedule entries: %w", err)
	}
	defer rows.Close()
	return scanScheduleEntries(rows)
}

// ListScheduleEntries returns entries for a user, optionally only active ones.
func (d *DB) ListScheduleEntries(kind ScheduleEntryKind, activeOnly bool) ([]ScheduleEntry, error) {
	q := "SELECT " + scheduleColumns + " FROM schedule_entries WHERE kind = ?"
	if activeOnly {
		q += " AND active = 1"
	}
	q += " ORDER BY trigger_at ASC"
	rows, err := d.conn.Query(q, string(kind))
	if err != nil {
		return nil, fmt.Errorf("listing schedule entries: %w", err)
	}
	defer rows.Close()
	return scanScheduleEntries(rows)
}

// SweepResult records the outcome of one fired entry: either a new trigger
// time (recurring) or deactivation (one-shot).
type SweepResult struct {
	ID          int64
	NextTrigger time.Time
	Deactivate  bool
}

// ApplySweepResults persists a batch of sweep outcomes in one transaction.
func (d *DB) ApplySweepResults(results []SweepResult) error {
	if len(results) == 0 {
		return nil
	}
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("beginning sweep transaction: %w", err)
	}
	defer tx.Rollback()

	for _, r := range results {
		if r.Deactivate {
			if _, err := tx.Exec("UPDATE schedule_entries SET active = 0 WHERE id = ?", r.ID); err != nil {
				return fmt.Errorf("deactivating schedule entry %d: %w", r.ID, err)
			}
			continue
		}
		if _, err := tx.Exec("UPDATE schedule_entries SET trigger_at = ? WHERE id = ?", formatTime(r.NextTrigger), r.ID); err != nil {
			return fmt.Errorf("advancing schedule entry %d: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing sweep results: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScheduleEntry(row rowScanner) (*ScheduleEntry, error) {
	var e ScheduleEntry
	var createdAt, triggerAt, kind, priority string
	var active int
	var recurFreq sql.NullString
	var recurInterval sql.NullInt64
	err := row.Scan(&e.ID, &createdAt, &triggerAt, &e.Content, &kind, &active, &priority, &e.UserID, &recurFreq, &recurInterval)
	if err != nil {
		return nil, err
	}
	e.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	e.TriggerAt, err = parseTime(triggerAt)
	if err != nil {
		return nil, fmt.Errorf("parsing trigger_at: %w", err)
	}
	e.Kind = ScheduleEntryKind(kind)
	e.Active = active == 1
	e.Priority = messaging.Priority(priority)
	if recurFreq.Valid {
		f := Frequency(recurFreq.String)
		e.RecurFreq = &f
	}
	if recurInterval.Valid {
		n := int(recurInterval.Int64)
		e.RecurInterval = &n
	}
	return &e, nil
}

func scanScheduleEntries(rows *sql.Rows) ([]ScheduleEntry, error) {
	var out []ScheduleEntry
	for rows.Next() {
		e, err := scanScheduleEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning schedule entry: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func freqArg(f *Frequency) any {
	if f == nil {
		return nil
	}
	return string(*f)
}

func intArg(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}
