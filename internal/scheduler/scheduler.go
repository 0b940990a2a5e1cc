// Package scheduler sweeps the schedule store at a fixed interval and fires
// due entries: reminders go to the user, self-prompts go back into the agent.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/teodor/alva/internal/db"
	"github.com/teodor/alva/internal/memory"
	"github.com/teodor/alva/internal/messaging"
	"github.com/teodor/alva/internal/schedule"
	"github.com/teodor/alva/internal/tools"
)

// SelfPrompter consumes a fired self-prompt and returns the text of every
// tool result the run produced, in execution order.
type SelfPrompter interface {
	HandleSelfPrompt(ctx context.Context, prompt, userID string) ([]string, error)
}

type Scheduler struct {
	cron     *cron.Cron
	db       *db.DB
	memory   *memory.Store
	msg      messaging.Service
	agent    SelfPrompter
	interval time.Duration
	now      func() time.Time

	sweeping atomic.Bool
}

func New(database *db.DB, store *memory.Store, msg messaging.Service, agent SelfPrompter, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 20 * time.Second
	}
	return &Scheduler{
		cron:     cron.New(),
		db:       database,
		memory:   store,
		msg:      msg,
		agent:    agent,
		interval: interval,
		now:      time.Now,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), s.trySweep); err != nil {
		return fmt.Errorf("registering sweep: %w", err)
	}
	s.cron.Start()
	log.Printf("scheduler: sweeping every %s", s.interval)
	return nil
}

// Stop halts the ticker and returns once any in-flight sweep has finished.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	for s.sweeping.Load() {
		time.Sleep(10 * time.Millisecond)
	}
}

// trySweep runs at most one sweep at a time. A tick that lands while the
// previous sweep is still running is skipped; the entries stay due and the
// next tick picks them up.
func (s *Scheduler) trySweep() {
	if !s.sweeping.CompareAndSwap(false, true) {
		log.Println("scheduler: sweep still running, skipping tick")
		return
	}
	defer s.sweeping.Store(false)

	if err := s.Sweep(context.Background()); err != nil {
		log.Printf("scheduler: sweep: %v", err)
	}
}

// Sweep fires every due entry concurrently, then reconciles the outcomes in
// one batch: recurring entries advance past now, one-shots deactivate.
// Entries whose fire failed are left untouched and retried next sweep.
func (s *Scheduler) Sweep(ctx context.Context) error {
	now := s.now()
	due, err := s.db.ListDueScheduleEntries(now)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	outcomes := make([]*db.SweepResult, len(due))
	var wg sync.WaitGroup
	for i := range due {
		wg.Add(1)
		go func(i int, entry db.ScheduleEntry) {
			defer wg.Done()
			outcomes[i] = s.fire(ctx, &entry, now)
		}(i, due[i])
	}
	wg.Wait()

	var results []db.SweepResult
	for _, o := range outcomes {
		if o != nil {
			results = append(results, *o)
		}
	}
	if err := s.db.ApplySweepResults(results); err != nil {
		return err
	}
	log.Printf("scheduler: fired %d/%d due entries", len(results), len(due))
	return nil
}

// fire delivers one due entry. A nil return means the fire failed and the
// entry must not be reconciled.
// forwardOutputs relays a self-prompt run's tool results to the user so the
// model's autonomous actions stay visible. message_user confirmations are
// skipped; that text already reached the user directly.
func (s *Scheduler) forwardOutputs(ctx context.Context, e *db.ScheduleEntry, outputs []string) {
	for _, out := range outputs {
		if out == tools.MessageSentConfirmation {
			continue
		}
		text := fmt.Sprintf("```\n%s\n```", out)
		if err := s.msg.Send(ctx, text, messaging.PriorityNormal, e.UserID, true); err != nil {
			log.Printf("scheduler: relaying self-prompt %d output: %v", e.ID, err)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, e *db.ScheduleEntry, now time.Time) *db.SweepResult {
	switch e.Kind {
	case db.KindReminder:
		if err := s.msg.Send(ctx, e.Content, e.Priority, e.UserID, true); err != nil {
			log.Printf("scheduler: delivering reminder %d: %v", e.ID, err)
			return nil
		}
	case db.KindSelfPrompt:
		// Self-prompt failures are not retried: the model already consumed
		// the prompt, so re-running it would duplicate side effects.
		outputs, err := s.agent.HandleSelfPrompt(ctx, e.Content, e.UserID)
		if err != nil {
			log.Printf("scheduler: self-prompt %d: %v", e.ID, err)
		} else if len(outputs) == 0 {
			notice := fmt.Sprintf("A scheduled self-prompt ran but I took no action. The prompt was: '%s'", e.Content)
			if err := s.msg.Send(ctx, notice, messaging.PriorityNormal, e.UserID, false); err != nil {
				log.Printf("scheduler: self-prompt %d notice: %v", e.ID, err)
			}
		} else {
			s.forwardOutputs(ctx, e, outputs)
		}
	default:
		log.Printf("scheduler: entry %d has unknown kind %q, deactivating", e.ID, e.Kind)
		return &db.SweepResult{ID: e.ID, Deactivate: true}
	}

	// The backing memory record goes stale on first fire, recurring or not:
	// it describes the original scheduling, which has now happened.
	if record, err := s.memory.FindByRelated(ctx, memory.RelatedKindSchedule, e.ID); err == nil {
		if !record.Stale {
			if err := s.memory.MarkStale(ctx, record.ID); err != nil {
				log.Printf("scheduler: marking record for entry %d stale: %v", e.ID, err)
			}
		}
	}

	if !e.Recurring() {
		return &db.SweepResult{ID: e.ID, Deactivate: true}
	}
	next := e.TriggerAt
	for !next.After(now) {
		advanced := schedule.Advance(next, *e.RecurFreq, *e.RecurInterval)
		if !advanced.After(next) {
			log.Printf("scheduler: entry %d recurrence doesn't advance, deactivating", e.ID)
			return &db.SweepResult{ID: e.ID, Deactivate: true}
		}
		next = advanced
	}
	return &db.SweepResult{ID: e.ID, NextTrigger: next}
}
