package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// ScheduleEntry ties a cron expression to a workflow definition.
type ScheduleEntry struct {
	Name       string
	Expression string
	Definition *Definition
}

// Scheduler fires workflow definitions on cron schedules. Expressions are
// validated with gronx at registration; due checks run once a minute.
type Scheduler struct {
	mu      sync.Mutex
	gron    *gronx.Gronx
	entries map[string]ScheduleEntry
	engine  *Engine

	tick time.Duration
	now  func() time.Time
}

func NewScheduler(engine *Engine) *Scheduler {
	return &Scheduler{
		gron:    gronx.New(),
		entries: make(map[string]ScheduleEntry),
		engine:  engine,
		tick:    time.Minute,
		now:     time.Now,
	}
}

// Register adds a schedule. Invalid cron expressions are rejected.
func (s *Scheduler) Register(name, expression string, def *Definition) error {
	if !s.gron.IsValid(expression) {
		return fmt.Errorf("workflow scheduler: invalid cron expression %q", expression)
	}
	if _, err := Compile(def); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[name] = ScheduleEntry{Name: name, Expression: expression, Definition: def}
	return nil
}

// Unregister removes a schedule by name.
func (s *Scheduler) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, name)
}

// Entries returns registered schedules.
func (s *Scheduler) Entries() []ScheduleEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}

// Run ticks until ctx is cancelled, executing every due entry on each tick.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fireDue(ctx)
		}
	}
}

func (s *Scheduler) fireDue(ctx context.Context) {
	ref := s.now()

	s.mu.Lock()
	due := make([]ScheduleEntry, 0, 4)
	for _, e := range s.entries {
		ok, err := s.gron.IsDue(e.Expression, ref)
		if err != nil {
			slog.Warn("workflow.schedule_check_failed", "schedule", e.Name, "error", err)
			continue
		}
		if ok {
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		slog.Info("workflow.schedule_fired", "schedule", e.Name, "workflow", e.Definition.Name)
		go func(e ScheduleEntry) {
			if _, err := s.engine.Execute(ctx, e.Definition, ExecuteOptions{}); err != nil {
				slog.Error("workflow.scheduled_run_failed", "schedule", e.Name, "error", err)
			}
		}(e)
	}
}
