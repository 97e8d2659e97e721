package trigger

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/simon020286/nightly/config"
	"github.com/simon020286/nightly/logger"
	"github.com/simon020286/nightly/models"
)

// Scheduler fires the `on.schedule` entries of registered workflows. Times are UTC.
type Scheduler struct {
	cron       *cron.Cron
	dispatcher Dispatcher
	ref        string

	mu      sync.Mutex
	entries map[string][]scheduled
}

type scheduled struct {
	id   cron.EntryID
	expr string
}

// Entry describes one registered schedule
type Entry struct {
	Workflow string
	Cron     string
	Next     time.Time
}

// NewScheduler creates a scheduler submitting triggers for ref to d
func NewScheduler(d Dispatcher, ref string) *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLogger{}),
		),
		dispatcher: d,
		ref:        NormalizeRef(ref, DefaultRef),
		entries:    map[string][]scheduled{},
	}
}

// Register adds every schedule of wf, replacing a previous registration of the same workflow
func (s *Scheduler) Register(wf *config.WorkflowConfig) error {
	s.Unregister(wf.Name)

	s.mu.Lock()
	defer s.mu.Unlock()

	var added []scheduled
	for _, sc := range wf.On.Schedule {
		name := wf.Name
		id, err := s.cron.AddFunc(sc.Cron, func() { s.fire(name) })
		if err != nil {
			for _, e := range added {
				s.cron.Remove(e.id)
			}
			return fmt.Errorf("workflow '%s': invalid schedule '%s': %w", wf.Name, sc.Cron, err)
		}
		added = append(added, scheduled{id: id, expr: sc.Cron})
	}
	if len(added) > 0 {
		s.entries[wf.Name] = added
	}
	return nil
}

// Unregister removes the schedules of workflow
func (s *Scheduler) Unregister(workflow string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries[workflow] {
		s.cron.Remove(e.id)
	}
	delete(s.entries, workflow)
}

// Entries lists the registered schedules sorted by workflow
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var out []Entry
	for workflow, list := range s.entries {
		for _, e := range list {
			entry := Entry{Workflow: workflow, Cron: e.expr}
			if ce := s.cron.Entry(e.id); ce.Schedule != nil {
				entry.Next = ce.Schedule.Next(now)
			}
			out = append(out, entry)
		}
	}
	slices.SortFunc(out, func(a, b Entry) int {
		if a.Workflow != b.Workflow {
			if a.Workflow < b.Workflow {
				return -1
			}
			return 1
		}
		return a.Next.Compare(b.Next)
	})
	return out
}

// Start runs the scheduler in the background
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler; the returned context is done once running jobs have returned
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) fire(workflow string) {
	t := Trigger{Workflow: workflow, Event: models.EventSchedule, Ref: s.ref}
	runID, err := s.dispatcher.Submit(t)
	if err != nil {
		logger.Error("scheduled run rejected", "workflow", workflow, "error", err)
		return
	}
	logger.Info("scheduled run submitted", "workflow", workflow, "run_id", runID)
}

// NextAfter returns the next activation of expr after t, in UTC
func NextAfter(expr string, t time.Time) (time.Time, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(t.UTC()), nil
}

// cronLogger routes cron's own logging to the charm logger
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
