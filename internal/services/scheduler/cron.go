// Package scheduler runs named cron jobs. It backs the periodic deployment
// import, the subscription scan and the timer listeners.
package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrJobExists is returned when a job name is already registered.
var ErrJobExists = errors.New("job already scheduled")

// ParseCronExpr tries 6-field (with seconds) then 5-field (standard) parsing.
// Descriptors such as @every 30s and @hourly are accepted by both.
// If timezone is non-empty and non-UTC, it is applied via the CRON_TZ= prefix.
func ParseCronExpr(expr string, timezone string) (cron.Schedule, error) {
	if timezone != "" && timezone != "UTC" {
		if _, err := time.LoadLocation(timezone); err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", timezone, err)
		}
		expr = "CRON_TZ=" + timezone + " " + expr
	}
	parser6 := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser6.Parse(expr)
	if err == nil {
		return sched, nil
	}
	parser5 := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return parser5.Parse(expr)
}

// Scheduler wraps robfig/cron with jobs addressed by name.
type Scheduler struct {
	cron     *cron.Cron
	mu       sync.Mutex
	entryMap map[string]cron.EntryID // job name → cron entry
	started  bool
}

// New creates a stopped Scheduler.
func New() *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DiscardLogger),
			cron.SkipIfStillRunning(cron.DiscardLogger),
		)),
		entryMap: make(map[string]cron.EntryID),
	}
}

// Add registers fn under name on the given cron expression.
func (s *Scheduler) Add(name, expr, timezone string, fn func()) error {
	sched, err := ParseCronExpr(expr, timezone)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entryMap[name]; ok {
		return fmt.Errorf("%w: %s", ErrJobExists, name)
	}
	s.entryMap[name] = s.cron.Schedule(sched, cron.FuncJob(fn))

	slog.Debug("scheduler: registered cron job", "job", name, "cron", expr)
	return nil
}

// Remove unregisters the job. Unknown names are ignored.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entryMap[name]; ok {
		s.cron.Remove(entryID)
		delete(s.entryMap, name)
	}
}

// Next reports the next activation of the job.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	entryID, ok := s.entryMap[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	entry := s.cron.Entry(entryID)
	if !entry.Valid() {
		return time.Time{}, false
	}
	if entry.Next.IsZero() {
		return entry.Schedule.Next(time.Now()), true
	}
	return entry.Next, true
}

// Len returns the number of registered jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entryMap)
}

// Start begins running jobs. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	slog.Info("scheduler: started")
}

// Stop halts the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("scheduler: stopped")
}
