package listeners

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/soochol/inflow/internal/inbound"
	"github.com/soochol/inflow/internal/inbound/ports"
	"github.com/soochol/inflow/internal/services/scheduler"
)

const timerJob = "tick"

// TimerListener starts processes on a cron schedule.
//
// Properties: cron (required, 5 or 6 fields or a descriptor such as
// "@every 1h") and timezone (IANA name, default UTC).
type TimerListener struct {
	mu     sync.Mutex
	sched  *scheduler.Scheduler
	cancel context.CancelFunc
}

func NewTimerListener() *TimerListener {
	return &TimerListener{}
}

func (l *TimerListener) Activate(_ context.Context, lc ports.ListenerContext) error {
	def := lc.Definition()
	expr := def.StringProperty("cron", "")
	if expr == "" {
		return errors.New("timer: cron property is required")
	}
	tz := def.StringProperty("timezone", "")

	ctx, cancel := context.WithCancel(context.Background())
	sched := scheduler.New()
	fire := func() {
		firedAt := time.Now().UTC()
		result, err := lc.Correlate(ctx, map[string]any{
			"fired_at": firedAt.Format(time.RFC3339),
			"cron":     expr,
		})
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("timer: correlation failed", "key", def.Key().String(), "err", err)
			}
			return
		}
		if next, ok := sched.Next(timerJob); ok {
			lc.ReportHealth(inbound.HealthUp(map[string]any{
				"last_fired": firedAt,
				"next_fire":  next,
			}))
		}
		slog.Debug("timer: fired", "key", def.Key().String(), "activated", result.Activated)
	}
	if err := sched.Add(timerJob, expr, tz, fire); err != nil {
		cancel()
		return fmt.Errorf("timer: %w", err)
	}
	sched.Start()

	details := map[string]any{"cron": expr}
	if next, ok := sched.Next(timerJob); ok {
		details["next_fire"] = next
	}
	lc.ReportHealth(inbound.HealthUp(details))

	l.mu.Lock()
	l.sched, l.cancel = sched, cancel
	l.mu.Unlock()
	return nil
}

func (l *TimerListener) Deactivate(context.Context) error {
	l.mu.Lock()
	sched, cancel := l.sched, l.cancel
	l.sched, l.cancel = nil, nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sched != nil {
		sched.Stop()
	}
	return nil
}
