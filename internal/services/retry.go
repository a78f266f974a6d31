package services

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/soochol/inflow/internal/inbound"
)

// restart replaces a listener that cancelled itself with a RetryableError.
// The caller has claimed the cancelled generation. The registry entry stays in
// place with health down while new instances are tried under the error's
// policy. The loop ends once an instance starts, the entry is deactivated, or
// the registry is closed.
func (r *ListenerRegistry) restart(al *activeListener, cause *inbound.RetryableError) {
	ctx := r.ctx
	key := al.def.Key()

	if al.isRemoved() {
		return
	}
	instance, path := al.detach(false)
	if path != "" {
		r.webhooks.Deregister(path, key)
	}
	if instance != nil {
		r.stopInstance(ctx, al.def, instance)
	}
	r.setHealth(al, inbound.HealthDown(cause.Err))

	policy := normalizePolicy(cause.Policy)
	for attempt := 0; attempt < policy.MaxRetries; attempt++ {
		if !sleepWithBackoff(ctx, policy, attempt) {
			return
		}
		if al.isRemoved() {
			return
		}

		r.setHealth(al, inbound.HealthUnknown())
		next, err := r.factory.CreateInstance(al.def.Type)
		if err == nil {
			err = r.start(ctx, al, next)
		}
		if err == nil {
			if al.isRunning() {
				slog.Info("registry: listener restarted",
					"listener", key.String(), "attempt", attempt+1)
			}
			return
		}
		slog.Warn("registry: listener restart failed",
			"listener", key.String(), "attempt", attempt+1, "err", err)
	}

	al.appendActivity(inbound.NewActivity(inbound.SeverityError, "lifecycle", "restart attempts exhausted"))
	slog.Error("registry: giving up on listener restart",
		"listener", key.String(), "attempts", policy.MaxRetries, "err", cause.Err)
}

func normalizePolicy(p inbound.RetryPolicy) inbound.RetryPolicy {
	def := inbound.DefaultRetryPolicy()
	if p.MaxRetries <= 0 {
		p.MaxRetries = def.MaxRetries
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = def.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = def.BackoffFactor
	}
	return p
}

// sleepWithBackoff waits for the backoff duration. It returns false if ctx was
// cancelled first.
func sleepWithBackoff(ctx context.Context, policy inbound.RetryPolicy, attempt int) bool {
	delay := calculateBackoff(policy, attempt)
	slog.Info("retry: backing off", "attempt", attempt+1, "delay", delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// calculateBackoff computes the delay for a given attempt using exponential backoff.
func calculateBackoff(policy inbound.RetryPolicy, attempt int) time.Duration {
	delay := float64(policy.InitialDelay) * math.Pow(policy.BackoffFactor, float64(attempt))
	if time.Duration(delay) > policy.MaxDelay {
		return policy.MaxDelay
	}
	return time.Duration(delay)
}
